package trie

import (
	"sync"
	"unicode/utf8"

	"github.com/triekv/triekv/internal/model"
)

// Status is the outcome of a lookup
type Status int

const (
	// NotFound means no live or deleted key exists at the path
	NotFound Status = iota
	// Found means a live value was returned
	Found
	// Tombstoned means the key existed and was deleted
	Tombstoned
)

// String implements fmt.Stringer
func (s Status) String() string {
	switch s {
	case Found:
		return "found"
	case Tombstoned:
		return "tombstoned"
	default:
		return "not_found"
	}
}

// node is keyed by one character of a top-level key. Children are owned by the parent.
type node struct {
	children   map[rune]*node
	value      model.Value
	isLeaf     bool
	tombstoned bool
}

func newNode() *node {
	return &node{children: make(map[rune]*node)}
}

// dead reports whether the node carries nothing reachable: no children and either
// a tombstone or no key at all.
func (n *node) dead() bool {
	return len(n.children) == 0 && (n.tombstoned || !n.isLeaf)
}

// Stats summarises the trie contents
type Stats struct {
	Keys       int
	Nodes      int
	Tombstones int
}

// Trie owns the key namespace of a server process. All operations are
// serialized by a single read/write lock around the root.
type Trie struct {
	mu     sync.RWMutex
	root   *node
	nodes  int
	keys   int
	marked int

	// graveyard remembers deleted keys whose nodes were pruned so that Get
	// keeps reporting Tombstoned instead of NotFound.
	graveyard map[string]struct{}
}

// New creates an empty trie
func New() *Trie {
	return &Trie{
		root:      newNode(),
		graveyard: make(map[string]struct{}),
	}
}

// Put stores value under key, overwriting any prior value and clearing a tombstone
func (t *Trie) Put(key string, value model.Value) {
	t.mu.Lock()
	defer t.mu.Unlock()

	current := t.root
	for _, ch := range key {
		child, ok := current.children[ch]
		if !ok {
			child = newNode()
			current.children[ch] = child
			t.nodes++
		}
		current = child
	}

	if current.tombstoned {
		t.marked--
	}
	if !current.isLeaf || current.tombstoned {
		t.keys++
	}
	current.isLeaf = true
	current.tombstoned = false
	current.value = value
	delete(t.graveyard, key)
}

// Get returns the value stored under key
func (t *Trie) Get(key string) (model.Value, Status) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.get(key)
}

func (t *Trie) get(key string) (model.Value, Status) {
	current := t.root
	for _, ch := range key {
		child, ok := current.children[ch]
		if !ok {
			return model.Value{}, t.buried(key)
		}
		current = child
	}

	if !current.isLeaf {
		return model.Value{}, t.buried(key)
	}
	if current.tombstoned {
		return model.Value{}, Tombstoned
	}
	return current.value, Found
}

func (t *Trie) buried(key string) Status {
	if _, ok := t.graveyard[key]; ok {
		return Tombstoned
	}
	return NotFound
}

// Delete tombstones key and prunes the dead nodes on its path. Deleting an
// absent or already deleted key is a no-op.
func (t *Trie) Delete(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	type step struct {
		parent *node
		ch     rune
		end    int
	}

	current := t.root
	path := make([]step, 0, len(key))
	for i, ch := range key {
		child, ok := current.children[ch]
		if !ok {
			return
		}
		path = append(path, step{parent: current, ch: ch, end: i + utf8.RuneLen(ch)})
		current = child
	}

	if !current.isLeaf || current.tombstoned {
		return
	}

	current.tombstoned = true
	current.value = model.Value{}
	t.keys--
	t.marked++

	// Walk back toward the root removing nodes that became dead weight.
	// A node with remaining children or a live key stops the walk.
	for i := len(path) - 1; i >= 0; i-- {
		child := path[i].parent.children[path[i].ch]
		if !child.dead() {
			break
		}
		if child.tombstoned {
			t.marked--
			t.graveyard[key[:path[i].end]] = struct{}{}
		}
		delete(path[i].parent.children, path[i].ch)
		t.nodes--
	}
}

// Query resolves a keypath: the root segment through Get, the remaining
// segments through nested mapping fields. The raw substructure is returned.
func (t *Trie) Query(path model.KeyPath) (model.Value, bool) {
	if len(path) == 0 {
		return model.Value{}, false
	}

	t.mu.RLock()
	value, status := t.get(path.Root())
	t.mu.RUnlock()

	if status != Found {
		return model.Value{}, false
	}

	for _, field := range path.Fields() {
		child, ok := value.Field(field)
		if !ok {
			return model.Value{}, false
		}
		value = child
	}
	return value, true
}

// Stats returns key, node and tombstone counts
func (t *Trie) Stats() Stats {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return Stats{
		Keys:       t.keys,
		Nodes:      t.nodes,
		Tombstones: t.marked + len(t.graveyard),
	}
}

// DeadNodes counts reachable nodes that are childless and carry no live key.
// A healthy trie always reports zero.
func (t *Trie) DeadNodes() int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var walk func(n *node) int
	walk = func(n *node) int {
		count := 0
		for _, child := range n.children {
			if child.dead() {
				count++
			}
			count += walk(child)
		}
		return count
	}
	return walk(t.root)
}
