package model

import (
	"fmt"
	"net"
	"strconv"
	"strings"
)

// KeyPathSeparator splits a keypath into segments
const KeyPathSeparator = "."

// KeyPath addresses a value: the first segment is a top-level trie key,
// the rest are nested mapping fields inside the stored value.
type KeyPath []string

// ParseKeyPath splits a dotted path. Empty paths and empty segments are rejected.
func ParseKeyPath(path string) (KeyPath, error) {
	if path == "" {
		return nil, fmt.Errorf("keypath is empty")
	}
	segments := strings.Split(path, KeyPathSeparator)
	for i, segment := range segments {
		if segment == "" {
			return nil, fmt.Errorf("keypath %q has an empty segment at position %d", path, i)
		}
	}
	return KeyPath(segments), nil
}

// Root returns the top-level trie key
func (p KeyPath) Root() string {
	if len(p) == 0 {
		return ""
	}
	return p[0]
}

// Fields returns the nested field segments after the root
func (p KeyPath) Fields() []string {
	if len(p) < 2 {
		return nil
	}
	return p[1:]
}

// String joins the segments back into dotted form
func (p KeyPath) String() string {
	return strings.Join(p, KeyPathSeparator)
}

// Record is one line of input data: every field becomes a PUT key/value pair
type Record struct {
	Fields map[string]Value
}

// NewRecord builds a record from a mapping value
func NewRecord(v Value) (Record, error) {
	fields, ok := v.AsMap()
	if !ok {
		return Record{}, fmt.Errorf("record must be a JSON object, got %s", v.Kind())
	}
	return Record{Fields: fields}, nil
}

// Value returns the record as a mapping value
func (r Record) Value() Value {
	return Map(r.Fields)
}

// ServerAddress is one entry of the cluster server list
type ServerAddress struct {
	Host string
	Port int
}

// Addr returns host:port
func (a ServerAddress) Addr() string {
	return net.JoinHostPort(a.Host, strconv.Itoa(a.Port))
}

// String implements fmt.Stringer
func (a ServerAddress) String() string {
	return a.Addr()
}
