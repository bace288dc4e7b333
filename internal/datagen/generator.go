// Package datagen produces random nested records for loading a cluster.
package datagen

import (
	"bufio"
	"fmt"
	"io"
	"math/rand"
	"strings"

	"github.com/triekv/triekv/internal/model"
)

// Key value types accepted in a key file
const (
	TypeString = "string"
	TypeInt    = "int"
	TypeFloat  = "float"
)

// nullChance is the percentage of top-level values left null
const nullChance = 80

const alphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// KeySpec is one line of a key file
type KeySpec struct {
	Name string
	Type string
}

// Options controls the shape of generated records
type Options struct {
	Lines           int // -n
	MaxNesting      int // -d
	MaxStringLength int // -l
	MaxKeys         int // -m
}

// Validate checks the options
func (o Options) Validate() error {
	if o.Lines < 0 {
		return fmt.Errorf("number of lines must not be negative")
	}
	if o.MaxNesting < 0 {
		return fmt.Errorf("maximum nesting must not be negative")
	}
	if o.MaxStringLength < 1 {
		return fmt.Errorf("maximum string length must be at least 1")
	}
	if o.MaxKeys < 1 {
		return fmt.Errorf("maximum keys must be at least 1")
	}
	return nil
}

// ReadKeyFile parses "<name> <type>" lines. Blank lines are skipped.
func ReadKeyFile(r io.Reader) ([]KeySpec, error) {
	var keys []KeySpec
	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) != 2 {
			return nil, fmt.Errorf("key file line %d: expected '<name> <type>', got %q", lineNo, line)
		}
		switch fields[1] {
		case TypeString, TypeInt, TypeFloat:
		default:
			return nil, fmt.Errorf("key file line %d: unknown type %q", lineNo, fields[1])
		}
		keys = append(keys, KeySpec{Name: fields[0], Type: fields[1]})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read key file: %w", err)
	}
	if len(keys) == 0 {
		return nil, fmt.Errorf("key file has no keys")
	}
	return keys, nil
}

// Generator builds random records from a key file
type Generator struct {
	keys []KeySpec
	opts Options
	rand *rand.Rand
}

// NewGenerator creates a generator. The seed makes output reproducible.
func NewGenerator(keys []KeySpec, opts Options, seed int64) (*Generator, error) {
	if len(keys) == 0 {
		return nil, fmt.Errorf("no keys to generate from")
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	return &Generator{keys: keys, opts: opts, rand: rand.New(rand.NewSource(seed))}, nil
}

// Record generates one top-level record. Top-level keys are key file names
// with a random suffix so that records rarely collide.
func (g *Generator) Record() model.Value {
	return g.level(g.opts.MaxNesting, true)
}

// WriteTo writes Lines records, one JSON object per line
func (g *Generator) WriteTo(w io.Writer) (int64, error) {
	bw := bufio.NewWriter(w)
	var written int64
	for i := 0; i < g.opts.Lines; i++ {
		data, err := g.Record().MarshalJSON()
		if err != nil {
			return written, fmt.Errorf("failed to encode record: %w", err)
		}
		n, err := bw.Write(append(data, '\n'))
		written += int64(n)
		if err != nil {
			return written, err
		}
	}
	return written, bw.Flush()
}

func (g *Generator) level(nesting int, root bool) model.Value {
	fields := make(map[string]model.Value)
	numKeys := 1 + g.rand.Intn(g.opts.MaxKeys)
	for i := 0; i < numKeys; i++ {
		ks := g.keys[g.rand.Intn(len(g.keys))]
		name := ks.Name
		if root {
			name += g.randomString()
		}

		if root && g.rand.Intn(100) < nullChance {
			fields[name] = model.Null()
			continue
		}
		if nesting > 0 {
			fields[name] = g.level(nesting-1, false)
			continue
		}
		fields[name] = g.scalar(ks.Type)
	}
	return model.Map(fields)
}

func (g *Generator) scalar(typ string) model.Value {
	switch typ {
	case TypeInt:
		return model.Number(float64(g.rand.Intn(101)))
	case TypeFloat:
		return model.Number(g.rand.Float64() * 100)
	default:
		return model.String(g.randomString())
	}
}

func (g *Generator) randomString() string {
	n := 1 + g.rand.Intn(g.opts.MaxStringLength)
	var sb strings.Builder
	sb.Grow(n)
	for i := 0; i < n; i++ {
		sb.WriteByte(alphabet[g.rand.Intn(len(alphabet))])
	}
	return sb.String()
}
