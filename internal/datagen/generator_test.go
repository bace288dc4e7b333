package datagen_test

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/triekv/triekv/internal/datagen"
	"github.com/triekv/triekv/internal/loader"
	"github.com/triekv/triekv/internal/model"
)

func TestReadKeyFile(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    []datagen.KeySpec
		wantErr bool
	}{
		{
			name:  "valid",
			input: "name string\n\nage int\nheight float\n",
			want: []datagen.KeySpec{
				{Name: "name", Type: "string"},
				{Name: "age", Type: "int"},
				{Name: "height", Type: "float"},
			},
		},
		{name: "unknown type", input: "name bool\n", wantErr: true},
		{name: "missing type", input: "name\n", wantErr: true},
		{name: "empty", input: "\n", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			keys, err := datagen.ReadKeyFile(strings.NewReader(tt.input))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, keys)
		})
	}
}

func TestOptions_Validate(t *testing.T) {
	assert.NoError(t, datagen.Options{Lines: 1, MaxNesting: 0, MaxStringLength: 1, MaxKeys: 1}.Validate())
	assert.Error(t, datagen.Options{Lines: -1, MaxStringLength: 1, MaxKeys: 1}.Validate())
	assert.Error(t, datagen.Options{Lines: 1, MaxNesting: -1, MaxStringLength: 1, MaxKeys: 1}.Validate())
	assert.Error(t, datagen.Options{Lines: 1, MaxKeys: 1}.Validate())
	assert.Error(t, datagen.Options{Lines: 1, MaxStringLength: 1}.Validate())
}

// depth returns the nesting depth of mapping values below v
func depth(v model.Value) int {
	fields, ok := v.AsMap()
	if !ok {
		return 0
	}
	max := 0
	for _, child := range fields {
		if d := depth(child); d > max {
			max = d
		}
	}
	return max + 1
}

func TestGenerator_RespectsLimits(t *testing.T) {
	keys := []datagen.KeySpec{{Name: "name", Type: "string"}, {Name: "age", Type: "int"}, {Name: "height", Type: "float"}}
	opts := datagen.Options{Lines: 200, MaxNesting: 2, MaxStringLength: 5, MaxKeys: 3}
	g, err := datagen.NewGenerator(keys, opts, 42)
	require.NoError(t, err)

	var buf bytes.Buffer
	_, err = g.WriteTo(&buf)
	require.NoError(t, err)

	records, err := loader.ReadRecords(&buf)
	require.NoError(t, err)
	require.Len(t, records, opts.Lines)

	for _, rec := range records {
		assert.LessOrEqual(t, len(rec.Fields), opts.MaxKeys)
		assert.GreaterOrEqual(t, len(rec.Fields), 1)
		assert.LessOrEqual(t, depth(rec.Value()), opts.MaxNesting+1)
		for name := range rec.Fields {
			assert.True(t,
				strings.HasPrefix(name, "name") || strings.HasPrefix(name, "age") || strings.HasPrefix(name, "height"),
				name)
		}
	}
}

func TestGenerator_ScalarTypes(t *testing.T) {
	opts := datagen.Options{Lines: 1, MaxNesting: 1, MaxStringLength: 4, MaxKeys: 1}

	tests := []struct {
		typ  string
		kind model.Kind
	}{
		{typ: "string", kind: model.KindString},
		{typ: "int", kind: model.KindNumber},
		{typ: "float", kind: model.KindNumber},
	}

	for _, tt := range tests {
		t.Run(tt.typ, func(t *testing.T) {
			g, err := datagen.NewGenerator([]datagen.KeySpec{{Name: "k", Type: tt.typ}}, opts, 7)
			require.NoError(t, err)

			seen := false
			for i := 0; i < 100; i++ {
				fields, ok := g.Record().AsMap()
				require.True(t, ok)
				for _, v := range fields {
					if v.IsNull() {
						continue
					}
					inner, ok := v.AsMap()
					require.True(t, ok)
					for _, scalar := range inner {
						assert.Equal(t, tt.kind, scalar.Kind())
						seen = true
					}
				}
			}
			assert.True(t, seen)
		})
	}
}

func TestGenerator_Deterministic(t *testing.T) {
	keys := []datagen.KeySpec{{Name: "k", Type: "float"}}
	opts := datagen.Options{Lines: 5, MaxNesting: 1, MaxStringLength: 3, MaxKeys: 2}

	var a, b bytes.Buffer
	g1, err := datagen.NewGenerator(keys, opts, 99)
	require.NoError(t, err)
	g2, err := datagen.NewGenerator(keys, opts, 99)
	require.NoError(t, err)
	_, err = g1.WriteTo(&a)
	require.NoError(t, err)
	_, err = g2.WriteTo(&b)
	require.NoError(t, err)
	assert.Equal(t, a.String(), b.String())
}
