package formula_test

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/triekv/triekv/internal/errors"
	"github.com/triekv/triekv/internal/formula"
	"github.com/triekv/triekv/internal/model"
	"github.com/triekv/triekv/internal/storage/trie"
)

func setupStore(t *testing.T) *trie.Trie {
	t.Helper()

	store := trie.New()
	store.Put("a", model.Map(map[string]model.Value{
		"b": model.Map(map[string]model.Value{
			"c":    model.Number(5),
			"neg":  model.Number(-3),
			"name": model.String("five"),
			"list": model.List(model.Number(1)),
			"nil":  model.Null(),
		}),
	}))
	store.Put("person", model.Map(map[string]model.Value{
		"age":    model.Number(86),
		"height": model.Number(2),
	}))
	store.Put("gone", model.Number(1))
	store.Delete("gone")
	return store
}

func TestCompute(t *testing.T) {
	store := setupStore(t)

	tests := []struct {
		name    string
		formula string
		want    float64
	}{
		{
			name:    "single binding",
			formula: "COMPUTE x/2 WHERE x = QUERY a.b.c",
			want:    2.5,
		},
		{
			name:    "and-joined bindings",
			formula: "COMPUTE 2/(x+3*(y+z)) WHERE x = QUERY person.age AND y = QUERY person.height AND z = QUERY person.age",
			want:    2.0 / 350.0,
		},
		{
			name:    "functions",
			formula: "COMPUTE cos(x)-tan(2*y+3) WHERE x = QUERY person.age AND y = QUERY person.height",
			want:    math.Cos(86) - math.Tan(7),
		},
		{
			name:    "negative value",
			formula: "COMPUTE x*2 WHERE x = QUERY a.b.neg",
			want:    -6,
		},
		{
			name:    "negative value after minus",
			formula: "COMPUTE 1-x WHERE x = QUERY a.b.neg",
			want:    4,
		},
		{
			name:    "variable named like a function prefix",
			formula: "COMPUTE s+sin(0) WHERE s = QUERY a.b.c",
			want:    5,
		},
		{
			name:    "no spaces around equals",
			formula: "COMPUTE x+1 WHERE x=QUERY a.b.c",
			want:    6,
		},
		{
			name:    "unused binding still resolved",
			formula: "COMPUTE 1+1 WHERE x = QUERY a.b.c",
			want:    2,
		},
		{
			name:    "lowercase keywords",
			formula: "compute x where x = query a.b.c",
			want:    5,
		},
		{
			name:    "mixed case keywords",
			formula: "Compute x+y Where x = Query a.b.c and y = QUERY a.b.c",
			want:    10,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := formula.Compute(tt.formula, store)
			require.NoError(t, err)
			assert.InDelta(t, tt.want, got, 1e-9)
		})
	}
}

func TestCompute_Errors(t *testing.T) {
	store := setupStore(t)

	tests := []struct {
		name     string
		formula  string
		wantCode errors.ErrorCode
	}{
		{name: "missing where", formula: "COMPUTE x/2", wantCode: errors.ErrCodeInvalidFormula},
		{name: "missing compute", formula: "x/2 WHERE x = QUERY a.b.c", wantCode: errors.ErrCodeInvalidFormula},
		{name: "empty expression", formula: "COMPUTE WHERE x = QUERY a.b.c", wantCode: errors.ErrCodeInvalidFormula},
		{name: "two where clauses", formula: "COMPUTE x WHERE x = QUERY a.b.c WHERE y = QUERY a", wantCode: errors.ErrCodeInvalidFormula},
		{name: "unbound variable", formula: "COMPUTE x+y WHERE x = QUERY a.b.c", wantCode: errors.ErrCodeInvalidFormula},
		{name: "bad character", formula: "COMPUTE x%2 WHERE x = QUERY a.b.c", wantCode: errors.ErrCodeInvalidFormula},
		{name: "binding without query", formula: "COMPUTE x WHERE x = a.b.c", wantCode: errors.ErrCodeInvalidBinding},
		{name: "binding without equals", formula: "COMPUTE x WHERE x QUERY a.b.c", wantCode: errors.ErrCodeInvalidBinding},
		{name: "empty binding", formula: "COMPUTE x WHERE x = QUERY a.b.c AND", wantCode: errors.ErrCodeInvalidBinding},
		{name: "bad variable name", formula: "COMPUTE 1 WHERE 1x = QUERY a.b.c", wantCode: errors.ErrCodeInvalidBinding},
		{name: "function as variable", formula: "COMPUTE 1 WHERE sin = QUERY a.b.c", wantCode: errors.ErrCodeInvalidBinding},
		{name: "keyword as variable", formula: "COMPUTE 1 WHERE and = QUERY a.b.c", wantCode: errors.ErrCodeInvalidBinding},
		{name: "duplicate binding", formula: "COMPUTE x WHERE x = QUERY a.b.c AND x = QUERY person.age", wantCode: errors.ErrCodeInvalidBinding},
		{name: "empty keypath segment", formula: "COMPUTE x WHERE x = QUERY a..c", wantCode: errors.ErrCodeInvalidBinding},
		{name: "string variable", formula: "COMPUTE x WHERE x = QUERY a.b.name", wantCode: errors.ErrCodeNonNumericVariable},
		{name: "object variable", formula: "COMPUTE x WHERE x = QUERY a.b", wantCode: errors.ErrCodeNonNumericVariable},
		{name: "list variable", formula: "COMPUTE x WHERE x = QUERY a.b.list", wantCode: errors.ErrCodeNonNumericVariable},
		{name: "null variable", formula: "COMPUTE x WHERE x = QUERY a.b.nil", wantCode: errors.ErrCodeNonNumericVariable},
		{name: "missing variable", formula: "COMPUTE x WHERE x = QUERY a.b.zzz", wantCode: errors.ErrCodeNonNumericVariable},
		{name: "tombstoned variable", formula: "COMPUTE x WHERE x = QUERY gone", wantCode: errors.ErrCodeNonNumericVariable},
		{name: "division by zero", formula: "COMPUTE x/0 WHERE x = QUERY a.b.c", wantCode: errors.ErrCodeEvaluation},
		{name: "negative log", formula: "COMPUTE log(x) WHERE x = QUERY a.b.neg", wantCode: errors.ErrCodeEvaluation},
		{name: "malformed token stream", formula: "COMPUTE x+ WHERE x = QUERY a.b.c", wantCode: errors.ErrCodeEvaluation},
		{name: "adjacent operands", formula: "COMPUTE 2 x WHERE x = QUERY a.b.c", wantCode: errors.ErrCodeEvaluation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := formula.Compute(tt.formula, store)
			require.Error(t, err)
			assert.Equal(t, tt.wantCode, errors.GetCode(err), "error: %v", err)
		})
	}
}

func TestParse(t *testing.T) {
	f, err := formula.Parse("COMPUTE 2/(x+3*(y+z)) WHERE x = QUERY p.age AND y = QUERY p.height AND z = QUERY q")
	require.NoError(t, err)

	assert.Equal(t, "2/(x+3*(y+z))", f.Expression)
	require.Len(t, f.Bindings, 3)
	assert.Equal(t, "x", f.Bindings[0].Name)
	assert.Equal(t, model.KeyPath{"p", "age"}, f.Bindings[0].Path)
	assert.Equal(t, "z", f.Bindings[2].Name)
	assert.Equal(t, model.KeyPath{"q"}, f.Bindings[2].Path)
}

func TestSubstitute(t *testing.T) {
	store := setupStore(t)

	f, err := formula.Parse("COMPUTE x/2 + y WHERE x = QUERY a.b.c AND y = QUERY a.b.neg")
	require.NoError(t, err)

	text, err := f.Substitute(store)
	require.NoError(t, err)
	assert.Equal(t, "5/2+(-3)", text)
}
