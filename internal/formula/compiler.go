package formula

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/triekv/triekv/internal/errors"
	"github.com/triekv/triekv/internal/expression"
	"github.com/triekv/triekv/internal/model"
)

// Grammar keywords, matched without regard to case
const (
	KeywordCompute = "COMPUTE"
	KeywordWhere   = "WHERE"
	KeywordAnd     = "AND"
	KeywordQuery   = "QUERY"
)

// Resolver looks up keypaths for variable bindings
type Resolver interface {
	Query(path model.KeyPath) (model.Value, bool)
}

// Binding ties a variable name to the keypath that supplies its value
type Binding struct {
	Name string
	Path model.KeyPath
}

// Formula is a parsed COMPUTE statement. It is built per request and never stored.
type Formula struct {
	Expression string
	Template   []expression.Token
	Bindings   []Binding
}

// Parse compiles `COMPUTE <expr> WHERE <var> = QUERY <keypath> (AND <var> = QUERY <keypath>)*`
func Parse(text string) (*Formula, error) {
	text = strings.TrimSpace(text)

	head, rest, ok := cutWord(text)
	if !ok || !strings.EqualFold(head, KeywordCompute) {
		return nil, errors.InvalidFormula("formula must start with COMPUTE")
	}

	parts := splitKeyword(rest, KeywordWhere)
	switch {
	case len(parts) < 2:
		return nil, errors.InvalidFormula("missing WHERE clause")
	case len(parts) > 2:
		return nil, errors.InvalidFormula("more than one WHERE clause")
	}

	expr := strings.TrimSpace(parts[0])
	if expr == "" {
		return nil, errors.InvalidFormula("empty expression")
	}

	template, err := expression.Tokenize(expr)
	if err != nil {
		return nil, errors.InvalidFormula(err.Error())
	}

	clauses := splitKeyword(parts[1], KeywordAnd)
	bindings := make([]Binding, 0, len(clauses))
	seen := make(map[string]bool, len(clauses))
	for _, clause := range clauses {
		binding, err := parseBinding(strings.TrimSpace(clause))
		if err != nil {
			return nil, err
		}
		if seen[binding.Name] {
			return nil, errors.InvalidBinding(clause, fmt.Sprintf("variable '%s' is bound more than once", binding.Name))
		}
		seen[binding.Name] = true
		bindings = append(bindings, binding)
	}

	for _, tok := range template {
		if tok.Kind == expression.TokenIdentifier && !seen[tok.Text] {
			return nil, errors.InvalidFormula(fmt.Sprintf("variable '%s' is not bound", tok.Text))
		}
	}

	return &Formula{
		Expression: expr,
		Template:   template,
		Bindings:   bindings,
	}, nil
}

// parseBinding matches `<identifier> = QUERY <keypath>`
func parseBinding(clause string) (Binding, error) {
	if clause == "" {
		return Binding{}, errors.InvalidBinding(clause, "empty binding")
	}

	eq := strings.IndexByte(clause, '=')
	if eq < 0 {
		return Binding{}, errors.InvalidBinding(clause, "expected '<variable> = QUERY <keypath>'")
	}

	name := strings.TrimSpace(clause[:eq])
	if !isIdentifier(name) {
		return Binding{}, errors.InvalidBinding(clause, fmt.Sprintf("'%s' is not a valid variable name", name))
	}
	if expression.IsFunction(name) {
		return Binding{}, errors.InvalidBinding(clause, fmt.Sprintf("'%s' is a function name", name))
	}

	keyword, path, ok := cutWord(strings.TrimSpace(clause[eq+1:]))
	if !ok || !strings.EqualFold(keyword, KeywordQuery) {
		return Binding{}, errors.InvalidBinding(clause, "expected QUERY after '='")
	}

	path = strings.TrimSpace(path)
	if path == "" || strings.IndexFunc(path, unicode.IsSpace) >= 0 {
		return Binding{}, errors.InvalidBinding(clause, "expected a single keypath after QUERY")
	}

	keyPath, err := model.ParseKeyPath(path)
	if err != nil {
		return Binding{}, errors.InvalidBinding(clause, err.Error())
	}

	return Binding{Name: name, Path: keyPath}, nil
}

// resolve looks up every binding and returns the template with each variable
// replaced by a numeric token.
func (f *Formula) resolve(r Resolver) ([]expression.Token, error) {
	values := make(map[string]float64, len(f.Bindings))
	for _, b := range f.Bindings {
		v, found := r.Query(b.Path)
		if !found {
			return nil, errors.NonNumericVariable(b.Name, b.Path.String(), "not found")
		}
		n, ok := v.AsNumber()
		if !ok {
			return nil, errors.NonNumericVariable(b.Name, b.Path.String(), v.Kind().String())
		}
		values[b.Name] = n
	}

	tokens := make([]expression.Token, len(f.Template))
	for i, tok := range f.Template {
		if tok.Kind == expression.TokenIdentifier {
			tok = expression.NumberToken(values[tok.Text])
		}
		tokens[i] = tok
	}
	return tokens, nil
}

// Substitute resolves every binding and returns the expression text with each
// variable replaced by its decimal value.
func (f *Formula) Substitute(r Resolver) (string, error) {
	tokens, err := f.resolve(r)
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	for _, tok := range tokens {
		if tok.Kind == expression.TokenNumber && tok.Number < 0 {
			sb.WriteString("(" + tok.Text + ")")
			continue
		}
		sb.WriteString(tok.Text)
	}
	return sb.String(), nil
}

// Evaluate substitutes bindings and evaluates the resulting token stream
func (f *Formula) Evaluate(r Resolver) (float64, error) {
	tokens, err := f.resolve(r)
	if err != nil {
		return 0, err
	}

	result, err := expression.Evaluate(tokens)
	if err != nil {
		return 0, errors.Evaluation("evaluation error", err)
	}
	return result, nil
}

// Compute parses and evaluates a formula in one step
func Compute(text string, r Resolver) (float64, error) {
	f, err := Parse(text)
	if err != nil {
		return 0, err
	}
	return f.Evaluate(r)
}

// cutWord splits off the first whitespace-delimited word
func cutWord(s string) (word, rest string, ok bool) {
	s = strings.TrimLeftFunc(s, unicode.IsSpace)
	if s == "" {
		return "", "", false
	}
	end := strings.IndexFunc(s, unicode.IsSpace)
	if end < 0 {
		return s, "", true
	}
	return s[:end], s[end:], true
}

// splitKeyword splits s around every occurrence of keyword that stands as a
// separate word.
func splitKeyword(s, keyword string) []string {
	var parts []string
	start := 0
	for at := 0; at+len(keyword) <= len(s); at++ {
		end := at + len(keyword)
		if !strings.EqualFold(s[at:end], keyword) {
			continue
		}
		before := at == 0 || isSpaceByte(s[at-1])
		after := end == len(s) || isSpaceByte(s[end])
		if before && after {
			parts = append(parts, s[start:at])
			start = end
			at = end - 1
		}
	}
	return append(parts, s[start:])
}

func isSpaceByte(b byte) bool {
	return b == ' ' || b == '\t' || b == '\n' || b == '\r'
}

func isIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		if r == '_' || unicode.IsLetter(r) {
			continue
		}
		if i > 0 && unicode.IsDigit(r) {
			continue
		}
		return false
	}
	return true
}
