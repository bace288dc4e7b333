package expression_test

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/triekv/triekv/internal/expression"
)

func TestEvaluateString(t *testing.T) {
	tests := []struct {
		name string
		expr string
		want float64
	}{
		{name: "precedence", expr: "3+4*2", want: 11},
		{name: "parentheses", expr: "(3+4)*2", want: 14},
		// ^ is not left-associative, so equal precedence never pops early
		// and the chain binds right to left: 2^(3^2).
		{name: "chained power", expr: "2^3^2", want: 512},
		{name: "left associative minus", expr: "10-4-3", want: 3},
		{name: "left associative divide", expr: "100/10/5", want: 2},
		{name: "decimals", expr: "5/2", want: 2.5},
		{name: "decimal literal", expr: "1.5*4", want: 6},
		{name: "whitespace", expr: " 1 +  2 ", want: 3},
		{name: "function", expr: "log(100)", want: 2},
		{name: "function of expression", expr: "cos(0)+sin(0)", want: 1},
		{name: "nested functions", expr: "log(log(10000000000))", want: 1},
		{name: "power binds tighter than multiply", expr: "2*3^2", want: 18},
		{name: "unary minus literal", expr: "-3+5", want: 2},
		{name: "minus after operator", expr: "5--3", want: 8},
		{name: "negative exponent", expr: "2^-1", want: 0.5},
		{name: "original sample", expr: "2/(86+3*(2+86))", want: 2.0 / 350.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := expression.EvaluateString(tt.expr)
			require.NoError(t, err)
			assert.InDelta(t, tt.want, got, 1e-12)
		})
	}
}

func TestEvaluateString_Errors(t *testing.T) {
	tests := []struct {
		name    string
		expr    string
		wantErr error
	}{
		{name: "division by zero", expr: "1/0", wantErr: expression.ErrDivisionByZero},
		{name: "division by computed zero", expr: "4/(2-2)", wantErr: expression.ErrDivisionByZero},
		{name: "negative log", expr: "log(-10)", wantErr: expression.ErrLogDomain},
		{name: "zero log", expr: "log(0)", wantErr: expression.ErrLogDomain},
		{name: "dangling operator", expr: "3+", wantErr: expression.ErrStackUnderflow},
		{name: "function without argument", expr: "sin()", wantErr: expression.ErrStackUnderflow},
		{name: "unclosed paren", expr: "(1+2", wantErr: expression.ErrMismatchedParens},
		{name: "extra close paren", expr: "1+2)", wantErr: expression.ErrMismatchedParens},
		{name: "empty", expr: "   ", wantErr: expression.ErrEmptyExpression},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := expression.EvaluateString(tt.expr)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestEvaluateString_Rejects(t *testing.T) {
	for _, expr := range []string{"2 3", "x+1", "1.2.3", "4 % 2", "2^9999"} {
		t.Run(expr, func(t *testing.T) {
			_, err := expression.EvaluateString(expr)
			assert.Error(t, err)
		})
	}
}

func TestTokenize(t *testing.T) {
	tokens, err := expression.Tokenize("cos(x)-tan(2*y+3.5)")
	require.NoError(t, err)

	kinds := make([]expression.TokenKind, 0, len(tokens))
	texts := make([]string, 0, len(tokens))
	for _, tok := range tokens {
		kinds = append(kinds, tok.Kind)
		texts = append(texts, tok.Text)
	}

	assert.Equal(t, []string{"cos", "(", "x", ")", "-", "tan", "(", "2", "*", "y", "+", "3.5", ")"}, texts)
	assert.Equal(t, expression.TokenFunction, kinds[0])
	assert.Equal(t, expression.TokenIdentifier, kinds[2])
	assert.Equal(t, expression.TokenOperator, kinds[4])
	assert.Equal(t, expression.TokenNumber, kinds[11])
	assert.Equal(t, 3.5, tokens[11].Number)
	assert.Equal(t, "cos(x)-tan(2*y+3.5)", expression.Render(tokens))
}

func TestToPostfix(t *testing.T) {
	tokens, err := expression.Tokenize("sin(1+2)*3")
	require.NoError(t, err)

	queue, err := expression.ToPostfix(tokens)
	require.NoError(t, err)
	assert.Equal(t, "12+sin3*", expression.Render(queue))

	got, err := expression.EvaluatePostfix(queue)
	require.NoError(t, err)
	assert.InDelta(t, math.Sin(3)*3, got, 1e-12)
}

func TestAssociativityTable(t *testing.T) {
	for _, op := range []string{"+", "-", "*", "/"} {
		assert.True(t, expression.IsLeftAssociative(op), op)
	}
	assert.False(t, expression.IsLeftAssociative("^"))
	assert.Equal(t, 3, expression.Precedence("^"))
	assert.Equal(t, 2, expression.Precedence("*"))
	assert.Equal(t, 1, expression.Precedence("-"))
}
