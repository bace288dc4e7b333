package expression

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

// TokenKind classifies a token of an arithmetic expression
type TokenKind int

const (
	TokenNumber TokenKind = iota
	TokenOperator
	TokenFunction
	TokenLeftParen
	TokenRightParen
	TokenIdentifier
)

// String implements fmt.Stringer
func (k TokenKind) String() string {
	switch k {
	case TokenNumber:
		return "number"
	case TokenOperator:
		return "operator"
	case TokenFunction:
		return "function"
	case TokenLeftParen:
		return "("
	case TokenRightParen:
		return ")"
	case TokenIdentifier:
		return "identifier"
	default:
		return "unknown"
	}
}

// Token is one lexical element. Number is set for TokenNumber.
type Token struct {
	Kind   TokenKind
	Text   string
	Number float64
}

// NumberToken builds a numeric token
func NumberToken(n float64) Token {
	return Token{Kind: TokenNumber, Text: strconv.FormatFloat(n, 'f', -1, 64), Number: n}
}

// String returns the token text
func (t Token) String() string {
	return t.Text
}

// Tokenize splits an expression into numbers (with optional decimals), the
// operators + - * / ^, parentheses, the functions sin cos tan log and
// identifiers. A minus sign directly before a number is folded into the
// literal when it cannot be a binary operator.
func Tokenize(expr string) ([]Token, error) {
	runes := []rune(expr)
	tokens := make([]Token, 0, len(runes))

	for i := 0; i < len(runes); {
		r := runes[i]

		switch {
		case unicode.IsSpace(r):
			i++

		case isDigit(r) || r == '.' || (r == '-' && unaryPosition(tokens) && i+1 < len(runes) && (isDigit(runes[i+1]) || runes[i+1] == '.')):
			start := i
			if r == '-' {
				i++
			}
			for i < len(runes) && (isDigit(runes[i]) || runes[i] == '.') {
				i++
			}
			text := string(runes[start:i])
			n, err := strconv.ParseFloat(text, 64)
			if err != nil {
				return nil, fmt.Errorf("invalid number %q at position %d", text, start)
			}
			tokens = append(tokens, Token{Kind: TokenNumber, Text: text, Number: n})

		case unicode.IsLetter(r) || r == '_':
			start := i
			for i < len(runes) && (unicode.IsLetter(runes[i]) || unicode.IsDigit(runes[i]) || runes[i] == '_') {
				i++
			}
			word := string(runes[start:i])
			if IsFunction(word) {
				tokens = append(tokens, Token{Kind: TokenFunction, Text: word})
			} else {
				tokens = append(tokens, Token{Kind: TokenIdentifier, Text: word})
			}

		case IsOperator(string(r)):
			tokens = append(tokens, Token{Kind: TokenOperator, Text: string(r)})
			i++

		case r == '(':
			tokens = append(tokens, Token{Kind: TokenLeftParen, Text: "("})
			i++

		case r == ')':
			tokens = append(tokens, Token{Kind: TokenRightParen, Text: ")"})
			i++

		default:
			return nil, fmt.Errorf("unexpected character %q at position %d", r, i)
		}
	}

	return tokens, nil
}

// Render joins tokens back into expression text
func Render(tokens []Token) string {
	var b strings.Builder
	for _, tok := range tokens {
		b.WriteString(tok.Text)
	}
	return b.String()
}

func isDigit(r rune) bool {
	return r >= '0' && r <= '9'
}

// unaryPosition reports whether a minus sign at the current position would be unary
func unaryPosition(prev []Token) bool {
	if len(prev) == 0 {
		return true
	}
	switch prev[len(prev)-1].Kind {
	case TokenOperator, TokenLeftParen, TokenFunction:
		return true
	default:
		return false
	}
}
