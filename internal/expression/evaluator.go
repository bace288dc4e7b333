package expression

import (
	"errors"
	"fmt"
	"math"
)

var (
	// ErrDivisionByZero is returned when the right operand of / is zero
	ErrDivisionByZero = errors.New("division by zero")
	// ErrStackUnderflow is returned when an operator lacks operands
	ErrStackUnderflow = errors.New("stack underflow")
	// ErrMismatchedParens is returned for unbalanced parentheses
	ErrMismatchedParens = errors.New("mismatched parentheses")
	// ErrEmptyExpression is returned when there is nothing to evaluate
	ErrEmptyExpression = errors.New("empty expression")
	// ErrLogDomain is returned for log of a non-positive number
	ErrLogDomain = errors.New("log of a non-positive number")
)

// operatorPrecedence is the binding strength of each binary operator
var operatorPrecedence = map[string]int{
	"^": 3,
	"*": 2,
	"/": 2,
	"+": 1,
	"-": 1,
}

// leftAssociative lists the operators that pop equal-precedence operators.
// "^" is absent, so chained powers bind right to left: 2^3^2 == 2^(3^2).
var leftAssociative = map[string]bool{
	"+": true,
	"-": true,
	"*": true,
	"/": true,
}

var functions = map[string]func(float64) (float64, error){
	"sin": func(x float64) (float64, error) { return math.Sin(x), nil },
	"cos": func(x float64) (float64, error) { return math.Cos(x), nil },
	"tan": func(x float64) (float64, error) { return math.Tan(x), nil },
	"log": func(x float64) (float64, error) {
		if x <= 0 {
			return 0, fmt.Errorf("%w: log(%v)", ErrLogDomain, x)
		}
		return math.Log10(x), nil
	},
}

// IsOperator reports whether s is one of + - * / ^
func IsOperator(s string) bool {
	_, ok := operatorPrecedence[s]
	return ok
}

// IsFunction reports whether s is one of sin cos tan log
func IsFunction(s string) bool {
	_, ok := functions[s]
	return ok
}

// Precedence returns the precedence of an operator, zero for anything else
func Precedence(op string) int {
	return operatorPrecedence[op]
}

// IsLeftAssociative reports whether op pops equal-precedence operators
func IsLeftAssociative(op string) bool {
	return leftAssociative[op]
}

// ToPostfix reorders infix tokens into postfix order with the shunting-yard algorithm
func ToPostfix(tokens []Token) ([]Token, error) {
	output := make([]Token, 0, len(tokens))
	stack := make([]Token, 0, len(tokens))

	for _, tok := range tokens {
		switch tok.Kind {
		case TokenNumber:
			output = append(output, tok)

		case TokenFunction:
			stack = append(stack, tok)

		case TokenOperator:
			for len(stack) > 0 {
				top := stack[len(stack)-1]
				if top.Kind != TokenOperator {
					break
				}
				higher := Precedence(top.Text) > Precedence(tok.Text)
				tie := Precedence(top.Text) == Precedence(tok.Text) && IsLeftAssociative(tok.Text)
				if !higher && !tie {
					break
				}
				output = append(output, top)
				stack = stack[:len(stack)-1]
			}
			stack = append(stack, tok)

		case TokenLeftParen:
			stack = append(stack, tok)

		case TokenRightParen:
			matched := false
			for len(stack) > 0 {
				top := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				if top.Kind == TokenLeftParen {
					matched = true
					break
				}
				output = append(output, top)
			}
			if !matched {
				return nil, ErrMismatchedParens
			}
			if len(stack) > 0 && stack[len(stack)-1].Kind == TokenFunction {
				output = append(output, stack[len(stack)-1])
				stack = stack[:len(stack)-1]
			}

		case TokenIdentifier:
			return nil, fmt.Errorf("unbound identifier %q", tok.Text)

		default:
			return nil, fmt.Errorf("unexpected token %q", tok.Text)
		}
	}

	for len(stack) > 0 {
		top := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if top.Kind == TokenLeftParen {
			return nil, ErrMismatchedParens
		}
		output = append(output, top)
	}

	return output, nil
}

// EvaluatePostfix computes the value of a postfix token queue
func EvaluatePostfix(queue []Token) (float64, error) {
	if len(queue) == 0 {
		return 0, ErrEmptyExpression
	}

	stack := make([]float64, 0, len(queue))

	for _, tok := range queue {
		switch tok.Kind {
		case TokenNumber:
			stack = append(stack, tok.Number)

		case TokenOperator:
			if len(stack) < 2 {
				return 0, fmt.Errorf("%w: operator %q needs two operands", ErrStackUnderflow, tok.Text)
			}
			right := stack[len(stack)-1]
			left := stack[len(stack)-2]
			stack = stack[:len(stack)-2]

			result, err := apply(tok.Text, left, right)
			if err != nil {
				return 0, err
			}
			stack = append(stack, result)

		case TokenFunction:
			if len(stack) < 1 {
				return 0, fmt.Errorf("%w: function %q needs an argument", ErrStackUnderflow, tok.Text)
			}
			operand := stack[len(stack)-1]
			stack = stack[:len(stack)-1]

			result, err := functions[tok.Text](operand)
			if err != nil {
				return 0, err
			}
			stack = append(stack, result)

		default:
			return 0, fmt.Errorf("unexpected token %q in postfix queue", tok.Text)
		}
	}

	if len(stack) != 1 {
		return 0, fmt.Errorf("malformed expression: %d values left on the stack", len(stack))
	}

	result := stack[0]
	if math.IsNaN(result) || math.IsInf(result, 0) {
		return 0, fmt.Errorf("result is not a finite number")
	}
	return result, nil
}

func apply(op string, left, right float64) (float64, error) {
	switch op {
	case "+":
		return left + right, nil
	case "-":
		return left - right, nil
	case "*":
		return left * right, nil
	case "/":
		if right == 0 {
			return 0, ErrDivisionByZero
		}
		return left / right, nil
	case "^":
		return math.Pow(left, right), nil
	default:
		return 0, fmt.Errorf("unknown operator %q", op)
	}
}

// Evaluate reorders and evaluates an infix token sequence
func Evaluate(tokens []Token) (float64, error) {
	queue, err := ToPostfix(tokens)
	if err != nil {
		return 0, err
	}
	return EvaluatePostfix(queue)
}

// EvaluateString tokenizes and evaluates an expression that contains no identifiers
func EvaluateString(expr string) (float64, error) {
	tokens, err := Tokenize(expr)
	if err != nil {
		return 0, err
	}
	return Evaluate(tokens)
}
