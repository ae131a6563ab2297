package tool

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/cloudwego/eino/schema"
	contractx "github.com/tanpawarit/agentic-research-assistant/agent/contract"
)

const ToolMathEvaluate = "math.evaluate"

type MathEvaluateOutput struct {
	Expression string  `json:"expression"`
	Result     float64 `json:"result"`
}

// MathTool evaluates arithmetic with + - * / % ^ and parentheses.
type MathTool struct{}

func (MathTool) Name() string { return ToolMathEvaluate }

func (MathTool) Description() string {
	return "Evaluate an arithmetic expression with + - * / % ^ and parentheses."
}

func (MathTool) Params() map[string]*schema.ParameterInfo {
	return map[string]*schema.ParameterInfo{
		"expression": {Type: schema.String, Desc: "Expression to evaluate, e.g. (2 + 3) * 4", Required: true},
	}
}

func (MathTool) Invoke(_ context.Context, params map[string]any) (any, error) {
	expression, _ := params["expression"].(string)
	expression = strings.TrimSpace(expression)

	tokens, err := lexMath(expression)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", contractx.ErrInvalidParams, err)
	}
	result, err := (&mathEval{tokens: tokens}).run()
	if err != nil {
		return nil, err
	}
	return MathEvaluateOutput{Expression: expression, Result: result}, nil
}

type mathToken struct {
	op  byte // 0 for numbers
	num float64
	pos int
}

func lexMath(s string) ([]mathToken, error) {
	if s == "" {
		return nil, fmt.Errorf("expression is empty")
	}
	var (
		tokens []mathToken
		depth  int
	)
	for i := 0; i < len(s); {
		ch := s[i]
		switch {
		case ch == ' ' || ch == '\t':
			i++
		case strings.IndexByte("+-*/%^", ch) >= 0:
			tokens = append(tokens, mathToken{op: ch, pos: i})
			i++
		case ch == '(' || ch == ')':
			if ch == '(' {
				depth++
			} else {
				depth--
			}
			if depth < 0 {
				return nil, fmt.Errorf("expression has unbalanced parentheses")
			}
			tokens = append(tokens, mathToken{op: ch, pos: i})
			i++
		case (ch >= '0' && ch <= '9') || ch == '.':
			start := i
			for i < len(s) && ((s[i] >= '0' && s[i] <= '9') || s[i] == '.') {
				i++
			}
			v, err := strconv.ParseFloat(s[start:i], 64)
			if err != nil {
				return nil, fmt.Errorf("invalid number %q at position %d", s[start:i], start)
			}
			tokens = append(tokens, mathToken{num: v, pos: start})
		default:
			return nil, fmt.Errorf("expression contains invalid character %q at position %d", ch, i)
		}
	}
	if depth != 0 {
		return nil, fmt.Errorf("expression has unbalanced parentheses")
	}
	return tokens, nil
}

// mathEval is a precedence-climbing evaluator over lexed tokens.
type mathEval struct {
	tokens []mathToken
	pos    int
}

var binaryPrecedence = map[byte]int{'+': 1, '-': 1, '*': 2, '/': 2, '%': 2, '^': 3}

func (e *mathEval) run() (float64, error) {
	v, err := e.expr(1)
	if err != nil {
		return 0, err
	}
	if e.pos < len(e.tokens) {
		return 0, fmt.Errorf("%w: unexpected token at position %d", contractx.ErrInvalidParams, e.tokens[e.pos].pos)
	}
	return v, nil
}

func (e *mathEval) expr(minPrec int) (float64, error) {
	left, err := e.unary()
	if err != nil {
		return 0, err
	}
	for e.pos < len(e.tokens) {
		op := e.tokens[e.pos].op
		prec, ok := binaryPrecedence[op]
		if !ok || prec < minPrec {
			break
		}
		e.pos++
		next := prec + 1
		if op == '^' {
			// right associative
			next = prec
		}
		right, err := e.expr(next)
		if err != nil {
			return 0, err
		}
		if left, err = apply(op, left, right); err != nil {
			return 0, err
		}
	}
	return left, nil
}

func (e *mathEval) unary() (float64, error) {
	if e.pos >= len(e.tokens) {
		return 0, fmt.Errorf("%w: expression ends unexpectedly", contractx.ErrInvalidParams)
	}
	tok := e.tokens[e.pos]
	switch tok.op {
	case '+', '-':
		e.pos++
		v, err := e.unary()
		if tok.op == '-' {
			v = -v
		}
		return v, err
	case '(':
		e.pos++
		v, err := e.expr(1)
		if err != nil {
			return 0, err
		}
		if e.pos >= len(e.tokens) || e.tokens[e.pos].op != ')' {
			return 0, fmt.Errorf("%w: missing closing parenthesis", contractx.ErrInvalidParams)
		}
		e.pos++
		return v, nil
	case 0:
		e.pos++
		return tok.num, nil
	default:
		return 0, fmt.Errorf("%w: expected number at position %d", contractx.ErrInvalidParams, tok.pos)
	}
}

func apply(op byte, a, b float64) (float64, error) {
	switch op {
	case '+':
		return a + b, nil
	case '-':
		return a - b, nil
	case '*':
		return a * b, nil
	case '/':
		if b == 0 {
			return 0, fmt.Errorf("division by zero")
		}
		return a / b, nil
	case '%':
		if b == 0 {
			return 0, fmt.Errorf("modulo by zero")
		}
		return math.Mod(a, b), nil
	case '^':
		return math.Pow(a, b), nil
	}
	return 0, fmt.Errorf("unknown operator %q", op)
}
