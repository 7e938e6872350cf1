package workflow

import (
	"fmt"
	"strconv"

	"github.com/leadscope-ai/verdict/internal/types"
)

// Condition evaluation for workflow step gating.
//
// Expressions are a narrow, sandboxed language: field paths, comparison
// operators, boolean operators, literals, parentheses, and a few built-in
// functions. There is no assignment, no arbitrary calls, and no way to reach
// outside the evaluation context, so workflow YAML never becomes an injection
// surface.
//
// Paths resolve against prior step results and the workflow input:
//
//	steps.enrich.output.employee_count   completed step output field
//	steps.enrich.success                 step outcome
//	steps.enrich.confidence              step confidence
//	input.region                         workflow input field
//
// Expression examples:
//
//	steps.enrich.success && steps.enrich.output.employee_count > 50
//	len(steps.search.output.matches) > 0
//	!empty(steps.enrich.output.domain) || input.force_lookup
//
// Every expression must evaluate to a boolean; anything else is an
// INVALID_INPUT error at evaluation time.

// EvalContext provides the data conditional expressions resolve against.
type EvalContext struct {
	// Steps contains completed step results, keyed by alias.
	Steps map[string]*StepResult

	// Input contains the workflow-level input document.
	Input map[string]any
}

// EvalFunc is a function callable from conditional expressions.
type EvalFunc func(args []any) (any, error)

// ConditionEvaluator parses and evaluates step condition expressions.
type ConditionEvaluator struct {
	functions map[string]EvalFunc
}

// NewConditionEvaluator creates an evaluator with the built-in functions
// len, empty, and exists registered.
func NewConditionEvaluator() *ConditionEvaluator {
	ce := &ConditionEvaluator{functions: make(map[string]EvalFunc)}

	ce.RegisterFunction("len", func(args []any) (any, error) {
		if len(args) != 1 {
			return nil, fmt.Errorf("len() requires exactly 1 argument, got %d", len(args))
		}
		switch v := args[0].(type) {
		case string:
			return float64(len(v)), nil
		case []any:
			return float64(len(v)), nil
		case map[string]any:
			return float64(len(v)), nil
		default:
			return nil, fmt.Errorf("len() requires string, array, or map argument")
		}
	})

	ce.RegisterFunction("empty", func(args []any) (any, error) {
		if len(args) != 1 {
			return nil, fmt.Errorf("empty() requires exactly 1 argument, got %d", len(args))
		}
		switch v := args[0].(type) {
		case string:
			return len(v) == 0, nil
		case []any:
			return len(v) == 0, nil
		case map[string]any:
			return len(v) == 0, nil
		case nil:
			return true, nil
		default:
			return false, nil
		}
	})

	ce.RegisterFunction("exists", func(args []any) (any, error) {
		if len(args) != 1 {
			return nil, fmt.Errorf("exists() requires exactly 1 argument, got %d", len(args))
		}
		return args[0] != nil, nil
	})

	return ce
}

// RegisterFunction adds a custom function callable from expressions.
func (ce *ConditionEvaluator) RegisterFunction(name string, fn EvalFunc) {
	ce.functions[name] = fn
}

// Evaluate parses and evaluates an expression in the given context.
func (ce *ConditionEvaluator) Evaluate(expr string, ec *EvalContext) (bool, error) {
	tokens, err := tokenize(expr)
	if err != nil {
		return false, types.WrapError(types.INVALID_INPUT,
			fmt.Sprintf("condition %q", expr), err)
	}

	p := &exprParser{tokens: tokens, ec: ec, evaluator: ce}

	result, err := p.parseExpression()
	if err != nil {
		return false, types.WrapError(types.INVALID_INPUT,
			fmt.Sprintf("condition %q", expr), err)
	}
	if p.current().typ != tokenEOF {
		return false, types.NewError(types.INVALID_INPUT,
			fmt.Sprintf("condition %q: unexpected trailing input", expr))
	}

	boolResult, ok := result.(bool)
	if !ok {
		return false, types.NewError(types.INVALID_INPUT,
			fmt.Sprintf("condition %q did not evaluate to boolean, got %T", expr, result))
	}
	return boolResult, nil
}

type tokenType int

const (
	tokenEOF tokenType = iota
	tokenIdentifier
	tokenNumber
	tokenString
	tokenBool
	tokenDot
	tokenComma
	tokenLParen
	tokenRParen
	tokenLBracket
	tokenRBracket
	tokenEQ
	tokenNE
	tokenLT
	tokenLE
	tokenGT
	tokenGE
	tokenAnd
	tokenOr
	tokenNot
)

type token struct {
	typ   tokenType
	value string
}

// tokenize converts an expression string into a token stream.
func tokenize(expr string) ([]token, error) {
	var tokens []token
	i := 0

	for i < len(expr) {
		if expr[i] == ' ' || expr[i] == '\t' || expr[i] == '\n' || expr[i] == '\r' {
			i++
			continue
		}

		switch expr[i] {
		case '.':
			tokens = append(tokens, token{typ: tokenDot, value: "."})
			i++
			continue
		case ',':
			tokens = append(tokens, token{typ: tokenComma, value: ","})
			i++
			continue
		case '(':
			tokens = append(tokens, token{typ: tokenLParen, value: "("})
			i++
			continue
		case ')':
			tokens = append(tokens, token{typ: tokenRParen, value: ")"})
			i++
			continue
		case '[':
			tokens = append(tokens, token{typ: tokenLBracket, value: "["})
			i++
			continue
		case ']':
			tokens = append(tokens, token{typ: tokenRBracket, value: "]"})
			i++
			continue
		}

		if i+1 < len(expr) {
			switch expr[i : i+2] {
			case "==":
				tokens = append(tokens, token{typ: tokenEQ, value: "=="})
				i += 2
				continue
			case "!=":
				tokens = append(tokens, token{typ: tokenNE, value: "!="})
				i += 2
				continue
			case "<=":
				tokens = append(tokens, token{typ: tokenLE, value: "<="})
				i += 2
				continue
			case ">=":
				tokens = append(tokens, token{typ: tokenGE, value: ">="})
				i += 2
				continue
			case "&&":
				tokens = append(tokens, token{typ: tokenAnd, value: "&&"})
				i += 2
				continue
			case "||":
				tokens = append(tokens, token{typ: tokenOr, value: "||"})
				i += 2
				continue
			}
		}

		switch expr[i] {
		case '<':
			tokens = append(tokens, token{typ: tokenLT, value: "<"})
			i++
			continue
		case '>':
			tokens = append(tokens, token{typ: tokenGT, value: ">"})
			i++
			continue
		case '!':
			tokens = append(tokens, token{typ: tokenNot, value: "!"})
			i++
			continue
		}

		// String literals, single or double quoted.
		if expr[i] == '"' || expr[i] == '\'' {
			quote := expr[i]
			i++
			start := i
			for i < len(expr) && expr[i] != quote {
				if expr[i] == '\\' && i+1 < len(expr) {
					i += 2
				} else {
					i++
				}
			}
			if i >= len(expr) {
				return nil, fmt.Errorf("unterminated string literal")
			}
			tokens = append(tokens, token{typ: tokenString, value: expr[start:i]})
			i++
			continue
		}

		// Numbers.
		if expr[i] >= '0' && expr[i] <= '9' {
			start := i
			for i < len(expr) && ((expr[i] >= '0' && expr[i] <= '9') || expr[i] == '.') {
				i++
			}
			tokens = append(tokens, token{typ: tokenNumber, value: expr[start:i]})
			continue
		}

		// Identifiers and keywords.
		if isIdentStart(expr[i]) {
			start := i
			for i < len(expr) && isIdentChar(expr[i]) {
				i++
			}
			value := expr[start:i]
			if value == "true" || value == "false" {
				tokens = append(tokens, token{typ: tokenBool, value: value})
			} else {
				tokens = append(tokens, token{typ: tokenIdentifier, value: value})
			}
			continue
		}

		return nil, fmt.Errorf("unexpected character at position %d: %c", i, expr[i])
	}

	tokens = append(tokens, token{typ: tokenEOF})
	return tokens, nil
}

func isIdentStart(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || c == '_'
}

func isIdentChar(c byte) bool {
	return isIdentStart(c) || (c >= '0' && c <= '9')
}

// exprParser implements recursive descent over the token stream. Precedence,
// lowest first: || then && then ! then comparisons then primaries.
type exprParser struct {
	tokens    []token
	pos       int
	ec        *EvalContext
	evaluator *ConditionEvaluator
}

func (p *exprParser) current() token {
	if p.pos >= len(p.tokens) {
		return token{typ: tokenEOF}
	}
	return p.tokens[p.pos]
}

func (p *exprParser) advance() {
	if p.pos < len(p.tokens) {
		p.pos++
	}
}

func (p *exprParser) expect(typ tokenType) error {
	if p.current().typ != typ {
		return fmt.Errorf("expected token %v, got %v", typ, p.current().typ)
	}
	p.advance()
	return nil
}

func (p *exprParser) parseExpression() (any, error) {
	return p.parseOr()
}

func (p *exprParser) parseOr() (any, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}

	for p.current().typ == tokenOr {
		p.advance()
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		leftBool, lok := left.(bool)
		rightBool, rok := right.(bool)
		if !lok || !rok {
			return nil, fmt.Errorf("|| operator requires boolean operands")
		}
		left = leftBool || rightBool
	}
	return left, nil
}

func (p *exprParser) parseAnd() (any, error) {
	left, err := p.parseNot()
	if err != nil {
		return nil, err
	}

	for p.current().typ == tokenAnd {
		p.advance()
		right, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		leftBool, lok := left.(bool)
		rightBool, rok := right.(bool)
		if !lok || !rok {
			return nil, fmt.Errorf("&& operator requires boolean operands")
		}
		left = leftBool && rightBool
	}
	return left, nil
}

func (p *exprParser) parseNot() (any, error) {
	if p.current().typ == tokenNot {
		p.advance()
		expr, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		boolExpr, ok := expr.(bool)
		if !ok {
			return nil, fmt.Errorf("! operator requires boolean operand")
		}
		return !boolExpr, nil
	}
	return p.parseComparison()
}

func (p *exprParser) parseComparison() (any, error) {
	left, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}

	tok := p.current()
	switch tok.typ {
	case tokenEQ, tokenNE, tokenLT, tokenLE, tokenGT, tokenGE:
		p.advance()
		right, err := p.parsePrimary()
		if err != nil {
			return nil, err
		}
		return compareValues(left, right, tok.typ)
	}
	return left, nil
}

func (p *exprParser) parsePrimary() (any, error) {
	tok := p.current()

	switch tok.typ {
	case tokenBool:
		p.advance()
		return tok.value == "true", nil

	case tokenNumber:
		p.advance()
		return strconv.ParseFloat(tok.value, 64)

	case tokenString:
		p.advance()
		return tok.value, nil

	case tokenLParen:
		p.advance()
		expr, err := p.parseExpression()
		if err != nil {
			return nil, err
		}
		if err := p.expect(tokenRParen); err != nil {
			return nil, err
		}
		return expr, nil

	case tokenIdentifier:
		return p.parseIdentifierOrFunction()

	default:
		return nil, fmt.Errorf("unexpected token: %v", tok.typ)
	}
}

func (p *exprParser) parseIdentifierOrFunction() (any, error) {
	name := p.current().value
	p.advance()

	if p.current().typ == tokenLParen {
		return p.parseFunctionCall(name)
	}
	return p.resolvePath(name)
}

func (p *exprParser) parseFunctionCall(name string) (any, error) {
	fn, ok := p.evaluator.functions[name]
	if !ok {
		return nil, fmt.Errorf("unknown function: %s", name)
	}

	p.advance() // consume '('

	var args []any
	if p.current().typ != tokenRParen {
		for {
			arg, err := p.parseExpression()
			if err != nil {
				return nil, err
			}
			args = append(args, arg)

			if p.current().typ != tokenComma {
				break
			}
			p.advance()
		}
	}

	if err := p.expect(tokenRParen); err != nil {
		return nil, err
	}
	return fn(args)
}

// resolvePath resolves a dotted path like "steps.enrich.output.domain",
// including optional ["key"] / [index] access.
func (p *exprParser) resolvePath(name string) (any, error) {
	path := []string{name}

	for p.current().typ == tokenDot {
		p.advance()
		if p.current().typ != tokenIdentifier {
			return nil, fmt.Errorf("expected identifier after '.'")
		}
		path = append(path, p.current().value)
		p.advance()
	}

	current, err := p.resolvePathValue(path)
	if err != nil {
		return nil, err
	}

	for p.current().typ == tokenLBracket {
		p.advance()
		index, err := p.parseExpression()
		if err != nil {
			return nil, err
		}
		if err := p.expect(tokenRBracket); err != nil {
			return nil, err
		}

		switch v := current.(type) {
		case map[string]any:
			key, ok := index.(string)
			if !ok {
				return nil, fmt.Errorf("map index must be string")
			}
			current = v[key]
		case []any:
			num, ok := index.(float64)
			if !ok {
				return nil, fmt.Errorf("array index must be number")
			}
			idx := int(num)
			if idx < 0 || idx >= len(v) {
				return nil, fmt.Errorf("array index out of bounds: %d", idx)
			}
			current = v[idx]
		default:
			return nil, fmt.Errorf("cannot index %T", v)
		}

		// Allow trailing field access after indexing.
		for p.current().typ == tokenDot {
			p.advance()
			if p.current().typ != tokenIdentifier {
				return nil, fmt.Errorf("expected identifier after '.'")
			}
			field := p.current().value
			p.advance()
			m, ok := current.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("cannot access field %s on %T", field, current)
			}
			current = m[field]
		}
	}

	return current, nil
}

// resolvePathValue walks a path rooted at "steps" or "input".
func (p *exprParser) resolvePathValue(path []string) (any, error) {
	if len(path) == 0 {
		return nil, fmt.Errorf("empty path")
	}

	var current any

	switch path[0] {
	case "steps":
		if len(path) < 2 {
			return nil, fmt.Errorf("steps path requires a step alias")
		}
		if p.ec == nil || p.ec.Steps == nil {
			return nil, fmt.Errorf("no step results available")
		}
		alias := path[1]
		result, ok := p.ec.Steps[alias]
		if !ok {
			return nil, fmt.Errorf("step result not found: %s", alias)
		}
		current = map[string]any{
			"success":    result.Success,
			"skipped":    result.Skipped,
			"confidence": result.Confidence,
			"output":     result.Output,
			"error":      result.Error,
		}
		path = path[2:]

	case "input":
		if p.ec == nil || p.ec.Input == nil {
			return nil, fmt.Errorf("no workflow input available")
		}
		current = p.ec.Input
		path = path[1:]

	default:
		return nil, fmt.Errorf("unknown path root %q (want steps or input)", path[0])
	}

	for _, segment := range path {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("cannot access field %s on %T", segment, current)
		}
		current = m[segment]
		if current == nil {
			return nil, nil
		}
	}
	return current, nil
}

func compareValues(left, right any, op tokenType) (bool, error) {
	switch op {
	case tokenEQ:
		return looseEquals(left, right), nil
	case tokenNE:
		return !looseEquals(left, right), nil
	case tokenLT, tokenLE, tokenGT, tokenGE:
		return compareOrdered(left, right, op)
	default:
		return false, fmt.Errorf("unknown comparison operator: %v", op)
	}
}

func looseEquals(left, right any) bool {
	if left == nil && right == nil {
		return true
	}
	if left == nil || right == nil {
		return false
	}

	// Numbers compare across integer/float representations.
	if ln, ok := toNumber(left); ok {
		if rn, rok := toNumber(right); rok {
			return ln == rn
		}
		return false
	}

	switch l := left.(type) {
	case bool:
		r, ok := right.(bool)
		return ok && l == r
	case string:
		r, ok := right.(string)
		return ok && l == r
	default:
		return false
	}
}

func compareOrdered(left, right any, op tokenType) (bool, error) {
	leftNum, leftOk := toNumber(left)
	rightNum, rightOk := toNumber(right)

	if !leftOk || !rightOk {
		leftStr, lok := left.(string)
		rightStr, rok := right.(string)
		if !lok || !rok {
			return false, fmt.Errorf("cannot compare %T and %T", left, right)
		}
		switch op {
		case tokenLT:
			return leftStr < rightStr, nil
		case tokenLE:
			return leftStr <= rightStr, nil
		case tokenGT:
			return leftStr > rightStr, nil
		case tokenGE:
			return leftStr >= rightStr, nil
		}
	}

	switch op {
	case tokenLT:
		return leftNum < rightNum, nil
	case tokenLE:
		return leftNum <= rightNum, nil
	case tokenGT:
		return leftNum > rightNum, nil
	case tokenGE:
		return leftNum >= rightNum, nil
	default:
		return false, fmt.Errorf("unknown comparison operator: %v", op)
	}
}

func toNumber(v any) (float64, bool) {
	switch val := v.(type) {
	case float64:
		return val, true
	case float32:
		return float64(val), true
	case int:
		return float64(val), true
	case int32:
		return float64(val), true
	case int64:
		return float64(val), true
	}
	return 0, false
}
