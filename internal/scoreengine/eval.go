// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package scoreengine

import "fmt"

type valueKind int

const (
	kindNumber valueKind = iota
	kindString
	kindBool
)

// value is the tagged union every node evaluates to; it deliberately
// has no list/map/function variants, matching the mandated grammar.
type value struct {
	kind valueKind
	num  float64
	str  string
	b    bool
}

func numberValue(n float64) value { return value{kind: kindNumber, num: n} }
func stringValue(s string) value  { return value{kind: kindString, str: s} }
func boolValue(b bool) value      { return value{kind: kindBool, b: b} }

// EvalError reports a type mismatch or unsupported operation found
// while walking the tree at runtime (e.g. adding a string to a bool).
type EvalError struct {
	Msg string
}

func (e *EvalError) Error() string { return "scoreengine: eval error: " + e.Msg }

// Env is the variable environment a compiled expression is evaluated
// against; unknown identifiers evaluate to 0.0 rather than erroring,
// so a rule referencing a feature not present in an older behavior
// vector degrades gracefully instead of crashing the scoring task.
type Env map[string]float64

func (env Env) lookup(name string) value {
	if v, ok := env[name]; ok {
		return numberValue(v)
	}
	return numberValue(0)
}

func evalNode(n Node, env Env) (value, error) {
	switch t := n.(type) {
	case NumberLit:
		return numberValue(t.Value), nil
	case StringLit:
		return stringValue(t.Value), nil
	case BoolLit:
		return boolValue(t.Value), nil
	case Ident:
		return env.lookup(t.Name), nil
	case Unary:
		return evalUnary(t, env)
	case Binary:
		return evalBinary(t, env)
	case Compare:
		return evalCompare(t, env)
	case Logical:
		return evalLogical(t, env)
	default:
		return value{}, &EvalError{Msg: fmt.Sprintf("unsupported node type %T", n)}
	}
}

func evalUnary(u Unary, env Env) (value, error) {
	x, err := evalNode(u.X, env)
	if err != nil {
		return value{}, err
	}
	switch u.Op {
	case "+":
		if x.kind != kindNumber {
			return value{}, &EvalError{Msg: "unary '+' requires a number"}
		}
		return x, nil
	case "-":
		if x.kind != kindNumber {
			return value{}, &EvalError{Msg: "unary '-' requires a number"}
		}
		return numberValue(-x.num), nil
	case "not":
		b, err := asBool(x)
		if err != nil {
			return value{}, err
		}
		return boolValue(!b), nil
	default:
		return value{}, &EvalError{Msg: "unknown unary operator " + u.Op}
	}
}

func evalBinary(b Binary, env Env) (value, error) {
	x, err := evalNode(b.X, env)
	if err != nil {
		return value{}, err
	}
	y, err := evalNode(b.Y, env)
	if err != nil {
		return value{}, err
	}
	if x.kind != kindNumber || y.kind != kindNumber {
		return value{}, &EvalError{Msg: fmt.Sprintf("operator %q requires two numbers", b.Op)}
	}
	switch b.Op {
	case "+":
		return numberValue(x.num + y.num), nil
	case "-":
		return numberValue(x.num - y.num), nil
	case "*":
		return numberValue(x.num * y.num), nil
	case "/":
		if y.num == 0 {
			return numberValue(0), nil
		}
		return numberValue(x.num / y.num), nil
	case "%":
		if y.num == 0 {
			return numberValue(0), nil
		}
		return numberValue(float64(int64(x.num) % int64(y.num))), nil
	default:
		return value{}, &EvalError{Msg: "unknown binary operator " + b.Op}
	}
}

func evalCompare(c Compare, env Env) (value, error) {
	operands := make([]value, len(c.Operands))
	for i, n := range c.Operands {
		v, err := evalNode(n, env)
		if err != nil {
			return value{}, err
		}
		operands[i] = v
	}
	for i, op := range c.Ops {
		ok, err := compareOne(op, operands[i], operands[i+1])
		if err != nil {
			return value{}, err
		}
		if !ok {
			return boolValue(false), nil
		}
	}
	return boolValue(true), nil
}

func compareOne(op string, x, y value) (bool, error) {
	if x.kind != y.kind {
		return false, &EvalError{Msg: "cannot compare values of different types"}
	}
	switch x.kind {
	case kindNumber:
		switch op {
		case "<":
			return x.num < y.num, nil
		case "<=":
			return x.num <= y.num, nil
		case ">":
			return x.num > y.num, nil
		case ">=":
			return x.num >= y.num, nil
		case "==":
			return x.num == y.num, nil
		case "!=":
			return x.num != y.num, nil
		}
	case kindString:
		switch op {
		case "==":
			return x.str == y.str, nil
		case "!=":
			return x.str != y.str, nil
		default:
			return false, &EvalError{Msg: "operator " + op + " is not supported for strings"}
		}
	case kindBool:
		switch op {
		case "==":
			return x.b == y.b, nil
		case "!=":
			return x.b != y.b, nil
		default:
			return false, &EvalError{Msg: "operator " + op + " is not supported for booleans"}
		}
	}
	return false, &EvalError{Msg: "unreachable comparison"}
}

func evalLogical(l Logical, env Env) (value, error) {
	switch l.Op {
	case "and":
		for _, term := range l.Terms {
			v, err := evalNode(term, env)
			if err != nil {
				return value{}, err
			}
			b, err := asBool(v)
			if err != nil {
				return value{}, err
			}
			if !b {
				return boolValue(false), nil
			}
		}
		return boolValue(true), nil
	case "or":
		for _, term := range l.Terms {
			v, err := evalNode(term, env)
			if err != nil {
				return value{}, err
			}
			b, err := asBool(v)
			if err != nil {
				return value{}, err
			}
			if b {
				return boolValue(true), nil
			}
		}
		return boolValue(false), nil
	default:
		return value{}, &EvalError{Msg: "unknown logical operator " + l.Op}
	}
}

func asBool(v value) (bool, error) {
	switch v.kind {
	case kindBool:
		return v.b, nil
	case kindNumber:
		return v.num != 0, nil
	default:
		return false, &EvalError{Msg: "cannot use a string as a boolean condition"}
	}
}

func asFloat(v value) (float64, error) {
	switch v.kind {
	case kindNumber:
		return v.num, nil
	case kindBool:
		if v.b {
			return 1, nil
		}
		return 0, nil
	default:
		return 0, &EvalError{Msg: "cannot use a string as a numeric result"}
	}
}
