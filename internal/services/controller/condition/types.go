// Package condition is the boolean language rule conditions are written in.
//
// A condition compares sensor values, named thresholds and numeric literals and combines the
// comparisons with and/or/not. Conditions are parsed and validated once, when a rule is created,
// into a small tree of Nodes; evaluating a Node never executes user supplied text.
package condition

import (
	"fmt"
	"strconv"
	"strings"
)

// Op is a comparison operator.
type Op string

const (
	OpGT  Op = ">"
	OpGTE Op = ">="
	OpLT  Op = "<"
	OpLTE Op = "<="
	OpEQ  Op = "=="
	OpNE  Op = "!="
)

// ParseOp accepts symbols and the word forms used in structured conditions (gt, lte, ...).
func ParseOp(s string) (Op, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case ">", "gt":
		return OpGT, nil
	case ">=", "gte", "ge":
		return OpGTE, nil
	case "<", "lt":
		return OpLT, nil
	case "<=", "lte", "le":
		return OpLTE, nil
	case "==", "=", "eq":
		return OpEQ, nil
	case "!=", "<>", "ne", "neq":
		return OpNE, nil
	}
	return "", fmt.Errorf("unsupported operator %q", s)
}

func (o Op) apply(a, b float64) bool {
	switch o {
	case OpGT:
		return a > b
	case OpGTE:
		return a >= b
	case OpLT:
		return a < b
	case OpLTE:
		return a <= b
	case OpEQ:
		return a == b
	case OpNE:
		return a != b
	}
	return false
}

// OperandKind tells where an operand takes its value from.
type OperandKind int

const (
	// KindField is a sensor value of the reading being evaluated.
	KindField OperandKind = iota
	// KindThreshold is a configured threshold constant.
	KindThreshold
	// KindLiteral is a number written in the condition.
	KindLiteral
)

// Operand is one side of a comparison.
type Operand struct {
	Kind  OperandKind
	Name  string  // field or threshold name
	Value float64 // literal value
}

func Field(name string) Operand     { return Operand{Kind: KindField, Name: name} }
func Threshold(name string) Operand { return Operand{Kind: KindThreshold, Name: name} }
func Literal(v float64) Operand     { return Operand{Kind: KindLiteral, Value: v} }

func (o Operand) String() string {
	if o.Kind == KindLiteral {
		return strconv.FormatFloat(o.Value, 'g', -1, 64)
	}
	return o.Name
}

func (o Operand) resolve(b Bindings) (float64, bool) {
	switch o.Kind {
	case KindField:
		v, ok := b.Values[o.Name]
		return v, ok
	case KindThreshold:
		v, ok := b.Thresholds[o.Name]
		return v, ok
	default:
		return o.Value, true
	}
}

// Bindings is the variable namespace a condition is evaluated against.
type Bindings struct {
	Values     map[string]float64 // sensor kind -> measured value
	Thresholds map[string]float64 // threshold name -> configured limit
}

// Truth is the result of testing a condition: a comparison about a sensor the reading does not
// carry is Unknown, and Unknown stays Unknown through not.
type Truth int8

const (
	Unknown Truth = iota
	False
	True
)

func truth(v bool) Truth {
	if v {
		return True
	}
	return False
}

func (t Truth) String() string {
	switch t {
	case True:
		return "true"
	case False:
		return "false"
	}
	return "unknown"
}

// Node is a compiled condition.
type Node interface {
	// Test is pure: it reads the bindings and nothing else.
	Test(b Bindings) Truth
	// Eval reports whether Test is definitely True.
	Eval(b Bindings) bool
	String() string
}

// Comparison is the only leaf. It is Unknown when either side is unbound,
// so a partial reading never satisfies a condition about the missing sensor.
type Comparison struct {
	Left  Operand
	Op    Op
	Right Operand
}

func (c *Comparison) Test(b Bindings) Truth {
	l, ok := c.Left.resolve(b)
	if !ok {
		return Unknown
	}
	r, ok := c.Right.resolve(b)
	if !ok {
		return Unknown
	}
	return truth(c.Op.apply(l, r))
}

func (c *Comparison) Eval(b Bindings) bool { return c.Test(b) == True }

func (c *Comparison) String() string {
	return c.Left.String() + " " + string(c.Op) + " " + c.Right.String()
}

// And is False when any term is False, True when every term is True, Unknown otherwise.
type And struct{ Terms []Node }

func (n *And) Test(b Bindings) Truth {
	out := True
	for _, t := range n.Terms {
		switch t.Test(b) {
		case False:
			return False
		case Unknown:
			out = Unknown
		}
	}
	return out
}

func (n *And) Eval(b Bindings) bool { return n.Test(b) == True }
func (n *And) String() string       { return join(n.Terms, " and ") }

// Or is True when any term is True, False when every term is False, Unknown otherwise.
type Or struct{ Terms []Node }

func (n *Or) Test(b Bindings) Truth {
	out := False
	for _, t := range n.Terms {
		switch t.Test(b) {
		case True:
			return True
		case Unknown:
			out = Unknown
		}
	}
	return out
}

func (n *Or) Eval(b Bindings) bool { return n.Test(b) == True }
func (n *Or) String() string       { return join(n.Terms, " or ") }

// Not negates a known term.
type Not struct{ Term Node }

func (n *Not) Test(b Bindings) Truth {
	switch n.Term.Test(b) {
	case True:
		return False
	case False:
		return True
	}
	return Unknown
}

func (n *Not) Eval(b Bindings) bool { return n.Test(b) == True }
func (n *Not) String() string       { return "not " + group(n.Term) }

func join(terms []Node, sep string) string {
	parts := make([]string, len(terms))
	for i, t := range terms {
		parts[i] = group(t)
	}
	return strings.Join(parts, sep)
}

func group(n Node) string {
	switch n.(type) {
	case *And, *Or:
		return "(" + n.String() + ")"
	}
	return n.String()
}
