package condition

import (
	"fmt"
	"strconv"
	"strings"
)

// Match is a comparison that contributed to a condition's result, with the values it saw.
type Match struct {
	Field     string  `json:"field"`
	Value     float64 `json:"value"`
	Op        Op      `json:"op"`
	Limit     float64 `json:"limit"`
	Threshold string  `json:"threshold,omitempty"` // empty when the limit is a literal
}

// String renders "temperature=90 > max_temperature=80" or "pressure=0.5 < 1".
func (m Match) String() string {
	limit := strconv.FormatFloat(m.Limit, 'g', -1, 64)
	if m.Threshold != "" {
		limit = m.Threshold + "=" + limit
	}
	return fmt.Sprintf("%s=%s %s %s", m.Field, strconv.FormatFloat(m.Value, 'g', -1, 64), m.Op, limit)
}

// Explain lists the comparisons that made n evaluate the way it did. Comparisons under a
// Not are reported when they were false. Only comparisons with a sensor operand are reported.
func Explain(n Node, b Bindings) []Match {
	var out []Match
	explain(n, b, false, &out)
	return out
}

func explain(n Node, b Bindings, negated bool, out *[]Match) {
	switch n := n.(type) {
	case *Comparison:
		want := True
		if negated {
			want = False
		}
		if n.Test(b) != want {
			return
		}
		if m, ok := n.match(b); ok {
			if negated {
				m.Op = m.Op.negate()
			}
			*out = append(*out, m)
		}
	case *And:
		for _, t := range n.Terms {
			explain(t, b, negated, out)
		}
	case *Or:
		for _, t := range n.Terms {
			explain(t, b, negated, out)
		}
	case *Not:
		explain(n.Term, b, !negated, out)
	}
}

func (c *Comparison) match(b Bindings) (Match, bool) {
	field, other, op := c.Left, c.Right, c.Op
	if field.Kind != KindField {
		field, other, op = c.Right, c.Left, op.flip()
	}
	v, ok := field.resolve(b)
	if !ok {
		return Match{}, false
	}
	limit, ok := other.resolve(b)
	if !ok {
		return Match{}, false
	}
	m := Match{Field: field.Name, Value: v, Op: op, Limit: limit}
	if other.Kind == KindThreshold {
		m.Threshold = other.Name
	}
	return m, true
}

func (o Op) negate() Op {
	switch o {
	case OpGT:
		return OpLTE
	case OpGTE:
		return OpLT
	case OpLT:
		return OpGTE
	case OpLTE:
		return OpGT
	case OpEQ:
		return OpNE
	case OpNE:
		return OpEQ
	}
	return o
}

func (o Op) flip() Op {
	switch o {
	case OpGT:
		return OpLT
	case OpGTE:
		return OpLTE
	case OpLT:
		return OpGT
	case OpLTE:
		return OpGTE
	}
	return o
}

// Describe joins matches into a single line for alerts and logs.
func Describe(ms []Match) string {
	parts := make([]string, len(ms))
	for i, m := range ms {
		parts[i] = m.String()
	}
	return strings.Join(parts, ", ")
}

// Fields returns the sensor names n references, in first-seen order.
func Fields(n Node) []string {
	seen := map[string]bool{}
	var out []string
	var walk func(Node)
	walk = func(n Node) {
		switch n := n.(type) {
		case *Comparison:
			for _, o := range []Operand{n.Left, n.Right} {
				if o.Kind == KindField && !seen[o.Name] {
					seen[o.Name] = true
					out = append(out, o.Name)
				}
			}
		case *And:
			for _, t := range n.Terms {
				walk(t)
			}
		case *Or:
			for _, t := range n.Terms {
				walk(t)
			}
		case *Not:
			walk(n.Term)
		}
	}
	walk(n)
	return out
}
