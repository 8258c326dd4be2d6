package condition

import (
	"errors"
	"fmt"
	"strings"
)

// Logic operators of a structured condition.
const (
	LogicAnd = "and"
	LogicOr  = "or"
)

// Spec is the structured form of a condition, as found in JSON or YAML rule files.
// A Spec is either a group (Logic + Conditions), a negation (Not) or a leaf
// comparing Field against a literal Value or a named Threshold.
type Spec struct {
	Logic      string `json:"logic,omitempty" yaml:"logic,omitempty"`
	Conditions []Spec `json:"conditions,omitempty" yaml:"conditions,omitempty"`
	Not        *Spec  `json:"not,omitempty" yaml:"not,omitempty"`

	Field     string   `json:"field,omitempty" yaml:"field,omitempty"`
	Operator  string   `json:"operator,omitempty" yaml:"operator,omitempty"`
	Value     *float64 `json:"value,omitempty" yaml:"value,omitempty"`
	Threshold string   `json:"threshold,omitempty" yaml:"threshold,omitempty"`
}

// Build validates the spec and compiles it. An empty Logic means "and".
func (s Spec) Build(opts Options) (Node, error) {
	switch {
	case s.Not != nil:
		if len(s.Conditions) > 0 || s.Field != "" {
			return nil, errors.New("condition: not cannot be combined with other keys")
		}
		n, err := s.Not.Build(opts)
		if err != nil {
			return nil, err
		}
		return &Not{Term: n}, nil

	case len(s.Conditions) > 0:
		if s.Field != "" {
			return nil, errors.New("condition: a group cannot also have a field")
		}
		terms := make([]Node, 0, len(s.Conditions))
		for i, c := range s.Conditions {
			n, err := c.Build(opts)
			if err != nil {
				return nil, fmt.Errorf("conditions[%d]: %w", i, err)
			}
			terms = append(terms, n)
		}
		if len(terms) == 1 {
			return terms[0], nil
		}
		switch strings.ToLower(s.Logic) {
		case LogicAnd, "":
			return &And{Terms: terms}, nil
		case LogicOr:
			return &Or{Terms: terms}, nil
		}
		return nil, fmt.Errorf("condition: unsupported logic operator %q", s.Logic)

	case s.Field != "":
		return s.leaf(opts)
	}
	return nil, ErrEmpty
}

func (s Spec) leaf(opts Options) (Node, error) {
	left, err := opts.classify(s.Field)
	if err != nil {
		return nil, fmt.Errorf("condition: %w", err)
	}
	if left.Kind != KindField {
		return nil, fmt.Errorf("condition: %q is a threshold, not a sensor", s.Field)
	}
	op, err := ParseOp(s.Operator)
	if err != nil {
		return nil, fmt.Errorf("condition: field %s: %w", s.Field, err)
	}

	var right Operand
	switch {
	case s.Value != nil && s.Threshold != "":
		return nil, fmt.Errorf("condition: field %s: value and threshold are exclusive", s.Field)
	case s.Value != nil:
		right = Literal(*s.Value)
	case s.Threshold != "":
		if _, ok := opts.Thresholds[s.Threshold]; !ok {
			return nil, fmt.Errorf("condition: unknown threshold %q", s.Threshold)
		}
		right = Threshold(s.Threshold)
	default:
		return nil, fmt.Errorf("condition: field %s: missing value or threshold", s.Field)
	}
	return &Comparison{Left: left, Op: op, Right: right}, nil
}
