package condition

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testOpts = Options{
	Fields: []string{"temperature", "pressure"},
	Thresholds: map[string]float64{
		"max_temperature": 80,
		"max_pressure":    8,
		"min_pressure":    1,
	},
}

func bind(values map[string]float64) Bindings {
	return Bindings{Values: values, Thresholds: testOpts.Thresholds}
}

func TestParse_Evaluate(t *testing.T) {
	tests := []struct {
		name   string
		expr   string
		values map[string]float64
		want   bool
	}{
		{"above threshold", "temperature > max_temperature", map[string]float64{"temperature": 90}, true},
		{"at threshold", "temperature > max_temperature", map[string]float64{"temperature": 80}, false},
		{"gte at threshold", "temperature >= max_temperature", map[string]float64{"temperature": 80}, true},
		{"literal", "pressure < 1.5", map[string]float64{"pressure": 1.2}, true},
		{"negative literal", "temperature > -5", map[string]float64{"temperature": -1}, true},
		{"reversed operands", "max_pressure < pressure", map[string]float64{"pressure": 9}, true},
		{"and both", "temperature > 50 and pressure > 2", map[string]float64{"temperature": 60, "pressure": 3}, true},
		{"and one", "temperature > 50 && pressure > 2", map[string]float64{"temperature": 60, "pressure": 1}, false},
		{"or one", "temperature > 50 || pressure > 2", map[string]float64{"temperature": 10, "pressure": 3}, true},
		{"not", "not pressure > max_pressure", map[string]float64{"pressure": 3}, true},
		{"bang not", "!(pressure > max_pressure)", map[string]float64{"pressure": 9}, false},
		{"precedence", "temperature > 90 or temperature > 50 and pressure > 2", map[string]float64{"temperature": 60, "pressure": 1}, false},
		{"parens", "(temperature > 90 or temperature > 50) and pressure > 2", map[string]float64{"temperature": 60, "pressure": 3}, true},
		{"equality", "pressure == 2", map[string]float64{"pressure": 2}, true},
		{"inequality", "pressure != 2", map[string]float64{"pressure": 2}, false},
		{"upper case keywords", "temperature > 1 AND pressure > 1", map[string]float64{"temperature": 2, "pressure": 2}, true},
		{"missing sensor", "pressure > max_pressure", map[string]float64{"temperature": 99}, false},
		{"missing sensor under not", "not pressure > max_pressure", map[string]float64{"temperature": 99}, false},
		{"missing sensor under not lt", "not temperature < 80", map[string]float64{"pressure": 3}, false},
		{"missing sensor under double not", "not not temperature < 80", map[string]float64{"pressure": 3}, false},
		{"or with known true term", "temperature > 80 or pressure > 2", map[string]float64{"pressure": 3}, true},
		{"not over or with missing term", "not (temperature > 80 or pressure > 2)", map[string]float64{"pressure": 1}, false},
		{"and with known false term under not", "not (temperature > 80 and pressure > 2)", map[string]float64{"pressure": 1}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n, err := Parse(tt.expr, testOpts)
			require.NoError(t, err)
			assert.Equal(t, tt.want, n.Eval(bind(tt.values)))
		})
	}
}

func TestNode_Test(t *testing.T) {
	tests := []struct {
		expr   string
		values map[string]float64
		want   Truth
	}{
		{"temperature > 80", map[string]float64{"temperature": 90}, True},
		{"temperature > 80", map[string]float64{"temperature": 70}, False},
		{"temperature > 80", map[string]float64{"pressure": 3}, Unknown},
		{"not temperature > 80", map[string]float64{"pressure": 3}, Unknown},
		{"temperature > 80 and pressure > 2", map[string]float64{"pressure": 3}, Unknown},
		{"temperature > 80 and pressure > 2", map[string]float64{"pressure": 1}, False},
		{"temperature > 80 or pressure > 2", map[string]float64{"pressure": 1}, Unknown},
		{"temperature > 80 or pressure > 2", map[string]float64{"pressure": 3}, True},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			n, err := Parse(tt.expr, testOpts)
			require.NoError(t, err)
			assert.Equal(t, tt.want, n.Test(bind(tt.values)), tt.want.String())
		})
	}
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name string
		expr string
	}{
		{"empty", "   "},
		{"unknown identifier", "humidity > 10"},
		{"no sensor", "max_temperature > 10"},
		{"missing operand", "temperature >"},
		{"missing operator", "temperature 10"},
		{"dangling and", "temperature > 1 and"},
		{"unbalanced", "(temperature > 1"},
		{"extra paren", "temperature > 1)"},
		{"single ampersand", "temperature > 1 & pressure > 1"},
		{"code injection", "__import__('os')"},
		{"bad char", "temperature > 1; rm"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.expr, testOpts)
			assert.Error(t, err)
		})
	}

	_, err := Parse("", testOpts)
	assert.ErrorIs(t, err, ErrEmpty)

	_, err = Parse("temperature >> 1", testOpts)
	var se *SyntaxError
	assert.ErrorAs(t, err, &se)
}

func TestParse_OpenFieldSet(t *testing.T) {
	n, err := Parse("humidity > 10", Options{})
	require.NoError(t, err)
	assert.True(t, n.Eval(Bindings{Values: map[string]float64{"humidity": 11}}))
}

func TestNode_String(t *testing.T) {
	n := MustParse("temperature>max_temperature and (pressure<1 or not pressure>8)", testOpts)
	assert.Equal(t, "temperature > max_temperature and (pressure < 1 or not pressure > 8)", n.String())

	// the rendering parses back to the same tree
	again, err := Parse(n.String(), testOpts)
	require.NoError(t, err)
	assert.Equal(t, n, again)
}

func TestSpec_Build(t *testing.T) {
	eighty := 80.0
	spec := Spec{
		Logic: "or",
		Conditions: []Spec{
			{Field: "temperature", Operator: "gt", Value: &eighty},
			{Field: "pressure", Operator: "gte", Threshold: "max_pressure"},
		},
	}
	n, err := spec.Build(testOpts)
	require.NoError(t, err)
	assert.Equal(t, "temperature > 80 or pressure >= max_pressure", n.String())
	assert.True(t, n.Eval(bind(map[string]float64{"pressure": 8})))
	assert.False(t, n.Eval(bind(map[string]float64{"temperature": 70})))

	single := Spec{Conditions: []Spec{{Field: "pressure", Operator: "<", Threshold: "min_pressure"}}}
	n, err = single.Build(testOpts)
	require.NoError(t, err)
	assert.IsType(t, &Comparison{}, n)

	neg := Spec{Not: &Spec{Field: "pressure", Operator: "lt", Threshold: "min_pressure"}}
	n, err = neg.Build(testOpts)
	require.NoError(t, err)
	assert.Equal(t, "not pressure < min_pressure", n.String())
}

func TestSpec_BuildErrors(t *testing.T) {
	one := 1.0
	tests := []struct {
		name string
		spec Spec
	}{
		{"empty", Spec{}},
		{"bad operator", Spec{Field: "pressure", Operator: "contains", Value: &one}},
		{"no limit", Spec{Field: "pressure", Operator: "gt"}},
		{"both limits", Spec{Field: "pressure", Operator: "gt", Value: &one, Threshold: "max_pressure"}},
		{"unknown threshold", Spec{Field: "pressure", Operator: "gt", Threshold: "nope"}},
		{"unknown field", Spec{Field: "humidity", Operator: "gt", Value: &one}},
		{"threshold as field", Spec{Field: "max_pressure", Operator: "gt", Value: &one}},
		{"bad logic", Spec{Logic: "xor", Conditions: []Spec{
			{Field: "pressure", Operator: "gt", Value: &one},
			{Field: "temperature", Operator: "gt", Value: &one},
		}}},
		{"nested error", Spec{Conditions: []Spec{{Field: "pressure"}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.spec.Build(testOpts)
			assert.Error(t, err)
		})
	}
}

func TestExplain(t *testing.T) {
	n := MustParse("temperature > max_temperature or pressure > max_pressure", testOpts)
	ms := Explain(n, bind(map[string]float64{"temperature": 90, "pressure": 2}))

	require.Len(t, ms, 1)
	assert.Equal(t, Match{Field: "temperature", Value: 90, Op: OpGT, Limit: 80, Threshold: "max_temperature"}, ms[0])
	assert.Equal(t, "temperature=90 > max_temperature=80", ms[0].String())

	reversed := MustParse("1 > pressure", testOpts)
	ms = Explain(reversed, bind(map[string]float64{"pressure": 0.5}))
	assert.Equal(t, "pressure=0.5 < 1", Describe(ms))

	negated := MustParse("not pressure > max_pressure", testOpts)
	ms = Explain(negated, bind(map[string]float64{"pressure": 3}))
	assert.Equal(t, "pressure=3 <= max_pressure=8", Describe(ms))
}

func TestFields(t *testing.T) {
	n := MustParse("pressure > 1 and (temperature > 2 or pressure < 9)", testOpts)
	assert.Equal(t, []string{"pressure", "temperature"}, Fields(n))
}
