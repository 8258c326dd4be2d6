package controller

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Threshold names used by the built-in rules.
const (
	ThresholdMaxTemperature = "max_temperature"
	ThresholdMaxPressure    = "max_pressure"
	ThresholdMinPressure    = "min_pressure"
)

// DefaultThresholds are the limits used when THRESHOLDS does not override them.
func DefaultThresholds() map[string]float64 {
	return map[string]float64{
		ThresholdMaxTemperature: 80, // °C
		ThresholdMaxPressure:    8,  // bar
		ThresholdMinPressure:    1,  // bar
	}
}

// DefaultRules is the rule set loaded at startup when no rules file is configured.
func DefaultRules() []RuleConfig {
	return []RuleConfig{
		{
			ID:          "high_temperature",
			Description: "Close the valve when the bolt overheats",
			Condition:   ConditionConfig{Expr: "temperature > max_temperature"},
			Action:      string(ActionCloseValve),
		},
		{
			ID:          "high_pressure",
			Description: "Close the valve on overpressure",
			Condition:   ConditionConfig{Expr: "pressure > max_pressure"},
			Action:      string(ActionCloseValve),
		},
		{
			ID:          "low_pressure",
			Description: "Open the valve when line pressure drops",
			Condition:   ConditionConfig{Expr: "pressure < min_pressure"},
			Action:      string(ActionOpenValve),
		},
	}
}

type ruleFile struct {
	Rules []RuleConfig `json:"rules" yaml:"rules"`
}

// LoadRuleFile reads rules from a JSON or YAML file (by extension). The file holds either a
// list of rules or an object with a "rules" list.
func LoadRuleFile(path string) ([]RuleConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rules file %s: %w", path, err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return decodeRulesYAML(data)
	default:
		return decodeRulesJSON(data)
	}
}

func decodeRulesJSON(data []byte) ([]RuleConfig, error) {
	var list []RuleConfig
	if err := json.Unmarshal(data, &list); err == nil {
		return list, nil
	} else if trimmed := strings.TrimSpace(string(data)); strings.HasPrefix(trimmed, "[") {
		return nil, fmt.Errorf("parse rules: %w", err)
	}
	var f ruleFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse rules: %w", err)
	}
	return f.Rules, nil
}

func decodeRulesYAML(data []byte) ([]RuleConfig, error) {
	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("parse rules: %w", err)
	}
	if len(root.Content) == 0 {
		return nil, nil
	}
	doc := root.Content[0]
	if doc.Kind == yaml.SequenceNode {
		var list []RuleConfig
		if err := doc.Decode(&list); err != nil {
			return nil, fmt.Errorf("parse rules: %w", err)
		}
		return list, nil
	}
	var f ruleFile
	if err := doc.Decode(&f); err != nil {
		return nil, fmt.Errorf("parse rules: %w", err)
	}
	return f.Rules, nil
}

// ParseThresholds reads "max_temperature=80,max_pressure=7.5" on top of base.
func ParseThresholds(s string, base map[string]float64) (map[string]float64, error) {
	out := make(map[string]float64, len(base))
	for k, v := range base {
		out[k] = v
	}
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name, val, ok := strings.Cut(part, "=")
		if !ok {
			return nil, fmt.Errorf("threshold %q: want name=value", part)
		}
		f, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
		if err != nil {
			return nil, fmt.Errorf("threshold %q: %w", part, err)
		}
		out[strings.TrimSpace(name)] = f
	}
	return out, nil
}
