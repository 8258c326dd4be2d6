package controller

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/LeonardoBeccarini/smartbolt/internal/services/controller/condition"
)

// Action is what a rule asks the dispatcher to do.
type Action string

const (
	ActionOpenValve  Action = "open_valve"
	ActionCloseValve Action = "close_valve"
)

// NormalizeAction maps "Close-Valve", "close valve" and "close_valve" to the same action.
func NormalizeAction(s string) Action {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.NewReplacer("-", "_", " ", "_").Replace(s)
	return Action(s)
}

func (a Action) Known() bool {
	return a == ActionOpenValve || a == ActionCloseValve
}

// Duration reads "90s", "2m" or a plain number of seconds.
type Duration time.Duration

func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	switch v := v.(type) {
	case float64:
		*d = Duration(v * float64(time.Second))
		return nil
	case string:
		return d.parse(v)
	}
	return fmt.Errorf("cooldown: want duration string or seconds, got %s", string(b))
}

func (d *Duration) UnmarshalYAML(n *yaml.Node) error {
	if n.Kind != yaml.ScalarNode {
		return fmt.Errorf("cooldown: line %d: want a scalar", n.Line)
	}
	return d.parse(n.Value)
}

func (d *Duration) parse(s string) error {
	s = strings.TrimSpace(s)
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		*d = Duration(f * float64(time.Second))
		return nil
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("cooldown: %w", err)
	}
	*d = Duration(v)
	return nil
}

// ConditionConfig is a condition as written in config: either an expression string or a
// structured condition.Spec.
type ConditionConfig struct {
	Expr string
	Spec *condition.Spec
}

func (c ConditionConfig) IsZero() bool { return c.Expr == "" && c.Spec == nil }

func (c ConditionConfig) MarshalJSON() ([]byte, error) {
	if c.Spec != nil {
		return json.Marshal(c.Spec)
	}
	return json.Marshal(c.Expr)
}

func (c *ConditionConfig) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*c = ConditionConfig{Expr: s}
		return nil
	}
	var spec condition.Spec
	if err := json.Unmarshal(b, &spec); err != nil {
		return fmt.Errorf("condition: want expression string or object: %w", err)
	}
	*c = ConditionConfig{Spec: &spec}
	return nil
}

func (c *ConditionConfig) UnmarshalYAML(n *yaml.Node) error {
	switch n.Kind {
	case yaml.ScalarNode:
		*c = ConditionConfig{Expr: n.Value}
		return nil
	case yaml.MappingNode:
		var spec condition.Spec
		if err := n.Decode(&spec); err != nil {
			return err
		}
		*c = ConditionConfig{Spec: &spec}
		return nil
	}
	return fmt.Errorf("condition: line %d: want expression string or mapping", n.Line)
}

func (c ConditionConfig) compile(opts condition.Options) (condition.Node, error) {
	if c.Spec != nil {
		return c.Spec.Build(opts)
	}
	return condition.Parse(c.Expr, opts)
}

// RuleConfig is the input of add_rule and of rule files.
type RuleConfig struct {
	ID          string          `json:"id,omitempty" yaml:"id,omitempty"`
	Description string          `json:"description,omitempty" yaml:"description,omitempty"`
	Condition   ConditionConfig `json:"condition" yaml:"condition"`
	Action      string          `json:"action" yaml:"action"`
	// nil means the store default
	Cooldown *Duration `json:"cooldown,omitempty" yaml:"cooldown,omitempty"`
}

// Rule is a compiled rule. Only lastFired changes after creation, and only through tryFire.
type Rule struct {
	ID          string
	Description string
	Condition   condition.Node
	Action      Action
	Cooldown    time.Duration

	mu        sync.Mutex
	lastFired time.Time
}

// tryFire marks the rule fired at now and reports true, unless it already fired
// within the cooldown. The check and the mark happen under the rule lock.
func (r *Rule) tryFire(now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.lastFired.IsZero() && now.Sub(r.lastFired) <= r.Cooldown {
		return false
	}
	r.lastFired = now
	return true
}

func (r *Rule) LastFired() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastFired
}

// RuleSnapshot is the read-only projection of a rule served to operators.
type RuleSnapshot struct {
	ID              string  `json:"id"`
	Description     string  `json:"description,omitempty"`
	Condition       string  `json:"condition"`
	Action          string  `json:"action"`
	Cooldown        string  `json:"cooldown"`
	CooldownSeconds float64 `json:"cooldown_seconds"`
	LastFired       *string `json:"last_fired"`
}

func (r *Rule) Snapshot() RuleSnapshot {
	s := RuleSnapshot{
		ID:              r.ID,
		Description:     r.Description,
		Condition:       r.Condition.String(),
		Action:          string(r.Action),
		Cooldown:        r.Cooldown.String(),
		CooldownSeconds: r.Cooldown.Seconds(),
	}
	if lf := r.LastFired(); !lf.IsZero() {
		ts := lf.UTC().Format(time.RFC3339Nano)
		s.LastFired = &ts
	}
	return s
}

// RuleStore holds the active rules in insertion order.
type RuleStore struct {
	mu    sync.RWMutex
	rules []*Rule
	byID  map[string]*Rule

	opts            condition.Options
	defaultCooldown time.Duration
	logger          *slog.Logger
	metrics         *Metrics
}

// NewRuleStore creates an empty store. opts decides which sensors and thresholds conditions may reference.
func NewRuleStore(opts condition.Options, defaultCooldown time.Duration, logger *slog.Logger) *RuleStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &RuleStore{
		byID:            make(map[string]*Rule),
		opts:            opts,
		defaultCooldown: defaultCooldown,
		logger:          logger.With("component", "rule-store"),
	}
}

// Compile validates cfg and builds a Rule without adding it.
func (s *RuleStore) Compile(cfg RuleConfig) (*Rule, error) {
	id := strings.TrimSpace(cfg.ID)
	if id == "" {
		id = uuid.NewString()
	}
	if cfg.Condition.IsZero() {
		return nil, invalidRule("rule %s: missing condition", id)
	}
	node, err := cfg.Condition.compile(s.opts)
	if err != nil {
		return nil, invalidRule("rule %s: %v", id, err)
	}
	if strings.TrimSpace(cfg.Action) == "" {
		return nil, invalidRule("rule %s: missing action", id)
	}
	cooldown := s.defaultCooldown
	if cfg.Cooldown != nil {
		cooldown = cfg.Cooldown.Std()
	}
	if cooldown < 0 {
		return nil, invalidRule("rule %s: negative cooldown %s", id, cooldown)
	}
	return &Rule{
		ID:          id,
		Description: cfg.Description,
		Condition:   node,
		Action:      NormalizeAction(cfg.Action),
		Cooldown:    cooldown,
	}, nil
}

// Add compiles cfg and appends it. An empty id gets a generated one.
func (s *RuleStore) Add(cfg RuleConfig) (string, error) {
	r, err := s.Compile(cfg)
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	if _, exists := s.byID[r.ID]; exists {
		s.mu.Unlock()
		return "", fmt.Errorf("%w: %s", ErrDuplicateRule, r.ID)
	}
	s.rules = append(s.rules, r)
	s.byID[r.ID] = r
	n := len(s.rules)
	s.mu.Unlock()

	s.metrics.setActiveRules(n)
	s.logger.Info("rule.added", "rule_id", r.ID, "condition", r.Condition.String(), "action", r.Action, "cooldown", r.Cooldown)
	return r.ID, nil
}

// Remove reports whether a rule with that id existed.
func (s *RuleStore) Remove(id string) bool {
	s.mu.Lock()
	r, ok := s.byID[id]
	if !ok {
		s.mu.Unlock()
		return false
	}
	delete(s.byID, id)
	for i, cur := range s.rules {
		if cur == r {
			s.rules = append(s.rules[:i:i], s.rules[i+1:]...)
			break
		}
	}
	n := len(s.rules)
	s.mu.Unlock()

	s.metrics.setActiveRules(n)
	s.logger.Info("rule.removed", "rule_id", id)
	return true
}

// Rules returns the live rules in store order. The slice is a copy.
func (s *RuleStore) Rules() []*Rule {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Rule, len(s.rules))
	copy(out, s.rules)
	return out
}

func (s *RuleStore) List() []RuleSnapshot {
	rules := s.Rules()
	out := make([]RuleSnapshot, len(rules))
	for i, r := range rules {
		out[i] = r.Snapshot()
	}
	return out
}

func (s *RuleStore) Get(id string) (RuleSnapshot, bool) {
	s.mu.RLock()
	r, ok := s.byID[id]
	s.mu.RUnlock()
	if !ok {
		return RuleSnapshot{}, false
	}
	return r.Snapshot(), true
}

func (s *RuleStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rules)
}

// Thresholds returns a copy of the threshold constants conditions are bound to.
func (s *RuleStore) Thresholds() map[string]float64 {
	out := make(map[string]float64, len(s.opts.Thresholds))
	for k, v := range s.opts.Thresholds {
		out[k] = v
	}
	return out
}

// LoadDefaultRules adds every config, skipping the invalid ones.
// The returned error joins every skipped rule's error.
func (s *RuleStore) LoadDefaultRules(cfgs []RuleConfig) error {
	var errs []error
	for i, cfg := range cfgs {
		if _, err := s.Add(cfg); err != nil {
			s.logger.Warn("rule.skipped", "index", i, "rule_id", cfg.ID, "error", err)
			errs = append(errs, fmt.Errorf("rules[%d]: %w", i, err))
		}
	}
	return errors.Join(errs...)
}
