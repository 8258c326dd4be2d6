package controller

import (
	"log/slog"
	"time"

	"github.com/LeonardoBeccarini/smartbolt/internal/services/controller/condition"
)

// TriggeredRule is one rule that fired for one reading. It lives for a single pipeline pass.
type TriggeredRule struct {
	RuleID      string             `json:"rule_id"`
	Description string             `json:"description,omitempty"`
	Action      Action             `json:"action"`
	DeviceID    string             `json:"device_id"`
	Values      map[string]float64 `json:"sensor_data"`
	Matches     []condition.Match  `json:"matches,omitempty"`
	FiredAt     time.Time          `json:"fired_at"`
}

// Evaluator runs every rule of the store against a reading.
type Evaluator struct {
	store      *RuleStore
	thresholds map[string]float64
	now        func() time.Time
	metrics    *Metrics
	logger     *slog.Logger
}

func NewEvaluator(store *RuleStore, now func() time.Time, metrics *Metrics, logger *slog.Logger) *Evaluator {
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Evaluator{
		store:      store,
		thresholds: store.Thresholds(),
		now:        now,
		metrics:    metrics,
		logger:     logger.With("component", "evaluator"),
	}
}

// Evaluate returns the rules that fire for values, in store order. A rule fires when its
// condition holds and it is not cooling down; firing marks it before Evaluate returns, so
// the cooldown is consumed whether or not the dispatch later succeeds.
func (e *Evaluator) Evaluate(deviceID string, values map[string]float64) []TriggeredRule {
	start := time.Now()
	defer e.metrics.observeEvaluation(start)

	snapshot := make(map[string]float64, len(values))
	for k, v := range values {
		snapshot[k] = v
	}
	b := condition.Bindings{Values: snapshot, Thresholds: e.thresholds}

	var fired []TriggeredRule
	for _, r := range e.store.Rules() {
		ok := r.Condition.Eval(b)
		e.metrics.evaluated(r.ID, ok)
		if !ok {
			continue
		}
		now := e.now()
		if !r.tryFire(now) {
			e.metrics.suppressed(r.ID)
			e.logger.Debug("rule.cooldown", "rule_id", r.ID, "device_id", deviceID, "last_fired", r.LastFired())
			continue
		}
		tr := TriggeredRule{
			RuleID:      r.ID,
			Description: r.Description,
			Action:      r.Action,
			DeviceID:    deviceID,
			Values:      snapshot,
			Matches:     condition.Explain(r.Condition, b),
			FiredAt:     now,
		}
		e.metrics.triggered(r.ID, r.Action)
		e.logger.Info("rule.fired", "rule_id", r.ID, "device_id", deviceID, "action", r.Action,
			"matched", condition.Describe(tr.Matches))
		fired = append(fired, tr)
	}
	return fired
}
