package controller

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LeonardoBeccarini/smartbolt/internal/model/entities"
	"github.com/LeonardoBeccarini/smartbolt/internal/model/messages"
)

func TestPipeline_HighTemperatureClosesValve(t *testing.T) {
	h := newHarness(t, testConfig())

	results, err := h.ctrl.ProcessSensorData(context.Background(), "iot/sensors/bolt-1",
		sensorPayload("bolt-1", "s1", map[string]float64{"temperature": 90}))
	require.NoError(t, err)
	require.Len(t, results, 1)

	res := results[0]
	assert.Equal(t, "high_temperature", res.RuleID)
	assert.Equal(t, OutcomePublished, res.Outcome)
	assert.NoError(t, res.Err)
	assert.NoError(t, res.AlertErr)

	rule, ok := h.ctrl.Rule("high_temperature")
	require.True(t, ok)
	require.NotNil(t, rule.LastFired)
	assert.Equal(t, h.clock.Now().Format(time.RFC3339Nano), *rule.LastFired)

	cmds := h.pub.commands(t)
	require.Len(t, cmds, 1)
	assert.Equal(t, "close", cmds[0].Action)
	assert.Equal(t, "s1", cmds[0].SectorID)
	assert.Equal(t, "high_temperature", cmds[0].RuleID)
	assert.Equal(t, "control-logic", cmds[0].Source)
	assert.NotEmpty(t, cmds[0].CommandID)
	assert.Equal(t, []string{"iot/actuators/s1/command", "iot/alerts"}, h.pub.topics())

	alerts := h.pub.alerts(t)
	require.Len(t, alerts, 1)
	assert.Equal(t, messages.SeverityWarning, alerts[0].Severity)
	assert.Contains(t, alerts[0].Message, "temperature=90")
	assert.Contains(t, alerts[0].Message, "max_temperature=80")

	st, ok := h.ctrl.cache.ActuatorState("s1")
	require.True(t, ok)
	assert.Equal(t, entities.ValveClosed, st.State)
	assert.Equal(t, entities.SourceCommand, st.Source)

	assert.Len(t, h.audit.commands, 1)
	assert.Len(t, h.audit.alerts, 1)
}

func TestPipeline_MissingSensorsIsNotEvaluated(t *testing.T) {
	h := newHarness(t, testConfig())

	results, err := h.ctrl.ProcessSensorData(context.Background(), "iot/sensors/bolt-1",
		[]byte(`{"device_id":"bolt-1","readings":{"humidity":{"value":12}}}`))
	assert.ErrorIs(t, err, ErrMissingData)
	assert.Empty(t, results)
	assert.Empty(t, h.pub.topics())

	for _, r := range h.ctrl.ListRules() {
		assert.Nil(t, r.LastFired, r.ID)
	}
	_, cached := h.ctrl.cache.Reading("bolt-1")
	assert.False(t, cached)
}

func TestPipeline_PartialReadingOnlyFiresMatchingRules(t *testing.T) {
	h := newHarness(t, testConfig())

	results, err := h.ctrl.ProcessSensorData(context.Background(), "iot/sensors/bolt-1",
		sensorPayload("bolt-1", "s1", map[string]float64{"pressure": 0.4}))
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "low_pressure", results[0].RuleID)
	assert.Equal(t, ActionOpenValve, results[0].Action)

	alerts := h.pub.alerts(t)
	require.Len(t, alerts, 1)
	assert.Equal(t, messages.SeverityInfo, alerts[0].Severity)
	assert.Contains(t, alerts[0].Message, "pressure=0.4 < min_pressure=1")
}

func TestPipeline_MalformedPayload(t *testing.T) {
	h := newHarness(t, testConfig())

	_, err := h.ctrl.ProcessSensorData(context.Background(), "iot/sensors/x", []byte(`{not json`))
	var de *DecodeError
	assert.ErrorAs(t, err, &de)
	assert.Empty(t, h.pub.topics())
}

func TestPipeline_CooldownUnderFlood(t *testing.T) {
	cfg := testConfig()
	cfg.DefaultCooldown = time.Minute
	h := newHarness(t, cfg)

	var wg sync.WaitGroup
	var published atomic.Int32
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			r := entities.Reading{
				DeviceID: fmt.Sprintf("bolt-%d", i%4),
				SectorID: "s1",
				Values:   map[string]float64{"temperature": 95},
			}
			for _, res := range h.ctrl.Process(context.Background(), r) {
				if res.RuleID == "high_temperature" {
					published.Add(1)
				}
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), published.Load(), "rule must fire once within its cooldown")
	assert.Len(t, h.pub.commands(t), 1)

	// within the window: still suppressed
	h.clock.Advance(59 * time.Second)
	assert.Empty(t, h.ctrl.Process(context.Background(), entities.Reading{
		DeviceID: "bolt-0", SectorID: "s1", Values: map[string]float64{"temperature": 95},
	}))

	// past the window it fires again, but the valve is already closed
	h.clock.Advance(2 * time.Second)
	results := h.ctrl.Process(context.Background(), entities.Reading{
		DeviceID: "bolt-0", SectorID: "s1", Values: map[string]float64{"temperature": 95},
	})
	require.Len(t, results, 1)
	assert.Equal(t, OutcomeNoop, results[0].Outcome)
	assert.Len(t, h.pub.commands(t), 1)
}

func TestPipeline_CooldownBoundaryIsExclusive(t *testing.T) {
	h := newHarness(t, testConfig())
	r := entities.Reading{DeviceID: "bolt-1", SectorID: "s1", Values: map[string]float64{"temperature": 95}}

	require.Len(t, h.ctrl.Process(context.Background(), r), 1)
	h.clock.Advance(time.Minute)
	assert.Empty(t, h.ctrl.Process(context.Background(), r), "exactly one cooldown later is still cooling down")
	h.clock.Advance(time.Nanosecond)
	assert.Len(t, h.ctrl.Process(context.Background(), r), 1)
}

func TestDispatcher_Idempotent(t *testing.T) {
	h := newHarness(t, testConfig())
	tr := TriggeredRule{RuleID: "manual", Action: ActionCloseValve, DeviceID: "bolt-9", Values: map[string]float64{"temperature": 90}}

	first := h.ctrl.dispatcher.Handle(context.Background(), []TriggeredRule{tr})
	second := h.ctrl.dispatcher.Handle(context.Background(), []TriggeredRule{tr})

	assert.Equal(t, OutcomePublished, first[0].Outcome)
	assert.Equal(t, OutcomeNoop, second[0].Outcome)
	assert.True(t, second[0].OK())
	assert.Len(t, h.pub.commands(t), 1)
	assert.Len(t, h.pub.alerts(t), 1)

	// unknown device resolves to the default sector
	assert.Equal(t, "default", first[0].SectorID)
}

func TestDispatcher_OpenAfterClose(t *testing.T) {
	h := newHarness(t, testConfig())
	d := h.ctrl.dispatcher

	d.Handle(context.Background(), []TriggeredRule{{RuleID: "a", Action: ActionCloseValve, DeviceID: "x"}})
	d.Handle(context.Background(), []TriggeredRule{{RuleID: "b", Action: ActionOpenValve, DeviceID: "x"}})

	cmds := h.pub.commands(t)
	require.Len(t, cmds, 2)
	assert.Equal(t, "close", cmds[0].Action)
	assert.Equal(t, "open", cmds[1].Action)

	st, _ := h.ctrl.cache.ActuatorState("default")
	assert.Equal(t, entities.ValveOpen, st.State)
	assert.Equal(t, 100.0, st.OpenPercent)
}

func TestDispatcher_UnknownAction(t *testing.T) {
	h := newHarness(t, testConfig())
	_, err := h.ctrl.AddRule(RuleConfig{ID: "vent", Condition: ConditionConfig{Expr: "temperature > 10"}, Action: "vent-steam"})
	require.NoError(t, err)

	results := h.ctrl.Process(context.Background(), entities.Reading{
		DeviceID: "bolt-1", SectorID: "s1", Values: map[string]float64{"temperature": 20},
	})
	require.Len(t, results, 1)
	assert.Equal(t, OutcomeUnknownAction, results[0].Outcome)

	var uae *UnknownActionError
	require.ErrorAs(t, results[0].Err, &uae)
	assert.Equal(t, "vent_steam", uae.Action)
	assert.Empty(t, h.pub.topics())
	_, ok := h.ctrl.cache.ActuatorState("s1")
	assert.False(t, ok)
}

func TestDispatcher_PublishFailureKeepsStateAndCooldown(t *testing.T) {
	h := newHarness(t, testConfig())
	down := errors.New("broker unreachable")
	h.pub.hook = func(context.Context, string) error { return down }

	r := entities.Reading{DeviceID: "bolt-1", SectorID: "s1", Values: map[string]float64{"temperature": 99}}
	results := h.ctrl.Process(context.Background(), r)
	require.Len(t, results, 1)
	assert.Equal(t, OutcomeFailed, results[0].Outcome)
	assert.False(t, results[0].OK())

	var pe *PublishError
	require.ErrorAs(t, results[0].Err, &pe)
	assert.Equal(t, "iot/actuators/s1/command", pe.Topic)
	assert.ErrorIs(t, results[0].Err, down)

	_, ok := h.ctrl.cache.ActuatorState("s1")
	assert.False(t, ok, "state must not change without a confirmed command")

	rule, _ := h.ctrl.Rule("high_temperature")
	assert.NotNil(t, rule.LastFired, "failed publish still consumes the cooldown")

	h.pub.hook = nil
	assert.Empty(t, h.ctrl.Process(context.Background(), r), "no retry inside the cooldown")
	assert.Empty(t, h.audit.commands)
}

func TestDispatcher_AlertFailureKeepsCommand(t *testing.T) {
	h := newHarness(t, testConfig())
	h.pub.hook = func(_ context.Context, topic string) error {
		if topic == "iot/alerts" {
			return errors.New("alert queue full")
		}
		return nil
	}

	results := h.ctrl.Process(context.Background(), entities.Reading{
		DeviceID: "bolt-1", SectorID: "s1", Values: map[string]float64{"temperature": 99},
	})
	require.Len(t, results, 1)
	assert.Equal(t, OutcomePublished, results[0].Outcome)
	assert.Error(t, results[0].AlertErr)

	st, ok := h.ctrl.cache.ActuatorState("s1")
	require.True(t, ok)
	assert.Equal(t, entities.ValveClosed, st.State)
	assert.Len(t, h.audit.commands, 1)
	assert.Empty(t, h.audit.alerts)
}

func TestDispatcher_PublishIsBounded(t *testing.T) {
	cfg := testConfig()
	cfg.PublishTimeout = 30 * time.Millisecond
	h := newHarness(t, cfg)
	h.pub.hook = func(ctx context.Context, _ string) error {
		<-ctx.Done()
		return ctx.Err()
	}

	start := time.Now()
	results := h.ctrl.Process(context.Background(), entities.Reading{
		DeviceID: "bolt-1", SectorID: "s1", Values: map[string]float64{"temperature": 99},
	})
	require.Len(t, results, 1)
	assert.Equal(t, OutcomeFailed, results[0].Outcome)
	assert.ErrorIs(t, results[0].Err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestPipeline_SectorsDoNotBlockEachOther(t *testing.T) {
	cfg := testConfig()
	cfg.DefaultCooldown = 0
	h := newHarness(t, cfg)

	entered := make(chan struct{})
	release := make(chan struct{})
	h.pub.hook = func(_ context.Context, topic string) error {
		if topic == "iot/actuators/slow/command" {
			close(entered)
			<-release
		}
		return nil
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		h.ctrl.Process(context.Background(), entities.Reading{
			DeviceID: "bolt-slow", SectorID: "slow", Values: map[string]float64{"temperature": 99},
		})
	}()
	<-entered
	// the rule cooldown is global; step past it so the second sector fires the same rule
	h.clock.Advance(time.Second)

	fast := make(chan []DispatchResult, 1)
	go func() {
		fast <- h.ctrl.Process(context.Background(), entities.Reading{
			DeviceID: "bolt-fast", SectorID: "fast", Values: map[string]float64{"temperature": 99},
		})
	}()

	select {
	case res := <-fast:
		require.Len(t, res, 1)
		assert.Equal(t, OutcomePublished, res[0].Outcome)
	case <-time.After(2 * time.Second):
		t.Fatal("dispatch on another sector was blocked")
	}

	close(release)
	<-done
}

func TestPipeline_SameSectorDispatchesDoNotOverlap(t *testing.T) {
	cfg := testConfig()
	cfg.DefaultCooldown = 0
	h := newHarness(t, cfg)

	var inFlight, maxInFlight atomic.Int32
	h.pub.hook = func(_ context.Context, topic string) error {
		if topic != "iot/actuators/s1/command" {
			return nil
		}
		n := inFlight.Add(1)
		defer inFlight.Add(-1)
		for {
			m := maxInFlight.Load()
			if n <= m || maxInFlight.CompareAndSwap(m, n) {
				break
			}
		}
		time.Sleep(time.Millisecond)
		return nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			h.clock.Advance(time.Second)
			// alternate readings flip the valve between open and closed
			v := map[string]float64{"pressure": 9}
			if i%2 == 0 {
				v = map[string]float64{"pressure": 0.5}
			}
			h.ctrl.Process(context.Background(), entities.Reading{
				DeviceID: fmt.Sprintf("bolt-%d", i), SectorID: "s1", Values: v,
			})
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxInFlight.Load())
	assert.NotEmpty(t, h.pub.commands(t))
}

func TestPipeline_ControlDisabledWithoutTransport(t *testing.T) {
	ctrl, err := NewController(testConfig(), Deps{Logger: quietLogger()})
	require.NoError(t, err)
	assert.False(t, ctrl.ControlEnabled())

	results, err := ctrl.ProcessSensorData(context.Background(), "iot/sensors/bolt-1",
		sensorPayload("bolt-1", "s1", map[string]float64{"temperature": 99}))
	require.NoError(t, err)
	assert.Empty(t, results)

	st := ctrl.Status()
	assert.False(t, st.ControlEnabled)
	assert.Contains(t, st.LastReadings, "bolt-1")
	for _, r := range st.ActiveRules {
		assert.Nil(t, r.LastFired)
	}
}

func TestEnableControl_AfterLimitedStart(t *testing.T) {
	clock := newFakeClock()
	ctrl, err := NewController(testConfig(), Deps{Logger: quietLogger(), Clock: clock.Now})
	require.NoError(t, err)
	require.False(t, ctrl.ControlEnabled())
	assert.ErrorIs(t, ctrl.EnableControl(nil, nil, nil), ErrNoTransport)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		ctrl.Start(ctx)
		close(done)
	}()

	// a reading before the transport is up is cached only
	ctrl.Process(context.Background(), entities.Reading{DeviceID: "bolt-1", SectorID: "s1", Values: map[string]float64{"temperature": 95}})

	pub := &fakePublisher{}
	sensors, status := newFakeConsumer(), newFakeConsumer()
	require.Eventually(t, func() bool {
		ctrl.mu.Lock()
		defer ctrl.mu.Unlock()
		return ctrl.runCtx != nil
	}, time.Second, 5*time.Millisecond)
	require.NoError(t, ctrl.EnableControl(pub, sensors, status))
	assert.True(t, ctrl.ControlEnabled())

	for _, c := range []*fakeConsumer{sensors, status} {
		select {
		case <-c.started:
		case <-time.After(time.Second):
			t.Fatal("consumer not started")
		}
	}

	require.NoError(t, sensors.deliver("iot/sensors/bolt-1", sensorPayload("bolt-1", "s1", map[string]float64{"temperature": 95})))
	cmds := pub.commands(t)
	require.Len(t, cmds, 1)
	assert.Equal(t, "s1", cmds[0].SectorID)

	clock.Advance(time.Second)
	require.NoError(t, status.deliver("iot/actuators/s1/status", []byte(`{"valve_state":"open"}`)))
	assert.Equal(t, entities.ValveOpen, ctrl.Status().ValveStates["s1"].State)

	cancel()
	<-done
}

func TestStatus_ReadYourWrites(t *testing.T) {
	h := newHarness(t, testConfig())

	require.NoError(t, h.ctrl.ProcessActuatorStatus("iot/actuators/s2/status",
		[]byte(`{"valve_state":"partially_open","open_percent":40,"timestamp":"2024-05-01T12:00:00Z"}`)))
	_, err := h.ctrl.ProcessSensorData(context.Background(), "iot/sensors/bolt-2",
		sensorPayload("bolt-2", "s2", map[string]float64{"temperature": 20}))
	require.NoError(t, err)

	st := h.ctrl.Status()
	require.Contains(t, st.ValveStates, "s2")
	assert.Equal(t, entities.ValvePartiallyOpen, st.ValveStates["s2"].State)
	assert.Equal(t, 40.0, st.ValveStates["s2"].OpenPercent)
	assert.Equal(t, 20.0, st.LastReadings["bolt-2"].Values["temperature"])
	assert.Len(t, st.ActiveRules, 3)
	assert.Equal(t, 80.0, st.Thresholds["max_temperature"])

	// a newer command overrides the reported state
	h.clock.Advance(time.Minute)
	h.ctrl.Process(context.Background(), entities.Reading{DeviceID: "bolt-2", SectorID: "s2", Values: map[string]float64{"temperature": 99}})
	assert.Equal(t, entities.ValveClosed, h.ctrl.Status().ValveStates["s2"].State)

	// snapshot is a copy
	st = h.ctrl.Status()
	st.LastReadings["bolt-2"].Values["temperature"] = -1
	assert.Equal(t, 99.0, h.ctrl.Status().LastReadings["bolt-2"].Values["temperature"])
}

func TestStatus_StaleFeedbackIgnored(t *testing.T) {
	h := newHarness(t, testConfig())
	h.ctrl.Process(context.Background(), entities.Reading{DeviceID: "b", SectorID: "s1", Values: map[string]float64{"temperature": 99}})

	// reported before the command went out
	require.NoError(t, h.ctrl.ProcessActuatorStatus("iot/actuators/s1/status",
		[]byte(`{"sector_id":"s1","valve_state":"open","timestamp":"2024-05-01T11:00:00Z"}`)))
	st, _ := h.ctrl.cache.ActuatorState("s1")
	assert.Equal(t, entities.ValveClosed, st.State)

	// reported after: the actuator is the truth
	require.NoError(t, h.ctrl.ProcessActuatorStatus("iot/actuators/s1/status",
		[]byte(`{"sector_id":"s1","valve_state":"open","timestamp":"2024-05-01T12:30:00Z"}`)))
	st, _ = h.ctrl.cache.ActuatorState("s1")
	assert.Equal(t, entities.ValveOpen, st.State)
	assert.Equal(t, entities.SourceStatus, st.Source)
}

func TestRemoveRule(t *testing.T) {
	h := newHarness(t, testConfig())
	before := h.ctrl.ListRules()

	assert.False(t, h.ctrl.RemoveRule("does-not-exist"))
	assert.Equal(t, before, h.ctrl.ListRules())

	assert.True(t, h.ctrl.RemoveRule("high_pressure"))
	for _, r := range h.ctrl.ListRules() {
		assert.NotEqual(t, "high_pressure", r.ID)
	}
	assert.Len(t, h.ctrl.ListRules(), len(before)-1)
}

func TestHandleSensorData_DropsTimestampedRedelivery(t *testing.T) {
	h := newHarness(t, testConfig())
	payload := []byte(`{"device_id":"bolt-1","sector_id":"s1","timestamp":"2024-05-01T12:00:00Z","readings":{"temperature":{"value":99}}}`)
	msg := fakeMessage{topic: "iot/sensors/bolt-1", payload: payload}

	require.NoError(t, h.ctrl.HandleSensorData(msg.topic, msg))
	h.clock.Advance(2 * time.Minute)
	require.NoError(t, h.ctrl.HandleSensorData(msg.topic, msg))

	// second delivery never reached the evaluator
	rule, _ := h.ctrl.Rule("high_temperature")
	assert.Equal(t, "2024-05-01T12:00:00Z", *rule.LastFired)

	// a message with no usable data is not a handler error
	empty := fakeMessage{topic: "iot/sensors/bolt-1", payload: []byte(`{"readings":{}}`)}
	assert.NoError(t, h.ctrl.HandleSensorData(empty.topic, empty))

	bad := fakeMessage{topic: "iot/sensors/bolt-1", payload: []byte(`nope`)}
	assert.Error(t, h.ctrl.HandleSensorData(bad.topic, bad))
}

func TestHandleSensorData_RepeatedUntimestampedReadingRetriggers(t *testing.T) {
	h := newHarness(t, testConfig())
	msg := fakeMessage{topic: "iot/sensors/bolt-1", payload: sensorPayload("bolt-1", "s1", map[string]float64{"temperature": 90})}
	require.NoError(t, h.ctrl.HandleSensorData(msg.topic, msg))
	require.Len(t, h.pub.commands(t), 1)

	h.clock.Advance(2 * time.Minute)
	open := fakeMessage{topic: "iot/actuators/s1/status", payload: []byte(`{"sector_id":"s1","valve_state":"open"}`)}
	require.NoError(t, h.ctrl.HandleActuatorStatus(open.topic, open))

	// same bytes, new sample: the cooldown has elapsed so the rule fires again
	require.NoError(t, h.ctrl.HandleSensorData(msg.topic, msg))
	cmds := h.pub.commands(t)
	require.Len(t, cmds, 2)
	assert.Equal(t, "close", cmds[1].Action)

	st := h.ctrl.Status()
	assert.Equal(t, h.clock.Now(), st.LastReadings["bolt-1"].Timestamp)
	assert.Equal(t, entities.ValveClosed, st.ValveStates["s1"].State)
}

func TestHandleActuatorStatus_RepeatedReportReconciles(t *testing.T) {
	h := newHarness(t, testConfig())
	closed := fakeMessage{topic: "iot/actuators/s1/status", payload: []byte(`{"sector_id":"s1","valve_state":"closed"}`)}
	require.NoError(t, h.ctrl.HandleActuatorStatus(closed.topic, closed))

	h.clock.Advance(time.Second)
	low := fakeMessage{topic: "iot/sensors/bolt-1", payload: sensorPayload("bolt-1", "s1", map[string]float64{"pressure": 0.5})}
	require.NoError(t, h.ctrl.HandleSensorData(low.topic, low))
	st, _ := h.ctrl.cache.ActuatorState("s1")
	require.Equal(t, entities.ValveOpen, st.State)

	// the valve did not move and says so again with identical bytes
	h.clock.Advance(time.Second)
	require.NoError(t, h.ctrl.HandleActuatorStatus(closed.topic, closed))
	st, _ = h.ctrl.cache.ActuatorState("s1")
	assert.Equal(t, entities.ValveClosed, st.State)
	assert.Equal(t, entities.SourceStatus, st.Source)
}

func TestHandleActuatorStatus_DropsTimestampedRedelivery(t *testing.T) {
	h := newHarness(t, testConfig())
	report := fakeMessage{topic: "iot/actuators/s1/status", payload: []byte(`{"sector_id":"s1","valve_state":"closed","timestamp":"2024-05-01T12:00:00Z"}`)}
	require.NoError(t, h.ctrl.HandleActuatorStatus(report.topic, report))

	// a later command wins over a redelivered older report
	h.clock.Advance(time.Minute)
	h.ctrl.Process(context.Background(), entities.Reading{DeviceID: "bolt-1", SectorID: "s1", Values: map[string]float64{"pressure": 0.5}})
	require.NoError(t, h.ctrl.HandleActuatorStatus(report.topic, report))

	st, _ := h.ctrl.cache.ActuatorState("s1")
	assert.Equal(t, entities.ValveOpen, st.State)
}

func TestRedeliveryKey(t *testing.T) {
	assert.Empty(t, redeliveryKey("t", []byte(`{"sector_id":"s1"}`)))
	assert.Empty(t, redeliveryKey("t", []byte(`nope`)))
	k := redeliveryKey("t", []byte(`{"timestamp":1714564800}`))
	assert.NotEmpty(t, k)
	assert.NotEqual(t, k, redeliveryKey("u", []byte(`{"timestamp":1714564800}`)))
}

func TestHandleActuatorStatus(t *testing.T) {
	h := newHarness(t, testConfig())
	msg := fakeMessage{topic: "iot/actuators/s7/status", payload: []byte(`{"valve_state":"closed"}`)}
	require.NoError(t, h.ctrl.HandleActuatorStatus(msg.topic, msg))

	st, ok := h.ctrl.cache.ActuatorState("s7")
	require.True(t, ok)
	assert.Equal(t, entities.ValveClosed, st.State)
}

func TestNewController_RulesFileErrors(t *testing.T) {
	cfg := testConfig()
	cfg.RulesPath = t.TempDir() + "/missing.json"
	_, err := NewController(cfg, Deps{Logger: quietLogger()})
	assert.Error(t, err)
}
