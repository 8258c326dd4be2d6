package controller

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LeonardoBeccarini/smartbolt/internal/model/entities"
)

func TestStateCache_ReadingsAreCopies(t *testing.T) {
	c := NewStateCache()
	r := entities.Reading{DeviceID: "b1", SectorID: "s1", Values: map[string]float64{"temperature": 50}}
	c.PutReading(r)
	r.Values["temperature"] = 99

	got, ok := c.Reading("b1")
	require.True(t, ok)
	assert.Equal(t, 50.0, got.Values["temperature"])

	got.Values["temperature"] = 1
	again, _ := c.Reading("b1")
	assert.Equal(t, 50.0, again.Values["temperature"])

	_, ok = c.Reading("missing")
	assert.False(t, ok)
}

func TestStateCache_ApplyActuatorStateKeepsNewest(t *testing.T) {
	c := NewStateCache()
	t0 := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	assert.True(t, c.ApplyActuatorState(entities.ActuatorState{SectorID: "s1", State: entities.ValveClosed, LastActionAt: t0}))
	assert.False(t, c.ApplyActuatorState(entities.ActuatorState{SectorID: "s1", State: entities.ValveOpen, LastActionAt: t0.Add(-time.Second)}))

	s, ok := c.ActuatorState("s1")
	require.True(t, ok)
	assert.Equal(t, entities.ValveClosed, s.State)

	assert.True(t, c.ApplyActuatorState(entities.ActuatorState{SectorID: "s1", State: entities.ValveOpen, LastActionAt: t0.Add(time.Second)}))
	s, _ = c.ActuatorState("s1")
	assert.Equal(t, entities.ValveOpen, s.State)
}

func TestStateCache_SnapshotIsDetached(t *testing.T) {
	c := NewStateCache()
	c.PutReading(entities.Reading{DeviceID: "b1", Values: map[string]float64{"pressure": 3}})
	c.PutActuatorState(entities.ActuatorState{SectorID: "s1", State: entities.ValveOpen})

	snap := c.Snapshot()
	snap.Readings["b1"].Values["pressure"] = 0
	delete(snap.Actuators, "s1")

	r, _ := c.Reading("b1")
	assert.Equal(t, 3.0, r.Values["pressure"])
	_, ok := c.ActuatorState("s1")
	assert.True(t, ok)
}

func TestStateCache_ConcurrentWriters(t *testing.T) {
	c := NewStateCache()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				c.PutReading(entities.Reading{DeviceID: "b1", Values: map[string]float64{"pressure": float64(j)}})
				_ = c.Snapshot()
			}
		}()
	}
	wg.Wait()
	_, ok := c.Reading("b1")
	assert.True(t, ok)
}
