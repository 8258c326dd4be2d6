package controller

import (
	"sync"

	"github.com/LeonardoBeccarini/smartbolt/internal/model/entities"
)

// StateCache is the process-wide last known state: readings by device and valve state by sector.
// Entries live as long as the process.
type StateCache struct {
	mu        sync.RWMutex
	readings  map[string]entities.Reading
	actuators map[string]entities.ActuatorState
}

func NewStateCache() *StateCache {
	return &StateCache{
		readings:  make(map[string]entities.Reading),
		actuators: make(map[string]entities.ActuatorState),
	}
}

// PutReading replaces the device's last reading.
func (c *StateCache) PutReading(r entities.Reading) {
	r = r.Clone()
	c.mu.Lock()
	c.readings[r.DeviceID] = r
	c.mu.Unlock()
}

func (c *StateCache) Reading(deviceID string) (entities.Reading, bool) {
	c.mu.RLock()
	r, ok := c.readings[deviceID]
	c.mu.RUnlock()
	if !ok {
		return entities.Reading{}, false
	}
	return r.Clone(), true
}

func (c *StateCache) PutActuatorState(s entities.ActuatorState) {
	c.mu.Lock()
	c.actuators[s.SectorID] = s
	c.mu.Unlock()
}

// ApplyActuatorState stores s unless the sector already holds a newer state.
// It reports whether s was stored.
func (c *StateCache) ApplyActuatorState(s entities.ActuatorState) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cur, ok := c.actuators[s.SectorID]; ok && s.LastActionAt.Before(cur.LastActionAt) {
		return false
	}
	c.actuators[s.SectorID] = s
	return true
}

func (c *StateCache) ActuatorState(sectorID string) (entities.ActuatorState, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.actuators[sectorID]
	return s, ok
}

// CacheSnapshot is a deep copy of the cache.
type CacheSnapshot struct {
	Readings  map[string]entities.Reading       `json:"last_readings"`
	Actuators map[string]entities.ActuatorState `json:"valve_states"`
}

func (c *StateCache) Snapshot() CacheSnapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := CacheSnapshot{
		Readings:  make(map[string]entities.Reading, len(c.readings)),
		Actuators: make(map[string]entities.ActuatorState, len(c.actuators)),
	}
	for k, r := range c.readings {
		out.Readings[k] = r.Clone()
	}
	for k, s := range c.actuators {
		out.Actuators[k] = s
	}
	return out
}
