package persistence

import (
	"sync"
	"time"

	"github.com/LeonardoBeccarini/smartbolt/internal/model"
)

// Aggregator buffers readings per device and averages each sensor over a window.
type Aggregator struct {
	mu     sync.Mutex
	buffer map[string][]model.Reading // key is DeviceID
}

func NewAggregator() *Aggregator {
	return &Aggregator{buffer: make(map[string][]model.Reading)}
}

func (a *Aggregator) Add(r model.Reading) {
	a.mu.Lock()
	a.buffer[r.DeviceID] = append(a.buffer[r.DeviceID], r)
	a.mu.Unlock()
}

// Window is the average of one device's readings since the last flush.
type Window struct {
	Reading model.Reading
	Samples int
}

// Flush averages and resets the buffer. Each sensor is averaged over the readings that carried it.
func (a *Aggregator) Flush(now time.Time) []Window {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make([]Window, 0, len(a.buffer))
	for deviceID, readings := range a.buffer {
		if len(readings) == 0 {
			continue
		}
		sums := map[string]float64{}
		counts := map[string]int{}
		for _, r := range readings {
			for k, v := range r.Values {
				sums[k] += v
				counts[k]++
			}
		}
		values := make(map[string]float64, len(sums))
		for k, s := range sums {
			values[k] = s / float64(counts[k])
		}
		out = append(out, Window{
			Reading: model.Reading{
				DeviceID:  deviceID,
				SectorID:  readings[len(readings)-1].SectorID,
				Timestamp: now.UTC(),
				Values:    values,
			},
			Samples: len(readings),
		})

		// reset buffer
		a.buffer[deviceID] = readings[:0]
	}
	return out
}
