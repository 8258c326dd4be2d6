package sensor_simulator

import (
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/LeonardoBeccarini/smartbolt/internal/model"
	"github.com/LeonardoBeccarini/smartbolt/internal/model/entities"
	"github.com/LeonardoBeccarini/smartbolt/internal/model/messages"
)

// ====== Tunables ======
const (
	defaultTemperature = 45.0 // °C
	defaultPressure    = 4.0  // bar

	// per-tick noise, as a fraction of the baseline
	noise = 0.02
	// how fast a value moves back to its target each tick
	relax = 0.25

	// with the valve closed the line bleeds down to this share of the baseline
	closedPressure    = 0.3
	closedTemperature = 0.85
)

// DataGenerator drifts one bolt's readings around its baseline and reacts to the valve state.
type DataGenerator struct {
	mu    sync.Mutex
	dev   model.Device
	temp  float64
	pres  float64
	valve model.ValveState
	rnd   *rand.Rand

	// chance per tick of an overheat/overpressure spike
	spikeProb float64
}

// NewDataGenerator starts at the device baseline with the valve open.
func NewDataGenerator(dev model.Device, spikeProb float64, seed int64) *DataGenerator {
	if dev.Temperature <= 0 {
		dev.Temperature = defaultTemperature
	}
	if dev.Pressure <= 0 {
		dev.Pressure = defaultPressure
	}
	return &DataGenerator{
		dev:       dev,
		temp:      dev.Temperature,
		pres:      dev.Pressure,
		valve:     model.ValveOpen,
		rnd:       rand.New(rand.NewSource(seed)),
		spikeProb: clamp(spikeProb, 0, 1),
	}
}

func (g *DataGenerator) Device() model.Device { return g.dev }

// SetValve changes the target the readings converge to.
func (g *DataGenerator) SetValve(s model.ValveState) {
	g.mu.Lock()
	g.valve = s
	g.mu.Unlock()
}

func (g *DataGenerator) Valve() model.ValveState {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.valve
}

// Next advances one tick and returns the bolt telemetry.
func (g *DataGenerator) Next(now time.Time) messages.SensorDataMessage {
	g.mu.Lock()
	defer g.mu.Unlock()

	targetT, targetP := g.dev.Temperature, g.dev.Pressure
	if g.valve == model.ValveClosed {
		targetT *= closedTemperature
		targetP *= closedPressure
	}

	g.temp += (targetT-g.temp)*relax + g.rnd.NormFloat64()*noise*g.dev.Temperature
	g.pres += (targetP-g.pres)*relax + g.rnd.NormFloat64()*noise*g.dev.Pressure

	if g.valve != model.ValveClosed && g.rnd.Float64() < g.spikeProb {
		// one of the two goes out of range
		if g.rnd.Intn(2) == 0 {
			g.temp = g.dev.Temperature * 2
		} else {
			g.pres = g.dev.Pressure * 2.5
		}
	}
	g.temp = math.Max(g.temp, -40)
	g.pres = math.Max(g.pres, 0)

	t, p := round2(g.temp), round2(g.pres)
	return messages.SensorDataMessage{
		DeviceID:  g.dev.ID,
		SectorID:  g.dev.SectorID,
		Timestamp: messages.Timestamp{Time: now.UTC()},
		Readings: map[string]messages.Measurement{
			entities.SensorTemperature: {Value: &t, Unit: "°C"},
			entities.SensorPressure:    {Value: &p, Unit: "bar"},
		},
	}
}

func round2(x float64) float64 { return math.Round(x*100) / 100 }

func clamp(x, lo, hi float64) float64 {
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}
