package app

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"sort"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"
)

func (g *Gateway) HandleDashboard(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), g.cfg.HTTPTimeout)
	defer cancel()

	var (
		st               controllerStatus
		events           []Event
		statusErr, evErr error
	)
	// both upstreams in parallel; failures degrade the response instead of failing it
	var eg errgroup.Group
	eg.Go(func() error {
		statusErr = g.control.GetJSON(ctx, "", &st)
		return nil
	})
	eg.Go(func() error {
		evErr = g.events.GetJSON(ctx, "limit="+strconv.Itoa(g.cfg.EventsLimit), &events)
		return nil
	})
	_ = eg.Wait()

	data := DashboardData{
		Devices: []Device{},
		Valves:  []Valve{},
		Events:  []Event{},
		Stats:   map[string]Stats{},
	}
	if statusErr != nil {
		g.logger.Warn("upstream.failed", "upstream", "control", "error", statusErr)
		data.Degraded = append(data.Degraded, "control")
	} else {
		data.ControlEnabled = st.ControlEnabled
		data.Devices, data.Stats = devicesAndStats(st)
		data.Valves = valves(st)
	}

	g.mu.Lock()
	if evErr != nil {
		g.logger.Warn("upstream.failed", "upstream", "events", "error", evErr)
		data.Degraded = append(data.Degraded, "events")
		// last good list, if any
		events = g.lastEvents
	} else if events != nil {
		g.lastEvents = events
	}
	g.mu.Unlock()
	if events != nil {
		data.Events = events
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(data)
}

// HandleHealth reports the breaker state of each upstream.
func (g *Gateway) HandleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{
		"status":  "ok",
		"control": g.control.State(),
		"events":  g.events.State(),
	})
}

func devicesAndStats(st controllerStatus) ([]Device, map[string]Stats) {
	devs := make([]Device, 0, len(st.LastReadings))
	stats := map[string]Stats{}
	sums := map[string]float64{}
	for _, rd := range st.LastReadings {
		devs = append(devs, Device{
			DeviceID: rd.DeviceID,
			SectorID: rd.SectorID,
			Values:   rd.Values,
			Time:     rd.Timestamp.UTC().Format(time.RFC3339),
		})
		for k, v := range rd.Values {
			s, ok := stats[k]
			if !ok {
				s = Stats{Min: math.MaxFloat64, Max: -math.MaxFloat64}
			}
			s.Min = math.Min(s.Min, v)
			s.Max = math.Max(s.Max, v)
			s.Count++
			sums[k] += v
			stats[k] = s
		}
	}
	for k, s := range stats {
		s.Mean = math.Round(sums[k]/float64(s.Count)*100) / 100
		stats[k] = s
	}
	sort.Slice(devs, func(i, j int) bool { return devs[i].DeviceID < devs[j].DeviceID })
	return devs, stats
}

func valves(st controllerStatus) []Valve {
	out := make([]Valve, 0, len(st.ValveStates))
	for sector, v := range st.ValveStates {
		vv := Valve{SectorID: sector, State: string(v.State)}
		if !v.LastActionAt.IsZero() {
			vv.Since = v.LastActionAt.UTC().Format(time.RFC3339)
		}
		out = append(out, vv)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SectorID < out[j].SectorID })
	return out
}
