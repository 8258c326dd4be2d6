package event

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api/query"
)

// Record is one audit entry served by /events/latest.
type Record struct {
	Time      string `json:"time"` // RFC3339
	EventType string `json:"event_type"`
	SectorID  string `json:"sector_id,omitempty"`
	DeviceID  string `json:"device_id,omitempty"`
	RuleID    string `json:"rule_id,omitempty"`
	Severity  string `json:"severity,omitempty"`
	Summary   string `json:"summary"`
}

type latestQuery struct {
	Minutes   int
	Limit     int
	TimeoutMS int
	EventType string
	SectorID  string
}

func parseLatest(r *http.Request, defMin, defLim, defTOms int) latestQuery {
	q := r.URL.Query()
	get := func(k string, def, min, max int) int {
		if v := strings.TrimSpace(q.Get(k)); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				if n < min {
					return min
				}
				if max > 0 && n > max {
					return max
				}
				return n
			}
		}
		return def
	}
	return latestQuery{
		Minutes:   get("minutes", defMin, 1, 7*24*60),
		Limit:     get("limit", defLim, 1, 500),
		TimeoutMS: get("timeout_ms", defTOms, 200, 5000),
		EventType: strings.TrimSpace(q.Get("type")),
		SectorID:  strings.TrimSpace(q.Get("sector")),
	}
}

func buildFlux(bucket string, p latestQuery) string {
	var b strings.Builder
	fmt.Fprintf(&b, "from(bucket: %q)\n", bucket)
	fmt.Fprintf(&b, "  |> range(start: -%dm)\n", p.Minutes)
	fmt.Fprintf(&b, "  |> filter(fn: (r) => r._measurement == %q and r._field == \"summary\")\n", Measurement)
	if p.EventType != "" {
		fmt.Fprintf(&b, "  |> filter(fn: (r) => r.event_type == %q)\n", p.EventType)
	}
	if p.SectorID != "" {
		fmt.Fprintf(&b, "  |> filter(fn: (r) => r.sector_id == %q)\n", p.SectorID)
	}
	b.WriteString("  |> group()\n")
	b.WriteString("  |> sort(columns: [\"_time\"], desc: true)\n")
	fmt.Fprintf(&b, "  |> limit(n: %d)\n", p.Limit)
	return b.String()
}

func recordFrom(rec *query.FluxRecord) Record {
	str := func(k string) string {
		if s, ok := rec.ValueByKey(k).(string); ok {
			return s
		}
		return ""
	}
	summary, _ := rec.Value().(string)
	return Record{
		Time:      rec.Time().UTC().Format(time.RFC3339),
		EventType: str("event_type"),
		SectorID:  str("sector_id"),
		DeviceID:  str("device_id"),
		RuleID:    str("rule_id"),
		Severity:  str("severity"),
		Summary:   summary,
	}
}

// NewLatestHandler serves GET /events/latest?limit=20[&minutes=1440][&type=alert][&sector=s1].
// Query failures answer an empty list with an X-Error header.
func NewLatestHandler(influx influxdb2.Client, org, bucket string, logger *slog.Logger) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p := parseLatest(r, 1440, 20, 2000)

		ctx, cancel := context.WithTimeout(r.Context(), time.Duration(p.TimeoutMS)*time.Millisecond)
		defer cancel()

		w.Header().Set("Content-Type", "application/json")
		res, err := influx.QueryAPI(org).Query(ctx, buildFlux(bucket, p))
		if err != nil {
			logger.Warn("influx.query_failed", "error", err)
			w.Header().Set("X-Error", "influx-query-error")
			_, _ = w.Write([]byte("[]"))
			return
		}
		defer func() { _ = res.Close() }()

		out := make([]Record, 0, p.Limit)
		for res.Next() {
			out = append(out, recordFrom(res.Record()))
		}
		if err := res.Err(); err != nil {
			logger.Warn("influx.iter_failed", "error", err)
			w.Header().Set("X-Error", "influx-iter-error")
		}
		_ = json.NewEncoder(w).Encode(out)
	})
}
