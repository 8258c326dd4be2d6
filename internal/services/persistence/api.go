package persistence

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/query"

	"github.com/LeonardoBeccarini/smartbolt/internal/model"
)

// WithQuery lets /data/latest read from Influx before falling back to the cache.
func (s *Service) WithQuery(q api.QueryAPI, bucket string) *Service {
	s.query = q
	s.bucket = bucket
	return s
}

func buildLatestFlux(bucket, measurement string, minutes int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "from(bucket: %q)\n", bucket)
	fmt.Fprintf(&b, "  |> range(start: -%dm)\n", minutes)
	fmt.Fprintf(&b, "  |> filter(fn: (r) => r._measurement == %q and r._field != \"samples\" and r._field != \"aggregated\")\n", measurement)
	b.WriteString("  |> group(columns: [\"device_id\", \"_field\"])\n")
	b.WriteString("  |> last()\n")
	return b.String()
}

// QueryLatestFromInflux returns the last value of each sensor per device within the window.
func (s *Service) QueryLatestFromInflux(ctx context.Context, minutes int) ([]model.Reading, error) {
	if s.query == nil {
		return nil, fmt.Errorf("influx query not configured")
	}
	res, err := s.query.Query(ctx, buildLatestFlux(s.bucket, s.measurement, minutes))
	if err != nil {
		return nil, err
	}
	defer func() { _ = res.Close() }()

	byDevice := map[string]*model.Reading{}
	for res.Next() {
		mergeRecord(byDevice, res.Record())
	}
	if err := res.Err(); err != nil {
		return nil, err
	}
	out := make([]model.Reading, 0, len(byDevice))
	for _, r := range byDevice {
		out = append(out, *r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DeviceID < out[j].DeviceID })
	return out, nil
}

func mergeRecord(byDevice map[string]*model.Reading, rec *query.FluxRecord) {
	deviceID, _ := rec.ValueByKey("device_id").(string)
	v, ok := rec.Value().(float64)
	if deviceID == "" || !ok {
		return
	}
	r := byDevice[deviceID]
	if r == nil {
		sector, _ := rec.ValueByKey("sector_id").(string)
		r = &model.Reading{DeviceID: deviceID, SectorID: sector, Values: map[string]float64{}}
		byDevice[deviceID] = r
	}
	r.Values[rec.Field()] = v
	if t := rec.Time(); t.After(r.Timestamp) {
		r.Timestamp = t.UTC()
	}
}

type latestOut struct {
	DeviceID  string             `json:"device_id"`
	SectorID  string             `json:"sector_id"`
	Values    map[string]float64 `json:"values"`
	Timestamp string             `json:"timestamp"`
}

// NewRouter serves /healthz and /data/latest.
//
// GET /data/latest
//
//	source=auto|influx|cache  (default auto: Influx first, cache when it fails or is empty)
//	minutes=<int>             (Influx window, default 1440)
func NewRouter(svc *Service) *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write([]byte("ok")) }).Methods(http.MethodGet)

	r.HandleFunc("/data/latest", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		source := strings.ToLower(q.Get("source"))
		if source == "" {
			source = "auto"
		}
		minutes := 60 * 24
		if s := q.Get("minutes"); s != "" {
			if n, err := strconv.Atoi(s); err == nil && n > 0 {
				minutes = n
			}
		}

		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		var (
			list []model.Reading
			used string
		)
		if source == "influx" || source == "auto" {
			res, err := svc.QueryLatestFromInflux(ctx, minutes)
			if err != nil {
				svc.logger.Warn("influx.query_failed", "error", err)
			} else if len(res) > 0 {
				list, used = res, "influx"
			}
		}
		if used == "" {
			list, used = svc.LatestCache(), "cache"
		}

		out := make([]latestOut, 0, len(list))
		for _, v := range list {
			out = append(out, latestOut{
				DeviceID:  v.DeviceID,
				SectorID:  v.SectorID,
				Values:    v.Values,
				Timestamp: v.Timestamp.UTC().Format(time.RFC3339),
			})
		}

		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("X-Data-Source", used)
		_ = json.NewEncoder(w).Encode(out)
	}).Methods(http.MethodGet)

	return r
}
