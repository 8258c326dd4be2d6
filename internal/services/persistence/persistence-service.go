package persistence

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/LeonardoBeccarini/smartbolt/internal/model"
	"github.com/LeonardoBeccarini/smartbolt/internal/services/controller"
	"github.com/LeonardoBeccarini/smartbolt/pkg/rabbitmq"
)

// Influx configuration
type InfluxConfig struct {
	URL         string
	Token       string
	Org         string
	Bucket      string
	Measurement string // default "bolt_reading"
}

// PointWriter is the part of api.WriteAPIBlocking the service uses.
type PointWriter interface {
	WritePoint(ctx context.Context, point ...*write.Point) error
}

// Service stores bolt telemetry: raw readings, or window averages when an interval is set.
type Service struct {
	consumer    rabbitmq.IConsumer
	ingest      *controller.Ingest
	writer      PointWriter
	measurement string
	window      *Aggregator
	logger      *slog.Logger

	query  api.QueryAPI
	bucket string

	mu     sync.RWMutex
	latest map[string]model.Reading
}

func NewService(consumer rabbitmq.IConsumer, writer PointWriter, ingest *controller.Ingest, measurement string, logger *slog.Logger) (*Service, error) {
	if writer == nil {
		return nil, errors.New("influx writer is required")
	}
	if ingest == nil {
		ingest = controller.NewIngest(nil, "", nil)
	}
	if logger == nil {
		logger = slog.Default()
	}
	if measurement == "" {
		measurement = "bolt_reading"
	}
	return &Service{
		consumer:    consumer,
		ingest:      ingest,
		writer:      writer,
		measurement: sanitizeMeasurement(measurement),
		window:      NewAggregator(),
		logger:      logger.With("component", "persistence"),
		latest:      make(map[string]model.Reading),
	}, nil
}

// Start consumes until ctx is done. With interval > 0 readings are averaged and written once per interval.
func (s *Service) Start(ctx context.Context, interval time.Duration) {
	windowed := interval > 0
	s.consumer.SetHandler(func(topic string, msg mqtt.Message) error {
		return s.HandleReading(ctx, topic, msg.Payload(), windowed)
	})
	if !windowed {
		s.consumer.ConsumeMessage(ctx)
		return
	}

	go s.consumer.ConsumeMessage(ctx)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			// last partial window
			flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			_ = s.FlushWindow(flushCtx, time.Now())
			cancel()
			return
		case now := <-ticker.C:
			if err := s.FlushWindow(ctx, now); err != nil {
				s.logger.Warn("window.write_failed", "error", err)
			}
		}
	}
}

// HandleReading decodes one payload, updates the latest cache and either writes it or buffers it.
// Undecodable payloads are logged and dropped so the stream keeps flowing.
func (s *Service) HandleReading(ctx context.Context, topic string, payload []byte, windowed bool) error {
	r, err := s.ingest.DecodeReading(topic, payload)
	if err != nil {
		s.logger.Warn("reading.dropped", "topic", topic, "error", err)
		return nil
	}

	s.mu.Lock()
	s.latest[r.DeviceID] = r.Clone()
	s.mu.Unlock()

	if windowed {
		s.window.Add(r)
		return nil
	}
	if err := s.writer.WritePoint(ctx, s.toPoint(r, 1, false)); err != nil {
		return fmt.Errorf("write %s: %w", r.DeviceID, err)
	}
	s.logger.Debug("reading.written", "device_id", r.DeviceID, "sector_id", r.SectorID)
	return nil
}

// FlushWindow writes the current window averages.
func (s *Service) FlushWindow(ctx context.Context, now time.Time) error {
	windows := s.window.Flush(now)
	if len(windows) == 0 {
		return nil
	}
	points := make([]*write.Point, 0, len(windows))
	for _, w := range windows {
		points = append(points, s.toPoint(w.Reading, w.Samples, true))
	}
	if err := s.writer.WritePoint(ctx, points...); err != nil {
		return err
	}
	s.logger.Info("window.written", "devices", len(points))
	return nil
}

func (s *Service) toPoint(r model.Reading, samples int, aggregated bool) *write.Point {
	tags := map[string]string{
		"device_id": r.DeviceID,
		"sector_id": r.SectorID,
	}
	fields := make(map[string]interface{}, len(r.Values)+2)
	for k, v := range r.Values {
		fields[k] = v
	}
	fields["samples"] = int64(samples)
	fields["aggregated"] = aggregated
	return influxdb2.NewPoint(s.measurement, tags, fields, r.Timestamp)
}

// LatestCache returns the last reading of every device, sorted by device id.
func (s *Service) LatestCache() []model.Reading {
	s.mu.RLock()
	out := make([]model.Reading, 0, len(s.latest))
	for _, r := range s.latest {
		out = append(out, r.Clone())
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].DeviceID < out[j].DeviceID })
	return out
}

func sanitizeMeasurement(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z',
			r >= 'A' && r <= 'Z',
			r >= '0' && r <= '9',
			r == '_', r == ':', r == '-':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}
