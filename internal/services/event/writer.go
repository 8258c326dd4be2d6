package event

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/LeonardoBeccarini/smartbolt/internal/model"
)

// Writer wraps the non-blocking WriteAPI and tracks the last write error for health checks.
// It is also the controller's audit sink.
type Writer struct {
	point   func(*write.Point)
	flush   func()
	mu      sync.RWMutex
	lastErr time.Time
	errMsg  string
	counts  map[string]int64
	logger  *slog.Logger
}

// NewWriter starts a listener on the asynchronous Influx error channel.
func NewWriter(w api.WriteAPI, logger *slog.Logger) *Writer {
	ww := newWriter(w.WritePoint, w.Flush, logger)
	go func() {
		for err := range w.Errors() {
			ww.markError(err)
		}
	}()
	return ww
}

func newWriter(point func(*write.Point), flush func(), logger *slog.Logger) *Writer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Writer{
		point:   point,
		flush:   flush,
		lastErr: time.Now().Add(-24 * time.Hour),
		counts:  make(map[string]int64),
		logger:  logger.With("component", "audit"),
	}
}

func (w *Writer) markError(err error) {
	if err == nil {
		return
	}
	w.mu.Lock()
	w.lastErr = time.Now()
	w.errMsg = err.Error()
	w.mu.Unlock()
	w.logger.Warn("influx.write_error", "error", err)
}

// Record queues evt for writing.
func (w *Writer) Record(evt CommonEvent) {
	if w == nil {
		return
	}
	w.point(EventToPoint(evt))
	w.mu.Lock()
	w.counts[evt.EventType]++
	w.mu.Unlock()
}

func (w *Writer) RecordCommand(c model.ValveCommand) { w.Record(CommandEvent(c)) }
func (w *Writer) RecordAlert(a model.Alert)         { w.Record(AlertEvent(a)) }

// Flush forces pending points out.
func (w *Writer) Flush() {
	if w != nil && w.flush != nil {
		w.flush()
	}
}

// LastErrorAge is how long ago the last write error happened.
func (w *Writer) LastErrorAge() time.Duration {
	if w == nil {
		return 99999 * time.Hour
	}
	w.mu.RLock()
	t := w.lastErr
	w.mu.RUnlock()
	return time.Since(t)
}

// Healthy fails when a write error happened within the last minAge.
func (w *Writer) Healthy(minAge time.Duration) error {
	if w == nil {
		return errors.New("audit writer not configured")
	}
	if age := w.LastErrorAge(); age <= minAge {
		w.mu.RLock()
		msg := w.errMsg
		w.mu.RUnlock()
		return fmt.Errorf("influx write error %s ago: %s", age.Round(time.Second), msg)
	}
	return nil
}

func (w *Writer) Count(eventType string) int64 {
	if w == nil {
		return 0
	}
	w.mu.RLock()
	c := w.counts[eventType]
	w.mu.RUnlock()
	return c
}
