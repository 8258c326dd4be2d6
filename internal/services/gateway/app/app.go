package app

import (
	"log/slog"
	"sync"
	"time"
)

type Config struct {
	ControlBaseURL string
	EventsBaseURL  string
	StatusPath     string
	EventsPath     string
	EventsLimit    int
	HTTPTimeout    time.Duration

	BreakerFailures uint32
	BreakerOpenFor  time.Duration

	Logger *slog.Logger
}

type Gateway struct {
	cfg     Config
	control *Upstream
	events  *Upstream
	logger  *slog.Logger

	mu         sync.Mutex
	lastEvents []Event
}

func NewGateway(cfg Config) *Gateway {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.StatusPath == "" {
		cfg.StatusPath = "/status"
	}
	if cfg.EventsPath == "" {
		cfg.EventsPath = "/events/latest"
	}
	if cfg.EventsLimit <= 0 {
		cfg.EventsLimit = 20
	}
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = 3 * time.Second
	}
	lg := cfg.Logger.With("component", "gateway")

	// one breaker per upstream
	c := NewUpstream("control", cfg.ControlBaseURL, cfg.StatusPath, cfg.HTTPTimeout, cfg.BreakerFailures, cfg.BreakerOpenFor, lg)
	e := NewUpstream("events", cfg.EventsBaseURL, cfg.EventsPath, cfg.HTTPTimeout, cfg.BreakerFailures, cfg.BreakerOpenFor, lg)

	return &Gateway{cfg: cfg, control: c, events: e, logger: lg}
}
