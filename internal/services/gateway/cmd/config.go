package main

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Port      string
	TimeoutMs int

	ControlURL string // e.g. http://controller:8080
	EventURL   string // e.g. http://event-service:8080

	EventsLimit     int
	BreakerFailures int
	BreakerOpenMs   int
	AllowedOrigins  []string
}

func getenv(k, d string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return d
}
func getenvInt(k string, d int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return d
}

func loadConfig() Config {
	var origins []string
	for _, o := range strings.Split(os.Getenv("CORS_ALLOWED_ORIGINS"), ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	return Config{
		Port:      getenv("PORT", "5009"),
		TimeoutMs: getenvInt("TIMEOUT_MS", 3000),

		ControlURL: getenv("CONTROL_URL", "http://controller:8080"),
		EventURL:   getenv("EVENT_URL", "http://event-service:8080"),

		EventsLimit:     getenvInt("EVENTS_LIMIT", 20),
		BreakerFailures: getenvInt("CB_FAILURES", 3),
		BreakerOpenMs:   getenvInt("CB_OPEN_MS", 10000),
		AllowedOrigins:  origins,
	}
}

func (c Config) timeout() time.Duration { return time.Duration(c.TimeoutMs) * time.Millisecond }
