package app

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/sony/gobreaker"
)

// Upstream wraps HTTP GETs to one service behind a circuit breaker.
type Upstream struct {
	base    string
	path    string
	client  *http.Client
	breaker *gobreaker.CircuitBreaker
	name    string
}

func NewUpstream(name, base, path string, timeout time.Duration, failures uint32, openFor time.Duration, lg *slog.Logger) *Upstream {
	base = strings.TrimRight(strings.TrimSpace(base), "/")
	path = "/" + strings.TrimLeft(strings.TrimSpace(path), "/")
	if failures == 0 {
		failures = 3
	}
	return &Upstream{
		base:   base,
		path:   path,
		client: &http.Client{Timeout: timeout},
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    name,
			Timeout: openFor,
			ReadyToTrip: func(c gobreaker.Counts) bool {
				return c.ConsecutiveFailures >= failures
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				lg.Warn("breaker.state", "upstream", name, "from", from.String(), "to", to.String())
			},
		}),
		name: name,
	}
}

// Configured is false when no base URL was given.
func (u *Upstream) Configured() bool { return u != nil && u.base != "" }

func (u *Upstream) State() string {
	if !u.Configured() {
		return "disabled"
	}
	return u.breaker.State().String()
}

// GetJSON decodes the upstream response into out. An unconfigured upstream leaves out untouched.
func (u *Upstream) GetJSON(ctx context.Context, query string, out any) error {
	if !u.Configured() {
		return nil
	}
	_, err := u.breaker.Execute(func() (any, error) {
		url := u.base + u.path
		if query != "" {
			url += "?" + query
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, err
		}
		resp, err := u.client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("%s request error: %w", u.name, err)
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return nil, fmt.Errorf("%s upstream status %d", u.name, resp.StatusCode)
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return nil, fmt.Errorf("%s decode error: %w", u.name, err)
		}
		return nil, nil
	})
	return err
}
