package controller

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sort"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
)

// Check is a dependency probe reported by /healthz. A failing critical check also fails /readyz.
type Check struct {
	Name     string
	Critical bool
	Probe    func() error
}

// API serves the operator query surface over HTTP.
type API struct {
	ctrl   *Controller
	checks []Check
	logger *slog.Logger
}

func NewAPI(ctrl *Controller, logger *slog.Logger, checks ...Check) *API {
	if logger == nil {
		logger = slog.Default()
	}
	return &API{ctrl: ctrl, checks: checks, logger: logger.With("component", "http")}
}

// Register mounts the routes on r. /metrics serves g when not nil.
func (a *API) Register(r *mux.Router, g prometheus.Gatherer) {
	r.HandleFunc("/status", a.getStatus).Methods(http.MethodGet)
	r.HandleFunc("/rules", a.listRules).Methods(http.MethodGet)
	r.HandleFunc("/rules", a.addRule).Methods(http.MethodPost)
	r.HandleFunc("/rules/{id}", a.getRule).Methods(http.MethodGet)
	r.HandleFunc("/rules/{id}", a.removeRule).Methods(http.MethodDelete)
	r.HandleFunc("/healthz", a.healthz).Methods(http.MethodGet)
	r.HandleFunc("/readyz", a.readyz).Methods(http.MethodGet)
	if g != nil {
		r.Handle("/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}
}

// Handler builds the complete HTTP handler: routes, panic recovery, access log and CORS.
func (a *API) Handler(g prometheus.Gatherer, accessLog io.Writer, allowedOrigins []string) http.Handler {
	r := mux.NewRouter()
	a.Register(r, g)
	return Wrap(r, accessLog, allowedOrigins)
}

// Wrap adds panic recovery, access log (when accessLog is not nil) and CORS around h.
func Wrap(h http.Handler, accessLog io.Writer, allowedOrigins []string) http.Handler {
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}
	h = handlers.RecoveryHandler(handlers.PrintRecoveryStack(false))(h)
	if accessLog != nil {
		h = handlers.LoggingHandler(accessLog, h)
	}
	c := cors.New(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete},
		AllowedHeaders: []string{"Content-Type"},
	})
	return c.Handler(h)
}

func (a *API) getStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, a.ctrl.Status())
}

func (a *API) listRules(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, a.ctrl.ListRules())
}

func (a *API) getRule(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	rule, ok := a.ctrl.Rule(id)
	if !ok {
		writeError(w, http.StatusNotFound, "rule not found: "+id)
		return
	}
	writeJSON(w, http.StatusOK, rule)
}

func (a *API) addRule(w http.ResponseWriter, r *http.Request) {
	var cfg RuleConfig
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		writeError(w, http.StatusBadRequest, "invalid rule body: "+err.Error())
		return
	}
	id, err := a.ctrl.AddRule(cfg)
	switch {
	case errors.Is(err, ErrDuplicateRule):
		writeError(w, http.StatusConflict, err.Error())
		return
	case errors.Is(err, ErrInvalidRule):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		a.logger.Error("rule.add_failed", "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.Header().Set("Location", "/rules/"+id)
	writeJSON(w, http.StatusCreated, map[string]string{"rule_id": id})
}

func (a *API) removeRule(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	removed := a.ctrl.RemoveRule(id)
	code := http.StatusOK
	if !removed {
		code = http.StatusNotFound
	}
	writeJSON(w, code, map[string]bool{"removed": removed})
}

type healthStatus struct {
	Status         string            `json:"status"` // ok | degraded | limited
	ControlEnabled bool              `json:"control_enabled"`
	Rules          int               `json:"rules"`
	Checks         map[string]string `json:"checks,omitempty"`
}

func (a *API) health() (healthStatus, bool) {
	st := healthStatus{
		Status:         "ok",
		ControlEnabled: a.ctrl.ControlEnabled(),
		Rules:          a.ctrl.store.Len(),
		Checks:         make(map[string]string, len(a.checks)),
	}
	ready := st.ControlEnabled
	for _, c := range a.checks {
		if err := c.Probe(); err != nil {
			st.Checks[c.Name] = err.Error()
			st.Status = "degraded"
			if c.Critical {
				ready = false
			}
			continue
		}
		st.Checks[c.Name] = "ok"
	}
	if !st.ControlEnabled {
		st.Status = "limited"
	}
	return st, ready
}

// healthz always answers 200; the body tells how healthy the service is.
func (a *API) healthz(w http.ResponseWriter, _ *http.Request) {
	st, _ := a.health()
	writeJSON(w, http.StatusOK, st)
}

func (a *API) readyz(w http.ResponseWriter, _ *http.Request) {
	st, ready := a.health()
	code := http.StatusOK
	if !ready {
		code = http.StatusServiceUnavailable
	}
	failing := make([]string, 0)
	for name, v := range st.Checks {
		if v != "ok" {
			failing = append(failing, name)
		}
	}
	sort.Strings(failing)
	writeJSON(w, code, map[string]any{"ready": ready, "failing": failing})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
