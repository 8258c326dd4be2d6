package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/joho/godotenv"
	"github.com/rs/cors"

	"github.com/LeonardoBeccarini/smartbolt/internal/services/gateway/app"
	"github.com/LeonardoBeccarini/smartbolt/pkg/logging"
)

func main() {
	_ = godotenv.Load()
	cfg := loadConfig()
	logger := logging.New("gateway", logging.ParseLevel(os.Getenv("LOG_LEVEL")))

	gw := app.NewGateway(app.Config{
		ControlBaseURL:  cfg.ControlURL,
		EventsBaseURL:   cfg.EventURL,
		EventsLimit:     cfg.EventsLimit,
		HTTPTimeout:     cfg.timeout(),
		BreakerFailures: uint32(cfg.BreakerFailures),
		BreakerOpenFor:  time.Duration(cfg.BreakerOpenMs) * time.Millisecond,
		Logger:          logger,
	})

	r := mux.NewRouter()
	r.HandleFunc("/healthz", gw.HandleHealth).Methods(http.MethodGet)
	r.HandleFunc("/dashboard/data", gw.HandleDashboard).Methods(http.MethodGet)

	origins := cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	h := cors.New(cors.Options{AllowedOrigins: origins, AllowedMethods: []string{http.MethodGet}}).
		Handler(handlers.LoggingHandler(os.Stdout, handlers.RecoveryHandler()(r)))

	srv := &http.Server{Addr: ":" + cfg.Port, Handler: h, ReadHeaderTimeout: 5 * time.Second}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shCtx)
	}()

	logger.Info("gateway.listening", "addr", srv.Addr, "control", cfg.ControlURL, "events", cfg.EventURL)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("gateway.exit", "error", err)
		os.Exit(1)
	}
}
