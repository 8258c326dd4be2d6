package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/LeonardoBeccarini/smartbolt/internal/model/entities"
	"github.com/LeonardoBeccarini/smartbolt/internal/services/controller"
	"github.com/LeonardoBeccarini/smartbolt/internal/services/persistence"
	"github.com/LeonardoBeccarini/smartbolt/pkg/logging"
	"github.com/LeonardoBeccarini/smartbolt/pkg/rabbitmq"
)

func env(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func main() {
	_ = godotenv.Load()
	logger := logging.New("persistence-service", logging.ParseLevel(os.Getenv("LOG_LEVEL")))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// MQTT
	mqCfg := &rabbitmq.RabbitMQConfig{
		Host:     env("RABBITMQ_HOST", "localhost"),
		Port:     envInt("RABBITMQ_PORT", 1883),
		User:     env("RABBITMQ_USER", "guest"),
		Password: env("RABBITMQ_PASSWORD", "guest"),
		ClientID: env("MQTT_CLIENT_ID", "persistence-service"),
		Logger:   logger,
	}
	mqClient, err := rabbitmq.NewRabbitMQConn(mqCfg, ctx)
	if err != nil {
		logger.Error("mqtt.connect_failed", "error", err)
		os.Exit(1)
	}
	defer rabbitmq.CloseRabbitMQConn(mqClient)
	consumer := rabbitmq.NewConsumer(mqClient, 1, nil, env("SENSOR_SUB_TOPIC", "iot/sensors/+")).WithLogger(logger)

	// InfluxDB
	influxCfg := persistence.InfluxConfig{
		URL:         env("INFLUX_URL", "http://localhost:8086"),
		Token:       os.Getenv("INFLUX_TOKEN"),
		Org:         env("INFLUX_ORG", "smartbolt"),
		Bucket:      env("INFLUX_BUCKET", "telemetry"),
		Measurement: env("MEASUREMENT", "bolt_reading"),
	}
	influxClient := influxdb2.NewClient(influxCfg.URL, influxCfg.Token)
	defer influxClient.Close()

	ingest := controller.NewIngest(entities.DefaultSensors, env("DEFAULT_SECTOR", ""), nil)
	svc, err := persistence.NewService(consumer, influxClient.WriteAPIBlocking(influxCfg.Org, influxCfg.Bucket), ingest, influxCfg.Measurement, logger)
	if err != nil {
		logger.Error("persistence.init_failed", "error", err)
		os.Exit(1)
	}
	svc.WithQuery(influxClient.QueryAPI(influxCfg.Org), influxCfg.Bucket)

	router := persistence.NewRouter(svc)
	router.HandleFunc("/readyz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		ready := mqClient.IsConnectionOpen()
		if !ready {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"ready": ready})
	}).Methods(http.MethodGet)

	httpPort := env("PORT", "8080")
	srv := &http.Server{
		Addr:              ":" + httpPort,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	window := time.Duration(envInt("AGGREGATION_WINDOW_MS", 0)) * time.Millisecond

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("http.listening", "port", httpPort)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		svc.Start(gctx, window)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("persistence.exit", "error", err)
	}
	logger.Info("persistence.shutdown")
}
