package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/gorilla/mux"
	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/LeonardoBeccarini/smartbolt/internal/services/event"
	"github.com/LeonardoBeccarini/smartbolt/pkg/dedup"
	"github.com/LeonardoBeccarini/smartbolt/pkg/logging"
	"github.com/LeonardoBeccarini/smartbolt/pkg/rabbitmq"
)

func envStr(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}
func envInt(key string, def int) int {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func main() {
	_ = godotenv.Load()
	logger := logging.New("event-service", logging.ParseLevel(os.Getenv("LOG_LEVEL")))

	cfg := struct {
		Rabbit rabbitmq.RabbitMQConfig

		InfluxURL    string
		InfluxToken  string
		InfluxOrg    string
		InfluxBucket string

		Topics        event.Topics
		BatchSize     int
		FlushInterval time.Duration

		HTTPPort       int
		ReadinessGrace time.Duration
	}{
		Rabbit: rabbitmq.RabbitMQConfig{
			Host:     envStr("RABBITMQ_HOST", "localhost"),
			Port:     envInt("RABBITMQ_PORT", 1883),
			User:     envStr("RABBITMQ_USER", "guest"),
			Password: envStr("RABBITMQ_PASSWORD", "guest"),
			ClientID: envStr("HOSTNAME", "event-service"),
			Logger:   logger,
		},

		InfluxURL:    envStr("INFLUX_URL", "http://localhost:8086"),
		InfluxToken:  os.Getenv("INFLUX_TOKEN"),
		InfluxOrg:    envStr("INFLUX_ORG", "smartbolt"),
		InfluxBucket: envStr("INFLUX_BUCKET", "events"),

		Topics: event.Topics{
			Command: envStr("VALVE_COMMAND_SUB_TOPIC", event.DefaultTopics().Command),
			Status:  envStr("ACTUATOR_STATUS_SUB_TOPIC", event.DefaultTopics().Status),
			Alert:   envStr("ALERT_TOPIC", event.DefaultTopics().Alert),
		},
		BatchSize:     envInt("WRITE_BATCH_SIZE", 10),
		FlushInterval: time.Duration(envInt("WRITE_FLUSH_INTERVAL_MS", 200)) * time.Millisecond,

		HTTPPort:       envInt("HTTP_PORT", 8080),
		ReadinessGrace: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// InfluxDB
	opts := influxdb2.DefaultOptions().
		SetBatchSize(uint(cfg.BatchSize)).
		SetFlushInterval(uint(cfg.FlushInterval.Milliseconds()))
	influx := influxdb2.NewClientWithOptions(cfg.InfluxURL, cfg.InfluxToken, opts)
	defer influx.Close()
	writer := event.NewWriter(influx.WriteAPI(cfg.InfluxOrg, cfg.InfluxBucket), logger)
	defer writer.Flush()

	// MQTT
	mqttClient, err := rabbitmq.NewRabbitMQConn(&cfg.Rabbit, ctx)
	if err != nil {
		logger.Error("mqtt.connect_failed", "error", err)
		os.Exit(1)
	}
	defer rabbitmq.CloseRabbitMQConn(mqttClient)

	// HTTP
	r := mux.NewRouter()
	r.Handle("/healthz", event.NewHealthHandler(mqttClient, writer, 30*time.Second)).Methods(http.MethodGet)
	r.Handle("/readyz", event.NewReadyHandler(mqttClient, writer, 2*time.Second)).Methods(http.MethodGet)
	r.Handle("/events/latest", event.NewLatestHandler(influx, cfg.InfluxOrg, cfg.InfluxBucket, logger)).Methods(http.MethodGet)

	hs := &http.Server{
		Addr:              ":" + strconv.Itoa(cfg.HTTPPort),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	// commands and alerts are QoS 1: drop broker redeliveries
	d := dedup.New(10*time.Minute, 20000)
	h := event.NewMQTTHandler(cfg.Topics, writer.Record)
	consumer := rabbitmq.NewConsumer(mqttClient, 1, func(topic string, m mqtt.Message) error {
		if !event.MatchTopic(cfg.Topics.Status, topic) && !d.ShouldProcessPayload(m.Payload()) {
			return nil
		}
		return h.Handle(topic, m)
	}, cfg.Topics.Filters()...).WithLogger(logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("http.listening", "port", cfg.HTTPPort)
		if err := hs.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		consumer.ConsumeMessage(gctx)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("event.shutdown")
		shCtx, cancel := context.WithTimeout(context.Background(), cfg.ReadinessGrace)
		defer cancel()
		return hs.Shutdown(shCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("event.exit", "error", err)
	}
}
