package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"github.com/LeonardoBeccarini/smartbolt/internal/services/controller"
	"github.com/LeonardoBeccarini/smartbolt/internal/services/event"
	"github.com/LeonardoBeccarini/smartbolt/pkg/logging"
	"github.com/LeonardoBeccarini/smartbolt/pkg/rabbitmq"
)

func main() {
	_ = godotenv.Load()

	cfg, err := controller.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(2)
	}
	logger := logging.New(cfg.Source, cfg.LogLevel)
	cfg.MQTT.Logger = logger

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := controller.NewMetrics(reg)

	deps := controller.Deps{Metrics: metrics, Logger: logger}
	var checks []controller.Check

	// Audit trail (optional)
	var writer *event.Writer
	if cfg.Influx.URL != "" {
		influx := influxdb2.NewClient(cfg.Influx.URL, cfg.Influx.Token)
		defer influx.Close()
		writer = event.NewWriter(influx.WriteAPI(cfg.Influx.Org, cfg.Influx.Bucket), logger)
		defer writer.Flush()
		deps.Audit = writer
		checks = append(checks, controller.Check{Name: "audit", Probe: func() error { return writer.Healthy(30 * time.Second) }})
	}

	// MQTT: without a broker the service starts in limited mode and keeps retrying
	tr := &transport{}
	checks = append(checks,
		controller.Check{Name: "mqtt", Critical: true, Probe: tr.probe},
		controller.Check{Name: "publish_breaker", Probe: tr.breakerProbe},
	)

	client, err := rabbitmq.NewRabbitMQConn(&cfg.MQTT, ctx)
	if err != nil {
		logger.Error("mqtt.unavailable", "error", err)
	} else {
		defer rabbitmq.CloseRabbitMQConn(client)
		deps.Publisher = tr.set(client, cfg, logger)
	}

	ctrl, err := controller.NewController(cfg, deps)
	if err != nil {
		logger.Error("controller.init_failed", "error", err)
		os.Exit(1)
	}
	if client != nil {
		ctrl.AttachConsumers(consumers(client, cfg, logger))
	}

	api := controller.NewAPI(ctrl, logger, checks...)
	hs := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.Handler(reg, os.Stdout, cfg.AllowedOrigins),
		ReadHeaderTimeout: 5 * time.Second,
	}

	gs := grpc.NewServer()
	controller.RegisterControlServer(gs, ctrl, logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		ctrl.Start(gctx)
		return nil
	})
	if client == nil {
		g.Go(func() error {
			reconnect(gctx, cfg, tr, ctrl, logger)
			return nil
		})
	}
	g.Go(func() error {
		logger.Info("http.listening", "addr", cfg.HTTPAddr)
		if err := hs.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		lis, err := net.Listen("tcp", cfg.GRPCAddr)
		if err != nil {
			return fmt.Errorf("grpc listen: %w", err)
		}
		logger.Info("grpc.listening", "addr", cfg.GRPCAddr)
		return gs.Serve(lis)
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("controller.shutdown")
		shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		gs.GracefulStop()
		return hs.Shutdown(shCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("controller.exit", "error", err)
		os.Exit(1)
	}
}

func consumers(client mqtt.Client, cfg controller.Config, logger *slog.Logger) (sensorData, actuatorStatus rabbitmq.IConsumer) {
	return rabbitmq.NewConsumer(client, cfg.QoS, nil, cfg.SensorTopic).WithLogger(logger),
		rabbitmq.NewConsumer(client, cfg.QoS, nil, cfg.StatusTopic).WithLogger(logger)
}

// reconnect retries the broker until it answers, then enables control. The connection is
// closed when ctx is done.
func reconnect(ctx context.Context, cfg controller.Config, tr *transport, ctrl *controller.Controller, logger *slog.Logger) {
	bo := backoff.NewExponentialBackOff()
	bo.MaxInterval = time.Minute
	bo.MaxElapsedTime = 0

	var client mqtt.Client
	err := backoff.RetryNotify(func() error {
		c, err := rabbitmq.NewRabbitMQConn(&cfg.MQTT, ctx)
		if err != nil {
			return err
		}
		client = c
		return nil
	}, backoff.WithContext(bo, ctx), func(err error, next time.Duration) {
		logger.Warn("mqtt.retry", "in", next.String(), "error", err)
	})
	if err != nil {
		// ctx done
		return
	}

	sensorData, actuatorStatus := consumers(client, cfg, logger)
	if err := ctrl.EnableControl(tr.set(client, cfg, logger), sensorData, actuatorStatus); err != nil {
		logger.Error("control.enable_failed", "error", err)
		rabbitmq.CloseRabbitMQConn(client)
	}
}

// transport holds the broker connection once there is one; health probes read it.
type transport struct {
	mu      sync.RWMutex
	client  mqtt.Client
	breaker *rabbitmq.BreakerPublisher
}

func (t *transport) set(client mqtt.Client, cfg controller.Config, logger *slog.Logger) *rabbitmq.BreakerPublisher {
	b := rabbitmq.NewBreakerPublisher(rabbitmq.NewPublisher(client, cfg.QoS, cfg.PublishTimeout), cfg.Breaker, logger)
	t.mu.Lock()
	t.client, t.breaker = client, b
	t.mu.Unlock()
	return b
}

func (t *transport) probe() error {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.client == nil || !t.client.IsConnectionOpen() {
		return rabbitmq.ErrNotConnected
	}
	return nil
}

func (t *transport) breakerProbe() error {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.breaker == nil {
		return rabbitmq.ErrNotConnected
	}
	if st := t.breaker.State(); st != "closed" {
		return fmt.Errorf("breaker %s", st)
	}
	return nil
}
