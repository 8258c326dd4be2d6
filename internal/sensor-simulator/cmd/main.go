package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/LeonardoBeccarini/smartbolt/internal/model"
	sensorSimulator "github.com/LeonardoBeccarini/smartbolt/internal/sensor-simulator"
	"github.com/LeonardoBeccarini/smartbolt/pkg/logging"
	"github.com/LeonardoBeccarini/smartbolt/pkg/rabbitmq"
)

func env(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// parseDevices reads "bolt-1@s1,bolt-2@s2".
func parseDevices(s string) ([]model.Device, error) {
	var out []model.Device
	for _, p := range strings.Split(s, ",") {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		id, sector, ok := strings.Cut(p, "@")
		if !ok || id == "" || sector == "" {
			return nil, fmt.Errorf("invalid device %q, want id@sector", p)
		}
		out = append(out, model.Device{ID: id, SectorID: sector})
	}
	return out, nil
}

func loadDevices(path string) ([]model.Device, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var devs []model.Device
	if err := json.Unmarshal(raw, &devs); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return devs, nil
}

func main() {
	_ = godotenv.Load()

	devicesFlag := flag.String("devices", "bolt-1@sector-a,bolt-2@sector-b", "comma separated id@sector list")
	devicesFile := flag.String("devices-file", "", "JSON list of devices with baselines (overrides -devices)")
	clientID := flag.String("client-id", "boltSimulator1", "MQTT client ID")
	interval := flag.Duration("interval", 5*time.Second, "publish interval")
	perSecond := flag.Float64("rate", 20, "max messages per second, 0 for unlimited")
	spike := flag.Float64("spike", 0.02, "probability per tick of an out-of-range reading")
	seed := flag.Int64("seed", time.Now().UnixNano(), "random seed")
	flag.Parse()

	logger := logging.New("bolt-simulator", logging.ParseLevel(os.Getenv("LOG_LEVEL")))

	var (
		devs []model.Device
		err  error
	)
	if *devicesFile != "" {
		devs, err = loadDevices(*devicesFile)
	} else {
		devs, err = parseDevices(*devicesFlag)
	}
	if err != nil || len(devs) == 0 {
		logger.Error("devices.invalid", "error", err, "count", len(devs))
		os.Exit(2)
	}

	port, _ := strconv.Atoi(env("RABBITMQ_PORT", "1883"))
	cfg := &rabbitmq.RabbitMQConfig{
		Host:     env("RABBITMQ_HOST", "localhost"),
		Port:     port,
		User:     env("RABBITMQ_USER", "guest"),
		Password: env("RABBITMQ_PASSWORD", "guest"),
		ClientID: *clientID,
		Logger:   logger,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client, err := rabbitmq.NewRabbitMQConn(cfg, ctx)
	if err != nil {
		logger.Error("mqtt.connect_failed", "error", err)
		os.Exit(1)
	}

	publisher := rabbitmq.NewPublisher(client, 1, 5*time.Second)
	defer publisher.Close()
	consumer := rabbitmq.NewConsumer(client, 1, nil, env("VALVE_COMMAND_SUB_TOPIC", "iot/actuators/+/command")).WithLogger(logger)

	gens := make([]*sensorSimulator.DataGenerator, 0, len(devs))
	for i, d := range devs {
		gens = append(gens, sensorSimulator.NewDataGenerator(d, *spike, *seed+int64(i)))
	}
	topics := sensorSimulator.Topics{
		Telemetry: env("SENSOR_PUB_TOPIC", sensorSimulator.DefaultTopics().Telemetry),
		Status:    env("ACTUATOR_STATUS_PUB_TOPIC", sensorSimulator.DefaultTopics().Status),
	}
	sim := sensorSimulator.NewSensorSimulator(consumer, publisher, topics, *perSecond, logger, gens...)

	logger.Info("simulator.start", "devices", len(devs), "interval", interval.String())
	sim.Start(ctx, *interval)
}
