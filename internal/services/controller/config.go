package controller

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/LeonardoBeccarini/smartbolt/internal/model/entities"
	"github.com/LeonardoBeccarini/smartbolt/pkg/rabbitmq"
)

// InfluxConfig points the audit sink at an InfluxDB bucket. An empty URL disables it.
type InfluxConfig struct {
	URL    string
	Token  string
	Org    string
	Bucket string
}

type Config struct {
	Source        string // "source" of commands and alerts
	DefaultSector string
	Sensors       []string
	Thresholds    map[string]float64

	RulesPath       string // JSON or YAML; empty loads DefaultRules
	DefaultCooldown time.Duration

	SensorTopic  string
	StatusTopic  string
	CommandTopic string // may contain {sector}
	AlertTopic   string
	QoS          byte

	PublishTimeout time.Duration
	DedupTTL       time.Duration
	DedupMax       int

	HTTPAddr       string
	GRPCAddr       string
	AllowedOrigins []string // CORS; empty allows any origin
	LogLevel       slog.Level

	MQTT    rabbitmq.RabbitMQConfig
	Breaker rabbitmq.BreakerSettings
	Influx  InfluxConfig
}

// DefaultConfig is the configuration with every variable unset.
func DefaultConfig() Config {
	return Config{
		Source:          "control-logic",
		DefaultSector:   "default",
		Sensors:         append([]string(nil), entities.DefaultSensors...),
		Thresholds:      DefaultThresholds(),
		DefaultCooldown: 60 * time.Second,
		SensorTopic:     "iot/sensors/#",
		StatusTopic:     "iot/actuators/+/status",
		CommandTopic:    "iot/actuators/{sector}/command",
		AlertTopic:      "iot/alerts",
		QoS:             1,
		PublishTimeout:  5 * time.Second,
		DedupTTL:        10 * time.Minute,
		DedupMax:        20000,
		HTTPAddr:        ":8080",
		GRPCAddr:        ":50051",
		LogLevel:        slog.LevelInfo,
		MQTT: rabbitmq.RabbitMQConfig{
			Host:     "localhost",
			Port:     1883,
			User:     "guest",
			Password: "guest",
			ClientID: "ControlLogic-local",
		},
		Breaker: rabbitmq.BreakerSettings{Name: "mqtt-publish", Failures: 3, OpenFor: 10 * time.Second},
		Influx:  InfluxConfig{Org: "smartbolt", Bucket: "events"},
	}
}

// LoadConfig reads the environment on top of DefaultConfig.
func LoadConfig() (Config, error) {
	c := DefaultConfig()

	c.Source = env("SERVICE_NAME", c.Source)
	c.DefaultSector = env("DEFAULT_SECTOR", c.DefaultSector)
	c.Sensors = envList("RECOGNIZED_SENSORS", c.Sensors)
	th, err := ParseThresholds(os.Getenv("THRESHOLDS"), c.Thresholds)
	if err != nil {
		return Config{}, fmt.Errorf("THRESHOLDS: %w", err)
	}
	c.Thresholds = th

	c.RulesPath = env("RULES_PATH", "")
	c.DefaultCooldown = envDuration("RULE_COOLDOWN", c.DefaultCooldown)

	c.SensorTopic = env("SENSOR_SUB_TOPIC", c.SensorTopic)
	c.StatusTopic = env("ACTUATOR_STATUS_SUB_TOPIC", c.StatusTopic)
	c.CommandTopic = env("VALVE_COMMAND_TOPIC", c.CommandTopic)
	c.AlertTopic = env("ALERT_TOPIC", c.AlertTopic)
	qos := envInt("MQTT_QOS", int(c.QoS))
	if qos < 0 || qos > 2 {
		return Config{}, fmt.Errorf("MQTT_QOS: %d out of range", qos)
	}
	c.QoS = byte(qos)

	c.PublishTimeout = envDuration("PUBLISH_TIMEOUT", c.PublishTimeout)
	c.DedupTTL = envDuration("DEDUP_TTL", c.DedupTTL)
	c.DedupMax = envInt("DEDUP_MAX", c.DedupMax)

	c.HTTPAddr = env("HTTP_ADDR", c.HTTPAddr)
	c.GRPCAddr = env("GRPC_ADDR", c.GRPCAddr)
	c.AllowedOrigins = envList("CORS_ALLOWED_ORIGINS", nil)
	if lvl := os.Getenv("LOG_LEVEL"); lvl != "" {
		if err := c.LogLevel.UnmarshalText([]byte(lvl)); err != nil {
			return Config{}, fmt.Errorf("LOG_LEVEL: %w", err)
		}
	}

	c.MQTT.Host = env("RABBITMQ_HOST", c.MQTT.Host)
	c.MQTT.Port = envInt("RABBITMQ_PORT", c.MQTT.Port)
	c.MQTT.User = env("RABBITMQ_USER", c.MQTT.User)
	c.MQTT.Password = env("RABBITMQ_PASSWORD", c.MQTT.Password)
	c.MQTT.ClientID = fmt.Sprintf("ControlLogic-%s", env("HOSTNAME", "local"))
	c.MQTT.MaxRetries = envInt("MQTT_CONNECT_RETRIES", 5)
	c.MQTT.MaxElapsedTime = envDuration("MQTT_CONNECT_TIMEOUT", 10*time.Second)

	c.Breaker.Failures = uint32(envInt("BREAKER_FAILURES", int(c.Breaker.Failures)))
	c.Breaker.OpenFor = envDuration("BREAKER_OPEN_FOR", c.Breaker.OpenFor)

	c.Influx.URL = env("INFLUX_URL", "")
	c.Influx.Token = env("INFLUX_TOKEN", "")
	c.Influx.Org = env("INFLUX_ORG", c.Influx.Org)
	c.Influx.Bucket = env("INFLUX_BUCKET", c.Influx.Bucket)
	return c, nil
}

func env(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

// envDuration accepts Go durations ("5s") or plain seconds.
func envDuration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if f, err := strconv.ParseFloat(v, 64); err == nil {
		return time.Duration(f * float64(time.Second))
	}
	return def
}

func envList(key string, def []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	if len(out) == 0 {
		return def
	}
	return out
}
