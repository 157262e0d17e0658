// v0
// internal/config/config.go
// Package config loads the monitor and simulator settings from the environment and an
// optional .properties file.
package config

import (
	"bufio"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"nrgchamp/ecsmonitor/internal/control"
	"nrgchamp/ecsmonitor/internal/health"
	"nrgchamp/ecsmonitor/internal/registry"
)

const (
	TransportKafka = "kafka"
	TransportMQTT  = "mqtt"
)

type AppConfig struct {
	HTTPBind       string
	Transport      string
	KafkaBrokers   []string
	Topic          string
	PresenceTopic  string
	MQTTBroker     string
	MQTTTopic      string
	PropertiesPath string

	Rings             [registry.RoleCount][]int
	TerminateID       int
	Health            health.Config
	LoopDelay         time.Duration
	LivenessOnReceipt bool
	AlertLogFile      string
	RestartCmd        string
	RestartWait       time.Duration
	TemperatureRange  control.Range
	HumidityRange     control.Range
}

// Load reads the environment, then the properties file named by ECS_PROPERTIES if set.
// A first positional argument replaces the broker host, keeping the port.
func Load(args []string) (*AppConfig, error) {
	c := &AppConfig{
		HTTPBind:          getenv("HTTP_BIND", ":8080"),
		Transport:         strings.ToLower(getenv("ECS_TRANSPORT", TransportKafka)),
		KafkaBrokers:      split(getenv("KAFKA_BROKERS", "localhost:9092"), ","),
		Topic:             getenv("ECS_TOPIC", "ecs.messages"),
		PresenceTopic:     getenv("ECS_PRESENCE_TOPIC", "ecs.participants"),
		MQTTBroker:        getenv("MQTT_BROKER", "tcp://localhost:1883"),
		MQTTTopic:         getenv("MQTT_TOPIC", "ecs/messages"),
		PropertiesPath:    os.Getenv("ECS_PROPERTIES"),
		Rings:             registry.DefaultRings(),
		TerminateID:       registry.DefaultTerminateID,
		Health:            health.DefaultConfig(),
		LoopDelay:         time.Second,
		AlertLogFile:      "log.txt",
		RestartWait:       5 * time.Second,
		TemperatureRange:  control.DefaultRange(control.Temperature),
		HumidityRange:     control.DefaultRange(control.Humidity),
		LivenessOnReceipt: false,
	}
	if c.Transport != TransportKafka && c.Transport != TransportMQTT {
		return nil, fmt.Errorf("ECS_TRANSPORT: unknown transport %q", c.Transport)
	}
	if len(c.KafkaBrokers) == 0 {
		return nil, errors.New("KAFKA_BROKERS required")
	}
	if c.PropertiesPath != "" {
		if err := c.loadProperties(c.PropertiesPath); err != nil {
			return nil, err
		}
	}
	if len(args) > 0 && strings.TrimSpace(args[0]) != "" {
		c.OverrideHost(strings.TrimSpace(args[0]))
	}
	return c, nil
}

// OverrideHost points every broker address at host.
func (c *AppConfig) OverrideHost(host string) {
	for i, b := range c.KafkaBrokers {
		c.KafkaBrokers[i] = replaceHost(b, host, "9092")
	}
	scheme, addr, ok := strings.Cut(c.MQTTBroker, "://")
	if !ok {
		scheme, addr = "tcp", c.MQTTBroker
	}
	c.MQTTBroker = scheme + "://" + replaceHost(addr, host, "1883")
}

func replaceHost(addr, host, defPort string) string {
	_, port, err := net.SplitHostPort(addr)
	if err != nil || port == "" {
		port = defPort
	}
	return net.JoinHostPort(host, port)
}

// Registry builds the validated channel registry.
func (c *AppConfig) Registry() (*registry.Registry, error) {
	return registry.New(c.Rings, c.TerminateID)
}

// Ranges builds the operator range store seeded with the configured bands.
func (c *AppConfig) Ranges() (*control.Ranges, error) {
	return control.NewRanges(c.TemperatureRange, c.HumidityRange)
}

func (c *AppConfig) loadProperties(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	s := bufio.NewScanner(f)
	for s.Scan() {
		line := strings.TrimSpace(s.Text())
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "//") {
			continue
		}
		k, v, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		k = strings.TrimSpace(k)
		v = strings.TrimSpace(v)
		if err := c.apply(k, v); err != nil {
			return fmt.Errorf("%s: %s: %w", path, k, err)
		}
	}
	if err := s.Err(); err != nil {
		return err
	}
	return c.validate()
}

func (c *AppConfig) apply(k, v string) error {
	switch k {
	case "range.temperature.low":
		return parseFloat(v, &c.TemperatureRange.Low)
	case "range.temperature.high":
		return parseFloat(v, &c.TemperatureRange.High)
	case "range.humidity.low":
		return parseFloat(v, &c.HumidityRange.Low)
	case "range.humidity.high":
		return parseFloat(v, &c.HumidityRange.High)
	case "health.sensor.alert":
		return parseDuration(v, &c.Health.SensorAlert)
	case "health.controller.alert":
		return parseDuration(v, &c.Health.ControllerAlert)
	case "health.confirm_grace":
		return parseDuration(v, &c.Health.ConfirmGrace)
	case "health.retry_limit":
		return parseInt(v, &c.Health.RetryLimit)
	case "loop.delay":
		return parseDuration(v, &c.LoopDelay)
	case "liveness.on_receipt":
		b, err := strconv.ParseBool(v)
		if err != nil {
			return err
		}
		c.LivenessOnReceipt = b
	case "alert.log_file":
		c.AlertLogFile = v
	case "transport.restart_cmd":
		c.RestartCmd = v
	case "transport.restart_wait":
		return parseDuration(v, &c.RestartWait)
	case "terminate.id":
		return parseInt(v, &c.TerminateID)
	default:
		if key, ok := strings.CutPrefix(k, "role."); ok {
			key, ok = strings.CutSuffix(key, ".nodes")
			role, known := registry.ParseRole(key)
			if !ok || !known {
				return errors.New("unknown role")
			}
			ids, err := parseIDs(v)
			if err != nil {
				return err
			}
			c.Rings[role] = ids
		}
	}
	return nil
}

// validate checks the cross-key rules once every property is known.
func (c *AppConfig) validate() error {
	if err := c.TemperatureRange.Validate(); err != nil {
		return fmt.Errorf("range.temperature: %w", err)
	}
	if err := c.HumidityRange.Validate(); err != nil {
		return fmt.Errorf("range.humidity: %w", err)
	}
	if err := c.Health.Validate(); err != nil {
		return fmt.Errorf("health: %w", err)
	}
	if c.LoopDelay <= 0 {
		return errors.New("loop.delay: must be > 0")
	}
	if _, err := c.Registry(); err != nil {
		return fmt.Errorf("role: %w", err)
	}
	return nil
}

func parseIDs(v string) ([]int, error) {
	var ids []int
	for _, p := range split(v, ",") {
		id, err := strconv.Atoi(p)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		return nil, registry.ErrEmptyRing
	}
	return ids, nil
}

func parseFloat(v string, dst *float64) error {
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return err
	}
	*dst = f
	return nil
}

func parseInt(v string, dst *int) error {
	i, err := strconv.Atoi(v)
	if err != nil {
		return err
	}
	*dst = i
	return nil
}

func parseDuration(v string, dst *time.Duration) error {
	d, err := time.ParseDuration(v)
	if err != nil {
		return err
	}
	*dst = d
	return nil
}

func getenv(k, d string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return d
}

func split(s, sep string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, sep)
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
