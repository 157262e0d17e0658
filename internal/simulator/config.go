// v1
// internal/simulator/config.go
package simulator

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	ListenAddr string
	Step       time.Duration

	// Drift toward the outdoor values, per second.
	Alpha float64

	InitialTemperature float64
	OutdoorTemperature float64
	InitialHumidity    float64
	OutdoorHumidity    float64

	// Actuator effect, in units per second while on.
	HeatRate  float64
	CoolRate  float64
	HumidRate float64
	DryRate   float64
}

func DefaultConfig() Config {
	return Config{
		ListenAddr:         ":8081",
		Step:               time.Second,
		Alpha:              0.01,
		InitialTemperature: 68,
		OutdoorTemperature: 85,
		InitialHumidity:    45,
		OutdoorHumidity:    60,
		HeatRate:           0.6,
		CoolRate:           0.6,
		HumidRate:          0.8,
		DryRate:            0.8,
	}
}

func loadProps(path string) (map[string]string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot load properties file: %w", err)
	}
	m := map[string]string{}
	for _, ln := range strings.Split(string(b), "\n") {
		ln = strings.TrimSpace(ln)
		if ln == "" || strings.HasPrefix(ln, "#") || strings.HasPrefix(ln, "//") {
			continue
		}
		kv := strings.SplitN(ln, "=", 2)
		if len(kv) != 2 {
			continue
		}
		m[strings.TrimSpace(kv[0])] = strings.TrimSpace(kv[1])
	}
	return m, nil
}

func getf(m map[string]string, key string, def float64, log *slog.Logger) float64 {
	if v, ok := m[key]; ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
		log.Warn("invalid float in properties, using default", "key", key, "val", v, "default", def)
	}
	return def
}

func getd(m map[string]string, key string, def time.Duration, log *slog.Logger) time.Duration {
	if v, ok := m[key]; ok {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			return d
		}
		log.Warn("invalid duration in properties, using default", "key", key, "val", v, "default", def.String())
	}
	return def
}

// LoadConfig reads the simulator keys (sim.*) from the properties file at path; an
// empty path keeps the defaults. SIM_BIND overrides the listen address.
func LoadConfig(path string, log *slog.Logger) (Config, error) {
	cfg := DefaultConfig()
	props := map[string]string{}
	if path != "" {
		p, err := loadProps(path)
		if err != nil {
			return Config{}, err
		}
		props = p
	}
	if v := props["sim.listen_addr"]; v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv("SIM_BIND"); v != "" {
		cfg.ListenAddr = v
	}
	cfg.Step = getd(props, "sim.step", cfg.Step, log)
	cfg.Alpha = getf(props, "sim.alpha", cfg.Alpha, log)
	cfg.InitialTemperature = getf(props, "sim.initial_temperature", cfg.InitialTemperature, log)
	cfg.OutdoorTemperature = getf(props, "sim.outdoor_temperature", cfg.OutdoorTemperature, log)
	cfg.InitialHumidity = getf(props, "sim.initial_humidity", cfg.InitialHumidity, log)
	cfg.OutdoorHumidity = getf(props, "sim.outdoor_humidity", cfg.OutdoorHumidity, log)
	cfg.HeatRate = getf(props, "sim.heat_rate", cfg.HeatRate, log)
	cfg.CoolRate = getf(props, "sim.cool_rate", cfg.CoolRate, log)
	cfg.HumidRate = getf(props, "sim.humid_rate", cfg.HumidRate, log)
	cfg.DryRate = getf(props, "sim.dry_rate", cfg.DryRate, log)
	return cfg, nil
}
