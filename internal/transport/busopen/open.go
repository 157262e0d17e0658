// v0
// internal/transport/busopen/open.go
// Package busopen builds the configured message bus for a binary.
package busopen

import (
	"fmt"
	"log/slog"

	"nrgchamp/ecsmonitor/internal/config"
	"nrgchamp/ecsmonitor/internal/metrics"
	"nrgchamp/ecsmonitor/internal/transport"
	"nrgchamp/ecsmonitor/internal/transport/kafkabus"
	"nrgchamp/ecsmonitor/internal/transport/mqttbus"
)

// Open returns the kafka or mqtt bus named by cfg.Transport. When m is set, kafka
// breaker transitions are exported as metrics.
func Open(cfg *config.AppConfig, component string, m *metrics.Metrics, lg *slog.Logger) (transport.Transport, error) {
	switch cfg.Transport {
	case config.TransportKafka:
		b, err := kafkabus.New(kafkabus.Config{
			Brokers:       cfg.KafkaBrokers,
			Topic:         cfg.Topic,
			PresenceTopic: cfg.PresenceTopic,
			Component:     component,
		}, lg)
		if err != nil {
			return nil, err
		}
		if m != nil {
			rd, wr := b.Breakers()
			if rd != nil {
				rd.OnTransition(m.BreakerState("kafka-reader"))
			}
			if wr != nil {
				wr.OnTransition(m.BreakerState("kafka-writer"))
			}
		}
		lg.Info("kafka bus ready", "brokers", cfg.KafkaBrokers, "topic", cfg.Topic)
		return b, nil
	case config.TransportMQTT:
		b, err := mqttbus.New(mqttbus.Config{
			Broker:    cfg.MQTTBroker,
			Topic:     cfg.MQTTTopic,
			Component: component,
		}, lg)
		if err != nil {
			return nil, err
		}
		lg.Info("mqtt bus ready", "broker", cfg.MQTTBroker, "topic", cfg.MQTTTopic)
		return b, nil
	}
	return nil, fmt.Errorf("unknown transport %q", cfg.Transport)
}
