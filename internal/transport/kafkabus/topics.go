// v1
// internal/transport/kafkabus/topics.go
package kafkabus

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
)

// TopicSpec is the desired layout of one topic.
type TopicSpec struct {
	Name        string
	Partitions  int
	Replication int
}

// BusTopics lists the topics the bus needs. The message topic has a single partition
// so every participant sees one total order.
func BusTopics(cfg Config, replication int) []TopicSpec {
	out := []TopicSpec{{Name: cfg.Topic, Partitions: 1, Replication: replication}}
	if cfg.PresenceTopic != "" {
		out = append(out, TopicSpec{Name: cfg.PresenceTopic, Partitions: 1, Replication: replication})
	}
	return out
}

// EnsureTopics creates missing topics through the cluster controller and verifies the
// partition count of each.
func EnsureTopics(ctx context.Context, log *slog.Logger, brokers []string, topics []TopicSpec) error {
	if len(brokers) == 0 {
		return fmt.Errorf("no brokers")
	}
	broker := brokers[0]
	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	conn, err := kafka.DialContext(dialCtx, "tcp", broker)
	if err != nil {
		return fmt.Errorf("dial broker %s: %w", broker, err)
	}
	defer func() {
		if cerr := conn.Close(); cerr != nil {
			log.Warn("broker_close", "error", cerr)
		}
	}()
	controller, err := conn.Controller()
	if err != nil {
		return fmt.Errorf("fetch controller metadata: %w", err)
	}
	ctrlAddr := fmt.Sprintf("%s:%d", controller.Host, controller.Port)
	ctrlCtx, ctrlCancel := context.WithTimeout(ctx, 10*time.Second)
	defer ctrlCancel()
	admin, err := kafka.DialContext(ctrlCtx, "tcp", ctrlAddr)
	if err != nil {
		return fmt.Errorf("dial controller %s: %w", ctrlAddr, err)
	}
	defer func() {
		if cerr := admin.Close(); cerr != nil {
			log.Warn("controller_close", "error", cerr)
		}
	}()
	if err := admin.SetDeadline(time.Now().Add(10 * time.Second)); err != nil {
		log.Warn("controller_deadline", "error", err)
	}

	configs := make([]kafka.TopicConfig, 0, len(topics))
	for _, t := range topics {
		configs = append(configs, kafka.TopicConfig{Topic: t.Name, NumPartitions: t.Partitions, ReplicationFactor: t.Replication})
	}
	if err := admin.CreateTopics(configs...); err != nil {
		if !isAlreadyExists(err) {
			return fmt.Errorf("create topics: %w", err)
		}
		log.Info("topics_exist", "error", err)
	} else {
		log.Info("topics_created", "count", len(configs))
	}
	for _, t := range topics {
		count, err := readPartitions(admin, t.Name)
		if err != nil {
			return err
		}
		if count != t.Partitions {
			return fmt.Errorf("topic %s has %d partitions; expected %d", t.Name, count, t.Partitions)
		}
		log.Info("topic_ready", "topic", t.Name, "partitions", count, "replication", t.Replication)
	}
	return nil
}

func readPartitions(conn *kafka.Conn, topic string) (int, error) {
	partitions, err := conn.ReadPartitions(topic)
	if err != nil {
		return 0, fmt.Errorf("read partitions for %s: %w", topic, err)
	}
	seen := map[int]struct{}{}
	for _, part := range partitions {
		if part.Topic != topic {
			continue
		}
		seen[part.ID] = struct{}{}
	}
	return len(seen), nil
}

func isAlreadyExists(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "Topic with this name already exists")
}
