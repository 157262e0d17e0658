// v2
// internal/transport/kafkabus/bus.go
// Package kafkabus carries bus messages over a single Kafka topic. Every participant
// consumes the topic with its own consumer group, so each message reaches everyone.
package kafkabus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"nrgchamp/ecsmonitor/internal/circuitbreaker"
	"nrgchamp/ecsmonitor/internal/transport"
)

const (
	fetchTimeout = 120 * time.Millisecond
	drainBudget  = 350 * time.Millisecond
)

type Config struct {
	Brokers       []string
	Topic         string
	PresenceTopic string
	// Component labels the participant in presence records and consumer group ids.
	Component string
}

// Presence is written to the presence topic when a participant joins or leaves.
type Presence struct {
	ParticipantID string    `json:"participantId"`
	Component     string    `json:"component"`
	Event         string    `json:"event"`
	At            time.Time `json:"at"`
}

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Bus struct {
	cfg Config
	log *slog.Logger

	readerBreaker *circuitbreaker.KafkaBreaker
	writerBreaker *circuitbreaker.KafkaBreaker

	newReader func(group string) messageReader
	newWriter func(topic string) messageWriter
	dial      func(ctx context.Context, addr string) error

	mu       sync.Mutex
	reg      transport.Registration
	reader   messageReader
	cbReader *circuitbreaker.CBKafkaReader
	writer   messageWriter
	cbWriter *circuitbreaker.CBKafkaWriter
	presence messageWriter
	closed   bool
}

func New(cfg Config, log *slog.Logger) (*Bus, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafkabus: no brokers")
	}
	if cfg.Topic == "" {
		return nil, errors.New("kafkabus: empty topic")
	}
	if cfg.Component == "" {
		cfg.Component = "ecs"
	}
	if log == nil {
		log = slog.Default()
	}
	b := &Bus{cfg: cfg, log: log.With(slog.String("component", "kafka-bus"))}
	b.newReader = b.kafkaReader
	b.newWriter = b.kafkaWriter
	b.dial = dialBroker

	var err error
	probe := func(ctx context.Context) error { return b.Ping(ctx) }
	if b.readerBreaker, err = circuitbreaker.NewKafkaBreakerFromEnv(cfg.Component+"-kafka-reader", probe, b.log); err != nil {
		return nil, fmt.Errorf("reader breaker: %w", err)
	}
	if b.writerBreaker, err = circuitbreaker.NewKafkaBreakerFromEnv(cfg.Component+"-kafka-writer", probe, b.log); err != nil {
		return nil, fmt.Errorf("writer breaker: %w", err)
	}
	b.log.Info("kafka breaker", "component", "reader", "enabled", b.readerBreaker.Enabled())
	b.log.Info("kafka breaker", "component", "writer", "enabled", b.writerBreaker.Enabled())
	return b, nil
}

// Breakers returns the reader and writer breakers so callers can observe transitions.
// Either breaker is nil when CB_ENABLED is off.
func (b *Bus) Breakers() (reader, writer *circuitbreaker.Breaker) {
	return b.readerBreaker.Breaker(), b.writerBreaker.Breaker()
}

func (b *Bus) kafkaReader(group string) messageReader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:     b.cfg.Brokers,
		GroupID:     group,
		Topic:       b.cfg.Topic,
		StartOffset: kafka.LastOffset,
		MinBytes:    1,
		MaxBytes:    10e6,
		MaxWait:     100 * time.Millisecond,
	})
}

func (b *Bus) kafkaWriter(topic string) messageWriter {
	return &kafka.Writer{
		Addr:         kafka.TCP(b.cfg.Brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		BatchTimeout: 10 * time.Millisecond,
	}
}

func dialBroker(ctx context.Context, addr string) error {
	conn, err := kafka.DialContext(ctx, "tcp", addr)
	if err != nil {
		return err
	}
	return conn.Close()
}

func (b *Bus) groupID(participant string) string {
	return b.cfg.Component + "." + participant
}

// Register creates the participant's consumer group and announces it on the presence
// topic.
func (b *Bus) Register(ctx context.Context) (transport.Registration, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return transport.Registration{}, transport.Wrap("register", transport.ErrClosed)
	}
	_ = b.closeClientsLocked()
	reg := transport.Registration{ParticipantID: uuid.NewString(), RegisteredAt: time.Now().UTC()}
	b.openLocked(reg.ParticipantID)
	if err := b.announceLocked(ctx, reg.ParticipantID, "register"); err != nil {
		b.closeClientsLocked()
		return transport.Registration{}, transport.Wrap("register", err)
	}
	b.reg = reg
	b.log.Info("registered", "participant", reg.ParticipantID, "group", b.groupID(reg.ParticipantID), "topic", b.cfg.Topic)
	return reg, nil
}

func (b *Bus) openLocked(participant string) {
	b.reader = b.newReader(b.groupID(participant))
	b.cbReader = circuitbreaker.NewCBKafkaReader(b.reader, b.readerBreaker)
	b.writer = b.newWriter(b.cfg.Topic)
	b.cbWriter = circuitbreaker.NewCBKafkaWriter(b.writer, b.writerBreaker)
	if b.cfg.PresenceTopic != "" {
		b.presence = b.newWriter(b.cfg.PresenceTopic)
	}
}

func (b *Bus) announceLocked(ctx context.Context, participant, event string) error {
	if b.presence == nil {
		return nil
	}
	v, err := json.Marshal(Presence{ParticipantID: participant, Component: b.cfg.Component, Event: event, At: time.Now().UTC()})
	if err != nil {
		return err
	}
	w := circuitbreaker.NewCBKafkaWriter(b.presence, b.writerBreaker)
	return w.WriteMessages(ctx, kafka.Message{Key: []byte(participant), Value: v, Time: time.Now()})
}

func (b *Bus) Unregister(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.reader == nil {
		return transport.Wrap("unregister", transport.ErrNotRegistered)
	}
	err := b.announceLocked(ctx, b.reg.ParticipantID, "unregister")
	b.closeClientsLocked()
	b.log.Info("unregistered", "participant", b.reg.ParticipantID)
	b.reg = transport.Registration{}
	return transport.Wrap("unregister", err)
}

// Fetch drains what the topic currently holds for this participant. It stops at the
// first idle poll or after a short budget so the control cycle keeps its pace.
func (b *Bus) Fetch(ctx context.Context) ([]transport.Message, error) {
	b.mu.Lock()
	r := b.cbReader
	raw := b.reader
	b.mu.Unlock()
	if r == nil {
		return nil, transport.Wrap("fetch", transport.ErrNotRegistered)
	}
	var out []transport.Message
	var last kafka.Message
	got := false
	deadline := time.Now().Add(drainBudget)
	for {
		ctx2, cancel := context.WithTimeout(ctx, fetchTimeout)
		msg, err := r.FetchMessage(ctx2)
		cancel()
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
				break
			}
			if !got {
				return nil, transport.Wrap("fetch", err)
			}
			break
		}
		last, got = msg, true
		m, err := transport.Decode(msg.Value)
		if err != nil {
			b.log.Error("bad json", "offset", msg.Offset, "error", err)
		} else {
			out = append(out, m)
		}
		if time.Now().After(deadline) {
			break
		}
	}
	if got {
		if err := raw.CommitMessages(ctx, last); err != nil {
			b.log.Warn("commit failed", "offset", last.Offset, "error", err)
		}
	}
	return out, nil
}

func (b *Bus) Send(ctx context.Context, m transport.Message) error {
	b.mu.Lock()
	w := b.cbWriter
	b.mu.Unlock()
	if w == nil {
		return transport.Wrap("send", transport.ErrNotRegistered)
	}
	v, err := transport.Encode(m)
	if err != nil {
		return transport.Wrap("send", err)
	}
	msg := kafka.Message{Key: []byte(strconv.Itoa(m.ID)), Value: v, Time: time.Now()}
	return transport.Wrap("send", w.WriteMessages(ctx, msg))
}

// Ping dials the brokers in order and succeeds on the first that answers.
func (b *Bus) Ping(ctx context.Context) error {
	var errs []error
	for _, addr := range b.cfg.Brokers {
		dctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		err := b.dial(dctx, addr)
		cancel()
		if err == nil {
			return nil
		}
		errs = append(errs, fmt.Errorf("%s: %w", addr, err))
	}
	return transport.Wrap("ping", errors.Join(errs...))
}

// Reconnect rebuilds the Kafka clients under the same consumer group, so committed
// offsets carry over.
func (b *Bus) Reconnect(ctx context.Context) error {
	if err := b.Ping(ctx); err != nil {
		return transport.Wrap("reconnect", err)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return transport.Wrap("reconnect", transport.ErrClosed)
	}
	if b.reg.ParticipantID == "" {
		return transport.Wrap("reconnect", transport.ErrNotRegistered)
	}
	b.closeClientsLocked()
	b.openLocked(b.reg.ParticipantID)
	b.log.Info("reconnected", "participant", b.reg.ParticipantID)
	return nil
}

func (b *Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return b.closeClientsLocked()
}

func (b *Bus) closeClientsLocked() error {
	var errs []error
	if b.reader != nil {
		errs = append(errs, b.reader.Close())
	}
	if b.writer != nil {
		errs = append(errs, b.writer.Close())
	}
	if b.presence != nil {
		errs = append(errs, b.presence.Close())
	}
	b.reader, b.cbReader, b.writer, b.cbWriter, b.presence = nil, nil, nil, nil, nil
	return errors.Join(errs...)
}

var _ transport.Transport = (*Bus)(nil)
