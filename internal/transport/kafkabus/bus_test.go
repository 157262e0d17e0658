// v1
// internal/transport/kafkabus/bus_test.go
package kafkabus

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/segmentio/kafka-go"

	"nrgchamp/ecsmonitor/internal/transport"
)

type stubReader struct {
	mu        sync.Mutex
	queue     []kafka.Message
	err       error
	committed []kafka.Message
	closed    bool
}

func (s *stubReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	s.mu.Lock()
	if s.err != nil {
		err := s.err
		s.mu.Unlock()
		return kafka.Message{}, err
	}
	if len(s.queue) > 0 {
		m := s.queue[0]
		s.queue = s.queue[1:]
		s.mu.Unlock()
		return m, nil
	}
	s.mu.Unlock()
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (s *stubReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.committed = append(s.committed, msgs...)
	return nil
}

func (s *stubReader) Close() error { s.mu.Lock(); s.closed = true; s.mu.Unlock(); return nil }

type stubWriter struct {
	mu      sync.Mutex
	topic   string
	written []kafka.Message
	err     error
	closed  bool
}

func (s *stubWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.written = append(s.written, msgs...)
	return nil
}

func (s *stubWriter) Close() error { s.mu.Lock(); s.closed = true; s.mu.Unlock(); return nil }

type harness struct {
	bus     *Bus
	readers []*stubReader
	groups  []string
	writers map[string][]*stubWriter
	dialErr error
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	t.Setenv("CB_ENABLED", "false")
	b, err := New(Config{Brokers: []string{"kafka:9092"}, Topic: "ecs.messages", PresenceTopic: "ecs.participants", Component: "monitor"},
		slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	h := &harness{bus: b, writers: map[string][]*stubWriter{}}
	b.newReader = func(group string) messageReader {
		r := &stubReader{}
		h.readers = append(h.readers, r)
		h.groups = append(h.groups, group)
		return r
	}
	b.newWriter = func(topic string) messageWriter {
		w := &stubWriter{topic: topic}
		h.writers[topic] = append(h.writers[topic], w)
		return w
	}
	b.dial = func(context.Context, string) error { return h.dialErr }
	return h
}

func (h *harness) reader() *stubReader { return h.readers[len(h.readers)-1] }

func (h *harness) writer(topic string) *stubWriter {
	ws := h.writers[topic]
	return ws[len(ws)-1]
}

func encoded(t *testing.T, m transport.Message) kafka.Message {
	t.Helper()
	v, err := transport.Encode(m)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	return kafka.Message{Value: v}
}

func TestRegisterAnnouncesPresence(t *testing.T) {
	h := newHarness(t)
	reg, err := h.bus.Register(context.Background())
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if reg.ParticipantID == "" || reg.RegisteredAt.IsZero() {
		t.Fatalf("incomplete registration %+v", reg)
	}
	if h.groups[0] != "monitor."+reg.ParticipantID {
		t.Fatalf("group id %q", h.groups[0])
	}
	pw := h.writer("ecs.participants")
	if len(pw.written) != 1 {
		t.Fatalf("expected one presence record, got %d", len(pw.written))
	}
	var p Presence
	if err := json.Unmarshal(pw.written[0].Value, &p); err != nil {
		t.Fatalf("presence json: %v", err)
	}
	if p.Event != "register" || p.ParticipantID != reg.ParticipantID || p.Component != "monitor" {
		t.Fatalf("presence %+v", p)
	}
}

func TestRegisterFailureClosesClients(t *testing.T) {
	h := newHarness(t)
	h.bus.newWriter = func(topic string) messageWriter {
		w := &stubWriter{topic: topic}
		if topic == "ecs.participants" {
			w.err = errors.New("broker refused")
		}
		h.writers[topic] = append(h.writers[topic], w)
		return w
	}
	_, err := h.bus.Register(context.Background())
	var te *transport.Error
	if !errors.As(err, &te) || te.Op != "register" {
		t.Fatalf("expected transport register error, got %v", err)
	}
	if !h.reader().closed {
		t.Fatalf("reader left open after failed registration")
	}
	if _, err := h.bus.Fetch(context.Background()); !errors.Is(err, transport.ErrNotRegistered) {
		t.Fatalf("fetch after failed registration: %v", err)
	}
}

func TestFetchDrainsAndCommits(t *testing.T) {
	h := newHarness(t)
	if _, err := h.bus.Register(context.Background()); err != nil {
		t.Fatalf("register: %v", err)
	}
	r := h.reader()
	r.queue = []kafka.Message{
		encoded(t, transport.Message{ID: 1, Payload: "70"}),
		{Value: []byte("not json"), Offset: 1},
		encoded(t, transport.Message{ID: 1, Payload: "90"}),
	}
	r.queue[2].Offset = 2

	got, err := h.bus.Fetch(context.Background())
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(got) != 2 || got[0].Payload != "70" || got[1].Payload != "90" {
		t.Fatalf("unexpected batch %+v", got)
	}
	if len(r.committed) != 1 || r.committed[0].Offset != 2 {
		t.Fatalf("expected commit of last offset, got %+v", r.committed)
	}

	empty, err := h.bus.Fetch(context.Background())
	if err != nil || len(empty) != 0 {
		t.Fatalf("idle fetch = %v, %v", empty, err)
	}
}

func TestFetchErrorIsTransportError(t *testing.T) {
	h := newHarness(t)
	if _, err := h.bus.Register(context.Background()); err != nil {
		t.Fatalf("register: %v", err)
	}
	cause := errors.New("connection refused")
	h.reader().err = cause
	_, err := h.bus.Fetch(context.Background())
	var te *transport.Error
	if !errors.As(err, &te) || te.Op != "fetch" || !errors.Is(err, cause) {
		t.Fatalf("unexpected error %v", err)
	}
}

func TestSendKeysByID(t *testing.T) {
	h := newHarness(t)
	if err := h.bus.Send(context.Background(), transport.Message{ID: 5, Payload: "H1"}); !errors.Is(err, transport.ErrNotRegistered) {
		t.Fatalf("send before register: %v", err)
	}
	if _, err := h.bus.Register(context.Background()); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := h.bus.Send(context.Background(), transport.Message{ID: 5, Payload: "H1"}); err != nil {
		t.Fatalf("send: %v", err)
	}
	w := h.writer("ecs.messages")
	if len(w.written) != 1 || string(w.written[0].Key) != "5" {
		t.Fatalf("written %+v", w.written)
	}
	m, err := transport.Decode(w.written[0].Value)
	if err != nil || m != (transport.Message{ID: 5, Payload: "H1"}) {
		t.Fatalf("decoded %+v, %v", m, err)
	}
}

func TestPingAndReconnect(t *testing.T) {
	h := newHarness(t)
	reg, err := h.bus.Register(context.Background())
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	first := h.reader()

	h.dialErr = errors.New("no route to host")
	if err := h.bus.Ping(context.Background()); err == nil {
		t.Fatalf("expected ping failure")
	}
	if err := h.bus.Reconnect(context.Background()); err == nil {
		t.Fatalf("reconnect must fail while the broker is unreachable")
	}

	h.dialErr = nil
	if err := h.bus.Reconnect(context.Background()); err != nil {
		t.Fatalf("reconnect: %v", err)
	}
	if !first.closed || h.reader() == first {
		t.Fatalf("reader not rebuilt")
	}
	if h.groups[len(h.groups)-1] != "monitor."+reg.ParticipantID {
		t.Fatalf("reconnect changed the consumer group")
	}
}

func TestUnregister(t *testing.T) {
	h := newHarness(t)
	if _, err := h.bus.Register(context.Background()); err != nil {
		t.Fatalf("register: %v", err)
	}
	pw := h.writer("ecs.participants")
	if err := h.bus.Unregister(context.Background()); err != nil {
		t.Fatalf("unregister: %v", err)
	}
	if len(pw.written) != 2 || !pw.closed {
		t.Fatalf("presence writer %+v", pw)
	}
	if err := h.bus.Unregister(context.Background()); !errors.Is(err, transport.ErrNotRegistered) {
		t.Fatalf("second unregister: %v", err)
	}
}

func TestBusTopics(t *testing.T) {
	got := BusTopics(Config{Topic: "a", PresenceTopic: "b"}, 3)
	if len(got) != 2 || got[0] != (TopicSpec{Name: "a", Partitions: 1, Replication: 3}) || got[1].Name != "b" {
		t.Fatalf("topics %+v", got)
	}
}
