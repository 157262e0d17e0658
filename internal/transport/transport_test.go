// v0
// internal/transport/transport_test.go
package transport

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDecode(t *testing.T) {
	m, err := Decode([]byte(`{"id":-5,"payload":"H1"}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if m.ID != -5 || m.Payload != "H1" {
		t.Fatalf("message %+v", m)
	}
	if _, err := Decode([]byte(`{"id":"x"}`)); err == nil {
		t.Fatal("bad id accepted")
	}
	b, err := Encode(Message{ID: 1, Payload: "71.5"})
	if err != nil || string(b) != `{"id":1,"payload":"71.5"}` {
		t.Fatalf("encode %s %v", b, err)
	}
}

func TestWrap(t *testing.T) {
	if Wrap("fetch", nil) != nil {
		t.Fatal("nil error wrapped")
	}
	cause := errors.New("broker gone")
	err := Wrap("fetch", cause)
	var te *Error
	if !errors.As(err, &te) || te.Op != "fetch" || !errors.Is(err, cause) {
		t.Fatalf("wrapped %v", err)
	}
	if again := Wrap("ping", err); again != err {
		t.Fatalf("rewrapped as %v", again)
	}
	if err.Error() != "transport fetch: broker gone" {
		t.Fatalf("message %q", err.Error())
	}
}

func TestCommandRemedy(t *testing.T) {
	lg := slog.New(slog.NewTextHandler(io.Discard, nil))
	if err := (CommandRemedy{}).Run(context.Background()); err != nil {
		t.Fatalf("empty command: %v", err)
	}

	marker := filepath.Join(t.TempDir(), "restarted")
	r := CommandRemedy{Command: "touch " + marker, Wait: 200 * time.Millisecond, Log: lg}
	if err := r.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if _, err := os.Stat(marker); err != nil {
		t.Fatalf("command did not run: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r = CommandRemedy{Command: "true", Wait: time.Minute, Log: lg}
	if err := r.Run(ctx); err == nil {
		t.Fatal("cancelled wait returned nil")
	}
}
