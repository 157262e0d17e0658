// v0
// internal/alert/alert_test.go
package alert

import (
	"bytes"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"nrgchamp/ecsmonitor/internal/health"
	"nrgchamp/ecsmonitor/internal/registry"
)

var at = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func TestFromEventLevels(t *testing.T) {
	stale := FromEvent(health.Event{Kind: health.EventStale, Role: registry.SensorTemperature, Node: 1, Misses: 1, Limit: 3, At: at})
	if stale.Level != Warning || !strings.HasPrefix(stale.Text, "[WARNING]") {
		t.Fatalf("stale entry %+v", stale)
	}
	sw := FromEvent(health.Event{Kind: health.EventSwitched, Role: registry.ControllerHumidity, Node: 44, Previous: 4, At: at})
	if sw.Level != Info || !strings.HasPrefix(sw.Text, "[INFO]") {
		t.Fatalf("switch entry %+v", sw)
	}
}

func TestFileLogAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "log.txt")
	fl, err := NewFileLog(path)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	for _, text := range []string{"[WARNING] one", "[INFO] two"} {
		if err := fl.Post(Entry{Text: text, At: at}); err != nil {
			t.Fatalf("post: %v", err)
		}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	lines := strings.Split(strings.TrimSuffix(string(data), "\n"), "\n")
	if len(lines) != 2 || !strings.HasSuffix(lines[0], "[WARNING] one") || !strings.HasSuffix(lines[1], "[INFO] two") {
		t.Fatalf("unexpected file content %q", data)
	}
}

func TestNewFileLogRejectsEmptyPath(t *testing.T) {
	if _, err := NewFileLog(""); err == nil {
		t.Fatalf("expected error")
	}
}

type failingSink struct{ err error }

func (f failingSink) Post(Entry) error { return f.err }

func TestFanoutReachesEverySink(t *testing.T) {
	var buf bytes.Buffer
	boom := errors.New("disk full")
	fo := Fanout{failingSink{boom}, LogSink{Log: slog.New(slog.NewTextHandler(&buf, nil))}}

	err := fo.Post(Entry{Level: Warning, Text: "[WARNING] lost", At: at})
	if !errors.Is(err, boom) {
		t.Fatalf("expected joined error, got %v", err)
	}
	if !strings.Contains(buf.String(), "level=WARN") || !strings.Contains(buf.String(), "lost") {
		t.Fatalf("display sink not reached: %q", buf.String())
	}
}
