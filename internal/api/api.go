// v1
// internal/api/api.go
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"

	"nrgchamp/ecsmonitor/internal/control"
	"nrgchamp/ecsmonitor/internal/engine"
	"nrgchamp/ecsmonitor/internal/metrics"
)

// Monitor is the part of the engine the operator surface drives.
type Monitor interface {
	Snapshot() engine.Snapshot
	Ranges() *control.Ranges
	SetRange(q control.Quantity, rg control.Range) error
	Halt(ctx context.Context) error
}

type Deps struct {
	Log       *slog.Logger
	Monitor   Monitor
	Metrics   *metrics.Metrics
	AccessLog io.Writer
}

type Server struct{ d Deps }

func NewServer(d Deps) *Server {
	if d.Log == nil {
		d.Log = slog.Default()
	}
	if d.AccessLog == nil {
		d.AccessLog = os.Stdout
	}
	return &Server{d: d}
}

func (s *Server) Router() http.Handler {
	r := mux.NewRouter()
	s.handle(r, "/health", s.handleHealth, http.MethodGet)
	s.handle(r, "/status", s.handleStatus, http.MethodGet)
	s.handle(r, "/config/ranges", s.handleGetRanges, http.MethodGet)
	s.handle(r, "/config/ranges/{quantity}", s.handlePutRange, http.MethodPut)
	s.handle(r, "/halt", s.handleHalt, http.MethodPost)
	if s.d.Metrics != nil {
		r.Handle("/metrics", s.d.Metrics.Handler()).Methods(http.MethodGet)
	}
	recovery := handlers.RecoveryHandler(
		handlers.RecoveryLogger(slog.NewLogLogger(s.d.Log.Handler(), slog.LevelError)),
		handlers.PrintRecoveryStack(false),
	)
	return handlers.CombinedLoggingHandler(s.d.AccessLog, recovery(r))
}

func (s *Server) handle(r *mux.Router, path string, fn http.HandlerFunc, method string) {
	var h http.Handler = fn
	if s.d.Metrics != nil {
		h = s.d.Metrics.Instrument(path, h)
	}
	r.Handle(path, h).Methods(method)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.d.Monitor.Snapshot())
}

func (s *Server) handleGetRanges(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.d.Monitor.Ranges().All())
}

type rangeBody struct {
	Low  *float64 `json:"low"`
	High *float64 `json:"high"`
}

func (s *Server) handlePutRange(w http.ResponseWriter, r *http.Request) {
	q, ok := control.ParseQuantity(mux.Vars(r)["quantity"])
	if !ok {
		http.Error(w, "unknown quantity", http.StatusNotFound)
		return
	}
	var body rangeBody
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&body); err != nil {
		http.Error(w, "invalid json: "+err.Error(), http.StatusBadRequest)
		return
	}
	if body.Low == nil || body.High == nil {
		http.Error(w, "low and high are required", http.StatusBadRequest)
		return
	}
	rg := control.Range{Low: *body.Low, High: *body.High}
	if err := s.d.Monitor.SetRange(q, rg); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, control.ErrInvalidRange) {
			status = http.StatusBadRequest
		}
		http.Error(w, err.Error(), status)
		return
	}
	s.d.Log.Info("range_updated", "quantity", q.String(), "low", rg.Low, "high", rg.High, "remote", r.RemoteAddr)
	writeJSON(w, http.StatusOK, map[string]any{"quantity": q.String(), "range": rg})
}

func (s *Server) handleHalt(w http.ResponseWriter, r *http.Request) {
	if err := s.d.Monitor.Halt(r.Context()); err != nil {
		s.d.Log.Error("halt_failed", "error", err)
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"status": "halting"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
