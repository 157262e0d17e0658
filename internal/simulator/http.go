// v1
// internal/simulator/http.go
package simulator

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
)

func (s *Simulator) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Simulator) handleStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(s.Status())
}

func (s *Simulator) handleNode(set func(int) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := strconv.Atoi(mux.Vars(r)["id"])
		if err != nil {
			http.Error(w, "bad node id", http.StatusBadRequest)
			return
		}
		if err := set(id); err != nil {
			if errors.Is(err, ErrUnknownNode) {
				http.Error(w, err.Error(), http.StatusNotFound)
				return
			}
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// Routes exposes status and node failure injection.
func (s *Simulator) Routes() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	r.HandleFunc("/nodes/{id}/fail", s.handleNode(s.Fail)).Methods(http.MethodPost)
	r.HandleFunc("/nodes/{id}/recover", s.handleNode(s.Recover)).Methods(http.MethodPost)
	s.log.Info("http routes registered")
	return r
}
