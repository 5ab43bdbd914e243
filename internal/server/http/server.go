// Package httpserver exposes the latest book snapshots, subscription status and order impact
// estimates over HTTP.
package httpserver

import (
	"errors"
	"net/http"
	"sort"
	"strings"
	"time"

	json "github.com/goccy/go-json"

	"github.com/coachpo/depthstream/errs"
	"github.com/coachpo/depthstream/internal/feed"
	"github.com/coachpo/depthstream/internal/impact"
	"github.com/coachpo/depthstream/internal/schema"
)

const (
	maxJSONBodyBytes int64 = 1 << 16

	bookPath   = "/book"
	statusPath = "/status"
	impactPath = "/impact"
)

// Source is the read side of the feed manager.
type Source interface {
	Handles() []feed.Handle
	Latest(handle feed.Handle) (schema.Update, bool)
}

type handlerFunc func(http.ResponseWriter, *http.Request)

type httpServer struct {
	source Source
}

type statusPayload struct {
	Handle      string        `json:"handle"`
	Status      schema.Status `json:"status"`
	State       string        `json:"state"`
	Attempt     int           `json:"attempt"`
	NextDelayMs int64         `json:"nextDelayMs,omitempty"`
	Error       string        `json:"error,omitempty"`
	Sequence    uint64        `json:"sequence,omitempty"`
	At          time.Time     `json:"at"`
}

// NewHandler returns the read-only HTTP surface over source.
func NewHandler(source Source) http.Handler {
	server := &httpServer{source: source}
	mux := http.NewServeMux()
	mux.Handle(bookPath, methodHandlers(map[string]handlerFunc{
		http.MethodGet: server.getBook,
	}))
	mux.Handle(statusPath, methodHandlers(map[string]handlerFunc{
		http.MethodGet: server.getStatus,
	}))
	mux.Handle(impactPath, methodHandlers(map[string]handlerFunc{
		http.MethodPost: server.estimateImpact,
	}))
	return withCORS(mux)
}

func methodHandlers(handlers map[string]handlerFunc) http.Handler {
	allowed := make([]string, 0, len(handlers))
	for method := range handlers {
		allowed = append(allowed, method)
	}
	sort.Strings(allowed)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if handler, ok := handlers[r.Method]; ok {
			handler(w, r)
			return
		}
		methodNotAllowed(w, allowed...)
	})
}

// resolve picks the subscription named by the handle query parameter, or the first one.
func (s *httpServer) resolve(w http.ResponseWriter, r *http.Request) (schema.Update, bool) {
	handle := feed.Handle(strings.TrimSpace(r.URL.Query().Get("handle")))
	if handle == "" {
		handles := s.source.Handles()
		if len(handles) == 0 {
			writeError(w, http.StatusNotFound, "no active subscription")
			return schema.Update{}, false
		}
		handle = handles[0]
	}
	update, ok := s.source.Latest(handle)
	if !ok {
		writeError(w, http.StatusNotFound, "subscription not found")
		return schema.Update{}, false
	}
	return update, true
}

func (s *httpServer) getBook(w http.ResponseWriter, r *http.Request) {
	update, ok := s.resolve(w, r)
	if !ok {
		return
	}
	if update.Snapshot == nil {
		writeError(w, http.StatusServiceUnavailable, "no snapshot published yet")
		return
	}
	writeJSON(w, http.StatusOK, update.Snapshot)
}

func (s *httpServer) getStatus(w http.ResponseWriter, _ *http.Request) {
	handles := s.source.Handles()
	out := make([]statusPayload, 0, len(handles))
	for _, handle := range handles {
		update, ok := s.source.Latest(handle)
		if !ok {
			continue
		}
		out = append(out, newStatusPayload(handle, update))
	}
	writeJSON(w, http.StatusOK, map[string]any{"subscriptions": out})
}

func newStatusPayload(handle feed.Handle, update schema.Update) statusPayload {
	payload := statusPayload{
		Handle:      handle.String(),
		Status:      update.Status,
		State:       update.State.String(),
		Attempt:     update.Attempt,
		NextDelayMs: update.NextDelay.Milliseconds(),
		At:          update.At,
	}
	if update.Err != nil {
		payload.Error = update.Err.Error()
	}
	if update.Snapshot != nil {
		payload.Sequence = update.Snapshot.Sequence
	}
	return payload
}

func (s *httpServer) estimateImpact(w http.ResponseWriter, r *http.Request) {
	update, ok := s.resolve(w, r)
	if !ok {
		return
	}
	var order impact.Order
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)).Decode(&order); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request payload")
		return
	}
	if update.Snapshot == nil {
		writeError(w, http.StatusServiceUnavailable, "no snapshot published yet")
		return
	}
	metrics, err := impact.Estimate(order, update.Snapshot)
	if err != nil {
		var envelope *errs.E
		if errors.As(err, &envelope) && envelope.Message != "" {
			writeError(w, http.StatusBadRequest, envelope.Message)
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, metrics)
}

func methodNotAllowed(w http.ResponseWriter, allowed ...string) {
	if len(allowed) > 0 {
		w.Header().Set("Allow", strings.Join(allowed, ", "))
	}
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"status": "error", "error": message})
}

func withCORS(handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		handler.ServeHTTP(w, r)
	})
}
