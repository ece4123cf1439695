package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/rescp17/lanrtc/pkg/concurrency"
)

const serviceIDHeader = "X-Service-ID"

// OfferPayload is the structure of the request body for the /offer endpoint.
type OfferPayload struct {
	Offer webrtc.SessionDescription `json:"offer"`
}

// AnswerPayload is the response body of a successful /offer request.
type AnswerPayload struct {
	Answer webrtc.SessionDescription `json:"answer"`
}

type errorPayload struct {
	Error string `json:"error"`
}

// SessionHandler answers one offer. The returned channel is closed once the
// session started by the offer has ended; until then further offers are
// rejected as busy.
type SessionHandler func(ctx context.Context, offer webrtc.SessionDescription) (*webrtc.SessionDescription, <-chan struct{}, error)

// API is the main entry point for the entire receiver API.
type API struct {
	server *ReceiverGuard
	mux    *http.ServeMux
}

// NewAPI creates and initializes a new API instance. serviceID, when set,
// must match the X-Service-ID header of requests that carry one.
func NewAPI(serviceID string, handler SessionHandler) *API {
	api := &API{
		server: NewReceiverGuard(serviceID, handler),
		mux:    http.NewServeMux(),
	}
	api.registerRoutes()
	return api
}

// ServeHTTP allows the API struct to satisfy the http.Handler interface.
func (a *API) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	a.mux.ServeHTTP(w, r)
}

// registerRoutes connects all handlers and middleware.
func (a *API) registerRoutes() {
	offerHandlerWithMiddleware := a.server.ConcurrencyControlMiddleware(http.HandlerFunc(a.server.OfferHandler))

	a.mux.Handle("POST /offer", offerHandlerWithMiddleware)
	a.mux.HandleFunc("GET /status", a.server.StatusHandler)
}

// ReceiverGuard manages the server's state and core logic.
type ReceiverGuard struct {
	guard     *concurrency.ConcurrencyGuard
	serviceID string
	handler   SessionHandler

	mu      sync.Mutex
	session <-chan struct{}
}

// NewReceiverGuard creates a new ReceiverGuard instance.
func NewReceiverGuard(serviceID string, handler SessionHandler) *ReceiverGuard {
	return &ReceiverGuard{
		guard:     concurrency.NewConcurrencyGuard(),
		serviceID: serviceID,
		handler:   handler,
	}
}

// ConcurrencyControlMiddleware ensures only one session is active at a time.
func (s *ReceiverGuard) ConcurrencyControlMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		task := func() error {
			next.ServeHTTP(w, r)
			// Block until the session started by this request is over
			<-s.takeSession()
			return nil
		}

		err := s.guard.Execute(task)
		if errors.Is(err, concurrency.ErrBusy) {
			slog.Warn("Request rejected, server is busy", "remote", r.RemoteAddr)
			writeJSON(w, http.StatusServiceUnavailable, errorPayload{Error: concurrency.ErrBusy.Error()})
		}
	})
}

func (s *ReceiverGuard) setSession(done <-chan struct{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.session = done
}

// takeSession returns the pending session's done channel, or a closed channel
// when the request did not start one.
func (s *ReceiverGuard) takeSession() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	done := s.session
	s.session = nil
	if done == nil {
		closed := make(chan struct{})
		close(closed)
		return closed
	}
	return done
}

// OfferHandler answers a WebRTC offer.
func (s *ReceiverGuard) OfferHandler(w http.ResponseWriter, r *http.Request) {
	if id := r.Header.Get(serviceIDHeader); id != "" && s.serviceID != "" && id != s.serviceID {
		slog.Warn("Offer addressed to another receiver", "service_id", id)
		writeJSON(w, http.StatusForbidden, errorPayload{Error: "service id mismatch"})
		return
	}

	var req OfferPayload
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Offer.SDP == "" {
		writeJSON(w, http.StatusBadRequest, errorPayload{Error: "invalid offer"})
		return
	}
	slog.Info("Offer received", "remote", r.RemoteAddr, "type", req.Offer.Type.String())

	answer, done, err := s.handler(r.Context(), req.Offer)
	if err != nil {
		slog.Error("Failed to answer offer", "error", err)
		writeJSON(w, http.StatusInternalServerError, errorPayload{Error: err.Error()})
		return
	}
	s.setSession(done)

	writeJSON(w, http.StatusOK, AnswerPayload{Answer: *answer})
	if flusher, ok := w.(http.Flusher); ok {
		flusher.Flush()
	}
	slog.Info("Answer sent", "remote", r.RemoteAddr)
}

// StatusHandler reports whether a session is active.
func (s *ReceiverGuard) StatusHandler(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"busy": s.guard.IsBusy()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to write response", "error", err)
	}
}
