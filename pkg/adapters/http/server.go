package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/aretw0/stash"
	"github.com/aretw0/stash/internal/logging"
	"github.com/aretw0/stash/pkg/domain"
	"github.com/aretw0/stash/pkg/ports"
	"github.com/go-chi/chi/v5"
)

// Sessions is the session API the handler serves. *stash.Stash and
// *session.Manager satisfy it.
type Sessions interface {
	Create(ctx context.Context, data any, expiry domain.Expiry) (*domain.Record, error)
	Load(ctx context.Context, id domain.ID) (*domain.Record, error)
	Save(ctx context.Context, rec *domain.Record) error
	Delete(ctx context.Context, id domain.ID) error
	Touch(ctx context.Context, id domain.ID, expiry domain.Expiry) (*domain.Record, error)
	List(ctx context.Context) ([]domain.ID, error)
}

// Sweeper runs an out-of-schedule sweep.
type Sweeper interface {
	Sweep(ctx context.Context) error
}

// Server holds the HTTP handlers of the admin API.
type Server struct {
	Sessions Sessions
	Sweeper  Sweeper
	Metrics  http.Handler
	Streams  *StreamManager
	Logger   *slog.Logger
	now      func() time.Time
}

// Option configures a Server.
type Option func(*Server)

// WithSweeper exposes POST /sweep.
func WithSweeper(s Sweeper) Option {
	return func(srv *Server) {
		srv.Sweeper = s
	}
}

// WithMetrics exposes GET /metrics.
func WithMetrics(h http.Handler) Option {
	return func(srv *Server) {
		srv.Metrics = h
	}
}

// WithLogger sets the request logger.
func WithLogger(logger *slog.Logger) Option {
	return func(srv *Server) {
		srv.Logger = logger
	}
}

// WithNow replaces the clock used to resolve expires_in.
func WithNow(now func() time.Time) Option {
	return func(srv *Server) {
		srv.now = now
	}
}

// NewHandler creates a new HTTP handler for the session API.
func NewHandler(sessions Sessions, opts ...Option) http.Handler {
	s := &Server{
		Sessions: sessions,
		Logger:   logging.NewNop(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.Streams = NewStreamManager(s.Logger)

	r := chi.NewRouter()
	r.Get("/health", s.GetHealth)
	r.Get("/info", s.GetInfo)
	r.Get("/events", s.SubscribeEvents)
	r.Route("/sessions", func(r chi.Router) {
		r.Get("/", s.ListSessions)
		r.Post("/", s.CreateSession)
		r.Get("/{id}", s.GetSession)
		r.Put("/{id}", s.PutSession)
		r.Delete("/{id}", s.DeleteSession)
		r.Post("/{id}/touch", s.TouchSession)
	})
	if s.Sweeper != nil {
		r.Post("/sweep", s.Sweep)
	}
	if s.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.Metrics)
	}
	return enableCORS(r)
}

func enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Custom-Header")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// SessionRequest is the body of POST /sessions, PUT /sessions/{id} and
// POST /sessions/{id}/touch. ExpiresIn wins over ExpiresAt; neither means no expiry.
type SessionRequest struct {
	Data      map[string]any `json:"data,omitempty"`
	ExpiresAt *time.Time     `json:"expires_at,omitempty"`
	ExpiresIn string         `json:"expires_in,omitempty"`
}

// SessionResponse renders a record. Values that do not map onto JSON are
// returned as their encoded bytes.
type SessionResponse struct {
	ID        domain.ID      `json:"id"`
	ExpiresAt *time.Time     `json:"expires_at,omitempty"`
	Data      map[string]any `json:"data"`
}

// Event is broadcast to /events subscribers when a session changes.
type Event struct {
	Type string    `json:"type"`
	ID   domain.ID `json:"id"`
}

func (req SessionRequest) expiry(now time.Time) (domain.Expiry, error) {
	if req.ExpiresIn != "" {
		d, err := time.ParseDuration(req.ExpiresIn)
		if err != nil {
			return domain.Expiry{}, fmt.Errorf("invalid expires_in: %w", err)
		}
		return domain.ExpiresIn(now, d), nil
	}
	if req.ExpiresAt != nil {
		return domain.ExpiresAt(*req.ExpiresAt), nil
	}
	return domain.NoExpiry(), nil
}

func newSessionResponse(rec *domain.Record) SessionResponse {
	resp := SessionResponse{ID: rec.ID, Data: make(map[string]any, len(rec.Data))}
	if at, ok := rec.Expiry.Time(); ok {
		resp.ExpiresAt = &at
	}
	for k, raw := range rec.Data {
		var v any
		if err := domain.DecodeValue(raw, &v); err != nil {
			v = []byte(raw)
		}
		resp.Data[k] = v
	}
	return resp
}

// normalize turns integral JSON numbers back into integers so counters keep their type.
func normalize(v any) any {
	switch t := v.(type) {
	case float64:
		if t == float64(int64(t)) {
			return int64(t)
		}
	case map[string]any:
		for k, e := range t {
			t[k] = normalize(e)
		}
	case []any:
		for i, e := range t {
			t[i] = normalize(e)
		}
	}
	return v
}

func (s *Server) decodeRequest(w http.ResponseWriter, r *http.Request) (SessionRequest, domain.Expiry, bool) {
	var body SessionRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			s.Logger.Warn("Invalid request body", "path", r.URL.Path, "err", err)
			return body, domain.Expiry{}, false
		}
	}
	expiry, err := body.expiry(s.now())
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return body, domain.Expiry{}, false
	}
	for k, v := range body.Data {
		body.Data[k] = normalize(v)
	}
	return body, expiry, true
}

// statusOf maps store errors onto HTTP status codes.
func statusOf(err error) int {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidID):
		return http.StatusBadRequest
	case errors.Is(err, ports.ErrNotSupported):
		return http.StatusNotImplemented
	case errors.Is(err, domain.ErrSerde):
		return http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrIO), errors.Is(err, domain.ErrIDExhaustion):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	code := statusOf(err)
	if code >= http.StatusInternalServerError {
		s.Logger.Error("Session request failed", "op", op, "path", r.URL.Path, "err", err)
	}
	http.Error(w, fmt.Sprintf("%s error: %v", op, err), code)
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.Logger.Error("Response encode failed", "err", err)
	}
}

func (s *Server) broadcast(kind string, id domain.ID) {
	b, err := json.Marshal(Event{Type: kind, ID: id})
	if err != nil {
		return
	}
	s.Streams.Broadcast(string(id), string(b))
}

// ListSessions handles GET /sessions.
func (s *Server) ListSessions(w http.ResponseWriter, r *http.Request) {
	ids, err := s.Sessions.List(r.Context())
	if err != nil {
		s.fail(w, r, "List", err)
		return
	}
	if ids == nil {
		ids = []domain.ID{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"sessions": ids})
}

// CreateSession handles POST /sessions.
func (s *Server) CreateSession(w http.ResponseWriter, r *http.Request) {
	body, expiry, ok := s.decodeRequest(w, r)
	if !ok {
		return
	}
	var data any
	if body.Data != nil {
		data = body.Data
	}
	rec, err := s.Sessions.Create(r.Context(), data, expiry)
	if err != nil {
		s.fail(w, r, "Create", err)
		return
	}
	s.broadcast("created", rec.ID)
	s.writeJSON(w, http.StatusCreated, newSessionResponse(rec))
}

// GetSession handles GET /sessions/{id}.
func (s *Server) GetSession(w http.ResponseWriter, r *http.Request) {
	rec, err := s.Sessions.Load(r.Context(), domain.ID(chi.URLParam(r, "id")))
	if err != nil {
		s.fail(w, r, "Load", err)
		return
	}
	s.writeJSON(w, http.StatusOK, newSessionResponse(rec))
}

// PutSession handles PUT /sessions/{id}. The record is replaced whole.
func (s *Server) PutSession(w http.ResponseWriter, r *http.Request) {
	body, expiry, ok := s.decodeRequest(w, r)
	if !ok {
		return
	}
	rec := domain.NewRecord(domain.ID(chi.URLParam(r, "id")), expiry)
	if err := rec.Merge(body.Data); err != nil {
		http.Error(w, fmt.Sprintf("Invalid data: %v", err), http.StatusBadRequest)
		return
	}
	if err := s.Sessions.Save(r.Context(), rec); err != nil {
		s.fail(w, r, "Save", err)
		return
	}
	s.broadcast("saved", rec.ID)
	s.writeJSON(w, http.StatusOK, newSessionResponse(rec))
}

// DeleteSession handles DELETE /sessions/{id}. Deleting an absent session succeeds.
func (s *Server) DeleteSession(w http.ResponseWriter, r *http.Request) {
	id := domain.ID(chi.URLParam(r, "id"))
	if err := s.Sessions.Delete(r.Context(), id); err != nil {
		s.fail(w, r, "Delete", err)
		return
	}
	s.broadcast("deleted", id)
	w.WriteHeader(http.StatusNoContent)
}

// TouchSession handles POST /sessions/{id}/touch.
func (s *Server) TouchSession(w http.ResponseWriter, r *http.Request) {
	_, expiry, ok := s.decodeRequest(w, r)
	if !ok {
		return
	}
	rec, err := s.Sessions.Touch(r.Context(), domain.ID(chi.URLParam(r, "id")), expiry)
	if err != nil {
		s.fail(w, r, "Touch", err)
		return
	}
	s.broadcast("touched", rec.ID)
	s.writeJSON(w, http.StatusOK, newSessionResponse(rec))
}

// Sweep handles POST /sweep.
func (s *Server) Sweep(w http.ResponseWriter, r *http.Request) {
	if err := s.Sweeper.Sweep(r.Context()); err != nil {
		s.fail(w, r, "Sweep", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetHealth handles the GET /health request.
func (s *Server) GetHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// GetInfo handles the GET /info request.
func (s *Server) GetInfo(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{
		"app":     "stash-http",
		"version": strings.TrimSpace(stash.Version),
	})
}

// StreamManager handles active SSE connections
type StreamManager struct {
	mu          sync.RWMutex
	subscribers map[string]map[chan<- string]struct{} // SessionID -> Set of Channels
	logger      *slog.Logger
}

// NewStreamManager creates a StreamManager that reports dropped messages to
// logger. A nil logger discards them.
func NewStreamManager(logger *slog.Logger) *StreamManager {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &StreamManager{
		subscribers: make(map[string]map[chan<- string]struct{}),
		logger:      logger,
	}
}

// Subscribe registers a channel for one session. An empty id receives every event.
func (sm *StreamManager) Subscribe(sessionID string) (chan string, func()) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	ch := make(chan string, 10)
	if _, ok := sm.subscribers[sessionID]; !ok {
		sm.subscribers[sessionID] = make(map[chan<- string]struct{})
	}
	sm.subscribers[sessionID][ch] = struct{}{}

	return ch, func() {
		sm.mu.Lock()
		defer sm.mu.Unlock()
		if subs, ok := sm.subscribers[sessionID]; ok {
			delete(subs, ch)
			close(ch)
			if len(subs) == 0 {
				delete(sm.subscribers, sessionID)
			}
		}
	}
}

// Broadcast sends msg to the subscribers of sessionID and to global subscribers.
func (sm *StreamManager) Broadcast(sessionID string, msg string) {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	for _, key := range []string{sessionID, ""} {
		for ch := range sm.subscribers[key] {
			select {
			case ch <- msg:
			default:
				// Drop message if channel is full (slow client)
				sm.logger.Warn("SSE: Client buffer full, dropping message", "session_id", sessionID)
			}
		}
	}
}

// SubscribeEvents handles the GET /events request (SSE).
// ?session_id= narrows the stream to one session.
func (s *Server) SubscribeEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}

	sessionID := r.URL.Query().Get("session_id")
	if sessionID != "" {
		if err := domain.ID(sessionID).Validate(); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ch, cancel := s.Streams.Subscribe(sessionID)
	defer cancel()

	fmt.Fprintf(w, "event: ping\ndata: connected\n\n")
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			s.Logger.Debug("SSE Client Disconnected", "session_id", sessionID)
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			fmt.Fprintf(w, "data: %s\n\n", msg)
			flusher.Flush()
		}
	}
}
