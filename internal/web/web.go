package web

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"slices"
	"strings"
	"time"

	"campuscal/internal/config"
	appLog "campuscal/internal/log"
	"campuscal/internal/model"
	"campuscal/internal/query"
)

// EventQuerier answers read-path queries; query.Service implements it.
type EventQuerier interface {
	Events(ctx context.Context, req query.Request) ([]model.Event, error)
}

// Instrumenter counts requests and serves the collected metrics;
// metrics.Metrics implements it.
type Instrumenter interface {
	Instrument(path string, next http.Handler) http.Handler
	Handler() http.Handler
}

// Server exposes the read API: /health, /events and /api/events, plus
// /metrics when an Instrumenter is set.
type Server struct {
	cfg     *config.Config
	events  EventQuerier
	metrics Instrumenter
	mux     *http.ServeMux
}

// Option customizes a Server.
type Option func(*Server)

// WithMetrics instruments the event routes and mounts /metrics.
func WithMetrics(m Instrumenter) Option {
	return func(s *Server) { s.metrics = m }
}

// NewServer constructs a new Server.
func NewServer(cfg *config.Config, events EventQuerier, opts ...Option) *Server {
	s := &Server{
		cfg:    cfg,
		events: events,
		mux:    http.NewServeMux(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.registerRoutes()
	return s
}

// Handler returns the mux wrapped in CORS and, when configured, basic auth.
func (s *Server) Handler() http.Handler {
	h := http.Handler(s.mux)
	if s.basicAuthEnabled() {
		appLog.Info("HTTP basic auth enabled", "listen", "http://"+s.cfg.Listen)
		h = s.basicAuthMiddleware(h)
	}
	return s.corsMiddleware(h)
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("/health", s.handleHealth)
	s.handle("/events", http.HandlerFunc(s.handleEvents))
	s.handle("/api/events", http.HandlerFunc(s.handleEvents))
	if s.metrics != nil {
		s.mux.Handle("/metrics", s.metrics.Handler())
	}
}

func (s *Server) handle(path string, h http.Handler) {
	if s.metrics != nil {
		h = s.metrics.Instrument(path, h)
	}
	s.mux.Handle(path, h)
}

// basicAuthEnabled reports whether HTTP Basic Auth is configured.
func (s *Server) basicAuthEnabled() bool {
	if s.cfg == nil || s.cfg.BasicAuth == nil {
		return false
	}
	// Empty username or password disables auth.
	return s.cfg.BasicAuth.Username != "" && s.cfg.BasicAuth.Password != ""
}

// basicAuthMiddleware wraps all handlers except /health with HTTP Basic Auth.
func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	username := s.cfg.BasicAuth.Username
	password := s.cfg.BasicAuth.Password

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" || r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}

		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, username) || !secureCompare(p, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="campuscal", charset="UTF-8"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// secureCompare compares two strings in constant time.
func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// corsMiddleware echoes allowed origins and answers preflight requests.
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	var allowed []string
	if s.cfg != nil {
		allowed = s.cfg.CORSAllowOrigins
	}
	allowAll := slices.Contains(allowed, "*")

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && (allowAll || slices.Contains(allowed, origin)) {
			h := w.Header()
			h.Set("Access-Control-Allow-Origin", origin)
			h.Add("Vary", "Origin")
			h.Set("Access-Control-Allow-Methods", "GET, OPTIONS")
			h.Set("Access-Control-Allow-Headers", "Authorization, Content-Type")
			h.Set("Access-Control-Allow-Credentials", "true")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// eventsResponse is the JSON response shape for /events.
type eventsResponse struct {
	Events []eventDTO `json:"events"`
}

// eventDTO is a JSON-friendly view of a stored event.
type eventDTO struct {
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
	Cost        int       `json:"cost"`
	Categories  []string  `json:"categories"`
	Summary     string    `json:"summary"`
	Description string    `json:"description"`
	Link        string    `json:"link"`
	Location    string    `json:"location"`
}

func toDTO(ev model.Event) eventDTO {
	cats := make([]string, 0, len(ev.Categories))
	for _, c := range ev.Categories {
		cats = append(cats, string(c))
	}
	return eventDTO{
		Start:       ev.Start.UTC(),
		End:         ev.End.UTC(),
		Cost:        ev.Cost,
		Categories:  cats,
		Summary:     ev.Summary,
		Description: ev.Description,
		Link:        ev.Link,
		Location:    ev.Location,
	}
}

// handleEvents returns stored events in a window, optionally minus those
// clashing with a consumer calendar feed.
//
// GET /events?start_time=...&end_time=...&ics_url=...
//   - start_time: RFC 3339, default now
//   - end_time:   RFC 3339, default start_time plus the configured window
//   - ics_url:    consumer feed whose busy time excludes clashing events
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	q := r.URL.Query()
	start, err := parseTimeParam(q.Get("start_time"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid start_time: expected RFC 3339")
		return
	}
	end, err := parseTimeParam(q.Get("end_time"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid end_time: expected RFC 3339")
		return
	}
	feedURL := strings.TrimSpace(q.Get("ics_url"))

	appLog.Info("api events request",
		"start_time", q.Get("start_time"),
		"end_time", q.Get("end_time"),
		"ics_url", appLog.RedactURL(feedURL),
	)

	events, err := s.events.Events(r.Context(), query.Request{Start: start, End: end, FeedURL: feedURL})
	switch {
	case errors.Is(err, query.ErrBadRequest):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		appLog.Error("api events: query failed", err)
		writeError(w, http.StatusServiceUnavailable, "event store unavailable")
		return
	}

	resp := eventsResponse{Events: make([]eventDTO, 0, len(events))}
	for _, ev := range events {
		resp.Events = append(resp.Events, toDTO(ev))
	}
	writeJSON(w, http.StatusOK, resp)
}

// parseTimeParam accepts RFC 3339 with or without fractional seconds. An
// unescaped "+" in the offset arrives as a space and is restored. Empty means
// absent.
func parseTimeParam(v string) (time.Time, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return time.Time{}, nil
	}
	if i := strings.LastIndexByte(v, ' '); i > 0 && strings.Count(v[i+1:], ":") == 1 {
		v = v[:i] + "+" + v[i+1:]
	}
	return time.Parse(time.RFC3339Nano, v)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	type errResp struct {
		Error string `json:"error"`
	}
	writeJSON(w, status, errResp{Error: msg})
}
