// Package query serves stored events with optional clash filtering against
// a consumer-supplied calendar feed.
package query

import (
	"context"
	"errors"
	"fmt"
	"time"

	"campuscal/internal/interval"
	appLog "campuscal/internal/log"
	"campuscal/internal/model"
	"campuscal/internal/storage"
)

const DefaultWindow = 30 * 24 * time.Hour

var (
	// ErrBadRequest marks a malformed request, such as an inverted range.
	ErrBadRequest = errors.New("query: bad request")
	// ErrUpstream marks a store failure while answering a request.
	ErrUpstream = errors.New("query: upstream unavailable")
)

// BusyResolver resolves a feed URL to a merged busy set. It should treat an
// unreachable feed as an empty set.
type BusyResolver interface {
	BusyIntervals(ctx context.Context, url string) ([]model.Interval, error)
}

// Request is a read-path query. Zero Start or End means absent.
type Request struct {
	Start   time.Time
	End     time.Time
	FeedURL string
}

// Service answers event queries.
type Service struct {
	store  storage.EventFinder
	busy   BusyResolver
	window time.Duration
	now    func() time.Time
}

// Option customizes a Service.
type Option func(*Service)

// WithWindow sets the default window length used when End is absent.
func WithWindow(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.window = d
		}
	}
}

// WithClock sets the clock used when Start is absent.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// New builds a Service. busy may be nil, which disables clash filtering.
func New(store storage.EventFinder, busy BusyResolver, opts ...Option) *Service {
	s := &Service{store: store, busy: busy, window: DefaultWindow, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Resolve applies the default window: a missing start becomes now and a
// missing end becomes start plus the window.
func (s *Service) Resolve(req Request) (Request, error) {
	if req.Start.IsZero() {
		req.Start = s.now()
	}
	if req.End.IsZero() {
		req.End = req.Start.Add(s.window)
	}
	req.Start, req.End = req.Start.UTC(), req.End.UTC()
	if req.End.Before(req.Start) {
		return req, fmt.Errorf("%w: end %s is before start %s", ErrBadRequest,
			req.End.Format(time.RFC3339), req.Start.Format(time.RFC3339))
	}
	return req, nil
}

// Events returns stored events in the resolved window, minus any that clash
// with the feed's busy time when a feed URL is given.
func (s *Service) Events(ctx context.Context, req Request) ([]model.Event, error) {
	req, err := s.Resolve(req)
	if err != nil {
		return nil, err
	}

	events, err := s.store.FindByRange(ctx, req.Start, req.End)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstream, err)
	}

	if req.FeedURL == "" || s.busy == nil {
		return events, nil
	}

	busy, err := s.busy.BusyIntervals(ctx, req.FeedURL)
	if err != nil {
		appLog.Error("query: busy feed unusable; not filtering", err, "url", appLog.RedactURL(req.FeedURL))
		return events, nil
	}

	filtered := interval.Filter(events, busy)
	appLog.Debug("query: clash filter applied",
		"candidates", len(events), "busy", len(busy), "kept", len(filtered))
	return filtered, nil
}
