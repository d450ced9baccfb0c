// Package storage defines the event store contract.
package storage

import (
	"context"
	"errors"
	"time"

	"campuscal/internal/model"
)

var (
	// ErrRangeRequired is returned when a range query has neither bound.
	ErrRangeRequired = errors.New("storage: at least one of start or end is required")
	// ErrInvalidEvent is returned for events that cannot be stored.
	ErrInvalidEvent = errors.New("storage: invalid event")
	// ErrNotFound is returned when no record matches a natural key.
	ErrNotFound = errors.New("storage: not found")
)

// EventUpserter writes events keyed by their natural key.
type EventUpserter interface {
	Upsert(ctx context.Context, ev model.Event, key model.NaturalKey) (model.UpsertResult, error)
}

// EventFinder reads events by time range. A zero bound is absent: start
// alone matches events starting at or after start, end alone matches events
// ending at or before end, both match events wholly inside the window.
type EventFinder interface {
	FindByRange(ctx context.Context, start, end time.Time) ([]model.Event, error)
}

// EventStore is the full store.
type EventStore interface {
	EventUpserter
	EventFinder
	Get(ctx context.Context, key model.NaturalKey) (model.Event, error)
	Close() error
}
