package query

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"campuscal/internal/ics"
	"campuscal/internal/model"
	"campuscal/internal/storage/sqlite"
)

type recordingFinder struct {
	start, end time.Time
	events     []model.Event
	err        error
}

func (r *recordingFinder) FindByRange(_ context.Context, start, end time.Time) ([]model.Event, error) {
	r.start, r.end = start, end
	return r.events, r.err
}

func TestDefaultWindow(t *testing.T) {
	now := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	finder := &recordingFinder{}
	svc := New(finder, nil, WithClock(func() time.Time { return now }))

	if _, err := svc.Events(context.Background(), Request{}); err != nil {
		t.Fatalf("Events: %v", err)
	}
	if !finder.start.Equal(now) || !finder.end.Equal(now.Add(30*24*time.Hour)) {
		t.Fatalf("window = [%s, %s]", finder.start, finder.end)
	}

	start := time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC)
	if _, err := svc.Events(context.Background(), Request{Start: start}); err != nil {
		t.Fatalf("Events: %v", err)
	}
	if !finder.end.Equal(start.Add(30 * 24 * time.Hour)) {
		t.Fatalf("end = %s", finder.end)
	}

	end := now.Add(2 * time.Hour)
	if _, err := svc.Events(context.Background(), Request{End: end}); err != nil {
		t.Fatalf("Events: %v", err)
	}
	if !finder.start.Equal(now) || !finder.end.Equal(end) {
		t.Fatalf("window = [%s, %s]", finder.start, finder.end)
	}
}

func TestErrorCategories(t *testing.T) {
	svc := New(&recordingFinder{err: errors.New("database is locked")}, nil)

	_, err := svc.Events(context.Background(), Request{
		Start: time.Date(2025, 3, 2, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC),
	})
	if !errors.Is(err, ErrBadRequest) {
		t.Fatalf("inverted range: %v", err)
	}

	_, err = svc.Events(context.Background(), Request{})
	if !errors.Is(err, ErrUpstream) {
		t.Fatalf("store failure: %v", err)
	}
}

const busyFeed = "BEGIN:VCALENDAR\r\n" +
	"VERSION:2.0\r\n" +
	"PRODID:-//test//EN\r\n" +
	"BEGIN:VEVENT\r\n" +
	"UID:busy-1\r\n" +
	"DTSTAMP:20250101T000000Z\r\n" +
	"DTSTART:20250301T100000Z\r\n" +
	"DTEND:20250301T110000Z\r\n" +
	"END:VEVENT\r\n" +
	"END:VCALENDAR\r\n"

func TestEndToEndClashFiltering(t *testing.T) {
	store, err := sqlite.Open(filepath.Join(t.TempDir(), "events.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	ctx := context.Background()
	for _, ev := range []model.Event{
		{
			Summary: "A", Description: "clashes",
			Start: time.Date(2025, 3, 1, 10, 30, 0, 0, time.UTC),
			End:   time.Date(2025, 3, 1, 11, 30, 0, 0, time.UTC),
		},
		{
			Summary: "B", Description: "touches",
			Start: time.Date(2025, 3, 1, 11, 0, 0, 0, time.UTC),
			End:   time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
		},
	} {
		if _, err := store.Upsert(ctx, ev, model.KeyFor(ev, time.UTC)); err != nil {
			t.Fatalf("upsert %s: %v", ev.Summary, err)
		}
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(busyFeed))
	}))
	defer srv.Close()

	svc := New(store, ics.NewFeedParser(ics.NewFetcher(time.Second), 30))
	day := Request{
		Start: time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2025, 3, 2, 0, 0, 0, 0, time.UTC),
	}

	all, err := svc.Events(ctx, day)
	if err != nil {
		t.Fatalf("without feed: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("without feed = %d events, want 2", len(all))
	}

	withFeed := day
	withFeed.FeedURL = srv.URL
	got, err := svc.Events(ctx, withFeed)
	if err != nil {
		t.Fatalf("with feed: %v", err)
	}
	if len(got) != 1 || got[0].Summary != "B" {
		t.Fatalf("with feed = %+v", got)
	}

	// An unreachable feed filters nothing.
	down := day
	down.FeedURL = "http://127.0.0.1:1/down.ics"
	got, err = svc.Events(ctx, down)
	if err != nil || len(got) != 2 {
		t.Fatalf("unreachable feed: %d events, err %v", len(got), err)
	}
}
