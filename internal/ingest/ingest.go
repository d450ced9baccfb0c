// Package ingest runs the crawl → extract → categorise → store pipeline.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"campuscal/internal/ics"
	appLog "campuscal/internal/log"
	"campuscal/internal/model"
	"campuscal/internal/storage"
)

// Crawler is what the pipeline needs from the site crawler.
type Crawler interface {
	PageCount(ctx context.Context) (int, error)
	DetailLinks(ctx context.Context, pages int) (links []string, failed int)
	Payload(ctx context.Context, detailURL string) (string, error)
}

// Classifier labels event text. It must not fail; see categorise.Categoriser.
type Classifier interface {
	Classify(ctx context.Context, text string) []model.Label
}

// Options tunes a Pipeline.
type Options struct {
	// Workers bounds concurrent detail pages. Values below 1 mean 1, which is
	// strictly sequential.
	Workers int
	// Location is the canonical zone for natural-key dates. Nil means UTC.
	Location *time.Location
	// Now stamps events. Nil means time.Now.
	Now func() time.Time
}

// Pipeline ingests every event on the listing site into the store.
type Pipeline struct {
	crawler    Crawler
	classifier Classifier
	store      storage.EventUpserter
	opts       Options
	locks      *keyLocks
}

// New builds a Pipeline. classifier may be nil, in which case events are
// stored without categories.
func New(crawler Crawler, classifier Classifier, store storage.EventUpserter, opts Options) *Pipeline {
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Pipeline{
		crawler:    crawler,
		classifier: classifier,
		store:      store,
		opts:       opts,
		locks:      newKeyLocks(),
	}
}

// Report summarises one run.
type Report struct {
	Pages         int
	FailedPages   int
	Links         int
	Inserted      int
	Updated       int
	Unchanged     int
	Skipped       int
	StoreFailures int
	Duration      time.Duration
}

func (r *Report) record(res model.UpsertResult) {
	switch res {
	case model.Inserted:
		r.Inserted++
	case model.Updated:
		r.Updated++
	case model.Unchanged:
		r.Unchanged++
	}
}

// errSkip marks a per-event failure that is not a store failure.
var errSkip = errors.New("ingest: event skipped")

// Run crawls the site and upserts every event it finds. Only a failure to
// resolve the listing's page count aborts the run; per-event failures are
// logged and counted in the report.
func (p *Pipeline) Run(ctx context.Context) (Report, error) {
	started := time.Now()
	var report Report

	pages, err := p.crawler.PageCount(ctx)
	if err != nil {
		return report, fmt.Errorf("ingest: %w", err)
	}
	report.Pages = pages
	appLog.Info("ingest: page count resolved", "pages", pages)

	links, failedPages := p.crawler.DetailLinks(ctx, pages)
	report.FailedPages = failedPages
	report.Links = len(links)
	appLog.Info("ingest: detail links discovered", "links", len(links), "failed_pages", failedPages)

	var mu sync.Mutex
	g := new(errgroup.Group)
	g.SetLimit(p.opts.Workers)

	for i, link := range links {
		if ctx.Err() != nil {
			mu.Lock()
			report.Skipped += len(links) - i
			mu.Unlock()
			break
		}
		i, link := i, link // per-iteration copies (go 1.21 loop-variable semantics)
		g.Go(func() error {
			res, err := p.ingestOne(ctx, link)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				report.record(res)
				appLog.Debug("ingest: event stored", "n", i+1, "of", len(links), "link", link, "result", res)
			case errors.Is(err, errSkip):
				report.Skipped++
				appLog.Error("ingest: event skipped", err, "link", link)
			case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
				report.Skipped++
				appLog.Warn("ingest: event abandoned; run cancelled", "link", link, "err", err)
			default:
				report.StoreFailures++
				appLog.Error("ingest: store failed", err, "link", link)
			}
			// Per-event failures never cancel the batch.
			return nil
		})
	}
	_ = g.Wait()

	report.Duration = time.Since(started)
	appLog.Info("ingest: run complete",
		"links", report.Links,
		"inserted", report.Inserted,
		"updated", report.Updated,
		"unchanged", report.Unchanged,
		"skipped", report.Skipped,
		"store_failures", report.StoreFailures,
		"failed_pages", report.FailedPages,
		"duration", report.Duration.Round(time.Millisecond),
	)
	return report, nil
}

func (p *Pipeline) ingestOne(ctx context.Context, link string) (model.UpsertResult, error) {
	raw, err := p.crawler.Payload(ctx, link)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", errSkip, err)
	}

	payload, err := ics.ExtractPayload(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", errSkip, err)
	}

	ev, err := p.adapt(payload, link)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", errSkip, err)
	}

	if p.classifier != nil {
		ev.Categories = p.classifier.Classify(ctx, classificationText(ev))
	}

	key := model.KeyFor(ev, p.opts.Location)
	unlock := p.locks.lock(key.String())
	defer unlock()

	return p.store.Upsert(ctx, ev, key)
}

// adapt turns an extracted payload into an Event with zero cost and no
// categories.
func (p *Pipeline) adapt(payload ics.Payload, link string) (model.Event, error) {
	if missing := payload.Missing(ics.FieldStart, ics.FieldEnd, ics.FieldSummary); len(missing) > 0 {
		return model.Event{}, fmt.Errorf("payload missing %v", missing)
	}
	if payload.End.Before(payload.Start) {
		return model.Event{}, fmt.Errorf("payload end %s before start %s", payload.End, payload.Start)
	}
	return model.Event{
		Start:       payload.Start.UTC(),
		End:         payload.End.UTC(),
		Cost:        0,
		Categories:  []model.Label{},
		Summary:     payload.Summary,
		Description: payload.Description,
		Link:        link,
		Location:    payload.Location,
		UpdatedAt:   p.opts.Now().UTC(),
	}, nil
}

func classificationText(ev model.Event) string {
	return strings.TrimSpace(ev.Summary + "\n" + ev.Description)
}
