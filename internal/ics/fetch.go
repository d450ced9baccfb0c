package ics

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	appLog "campuscal/internal/log"
)

const (
	DefaultFetchTimeout = 15 * time.Second

	// maxFeedBytes caps how much of a feed body is read.
	maxFeedBytes = 16 << 20
)

// ErrTransport marks a feed that could not be retrieved: network failure,
// timeout, or a non-2xx response.
var ErrTransport = errors.New("ics: feed unavailable")

// Source retrieves a raw calendar feed.
type Source interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// Fetcher fetches calendar feeds over HTTP with a mandatory timeout.
type Fetcher struct {
	client *http.Client
}

// NewFetcher creates a Fetcher whose every request is bounded by timeout.
// A non-positive timeout selects DefaultFetchTimeout.
func NewFetcher(timeout time.Duration) *Fetcher {
	if timeout <= 0 {
		timeout = DefaultFetchTimeout
	}
	tr := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		DialContext:         (&net.Dialer{Timeout: 5 * time.Second, KeepAlive: 60 * time.Second}).DialContext,
		MaxIdleConns:        20,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 5 * time.Second,
	}
	return &Fetcher{
		client: &http.Client{Timeout: timeout, Transport: tr},
	}
}

// Fetch returns the feed body. Every failure wraps ErrTransport.
func (f *Fetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	if url == "" {
		return nil, fmt.Errorf("%w: empty url", ErrTransport)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransport, err)
	}
	req.Header.Set("Accept", "text/calendar, */*;q=0.5")

	appLog.Debug("ics fetch start", "url", appLog.RedactURL(url))

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransport, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: %s", ErrTransport, resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFeedBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", ErrTransport, err)
	}

	appLog.Debug("ics fetch success", "url", appLog.RedactURL(url), "status", resp.StatusCode, "bytes", len(body))
	return body, nil
}
