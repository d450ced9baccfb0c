// Package crawl discovers event detail pages on the listing site and
// retrieves each event's calendar payload through a browsing capability.
package crawl

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	appLog "campuscal/internal/log"
)

// PageCountUnknown is returned by Browser.DiscoverPageCount when the
// pagination marker is absent.
const PageCountUnknown = -1

// ErrPageCountUnknown means the listing's page count could not be resolved.
// A run cannot be sized without it.
var ErrPageCountUnknown = errors.New("crawl: listing page count unknown")

// Browser is the narrow browsing capability the crawler drives.
type Browser interface {
	// DiscoverPageCount returns the numeric label of the last pagination
	// link, or PageCountUnknown when there is no such marker.
	DiscoverPageCount(ctx context.Context, listingURL string) (int, error)
	// ListDetailLinks returns the raw hrefs of event tiles on one listing page.
	ListDetailLinks(ctx context.Context, pageURL string) ([]string, error)
	// FetchCalendarPayload triggers the "Add to calendar" control on a
	// detail page and returns the generated calendar link.
	FetchCalendarPayload(ctx context.Context, detailURL string) (string, error)
}

// Site describes where and how the listing is paginated.
type Site struct {
	// BaseURL is the site origin, e.g. "https://www.activateuts.com.au".
	BaseURL string
	// ListingPath is the events listing path, e.g. "/events".
	ListingPath string
	// PageQuery is appended to the listing URL with the 1-based page number
	// substituted for %d.
	PageQuery string
	// LinkPrefix keeps only hrefs whose path starts with it.
	LinkPrefix string
}

// Crawler paginates the listing and collects event detail links.
type Crawler struct {
	browser Browser
	site    Site
	base    *url.URL
}

// New validates site and returns a Crawler driving browser.
func New(browser Browser, site Site) (*Crawler, error) {
	if browser == nil {
		return nil, errors.New("crawl: browser is required")
	}
	base, err := url.Parse(site.BaseURL)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("crawl: invalid base url %q", site.BaseURL)
	}
	if !strings.Contains(site.PageQuery, "%d") {
		return nil, fmt.Errorf("crawl: page query %q has no %%d placeholder", site.PageQuery)
	}
	return &Crawler{browser: browser, site: site, base: base}, nil
}

// ListingURL is the first listing page.
func (c *Crawler) ListingURL() string {
	return c.resolve(c.site.ListingPath)
}

// PageURL is the listing URL for a 1-based page number.
func (c *Crawler) PageURL(page int) string {
	return c.ListingURL() + fmt.Sprintf(c.site.PageQuery, page)
}

// PageCount resolves the number of listing pages. A missing pagination
// marker yields ErrPageCountUnknown.
func (c *Crawler) PageCount(ctx context.Context) (int, error) {
	n, err := c.browser.DiscoverPageCount(ctx, c.ListingURL())
	if err != nil {
		return 0, fmt.Errorf("discover page count: %w", err)
	}
	if n == PageCountUnknown || n < 1 {
		return 0, ErrPageCountUnknown
	}
	return n, nil
}

// DetailLinks walks pages 1..pages and returns absolute detail URLs in
// discovery order without duplicates. A page that fails to load is logged
// and skipped; failed reports how many did.
func (c *Crawler) DetailLinks(ctx context.Context, pages int) (links []string, failed int) {
	seen := make(map[string]bool)
	for page := 1; page <= pages; page++ {
		if ctx.Err() != nil {
			failed += pages - page + 1
			break
		}
		pageURL := c.PageURL(page)
		hrefs, err := c.browser.ListDetailLinks(ctx, pageURL)
		if err != nil {
			appLog.Error("crawl: listing page failed", err, "page", page, "url", pageURL)
			failed++
			continue
		}

		kept := 0
		for _, href := range hrefs {
			abs, ok := c.detailURL(href)
			if !ok || seen[abs] {
				continue
			}
			seen[abs] = true
			links = append(links, abs)
			kept++
		}
		appLog.Info("crawl: listing page scanned", "page", page, "links", kept)
	}
	return links, failed
}

// Payload retrieves the raw calendar payload for one detail URL. No retry is
// attempted.
func (c *Crawler) Payload(ctx context.Context, detailURL string) (string, error) {
	raw, err := c.browser.FetchCalendarPayload(ctx, detailURL)
	if err != nil {
		return "", fmt.Errorf("fetch calendar payload: %w", err)
	}
	if strings.TrimSpace(raw) == "" {
		return "", errors.New("fetch calendar payload: empty payload")
	}
	return raw, nil
}

// detailURL applies the path-prefix rule and resolves href against the site.
func (c *Crawler) detailURL(href string) (string, bool) {
	href = strings.TrimSpace(href)
	if href == "" {
		return "", false
	}
	u, err := url.Parse(href)
	if err != nil {
		return "", false
	}
	if u.IsAbs() && u.Host != c.base.Host {
		return "", false
	}
	if !strings.HasPrefix(u.Path, c.site.LinkPrefix) {
		return "", false
	}
	return c.base.ResolveReference(u).String(), true
}

func (c *Crawler) resolve(path string) string {
	u, err := url.Parse(path)
	if err != nil {
		return c.base.String()
	}
	return c.base.ResolveReference(u).String()
}
