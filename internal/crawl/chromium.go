package crawl

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/chromedp/chromedp"

	appLog "campuscal/internal/log"
)

// Default selectors for the listing site. They mirror the page structure
// the crawler was written against.
const (
	DefaultPaginationSelector = "div.col-xs-12.col-md-9"
	DefaultListingSelector    = "div.listing__items.row"
	DefaultCalendarButtonText = "Add to calendar"
	DefaultCalendarLinkText   = "Apple Calendar"

	DefaultPageTimeout = 45 * time.Second
)

// ChromeOptions configures a ChromeBrowser.
type ChromeOptions struct {
	// ExecPath overrides the Chromium binary. Empty uses chromedp's lookup.
	ExecPath string
	// Headless defaults to true; set ShowWindow to debug selectors locally.
	ShowWindow bool

	// PageTimeout bounds each individual browsing call. If zero,
	// DefaultPageTimeout is used.
	PageTimeout time.Duration

	PaginationSelector string
	ListingSelector    string
	CalendarButtonText string
	CalendarLinkText   string
}

func (o *ChromeOptions) normalize() {
	if o.PageTimeout <= 0 {
		o.PageTimeout = DefaultPageTimeout
	}
	if o.PaginationSelector == "" {
		o.PaginationSelector = DefaultPaginationSelector
	}
	if o.ListingSelector == "" {
		o.ListingSelector = DefaultListingSelector
	}
	if o.CalendarButtonText == "" {
		o.CalendarButtonText = DefaultCalendarButtonText
	}
	if o.CalendarLinkText == "" {
		o.CalendarLinkText = DefaultCalendarLinkText
	}
}

// ChromeBrowser implements Browser with a shared headless Chromium process.
// Every call runs in its own tab.
type ChromeBrowser struct {
	opts ChromeOptions

	allocCancel context.CancelFunc
	browserCtx  context.Context
	cancel      context.CancelFunc
}

// NewChromeBrowser launches Chromium. Close releases it.
func NewChromeBrowser(parent context.Context, opts ChromeOptions) (*ChromeBrowser, error) {
	opts.normalize()

	allocOpts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	if opts.ShowWindow {
		allocOpts = append(allocOpts, chromedp.Flag("headless", false))
	}
	if opts.ExecPath != "" {
		allocOpts = append(allocOpts, chromedp.ExecPath(opts.ExecPath))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(parent, allocOpts...)
	browserCtx, cancel := chromedp.NewContext(allocCtx)

	// Start the browser eagerly so a missing binary fails here.
	if err := chromedp.Run(browserCtx); err != nil {
		cancel()
		allocCancel()
		return nil, fmt.Errorf("crawl: start chromium: %w", err)
	}

	return &ChromeBrowser{
		opts:        opts,
		allocCancel: allocCancel,
		browserCtx:  browserCtx,
		cancel:      cancel,
	}, nil
}

// Close shuts the browser down.
func (b *ChromeBrowser) Close() {
	b.cancel()
	b.allocCancel()
}

// tab opens a new tab bounded by the page timeout and by ctx.
func (b *ChromeBrowser) tab(ctx context.Context) (context.Context, context.CancelFunc) {
	tabCtx, tabCancel := chromedp.NewContext(b.browserCtx)
	tabCtx, timeoutCancel := context.WithTimeout(tabCtx, b.opts.PageTimeout)

	stop := context.AfterFunc(ctx, timeoutCancel)
	return tabCtx, func() {
		stop()
		timeoutCancel()
		tabCancel()
	}
}

func (b *ChromeBrowser) DiscoverPageCount(ctx context.Context, listingURL string) (int, error) {
	tabCtx, cancel := b.tab(ctx)
	defer cancel()

	var labels []string
	script := fmt.Sprintf(`(() => {
		const div = document.querySelector(%s);
		if (!div) return [];
		return Array.from(div.querySelectorAll("a")).map(a => (a.textContent || "").trim());
	})()`, strconv.Quote(b.opts.PaginationSelector))

	err := chromedp.Run(tabCtx,
		chromedp.Navigate(listingURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Evaluate(script, &labels),
	)
	if err != nil {
		return 0, fmt.Errorf("crawl: page count %s: %w", listingURL, err)
	}

	if len(labels) == 0 {
		appLog.Warn("crawl: pagination marker not found", "url", listingURL, "selector", b.opts.PaginationSelector)
		return PageCountUnknown, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(labels[len(labels)-1]))
	if err != nil {
		appLog.Warn("crawl: last pagination label is not numeric", "url", listingURL, "label", labels[len(labels)-1])
		return PageCountUnknown, nil
	}
	return n, nil
}

func (b *ChromeBrowser) ListDetailLinks(ctx context.Context, pageURL string) ([]string, error) {
	tabCtx, cancel := b.tab(ctx)
	defer cancel()

	// Event tiles are anchors wrapping an image; other anchors in the
	// listing are filters and pagination.
	var hrefs []string
	script := fmt.Sprintf(`(() => {
		const div = document.querySelector(%s);
		if (!div) return [];
		return Array.from(div.querySelectorAll("a"))
			.filter(a => a.querySelector("div img"))
			.map(a => a.getAttribute("href") || "")
			.filter(h => h !== "");
	})()`, strconv.Quote(b.opts.ListingSelector))

	err := chromedp.Run(tabCtx,
		chromedp.Navigate(pageURL),
		chromedp.WaitVisible(b.opts.ListingSelector, chromedp.ByQuery),
		chromedp.Evaluate(script, &hrefs),
	)
	if err != nil {
		return nil, fmt.Errorf("crawl: list %s: %w", pageURL, err)
	}
	return hrefs, nil
}

func (b *ChromeBrowser) FetchCalendarPayload(ctx context.Context, detailURL string) (string, error) {
	tabCtx, cancel := b.tab(ctx)
	defer cancel()

	clickScript := fmt.Sprintf(`(() => {
		const want = %s;
		const btn = Array.from(document.querySelectorAll("button"))
			.find(b => Array.from(b.querySelectorAll("span")).some(s => (s.textContent || "").trim() === want));
		if (!btn) return false;
		btn.click();
		return true;
	})()`, strconv.Quote(b.opts.CalendarButtonText))

	// The calendar link only exists after the click; poll until it does.
	linkScript := fmt.Sprintf(`(() => {
		const want = %s;
		const a = Array.from(document.querySelectorAll("a"))
			.find(a => Array.from(a.querySelectorAll("div span")).some(s => (s.textContent || "").trim() === want));
		return a ? a.getAttribute("href") : null;
	})()`, strconv.Quote(b.opts.CalendarLinkText))

	var clicked bool
	var href string
	err := chromedp.Run(tabCtx,
		chromedp.Navigate(detailURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Evaluate(clickScript, &clicked),
	)
	if err != nil {
		return "", fmt.Errorf("crawl: open %s: %w", detailURL, err)
	}
	if !clicked {
		return "", fmt.Errorf("crawl: %q button not found on %s", b.opts.CalendarButtonText, detailURL)
	}

	err = chromedp.Run(tabCtx,
		chromedp.Poll(linkScript, &href, chromedp.WithPollingInterval(250*time.Millisecond)),
	)
	if err != nil {
		return "", fmt.Errorf("crawl: %q link on %s: %w", b.opts.CalendarLinkText, detailURL, err)
	}
	return href, nil
}
