package crawl

import (
	"context"
	"errors"
	"testing"
)

type fakeBrowser struct {
	pageCount int
	countErr  error
	pages     map[string][]string
	pageErrs  map[string]error
	payloads  map[string]string
	visited   []string
}

func (f *fakeBrowser) DiscoverPageCount(_ context.Context, listingURL string) (int, error) {
	f.visited = append(f.visited, listingURL)
	return f.pageCount, f.countErr
}

func (f *fakeBrowser) ListDetailLinks(_ context.Context, pageURL string) ([]string, error) {
	f.visited = append(f.visited, pageURL)
	if err := f.pageErrs[pageURL]; err != nil {
		return nil, err
	}
	return f.pages[pageURL], nil
}

func (f *fakeBrowser) FetchCalendarPayload(_ context.Context, detailURL string) (string, error) {
	p, ok := f.payloads[detailURL]
	if !ok {
		return "", errors.New("not found")
	}
	return p, nil
}

var testSite = Site{
	BaseURL:     "https://www.example.edu",
	ListingPath: "/events",
	PageQuery:   "/?orderby=featured&page_num=%d",
	LinkPrefix:  "/events/",
}

func TestNewValidatesSite(t *testing.T) {
	if _, err := New(nil, testSite); err == nil {
		t.Fatal("expected error for nil browser")
	}
	bad := testSite
	bad.BaseURL = "/relative"
	if _, err := New(&fakeBrowser{}, bad); err == nil {
		t.Fatal("expected error for relative base url")
	}
	bad = testSite
	bad.PageQuery = "?page="
	if _, err := New(&fakeBrowser{}, bad); err == nil {
		t.Fatal("expected error for page query without placeholder")
	}
}

func TestPageURL(t *testing.T) {
	c, err := New(&fakeBrowser{}, testSite)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	want := "https://www.example.edu/events/?orderby=featured&page_num=3"
	if got := c.PageURL(3); got != want {
		t.Fatalf("PageURL(3) = %q, want %q", got, want)
	}
}

func TestPageCountUnknownIsError(t *testing.T) {
	c, _ := New(&fakeBrowser{pageCount: PageCountUnknown}, testSite)
	if _, err := c.PageCount(context.Background()); !errors.Is(err, ErrPageCountUnknown) {
		t.Fatalf("expected ErrPageCountUnknown, got %v", err)
	}

	c, _ = New(&fakeBrowser{pageCount: 4}, testSite)
	n, err := c.PageCount(context.Background())
	if err != nil || n != 4 {
		t.Fatalf("PageCount = %d, %v", n, err)
	}
}

func TestDetailLinksFiltersAndDedupes(t *testing.T) {
	b := &fakeBrowser{pages: map[string][]string{}, pageErrs: map[string]error{}}
	c, _ := New(b, testSite)
	b.pages[c.PageURL(1)] = []string{
		"/events/kung-fu",
		"/clubs/chess",                              // wrong prefix
		"https://other.example.com/events/phishing", // other host
		"/events/trivia",
	}
	b.pageErrs[c.PageURL(2)] = errors.New("navigation timeout")
	b.pages[c.PageURL(3)] = []string{
		"/events/trivia", // duplicate across pages
		"https://www.example.edu/events/yoga",
	}

	links, failed := c.DetailLinks(context.Background(), 3)
	if failed != 1 {
		t.Fatalf("failed = %d, want 1", failed)
	}
	want := []string{
		"https://www.example.edu/events/kung-fu",
		"https://www.example.edu/events/trivia",
		"https://www.example.edu/events/yoga",
	}
	if len(links) != len(want) {
		t.Fatalf("links = %v", links)
	}
	for i := range want {
		if links[i] != want[i] {
			t.Fatalf("links[%d] = %q, want %q", i, links[i], want[i])
		}
	}
}

func TestPayloadRejectsEmpty(t *testing.T) {
	b := &fakeBrowser{payloads: map[string]string{"u": "  "}}
	c, _ := New(b, testSite)
	if _, err := c.Payload(context.Background(), "u"); err == nil {
		t.Fatal("expected error for empty payload")
	}
	if _, err := c.Payload(context.Background(), "missing"); err == nil {
		t.Fatal("expected error for failed fetch")
	}
}
