package fetcher

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"feedpoller/internal/breaker"
	"feedpoller/internal/cache"
	"feedpoller/internal/ratelimiter"
	"feedpoller/internal/session"
	"feedpoller/internal/uapool"
)

const sampleRSS = `<?xml version="1.0"?>
<rss version="2.0"><channel><title>Sample Feed</title>
<item><guid>item-1</guid><title>First</title><link>https://example.com/1</link>
<description>d1</description><pubDate>Mon, 02 Jan 2026 03:04:05 GMT</pubDate></item>
</channel></rss>`

type fakeStats struct {
	successes []string
	failures  []int
}

func (f *fakeStats) RecordSuccess(domain string)                 { f.successes = append(f.successes, domain) }
func (f *fakeStats) RecordFailure(domain string, statusCode int) { f.failures = append(f.failures, statusCode) }
func (f *fakeStats) UpdatePreferredUA(domain, ua string)         {}

type fakeAlerts struct {
	blocked []string
	resets  []string
}

func (f *fakeAlerts) OnBlocked(domain string)        { f.blocked = append(f.blocked, domain) }
func (f *fakeAlerts) ResetConsecutive(domain string) { f.resets = append(f.resets, domain) }

func newTestFetcher(stats StatsRecorder, alerts AlertHook) *Fetcher {
	return New(
		breaker.New(breaker.DefaultConfig()),
		cache.New(),
		ratelimiter.New(ratelimiter.Config{MinDelay: time.Millisecond, MaxDelay: 10 * time.Millisecond}),
		uapool.New(uapool.DefaultConfig()),
		session.New(session.DefaultConfig()),
		stats,
		alerts,
	)
}

func TestFetchParsesFeedOnSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(sampleRSS))
	}))
	defer srv.Close()

	stats := &fakeStats{}
	alerts := &fakeAlerts{}
	f := newTestFetcher(stats, alerts)
	f.RetryConfig.MaxAttempts = 1

	pf, err := f.Fetch(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(pf.Items) != 1 || pf.Items[0].ID != "item-1" {
		t.Errorf("unexpected items: %+v", pf.Items)
	}
	if len(stats.successes) != 1 {
		t.Errorf("expected one recorded success, got %d", len(stats.successes))
	}
	if len(alerts.resets) != 1 {
		t.Errorf("expected consecutive-block reset on success")
	}
}

func TestFetchRecordsFailureAndAlertsOn403(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	stats := &fakeStats{}
	alerts := &fakeAlerts{}
	f := newTestFetcher(stats, alerts)
	f.RetryConfig.MaxAttempts = 1

	_, err := f.Fetch(context.Background(), srv.URL)
	if err == nil {
		t.Fatal("expected error for 403 response")
	}
	if len(stats.failures) != 1 || stats.failures[0] != http.StatusForbidden {
		t.Errorf("expected recorded 403 failure, got %+v", stats.failures)
	}
	if len(alerts.blocked) != 1 {
		t.Errorf("expected OnBlocked alert hook invoked")
	}
}

func TestFetchReturnsBreakerOpenWithoutNetworkCall(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer srv.Close()

	f := newTestFetcher(nil, nil)
	for i := 0; i < breaker.DefaultConfig().FailureThreshold; i++ {
		f.Breaker.RecordFailure(srv.URL)
	}

	_, err := f.Fetch(context.Background(), srv.URL)
	if err != ErrBreakerOpen {
		t.Fatalf("expected ErrBreakerOpen, got %v", err)
	}
	if called {
		t.Error("expected no network call while breaker is open")
	}
}

func TestFetchSkipsNetworkOnWarmCache(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Write([]byte(sampleRSS))
	}))
	defer srv.Close()

	f := newTestFetcher(nil, nil)
	f.RetryConfig.MaxAttempts = 1

	if _, err := f.Fetch(context.Background(), srv.URL); err != nil {
		t.Fatalf("unexpected error on first fetch: %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected exactly one network call to warm the cache, got %d", calls)
	}

	pf, err := f.Fetch(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("unexpected error serving from warm cache: %v", err)
	}
	if len(pf.Items) != 1 {
		t.Errorf("expected cached feed returned, got %+v", pf)
	}
	if calls != 1 {
		t.Errorf("expected warm cache hit to skip the network entirely, but got %d calls", calls)
	}
}

func TestFetchServesCachedFeedOn304(t *testing.T) {
	first := true
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if first {
			first = false
			w.Header().Set("ETag", `"v1"`)
			w.Write([]byte(sampleRSS))
			return
		}
		w.WriteHeader(http.StatusNotModified)
	}))
	defer srv.Close()

	f := newTestFetcher(nil, nil)
	f.RetryConfig.MaxAttempts = 1

	if _, err := f.Fetch(context.Background(), srv.URL); err != nil {
		t.Fatalf("unexpected error on first fetch: %v", err)
	}

	pf, err := f.Fetch(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("unexpected error on second fetch: %v", err)
	}
	if len(pf.Items) != 1 {
		t.Errorf("expected cached feed served on 304, got %+v", pf)
	}
}

func TestParseSalvagesBozoFeedWithUsableItems(t *testing.T) {
	f := newTestFetcher(nil, nil)
	// Missing closing tag makes gofeed mark this bozo, but the one item
	// still parses with a usable guid.
	malformed := `<rss><channel><item><guid>x1</guid><title>T</title>`
	pf, err := f.parse(malformed)
	if err != nil {
		t.Fatalf("expected salvage of bozo feed with items, got error: %v", err)
	}
	if pf == nil || len(pf.Items) == 0 {
		t.Error("expected at least one salvaged item")
	}
}
