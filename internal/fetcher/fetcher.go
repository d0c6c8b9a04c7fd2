// Package fetcher performs the actual HTTP fetch-and-parse of a canonical
// feed URL, wiring together every anti-bot defense and bookkeeping
// component: the per-resource circuit breaker, the response cache, the
// adaptive rate limiter, User-Agent selection, realistic header
// construction, per-domain sessions, and outcome recording.
package fetcher

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"

	"feedpoller/internal/breaker"
	"feedpoller/internal/cache"
	"feedpoller/internal/domain/entity"
	"feedpoller/internal/headers"
	"feedpoller/internal/ratelimiter"
	"feedpoller/internal/resilience/retry"
	"feedpoller/internal/session"
	"feedpoller/internal/uapool"
)

// ErrBreakerOpen is returned when a resource's circuit breaker is open and
// the fetch is refused before any network call is made.
var ErrBreakerOpen = fmt.Errorf("fetcher: circuit breaker open for resource")

// ErrNotModified is returned when the source answered 304 and nothing new
// was cached to serve instead.
var ErrNotModified = fmt.Errorf("fetcher: not modified, nothing cached")

// StatsRecorder receives outcome notifications for C11's blocking-stats
// store. Implemented by internal/statsstore.
type StatsRecorder interface {
	RecordSuccess(domain string)
	RecordFailure(domain string, statusCode int)
	UpdatePreferredUA(domain, ua string)
}

// AlertHook receives signals the alert manager reduces into operator
// notifications.
type AlertHook interface {
	OnBlocked(domain string)
	ResetConsecutive(domain string)
}

// Fetcher performs a conditional, rate-limited, breaker-protected GET of a
// canonical feed URL and parses the response into a ParsedFeed.
type Fetcher struct {
	Breaker      *breaker.Breaker
	Cache        *cache.Cache
	RateLimiter  *ratelimiter.Limiter
	UAPool       *uapool.Pool
	Sessions     *session.Manager
	Stats        StatsRecorder
	Alerts       AlertHook
	RetryConfig  retry.Config
	FeedCacheTTL time.Duration

	parser func() *gofeed.Parser
}

// New builds a Fetcher from its component dependencies. stats and alerts
// may be nil in tests that don't exercise bookkeeping.
func New(b *breaker.Breaker, c *cache.Cache, rl *ratelimiter.Limiter, uap *uapool.Pool, sess *session.Manager, stats StatsRecorder, alerts AlertHook) *Fetcher {
	return &Fetcher{
		Breaker:      b,
		Cache:        c,
		RateLimiter:  rl,
		UAPool:       uap,
		Sessions:     sess,
		Stats:        stats,
		Alerts:       alerts,
		RetryConfig:  retry.FeedFetchConfig(),
		FeedCacheTTL: 5 * time.Minute,
		parser:       gofeed.NewParser,
	}
}

// Fetch retrieves and parses canonicalURL, applying every anti-bot defense
// and recording the outcome to stats/alerts as it goes.
//
// Sequence: breaker check, cache consult, rate-limit wait, then a retrying
// conditional GET. Every terminal outcome (success, 304, or exhausted
// retries) updates the rate limiter, UA pool, breaker, and stats store
// before returning.
func (f *Fetcher) Fetch(ctx context.Context, canonicalURL string) (*entity.ParsedFeed, error) {
	domain := hostOf(canonicalURL)

	if f.Breaker != nil && !f.Breaker.ShouldAllow(canonicalURL) {
		return nil, ErrBreakerOpen
	}

	if f.Cache != nil {
		if cached, ok := f.Cache.GetFeed(canonicalURL); ok {
			return cached, nil
		}
	}

	if f.RateLimiter != nil {
		if err := f.RateLimiter.WaitIfNeeded(ctx, domain); err != nil {
			return nil, err
		}
	}

	ua := ""
	if f.UAPool != nil {
		ua = f.UAPool.Pick(domain)
	}

	var pf *entity.ParsedFeed
	var statusCode int

	err := retry.WithBackoff(ctx, f.RetryConfig, func() error {
		result, code, ferr := f.doFetch(ctx, canonicalURL, domain, ua)
		statusCode = code
		if ferr != nil {
			return ferr
		}
		pf = result
		return nil
	})

	if err != nil {
		f.recordFailure(canonicalURL, domain, ua, statusCode)
		return nil, err
	}

	f.recordSuccess(canonicalURL, domain, ua)
	return pf, nil
}

func (f *Fetcher) doFetch(ctx context.Context, canonicalURL, domain, ua string) (*entity.ParsedFeed, int, error) {
	client, err := f.clientFor(domain)
	if err != nil {
		return nil, 0, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, canonicalURL, nil)
	if err != nil {
		return nil, 0, err
	}
	req.Header = headers.Build(canonicalURL, ua)

	var validators cache.Validators
	hadValidators := false
	if f.Cache != nil {
		validators, hadValidators = f.Cache.GetValidators(canonicalURL)
		if hadValidators {
			if validators.ETag != "" {
				req.Header.Set("If-None-Match", validators.ETag)
			}
			if validators.LastModified != "" {
				req.Header.Set("If-Modified-Since", validators.LastModified)
			}
		}
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotModified {
		if f.Cache != nil {
			if cached, ok := f.Cache.GetFeed(canonicalURL); ok {
				return cached, resp.StatusCode, nil
			}
			f.Cache.InvalidateFeed(canonicalURL)
		}
		return nil, resp.StatusCode, ErrNotModified
	}

	if resp.StatusCode != http.StatusOK {
		return nil, resp.StatusCode, &retry.HTTPError{StatusCode: resp.StatusCode, Message: resp.Status}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, err
	}

	pf, err := f.parse(string(body))
	if err != nil {
		return nil, resp.StatusCode, err
	}

	if f.Cache != nil {
		f.Cache.SetFeed(canonicalURL, pf, f.FeedCacheTTL)
		f.Cache.SetValidators(canonicalURL, cache.Validators{
			ETag:         resp.Header.Get("ETag"),
			LastModified: resp.Header.Get("Last-Modified"),
		}, 0)
	}

	return pf, resp.StatusCode, nil
}

func (f *Fetcher) clientFor(domain string) (*http.Client, error) {
	if f.Sessions == nil {
		return http.DefaultClient, nil
	}
	return f.Sessions.Get(domain)
}

// parse runs the feed body through gofeed and normalizes the result. A
// feed flagged bozo (malformed XML/Atom) is still salvaged when gofeed
// nonetheless produced items with usable ids — better a degraded feed than
// none at all, as long as delta detection has something stable to key on.
func (f *Fetcher) parse(body string) (*entity.ParsedFeed, error) {
	newParser := f.parser
	if newParser == nil {
		newParser = gofeed.NewParser
	}
	parsed, err := newParser().ParseString(body)
	if err != nil {
		return nil, err
	}
	if parsed.Items == nil {
		if parsed.Bozo {
			return nil, fmt.Errorf("fetcher: malformed feed with no items")
		}
		return &entity.ParsedFeed{Title: parsed.Title}, nil
	}

	pf := &entity.ParsedFeed{Title: parsed.Title}
	for _, item := range parsed.Items {
		pf.Items = append(pf.Items, toFeedItem(item))
	}
	pf.Normalize()

	if len(pf.Items) == 0 && parsed.Bozo {
		return nil, fmt.Errorf("fetcher: malformed feed yielded no usable items")
	}
	return pf, nil
}

func toFeedItem(item *gofeed.Item) entity.FeedItem {
	fi := entity.FeedItem{
		ID:          itemID(item),
		Title:       item.Title,
		Link:        item.Link,
		Description: item.Description,
	}
	if item.Author != nil {
		fi.Author = item.Author.Name
	}
	for _, cat := range item.Categories {
		fi.Categories = append(fi.Categories, cat)
	}
	if item.PublishedParsed != nil {
		t := *item.PublishedParsed
		fi.PubDate = &t
	} else if item.UpdatedParsed != nil {
		t := *item.UpdatedParsed
		fi.PubDate = &t
	}
	return fi
}

// itemID derives a stable identity for an item: the feed-supplied GUID
// when present, falling back to the link, falling back to a hash of title
// and description so even a malformed feed with neither can still be
// tracked across fetches.
func itemID(item *gofeed.Item) string {
	if item.GUID != "" {
		return item.GUID
	}
	if item.Link != "" {
		return item.Link
	}
	if item.Title == "" && item.Description == "" {
		return ""
	}
	sum := sha1.Sum([]byte(item.Title + "|" + item.Description))
	return hex.EncodeToString(sum[:])
}

func (f *Fetcher) recordSuccess(canonicalURL, domain, ua string) {
	if f.RateLimiter != nil {
		f.RateLimiter.RecordSuccess(domain)
	}
	if f.UAPool != nil && ua != "" {
		f.UAPool.RecordSuccess(domain, ua)
		if f.Stats != nil {
			f.Stats.UpdatePreferredUA(domain, ua)
		}
	}
	if f.Breaker != nil {
		f.Breaker.RecordSuccess(canonicalURL)
	}
	if f.Stats != nil {
		f.Stats.RecordSuccess(domain)
	}
	if f.Alerts != nil {
		f.Alerts.ResetConsecutive(domain)
	}
}

func (f *Fetcher) recordFailure(canonicalURL, domain, ua string, statusCode int) {
	if f.RateLimiter != nil {
		f.RateLimiter.RecordFailure(domain, statusCode)
	}
	if f.UAPool != nil && ua != "" {
		f.UAPool.RecordFailure(domain, ua)
	}
	if f.Breaker != nil {
		f.Breaker.RecordFailure(canonicalURL)
	}
	if f.Stats != nil {
		f.Stats.RecordFailure(domain, statusCode)
	}
	if f.Alerts != nil && statusCode == http.StatusForbidden {
		f.Alerts.OnBlocked(domain)
	}
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	host := u.Hostname()
	if host == "" {
		return rawURL
	}
	return strings.ToLower(host)
}
