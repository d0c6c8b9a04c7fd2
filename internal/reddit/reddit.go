// Package reddit implements the fallback chain used to resolve a subreddit
// to a ParsedFeed when Reddit's ordinary RSS endpoint is blocked or
// rate-limited: try the RSS endpoint, then the JSON listing endpoint, then
// old.reddit.com's RSS endpoint, remembering whichever method worked last
// so future polls of the same subreddit try it first.
package reddit

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"

	"feedpoller/internal/breaker"
	"feedpoller/internal/domain/entity"
	"feedpoller/internal/headers"
	"feedpoller/internal/ratelimiter"
	"feedpoller/internal/session"
)

// redditDomain is the shared rate-limit/breaker/session key for every
// Reddit endpoint this chain talks to directly (the JSON listing and the
// old.reddit.com HTML scrape): they're the same origin the rss method is
// already failing against, so they share its politeness budget rather
// than getting an unprotected client of their own.
const redditDomain = "reddit.com"

// Method names a fallback step in the chain, in the default try order.
type Method string

const (
	MethodRSS    Method = "rss"
	MethodJSON   Method = "json"
	MethodOldRSS Method = "old_rss"
)

var defaultOrder = []Method{MethodRSS, MethodJSON, MethodOldRSS}

const learnedTTL = 24 * time.Hour

type learnedEntry struct {
	method   Method
	learnAt  time.Time
}

// FeedFetchFunc fetches and parses a canonical feed URL. The rss and
// old_rss methods delegate to it since both endpoints are ordinary RSS.
type FeedFetchFunc func(ctx context.Context, canonicalURL string) (*entity.ParsedFeed, error)

// Chain resolves a subreddit name to a ParsedFeed via the method fallback
// order, remembering the last successful method per subreddit.
type Chain struct {
	Fetch       FeedFetchFunc
	Sessions    *session.Manager
	RateLimiter *ratelimiter.Limiter
	Breaker     *breaker.Breaker

	mu      sync.Mutex
	learned map[string]learnedEntry
}

// New builds a Chain. fetch is used for the rss/old_rss methods; the json
// method, and old_rss's HTML-scrape fallback, are fetched directly through
// doRequest but share fetch's same rate limiter, breaker, and sessions
// since they all talk to reddit.com.
func New(fetch FeedFetchFunc, sessions *session.Manager, rl *ratelimiter.Limiter, br *breaker.Breaker) *Chain {
	return &Chain{
		Fetch:       fetch,
		Sessions:    sessions,
		RateLimiter: rl,
		Breaker:     br,
		learned:     make(map[string]learnedEntry),
	}
}

// doRequest issues a GET against rawURL through the same defenses Fetcher
// applies: breaker check, rate-limit wait, a session-pinned client, and
// realistic headers. Used by the json and old_rss-HTML methods, which
// can't delegate to Fetch because their payloads aren't RSS/Atom.
func (c *Chain) doRequest(ctx context.Context, rawURL string) (*http.Response, error) {
	if c.Breaker != nil && !c.Breaker.ShouldAllow(redditDomain) {
		return nil, fmt.Errorf("reddit: circuit breaker open for %s", redditDomain)
	}
	if c.RateLimiter != nil {
		if err := c.RateLimiter.WaitIfNeeded(ctx, redditDomain); err != nil {
			return nil, err
		}
	}

	client := http.DefaultClient
	if c.Sessions != nil {
		sessionClient, err := c.Sessions.Get(redditDomain)
		if err != nil {
			return nil, err
		}
		client = sessionClient
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header = headers.Build(rawURL, "")

	resp, err := client.Do(req)
	if err != nil {
		if c.RateLimiter != nil {
			c.RateLimiter.RecordFailure(redditDomain, 0)
		}
		if c.Breaker != nil {
			c.Breaker.RecordFailure(redditDomain)
		}
		return nil, err
	}

	if resp.StatusCode >= 400 {
		if c.RateLimiter != nil {
			c.RateLimiter.RecordFailure(redditDomain, resp.StatusCode)
		}
		if c.Breaker != nil {
			c.Breaker.RecordFailure(redditDomain)
		}
		return resp, nil
	}

	if c.RateLimiter != nil {
		c.RateLimiter.RecordSuccess(redditDomain)
	}
	if c.Breaker != nil {
		c.Breaker.RecordSuccess(redditDomain)
	}
	return resp, nil
}

// Resolve fetches a subreddit's feed, trying the learned method first (if
// still within its TTL) and otherwise walking the default order.
func (c *Chain) Resolve(ctx context.Context, subreddit string) (*entity.ParsedFeed, error) {
	order := c.orderFor(subreddit)

	var lastErr error
	for _, method := range order {
		pf, err := c.tryMethod(ctx, subreddit, method)
		if err == nil {
			c.remember(subreddit, method)
			return pf, nil
		}
		lastErr = err
		if method == c.learnedMethod(subreddit) {
			c.forget(subreddit)
		}
	}
	return nil, fmt.Errorf("reddit: all fallback methods failed for r/%s: %w", subreddit, lastErr)
}

func (c *Chain) orderFor(subreddit string) []Method {
	learned := c.learnedMethod(subreddit)
	if learned == "" {
		return defaultOrder
	}
	order := make([]Method, 0, len(defaultOrder))
	order = append(order, learned)
	for _, m := range defaultOrder {
		if m != learned {
			order = append(order, m)
		}
	}
	return order
}

func (c *Chain) learnedMethod(subreddit string) Method {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.learned[subreddit]
	if !ok || time.Since(entry.learnAt) > learnedTTL {
		return ""
	}
	return entry.method
}

func (c *Chain) remember(subreddit string, method Method) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.learned[subreddit] = learnedEntry{method: method, learnAt: time.Now()}
}

func (c *Chain) forget(subreddit string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.learned, subreddit)
}

func (c *Chain) tryMethod(ctx context.Context, subreddit string, method Method) (*entity.ParsedFeed, error) {
	switch method {
	case MethodRSS:
		return c.Fetch(ctx, "https://www.reddit.com/r/"+subreddit+".rss")
	case MethodJSON:
		return c.fetchJSON(ctx, subreddit)
	case MethodOldRSS:
		return c.fetchOldRSS(ctx, subreddit)
	default:
		return nil, fmt.Errorf("reddit: unknown method %q", method)
	}
}

type redditListing struct {
	Data struct {
		Children []struct {
			Data struct {
				ID          string  `json:"id"`
				Title       string  `json:"title"`
				Permalink   string  `json:"permalink"`
				CreatedUTC  float64 `json:"created_utc"`
				Author      string  `json:"author"`
				Selftext    string  `json:"selftext"`
			} `json:"data"`
		} `json:"children"`
	} `json:"data"`
}

// fetchJSON fetches Reddit's .json listing endpoint and reshapes it into a
// ParsedFeed without going through the generic RSS fetcher, since the
// payload shape is Reddit-specific.
func (c *Chain) fetchJSON(ctx context.Context, subreddit string) (*entity.ParsedFeed, error) {
	url := "https://www.reddit.com/r/" + subreddit + ".json"
	resp, err := c.doRequest(ctx, url)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("reddit json endpoint returned %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	var listing redditListing
	if err := json.Unmarshal(body, &listing); err != nil {
		return nil, fmt.Errorf("reddit: decode json listing: %w", err)
	}

	pf := &entity.ParsedFeed{Title: "r/" + subreddit}
	for _, child := range listing.Data.Children {
		d := child.Data
		if d.ID == "" {
			continue
		}
		pubDate := time.Unix(int64(d.CreatedUTC), 0).UTC()
		pf.Items = append(pf.Items, entity.FeedItem{
			ID:          d.ID,
			Title:       d.Title,
			Link:        "https://www.reddit.com" + d.Permalink,
			Description: d.Selftext,
			PubDate:     &pubDate,
			Author:      d.Author,
		})
	}
	return pf, nil
}

// fetchOldRSS delegates to the generic RSS fetcher for old.reddit.com;
// when that response does not parse as a feed, it falls back to scraping
// post links out of the HTML listing with goquery.
func (c *Chain) fetchOldRSS(ctx context.Context, subreddit string) (*entity.ParsedFeed, error) {
	url := "https://old.reddit.com/r/" + subreddit + ".rss"
	pf, err := c.Fetch(ctx, url)
	if err == nil {
		return pf, nil
	}

	htmlURL := "https://old.reddit.com/r/" + subreddit
	resp, doErr := c.doRequest(ctx, htmlURL)
	if doErr != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	doc, parseErr := goquery.NewDocumentFromReader(resp.Body)
	if parseErr != nil {
		return nil, err
	}

	out := &entity.ParsedFeed{Title: "r/" + subreddit}
	doc.Find("a.title").Each(func(i int, s *goquery.Selection) {
		href, ok := s.Attr("href")
		if !ok || href == "" {
			return
		}
		out.Items = append(out.Items, entity.FeedItem{
			ID:    "old_rss:" + strconv.Itoa(i) + ":" + href,
			Title: s.Text(),
			Link:  href,
		})
	})
	if len(out.Items) == 0 {
		return nil, err
	}
	return out, nil
}
