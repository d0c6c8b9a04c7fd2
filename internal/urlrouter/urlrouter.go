// Package urlrouter classifies a user-supplied feed URL and rewrites it to
// the canonical form the fetcher should actually poll: a YouTube channel
// page becomes its Atom feed, a subreddit becomes a candidate for the
// Reddit fallback chain, and an already-canonical feed URL passes through
// unchanged.
package urlrouter

import (
	"net/url"
	"regexp"
	"strings"
)

// ResolveHandle resolves a YouTube @handle or /c/ vanity name to a channel
// ID. Left unset by default: the router falls back to the best-effort
// user= query form when no resolver is configured.
type ResolveHandle func(handle string) (channelID string, err error)

var channelIDPattern = regexp.MustCompile(`^UC[0-9A-Za-z_-]{20,}$`)

// Kind classifies how a URL should be routed.
type Kind int

const (
	// KindDirect means the URL is already a canonical feed URL.
	KindDirect Kind = iota
	// KindYouTube means the URL was rewritten to a YouTube Atom feed URL.
	KindYouTube
	// KindReddit means the URL names a subreddit to resolve via the
	// Reddit fallback chain (C8); CanonicalURL is empty in this case and
	// Subreddit must be used instead.
	KindReddit
	// KindRedditDirect means a non-subreddit reddit.com/redd.it URL that
	// only needed ".rss" appended.
	KindRedditDirect
)

// Route is the result of classifying and (where possible) rewriting a URL.
type Route struct {
	Kind         Kind
	CanonicalURL string
	Subreddit    string
}

// Router classifies and rewrites feed URLs.
type Router struct {
	ResolveHandle ResolveHandle
}

// New builds a Router with no handle resolver configured.
func New() *Router {
	return &Router{}
}

// Route classifies rawURL and produces its canonical routing.
func (r *Router) Route(rawURL string) (Route, error) {
	if looksLikeCanonicalFeed(rawURL) {
		return Route{Kind: KindDirect, CanonicalURL: rawURL}, nil
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return Route{}, err
	}
	host := strings.ToLower(u.Host)

	if isYouTubeHost(host) || looksLikeYouTubeHandle(rawURL) {
		return r.routeYouTube(rawURL, u)
	}

	if strings.Contains(host, "reddit.com") || strings.Contains(host, "redd.it") {
		return routeReddit(u)
	}

	return Route{Kind: KindDirect, CanonicalURL: rawURL}, nil
}

func looksLikeCanonicalFeed(rawURL string) bool {
	lower := strings.ToLower(rawURL)
	if strings.Contains(lower, "feeds/videos.xml") || strings.Contains(lower, "atom.xml") {
		return true
	}
	return strings.HasSuffix(lower, ".rss") || strings.HasSuffix(lower, ".xml")
}

func isYouTubeHost(host string) bool {
	return strings.Contains(host, "youtube.com") || strings.Contains(host, "youtu.be")
}

func looksLikeYouTubeHandle(rawURL string) bool {
	trimmed := strings.TrimPrefix(rawURL, "@")
	if strings.HasPrefix(rawURL, "@") && trimmed != "" {
		return true
	}
	return channelIDPattern.MatchString(rawURL)
}

func (r *Router) routeYouTube(rawURL string, u *url.URL) (Route, error) {
	if channelIDPattern.MatchString(rawURL) {
		return Route{Kind: KindYouTube, CanonicalURL: "https://www.youtube.com/feeds/videos.xml?channel_id=" + rawURL}, nil
	}

	path := strings.Trim(u.Path, "/")
	segments := strings.Split(path, "/")

	switch {
	case len(segments) >= 2 && segments[0] == "channel" && channelIDPattern.MatchString(segments[1]):
		return Route{Kind: KindYouTube, CanonicalURL: "https://www.youtube.com/feeds/videos.xml?channel_id=" + segments[1]}, nil

	case len(segments) >= 2 && segments[0] == "user":
		return Route{Kind: KindYouTube, CanonicalURL: "https://www.youtube.com/feeds/videos.xml?user=" + segments[1]}, nil

	case strings.HasPrefix(rawURL, "@"):
		handle := strings.TrimPrefix(rawURL, "@")
		return r.resolveHandleOrFallback(handle), nil

	case len(segments) >= 1 && strings.HasPrefix(segments[0], "@"):
		handle := strings.TrimPrefix(segments[0], "@")
		return r.resolveHandleOrFallback(handle), nil

	case len(segments) >= 2 && segments[0] == "c":
		return r.resolveHandleOrFallback(segments[1]), nil

	default:
		// Unrecognized YouTube path shape; best effort as a user= feed.
		return Route{Kind: KindYouTube, CanonicalURL: "https://www.youtube.com/feeds/videos.xml?user=" + path}, nil
	}
}

func (r *Router) resolveHandleOrFallback(handle string) Route {
	if r.ResolveHandle != nil {
		if channelID, err := r.ResolveHandle(handle); err == nil && channelID != "" {
			return Route{Kind: KindYouTube, CanonicalURL: "https://www.youtube.com/feeds/videos.xml?channel_id=" + channelID}
		}
	}
	return Route{Kind: KindYouTube, CanonicalURL: "https://www.youtube.com/feeds/videos.xml?user=" + handle}
}

func routeReddit(u *url.URL) (Route, error) {
	path := strings.Trim(u.Path, "/")
	segments := strings.Split(path, "/")

	if len(segments) >= 2 && segments[0] == "r" && segments[1] != "" {
		return Route{Kind: KindReddit, Subreddit: segments[1]}, nil
	}

	raw := u.String()
	if looksLikeCanonicalFeed(raw) {
		return Route{Kind: KindRedditDirect, CanonicalURL: raw}, nil
	}
	return Route{Kind: KindRedditDirect, CanonicalURL: raw + ".rss"}, nil
}
