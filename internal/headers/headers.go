// Package headers composes realistic HTTP request headers to avoid the
// flat, bot-shaped header set a naive client sends.
package headers

import (
	"math/rand/v2"
	"net/http"
	"strings"
)

// acceptLanguages is drawn from uniformly; a fixed Accept-Language across
// every request is itself a fingerprinting signal.
var acceptLanguages = []string{
	"en-US,en;q=0.9",
	"en-GB,en;q=0.9",
	"pt-BR,pt;q=0.9,en;q=0.8",
	"es-ES,es;q=0.9,en;q=0.8",
}

// Build returns the full header set for a request to targetURL using the
// given User-Agent. Reddit hosts additionally receive a same-site Referer;
// no other host gets one, since a wrong Referer is a stronger block signal
// than none at all.
func Build(targetURL, userAgent string) http.Header {
	h := http.Header{}
	h.Set("User-Agent", userAgent)
	h.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,*/*;q=0.8")
	h.Set("Accept-Language", acceptLanguages[rand.IntN(len(acceptLanguages))])
	h.Set("Accept-Encoding", "gzip, deflate, br")
	h.Set("DNT", "1")
	h.Set("Connection", "keep-alive")
	h.Set("Upgrade-Insecure-Requests", "1")
	h.Set("Sec-Fetch-Dest", "document")
	h.Set("Sec-Fetch-Mode", "navigate")
	h.Set("Sec-Fetch-Site", "none")
	h.Set("Sec-Fetch-User", "?1")
	h.Set("Cache-Control", "max-age=0")

	if strings.Contains(targetURL, "reddit.com") {
		h.Set("Referer", "https://www.reddit.com/")
	}

	return h
}
