// Package sanitize formats feed items and alert text into messages safe to
// send to a chat backend. HTML mode rewrites feed-supplied markup down to a
// small restricted tag set using a golang.org/x/net/html tokenizer walk,
// rather than regex substitution, so every opened tag is guaranteed closed.
package sanitize

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"golang.org/x/net/html"

	"feedpoller/internal/domain/entity"
)

const descriptionMaxLength = 500

// allowedTags is the restricted tag set permitted through HTML sanitization.
var allowedTags = map[string]bool{
	"b": true, "i": true, "u": true, "s": true, "code": true, "pre": true, "a": true,
}

// tagAliases renames equivalent tags to their canonical allowed form.
var tagAliases = map[string]string{
	"strong": "b", "em": "i", "ins": "u", "strike": "s", "del": "s",
}

// FormatItem composes a chat message for a newly discovered feed item.
// useHTML selects the sanitized-HTML rendering; otherwise the message is
// built from plain text only.
func FormatItem(item entity.FeedItem, feedName string, useHTML bool) string {
	var b strings.Builder

	title := item.Title
	if useHTML {
		title = SanitizeHTML(title)
	}
	b.WriteString(title)

	if item.Description != "" {
		desc := truncate(item.Description, descriptionMaxLength)
		if useHTML {
			desc = SanitizeHTML(desc)
		} else {
			desc = PlainText(desc)
		}
		b.WriteString("\n\n")
		b.WriteString(desc)
	}

	if item.PubDate != nil {
		b.WriteString("\n\n")
		b.WriteString(item.PubDate.UTC().Format("2006-01-02 15:04:05 UTC"))
	}

	b.WriteString("\n\n")
	b.WriteString(feedName)
	b.WriteString(": ")
	b.WriteString(item.Link)

	return collapseWhitespace(b.String())
}

// FormatAlert composes a plain-text operator alert message; alerts carry no
// source HTML, so no sanitization is required beyond whitespace collapsing.
func FormatAlert(kind, domain, detail string) string {
	return collapseWhitespace(fmt.Sprintf("[%s] %s: %s", kind, domain, detail))
}

// truncate shortens text to maxLen runes, appending an ellipsis when cut.
func truncate(text string, maxLen int) string {
	runes := []rune(text)
	if len(runes) <= maxLen {
		return text
	}
	return string(runes[:maxLen]) + "..."
}

var commentPattern = regexp.MustCompile(`(?s)<!--.*?-->`)
var scriptStylePattern = regexp.MustCompile(`(?is)<(script|style)\b[^>]*>.*?</(script|style)>`)

// SanitizeHTML rewrites arbitrary feed-supplied HTML down to the allowed
// tag set, preserving only a safe href on <a>, stripping all other
// attributes, and ensuring every tag emitted is eventually closed.
func SanitizeHTML(input string) string {
	input = commentPattern.ReplaceAllString(input, "")
	input = scriptStylePattern.ReplaceAllString(input, "")

	tokenizer := html.NewTokenizer(strings.NewReader(input))
	var out strings.Builder
	var openStack []string

	for {
		tt := tokenizer.Next()
		if tt == html.ErrorToken {
			break
		}

		switch tt {
		case html.TextToken:
			out.WriteString(escapeText(string(tokenizer.Text())))

		case html.StartTagToken, html.SelfClosingTagToken:
			tok := tokenizer.Token()
			name := canonicalTag(tok.Data)
			if !allowedTags[name] {
				continue
			}
			out.WriteString(renderOpenTag(name, tok))
			if tt == html.StartTagToken {
				openStack = append(openStack, name)
			}

		case html.EndTagToken:
			tok := tokenizer.Token()
			name := canonicalTag(tok.Data)
			if !allowedTags[name] {
				continue
			}
			idx := lastIndex(openStack, name)
			if idx == -1 {
				// Orphan closing tag: no matching earlier open tag, drop it.
				continue
			}
			// Close any tags opened after this one too, innermost first.
			for i := len(openStack) - 1; i >= idx; i-- {
				out.WriteString("</" + openStack[i] + ">")
			}
			openStack = openStack[:idx]
		}
	}

	for i := len(openStack) - 1; i >= 0; i-- {
		out.WriteString("</" + openStack[i] + ">")
	}

	return collapseWhitespace(out.String())
}

func canonicalTag(name string) string {
	name = strings.ToLower(name)
	if alias, ok := tagAliases[name]; ok {
		return alias
	}
	return name
}

func renderOpenTag(name string, tok html.Token) string {
	if name != "a" {
		return "<" + name + ">"
	}
	href := ""
	for _, attr := range tok.Attr {
		if attr.Key == "href" {
			href = attr.Val
		}
	}
	if href == "" {
		return "<a>"
	}
	return fmt.Sprintf(`<a href="%s">`, escapeAttr(href))
}

func lastIndex(stack []string, name string) int {
	for i := len(stack) - 1; i >= 0; i-- {
		if stack[i] == name {
			return i
		}
	}
	return -1
}

func escapeText(s string) string {
	s = strings.ReplaceAll(s, "&", "&amp;")
	s = strings.ReplaceAll(s, "<", "&lt;")
	s = strings.ReplaceAll(s, ">", "&gt;")
	return s
}

func escapeAttr(s string) string {
	s = strings.ReplaceAll(s, "&", "&amp;")
	s = strings.ReplaceAll(s, "<", "&lt;")
	s = strings.ReplaceAll(s, ">", "&gt;")
	s = strings.ReplaceAll(s, `"`, "&quot;")
	return s
}

var whitespaceRun = regexp.MustCompile(`[ \t]+`)
var newlineRun = regexp.MustCompile(`\n{3,}`)

func collapseWhitespace(s string) string {
	s = whitespaceRun.ReplaceAllString(s, " ")
	s = newlineRun.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}

// PlainText strips all tags and unescapes entities, for the non-HTML
// fallback rendering and for the chat-delivery retry path.
func PlainText(input string) string {
	tokenizer := html.NewTokenizer(strings.NewReader(input))
	var out strings.Builder
	for {
		tt := tokenizer.Next()
		if tt == html.ErrorToken {
			break
		}
		if tt == html.TextToken {
			out.WriteString(string(tokenizer.Text()))
		}
	}
	return collapseWhitespace(out.String())
}

// FormatTime renders an instant as the message timestamp format used
// throughout notifications.
func FormatTime(t time.Time) string {
	return t.UTC().Format("2006-01-02 15:04:05 UTC")
}
