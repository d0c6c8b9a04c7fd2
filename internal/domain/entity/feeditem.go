package entity

import "time"

// FeedItem is one entry of a fetched feed, normalized from whatever the
// source parser produced. An item without an ID has no identity and must
// be discarded by the caller — see ParsedFeed.Normalize.
type FeedItem struct {
	ID          string
	Title       string
	Link        string
	Description string
	PubDate     *time.Time
	Author      string
	Categories  []string
}

// ParsedFeed is the ordered sequence of items a single fetch produced, plus
// whatever feed-level metadata the source parser exposed. It is not
// restartable or resumable within a fetch — it is the full result of one
// GET, truncated to whatever the source returned.
type ParsedFeed struct {
	Title string
	Items []FeedItem
}

// Normalize drops items lacking an id, per the data model invariant that
// identity-less items cannot be tracked across fetches.
func (p *ParsedFeed) Normalize() {
	kept := p.Items[:0]
	for _, it := range p.Items {
		if it.ID == "" {
			continue
		}
		kept = append(kept, it)
	}
	p.Items = kept
}

// First returns the feed's own first item (source order, not necessarily
// chronological), or nil if the feed is empty.
func (p *ParsedFeed) First() *FeedItem {
	if len(p.Items) == 0 {
		return nil
	}
	return &p.Items[0]
}
