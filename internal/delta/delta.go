// Package delta computes which items of a freshly fetched feed are "new"
// relative to a feed's bookkeeping. Because source feeds — Reddit above
// all — are sometimes ordered by popularity rather than time, position-based
// comparisons ("items before the last seen one") are unreliable; this
// package compares publish dates instead.
package delta

import (
	"sort"
	"time"

	"feedpoller/internal/domain/entity"
)

// Result is the outcome of computing a delta against a feed's prior state.
type Result struct {
	// NewItems are the items to notify about, sorted by PubDate descending.
	NewItems []entity.FeedItem
	// LastItemID is the id the caller should persist as the feed's
	// last_item_id going forward.
	LastItemID string
	// AdvanceNotifiedAt is set when the caller should also bump
	// last_notified_at (to the most recent new item's pub date).
	AdvanceNotifiedAt *time.Time
}

// Compute returns the items that are new since lastNotifiedAt, given the
// feed's prior last_item_id (empty if this is the first observation).
func Compute(pf *entity.ParsedFeed, lastItemID string, lastNotifiedAt *time.Time) Result {
	if pf == nil || len(pf.Items) == 0 {
		return Result{}
	}

	first := pf.First()

	if lastItemID == "" {
		// First observation: establish a baseline, notify nothing.
		notifiedAt := now()
		if first.PubDate != nil {
			notifiedAt = *first.PubDate
		}
		return Result{
			LastItemID:        first.ID,
			AdvanceNotifiedAt: &notifiedAt,
		}
	}

	if lastNotifiedAt == nil {
		// Degenerate recovery: treat the current first item as the one new item.
		notifiedAt := now()
		if first.PubDate != nil {
			notifiedAt = *first.PubDate
		}
		return Result{
			NewItems:          []entity.FeedItem{*first},
			LastItemID:        first.ID,
			AdvanceNotifiedAt: &notifiedAt,
		}
	}

	var fresh []entity.FeedItem
	for _, item := range pf.Items {
		if item.PubDate == nil {
			continue
		}
		if item.PubDate.After(*lastNotifiedAt) {
			fresh = append(fresh, item)
		}
	}

	sort.Slice(fresh, func(i, j int) bool {
		return fresh[i].PubDate.After(*fresh[j].PubDate)
	})

	if len(fresh) == 0 {
		result := Result{LastItemID: lastItemID}
		if first.ID != lastItemID {
			result.LastItemID = first.ID
		}
		return result
	}

	advance := *fresh[0].PubDate
	return Result{
		NewItems:          fresh,
		LastItemID:        fresh[0].ID,
		AdvanceNotifiedAt: &advance,
	}
}

// now is a var so tests can override it without a clock injection
// threading through every call site.
var now = time.Now
