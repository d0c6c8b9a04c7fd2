package delta

import (
	"testing"
	"time"

	"feedpoller/internal/domain/entity"
)

func ts(minutesAgo int) *time.Time {
	t := time.Now().Add(-time.Duration(minutesAgo) * time.Minute)
	return &t
}

func TestComputeEmptyFeed(t *testing.T) {
	result := Compute(&entity.ParsedFeed{}, "", nil)
	if len(result.NewItems) != 0 || result.LastItemID != "" {
		t.Errorf("expected empty result, got %+v", result)
	}
}

func TestComputeFirstObservationEstablishesBaseline(t *testing.T) {
	pf := &entity.ParsedFeed{Items: []entity.FeedItem{
		{ID: "a", PubDate: ts(5)},
		{ID: "b", PubDate: ts(10)},
	}}
	result := Compute(pf, "", nil)

	if len(result.NewItems) != 0 {
		t.Errorf("expected no new items on first observation, got %d", len(result.NewItems))
	}
	if result.LastItemID != "a" {
		t.Errorf("expected baseline last_item_id=a, got %q", result.LastItemID)
	}
	if result.AdvanceNotifiedAt == nil {
		t.Error("expected AdvanceNotifiedAt to be set")
	}
}

func TestComputeDegenerateRecoveryWithoutLastNotifiedAt(t *testing.T) {
	pf := &entity.ParsedFeed{Items: []entity.FeedItem{
		{ID: "a", PubDate: ts(5)},
	}}
	result := Compute(pf, "old-id", nil)

	if len(result.NewItems) != 1 || result.NewItems[0].ID != "a" {
		t.Errorf("expected single new item a, got %+v", result.NewItems)
	}
}

func TestComputeSelectsItemsAfterLastNotified(t *testing.T) {
	lastNotified := ts(7)
	pf := &entity.ParsedFeed{Items: []entity.FeedItem{
		{ID: "new1", PubDate: ts(5)},
		{ID: "new2", PubDate: ts(3)},
		{ID: "old", PubDate: ts(20)},
	}}
	result := Compute(pf, "old", lastNotified)

	if len(result.NewItems) != 2 {
		t.Fatalf("expected 2 new items, got %d", len(result.NewItems))
	}
	if result.NewItems[0].ID != "new2" {
		t.Errorf("expected descending pub_date order, got first=%q", result.NewItems[0].ID)
	}
	if result.LastItemID != "new2" {
		t.Errorf("expected last_item_id=new2, got %q", result.LastItemID)
	}
}

func TestComputeSkipsItemsWithoutPubDate(t *testing.T) {
	lastNotified := ts(7)
	pf := &entity.ParsedFeed{Items: []entity.FeedItem{
		{ID: "no-date"},
		{ID: "new1", PubDate: ts(5)},
	}}
	result := Compute(pf, "old", lastNotified)

	if len(result.NewItems) != 1 || result.NewItems[0].ID != "new1" {
		t.Errorf("expected only new1, got %+v", result.NewItems)
	}
}

func TestComputeNoNewItemsBumpsLastItemIDOnly(t *testing.T) {
	lastNotified := ts(1)
	pf := &entity.ParsedFeed{Items: []entity.FeedItem{
		{ID: "current-first", PubDate: ts(30)},
	}}
	result := Compute(pf, "stale-id", lastNotified)

	if len(result.NewItems) != 0 {
		t.Errorf("expected no new items, got %d", len(result.NewItems))
	}
	if result.LastItemID != "current-first" {
		t.Errorf("expected last_item_id bumped to current-first, got %q", result.LastItemID)
	}
	if result.AdvanceNotifiedAt != nil {
		t.Error("expected AdvanceNotifiedAt to remain nil when nothing new")
	}
}

func TestComputeNoChangeKeepsLastItemID(t *testing.T) {
	lastNotified := ts(1)
	pf := &entity.ParsedFeed{Items: []entity.FeedItem{
		{ID: "same", PubDate: ts(30)},
	}}
	result := Compute(pf, "same", lastNotified)

	if result.LastItemID != "same" {
		t.Errorf("expected last_item_id unchanged, got %q", result.LastItemID)
	}
}
