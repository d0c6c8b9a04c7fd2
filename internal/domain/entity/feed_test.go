package entity

import (
	"testing"
	"time"
)

func TestFeedValidate(t *testing.T) {
	future := time.Now().Add(time.Hour)
	past := time.Now().Add(-time.Hour)

	tests := []struct {
		name    string
		feed    Feed
		wantErr bool
	}{
		{
			name:    "enabled feed without canonical url",
			feed:    Feed{Enabled: true, CheckIntervalMinutes: 5},
			wantErr: true,
		},
		{
			name:    "disabled feed without canonical url is fine",
			feed:    Feed{Enabled: false, CheckIntervalMinutes: 5},
			wantErr: false,
		},
		{
			name:    "valid enabled feed",
			feed:    Feed{Enabled: true, CanonicalURL: "https://example.com/feed.rss", CheckIntervalMinutes: 5},
			wantErr: false,
		},
		{
			name:    "last_notified_at in future",
			feed:    Feed{Enabled: true, CanonicalURL: "https://example.com/feed.rss", CheckIntervalMinutes: 5, LastNotifiedAt: &future},
			wantErr: true,
		},
		{
			name:    "last_notified_at in past is fine",
			feed:    Feed{Enabled: true, CanonicalURL: "https://example.com/feed.rss", CheckIntervalMinutes: 5, LastNotifiedAt: &past},
			wantErr: false,
		},
		{
			name:    "zero interval",
			feed:    Feed{Enabled: true, CanonicalURL: "https://example.com/feed.rss", CheckIntervalMinutes: 0},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.feed.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestFeedDue(t *testing.T) {
	now := time.Now()

	t.Run("never checked is due", func(t *testing.T) {
		f := Feed{CheckIntervalMinutes: 5}
		if !f.Due(now) {
			t.Error("expected a never-checked feed to be due")
		}
	})

	t.Run("checked recently is not due", func(t *testing.T) {
		last := now.Add(-2 * time.Minute)
		f := Feed{CheckIntervalMinutes: 5, LastCheck: &last}
		if f.Due(now) {
			t.Error("expected feed checked 2m ago with 5m interval to not be due")
		}
	})

	t.Run("interval elapsed is due", func(t *testing.T) {
		last := now.Add(-6 * time.Minute)
		f := Feed{CheckIntervalMinutes: 5, LastCheck: &last}
		if !f.Due(now) {
			t.Error("expected feed checked 6m ago with 5m interval to be due")
		}
	})
}
