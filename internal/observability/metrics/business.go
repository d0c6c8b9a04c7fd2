package metrics

import (
	"fmt"
	"time"
)

// RecordFeedItemsFetched records the number of new items delivered for a feed.
func RecordFeedItemsFetched(feedName string, feedID int64, count int) {
	FeedItemsFetchedTotal.WithLabelValues(
		feedName,
		fmt.Sprintf("%d", feedID),
	).Add(float64(count))
}

// RecordFeedFetch records the duration of one feed fetch-and-parse cycle.
func RecordFeedFetch(feedID int64, duration time.Duration, itemsFound int) {
	FeedFetchDuration.WithLabelValues(
		fmt.Sprintf("%d", feedID),
	).Observe(duration.Seconds())

	if itemsFound > 0 {
		RecordFeedItemsFetched("", feedID, itemsFound)
	}
}

// RecordFeedFetchError records an error encountered while fetching a feed.
func RecordFeedFetchError(feedID int64, errorType string) {
	FeedFetchErrors.WithLabelValues(
		fmt.Sprintf("%d", feedID),
		errorType,
	).Inc()
}

// UpdateFeedsTotal updates the gauge tracking total feed subscriptions.
func UpdateFeedsTotal(count int) {
	FeedsTotal.Set(float64(count))
}

// UpdateChatsTotal updates the gauge tracking total distinct chats.
func UpdateChatsTotal(count int) {
	ChatsTotal.Set(float64(count))
}

// RecordDBQuery records the duration of a database query operation.
// Operation should describe the query type (e.g., "select_feed", "update_feed").
func RecordDBQuery(operation string, duration time.Duration) {
	DBQueryDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// UpdateDBConnectionStats updates database connection pool statistics.
func UpdateDBConnectionStats(active, idle int) {
	DBConnectionsActive.Set(float64(active))
	DBConnectionsIdle.Set(float64(idle))
}
