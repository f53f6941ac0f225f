// Package sidebar groups conversations into recency buckets for display.
package sidebar

import (
	"time"

	"github.com/BTreeMap/AlienChat/internal/models"
)

// Group labels, in display order.
const (
	LabelToday     = "Today"
	LabelYesterday = "Yesterday"
	LabelLastWeek  = "Last 7 days"
	LabelLastMonth = "Last month"
	LabelOlder     = "Older"
)

var labels = []string{LabelToday, LabelYesterday, LabelLastWeek, LabelLastMonth, LabelOlder}

// Group is one non-empty recency bucket.
type Group struct {
	Label         string                `json:"label"`
	Count         int                   `json:"count"`
	Conversations []models.Conversation `json:"conversations"`
}

// GroupConversations buckets non-archived conversations by their activity time relative to now.
// Day boundaries follow now's location. Input order is preserved inside each bucket.
func GroupConversations(convs []models.Conversation, now time.Time) []Group {
	loc := now.Location()
	today := midnight(now)
	yesterday := today.AddDate(0, 0, -1)
	lastWeek := today.AddDate(0, 0, -7)
	lastMonth := today.AddDate(0, 0, -30)

	buckets := make([][]models.Conversation, len(labels))
	for _, c := range convs {
		if c.Archived {
			continue
		}
		at := c.ActivityTime().In(loc)
		day := midnight(at)
		var idx int
		switch {
		case day.Equal(today):
			idx = 0
		case day.Equal(yesterday):
			idx = 1
		case !at.Before(lastWeek):
			idx = 2
		case !at.Before(lastMonth):
			idx = 3
		default:
			idx = 4
		}
		buckets[idx] = append(buckets[idx], c)
	}

	var groups []Group
	for i, b := range buckets {
		if len(b) == 0 {
			continue
		}
		groups = append(groups, Group{Label: labels[i], Count: len(b), Conversations: b})
	}
	return groups
}

// FormatTime renders a timestamp as HH:MM in its own location.
func FormatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format("15:04")
}

func midnight(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
