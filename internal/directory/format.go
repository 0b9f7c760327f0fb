package directory

import (
	"strconv"
	"strings"
	"time"

	"association-chat/internal/models"
)

// Empty-state messages.
const (
	EmptyConversations = "No conversations"
	EmptyStaff         = "No staff members"
)

// Filter keeps the entries whose name contains query, case-insensitively.
// An empty query returns list itself.
func Filter[T any](list []T, query string, name func(T) string) []T {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return list
	}
	out := make([]T, 0, len(list))
	for _, item := range list {
		if strings.Contains(strings.ToLower(name(item)), q) {
			out = append(out, item)
		}
	}
	return out
}

// FilterConversations filters on the counterpart name.
func FilterConversations(list []models.ConversationSummary, query string) []models.ConversationSummary {
	return Filter(list, query, func(c models.ConversationSummary) string { return c.User.Name })
}

// FilterStaff filters on the staff member name.
func FilterStaff(list []models.Counterpart, query string) []models.Counterpart {
	return Filter(list, query, func(c models.Counterpart) string { return c.Name })
}

// RelativeTime formats t against now: "now", "5m", "3h", "2d", then the
// date once older than a week.
func RelativeTime(t, now time.Time) string {
	if t.IsZero() {
		return ""
	}
	d := now.Sub(t)
	switch {
	case d < time.Minute:
		return "now"
	case d < time.Hour:
		return strconv.Itoa(int(d/time.Minute)) + "m"
	case d < 24*time.Hour:
		return strconv.Itoa(int(d/time.Hour)) + "h"
	case d < 7*24*time.Hour:
		return strconv.Itoa(int(d/(24*time.Hour))) + "d"
	default:
		return t.In(now.Location()).Format("02/01/2006")
	}
}

// Preview renders the last message of a row.
func Preview(m models.LastMessage) string {
	if m.Type == models.MessageTypeFile {
		return "[file] " + m.Content
	}
	return m.Content
}
