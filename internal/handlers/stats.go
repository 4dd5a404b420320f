package handlers

import (
	"net/http"
	"strconv"
	"time"
)

// StatsResponse represents the response from the stats endpoint.
type StatsResponse struct {
	TotalMessages  int64  `json:"total_messages"`
	UnreadMessages int64  `json:"unread_messages"`
	Conversations  int64  `json:"conversations"`
	LastActivity   string `json:"last_activity"`
	Subscribers    int    `json:"subscribers"`
	ActiveRooms    int    `json:"active_rooms"`
}

// Stats returns message store and fan-out statistics.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.store.Stats(r.Context())
	if err != nil {
		h.logger.Error().Err(err).Msg("load stats failed")
		h.Error(w, http.StatusInternalServerError, "failed to load stats")
		return
	}

	lastActivity := "no activity yet"
	if stats.LastActivity != nil {
		lastActivity = formatTimeAgo(*stats.LastActivity)
	}

	subscribers, rooms := h.hub.Counts()

	h.JSON(w, http.StatusOK, StatsResponse{
		TotalMessages:  stats.TotalMessages,
		UnreadMessages: stats.UnreadMessages,
		Conversations:  stats.Conversations,
		LastActivity:   lastActivity,
		Subscribers:    subscribers,
		ActiveRooms:    rooms,
	})
}

// formatTimeAgo formats a time as a human-readable "X ago" string.
func formatTimeAgo(t time.Time) string {
	diff := time.Since(t)

	switch {
	case diff < time.Minute:
		return "just now"
	case diff < time.Hour:
		mins := int(diff.Minutes())
		if mins == 1 {
			return "1 minute ago"
		}
		return strconv.Itoa(mins) + " minutes ago"
	case diff < 24*time.Hour:
		hours := int(diff.Hours())
		if hours == 1 {
			return "1 hour ago"
		}
		return strconv.Itoa(hours) + " hours ago"
	default:
		days := int(diff.Hours() / 24)
		if days == 1 {
			return "1 day ago"
		}
		return strconv.Itoa(days) + " days ago"
	}
}
