package models

import "time"

// Stats aggregates message store counters.
type Stats struct {
	TotalMessages  int64      `json:"total_messages"`
	UnreadMessages int64      `json:"unread_messages"`
	Conversations  int64      `json:"conversations"`
	LastActivity   *time.Time `json:"last_activity,omitempty"`
}
