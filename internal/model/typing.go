package model

import "time"

// TypingStatus is an ephemeral per-user-per-room typing signal.
type TypingStatus struct {
	RoomID    string    `json:"room_id"`
	UserID    string    `json:"user_id"`
	IsTyping  bool      `json:"is_typing"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Fresh reports whether the signal is still within the freshness window at now.
func (t *TypingStatus) Fresh(now time.Time, window time.Duration) bool {
	return t.IsTyping && now.Sub(t.UpdatedAt) <= window
}
