package model

import "time"

type MembershipStatus string

const (
	MembershipNone     MembershipStatus = "none"
	MembershipPending  MembershipStatus = "pending"
	MembershipAccepted MembershipStatus = "accepted"
)

// Membership is the single authoritative record of a user's relation to a room.
// No row means MembershipNone.
type Membership struct {
	RoomID    string           `json:"room_id"`
	UserID    string           `json:"user_id"`
	Status    MembershipStatus `json:"status"`
	CreatedAt time.Time        `json:"created_at"`
	UpdatedAt time.Time        `json:"updated_at"`
}
