package model

import "time"

type Room struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	IsPrivate bool      `json:"is_private"`
	CreatedBy string    `json:"created_by"`
	CreatedAt time.Time `json:"created_at"`
}

// RoomView is a room annotated for one viewer.
type RoomView struct {
	Room
	IsMember            bool             `json:"is_member"`
	ParticipationStatus MembershipStatus `json:"participation_status"`
	MemberCount         int              `json:"member_count"`
}

// RoomPage is one page of search results with the total match count.
type RoomPage struct {
	Rooms []RoomView `json:"rooms"`
	Total int        `json:"total"`
}

type DirectChat struct {
	ID        string    `json:"id"`
	UserA     string    `json:"user_a"`
	UserB     string    `json:"user_b"`
	CreatedAt time.Time `json:"created_at"`
}

// Has reports whether userID is one of the two participants.
func (d *DirectChat) Has(userID string) bool {
	return d.UserA == userID || d.UserB == userID
}

// Other returns the participant that is not userID.
func (d *DirectChat) Other(userID string) string {
	if d.UserA == userID {
		return d.UserB
	}
	return d.UserA
}

// OrderPair returns the two ids sorted so that a pair of users maps to one direct chat.
func OrderPair(a, b string) (string, string) {
	if a < b {
		return a, b
	}
	return b, a
}
