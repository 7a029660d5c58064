package client

import (
	"sort"
	"time"

	"github.com/roomchat/internal/feed"
	"github.com/roomchat/internal/model"
)

// TypingView tracks who is typing in one room. Signals older than the freshness window are
// treated as stopped even if no stop event ever arrives.
type TypingView struct {
	self   string
	roomID string
	window time.Duration
	rows   *feed.Cache[model.TypingStatus]
}

func NewTypingView(selfID, roomID string, window time.Duration) *TypingView {
	return &TypingView{self: selfID, roomID: roomID, window: window, rows: feed.NewCache[model.TypingStatus]()}
}

func (v *TypingView) Apply(ev feed.Event) (bool, error) {
	if ev.Table != feed.TableTyping || ev.Topic != model.RoomChannel(v.roomID).Topic() {
		return false, nil
	}
	return v.rows.Apply(ev)
}

// Typing returns the other users with a fresh typing signal at now, most recent first.
func (v *TypingView) Typing(now time.Time) []model.TypingStatus {
	var out []model.TypingStatus
	for _, st := range v.rows.Values() {
		if st.UserID == v.self || !st.Fresh(now, v.window) {
			continue
		}
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out
}
