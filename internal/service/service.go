// Package service holds the chat operations: room directory, membership, messages, notifications
// and presence. Each mutating operation is one store call; change events are published to the
// feed bus only after that call has committed.
package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/roomchat/internal/feed"
	"github.com/roomchat/internal/logger"
	"github.com/roomchat/internal/model"
	"github.com/roomchat/internal/storage"
)

// UnknownUser replaces a sender name that could not be resolved.
const UnknownUser = "Unknown user"

// DefaultTypingFreshness is how long a typing signal counts as current.
const DefaultTypingFreshness = 10 * time.Second

// Notifier delivers a best-effort push to a user without a live connection.
type Notifier interface {
	Notify(ctx context.Context, userID, title, body string, data map[string]string)
}

type Options struct {
	TypingFreshness time.Duration
	// Clock overrides time.Now. Used by tests.
	Clock func() time.Time
}

// Service groups the operation sets sharing one store and one bus.
type Service struct {
	Users         *UserService
	Rooms         *RoomService
	Memberships   *MembershipService
	Messages      *MessageService
	Notifications *NotificationService
	Presence      *PresenceService
}

func New(store storage.Store, presence storage.PresenceStore, bus feed.Bus, notifier Notifier, opts Options) *Service {
	if opts.TypingFreshness <= 0 {
		opts.TypingFreshness = DefaultTypingFreshness
	}
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}
	d := &deps{store: store, presence: presence, bus: bus, notifier: notifier, clock: clock}
	return &Service{
		Users:         &UserService{deps: d},
		Rooms:         &RoomService{deps: d},
		Memberships:   &MembershipService{deps: d},
		Messages:      &MessageService{deps: d},
		Notifications: &NotificationService{deps: d},
		Presence:      &PresenceService{deps: d, freshness: opts.TypingFreshness},
	}
}

type deps struct {
	store    storage.Store
	presence storage.PresenceStore
	bus      feed.Bus
	notifier Notifier
	clock    func() time.Time
}

// now is truncated to the database timestamp precision so cursors built from returned rows match
// stored rows exactly.
func (d *deps) now() time.Time {
	return d.clock().UTC().Truncate(time.Microsecond)
}

func validID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

// publish sends a change event after commit. Delivery is best effort: failures are logged and the
// committed change stands.
func (d *deps) publish(ctx context.Context, topic, table string, op feed.Op, key string, at time.Time, row any) {
	if d.bus == nil {
		return
	}
	ev, err := feed.NewEvent(topic, table, op, key, at, row)
	if err != nil {
		logger.Errorf("feed encode %s %s: %v", table, key, err)
		return
	}
	if err := d.bus.Publish(ctx, ev); err != nil {
		logger.Errorf("feed publish %s %s: %v", topic, key, err)
	}
}

// deliver publishes each notification on its recipient's topic and pushes to recipients that are
// offline.
func (d *deps) deliver(ctx context.Context, notes []model.Notification, title string) {
	if len(notes) == 0 {
		return
	}
	ids := make([]string, 0, len(notes))
	for i := range notes {
		n := &notes[i]
		d.publish(ctx, feed.UserTopic(n.UserID), feed.TableNotifications, feed.OpInsert, n.ID, n.CreatedAt, n)
		ids = append(ids, n.UserID)
	}
	if d.notifier == nil {
		return
	}
	online := map[string]bool{}
	if d.presence != nil {
		var err error
		online, err = d.presence.OnlineUsers(ctx, ids)
		if err != nil {
			logger.Errorf("online users: %v", err)
			online = map[string]bool{}
		}
	}
	for _, n := range notes {
		if online[n.UserID] {
			continue
		}
		data := map[string]string{"type": string(n.Type), "notification_id": n.ID}
		if n.RoomID != nil {
			data["room_id"] = *n.RoomID
		}
		userID, body := n.UserID, n.Message
		go func() {
			pctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			d.notifier.Notify(pctx, userID, title, body, data)
		}()
	}
}

// displayName resolves a username for enrichment; lookup failures degrade to UnknownUser.
func (d *deps) displayName(ctx context.Context, userID string) string {
	u, err := d.store.GetUser(ctx, userID)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			logger.Errorf("resolve user %s: %v", userID, err)
		}
		return UnknownUser
	}
	if u.Username == "" {
		return UnknownUser
	}
	return u.Username
}
