// Package feed carries row-change events between the API and live subscribers. A Bus fans every
// published Event out to all current subscriptions; filtering by topic happens at the consumer.
package feed

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

type Op string

const (
	OpInsert Op = "insert"
	OpUpdate Op = "update"
	OpDelete Op = "delete"
)

// Table names used in events.
const (
	TableMessages      = "messages"
	TableMemberships   = "room_memberships"
	TableNotifications = "notifications"
	TableTyping        = "typing_status"
	TableRooms         = "rooms"
)

// KeyAll marks an event that applies to every row of its table on the topic, e.g. marking all
// of a user's notifications read.
const KeyAll = "*"

var ErrClosed = errors.New("feed: bus closed")

type Event struct {
	Topic string          `json:"topic"`
	Table string          `json:"table"`
	Op    Op              `json:"op"`
	Key   string          `json:"key"`
	At    time.Time       `json:"at"`
	Row   json.RawMessage `json:"row,omitempty"`
}

// NewEvent encodes row as the event payload.
func NewEvent(topic, table string, op Op, key string, at time.Time, row any) (Event, error) {
	ev := Event{Topic: topic, Table: table, Op: op, Key: key, At: at}
	if row != nil {
		b, err := json.Marshal(row)
		if err != nil {
			return Event{}, err
		}
		ev.Row = b
	}
	return ev, nil
}

// Decode unmarshals the row payload into v.
func (e Event) Decode(v any) error {
	if len(e.Row) == 0 {
		return errors.New("feed: event has no row")
	}
	return json.Unmarshal(e.Row, v)
}

func UserTopic(userID string) string { return "user:" + userID }

// Bus publishes events to every live subscription.
type Bus interface {
	Publish(ctx context.Context, ev Event) error
	// Subscribe returns a subscription that lives until ctx ends or the bus closes.
	Subscribe(ctx context.Context) (*Subscription, error)
	Close() error
}

// Subscription is an unbounded stream of events. It cannot be restarted once closed.
type Subscription struct {
	ch     chan Event
	stop   context.CancelFunc
	cancel func()
}

// C yields events in publish order and is closed when the subscription ends.
func (s *Subscription) C() <-chan Event { return s.ch }

// Close ends the subscription.
func (s *Subscription) Close() { s.cancel() }
