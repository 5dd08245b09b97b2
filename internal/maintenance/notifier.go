package maintenance

import (
	"sync"
	"time"
)

// NotificationType identifies the maintenance event kind.
type NotificationType int

const (
	SplitApplied NotificationType = iota
	MergeApplied
)

// String returns the event kind name used in filters and logs.
func (t NotificationType) String() string {
	switch t {
	case SplitApplied:
		return "split"
	case MergeApplied:
		return "merge"
	default:
		return "unknown"
	}
}

// Notification announces one published boundary list change.
type Notification struct {
	Type       NotificationType
	Boundary   int64
	NewVersion uint64
	Timestamp  int64
}

// Notifier is an in-process pub/sub bus for boundary version changes.
// Routing layers and caches subscribe to learn that their view of the
// boundary list is stale without polling the store.
type Notifier struct {
	subscribers sync.Map
	bufferSize  int
}

// NewNotifier creates a notifier whose subscriber channels buffer up to
// bufferSize notifications.
func NewNotifier(bufferSize int) *Notifier {
	return &Notifier{bufferSize: bufferSize}
}

// Publish sends a notification to all matching subscribers.
// Non-blocking: if a subscriber's channel is full, the notification is
// dropped. Dropped notifications are safe because subscribers resync
// from the store's current version, not from the event itself.
func (n *Notifier) Publish(notif Notification) {
	n.subscribers.Range(func(key, value interface{}) bool {
		sub := value.(*Subscriber)
		if sub.matches(notif.Type) {
			select {
			case sub.Ch <- notif:
			default:
			}
		}
		return true
	})
}

// Subscribe adds a subscriber. An empty filter set receives every
// notification; otherwise only the named event kinds are delivered.
func (n *Notifier) Subscribe(id string, filters ...NotificationType) *Subscriber {
	sub := &Subscriber{
		ID:      id,
		Filters: filters,
		Ch:      make(chan Notification, n.bufferSize),
	}
	n.subscribers.Store(sub.ID, sub)
	return sub
}

// Unsubscribe removes a subscriber and closes its channel.
func (n *Notifier) Unsubscribe(subID string) {
	if value, ok := n.subscribers.LoadAndDelete(subID); ok {
		close(value.(*Subscriber).Ch)
	}
}

// Subscriber receives maintenance notifications on Ch until
// unsubscribed.
type Subscriber struct {
	ID      string
	Filters []NotificationType
	Ch      chan Notification
}

// matches checks the subscriber's event kind filter.
func (s *Subscriber) matches(t NotificationType) bool {
	if len(s.Filters) == 0 {
		return true
	}
	for _, f := range s.Filters {
		if f == t {
			return true
		}
	}
	return false
}

// now is the notification timestamp source.
func now() int64 {
	return time.Now().UnixNano()
}
