package identity

import "sync"

// AuthEventType distinguishes sign-in from sign-out notifications.
type AuthEventType string

const (
	AuthSignedIn  AuthEventType = "signed_in"
	AuthSignedOut AuthEventType = "signed_out"
)

// AuthEvent is delivered to subscribers when an owner's authentication state
// changes.
type AuthEvent struct {
	Type    AuthEventType
	OwnerID string
}

// Watcher fans auth state changes out to subscribers. Subscriber channels
// are buffered; a subscriber that falls behind loses events rather than
// blocking the publisher.
type Watcher struct {
	mu   sync.RWMutex
	subs []chan AuthEvent
}

// NewWatcher creates a new auth event watcher.
func NewWatcher() *Watcher {
	return &Watcher{}
}

// Subscribe registers a new listener for auth events.
func (w *Watcher) Subscribe() <-chan AuthEvent {
	ch := make(chan AuthEvent, 16)
	w.mu.Lock()
	defer w.mu.Unlock()
	w.subs = append(w.subs, ch)
	return ch
}

// SignedIn publishes a sign-in event for the owner.
func (w *Watcher) SignedIn(ownerID string) {
	w.publish(AuthEvent{Type: AuthSignedIn, OwnerID: ownerID})
}

// SignedOut publishes a sign-out event for the owner.
func (w *Watcher) SignedOut(ownerID string) {
	w.publish(AuthEvent{Type: AuthSignedOut, OwnerID: ownerID})
}

func (w *Watcher) publish(event AuthEvent) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	for _, ch := range w.subs {
		select {
		case ch <- event:
		default:
		}
	}
}
