package engine

import (
	"log/slog"
	"slices"
	"sync"
)

// Change describes one committed mutation, or one committed batch.
type Change struct {
	Database    string
	DocumentIDs []string
}

// ChangeListener receives changes on the goroutine that committed them.
// It must not block. A panicking listener is logged and skipped.
type ChangeListener func(Change)

// ListenerToken identifies a registered listener.
type ListenerToken uint64

// Notifier is the listener registry shared by the bundled engines.
type Notifier struct {
	mu        sync.RWMutex
	database  string
	next      ListenerToken
	listeners map[ListenerToken]ChangeListener
}

// NewNotifier returns an empty registry for the named database.
func NewNotifier(database string) *Notifier {
	return &Notifier{
		database:  database,
		listeners: make(map[ListenerToken]ChangeListener),
	}
}

func (n *Notifier) Add(l ChangeListener) ListenerToken {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.next++
	n.listeners[n.next] = l
	return n.next
}

func (n *Notifier) Remove(tok ListenerToken) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.listeners, tok)
}

// Len returns the number of registered listeners.
func (n *Notifier) Len() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return len(n.listeners)
}

// Notify fires every listener in registration order. Empty id sets are
// dropped. The mutation is already committed, so a listener panic is
// recovered and never reaches the caller.
func (n *Notifier) Notify(ids ...string) {
	if len(ids) == 0 {
		return
	}

	n.mu.RLock()
	tokens := make([]ListenerToken, 0, len(n.listeners))
	for tok := range n.listeners {
		tokens = append(tokens, tok)
	}
	slices.Sort(tokens)
	fns := make([]ChangeListener, 0, len(tokens))
	for _, tok := range tokens {
		fns = append(fns, n.listeners[tok])
	}
	n.mu.RUnlock()

	change := Change{Database: n.database, DocumentIDs: slices.Clone(ids)}
	for _, fn := range fns {
		n.fire(fn, change)
	}
}

func (n *Notifier) fire(fn ChangeListener, change Change) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("change listener panicked", "database", n.database, "panic", r)
		}
	}()
	fn(change)
}
