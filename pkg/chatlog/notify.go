package chatlog

import (
	"reflect"
	"sync"
)

// ChangeListener is notified after every completed tree mutation, with
// the mutated Chatlog as argument. Listeners must not assume anything
// about which mutation fired; they re-read the state they care about.
type ChangeListener interface {
	ConversationChanged(cl *Chatlog)
}

// ChangeListenerFunc adapts a plain function to the ChangeListener
// interface.
type ChangeListenerFunc func(cl *Chatlog)

func (f ChangeListenerFunc) ConversationChanged(cl *Chatlog) {
	f(cl)
}

// ChangeNotifier fans a change notification out to its listeners in
// registration order. The zero value is ready to use.
type ChangeNotifier struct {
	mu        sync.Mutex
	listeners []ChangeListener
}

func (n *ChangeNotifier) Subscribe(listener ChangeListener) {
	if listener == nil {
		return
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	n.listeners = append(n.listeners, listener)
}

// Unsubscribe removes a previously registered listener by reference.
// Unknown listeners are ignored. Listeners registered through
// ChangeListenerFunc are not comparable and cannot be removed this way;
// register a pointer type when unsubscribing matters.
func (n *ChangeNotifier) Unsubscribe(listener ChangeListener) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for i, l := range n.listeners {
		if !reflect.TypeOf(l).Comparable() {
			continue
		}
		if l == listener {
			n.listeners = append(n.listeners[:i], n.listeners[i+1:]...)
			return
		}
	}
}

func (n *ChangeNotifier) Notify(cl *Chatlog) {
	n.mu.Lock()
	listeners := make([]ChangeListener, len(n.listeners))
	copy(listeners, n.listeners)
	n.mu.Unlock()

	for _, l := range listeners {
		l.ConversationChanged(cl)
	}
}
