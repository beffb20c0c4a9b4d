// Package chatlog implements the branching conversation structure used
// by the chat client.
//
// A Chatlog is a tree of messages: every message owns at most one
// AlternativesSet holding its sibling continuations, and each set keeps
// exactly one member active. Following the active member from the root
// downwards yields the active path, the single linear conversation that
// is rendered and sent to the model.
//
// Messages and sets are additionally indexed in an arena keyed by
// NodeID, with each message recording its owning set and each set its
// parent message, so structural operations address their targets in
// O(1) instead of searching the tree.
//
// All mutating operations notify the registered change listeners on
// completion. Mutations addressing a message or position that is not
// reachable from the root are local no-ops: no mutation, no
// notification.
package chatlog

import (
	"sync"

	"github.com/rs/zerolog/log"
)

// CycleDirection selects which way CycleAlternatives moves the cursor.
type CycleDirection int

const (
	CycleNext CycleDirection = iota
	CyclePrev
)

type Chatlog struct {
	mu sync.RWMutex

	root  *AlternativesSet
	nodes map[NodeID]*Message
	sets  map[NodeID]*AlternativesSet

	notifier ChangeNotifier
}

func NewChatlog() *Chatlog {
	return &Chatlog{
		nodes: make(map[NodeID]*Message),
		sets:  make(map[NodeID]*AlternativesSet),
	}
}

// Root returns the root AlternativesSet, or nil for an empty tree.
func (cl *Chatlog) Root() *AlternativesSet {
	cl.mu.RLock()
	defer cl.mu.RUnlock()
	return cl.root
}

// Get returns the message with the given ID if it is part of this tree.
func (cl *Chatlog) Get(id NodeID) (*Message, bool) {
	cl.mu.RLock()
	defer cl.mu.RUnlock()
	msg, ok := cl.nodes[id]
	return msg, ok
}

// PhaseOf returns the lifecycle phase of the addressed message under
// the tree lock, so concurrent mutators cannot race the read.
func (cl *Chatlog) PhaseOf(id NodeID) (Phase, bool) {
	cl.mu.RLock()
	defer cl.mu.RUnlock()
	msg, ok := cl.nodes[id]
	if !ok {
		return PhaseSlot, false
	}
	return msg.Phase(), true
}

// Len returns the number of messages reachable from the root.
func (cl *Chatlog) Len() int {
	cl.mu.RLock()
	defer cl.mu.RUnlock()
	return len(cl.nodes)
}

// --- traversal ---

// FirstMessage returns the first message of the active path.
func (cl *Chatlog) FirstMessage() *Message {
	cl.mu.RLock()
	defer cl.mu.RUnlock()
	if cl.root == nil {
		return nil
	}
	return cl.root.GetActive()
}

// LastMessage returns the last message of the active path.
func (cl *Chatlog) LastMessage() *Message {
	cl.mu.RLock()
	defer cl.mu.RUnlock()
	path := cl.activePathLocked()
	if len(path) == 0 {
		return nil
	}
	return path[len(path)-1]
}

// ActivePath returns the active path, root to frontier. A slot message
// terminates the path and is included as its last element.
func (cl *Chatlog) ActivePath() []*Message {
	cl.mu.RLock()
	defer cl.mu.RUnlock()
	return cl.activePathLocked()
}

// ActiveValues returns the ordered turn values of the active path,
// stopping before the first unfilled or still-pending message. This is
// exactly the sequence handed to a Transport.
func (cl *Chatlog) ActiveValues() []Value {
	cl.mu.RLock()
	defer cl.mu.RUnlock()

	var values []Value
	for _, msg := range cl.activePathLocked() {
		if msg.Value == nil || msg.Value.Content == nil {
			break
		}
		values = append(values, *msg.Value)
	}
	return values
}

// NthAlternatives walks from the root, descending through the active
// message's children exactly n times. If the path terminates earlier,
// the deepest reachable set is returned.
func (cl *Chatlog) NthAlternatives(n int) *AlternativesSet {
	cl.mu.RLock()
	defer cl.mu.RUnlock()
	return cl.nthAlternativesLocked(n)
}

// NthMessage returns the active message of the nth set on the active
// path.
func (cl *Chatlog) NthMessage(n int) *Message {
	cl.mu.RLock()
	defer cl.mu.RUnlock()
	set := cl.nthAlternativesLocked(n)
	if set == nil {
		return nil
	}
	return set.GetActive()
}

// PositionOf returns the 0-based position of the message on the active
// path. ok is false when the message is not the active member of any
// set on the path; position 0 with ok true always means the genuine
// first message.
func (cl *Chatlog) PositionOf(id NodeID) (int, bool) {
	cl.mu.RLock()
	defer cl.mu.RUnlock()
	for i, msg := range cl.activePathLocked() {
		if msg.ID == id {
			return i, true
		}
	}
	return 0, false
}

func (cl *Chatlog) activePathLocked() []*Message {
	if cl.root == nil {
		return nil
	}
	var path []*Message
	msg := cl.root.GetActive()
	for msg != nil {
		path = append(path, msg)
		if msg.Value == nil {
			break
		}
		msg = msg.Continuation()
	}
	return path
}

func (cl *Chatlog) nthAlternativesLocked(n int) *AlternativesSet {
	if cl.root == nil {
		return nil
	}
	set := cl.root
	for i := 0; i < n; i++ {
		active := set.GetActive()
		if active == nil || active.Children == nil || active.Children.Len() == 0 {
			break
		}
		set = active.Children
	}
	return set
}

// --- mutation ---

// AddMessage grows the active path by one hop: it creates the root set
// for an empty tree, fills the frontier slot if one is waiting, or
// opens a new AlternativesSet below the last message.
func (cl *Chatlog) AddMessage(value *Value, options ...MessageOption) *Message {
	cl.mu.Lock()
	msg := cl.addMessageLocked(value, options...)
	cl.mu.Unlock()

	cl.notifier.Notify(cl)
	return msg
}

func (cl *Chatlog) addMessageLocked(value *Value, options ...MessageOption) *Message {
	if cl.root == nil {
		cl.root = cl.newSet(NullNode)
	}

	path := cl.activePathLocked()
	if len(path) == 0 {
		return cl.root.AddMessage(value, options...)
	}

	last := path[len(path)-1]
	if last.Phase() == PhaseSlot {
		owner := cl.sets[last.owner]
		return owner.AddMessage(value, options...)
	}

	if last.Children == nil {
		last.Children = cl.newSet(last.ID)
	}
	return last.Children.AddMessage(value, options...)
}

// AddAlternative adds a sibling continuation next to an existing
// message and makes it active. Returns nil when the message is not part
// of this tree.
func (cl *Chatlog) AddAlternative(id NodeID, value *Value, options ...MessageOption) *Message {
	cl.mu.Lock()
	msg, ok := cl.nodes[id]
	if !ok {
		cl.mu.Unlock()
		return nil
	}
	set := cl.sets[msg.owner]
	ret := set.AddMessage(value, options...)
	cl.mu.Unlock()

	cl.notifier.Notify(cl)
	return ret
}

// AppendContent appends a streamed delta to the addressed message.
func (cl *Chatlog) AppendContent(id NodeID, delta string) bool {
	cl.mu.Lock()
	msg, ok := cl.nodes[id]
	if !ok {
		cl.mu.Unlock()
		return false
	}
	msg.AppendContent(delta)
	cl.mu.Unlock()

	cl.notifier.Notify(cl)
	return true
}

// SetContent replaces the addressed message's content; used for edits.
func (cl *Chatlog) SetContent(id NodeID, content string) bool {
	cl.mu.Lock()
	msg, ok := cl.nodes[id]
	if !ok {
		cl.mu.Unlock()
		return false
	}
	msg.SetContent(content)
	cl.mu.Unlock()

	cl.notifier.Notify(cl)
	return true
}

// UpdateMetadata applies fn to the addressed message's metadata,
// allocating it first if needed.
func (cl *Chatlog) UpdateMetadata(id NodeID, fn func(*Metadata)) bool {
	cl.mu.Lock()
	msg, ok := cl.nodes[id]
	if !ok {
		cl.mu.Unlock()
		return false
	}
	if msg.Metadata == nil {
		msg.Metadata = &Metadata{}
	}
	fn(msg.Metadata)
	msg.ClearCache()
	cl.mu.Unlock()

	cl.notifier.Notify(cl)
	return true
}

// DeleteMessage removes the message from its owning set and drops its
// entire subtree. A set emptied by the removal is detached from its
// owning message (or the tree root).
func (cl *Chatlog) DeleteMessage(id NodeID) bool {
	cl.mu.Lock()
	ok := cl.deleteMessageLocked(id)
	cl.mu.Unlock()

	if ok {
		cl.notifier.Notify(cl)
	}
	return ok
}

func (cl *Chatlog) deleteMessageLocked(id NodeID) bool {
	msg, ok := cl.nodes[id]
	if !ok {
		return false
	}
	set, ok := cl.sets[msg.owner]
	if !ok {
		return false
	}

	set.removeAt(set.indexOf(id))
	if set.Len() == 0 {
		cl.detachSetLocked(set)
	}
	return true
}

// detachSetLocked nulls the owning message's children pointer (or the
// tree root), dropping the empty set.
func (cl *Chatlog) detachSetLocked(set *AlternativesSet) {
	delete(cl.sets, set.ID)
	if set.parent == NullNode {
		cl.root = nil
		return
	}
	if parent, ok := cl.nodes[set.parent]; ok {
		parent.Children = nil
	}
}

// DeleteNth removes the message at the given position on the active
// path while keeping its descendants: the deleted message's children
// set is re-attached under the message at pos-1, or becomes the new
// root at pos 0. Sibling alternatives at the removed branch point are
// dropped with it. Out-of-range positions are a no-op.
func (cl *Chatlog) DeleteNth(pos int) bool {
	cl.mu.Lock()
	path := cl.activePathLocked()
	if pos < 0 || pos >= len(path) {
		cl.mu.Unlock()
		return false
	}

	deleted := path[pos]
	oldSet := cl.sets[deleted.owner]
	children := deleted.Children
	deleted.Children = nil

	for _, sibling := range oldSet.Messages {
		cl.unregisterSubtree(sibling)
	}
	delete(cl.sets, oldSet.ID)

	if pos == 0 {
		cl.root = children
		if children != nil {
			children.parent = NullNode
		}
	} else {
		prev := path[pos-1]
		prev.Children = children
		if children != nil {
			children.parent = prev.ID
		}
	}

	log.Trace().
		Str("deleted_id", deleted.ID.String()).
		Int("position", pos).
		Bool("relinked", children != nil).
		Msg("relinked conversation turn out of active path")
	cl.mu.Unlock()

	cl.notifier.Notify(cl)
	return true
}

// CycleAlternatives moves the active cursor of the set owning the given
// message and returns the new active message. Cycling away from an
// unfilled slot removes the slot first; a set emptied that way is
// detached.
func (cl *Chatlog) CycleAlternatives(id NodeID, direction CycleDirection) *Message {
	cl.mu.Lock()
	msg, ok := cl.nodes[id]
	if !ok {
		cl.mu.Unlock()
		return nil
	}
	set := cl.sets[msg.owner]

	var ret *Message
	if direction == CyclePrev {
		ret = set.Prev()
	} else {
		ret = set.Next()
	}
	if set.Len() == 0 {
		cl.detachSetLocked(set)
	}
	cl.mu.Unlock()

	cl.notifier.Notify(cl)
	return ret
}

// Clean removes every unfilled or still-pending message from the tree.
// Used after bulk load to purge interrupted turns. Returns the number
// of messages removed.
func (cl *Chatlog) Clean() int {
	cl.mu.Lock()

	// explicit stack, the path depth is unbounded
	var incomplete []NodeID
	var stack []*Message
	if cl.root != nil {
		stack = append(stack, cl.root.Messages...)
	}
	for len(stack) > 0 {
		msg := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if msg.Phase() != PhaseFilled {
			incomplete = append(incomplete, msg.ID)
		}
		if msg.Children != nil {
			stack = append(stack, msg.Children.Messages...)
		}
	}

	removed := 0
	for _, id := range incomplete {
		// earlier deletions may have dropped this subtree already
		if cl.deleteMessageLocked(id) {
			removed++
		}
	}
	cl.mu.Unlock()

	if removed > 0 {
		log.Debug().Int("removed", removed).Msg("purged incomplete conversation turns")
		cl.notifier.Notify(cl)
	}
	return removed
}

// --- change notification ---

func (cl *Chatlog) Subscribe(listener ChangeListener) {
	cl.notifier.Subscribe(listener)
}

func (cl *Chatlog) Unsubscribe(listener ChangeListener) {
	cl.notifier.Unsubscribe(listener)
}

// Notify forces a change notification, for consumers that patched
// message state out of band.
func (cl *Chatlog) Notify() {
	cl.notifier.Notify(cl)
}

// --- arena bookkeeping ---

func (cl *Chatlog) newSet(parent NodeID) *AlternativesSet {
	set := &AlternativesSet{
		ID:     NewNodeID(),
		Active: NoActive,
		parent: parent,
		log:    cl,
	}
	cl.sets[set.ID] = set
	return set
}

func (cl *Chatlog) register(msg *Message) {
	cl.nodes[msg.ID] = msg
	if msg.Children != nil {
		cl.registerSet(msg.Children, msg.ID)
	}
}

func (cl *Chatlog) registerSet(set *AlternativesSet, parent NodeID) {
	set.log = cl
	set.parent = parent
	if set.ID == NullNode {
		set.ID = NewNodeID()
	}
	cl.sets[set.ID] = set
	for _, msg := range set.Messages {
		msg.owner = set.ID
		cl.register(msg)
	}
}

func (cl *Chatlog) unregisterSubtree(msg *Message) {
	stack := []*Message{msg}
	for len(stack) > 0 {
		m := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		delete(cl.nodes, m.ID)
		if m.Children != nil {
			delete(cl.sets, m.Children.ID)
			stack = append(stack, m.Children.Messages...)
		}
	}
}
