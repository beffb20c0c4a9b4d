package chatlog

// NoActive is the Active index sentinel of an empty AlternativesSet.
const NoActive = -1

// AlternativesSet is the ordered collection of sibling continuations at
// one branch point. Order is creation order, not preference order;
// exactly one member is active unless the set is empty.
type AlternativesSet struct {
	ID       NodeID
	Messages []*Message
	// Active indexes Messages, or NoActive when the set is empty.
	Active int

	// parent is the ID of the owning message, NullNode for the root set.
	parent NodeID
	log    *Chatlog
}

// Parent returns the ID of the message owning this set, or NullNode for
// the root set.
func (s *AlternativesSet) Parent() NodeID {
	return s.parent
}

func (s *AlternativesSet) Len() int {
	return len(s.Messages)
}

// GetActive returns the active message, or nil when the set is empty.
func (s *AlternativesSet) GetActive() *Message {
	if s == nil || s.Active < 0 || s.Active >= len(s.Messages) {
		return nil
	}
	return s.Messages[s.Active]
}

// AddMessage fills the active message in place when it is an unfilled
// slot, so that reused slots do not leave orphan placeholders behind.
// Otherwise it appends a new message and makes it active. Returns the
// filled or appended message.
func (s *AlternativesSet) AddMessage(value *Value, options ...MessageOption) *Message {
	if active := s.GetActive(); active != nil && active.Phase() == PhaseSlot {
		active.Value = value
		for _, option := range options {
			option(active)
		}
		active.ClearCache()
		return active
	}

	msg := NewMessage(value, options...)
	s.attach(msg)
	return msg
}

// attach appends an already-constructed message, registers it with the
// arena and makes it active.
func (s *AlternativesSet) attach(msg *Message) {
	msg.owner = s.ID
	s.Messages = append(s.Messages, msg)
	s.Active = len(s.Messages) - 1
	if s.log != nil {
		s.log.register(msg)
	}
	// set size changed, sibling artifacts are stale
	s.ClearCache()
}

// Next advances the active index, wrapping around. Prev retreats. An
// unfilled slot under the cursor is speculative and unused: it is
// removed before cycling, so a set with one real message and one slot
// settles on the real message instead of looping onto the slot.
func (s *AlternativesSet) Next() *Message {
	return s.cycle(1)
}

func (s *AlternativesSet) Prev() *Message {
	return s.cycle(-1)
}

func (s *AlternativesSet) cycle(step int) *Message {
	if s.Active < 0 {
		return nil
	}
	if s.Messages[s.Active].Phase() == PhaseSlot {
		s.removeAt(s.Active)
	}
	n := len(s.Messages)
	if n == 0 {
		return nil
	}
	s.Active = ((s.Active+step)%n + n) % n
	s.ClearCache()
	return s.Messages[s.Active]
}

// ClearCache clears the render cache of every message in the set. Used
// when position-dependent render state changed, or when a global
// re-render is forced after bulk load.
func (s *AlternativesSet) ClearCache() {
	for _, msg := range s.Messages {
		msg.ClearCache()
	}
}

func (s *AlternativesSet) indexOf(id NodeID) int {
	for i, msg := range s.Messages {
		if msg.ID == id {
			return i
		}
	}
	return -1
}

// removeAt splices out the message at index i, unregisters its subtree
// from the arena and re-clamps the active index.
func (s *AlternativesSet) removeAt(i int) {
	if i < 0 || i >= len(s.Messages) {
		return
	}
	msg := s.Messages[i]
	if s.log != nil {
		s.log.unregisterSubtree(msg)
	}
	msg.owner = NullNode
	s.Messages = append(s.Messages[:i], s.Messages[i+1:]...)

	switch {
	case len(s.Messages) == 0:
		s.Active = NoActive
	case i < s.Active:
		s.Active--
	case s.Active >= len(s.Messages):
		s.Active = len(s.Messages) - 1
	}
	s.ClearCache()
}
