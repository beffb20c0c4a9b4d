package chatlog

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type NodeID uuid.UUID

func (id NodeID) MarshalJSON() ([]byte, error) {
	return json.Marshal(uuid.UUID(id))
}

func (id *NodeID) UnmarshalJSON(data []byte) error {
	var u uuid.UUID
	if err := json.Unmarshal(data, &u); err != nil {
		return err
	}
	*id = NodeID(u)
	return nil
}

func (id NodeID) String() string {
	return uuid.UUID(id).String()
}

func NewNodeID() NodeID {
	return NodeID(uuid.New())
}

var NullNode = NodeID(uuid.Nil)

type Role string

const (
	RoleSystem    Role = "system"
	RoleAssistant Role = "assistant"
	RoleUser      Role = "user"
	RoleTool      Role = "tool"
)

// Value is a single conversational turn. Content is nil while a
// generation is in flight; such a message is always the last message on
// the active path.
type Value struct {
	Role    Role    `json:"role"`
	Content *string `json:"content"`
}

func NewValue(role Role, content string) *Value {
	return &Value{Role: role, Content: &content}
}

// PendingValue returns a turn whose content is still being generated.
func PendingValue(role Role) *Value {
	return &Value{Role: role}
}

func (v *Value) Text() string {
	if v == nil || v.Content == nil {
		return ""
	}
	return *v.Content
}

// Source is a citation attached to a generated turn.
type Source struct {
	Title string `json:"title,omitempty"`
	URL   string `json:"url"`
}

// Metadata is the side channel recorded next to a turn: which model
// produced it, with which sampling parameters, and what the provider
// reported back.
type Metadata struct {
	Model       string   `json:"model,omitempty"`
	Temperature *float64 `json:"temperature,omitempty"`
	TopP        *float64 `json:"top_p,omitempty"`
	MaxTokens   *int     `json:"max_tokens,omitempty"`
	StopReason  *string  `json:"stop_reason,omitempty"`
	Usage       *Usage   `json:"usage,omitempty"`
	Interrupted bool     `json:"interrupted,omitempty"`
	Sources     []Source `json:"sources,omitempty"`
}

type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Phase is the lifecycle tag of a message. It replaces the overloaded
// "value is null" / "content is null" sentinels of the persisted format
// at call sites; the serialized encoding is unchanged.
type Phase int

const (
	// PhaseSlot is a reserved-but-unfilled turn: either awaiting
	// generation or a freshly inserted editable slot.
	PhaseSlot Phase = iota
	// PhasePending has a role but its content is still streaming in.
	PhasePending
	PhaseFilled
)

func (p Phase) String() string {
	switch p {
	case PhaseSlot:
		return "slot"
	case PhasePending:
		return "pending"
	case PhaseFilled:
		return "filled"
	}
	return fmt.Sprintf("phase(%d)", int(p))
}

// Message is a single node in the conversation tree. It owns at most
// one AlternativesSet of continuations and an opaque render cache that
// is cleared, never recomputed, on every mutation.
type Message struct {
	ID         NodeID
	Time       time.Time
	LastUpdate time.Time

	Value    *Value
	Metadata *Metadata
	Children *AlternativesSet

	// owner is the ID of the AlternativesSet this message belongs to,
	// maintained by the Chatlog arena.
	owner NodeID

	cache interface{}
}

type MessageOption func(*Message)

func WithMetadata(metadata *Metadata) MessageOption {
	return func(m *Message) {
		m.Metadata = metadata
	}
}

func WithID(id NodeID) MessageOption {
	return func(m *Message) {
		m.ID = id
	}
}

func WithTime(t time.Time) MessageOption {
	return func(m *Message) {
		m.Time = t
	}
}

func NewMessage(value *Value, options ...MessageOption) *Message {
	ret := &Message{
		ID:         NewNodeID(),
		Time:       time.Now(),
		LastUpdate: time.Now(),
		Value:      value,
	}

	for _, option := range options {
		option(ret)
	}

	return ret
}

func (m *Message) Phase() Phase {
	switch {
	case m.Value == nil:
		return PhaseSlot
	case m.Value.Content == nil:
		return PhasePending
	default:
		return PhaseFilled
	}
}

// Owner returns the ID of the AlternativesSet this message belongs to,
// or NullNode if the message is not attached to a tree.
func (m *Message) Owner() NodeID {
	return m.owner
}

// AppendContent appends a streamed delta to the message content. A slot
// message is initialized as an assistant turn; a pending message
// receives its first content. Each call clears the render cache.
func (m *Message) AppendContent(delta string) {
	switch m.Phase() {
	case PhaseSlot:
		m.Value = NewValue(RoleAssistant, delta)
	case PhasePending:
		m.Value.Content = &delta
	case PhaseFilled:
		s := *m.Value.Content + delta
		m.Value.Content = &s
	}
	m.LastUpdate = time.Now()
	m.cache = nil
}

// SetContent replaces the content wholesale; used for user edits.
func (m *Message) SetContent(content string) {
	if m.Value == nil {
		m.Value = NewValue(RoleAssistant, content)
	} else {
		m.Value.Content = &content
	}
	m.LastUpdate = time.Now()
	m.cache = nil
}

// Continuation returns the active continuation of this message, or nil
// when it has none. This is the single read operation used to walk the
// tree forward.
func (m *Message) Continuation() *Message {
	if m.Children == nil {
		return nil
	}
	return m.Children.GetActive()
}

// Cache returns the memoized render artifact, or nil.
func (m *Message) Cache() interface{} {
	return m.cache
}

// SetCache stores a render artifact. Slot messages never carry a cache.
func (m *Message) SetCache(artifact interface{}) {
	if m.Phase() == PhaseSlot {
		return
	}
	m.cache = artifact
}

func (m *Message) ClearCache() {
	m.cache = nil
}
