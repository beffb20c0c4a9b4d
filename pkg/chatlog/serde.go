package chatlog

import (
	"encoding/json"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// SetData is the persisted form of an AlternativesSet. The file format
// is this structure nested recursively, rooted at the tree's root set,
// or null for an empty tree.
type SetData struct {
	Messages           []MessageData `json:"messages"`
	ActiveMessageIndex int           `json:"activeMessageIndex"`
}

// MessageData is the persisted form of a Message.
type MessageData struct {
	Value    *Value    `json:"value"`
	Metadata *Metadata `json:"metadata,omitempty"`
	Children *SetData  `json:"children"`
}

// Serialize produces the persisted form of the tree, or nil when the
// tree is empty.
func (cl *Chatlog) Serialize() *SetData {
	cl.mu.RLock()
	defer cl.mu.RUnlock()
	return serializeSet(cl.root)
}

func serializeSet(set *AlternativesSet) *SetData {
	if set == nil {
		return nil
	}
	data := &SetData{
		Messages:           make([]MessageData, 0, set.Len()),
		ActiveMessageIndex: set.Active,
	}
	for _, msg := range set.Messages {
		data.Messages = append(data.Messages, MessageData{
			Value:    msg.Value,
			Metadata: msg.Metadata,
			Children: serializeSet(msg.Children),
		})
	}
	return data
}

// Deserialize reconstructs a tree from its persisted form. Stored
// active indices are preserved, clamped onto a live element. Callers
// that want load-time semantics (dropping interrupted turns) run
// Clean() afterwards; FileStore does this.
func Deserialize(data *SetData) *Chatlog {
	cl := NewChatlog()
	cl.root = buildSet(cl, data, NullNode)
	return cl
}

func buildSet(cl *Chatlog, data *SetData, parent NodeID) *AlternativesSet {
	if data == nil || len(data.Messages) == 0 {
		return nil
	}
	set := cl.newSet(parent)
	for _, md := range data.Messages {
		msg := NewMessage(md.Value, WithMetadata(md.Metadata))
		set.attach(msg)
		msg.Children = buildSet(cl, md.Children, msg.ID)
	}
	if set.Len() == 0 {
		delete(cl.sets, set.ID)
		return nil
	}
	idx := data.ActiveMessageIndex
	if idx < 0 {
		idx = 0
	}
	if idx >= set.Len() {
		idx = set.Len() - 1
	}
	set.Active = idx
	return set
}

// ToJSON serializes the tree to the persisted JSON file format.
func (cl *Chatlog) ToJSON() ([]byte, error) {
	data, err := json.MarshalIndent(cl.Serialize(), "", "  ")
	if err != nil {
		return nil, errors.Wrap(err, "failed to serialize conversation tree")
	}
	return data, nil
}

// FromJSON reconstructs a tree from persisted JSON. Unparseable
// messages and subtrees are skipped or nulled rather than failing the
// whole load; conversation history degrades gracefully.
func FromJSON(b []byte) (*Chatlog, error) {
	var data *SetData
	if err := json.Unmarshal(b, &data); err != nil {
		return nil, errors.Wrap(err, "failed to parse conversation tree")
	}
	return Deserialize(data), nil
}

// Intermediate representations for lenient unmarshaling.
type setDataAlias struct {
	Messages           []json.RawMessage `json:"messages"`
	ActiveMessageIndex int               `json:"activeMessageIndex"`
}

type messageDataAlias struct {
	Value    json.RawMessage `json:"value"`
	Metadata json.RawMessage `json:"metadata"`
	Children json.RawMessage `json:"children"`
}

func (sd *SetData) UnmarshalJSON(b []byte) error {
	var alias setDataAlias
	if err := json.Unmarshal(b, &alias); err != nil {
		return err
	}
	sd.ActiveMessageIndex = alias.ActiveMessageIndex
	sd.Messages = sd.Messages[:0]
	for i, raw := range alias.Messages {
		var md MessageData
		if err := json.Unmarshal(raw, &md); err != nil {
			log.Warn().Err(err).Int("index", i).Msg("skipping unparseable message")
			continue
		}
		sd.Messages = append(sd.Messages, md)
	}
	return nil
}

func (md *MessageData) UnmarshalJSON(b []byte) error {
	var alias messageDataAlias
	if err := json.Unmarshal(b, &alias); err != nil {
		return err
	}
	if len(alias.Value) > 0 {
		if err := json.Unmarshal(alias.Value, &md.Value); err != nil {
			return errors.Wrap(err, "malformed message value")
		}
	}
	if len(alias.Metadata) > 0 {
		if err := json.Unmarshal(alias.Metadata, &md.Metadata); err != nil {
			log.Warn().Err(err).Msg("dropping unparseable message metadata")
			md.Metadata = nil
		}
	}
	if len(alias.Children) > 0 {
		if err := json.Unmarshal(alias.Children, &md.Children); err != nil {
			log.Warn().Err(err).Msg("dropping unparseable children subtree")
			md.Children = nil
		}
	}
	return nil
}
