// Package render turns conversation messages into display artifacts and
// maintains the per-message render cache. Renderers never look at the
// cache themselves; EnsureCache drives them and only fills caches that a
// mutation has cleared.
package render

import (
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/arbor/pkg/chatlog"
)

// Renderer produces a display artifact for one message. position is the
// message's index on the active path; activeIndex and setSize describe
// its AlternativesSet so alternatives can be indicated inline.
type Renderer interface {
	Render(msg *chatlog.Message, position int, activeIndex int, setSize int) (interface{}, error)
}

// RendererFunc adapts a plain function to the Renderer interface.
type RendererFunc func(msg *chatlog.Message, position int, activeIndex int, setSize int) (interface{}, error)

func (f RendererFunc) Render(msg *chatlog.Message, position int, activeIndex int, setSize int) (interface{}, error) {
	return f(msg, position, activeIndex, setSize)
}

// EnsureCache walks the active path and renders every message whose
// cache was cleared by a mutation. Messages with a live cache are left
// untouched, so repeated calls after local edits only re-render the
// affected turns.
func EnsureCache(cl *chatlog.Chatlog, r Renderer) error {
	for i, msg := range cl.ActivePath() {
		if msg.Cache() != nil {
			continue
		}
		if msg.Phase() == chatlog.PhaseSlot {
			continue
		}

		set := cl.NthAlternatives(i)
		activeIndex, setSize := 0, 1
		if set != nil {
			activeIndex, setSize = set.Active, set.Len()
		}

		artifact, err := r.Render(msg, i, activeIndex, setSize)
		if err != nil {
			return err
		}
		msg.SetCache(artifact)
		log.Trace().Stringer("id", msg.ID).Int("position", i).Msg("rendered message")
	}
	return nil
}

// ActiveArtifacts returns the cached artifacts of the active path in
// order, rendering missing ones first.
func ActiveArtifacts(cl *chatlog.Chatlog, r Renderer) ([]interface{}, error) {
	if err := EnsureCache(cl, r); err != nil {
		return nil, err
	}

	var artifacts []interface{}
	for _, msg := range cl.ActivePath() {
		if cache := msg.Cache(); cache != nil {
			artifacts = append(artifacts, cache)
		}
	}
	return artifacts, nil
}
