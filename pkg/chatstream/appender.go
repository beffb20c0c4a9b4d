// Package chatstream wires a streaming Transport into a Chatlog. The
// Appender reserves a placeholder at the frontier of the active path,
// applies deltas to it in arrival order, and settles the placeholder
// when the stream finishes, fails, or is cancelled.
package chatstream

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/arbor/pkg/chatlog"
	"github.com/go-go-golems/arbor/pkg/events"
	"github.com/go-go-golems/arbor/pkg/transport"
)

// ErrStreamActive is returned by Start while a previous stream on the
// same tree has not settled yet.
var ErrStreamActive = errors.New("a stream is already active on this conversation")

// Appender drives at most one stream at a time against a single
// Chatlog.
type Appender struct {
	log       *chatlog.Chatlog
	transport transport.Transport

	mu     sync.Mutex
	active *Handle
}

func NewAppender(cl *chatlog.Chatlog, t transport.Transport) *Appender {
	return &Appender{
		log:       cl,
		transport: t,
	}
}

// Active returns the handle of the stream currently in flight, or nil.
func (a *Appender) Active() *Handle {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.active != nil && a.active.IsRunning() {
		return a.active
	}
	return nil
}

// Start snapshots the active path, reserves a placeholder message at
// its frontier and streams the completion into it. The placeholder is
// captured once: cycling or editing the tree while the stream runs does
// not redirect the deltas.
//
// On cancellation a placeholder that never received a delta is removed;
// one holding partial output is kept and marked interrupted. Extra
// sinks receive every event after it has been applied to the tree.
func (a *Appender) Start(ctx context.Context, opts *transport.Options, sinks ...events.EventSink) (*Handle, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.active != nil && a.active.IsRunning() {
		return nil, ErrStreamActive
	}

	turns := a.log.ActiveValues()
	if len(turns) == 0 {
		return nil, errors.New("no completed turns to stream from")
	}

	target := a.log.AddMessage(nil)
	targetID := target.ID

	streamCtx, cancel := context.WithCancel(ctx)
	handle := newHandle(targetID, cancel)
	a.active = handle

	applySink := events.SinkFunc(func(e events.Event) error {
		if partial, ok := e.(*events.EventPartialCompletion); ok {
			a.log.AppendContent(targetID, partial.Delta)
		}
		return nil
	})
	allSinks := append([]events.EventSink{applySink}, sinks...)

	log.Debug().Stringer("target_id", targetID).Int("turns", len(turns)).Msg("starting stream")

	go func() {
		defer cancel()

		result, err := a.transport.Complete(streamCtx, turns, opts, allSinks...)
		a.settle(targetID, result, err)

		switch {
		case err == nil:
			handle.setResult(result, nil)
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			handle.setResult(nil, nil)
		default:
			handle.setResult(nil, err)
		}
	}()

	return handle, nil
}

// settle reconciles the placeholder with the stream outcome.
func (a *Appender) settle(targetID chatlog.NodeID, result *transport.Result, err error) {
	phase, ok := a.log.PhaseOf(targetID)
	if !ok {
		log.Debug().Stringer("target_id", targetID).Msg("stream target deleted while in flight")
		return
	}

	if err == nil {
		a.log.UpdateMetadata(targetID, func(md *chatlog.Metadata) {
			md.Model = result.Model
			if result.StopReason != "" {
				reason := result.StopReason
				md.StopReason = &reason
			}
			if result.Usage != nil {
				md.Usage = &chatlog.Usage{
					InputTokens:  result.Usage.InputTokens,
					OutputTokens: result.Usage.OutputTokens,
				}
			}
		})
		return
	}

	if phase == chatlog.PhaseSlot {
		// nothing arrived, drop the reservation
		a.log.DeleteMessage(targetID)
		return
	}

	interrupted := errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
	a.log.UpdateMetadata(targetID, func(md *chatlog.Metadata) {
		md.Interrupted = true
	})
	if !interrupted {
		log.Warn().Err(err).Stringer("target_id", targetID).Msg("stream failed, keeping partial output")
	}
}
