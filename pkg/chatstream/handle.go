package chatstream

import (
	"context"
	"errors"
	"sync"

	"github.com/go-go-golems/arbor/pkg/chatlog"
	"github.com/go-go-golems/arbor/pkg/transport"
)

var ErrHandleNil = errors.New("stream handle is nil")

// Handle represents a single in-flight streaming completion.
//
// It is cancelable and waitable. The underlying request is always driven
// by context cancellation.
type Handle struct {
	// TargetID is the placeholder message receiving the stream.
	TargetID chatlog.NodeID

	done chan struct{}

	mu     sync.Mutex
	cancel context.CancelFunc
	result *transport.Result
	err    error
}

func newHandle(targetID chatlog.NodeID, cancel context.CancelFunc) *Handle {
	return &Handle{
		TargetID: targetID,
		done:     make(chan struct{}),
		cancel:   cancel,
	}
}

func (h *Handle) setResult(result *transport.Result, err error) {
	h.mu.Lock()
	h.result = result
	h.err = err
	close(h.done)
	h.cancel = nil
	h.mu.Unlock()
}

// Cancel cancels the in-flight request. It is safe to call multiple times.
func (h *Handle) Cancel() {
	if h == nil {
		return
	}
	h.mu.Lock()
	cancel := h.cancel
	h.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Wait blocks until the stream settles and returns the provider result.
// A cancelled stream returns a nil result and a nil error; the tree
// already reflects whether partial output was kept.
func (h *Handle) Wait() (*transport.Result, error) {
	if h == nil {
		return nil, ErrHandleNil
	}
	<-h.done
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.result, h.err
}

// Done returns a channel closed when the stream settles.
func (h *Handle) Done() <-chan struct{} {
	if h == nil {
		closed := make(chan struct{})
		close(closed)
		return closed
	}
	return h.done
}

// IsRunning reports whether the stream appears to still be running.
func (h *Handle) IsRunning() bool {
	if h == nil {
		return false
	}
	select {
	case <-h.done:
		return false
	default:
		return true
	}
}
