// Package transport abstracts chat-completion providers behind a
// narrow streaming interface. Implementations publish typed events to
// the sinks they are given while the request is in flight and return
// the final result once the provider is done.
package transport

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/arbor/pkg/chatlog"
	"github.com/go-go-golems/arbor/pkg/events"
)

// Options are the generation parameters forwarded to the provider.
// Nil fields are left to the provider's defaults.
type Options struct {
	Model       string
	Temperature *float64
	TopP        *float64
	MaxTokens   *int
	Stop        []string
}

// Result is the outcome of a completed (not cancelled) request.
type Result struct {
	Text       string
	Model      string
	Usage      *events.Usage
	StopReason string
}

// Transport streams a chat completion for the given turns. Deltas and
// lifecycle events are published to the sinks in arrival order before
// Complete returns. On cancellation Complete publishes an interrupt
// event and returns the context's error.
type Transport interface {
	Complete(ctx context.Context, turns []chatlog.Value, opts *Options, sinks ...events.EventSink) (*Result, error)
}

func publishEvent(e events.Event, sinks []events.EventSink) {
	for _, sink := range sinks {
		if err := sink.PublishEvent(e); err != nil {
			log.Warn().Err(err).Str("event_type", string(e.Type())).Msg("failed to publish event to sink")
		}
	}
}

func inferenceData(opts *Options) events.LLMInferenceData {
	if opts == nil {
		return events.LLMInferenceData{}
	}
	return events.LLMInferenceData{
		Model:       opts.Model,
		Temperature: opts.Temperature,
		TopP:        opts.TopP,
		MaxTokens:   opts.MaxTokens,
	}
}
