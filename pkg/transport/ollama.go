package transport

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jmorganca/ollama/api"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/arbor/pkg/chatlog"
	"github.com/go-go-golems/arbor/pkg/events"
)

// OllamaTransport talks to a local ollama server. The client reads
// OLLAMA_HOST from the environment when no explicit client is given.
type OllamaTransport struct {
	client *api.Client
}

func NewOllamaTransport() (*OllamaTransport, error) {
	client, err := api.ClientFromEnvironment()
	if err != nil {
		return nil, errors.Wrap(err, "failed to create ollama client")
	}
	return &OllamaTransport{client: client}, nil
}

var _ Transport = (*OllamaTransport)(nil)

func (t *OllamaTransport) Complete(
	ctx context.Context,
	turns []chatlog.Value,
	opts *Options,
	sinks ...events.EventSink,
) (*Result, error) {
	req, err := makeOllamaRequest(turns, opts)
	if err != nil {
		return nil, err
	}

	metadata := events.EventMetadata{
		LLMInferenceData: inferenceData(opts),
		ID:               uuid.New(),
	}
	metadata.Model = req.Model

	log.Debug().Str("model", req.Model).Int("turns", len(req.Messages)).Msg("starting ollama chat stream")
	startTime := time.Now()

	publishEvent(events.NewStartEvent(metadata), sinks)

	message := ""
	var usage *events.Usage

	err = t.client.Chat(ctx, req, func(resp api.ChatResponse) error {
		if resp.Done {
			usage = &events.Usage{
				InputTokens:  resp.Metrics.PromptEvalCount,
				OutputTokens: resp.Metrics.EvalCount,
			}
			return nil
		}

		delta := resp.Message.Content
		if delta == "" {
			return nil
		}
		message += delta
		publishEvent(events.NewPartialCompletionEvent(metadata, delta, message), sinks)
		return nil
	})
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(ctx.Err(), context.Canceled) {
			publishEvent(events.NewInterruptEvent(metadata, message), sinks)
			return nil, context.Canceled
		}
		publishEvent(events.NewErrorEvent(metadata, err), sinks)
		return nil, errors.Wrap(err, "ollama chat failed")
	}

	duration := time.Since(startTime).Milliseconds()
	metadata.DurationMs = &duration
	metadata.Usage = usage

	publishEvent(events.NewFinalEvent(metadata, message), sinks)

	return &Result{
		Text:  message,
		Model: req.Model,
		Usage: usage,
	}, nil
}

func makeOllamaRequest(turns []chatlog.Value, opts *Options) (*api.ChatRequest, error) {
	stream := true
	req := &api.ChatRequest{
		Stream:  &stream,
		Options: map[string]interface{}{},
	}

	if opts != nil {
		req.Model = opts.Model
		if opts.Temperature != nil {
			req.Options["temperature"] = *opts.Temperature
		}
		if opts.TopP != nil {
			req.Options["top_p"] = *opts.TopP
		}
		if opts.MaxTokens != nil {
			req.Options["num_predict"] = *opts.MaxTokens
		}
		if len(opts.Stop) > 0 {
			req.Options["stop"] = opts.Stop
		}
	}
	if req.Model == "" {
		return nil, errors.New("ollama: no model configured")
	}

	for _, turn := range turns {
		switch turn.Role {
		case chatlog.RoleSystem, chatlog.RoleUser, chatlog.RoleAssistant:
		default:
			return nil, errors.Errorf("unsupported role %s", turn.Role)
		}
		req.Messages = append(req.Messages, api.Message{
			Role:    string(turn.Role),
			Content: turn.Text(),
		})
	}

	return req, nil
}
