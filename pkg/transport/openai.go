package transport

import (
	"context"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	go_openai "github.com/sashabaranov/go-openai"

	"github.com/go-go-golems/arbor/pkg/chatlog"
	"github.com/go-go-golems/arbor/pkg/events"
)

// OpenAISettings configures the OpenAI transport. BaseURL is optional
// and allows pointing at compatible gateways.
type OpenAISettings struct {
	APIKey  string
	BaseURL string
}

type OpenAITransport struct {
	client *go_openai.Client
}

func NewOpenAITransport(settings OpenAISettings) (*OpenAITransport, error) {
	if settings.APIKey == "" {
		return nil, errors.New("openai: no api key configured")
	}

	config := go_openai.DefaultConfig(settings.APIKey)
	if settings.BaseURL != "" {
		config.BaseURL = settings.BaseURL
	}

	return &OpenAITransport{
		client: go_openai.NewClientWithConfig(config),
	}, nil
}

var _ Transport = (*OpenAITransport)(nil)

func (t *OpenAITransport) Complete(
	ctx context.Context,
	turns []chatlog.Value,
	opts *Options,
	sinks ...events.EventSink,
) (*Result, error) {
	req, err := makeOpenAIRequest(turns, opts)
	if err != nil {
		return nil, err
	}

	metadata := events.EventMetadata{
		LLMInferenceData: inferenceData(opts),
		ID:               uuid.New(),
	}
	metadata.Model = req.Model

	log.Debug().Str("model", req.Model).Int("turns", len(req.Messages)).Msg("starting openai chat completion stream")
	startTime := time.Now()

	stream, err := t.client.CreateChatCompletionStream(ctx, req)
	if err != nil {
		publishEvent(events.NewErrorEvent(metadata, err), sinks)
		return nil, errors.Wrap(err, "failed to create chat completion stream")
	}
	defer stream.Close()

	publishEvent(events.NewStartEvent(metadata), sinks)

	message := ""
	stopReason := ""

	for {
		select {
		case <-ctx.Done():
			publishEvent(events.NewInterruptEvent(metadata, message), sinks)
			return nil, ctx.Err()
		default:
		}

		response, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			goto streamingComplete
		}
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(ctx.Err(), context.Canceled) {
				publishEvent(events.NewInterruptEvent(metadata, message), sinks)
				return nil, context.Canceled
			}
			publishEvent(events.NewErrorEvent(metadata, err), sinks)
			return nil, errors.Wrap(err, "failed to receive from stream")
		}

		if len(response.Choices) == 0 {
			continue
		}
		choice := response.Choices[0]
		if choice.FinishReason != "" {
			stopReason = string(choice.FinishReason)
		}
		delta := choice.Delta.Content
		if delta == "" {
			continue
		}

		message += delta
		publishEvent(events.NewPartialCompletionEvent(metadata, delta, message), sinks)
	}

streamingComplete:
	duration := time.Since(startTime).Milliseconds()
	metadata.DurationMs = &duration
	if stopReason != "" {
		metadata.StopReason = &stopReason
	}

	publishEvent(events.NewFinalEvent(metadata, message), sinks)

	return &Result{
		Text:       message,
		Model:      req.Model,
		StopReason: stopReason,
	}, nil
}

func makeOpenAIRequest(turns []chatlog.Value, opts *Options) (go_openai.ChatCompletionRequest, error) {
	req := go_openai.ChatCompletionRequest{
		Stream: true,
	}

	if opts != nil {
		req.Model = opts.Model
		if opts.Temperature != nil {
			req.Temperature = float32(*opts.Temperature)
		}
		if opts.TopP != nil {
			req.TopP = float32(*opts.TopP)
		}
		if opts.MaxTokens != nil {
			req.MaxTokens = *opts.MaxTokens
		}
		req.Stop = opts.Stop
	}
	if req.Model == "" {
		return req, errors.New("openai: no model configured")
	}

	for _, turn := range turns {
		role, err := openAIRole(turn.Role)
		if err != nil {
			return req, err
		}
		req.Messages = append(req.Messages, go_openai.ChatCompletionMessage{
			Role:    role,
			Content: turn.Text(),
		})
	}

	return req, nil
}

func openAIRole(role chatlog.Role) (string, error) {
	switch role {
	case chatlog.RoleSystem:
		return go_openai.ChatMessageRoleSystem, nil
	case chatlog.RoleUser:
		return go_openai.ChatMessageRoleUser, nil
	case chatlog.RoleAssistant:
		return go_openai.ChatMessageRoleAssistant, nil
	case chatlog.RoleTool:
		return go_openai.ChatMessageRoleTool, nil
	}
	return "", errors.Errorf("unknown role %s", role)
}
