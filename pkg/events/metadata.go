package events

import (
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Usage is the token usage reported by a provider.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// LLMInferenceData consolidates the generation parameters and provider
// feedback carried on every event of a stream.
type LLMInferenceData struct {
	Model       string   `json:"model,omitempty"`
	Temperature *float64 `json:"temperature,omitempty"`
	TopP        *float64 `json:"top_p,omitempty"`
	MaxTokens   *int     `json:"max_tokens,omitempty"`
	StopReason  *string  `json:"stop_reason,omitempty"`
	Usage       *Usage   `json:"usage,omitempty"`
	DurationMs  *int64   `json:"duration_ms,omitempty"`
}

// EventMetadata identifies which stream an event belongs to and which
// message it targets.
type EventMetadata struct {
	LLMInferenceData
	ID uuid.UUID `json:"message_id"`
	// Correlation identifiers
	ConversationID string `json:"conversation_id,omitempty"`
	StreamID       string `json:"stream_id,omitempty"`
	// Extra carries provider-specific values
	Extra map[string]interface{} `json:"extra,omitempty"`
}

func (em EventMetadata) MarshalZerologObject(e *zerolog.Event) {
	e.Str("message_id", em.ID.String())
	if em.ConversationID != "" {
		e.Str("conversation_id", em.ConversationID)
	}
	if em.StreamID != "" {
		e.Str("stream_id", em.StreamID)
	}
	if em.Model != "" {
		e.Str("model", em.Model)
	}
	if em.Temperature != nil {
		e.Float64("temperature", *em.Temperature)
	}
	if em.TopP != nil {
		e.Float64("top_p", *em.TopP)
	}
	if em.StopReason != nil {
		e.Str("stop_reason", *em.StopReason)
	}
	if em.Usage != nil {
		e.Int("input_tokens", em.Usage.InputTokens)
		e.Int("output_tokens", em.Usage.OutputTokens)
	}
}
