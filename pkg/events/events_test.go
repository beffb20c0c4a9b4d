package events

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testMetadata() EventMetadata {
	return EventMetadata{
		LLMInferenceData: LLMInferenceData{Model: "test-model"},
		ID:               uuid.New(),
	}
}

func roundTrip(t *testing.T, e Event) Event {
	t.Helper()
	b, err := json.Marshal(e)
	require.NoError(t, err)

	decoded, err := NewEventFromJSON(b)
	require.NoError(t, err)
	assert.Equal(t, e.Type(), decoded.Type())
	assert.Equal(t, e.Metadata().ID, decoded.Metadata().ID)
	assert.Equal(t, e.Metadata().Model, decoded.Metadata().Model)
	return decoded
}

func TestEventJSONRoundTrip(t *testing.T) {
	md := testMetadata()

	roundTrip(t, NewStartEvent(md))

	decoded := roundTrip(t, NewPartialCompletionEvent(md, "lo.", "Hello."))
	partial, ok := decoded.(*EventPartialCompletion)
	require.True(t, ok)
	assert.Equal(t, "lo.", partial.Delta)
	assert.Equal(t, "Hello.", partial.Completion)

	decoded = roundTrip(t, NewFinalEvent(md, "Hello."))
	final, ok := decoded.(*EventFinal)
	require.True(t, ok)
	assert.Equal(t, "Hello.", final.Text)

	decoded = roundTrip(t, NewInterruptEvent(md, "Hel"))
	interrupt, ok := decoded.(*EventInterrupt)
	require.True(t, ok)
	assert.Equal(t, "Hel", interrupt.Text)

	decoded = roundTrip(t, NewErrorEvent(md, errors.New("boom")))
	errEvent, ok := decoded.(*EventError)
	require.True(t, ok)
	assert.Equal(t, "boom", errEvent.ErrorString)
}

func TestNewEventFromJSONUnknownType(t *testing.T) {
	decoded, err := NewEventFromJSON([]byte(`{"type": "mystery"}`))
	require.NoError(t, err)
	assert.Equal(t, EventType("mystery"), decoded.Type())

	_, err = NewEventFromJSON([]byte("{{{"))
	require.Error(t, err)
}

func TestNewEventFromJSONNullPayload(t *testing.T) {
	_, err := NewEventFromJSON([]byte("null"))
	require.Error(t, err)
}

type capturingPublisher struct {
	messages []*message.Message
	topics   []string
}

func (c *capturingPublisher) Publish(topic string, messages ...*message.Message) error {
	c.messages = append(c.messages, messages...)
	for range messages {
		c.topics = append(c.topics, topic)
	}
	return nil
}

func (c *capturingPublisher) Close() error { return nil }

func TestPublisherManagerSequenceNumbers(t *testing.T) {
	pub := &capturingPublisher{}
	manager := NewPublisherManager()
	manager.SubscribePublisher("chat", pub)

	md := testMetadata()
	require.NoError(t, manager.PublishEvent(NewStartEvent(md)))
	require.NoError(t, manager.PublishEvent(NewPartialCompletionEvent(md, "hi", "hi")))
	manager.PublishBlind(NewFinalEvent(md, "hi"))

	require.Len(t, pub.messages, 3)
	assert.Equal(t, []string{"chat", "chat", "chat"}, pub.topics)
	assert.Equal(t, "0", pub.messages[0].Metadata.Get("sequence_number"))
	assert.Equal(t, "1", pub.messages[1].Metadata.Get("sequence_number"))
	assert.Equal(t, "2", pub.messages[2].Metadata.Get("sequence_number"))

	// payloads round-trip back into typed events
	decoded, err := NewEventFromJSON(pub.messages[1].Payload)
	require.NoError(t, err)
	assert.Equal(t, EventTypePartialCompletion, decoded.Type())
}

func TestPublisherManagerFansOutToAllTopics(t *testing.T) {
	a := &capturingPublisher{}
	b := &capturingPublisher{}
	manager := NewPublisherManager()
	manager.SubscribePublisher("ui", a)
	manager.SubscribePublisher("persistence", b)

	require.NoError(t, manager.PublishEvent(NewStartEvent(testMetadata())))

	require.Len(t, a.messages, 1)
	require.Len(t, b.messages, 1)
	assert.Equal(t, []string{"ui"}, a.topics)
	assert.Equal(t, []string{"persistence"}, b.topics)
}

func TestStepPrinterWritesDeltasAndNewline(t *testing.T) {
	var buf bytes.Buffer
	printer := StepPrinterFunc("", &buf)

	md := testMetadata()
	for _, e := range []Event{
		NewStartEvent(md),
		NewPartialCompletionEvent(md, "Hel", "Hel"),
		NewPartialCompletionEvent(md, "lo.", "Hello."),
		NewFinalEvent(md, "Hello."),
	} {
		b, err := json.Marshal(e)
		require.NoError(t, err)
		require.NoError(t, printer(message.NewMessage("test", b)))
	}

	assert.Equal(t, "Hello.\n", buf.String())
}
