package events

import (
	"encoding/json"
	"strconv"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/rs/zerolog/log"
)

// PublisherManager is the EventSink bridging streams onto the watermill
// bus: it serializes each event once, stamps it with a monotonically
// increasing sequence number and fans it out to every publisher
// registered under every topic. Subscribers use the sequence number to
// detect gaps and reorderings.
type PublisherManager struct {
	mu           sync.Mutex
	publishers   map[string][]message.Publisher
	nextSequence uint64
}

func NewPublisherManager() *PublisherManager {
	return &PublisherManager{
		publishers: map[string][]message.Publisher{},
	}
}

var _ EventSink = (*PublisherManager)(nil)

// SubscribePublisher registers a publisher under a topic. The same
// publisher may be registered under several topics.
func (pm *PublisherManager) SubscribePublisher(topic string, pub message.Publisher) {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	pm.publishers[topic] = append(pm.publishers[topic], pub)
}

// PublishEvent sends the event to all registered publishers. A publish
// failure on one topic is logged and does not stop the fan-out; only a
// serialization failure is returned.
func (pm *PublisherManager) PublishEvent(e Event) error {
	payload, err := json.Marshal(e)
	if err != nil {
		log.Error().Err(err).Str("event_type", string(e.Type())).Msg("failed to marshal event to JSON")
		return err
	}

	pm.mu.Lock()
	defer pm.mu.Unlock()

	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.Metadata.Set("sequence_number", strconv.FormatUint(pm.nextSequence, 10))
	pm.nextSequence++

	for topic, pubs := range pm.publishers {
		for _, pub := range pubs {
			if err := pub.Publish(topic, msg); err != nil {
				log.Warn().Err(err).Str("topic", topic).Str("event_type", string(e.Type())).Msg("failed to publish event")
			}
		}
	}

	return nil
}

// PublishBlind publishes and logs failures instead of returning them;
// for paths that must not fail on event delivery.
func (pm *PublisherManager) PublishBlind(e Event) {
	if err := pm.PublishEvent(e); err != nil {
		log.Warn().Err(err).Msg("failed to publish event")
	}
}
