package relay

import (
	"context"
	"fmt"
	"sync"

	gcppubsub "cloud.google.com/go/pubsub/v2"
)

// Sender delivers one message to a topic and blocks until the broker acknowledged it.
type Sender interface {
	Send(ctx context.Context, topic string, msg *gcppubsub.Message) error
}

type topicSource interface {
	Publisher(name string) *gcppubsub.Publisher
}

// PubSubSender keeps one ordered publisher per topic.
type PubSubSender struct {
	source     topicSource
	mu         sync.Mutex
	publishers map[string]*gcppubsub.Publisher
}

func NewPubSubSender(source topicSource) *PubSubSender {
	return &PubSubSender{source: source, publishers: map[string]*gcppubsub.Publisher{}}
}

func (s *PubSubSender) publisher(topic string) *gcppubsub.Publisher {
	s.mu.Lock()
	defer s.mu.Unlock()
	if pub, ok := s.publishers[topic]; ok {
		return pub
	}
	pub := s.source.Publisher(topic)
	if pub == nil {
		return nil
	}
	pub.EnableMessageOrdering = true
	s.publishers[topic] = pub
	return pub
}

func (s *PubSubSender) Send(ctx context.Context, topic string, msg *gcppubsub.Message) error {
	pub := s.publisher(topic)
	if pub == nil {
		return permanent(fmt.Errorf("no publisher for topic %s", topic))
	}
	if _, err := pub.Publish(ctx, msg).Get(ctx); err != nil {
		// A failed ordered publish pauses its key until resumed.
		if msg.OrderingKey != "" {
			pub.ResumePublish(msg.OrderingKey)
		}
		return err
	}
	return nil
}

// Close flushes and stops every publisher.
func (s *PubSubSender) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for topic, pub := range s.publishers {
		pub.Stop()
		delete(s.publishers, topic)
	}
}
