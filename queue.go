package optin

import "context"

// QueueService delivers raw messages published on a topic. The returned
// channel is closed once ctx is done or the broker drops the consumer.
type QueueService interface {
	Consume(ctx context.Context, topic string) (<-chan []byte, error)
	Close() error
}
