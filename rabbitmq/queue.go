package rabbitmq

import (
	"context"

	"github.com/pkg/errors"
	amqp "github.com/rabbitmq/amqp091-go"
)

// QueueService implements optin.QueueService on a RabbitMQ channel.
type QueueService struct {
	conn *amqp.Connection
	ch   *amqp.Channel
}

// NewQueueService dials url and opens a channel
func NewQueueService(url string) (*QueueService, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, errors.Wrap(err, "failed to connect to RabbitMQ")
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, errors.Wrap(err, "failed to open a channel")
	}

	return &QueueService{
		conn: conn,
		ch:   ch,
	}, nil
}

// Consume declares a durable queue named topic and streams message bodies
// until ctx is done.
func (s *QueueService) Consume(ctx context.Context, topic string) (<-chan []byte, error) {
	q, err := s.ch.QueueDeclare(
		topic,
		true,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to declare queue %s", topic)
	}

	deliveries, err := s.ch.Consume(
		q.Name,
		"",
		true,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to consume queue %s", topic)
	}

	messages := make(chan []byte)

	go func() {
		defer close(messages)

		for {
			select {
			case <-ctx.Done():
				return
			case d, ok := <-deliveries:
				if !ok {
					return
				}
				select {
				case messages <- d.Body:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return messages, nil
}

// Close closes the channel and the connection
func (s *QueueService) Close() error {
	if err := s.ch.Close(); err != nil {
		return errors.Wrap(err, "failed to close channel")
	}
	return s.conn.Close()
}
