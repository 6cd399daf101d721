package queue

import (
	"context"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Consume delivers messages of queueName to fn until ctx ends or the
// channel closes. Messages are auto-acknowledged; fn errors go to onError
// and do not stop consumption.
func Consume(ctx context.Context, ch *amqp.Channel, queueName string, fn func(amqp.Delivery) error, onError func(error)) error {
	msgs, err := ch.Consume(queueName, "", true, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("failed to register consumer: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-msgs:
			if !ok {
				return fmt.Errorf("consumer channel for %s closed", queueName)
			}
			if err := fn(d); err != nil && onError != nil {
				onError(err)
			}
		}
	}
}
