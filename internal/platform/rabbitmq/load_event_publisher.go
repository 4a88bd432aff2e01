package rabbitmq

import (
	"context"
	"encoding/json"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"

	"ai-image-detector/internal/model"
)

// LoadEventPublisher sends model load events to a durable queue.
type LoadEventPublisher struct {
	conn      *amqp.Connection
	queueName string
}

func NewLoadEventPublisher(conn *amqp.Connection, queueName string) *LoadEventPublisher {
	return &LoadEventPublisher{
		conn:      conn,
		queueName: queueName,
	}
}

func (p *LoadEventPublisher) Publish(ctx context.Context, event model.LoadEvent) error {
	ch, err := p.conn.Channel()
	if err != nil {
		return fmt.Errorf("open rabbitmq channel failed: %w", err)
	}
	defer ch.Close()

	if _, err := DeclareQueue(ch, p.queueName); err != nil {
		return err
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal load event failed: %w", err)
	}

	if err := ch.PublishWithContext(
		ctx,
		"",
		p.queueName,
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         payload,
			DeliveryMode: amqp.Persistent,
		},
	); err != nil {
		return fmt.Errorf("publish load event failed: %w", err)
	}
	return nil
}
