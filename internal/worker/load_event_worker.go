package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"ai-image-detector/internal/model"
	"ai-image-detector/internal/platform/rabbitmq"
)

type LoadEventStore interface {
	Create(ctx context.Context, event *model.LoadEvent) error
}

// LoadEventWorker consumes model load events and persists them.
type LoadEventWorker struct {
	conn      *amqp.Connection
	store     LoadEventStore
	queueName string
	log       *zap.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewLoadEventWorker(conn *amqp.Connection, store LoadEventStore, queueName string, log *zap.Logger) *LoadEventWorker {
	return &LoadEventWorker{
		conn:      conn,
		store:     store,
		queueName: queueName,
		log:       log,
	}
}

func (w *LoadEventWorker) Start(ctx context.Context) error {
	if w.cancel != nil {
		return nil
	}

	workerCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel

	ch, err := w.conn.Channel()
	if err != nil {
		cancel()
		return fmt.Errorf("open worker channel failed: %w", err)
	}

	if _, err := rabbitmq.DeclareQueue(ch, w.queueName); err != nil {
		_ = ch.Close()
		cancel()
		return err
	}

	deliveries, err := ch.Consume(
		w.queueName,
		"",
		false,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		_ = ch.Close()
		cancel()
		return fmt.Errorf("consume queue failed: %w", err)
	}

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		defer ch.Close()

		for {
			select {
			case <-workerCtx.Done():
				return
			case d, ok := <-deliveries:
				if !ok {
					return
				}
				if err := w.process(workerCtx, d.Body); err != nil {
					w.log.Warn("persist load event failed", zap.Error(err))
					_ = d.Nack(false, false)
					continue
				}
				_ = d.Ack(false)
			}
		}
	}()

	return nil
}

func (w *LoadEventWorker) process(ctx context.Context, body []byte) error {
	var event model.LoadEvent
	if err := json.Unmarshal(body, &event); err != nil {
		return fmt.Errorf("decode load event failed: %w", err)
	}
	// IDs are assigned by the store, never taken from the wire.
	event.ID = 0
	return w.store.Create(ctx, &event)
}

func (w *LoadEventWorker) Close() {
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()
}
