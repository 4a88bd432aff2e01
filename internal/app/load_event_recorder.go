package app

import (
	"context"

	"go.uber.org/zap"

	"ai-image-detector/internal/model"
	"ai-image-detector/internal/serving"
)

type LoadEventPublisher interface {
	Publish(ctx context.Context, event model.LoadEvent) error
}

type LoadEventStore interface {
	Create(ctx context.Context, event *model.LoadEvent) error
}

// LoadEventRecorder turns model lifecycle events into audit records. Events go to
// the queue when one is configured and straight to the store otherwise, or when
// publishing fails. Audit failures are logged and never affect serving.
type LoadEventRecorder struct {
	instance  string
	publisher LoadEventPublisher
	store     LoadEventStore
	log       *zap.Logger
}

func NewLoadEventRecorder(instance string, publisher LoadEventPublisher, store LoadEventStore, log *zap.Logger) *LoadEventRecorder {
	return &LoadEventRecorder{
		instance:  instance,
		publisher: publisher,
		store:     store,
		log:       log,
	}
}

func (r *LoadEventRecorder) ObserveLoad(ctx context.Context, ev serving.LoadEvent) {
	record := model.LoadEvent{
		Instance:   r.instance,
		Path:       ev.Path,
		ModTime:    ev.ModTime,
		Trigger:    string(ev.Trigger),
		Success:    ev.Success,
		Error:      ev.Error,
		DurationMS: ev.Duration.Milliseconds(),
		CreatedAt:  ev.At,
	}

	if r.publisher != nil {
		err := r.publisher.Publish(ctx, record)
		if err == nil {
			return
		}
		r.log.Warn("publish load event failed", zap.String("path", ev.Path), zap.Error(err))
	}
	if r.store != nil {
		if err := r.store.Create(ctx, &record); err != nil {
			r.log.Warn("store load event failed", zap.String("path", ev.Path), zap.Error(err))
		}
	}
}
