package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Reloader is notified when another instance (or the training job) announces a
// new artifact.
type Reloader interface {
	OnReloadSignal(path string)
}

type reloadMessage struct {
	Origin string `json:"origin"`
	Path   string `json:"path"`
}

// ReloadNotifier broadcasts and receives "artifact changed" signals over a redis
// pub/sub channel so every replica picks up new weights.
type ReloadNotifier struct {
	client   *redis.Client
	channel  string
	instance string
	log      *zap.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewReloadNotifier(client *redis.Client, channel, instance string, log *zap.Logger) *ReloadNotifier {
	return &ReloadNotifier{
		client:   client,
		channel:  channel,
		instance: instance,
		log:      log,
	}
}

// Publish announces that path holds a new artifact.
func (n *ReloadNotifier) Publish(ctx context.Context, path string) error {
	payload, err := json.Marshal(reloadMessage{Origin: n.instance, Path: path})
	if err != nil {
		return fmt.Errorf("marshal reload signal failed: %w", err)
	}
	if err := n.client.Publish(ctx, n.channel, payload).Err(); err != nil {
		return fmt.Errorf("redis publish reload signal failed: %w", err)
	}
	return nil
}

// Start subscribes to the channel and forwards signals from other instances to
// reloader. It returns once the subscription is confirmed.
func (n *ReloadNotifier) Start(ctx context.Context, reloader Reloader) error {
	if n.cancel != nil {
		return nil
	}

	subCtx, cancel := context.WithCancel(ctx)
	pubsub := n.client.Subscribe(subCtx, n.channel)
	if _, err := pubsub.Receive(subCtx); err != nil {
		_ = pubsub.Close()
		cancel()
		return fmt.Errorf("redis subscribe %s failed: %w", n.channel, err)
	}
	n.cancel = cancel

	messages := pubsub.Channel()
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		defer pubsub.Close()

		for {
			select {
			case <-subCtx.Done():
				return
			case msg, ok := <-messages:
				if !ok {
					return
				}
				n.handle(msg.Payload, reloader)
			}
		}
	}()
	return nil
}

func (n *ReloadNotifier) handle(payload string, reloader Reloader) {
	var msg reloadMessage
	if err := json.Unmarshal([]byte(payload), &msg); err != nil {
		// Plain-text payloads (e.g. from a training script) are treated as a path.
		msg = reloadMessage{Path: payload}
	}
	if msg.Origin != "" && msg.Origin == n.instance {
		return
	}
	n.log.Info("reload signal received", zap.String("origin", msg.Origin), zap.String("path", msg.Path))
	reloader.OnReloadSignal(msg.Path)
}

func (n *ReloadNotifier) Close() {
	if n.cancel != nil {
		n.cancel()
	}
	n.wg.Wait()
}
