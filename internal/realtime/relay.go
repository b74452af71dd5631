package realtime

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

const DefaultChannel = "taskboard:board-updates"

// RedisRelay publishes updates on a Redis channel and delivers every update
// it receives to the local hub, so each process serves its own connections.
type RedisRelay struct {
	rc      *redis.Client
	channel string
	hub     *Hub
	log     *logrus.Logger

	readyOnce sync.Once
	ready     chan struct{}
}

func NewRedisRelay(rc *redis.Client, channel string, hub *Hub, logger *logrus.Logger) *RedisRelay {
	if channel == "" {
		channel = DefaultChannel
	}
	return &RedisRelay{rc: rc, channel: channel, hub: hub, log: logger, ready: make(chan struct{})}
}

// Ready is closed once the first subscription is confirmed.
func (r *RedisRelay) Ready() <-chan struct{} {
	return r.ready
}

// Publish sends the update to every process. When Redis is unreachable the
// update is still delivered to this process.
func (r *RedisRelay) Publish(ctx context.Context, update Update) error {
	payload, err := sonic.Marshal(update)
	if err != nil {
		return fmt.Errorf("encode relay update: %w", err)
	}
	if err := r.rc.Publish(ctx, r.channel, payload).Err(); err != nil {
		r.log.WithError(err).WithField("board_id", update.BoardID).Warn("relay publish failed, delivering locally")
		r.hub.Deliver(update)
	}
	return nil
}

// Run subscribes until ctx is cancelled, resubscribing after a dropped
// connection.
func (r *RedisRelay) Run(ctx context.Context) {
	for {
		if err := r.consume(ctx); err != nil && ctx.Err() == nil {
			r.log.WithError(err).Error("relay subscription lost, reconnecting")
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Second):
		}
	}
}

func (r *RedisRelay) consume(ctx context.Context) error {
	sub := r.rc.Subscribe(ctx, r.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", r.channel, err)
	}
	r.readyOnce.Do(func() { close(r.ready) })

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return fmt.Errorf("channel %s closed", r.channel)
			}
			var update Update
			if err := sonic.UnmarshalString(msg.Payload, &update); err != nil {
				r.log.WithError(err).Error("decode relay update")
				continue
			}
			r.hub.Deliver(update)
		}
	}
}
