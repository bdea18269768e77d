package ws

import (
	"context"
	"strings"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const userChannelPrefix = "chat:user:"

// RedisRelay publishes pushes on a per-user Redis channel and delivers what it
// receives to the local hub, so users connected to another instance still get
// their events.
type RedisRelay struct {
	rdb    *redis.Client
	hub    *Hub
	logger *zap.Logger
}

// NewRedisRelay constructs a relay for hub.
func NewRedisRelay(rdb *redis.Client, hub *Hub, logger *zap.Logger) *RedisRelay {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisRelay{rdb: rdb, hub: hub, logger: logger}
}

// Publish sends payload to every instance.
func (r *RedisRelay) Publish(ctx context.Context, userName string, payload []byte) error {
	return r.rdb.Publish(ctx, userChannelPrefix+userName, payload).Err()
}

// Run delivers relayed pushes until ctx is cancelled.
func (r *RedisRelay) Run(ctx context.Context) error {
	pubsub := r.rdb.PSubscribe(ctx, userChannelPrefix+"*")
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return err
	}
	r.logger.Info("redis relay subscribed", zap.String("pattern", userChannelPrefix+"*"))

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			userName := strings.TrimPrefix(msg.Channel, userChannelPrefix)
			if err := r.hub.Deliver(userName, []byte(msg.Payload)); err != nil {
				r.logger.Debug("relayed push not delivered locally", zap.String("user", userName), zap.Error(err))
			}
		}
	}
}
