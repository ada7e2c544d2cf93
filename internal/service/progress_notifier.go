package service

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/noah-isme/academy-adm-api/internal/models"
)

// RedisProgressNotifier publishes queue-position updates over Redis pub/sub.
// The push gateway subscribed to the channel relays them to the client's
// socket.
type RedisProgressNotifier struct {
	client *redis.Client
	prefix string
	logger *zap.Logger
}

// NewRedisProgressNotifier constructs the notifier.
func NewRedisProgressNotifier(client *redis.Client, prefix string, logger *zap.Logger) *RedisProgressNotifier {
	if prefix == "" {
		prefix = "enrollment:progress:"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisProgressNotifier{client: client, prefix: prefix, logger: logger}
}

// NotifyWaiting publishes one waiting-order payload to the client's channel.
func (n *RedisProgressNotifier) NotifyWaiting(ctx context.Context, channelID string, update models.WaitingUpdate) error {
	payload, err := json.Marshal(update)
	if err != nil {
		return fmt.Errorf("marshal waiting update: %w", err)
	}
	channel := n.prefix + channelID
	if err := n.client.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("publish waiting update: %w", err)
	}
	n.logger.Debug("waiting order pushed",
		zap.String("channel", channel),
		zap.Int64("waiting_order", update.WaitingOrder),
		zap.Int64("task_index", update.TaskIndex),
	)
	return nil
}
