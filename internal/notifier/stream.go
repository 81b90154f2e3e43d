package notifier

import (
	"context"
	"fmt"

	rediscommon "wisefido-vitals/owl-common/redis"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// StreamNotifier 写入 Redis Streams，供下游（卡片聚合、推送）消费
type StreamNotifier struct {
	client *redis.Client
	stream string
	maxLen int64
	logger *zap.Logger
}

// NewStreamNotifier 创建 Redis Streams 通道
func NewStreamNotifier(client *redis.Client, stream string, maxLen int64, logger *zap.Logger) *StreamNotifier {
	return &StreamNotifier{
		client: client,
		stream: stream,
		maxLen: maxLen,
		logger: logger,
	}
}

// Name 通道名
func (n *StreamNotifier) Name() string { return "redis_stream" }

// Notify 发布事件
func (n *StreamNotifier) Notify(ctx context.Context, event Event) error {
	id, err := rediscommon.PublishJSONToStream(ctx, n.client, n.stream, n.maxLen, event.Type, event)
	if err != nil {
		return fmt.Errorf("failed to publish to stream %s: %w", n.stream, err)
	}

	n.logger.Debug("Published alert notification",
		zap.String("stream", n.stream),
		zap.String("stream_id", id),
		zap.String("type", event.Type),
		zap.Int64("alert_id", event.Alert.ID),
	)
	return nil
}
