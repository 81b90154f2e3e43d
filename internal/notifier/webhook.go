package notifier

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// WebhookNotifier 以 JSON POST 推送到外部地址
type WebhookNotifier struct {
	httpClient *resty.Client
	url        string
	logger     *zap.Logger
}

// NewWebhookNotifier 创建 webhook 通道，5xx 和网络错误重试 2 次
func NewWebhookNotifier(url string, timeout time.Duration, logger *zap.Logger) *WebhookNotifier {
	client := resty.New().
		SetTimeout(timeout).
		SetRetryCount(2).
		SetRetryWaitTime(200 * time.Millisecond).
		SetRetryMaxWaitTime(time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			return err != nil || r.StatusCode() >= 500
		}).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")

	return &WebhookNotifier{
		httpClient: client,
		url:        url,
		logger:     logger,
	}
}

// Name 通道名
func (n *WebhookNotifier) Name() string { return "webhook" }

// Notify 推送事件，非 2xx 视为失败
func (n *WebhookNotifier) Notify(ctx context.Context, event Event) error {
	resp, err := n.httpClient.R().
		SetContext(ctx).
		SetHeader("X-Notification-ID", event.NotificationID).
		SetBody(event).
		Post(n.url)
	if err != nil {
		return fmt.Errorf("failed to call webhook: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode())
	}

	n.logger.Debug("Delivered alert webhook",
		zap.String("type", event.Type),
		zap.Int64("alert_id", event.Alert.ID),
		zap.Int("status_code", resp.StatusCode()),
	)
	return nil
}
