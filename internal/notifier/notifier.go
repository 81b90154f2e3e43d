package notifier

import (
	"context"
	"errors"
	"time"

	"wisefido-vitals/internal/models"

	"github.com/google/uuid"
)

// 通知事件类型
const (
	EventAlertCreated  = "alert.created"
	EventAlertResolved = "alert.resolved"
)

// Event 报警通知
type Event struct {
	NotificationID string          `json:"notification_id"`
	Type           string          `json:"type"`
	OccurredAt     time.Time       `json:"occurred_at"`
	Alert          models.Alert    `json:"alert"`
	Anomaly        *models.Anomaly `json:"anomaly,omitempty"`
}

// NewEvent 生成带唯一 notification_id 的事件
func NewEvent(eventType string, alert models.Alert, anomaly *models.Anomaly) Event {
	return Event{
		NotificationID: uuid.New().String(),
		Type:           eventType,
		OccurredAt:     time.Now().UTC(),
		Alert:          alert,
		Anomaly:        anomaly,
	}
}

// Notifier 通知通道；在事务提交之后调用，失败不影响已写入的数据
type Notifier interface {
	Name() string
	Notify(ctx context.Context, event Event) error
}

// Multi 依次调用所有通道，汇总错误
type Multi struct {
	notifiers []Notifier
}

// NewMulti 创建组合通道，忽略 nil
func NewMulti(notifiers ...Notifier) *Multi {
	m := &Multi{}
	for _, n := range notifiers {
		if n != nil {
			m.notifiers = append(m.notifiers, n)
		}
	}
	return m
}

// Name 通道名
func (m *Multi) Name() string { return "multi" }

// Len 通道数量
func (m *Multi) Len() int { return len(m.notifiers) }

// Notify 一个通道失败不影响其他通道
func (m *Multi) Notify(ctx context.Context, event Event) error {
	var errs []error
	for _, n := range m.notifiers {
		if err := n.Notify(ctx, event); err != nil {
			errs = append(errs, &ChannelError{Channel: n.Name(), Err: err})
		}
	}
	return errors.Join(errs...)
}

// ChannelError 单个通道的投递错误
type ChannelError struct {
	Channel string
	Err     error
}

func (e *ChannelError) Error() string {
	return e.Channel + ": " + e.Err.Error()
}

func (e *ChannelError) Unwrap() error {
	return e.Err
}
