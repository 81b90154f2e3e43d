package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"wisefido-vitals/internal/models"
	mqttcommon "wisefido-vitals/owl-common/mqtt"

	"go.uber.org/zap"
)

// Subscriber MQTT 订阅接口，由 owl-common/mqtt.Client 实现
type Subscriber interface {
	Subscribe(topic string, qos byte, handler mqttcommon.MessageHandler) error
	Unsubscribe(topics ...string) error
}

// Ingester 样本接入
type Ingester interface {
	Ingest(ctx context.Context, sample models.VitalsSample) (*models.IngestResult, error)
}

// DevicePayload 设备上报的体征消息
// 主题格式: vitals/{patient_id}/data；主题中没有病人 ID 时从 patient_id 字段读取
type DevicePayload struct {
	PatientID   *int64   `json:"patient_id,omitempty"`
	HeartRate   *float64 `json:"heart_rate,omitempty"`
	Temperature *float64 `json:"temperature,omitempty"`
	SpO2        *float64 `json:"spo2,omitempty"`
	Systolic    *float64 `json:"systolic,omitempty"`
	Diastolic   *float64 `json:"diastolic,omitempty"`
	Pulse       *float64 `json:"pulse,omitempty"`
	Timestamp   *int64   `json:"timestamp,omitempty"` // Unix 秒
}

// MQTTConsumer 设备体征 MQTT 消费者
type MQTTConsumer struct {
	subscriber     Subscriber
	ingester       Ingester
	topic          string
	qos            byte
	logger         *zap.Logger
	handleTimeout  time.Duration
	patientSegment int // 主题中 "+" 所在的层级，-1 表示没有
}

// NewMQTTConsumer 创建 MQTT 消费者
func NewMQTTConsumer(subscriber Subscriber, ingester Ingester, topic string, qos byte, logger *zap.Logger) *MQTTConsumer {
	return &MQTTConsumer{
		subscriber:     subscriber,
		ingester:       ingester,
		topic:          topic,
		qos:            qos,
		logger:         logger,
		handleTimeout:  10 * time.Second,
		patientSegment: wildcardSegment(topic),
	}
}

// Start 订阅体征主题
func (c *MQTTConsumer) Start(ctx context.Context) error {
	if err := c.subscriber.Subscribe(c.topic, c.qos, c.HandleMessage); err != nil {
		return fmt.Errorf("failed to subscribe to vitals topic: %w", err)
	}

	c.logger.Info("MQTT consumer started",
		zap.String("topic", c.topic),
	)
	return nil
}

// Stop 取消订阅
func (c *MQTTConsumer) Stop() error {
	if err := c.subscriber.Unsubscribe(c.topic); err != nil {
		c.logger.Error("Failed to unsubscribe", zap.Error(err))
		return err
	}
	c.logger.Info("MQTT consumer stopped")
	return nil
}

// HandleMessage 解析一条设备消息并送入流水线
func (c *MQTTConsumer) HandleMessage(topic string, payload []byte) error {
	c.logger.Debug("Received MQTT message",
		zap.String("topic", topic),
		zap.Int("payload_size", len(payload)),
	)

	sample, err := c.parse(topic, payload)
	if err != nil {
		c.logger.Warn("Dropping malformed vitals message",
			zap.String("topic", topic),
			zap.Error(err),
		)
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.handleTimeout)
	defer cancel()

	result, err := c.ingester.Ingest(ctx, sample)
	if err != nil {
		return fmt.Errorf("failed to ingest device vitals: %w", err)
	}

	c.logger.Debug("Ingested device vitals",
		zap.Int64("patient_id", sample.PatientID),
		zap.Int64("vitals_id", result.Sample.ID),
		zap.Int("alert_count", len(result.Alerts)),
	)
	return nil
}

func (c *MQTTConsumer) parse(topic string, payload []byte) (models.VitalsSample, error) {
	var msg DevicePayload
	if err := json.Unmarshal(payload, &msg); err != nil {
		return models.VitalsSample{}, fmt.Errorf("failed to unmarshal message: %w", err)
	}

	patientID, err := c.patientID(topic, msg.PatientID)
	if err != nil {
		return models.VitalsSample{}, err
	}

	sample := models.VitalsSample{
		PatientID:   patientID,
		HeartRate:   msg.HeartRate,
		Temperature: msg.Temperature,
		SpO2:        msg.SpO2,
		Systolic:    msg.Systolic,
		Diastolic:   msg.Diastolic,
		Pulse:       msg.Pulse,
		Source:      models.SourceDevice,
	}
	if msg.Timestamp != nil && *msg.Timestamp > 0 {
		sample.Timestamp = time.Unix(*msg.Timestamp, 0).UTC()
	}
	return sample, nil
}

func (c *MQTTConsumer) patientID(topic string, fromPayload *int64) (int64, error) {
	if c.patientSegment < 0 {
		if fromPayload == nil {
			return 0, fmt.Errorf("patient_id missing from payload")
		}
		return *fromPayload, nil
	}

	parts := strings.Split(topic, "/")
	if c.patientSegment >= len(parts) {
		return 0, fmt.Errorf("invalid topic format: %s", topic)
	}
	id, err := strconv.ParseInt(parts[c.patientSegment], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid patient id in topic %s", topic)
	}
	if fromPayload != nil && *fromPayload != id {
		return 0, fmt.Errorf("patient_id %d in payload does not match topic %s", *fromPayload, topic)
	}
	return id, nil
}

func wildcardSegment(topic string) int {
	for i, part := range strings.Split(topic, "/") {
		if part == "+" {
			return i
		}
	}
	return -1
}
