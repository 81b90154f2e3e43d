package consumer

import (
	"context"
	"errors"
	"testing"
	"time"

	"wisefido-vitals/internal/models"
	mqttcommon "wisefido-vitals/owl-common/mqtt"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type mockSubscriber struct {
	mock.Mock
	handler mqttcommon.MessageHandler
}

func (m *mockSubscriber) Subscribe(topic string, qos byte, handler mqttcommon.MessageHandler) error {
	m.handler = handler
	return m.Called(topic, qos).Error(0)
}

func (m *mockSubscriber) Unsubscribe(topics ...string) error {
	return m.Called(topics).Error(0)
}

type mockIngester struct {
	mock.Mock
}

func (m *mockIngester) Ingest(ctx context.Context, sample models.VitalsSample) (*models.IngestResult, error) {
	args := m.Called(sample)
	if r := args.Get(0); r != nil {
		return r.(*models.IngestResult), args.Error(1)
	}
	return nil, args.Error(1)
}

func TestMQTTConsumer_StartSubscribes(t *testing.T) {
	sub := &mockSubscriber{}
	sub.On("Subscribe", "vitals/+/data", byte(1)).Return(nil)
	sub.On("Unsubscribe", []string{"vitals/+/data"}).Return(nil)

	c := NewMQTTConsumer(sub, &mockIngester{}, "vitals/+/data", 1, zap.NewNop())
	require.NoError(t, c.Start(context.Background()))
	require.NotNil(t, sub.handler)
	require.NoError(t, c.Stop())

	sub.AssertExpectations(t)
}

func TestMQTTConsumer_StartSubscribeError(t *testing.T) {
	sub := &mockSubscriber{}
	sub.On("Subscribe", "vitals/+/data", byte(0)).Return(errors.New("not connected"))

	c := NewMQTTConsumer(sub, &mockIngester{}, "vitals/+/data", 0, zap.NewNop())
	err := c.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not connected")
}

func TestMQTTConsumer_HandleMessage(t *testing.T) {
	ing := &mockIngester{}
	ing.On("Ingest", mock.MatchedBy(func(s models.VitalsSample) bool {
		return s.PatientID == 42 &&
			s.Source == models.SourceDevice &&
			s.HeartRate != nil && *s.HeartRate == 125 &&
			s.Temperature == nil &&
			s.Timestamp.Equal(time.Unix(1700000000, 0))
	})).Return(&models.IngestResult{Alerts: []models.Alert{{ID: 1}}}, nil)

	c := NewMQTTConsumer(&mockSubscriber{}, ing, "vitals/+/data", 1, zap.NewNop())
	err := c.HandleMessage("vitals/42/data", []byte(`{"heart_rate":125,"spo2":97,"timestamp":1700000000}`))
	require.NoError(t, err)
	ing.AssertExpectations(t)
}

func TestMQTTConsumer_HandleMessage_Errors(t *testing.T) {
	c := NewMQTTConsumer(&mockSubscriber{}, &mockIngester{}, "vitals/+/data", 1, zap.NewNop())

	assert.Error(t, c.HandleMessage("vitals/42/data", []byte(`not json`)))
	assert.Error(t, c.HandleMessage("vitals/abc/data", []byte(`{"heart_rate":70}`)))
	assert.Error(t, c.HandleMessage("vitals", []byte(`{"heart_rate":70}`)))
	assert.Error(t, c.HandleMessage("vitals/42/data", []byte(`{"patient_id":7,"heart_rate":70}`)))
}

func TestMQTTConsumer_IngestErrorPropagates(t *testing.T) {
	ing := &mockIngester{}
	ing.On("Ingest", mock.Anything).Return(nil, models.NewValidationError("vitals", "at least one vital sign is required"))

	c := NewMQTTConsumer(&mockSubscriber{}, ing, "vitals/+/data", 1, zap.NewNop())
	err := c.HandleMessage("vitals/42/data", []byte(`{}`))
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrValidation)
}

func TestMQTTConsumer_PatientIDFromPayload(t *testing.T) {
	ing := &mockIngester{}
	ing.On("Ingest", mock.MatchedBy(func(s models.VitalsSample) bool {
		return s.PatientID == 9 && s.Timestamp.IsZero()
	})).Return(&models.IngestResult{}, nil)

	c := NewMQTTConsumer(&mockSubscriber{}, ing, "hospital/vitals", 1, zap.NewNop())
	require.NoError(t, c.HandleMessage("hospital/vitals", []byte(`{"patient_id":9,"pulse":88}`)))
	assert.Error(t, c.HandleMessage("hospital/vitals", []byte(`{"pulse":88}`)))
	ing.AssertExpectations(t)
}
