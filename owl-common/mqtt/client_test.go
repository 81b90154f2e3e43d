package mqtt

import (
	"testing"
	"time"

	"wisefido-vitals/owl-common/config"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newOfflineClient() *Client {
	return &Client{
		client:        mqtt.NewClient(mqtt.NewClientOptions().AddBroker("tcp://127.0.0.1:1")),
		config:        &config.MQTTConfig{Broker: "tcp://127.0.0.1:1"},
		logger:        zap.NewNop(),
		subscriptions: make(map[string]subscription),
	}
}

func TestNewClient_UnreachableBroker(t *testing.T) {
	cfg := &config.MQTTConfig{
		Broker:         "tcp://127.0.0.1:1",
		ClientID:       "wisefido-vitals-test",
		ConnectTimeout: 2 * time.Second,
	}

	_, err := NewClient(cfg, zap.NewNop())
	assert.Error(t, err)
}

func TestClient_OfflineState(t *testing.T) {
	c := newOfflineClient()
	c.subscriptions["vitals/+/data"] = subscription{qos: 1}

	assert.False(t, c.IsConnected())

	// 未连接时取消订阅失败，但本地记录已移除，重连后不会恢复
	err := c.Unsubscribe("vitals/+/data")
	require.Error(t, err)
	assert.Empty(t, c.subscriptions)

	assert.NotPanics(t, c.resubscribe)
}
