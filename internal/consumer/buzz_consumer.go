package consumer

import (
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	mqttcommon "vibecheck-moments/pkg/mqtt"
)

// BuzzSink 接收外部人群情绪信号
type BuzzSink interface {
	SetBuzz(v float64)
}

// BuzzMessage 聊天室/现场情绪消息
type BuzzMessage struct {
	Level     float64 `json:"level"` // 0-1 情绪强度
	Source    string  `json:"source,omitempty"`
	Timestamp int64   `json:"timestamp,omitempty"`
}

// BuzzConsumer MQTT buzz 信号消费者
// 主题格式: vibecheck/{stream_id}/buzz，只接受本流的消息
type BuzzConsumer struct {
	mqttClient *mqttcommon.Client
	sink       BuzzSink
	streamID   string
	topic      string
	logger     *zap.Logger
}

// NewBuzzConsumer 创建 buzz 消费者
func NewBuzzConsumer(mqttClient *mqttcommon.Client, sink BuzzSink, streamID string, logger *zap.Logger) *BuzzConsumer {
	return &BuzzConsumer{
		mqttClient: mqttClient,
		sink:       sink,
		streamID:   streamID,
		topic:      fmt.Sprintf("vibecheck/%s/buzz", streamID),
		logger:     logger,
	}
}

// Start 订阅 buzz 主题
func (c *BuzzConsumer) Start() error {
	if err := c.mqttClient.Subscribe(c.topic, 1, c.handleMessage); err != nil {
		return fmt.Errorf("failed to subscribe to buzz topic: %w", err)
	}

	c.logger.Info("Buzz consumer started",
		zap.String("topic", c.topic),
		zap.String("stream_id", c.streamID),
	)
	return nil
}

// Stop 取消订阅
func (c *BuzzConsumer) Stop() error {
	if err := c.mqttClient.Unsubscribe(c.topic); err != nil {
		c.logger.Error("Failed to unsubscribe", zap.Error(err))
		return err
	}

	c.logger.Info("Buzz consumer stopped")
	return nil
}

// handleMessage 处理 buzz 消息
func (c *BuzzConsumer) handleMessage(topic string, payload []byte) error {
	// 主题格式: vibecheck/{stream_id}/buzz
	parts := strings.Split(topic, "/")
	if len(parts) != 3 {
		return fmt.Errorf("invalid topic format: %s", topic)
	}
	if parts[1] != c.streamID {
		c.logger.Debug("Ignoring buzz for other stream",
			zap.String("topic", topic),
		)
		return nil
	}

	var msg BuzzMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		c.logger.Error("Failed to unmarshal buzz message",
			zap.String("topic", topic),
			zap.Error(err),
		)
		return fmt.Errorf("failed to unmarshal buzz message: %w", err)
	}

	c.sink.SetBuzz(msg.Level)

	c.logger.Debug("Buzz level updated",
		zap.Float64("level", msg.Level),
		zap.String("source", msg.Source),
	)
	return nil
}
