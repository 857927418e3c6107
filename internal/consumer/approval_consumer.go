package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"vibecheck-moments/internal/models"
	rediscommon "vibecheck-moments/pkg/redis"
)

// ApprovalStore 审批状态持久化接口
type ApprovalStore interface {
	UpdateApprovalStatus(ctx context.Context, momentID, status string) error
}

// ApprovalPublisher 审批结果事件发布接口
type ApprovalPublisher interface {
	PublishApproval(ctx context.Context, ev models.ApprovalEvent) error
}

// ApprovalConsumer 审批指令消费者
// 运营端把审批动作写入 Redis Stream，这里消费并落库、广播结果
type ApprovalConsumer struct {
	redisClient  *redis.Client
	store        ApprovalStore
	publisher    ApprovalPublisher
	logger       *zap.Logger
	stream       string
	groupName    string
	consumerName string
	batchSize    int64
}

// errPoisonCommand 重投也不可能成功的指令（解析失败或未知动作）
var errPoisonCommand = errors.New("approval command cannot be processed")

// ApprovalCommand 审批指令
type ApprovalCommand struct {
	Action   string  `json:"action"` // approve / hold / send_to_exec
	MomentID string  `json:"moment_id"`
	By       string  `json:"by"`
	At       float64 `json:"at,omitempty"`
}

// NewApprovalConsumer 创建审批消费者
func NewApprovalConsumer(
	redisClient *redis.Client,
	store ApprovalStore,
	publisher ApprovalPublisher,
	logger *zap.Logger,
	stream string,
	groupName string,
	consumerName string,
	batchSize int64,
) *ApprovalConsumer {
	return &ApprovalConsumer{
		redisClient:  redisClient,
		store:        store,
		publisher:    publisher,
		logger:       logger,
		stream:       stream,
		groupName:    groupName,
		consumerName: consumerName,
		batchSize:    batchSize,
	}
}

// Start 启动审批消费者
func (c *ApprovalConsumer) Start(ctx context.Context) error {
	// 创建消费者组
	if err := rediscommon.CreateConsumerGroup(ctx, c.redisClient, c.stream, c.groupName); err != nil {
		return fmt.Errorf("failed to create consumer group: %w", err)
	}

	c.logger.Info("Approval consumer started",
		zap.String("stream", c.stream),
		zap.String("consumer_group", c.groupName),
		zap.String("consumer_name", c.consumerName),
	)

	// 消费指令（带指数退避）
	backoffDuration := time.Second
	maxBackoff := 30 * time.Second

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
			if err := c.consumeCommands(ctx); err != nil {
				c.logger.Error("Failed to consume approval commands",
					zap.Error(err),
					zap.Duration("backoff", backoffDuration),
				)

				select {
				case <-ctx.Done():
					return nil
				case <-time.After(backoffDuration):
					backoffDuration *= 2
					if backoffDuration > maxBackoff {
						backoffDuration = maxBackoff
					}
				}
			} else {
				// 成功时重置退避时间
				backoffDuration = time.Second
			}
		}
	}
}

// consumeCommands 读取并处理一批审批指令
func (c *ApprovalConsumer) consumeCommands(ctx context.Context) error {
	messages, err := rediscommon.ReadFromStream(
		ctx,
		c.redisClient,
		c.stream,
		c.groupName,
		c.consumerName,
		c.batchSize,
	)
	if err != nil {
		return fmt.Errorf("failed to read from stream: %w", err)
	}

	for _, msg := range messages {
		if err := c.processCommand(ctx, msg); err != nil {
			c.logger.Error("Failed to process approval command",
				zap.String("message_id", msg.ID),
				zap.Error(err),
			)
			// 可重试失败（如落库暂不可用）留在 pending 列表等待重投；
			// 毒消息必须确认掉，否则 pending 列表无限增长
			if !errors.Is(err, errPoisonCommand) {
				continue
			}
		}
		if err := rediscommon.AckMessage(ctx, c.redisClient, c.stream, c.groupName, msg.ID); err != nil {
			c.logger.Warn("Failed to ack message",
				zap.String("message_id", msg.ID),
				zap.Error(err),
			)
		}
	}

	return nil
}

// processCommand 处理单条审批指令
func (c *ApprovalConsumer) processCommand(ctx context.Context, msg rediscommon.StreamMessage) error {
	cmd, err := c.parseCommand(msg)
	if err != nil {
		return fmt.Errorf("%w: %v", errPoisonCommand, err)
	}

	status, eventType, err := resolveAction(cmd.Action)
	if err != nil {
		return fmt.Errorf("%w: %v", errPoisonCommand, err)
	}

	c.logger.Info("Processing approval command",
		zap.String("action", cmd.Action),
		zap.String("moment_id", cmd.MomentID),
		zap.String("by", cmd.By),
	)

	if err := c.store.UpdateApprovalStatus(ctx, cmd.MomentID, status); err != nil {
		return fmt.Errorf("failed to update approval status: %w", err)
	}

	// send_to_exec 只是流转，不广播事件
	if eventType == "" || c.publisher == nil {
		return nil
	}

	at := cmd.At
	if at == 0 {
		at = float64(time.Now().Unix())
	}
	ev := models.ApprovalEvent{
		Type:     eventType,
		MomentID: cmd.MomentID,
		By:       cmd.By,
		At:       at,
	}
	if err := c.publisher.PublishApproval(ctx, ev); err != nil {
		// 状态已落库，事件广播失败不回滚
		c.logger.Warn("Failed to publish approval event",
			zap.String("moment_id", cmd.MomentID),
			zap.Error(err),
		)
	}

	return nil
}

// resolveAction 把审批动作映射为持久化状态与广播事件类型
func resolveAction(action string) (status, eventType string, err error) {
	switch action {
	case "approve":
		return models.ApprovalApproved, models.EventMomentApproved, nil
	case "hold":
		return models.ApprovalHeld, models.EventMomentHeld, nil
	case "send_to_exec":
		return models.ApprovalSentToExec, "", nil
	default:
		return "", "", fmt.Errorf("unknown approval action: %s", action)
	}
}

// parseCommand 解析指令消息
func (c *ApprovalConsumer) parseCommand(msg rediscommon.StreamMessage) (*ApprovalCommand, error) {
	// 尝试从 data 字段解析 JSON
	if dataStr, ok := msg.Values["data"].(string); ok {
		var cmd ApprovalCommand
		if err := json.Unmarshal([]byte(dataStr), &cmd); err == nil && cmd.MomentID != "" {
			return &cmd, nil
		}
	}

	// 如果 data 字段不存在，直接从 Values 解析
	cmd := &ApprovalCommand{}
	if action, ok := msg.Values["action"].(string); ok {
		cmd.Action = action
	}
	if momentID, ok := msg.Values["moment_id"].(string); ok {
		cmd.MomentID = momentID
	}
	if by, ok := msg.Values["by"].(string); ok {
		cmd.By = by
	}

	if cmd.Action == "" || cmd.MomentID == "" {
		return nil, fmt.Errorf("invalid command: missing action or moment_id")
	}

	return cmd, nil
}
