package events

import (
	"context"
	"fmt"

	"vibecheck-moments/internal/models"
	rediscommon "vibecheck-moments/pkg/redis"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// Publisher 对外事件发布器（Redis Streams）
// candidate.created / moment.ready / moment.approved|held 按固定wire schema发布，
// 由UI/工作流层消费
type Publisher struct {
	redisClient *redis.Client
	prefix      string
	logger      *zap.Logger
}

// NewPublisher 创建事件发布器
// prefix 如 "vibecheck:events"，候选流为 <prefix>:candidates，时刻流为 <prefix>:moments
func NewPublisher(redisClient *redis.Client, prefix string, logger *zap.Logger) *Publisher {
	return &Publisher{
		redisClient: redisClient,
		prefix:      prefix,
		logger:      logger,
	}
}

// CandidatesStream 候选事件流名称
func (p *Publisher) CandidatesStream() string {
	return p.prefix + ":candidates"
}

// MomentsStream 时刻事件流名称
func (p *Publisher) MomentsStream() string {
	return p.prefix + ":moments"
}

// PublishCandidate 发布 candidate.created 事件
func (p *Publisher) PublishCandidate(ctx context.Context, ev models.CandidateEvent) error {
	id, err := rediscommon.PublishJSONToStream(ctx, p.redisClient, p.CandidatesStream(), ev)
	if err != nil {
		return fmt.Errorf("failed to publish candidate event: %w", err)
	}

	p.logger.Debug("Published candidate.created",
		zap.String("candidate_id", ev.CandidateID),
		zap.String("stream_id", id),
	)
	return nil
}

// PublishMomentReady 发布 moment.ready 事件
func (p *Publisher) PublishMomentReady(ctx context.Context, ev models.MomentReadyEvent) error {
	id, err := rediscommon.PublishJSONToStream(ctx, p.redisClient, p.MomentsStream(), ev)
	if err != nil {
		return fmt.Errorf("failed to publish moment.ready event: %w", err)
	}

	p.logger.Info("Published moment.ready",
		zap.String("moment_id", ev.MomentID),
		zap.String("stream_id", id),
		zap.String("moment_type", string(ev.MomentType)),
		zap.Int("hype", ev.Scores.Hype),
	)
	return nil
}

// PublishApproval 发布 moment.approved / moment.held 事件
func (p *Publisher) PublishApproval(ctx context.Context, ev models.ApprovalEvent) error {
	if ev.Type != models.EventMomentApproved && ev.Type != models.EventMomentHeld {
		return fmt.Errorf("invalid approval event type: %s", ev.Type)
	}

	id, err := rediscommon.PublishJSONToStream(ctx, p.redisClient, p.MomentsStream(), ev)
	if err != nil {
		return fmt.Errorf("failed to publish approval event: %w", err)
	}

	p.logger.Info("Published approval event",
		zap.String("type", ev.Type),
		zap.String("moment_id", ev.MomentID),
		zap.String("by", ev.By),
		zap.String("stream_id", id),
	)
	return nil
}
