package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"

	"go.uber.org/zap"

	"vibecheck-moments/internal/buffer"
	"vibecheck-moments/internal/detect"
	"vibecheck-moments/internal/extract"
	"vibecheck-moments/internal/models"
)

// CandidatePublisher 候选事件发布接口
type CandidatePublisher interface {
	PublishCandidate(ctx context.Context, ev models.CandidateEvent) error
}

// Spawner 为候选启动生命周期任务
type Spawner interface {
	Spawn(ctx context.Context, cand models.Candidate) *models.Moment
}

// Ingester 摄取主循环：提取 -> 缓冲 -> 检测 -> 派生生命周期
// 缓冲区唯一写入者，信号样本与帧引用在同一节拍写入
type Ingester struct {
	source    Source
	extractor *extract.Extractor
	buf       *buffer.RollingBuffer
	detector  *detect.Detector
	publisher CandidatePublisher // 可为空
	spawner   Spawner            // 可为空
	logger    *zap.Logger

	frameSeq uint64
	appended uint64
}

// NewIngester 创建摄取器
func NewIngester(source Source, extractor *extract.Extractor, buf *buffer.RollingBuffer,
	detector *detect.Detector, publisher CandidatePublisher, spawner Spawner, logger *zap.Logger) *Ingester {
	return &Ingester{
		source:    source,
		extractor: extractor,
		buf:       buf,
		detector:  detector,
		publisher: publisher,
		spawner:   spawner,
		logger:    logger,
	}
}

// AppendedCount 已写入缓冲区的样本数
func (i *Ingester) AppendedCount() uint64 {
	return i.appended
}

// Run 运行摄取循环直到流结束或上下文取消
func (i *Ingester) Run(ctx context.Context) error {
	i.logger.Info("Ingestion started")

	for {
		select {
		case <-ctx.Done():
			i.logger.Info("Ingestion cancelled")
			return ctx.Err()
		default:
		}

		unit, err := i.source.Next(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) {
				i.logger.Info("Stream ended",
					zap.Uint64("samples_appended", i.appended),
					zap.Uint64("units_dropped", i.extractor.DroppedUnits()),
				)
				return nil
			}
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			return fmt.Errorf("source failed: %w", err)
		}

		sample, ok := i.extractor.Process(unit)
		if !ok {
			// 解码失败单元已由提取器计数
			continue
		}

		var frame *models.FrameRef
		if len(unit.Luma) > 0 {
			i.frameSeq++
			frame = &models.FrameRef{
				Timestamp: unit.Timestamp,
				Kind:      models.MediaFrame,
				Seq:       i.frameSeq,
				Width:     unit.Width,
				Height:    unit.Height,
				Data:      unit.Luma,
			}
		}

		if err := i.buf.Append(sample, frame); err != nil {
			// 时间戳倒退说明上游时钟异常，终止摄取
			return fmt.Errorf("buffer append at %.3fs: %w", sample.Timestamp, err)
		}
		i.appended++

		cand := i.detector.Process(sample)
		if cand == nil {
			continue
		}

		i.handleCandidate(ctx, *cand)
	}
}

// handleCandidate 发布候选事件并启动生命周期
// 事件发布失败只记日志，不阻断摄取
func (i *Ingester) handleCandidate(ctx context.Context, cand models.Candidate) {
	if i.publisher != nil {
		if err := i.publisher.PublishCandidate(ctx, models.NewCandidateEvent(cand)); err != nil {
			i.logger.Error("Failed to publish candidate event",
				zap.String("candidate_id", cand.CandidateID),
				zap.Error(err),
			)
		}
	}

	if i.spawner != nil {
		i.spawner.Spawn(ctx, cand)
	}
}
