package assembler

import (
	"errors"
	"fmt"

	"vibecheck-moments/internal/buffer"
	"vibecheck-moments/internal/models"

	"go.uber.org/zap"
)

// ErrEmptyRecipe 钳制后所有片段都被丢弃，无法产出非空合成
var ErrEmptyRecipe = errors.New("clip recipe is empty after clamping")

// Config 配方片段时长配置（秒）
type Config struct {
	LeadBeforeS  float64 // reaction_lead 起点在 tr 之前的长度
	LeadAfterS   float64 // reaction_lead 终点在 tr 之后的长度
	PlayBeforeS  float64 // play 起点在 t0 之前的长度
	PlayAfterS   float64 // play 终点在 t0 之后的长度
	ButtonS      float64 // reaction_button 长度（紧接 reaction_lead 之后）
}

// DefaultConfig 默认配方策略
func DefaultConfig() Config {
	return Config{
		LeadBeforeS: 2,
		LeadAfterS:  4,
		PlayBeforeS: 6,
		PlayAfterS:  4,
		ButtonS:     4,
	}
}

// SegmentMedia 一个片段及其从缓冲区取出的媒体切片
type SegmentMedia struct {
	Segment models.RecipeSegment
	Frames  []*models.FrameRef
	Samples []models.Sample
}

// Composition 交给外部编码/拼接步骤的合成任务
// 装配器职责到此为止：有序、已钳制、已校验的区间列表 + 实际媒体切片
type Composition struct {
	MomentID string
	T0       float64
	TR       float64
	Segments []SegmentMedia
}

// ComputeRecipe 由 t0/tr 计算默认配方（reaction-first 叙事顺序）
// reaction_lead = [tr-2, tr+4), play = [t0-6, t0+4), reaction_button = [tr+4, tr+8)
func ComputeRecipe(t0, tr float64, cfg Config) []models.RecipeSegment {
	return []models.RecipeSegment{
		{Label: models.LabelReactionLead, StartS: tr - cfg.LeadBeforeS, EndS: tr + cfg.LeadAfterS},
		{Label: models.LabelPlay, StartS: t0 - cfg.PlayBeforeS, EndS: t0 + cfg.PlayAfterS},
		{Label: models.LabelReactionButton, StartS: tr + cfg.LeadAfterS, EndS: tr + cfg.LeadAfterS + cfg.ButtonS},
	}
}

// ClampRecipe 将每个片段独立钳制到保留窗口与流有效时间范围内
// 钳制后时长非正的片段被丢弃；对已钳制配方重复钳制是幂等操作
func ClampRecipe(recipe []models.RecipeSegment, oldest, newest float64) []models.RecipeSegment {
	lo := oldest
	if lo < 0 {
		lo = 0 // 流时间轴起点
	}
	out := make([]models.RecipeSegment, 0, len(recipe))
	for _, seg := range recipe {
		s, e := seg.StartS, seg.EndS
		if s < lo {
			s = lo
		}
		if e > newest {
			e = newest
		}
		if e-s <= 0 {
			continue
		}
		out = append(out, models.RecipeSegment{Label: seg.Label, StartS: s, EndS: e})
	}
	return out
}

// Assembler 剪辑装配器：确定性地按配方切片 Rolling Buffer
type Assembler struct {
	buf    *buffer.RollingBuffer
	logger *zap.Logger
}

// NewAssembler 创建装配器
func NewAssembler(buf *buffer.RollingBuffer, logger *zap.Logger) *Assembler {
	return &Assembler{buf: buf, logger: logger}
}

// Assemble 按已钳制的有序配方取出媒体切片
// 任一片段范围已被淘汰时返回 buffer.ErrRangeEvicted（可恢复的数据丢失错误）
func (a *Assembler) Assemble(momentID string, t0, tr float64, recipe []models.RecipeSegment) (*Composition, error) {
	if len(recipe) == 0 {
		return nil, ErrEmptyRecipe
	}

	comp := &Composition{
		MomentID: momentID,
		T0:       t0,
		TR:       tr,
		Segments: make([]SegmentMedia, 0, len(recipe)),
	}

	for _, seg := range recipe {
		frames, err := a.buf.SliceFrames(seg.StartS, seg.EndS)
		if err != nil {
			return nil, fmt.Errorf("segment %s [%.2f,%.2f): %w", seg.Label, seg.StartS, seg.EndS, err)
		}
		samples, err := a.buf.SliceSignals(seg.StartS, seg.EndS)
		if err != nil {
			return nil, fmt.Errorf("segment %s [%.2f,%.2f): %w", seg.Label, seg.StartS, seg.EndS, err)
		}
		comp.Segments = append(comp.Segments, SegmentMedia{
			Segment: seg,
			Frames:  frames,
			Samples: samples,
		})
	}

	a.logger.Info("Clip composition assembled",
		zap.String("moment_id", momentID),
		zap.Float64("t0", t0),
		zap.Float64("tr", tr),
		zap.Int("segments", len(comp.Segments)),
	)

	return comp, nil
}
