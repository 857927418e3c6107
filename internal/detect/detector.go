package detect

import (
	"vibecheck-moments/internal/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Config 检测器配置
type Config struct {
	WMotion    float64 // 运动信号权重
	WAudio     float64 // 音频信号权重
	WBuzz      float64 // buzz信号权重
	Threshold  float64 // 触发阈值（作用于平滑后的复合评分）
	CooldownS  float64 // 去抖冷却时长（秒）
	SmoothingS float64 // 平滑窗口（秒），抑制单帧噪声
}

type scorePoint struct {
	ts    float64
	score float64
}

// Detector 候选检测器（阶段A：廉价信号阈值 + 去抖）
// 对信号流做有状态的阈值判定；在采集循环内同步运行，不得阻塞
type Detector struct {
	cfg      Config
	streamID string
	logger   *zap.Logger

	recent      []scorePoint // 平滑窗口内的原始评分
	prevSmooth  float64
	hasPrev     bool
	lastTrigger float64
	triggered   bool
	count       uint64
}

// NewDetector 创建检测器
func NewDetector(cfg Config, streamID string, logger *zap.Logger) *Detector {
	return &Detector{
		cfg:      cfg,
		streamID: streamID,
		logger:   logger,
	}
}

// rawScore 复合评分 w_m·motion + w_a·audio + w_b·buzz
func (d *Detector) rawScore(s models.Sample) float64 {
	return d.cfg.WMotion*s.Motion + d.cfg.WAudio*s.AudioRMS + d.cfg.WBuzz*s.Buzz
}

// Smoothed 当前样本的平滑评分（拖尾窗口均值）
func (d *Detector) smoothed(ts float64) float64 {
	// 丢弃窗口外的旧评分
	cut := 0
	for cut < len(d.recent) && d.recent[cut].ts < ts-d.cfg.SmoothingS {
		cut++
	}
	d.recent = d.recent[cut:]

	var sum float64
	for _, p := range d.recent {
		sum += p.score
	}
	return sum / float64(len(d.recent))
}

// Process 处理一个样本，触发时返回候选（否则返回nil）
//
// 触发规则：平滑评分上穿阈值，且距上次触发至少一个冷却时长
// 冷却窗口内的多次上穿坍缩为最早一次；漏检是阈值调参的可接受代价，不做恢复
func (d *Detector) Process(s models.Sample) *models.Candidate {
	d.recent = append(d.recent, scorePoint{ts: s.Timestamp, score: d.rawScore(s)})
	smooth := d.smoothed(s.Timestamp)

	prevBelow := !d.hasPrev || d.prevSmooth < d.cfg.Threshold
	d.prevSmooth = smooth
	d.hasPrev = true

	if smooth < d.cfg.Threshold || !prevBelow {
		return nil
	}

	// 上穿阈值：检查冷却
	if d.triggered && s.Timestamp-d.lastTrigger < d.cfg.CooldownS {
		d.logger.Debug("Candidate suppressed by cooldown",
			zap.Float64("timestamp", s.Timestamp),
			zap.Float64("last_trigger", d.lastTrigger),
		)
		return nil
	}

	d.lastTrigger = s.Timestamp
	d.triggered = true
	d.count++

	cand := &models.Candidate{
		CandidateID: "c_" + uuid.New().String(),
		StreamID:    d.streamID,
		T0:          s.Timestamp,
		Signals: models.CandidateSignals{
			Motion:   s.Motion,
			AudioRMS: s.AudioRMS,
			Buzz:     s.Buzz,
		},
	}

	d.logger.Info("Candidate detected",
		zap.String("candidate_id", cand.CandidateID),
		zap.Float64("t0", cand.T0),
		zap.Float64("score", smooth),
		zap.Float64("motion", s.Motion),
		zap.Float64("audio_rms", s.AudioRMS),
		zap.Float64("buzz", s.Buzz),
	)

	return cand
}

// TriggerCount 累计触发次数
func (d *Detector) TriggerCount() uint64 {
	return d.count
}

// Reset 重置检测状态（切换流时使用）
func (d *Detector) Reset() {
	d.recent = d.recent[:0]
	d.hasPrev = false
	d.triggered = false
	d.count = 0
}
