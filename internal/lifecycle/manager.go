package lifecycle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"vibecheck-moments/internal/analyzer"
	"vibecheck-moments/internal/assembler"
	"vibecheck-moments/internal/buffer"
	"vibecheck-moments/internal/models"
	rediscommon "vibecheck-moments/pkg/redis"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// AnalyzerAPI 分析服务接口
type AnalyzerAPI interface {
	Analyze(ctx context.Context, req analyzer.Request) (*models.Analysis, error)
}

// CardAPI 分享卡生成接口（READY 后异步调用，失败仅记日志）
type CardAPI interface {
	Generate(ctx context.Context, m *models.Moment) (string, error)
}

// MomentStore 终态快照持久化接口
type MomentStore interface {
	SaveTerminal(ctx context.Context, m *models.Moment) error
	UpdateShareCardURL(ctx context.Context, momentID, cardURL string) error
}

// EventSink 终态事件发布接口
type EventSink interface {
	PublishMomentReady(ctx context.Context, ev models.MomentReadyEvent) error
}

// Config 生命周期管理器配置
type Config struct {
	WaitS             float64 // 反应等待上限（媒体秒）
	DefaultOffsetS    float64 // 超时兜底偏移 tr = t0 + offset
	PeakMinProminence float64
	ReactionWAudio    float64 // 反应检测音频权重（与触发权重独立，音频为主）
	ReactionWBuzz     float64

	PollInterval time.Duration // 反应轮询间隔
	WallBudget   time.Duration // 墙钟上限，流停滞时保证任务有界退出；0 则按 WaitS 推算
	Recipe       assembler.Config
	MaxKeyframes int
	StateTTL     time.Duration // Redis 状态镜像 TTL
}

// Manager 为每个候选生成独立的生命周期任务
//
// 每个 Moment 由单个 goroutine 独占驱动:
// OPEN -> WAIT_REACTION -> FINALIZE -> ANALYZING -> READY/EXPIRED/FAILED
// 终态快照通过 Results 通道交付，绝不共享可变状态
type Manager struct {
	cfg         Config
	buf         *buffer.RollingBuffer
	asm         *assembler.Assembler
	analyzerAPI AnalyzerAPI
	cardAPI     CardAPI               // 可为空
	store       MomentStore           // 可为空
	sink        EventSink             // 可为空
	redisClient *rediscommon.Client   // 可为空，状态镜像用于重启恢复观测
	logger      *zap.Logger

	results chan *models.Moment
	wg      sync.WaitGroup

	mu   sync.Mutex
	live map[string]*models.Moment
}

// NewManager 创建生命周期管理器
func NewManager(cfg Config, buf *buffer.RollingBuffer, asm *assembler.Assembler,
	analyzerAPI AnalyzerAPI, cardAPI CardAPI, store MomentStore, sink EventSink,
	redisClient *rediscommon.Client, logger *zap.Logger) *Manager {

	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 200 * time.Millisecond
	}
	if cfg.WallBudget <= 0 {
		cfg.WallBudget = time.Duration(cfg.WaitS*2)*time.Second + 10*time.Second
	}
	if cfg.MaxKeyframes <= 0 {
		cfg.MaxKeyframes = 4
	}
	if cfg.StateTTL <= 0 {
		cfg.StateTTL = 10 * time.Minute
	}

	return &Manager{
		cfg:         cfg,
		buf:         buf,
		asm:         asm,
		analyzerAPI: analyzerAPI,
		cardAPI:     cardAPI,
		store:       store,
		sink:        sink,
		redisClient: redisClient,
		logger:      logger,
		results:     make(chan *models.Moment, 64),
		live:        make(map[string]*models.Moment),
	}
}

// Results 终态 Moment 交付通道
func (m *Manager) Results() <-chan *models.Moment {
	return m.results
}

// LiveCount 当前在途任务数
func (m *Manager) LiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.live)
}

// Wait 等待所有在途任务结束
func (m *Manager) Wait() {
	m.wg.Wait()
}

// Spawn 为候选启动生命周期任务，返回初始 OPEN 状态的 Moment
func (m *Manager) Spawn(ctx context.Context, cand models.Candidate) *models.Moment {
	now := time.Now().UTC()
	mom := &models.Moment{
		MomentID:    "m_" + uuid.New().String(),
		CandidateID: cand.CandidateID,
		StreamID:    cand.StreamID,
		T0:          cand.T0,
		State:       models.StateOpen,
		Approval:    models.ApprovalPending,
		Source:      "upload",
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	m.mu.Lock()
	m.live[mom.MomentID] = mom
	m.mu.Unlock()

	m.mirrorState(ctx, mom)
	m.logger.Info("Moment lifecycle started",
		zap.String("moment_id", mom.MomentID),
		zap.String("candidate_id", cand.CandidateID),
		zap.Float64("t0", cand.T0),
	)

	m.wg.Add(1)
	go m.run(ctx, mom, cand)

	return mom
}

func (m *Manager) run(ctx context.Context, mom *models.Moment, cand models.Candidate) {
	defer m.wg.Done()

	m.transition(ctx, mom, models.StateWaitReaction)

	tr, fromPeak, err := m.waitReaction(ctx, mom.T0)
	if err != nil {
		// 仅上下文取消会走到这里；在途状态留在镜像中由 TTL 兜底
		m.logger.Warn("Lifecycle cancelled while waiting for reaction",
			zap.String("moment_id", mom.MomentID), zap.Error(err))
		m.finish(ctx, mom)
		return
	}
	mom.TR = &tr
	m.logger.Info("Reaction resolved",
		zap.String("moment_id", mom.MomentID),
		zap.Float64("tr", tr),
		zap.Bool("from_peak", fromPeak),
	)

	m.transition(ctx, mom, models.StateFinalize)

	comp, recipe, ferr := m.finalize(mom.MomentID, mom.T0, tr)
	if ferr != nil {
		mom.Reason = ferr.Error()
		m.terminal(ctx, mom, models.StateExpired)
		return
	}
	mom.Recipe = recipe

	m.transition(ctx, mom, models.StateAnalyzing)

	analysis, aerr := m.analyze(ctx, mom, cand, comp)
	if aerr != nil {
		// 分析不可恢复失败：带兜底解读进入 FAILED，配方仍然有效
		mom.Analysis = models.FallbackAnalysis(mom.T0, tr)
		mom.Reason = aerr.Error()
		m.terminal(ctx, mom, models.StateFailed)
		return
	}
	mom.Analysis = analysis

	m.terminal(ctx, mom, models.StateReady)
}

// waitReaction 轮询缓冲区等待清晰的反应峰
// 媒体时间越过 t0+WaitS 或墙钟预算耗尽时走兜底偏移
func (m *Manager) waitReaction(ctx context.Context, t0 float64) (tr float64, fromPeak bool, err error) {
	deadline := t0 + m.cfg.WaitS
	fallback := t0 + m.cfg.DefaultOffsetS

	ticker := time.NewTicker(m.cfg.PollInterval)
	defer ticker.Stop()
	wall := time.NewTimer(m.cfg.WallBudget)
	defer wall.Stop()

	for {
		select {
		case <-ctx.Done():
			return 0, false, ctx.Err()
		case <-wall.C:
			return fallback, false, nil
		case <-ticker.C:
		}

		oldest, newest, ok := m.buf.Window()
		if !ok {
			continue
		}

		start := t0
		if oldest > start {
			start = oldest
		}
		end := deadline
		if newest < end {
			end = newest
		}
		if end <= start {
			if newest >= deadline {
				return fallback, false, nil
			}
			continue
		}

		samples, serr := m.buf.SliceSignals(start, end+1e-9)
		if serr != nil {
			// 轮询与淘汰竞争，下一拍重试
			continue
		}

		if ts, found := FindReactionPeak(samples, m.cfg.ReactionWAudio, m.cfg.ReactionWBuzz, m.cfg.PeakMinProminence); found {
			return ts, true, nil
		}
		if newest >= deadline {
			return fallback, false, nil
		}
	}
}

// finalize 计算配方、按当前窗口夹取并装配媒体
// 所需区间已被淘汰或夹取后为空 -> 过期
func (m *Manager) finalize(momentID string, t0, tr float64) (*assembler.Composition, []models.RecipeSegment, error) {
	oldest, newest, ok := m.buf.Window()
	if !ok {
		return nil, nil, fmt.Errorf("buffer empty at finalize")
	}

	recipe := assembler.ClampRecipe(assembler.ComputeRecipe(t0, tr, m.cfg.Recipe), oldest, newest)

	comp, err := m.asm.Assemble(momentID, t0, tr, recipe)
	if err != nil {
		if errors.Is(err, buffer.ErrRangeEvicted) || errors.Is(err, assembler.ErrEmptyRecipe) {
			return nil, nil, fmt.Errorf("clip media no longer available: %w", err)
		}
		return nil, nil, err
	}
	return comp, recipe, nil
}

func (m *Manager) analyze(ctx context.Context, mom *models.Moment, cand models.Candidate, comp *assembler.Composition) (*models.Analysis, error) {
	var frames []*models.FrameRef
	for _, seg := range comp.Segments {
		frames = append(frames, seg.Frames...)
	}

	req := analyzer.Request{
		MomentID: mom.MomentID,
		T0:       mom.T0,
		TR:       *mom.TR,
		Recipe:   mom.Recipe,
		Frames:   analyzer.SelectKeyframes(frames, mom.T0, *mom.TR, m.cfg.MaxKeyframes),
		Signals: analyzer.SignalSummary{
			Motion:   cand.Signals.Motion,
			AudioRMS: cand.Signals.AudioRMS,
			Buzz:     cand.Signals.Buzz,
		},
	}

	return m.analyzerAPI.Analyze(ctx, req)
}

// terminal 落终态：持久化快照、发布事件、触发分享卡生成
func (m *Manager) terminal(ctx context.Context, mom *models.Moment, state models.MomentState) {
	mom.State = state
	mom.UpdatedAt = time.Now().UTC()

	m.logger.Info("Moment reached terminal state",
		zap.String("moment_id", mom.MomentID),
		zap.String("state", string(state)),
		zap.String("reason", mom.Reason),
	)

	if m.store != nil {
		if err := m.store.SaveTerminal(ctx, mom); err != nil {
			m.logger.Error("Failed to persist terminal moment",
				zap.String("moment_id", mom.MomentID), zap.Error(err))
		}
	}

	if state == models.StateReady && m.sink != nil {
		if err := m.sink.PublishMomentReady(ctx, models.NewMomentReadyEvent(mom)); err != nil {
			m.logger.Error("Failed to publish moment.ready",
				zap.String("moment_id", mom.MomentID), zap.Error(err))
		}
	}

	// 分享卡在交付前生成：Results 发出的终态快照此后不再被改写
	if state == models.StateReady && m.cardAPI != nil {
		m.generateCard(ctx, mom)
	}

	m.clearMirror(ctx, mom.MomentID)
	m.finish(ctx, mom)
}

func (m *Manager) finish(ctx context.Context, mom *models.Moment) {
	m.mu.Lock()
	delete(m.live, mom.MomentID)
	m.mu.Unlock()

	select {
	case m.results <- mom:
	case <-ctx.Done():
	}
}

// generateCard 分享卡生成失败不影响终态，仅记日志
func (m *Manager) generateCard(ctx context.Context, mom *models.Moment) {
	cardURL, err := m.cardAPI.Generate(ctx, mom)
	if err != nil {
		m.logger.Warn("Share card generation failed",
			zap.String("moment_id", mom.MomentID), zap.Error(err))
		return
	}
	mom.ShareCard = &cardURL

	if m.store != nil {
		if err := m.store.UpdateShareCardURL(ctx, mom.MomentID, cardURL); err != nil {
			m.logger.Error("Failed to save share card URL",
				zap.String("moment_id", mom.MomentID), zap.Error(err))
		}
	}
}

func (m *Manager) transition(ctx context.Context, mom *models.Moment, state models.MomentState) {
	mom.State = state
	mom.UpdatedAt = time.Now().UTC()
	m.logger.Debug("Moment state transition",
		zap.String("moment_id", mom.MomentID),
		zap.String("state", string(state)),
	)
	m.mirrorState(ctx, mom)
}

// stateMirror Redis 中的在途状态镜像，供运维观测与重启后识别遗留任务
type stateMirror struct {
	State     string   `json:"state"`
	T0        float64  `json:"t0"`
	TR        *float64 `json:"tr,omitempty"`
	UpdatedAt int64    `json:"updated_at"`
}

func (m *Manager) mirrorKey(momentID string) string {
	return "vibecheck:moment:" + momentID + ":state"
}

func (m *Manager) mirrorState(ctx context.Context, mom *models.Moment) {
	if m.redisClient == nil {
		return
	}
	payload, err := json.Marshal(stateMirror{
		State:     string(mom.State),
		T0:        mom.T0,
		TR:        mom.TR,
		UpdatedAt: mom.UpdatedAt.Unix(),
	})
	if err != nil {
		return
	}
	if err := m.redisClient.Set(ctx, m.mirrorKey(mom.MomentID), payload, m.cfg.StateTTL).Err(); err != nil {
		m.logger.Warn("Failed to mirror moment state",
			zap.String("moment_id", mom.MomentID), zap.Error(err))
	}
}

func (m *Manager) clearMirror(ctx context.Context, momentID string) {
	if m.redisClient == nil {
		return
	}
	if err := m.redisClient.Del(ctx, m.mirrorKey(momentID)).Err(); err != nil {
		m.logger.Warn("Failed to clear moment state mirror",
			zap.String("moment_id", momentID), zap.Error(err))
	}
}
