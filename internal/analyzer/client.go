package analyzer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"vibecheck-moments/internal/models"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// ErrMalformedAnalysis 分析服务返回不符合固定schema（按可重试失败处理）
var ErrMalformedAnalysis = errors.New("analyzer response does not conform to schema")

// SignalSummary 触发与反应时刻的信号摘要
type SignalSummary struct {
	Motion   float64 `json:"motion"`
	AudioRMS float64 `json:"audio_rms"`
	Buzz     float64 `json:"buzz"`
}

// Keyframe 随请求附带的代表帧
type Keyframe struct {
	Timestamp float64 `json:"timestamp"`
	Width     int     `json:"width"`
	Height    int     `json:"height"`
	Data      []byte  `json:"data"` // JSON 序列化时自动 base64
}

// Request 分析请求（边界契约见外部接口约定）
type Request struct {
	MomentID string                 `json:"moment_id"`
	T0       float64                `json:"t0"`
	TR       float64                `json:"tr"`
	Recipe   []models.RecipeSegment `json:"recipe"`
	Frames   []Keyframe             `json:"sampled_frames"`
	Signals  SignalSummary          `json:"signal_summary"`
}

// Client 分析服务客户端
// 显式超时 + 有界重试退避；绝不在采集路径上内联调用
type Client struct {
	http    *resty.Client
	retries int
	backoff time.Duration
	logger  *zap.Logger
}

// NewClient 创建分析服务客户端
// retries 为失败后的额外尝试次数（总尝试 = retries+1）
func NewClient(baseURL string, timeout time.Duration, retries int, logger *zap.Logger) *Client {
	httpClient := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")

	return &Client{
		http:    httpClient,
		retries: retries,
		backoff: time.Second,
		logger:  logger,
	}
}

// Analyze 调用分析服务并校验结构化响应
// 传输错误与schema不符都消耗重试预算；预算耗尽后返回最后一个错误
func (c *Client) Analyze(ctx context.Context, req Request) (*models.Analysis, error) {
	var lastErr error
	backoff := c.backoff

	for attempt := 0; attempt <= c.retries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}

		analysis, err := c.analyzeOnce(ctx, req)
		if err == nil {
			return analysis, nil
		}
		lastErr = err

		c.logger.Warn("Analyzer call failed",
			zap.String("moment_id", req.MomentID),
			zap.Int("attempt", attempt+1),
			zap.Int("max_attempts", c.retries+1),
			zap.Error(err),
		)

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}

	return nil, fmt.Errorf("analyzer failed after %d attempts: %w", c.retries+1, lastErr)
}

func (c *Client) analyzeOnce(ctx context.Context, req Request) (*models.Analysis, error) {
	var analysis models.Analysis

	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(&analysis).
		Post("/v1/moments/analyze")

	if err != nil {
		return nil, fmt.Errorf("analyzer request: %w", err)
	}
	if resp.StatusCode() != 200 {
		return nil, fmt.Errorf("analyzer returned status %d: %s", resp.StatusCode(), resp.String())
	}

	if err := ValidateAnalysis(&analysis); err != nil {
		return nil, err
	}

	return &analysis, nil
}

// ValidateAnalysis 校验响应是否符合固定schema
// 缺字段或越界值一律视为 ErrMalformedAnalysis
func ValidateAnalysis(a *models.Analysis) error {
	if a == nil {
		return fmt.Errorf("%w: empty response", ErrMalformedAnalysis)
	}
	if !models.ValidMomentType(a.MomentType) {
		return fmt.Errorf("%w: unknown moment_type %q", ErrMalformedAnalysis, a.MomentType)
	}
	if a.Summary == "" {
		return fmt.Errorf("%w: missing summary", ErrMalformedAnalysis)
	}
	if a.Scores.Hype < 0 || a.Scores.Hype > 100 {
		return fmt.Errorf("%w: hype score %d out of range", ErrMalformedAnalysis, a.Scores.Hype)
	}
	if a.Scores.Risk < 0 || a.Scores.Risk > 100 {
		return fmt.Errorf("%w: risk score %d out of range", ErrMalformedAnalysis, a.Scores.Risk)
	}
	for _, seg := range a.ClipRecipe {
		if seg.StartS >= seg.EndS {
			return fmt.Errorf("%w: recipe segment %s has non-positive duration", ErrMalformedAnalysis, seg.Label)
		}
	}
	if a.PostCopy.Hype == "" || a.PostCopy.Neutral == "" || a.PostCopy.BrandSafe == "" {
		return fmt.Errorf("%w: incomplete post_copy variants", ErrMalformedAnalysis)
	}
	return nil
}
