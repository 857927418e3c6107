package analyzer

import (
	"context"
	"fmt"
	"time"

	"vibecheck-moments/internal/models"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// CardRequest 分享卡生成请求
type CardRequest struct {
	MomentID   string              `json:"moment_id"`
	MomentType models.MomentType   `json:"moment_type"`
	Summary    string              `json:"summary"`
	Scores     models.MomentScores `json:"scores"`
	PostCopy   models.PostCopy     `json:"post_copy"`
	Theme      string              `json:"theme,omitempty"`
}

// CardResponse 分享卡生成响应
type CardResponse struct {
	CardURL string `json:"card_url"`
}

// CardClient 分享卡生成服务客户端
// 仅在时刻到达 READY 之后调用；失败只记录日志，绝不回退时刻状态
type CardClient struct {
	http   *resty.Client
	logger *zap.Logger
}

// NewCardClient 创建分享卡客户端
func NewCardClient(baseURL string, timeout time.Duration, logger *zap.Logger) *CardClient {
	httpClient := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetRetryCount(2).
		SetRetryWaitTime(time.Second).
		SetHeader("Content-Type", "application/json")

	return &CardClient{
		http:   httpClient,
		logger: logger,
	}
}

// Generate 为终态时刻生成分享卡，返回资源URL
func (c *CardClient) Generate(ctx context.Context, m *models.Moment) (string, error) {
	if m.Analysis == nil {
		return "", fmt.Errorf("moment %s has no analysis", m.MomentID)
	}

	req := CardRequest{
		MomentID:   m.MomentID,
		MomentType: m.Analysis.MomentType,
		Summary:    m.Analysis.Summary,
		Scores:     m.Analysis.Scores,
		PostCopy:   m.Analysis.PostCopy,
	}

	var cardResp CardResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(&cardResp).
		Post("/v1/cards")

	if err != nil {
		return "", fmt.Errorf("card generator request: %w", err)
	}
	if resp.StatusCode() != 200 {
		return "", fmt.Errorf("card generator returned status %d", resp.StatusCode())
	}
	if cardResp.CardURL == "" {
		return "", fmt.Errorf("card generator returned empty card_url")
	}

	c.logger.Info("Share card generated",
		zap.String("moment_id", m.MomentID),
		zap.String("card_url", cardResp.CardURL),
	)

	return cardResp.CardURL, nil
}
