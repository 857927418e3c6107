package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"vibecheck-moments/internal/models"

	"go.uber.org/zap"
)

// ErrMomentNotFound 指定的 moment 不存在
var ErrMomentNotFound = errors.New("moment not found")

// MomentsRepository 终态时刻快照仓库
// 在途状态由生命周期任务独占持有，这里只落终态与审批流转
type MomentsRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewMomentsRepository 创建时刻快照仓库
func NewMomentsRepository(db *sql.DB, logger *zap.Logger) *MomentsRepository {
	return &MomentsRepository{
		db:     db,
		logger: logger,
	}
}

// MomentFilters 时刻列表过滤条件
type MomentFilters struct {
	StreamID *string  // 按流过滤
	States   []string // 终态列表（IN 查询）
	Approval *string  // 审批状态
	MinT0    *float64 // t0 >= MinT0
	MaxT0    *float64 // t0 <= MaxT0
}

// SaveTerminal 落终态快照（幂等：重复落同一 moment_id 以最新为准）
func (r *MomentsRepository) SaveTerminal(ctx context.Context, m *models.Moment) error {
	if m == nil {
		return fmt.Errorf("moment is required")
	}
	if m.MomentID == "" {
		return fmt.Errorf("moment_id is required")
	}
	if !m.State.IsTerminal() {
		return fmt.Errorf("moment %s is not in a terminal state: %s", m.MomentID, m.State)
	}

	recipeJSON, err := json.Marshal(m.Recipe)
	if err != nil {
		return fmt.Errorf("failed to marshal clip recipe: %w", err)
	}
	var analysisJSON []byte
	if m.Analysis != nil {
		analysisJSON, err = json.Marshal(m.Analysis)
		if err != nil {
			return fmt.Errorf("failed to marshal analysis: %w", err)
		}
	}

	query := `
		INSERT INTO moments (
			moment_id,
			candidate_id,
			stream_id,
			t0,
			tr,
			state,
			reason,
			clip_recipe,
			analysis,
			clip_url,
			share_card_url,
			approval_status,
			source,
			session_id,
			created_at,
			updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16
		)
		ON CONFLICT (moment_id) DO UPDATE SET
			tr = EXCLUDED.tr,
			state = EXCLUDED.state,
			reason = EXCLUDED.reason,
			clip_recipe = EXCLUDED.clip_recipe,
			analysis = EXCLUDED.analysis,
			clip_url = EXCLUDED.clip_url,
			share_card_url = EXCLUDED.share_card_url,
			updated_at = EXCLUDED.updated_at
	`

	_, err = r.db.ExecContext(ctx, query,
		m.MomentID,
		m.CandidateID,
		m.StreamID,
		m.T0,
		m.TR,
		string(m.State),
		m.Reason,
		recipeJSON,
		analysisJSON,
		m.ClipURL,
		m.ShareCard,
		m.Approval,
		m.Source,
		m.SessionID,
		m.CreatedAt,
		m.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save terminal moment: %w", err)
	}

	return nil
}

const momentColumns = `
		moment_id,
		candidate_id,
		stream_id,
		t0,
		tr,
		state,
		reason,
		clip_recipe,
		analysis,
		clip_url,
		share_card_url,
		approval_status,
		source,
		session_id,
		created_at,
		updated_at`

// scanMoment 扫描一行并处理可空/JSONB 字段
func scanMoment(scan func(dest ...interface{}) error) (*models.Moment, error) {
	var m models.Moment
	var state, reason string
	var tr sql.NullFloat64
	var clipURL, shareCard, sessionID sql.NullString
	var recipeJSON, analysisJSON []byte

	err := scan(
		&m.MomentID,
		&m.CandidateID,
		&m.StreamID,
		&m.T0,
		&tr,
		&state,
		&reason,
		&recipeJSON,
		&analysisJSON,
		&clipURL,
		&shareCard,
		&m.Approval,
		&m.Source,
		&sessionID,
		&m.CreatedAt,
		&m.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	m.State = models.MomentState(state)
	m.Reason = reason

	if tr.Valid {
		m.TR = &tr.Float64
	}
	if clipURL.Valid {
		m.ClipURL = &clipURL.String
	}
	if shareCard.Valid {
		m.ShareCard = &shareCard.String
	}
	if sessionID.Valid {
		m.SessionID = &sessionID.String
	}

	if len(recipeJSON) > 0 {
		if err := json.Unmarshal(recipeJSON, &m.Recipe); err != nil {
			return nil, fmt.Errorf("failed to unmarshal clip recipe: %w", err)
		}
	}
	if len(analysisJSON) > 0 {
		var analysis models.Analysis
		if err := json.Unmarshal(analysisJSON, &analysis); err != nil {
			return nil, fmt.Errorf("failed to unmarshal analysis: %w", err)
		}
		m.Analysis = &analysis
	}

	return &m, nil
}

// GetMoment 根据 moment_id 获取单条快照
func (r *MomentsRepository) GetMoment(ctx context.Context, momentID string) (*models.Moment, error) {
	if momentID == "" {
		return nil, fmt.Errorf("moment_id is required")
	}

	query := fmt.Sprintf(`
		SELECT %s
		FROM moments
		WHERE moment_id = $1
	`, momentColumns)

	row := r.db.QueryRowContext(ctx, query, momentID)
	m, err := scanMoment(row.Scan)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("%w: moment_id=%s", ErrMomentNotFound, momentID)
		}
		return nil, fmt.Errorf("failed to get moment: %w", err)
	}

	return m, nil
}

// ListMoments 列表查询（支持多条件过滤、分页，按 created_at 倒序）
func (r *MomentsRepository) ListMoments(ctx context.Context, filters MomentFilters, page, size int) ([]*models.Moment, int, error) {
	args := []interface{}{}
	argN := 1
	where := []string{}

	if filters.StreamID != nil {
		where = append(where, fmt.Sprintf("stream_id = $%d", argN))
		args = append(args, *filters.StreamID)
		argN++
	}
	if len(filters.States) > 0 {
		placeholders := make([]string, len(filters.States))
		for i := range filters.States {
			placeholders[i] = fmt.Sprintf("$%d", argN)
			args = append(args, filters.States[i])
			argN++
		}
		where = append(where, fmt.Sprintf("state IN (%s)", strings.Join(placeholders, ", ")))
	}
	if filters.Approval != nil {
		where = append(where, fmt.Sprintf("approval_status = $%d", argN))
		args = append(args, *filters.Approval)
		argN++
	}
	if filters.MinT0 != nil {
		where = append(where, fmt.Sprintf("t0 >= $%d", argN))
		args = append(args, *filters.MinT0)
		argN++
	}
	if filters.MaxT0 != nil {
		where = append(where, fmt.Sprintf("t0 <= $%d", argN))
		args = append(args, *filters.MaxT0)
		argN++
	}

	whereClause := ""
	if len(where) > 0 {
		whereClause = "WHERE " + strings.Join(where, " AND ")
	}

	queryCount := fmt.Sprintf(`
		SELECT COUNT(*)
		FROM moments
		%s
	`, whereClause)

	var total int
	if err := r.db.QueryRowContext(ctx, queryCount, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count moments: %w", err)
	}

	if page <= 0 {
		page = 1
	}
	if size <= 0 {
		size = 20
	}
	offset := (page - 1) * size

	query := fmt.Sprintf(`
		SELECT %s
		FROM moments
		%s
		ORDER BY created_at DESC
		LIMIT $%d OFFSET $%d
	`, momentColumns, whereClause, argN, argN+1)
	args = append(args, size, offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query moments: %w", err)
	}
	defer rows.Close()

	moments := []*models.Moment{}
	for rows.Next() {
		m, err := scanMoment(rows.Scan)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan moment: %w", err)
		}
		moments = append(moments, m)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("failed to iterate moments: %w", err)
	}

	return moments, total, nil
}

// ListReadyMoments 获取待审阅的成功时刻
func (r *MomentsRepository) ListReadyMoments(ctx context.Context, streamID string, page, size int) ([]*models.Moment, int, error) {
	filters := MomentFilters{States: []string{string(models.StateReady)}}
	if streamID != "" {
		filters.StreamID = &streamID
	}
	return r.ListMoments(ctx, filters, page, size)
}

// UpdateApprovalStatus 更新审批状态
func (r *MomentsRepository) UpdateApprovalStatus(ctx context.Context, momentID, status string) error {
	if momentID == "" {
		return fmt.Errorf("moment_id is required")
	}

	validStatuses := map[string]bool{
		models.ApprovalPending:    true,
		models.ApprovalSentToExec: true,
		models.ApprovalApproved:   true,
		models.ApprovalHeld:       true,
	}
	if !validStatuses[status] {
		return fmt.Errorf("invalid approval status: %s", status)
	}

	query := `
		UPDATE moments
		SET approval_status = $1,
		    updated_at = CURRENT_TIMESTAMP
		WHERE moment_id = $2
	`

	result, err := r.db.ExecContext(ctx, query, status, momentID)
	if err != nil {
		return fmt.Errorf("failed to update approval status: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("%w: moment_id=%s", ErrMomentNotFound, momentID)
	}

	return nil
}

// UpdateShareCardURL 回填分享卡地址
func (r *MomentsRepository) UpdateShareCardURL(ctx context.Context, momentID, cardURL string) error {
	if momentID == "" {
		return fmt.Errorf("moment_id is required")
	}
	if cardURL == "" {
		return fmt.Errorf("card_url is required")
	}

	query := `
		UPDATE moments
		SET share_card_url = $1,
		    updated_at = CURRENT_TIMESTAMP
		WHERE moment_id = $2
	`

	result, err := r.db.ExecContext(ctx, query, cardURL, momentID)
	if err != nil {
		return fmt.Errorf("failed to update share card url: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("%w: moment_id=%s", ErrMomentNotFound, momentID)
	}

	return nil
}

// UpdateClipURL 渲染完成后回填剪辑地址
func (r *MomentsRepository) UpdateClipURL(ctx context.Context, momentID, clipURL string) error {
	if momentID == "" {
		return fmt.Errorf("moment_id is required")
	}
	if clipURL == "" {
		return fmt.Errorf("clip_url is required")
	}

	query := `
		UPDATE moments
		SET clip_url = $1,
		    updated_at = CURRENT_TIMESTAMP
		WHERE moment_id = $2
	`

	result, err := r.db.ExecContext(ctx, query, clipURL, momentID)
	if err != nil {
		return fmt.Errorf("failed to update clip url: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("%w: moment_id=%s", ErrMomentNotFound, momentID)
	}

	return nil
}
