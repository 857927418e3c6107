package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"vibecheck-moments/internal/models"
)

func setupMockMomentsDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock, *MomentsRepository) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	logger := zap.NewNop()
	repo := NewMomentsRepository(db, logger)

	return db, mock, repo
}

func terminalMoment() *models.Moment {
	tr := 28.0
	now := time.Now().UTC()
	return &models.Moment{
		MomentID:    "m_test",
		CandidateID: "c_test",
		StreamID:    "s_test",
		T0:          10.0,
		TR:          &tr,
		State:       models.StateReady,
		Recipe: []models.RecipeSegment{
			{Label: models.LabelReactionLead, StartS: 26, EndS: 32},
			{Label: models.LabelPlay, StartS: 4, EndS: 14},
			{Label: models.LabelReactionButton, StartS: 32, EndS: 36},
		},
		Analysis: &models.Analysis{
			MomentType: models.MomentGoal,
			Summary:    "Late equalizer",
			Scores:     models.MomentScores{Hype: 90, Risk: 5},
			PostCopy: models.PostCopy{
				Hype: "GOAL!", Neutral: "A goal.", BrandSafe: "A goal.",
			},
		},
		Approval:  models.ApprovalPending,
		Source:    "upload",
		CreatedAt: now,
		UpdatedAt: now,
	}
}

var momentColumnNames = []string{
	"moment_id", "candidate_id", "stream_id", "t0", "tr", "state",
	"reason", "clip_recipe", "analysis", "clip_url", "share_card_url",
	"approval_status", "source", "session_id", "created_at", "updated_at",
}

// ============================================
// 终态落库
// ============================================

func TestSaveTerminal_Success(t *testing.T) {
	db, mock, repo := setupMockMomentsDB(t)
	defer db.Close()

	m := terminalMoment()

	mock.ExpectExec(`INSERT INTO moments`).
		WithArgs(
			m.MomentID, m.CandidateID, m.StreamID, m.T0, m.TR,
			string(models.StateReady), "", sqlmock.AnyArg(), sqlmock.AnyArg(),
			nil, nil, models.ApprovalPending, "upload", nil,
			m.CreatedAt, m.UpdatedAt,
		).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.SaveTerminal(context.Background(), m)

	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveTerminal_RejectsNonTerminalState(t *testing.T) {
	db, mock, repo := setupMockMomentsDB(t)
	defer db.Close()

	m := terminalMoment()
	m.State = models.StateAnalyzing

	err := repo.SaveTerminal(context.Background(), m)

	assert.Error(t, err)
	assert.Contains(t, err.Error(), "not in a terminal state")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveTerminal_FailedMomentWithFallbackAnalysis(t *testing.T) {
	db, mock, repo := setupMockMomentsDB(t)
	defer db.Close()

	m := terminalMoment()
	m.State = models.StateFailed
	m.Reason = "analyzer failed after 3 attempts"
	m.Analysis = models.FallbackAnalysis(m.T0, *m.TR)

	mock.ExpectExec(`INSERT INTO moments`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.SaveTerminal(context.Background(), m)

	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

// ============================================
// 查询
// ============================================

func TestGetMoment_Success(t *testing.T) {
	db, mock, repo := setupMockMomentsDB(t)
	defer db.Close()

	src := terminalMoment()
	recipeJSON, err := json.Marshal(src.Recipe)
	require.NoError(t, err)
	analysisJSON, err := json.Marshal(src.Analysis)
	require.NoError(t, err)

	rows := sqlmock.NewRows(momentColumnNames).AddRow(
		src.MomentID, src.CandidateID, src.StreamID, src.T0, *src.TR,
		string(src.State), "", recipeJSON, analysisJSON, nil, nil,
		src.Approval, src.Source, nil, src.CreatedAt, src.UpdatedAt,
	)

	mock.ExpectQuery(`SELECT`).
		WithArgs(src.MomentID).
		WillReturnRows(rows)

	m, err := repo.GetMoment(context.Background(), src.MomentID)

	require.NoError(t, err)
	assert.Equal(t, src.MomentID, m.MomentID)
	assert.Equal(t, models.StateReady, m.State)
	require.NotNil(t, m.TR)
	assert.Equal(t, 28.0, *m.TR)
	require.Len(t, m.Recipe, 3)
	assert.Equal(t, models.LabelReactionLead, m.Recipe[0].Label)
	require.NotNil(t, m.Analysis)
	assert.Equal(t, models.MomentGoal, m.Analysis.MomentType)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetMoment_NotFound(t *testing.T) {
	db, mock, repo := setupMockMomentsDB(t)
	defer db.Close()

	mock.ExpectQuery(`SELECT`).
		WithArgs("m_missing").
		WillReturnError(sql.ErrNoRows)

	m, err := repo.GetMoment(context.Background(), "m_missing")

	assert.Nil(t, m)
	assert.ErrorIs(t, err, ErrMomentNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListMoments_FilterByStreamAndState(t *testing.T) {
	db, mock, repo := setupMockMomentsDB(t)
	defer db.Close()

	src := terminalMoment()
	recipeJSON, err := json.Marshal(src.Recipe)
	require.NoError(t, err)

	mock.ExpectQuery(`SELECT COUNT`).
		WithArgs("s_test", string(models.StateReady)).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	rows := sqlmock.NewRows(momentColumnNames).AddRow(
		src.MomentID, src.CandidateID, src.StreamID, src.T0, *src.TR,
		string(src.State), "", recipeJSON, nil, nil, nil,
		src.Approval, src.Source, nil, src.CreatedAt, src.UpdatedAt,
	)
	mock.ExpectQuery(`SELECT`).
		WithArgs("s_test", string(models.StateReady), 20, 0).
		WillReturnRows(rows)

	streamID := "s_test"
	moments, total, err := repo.ListMoments(context.Background(), MomentFilters{
		StreamID: &streamID,
		States:   []string{string(models.StateReady)},
	}, 1, 20)

	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, moments, 1)
	assert.Nil(t, moments[0].Analysis)
	require.NoError(t, mock.ExpectationsWereMet())
}

// ============================================
// 审批与回填
// ============================================

func TestUpdateApprovalStatus_Success(t *testing.T) {
	db, mock, repo := setupMockMomentsDB(t)
	defer db.Close()

	mock.ExpectExec(`UPDATE moments`).
		WithArgs(models.ApprovalApproved, "m_test").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.UpdateApprovalStatus(context.Background(), "m_test", models.ApprovalApproved)

	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateApprovalStatus_InvalidStatus(t *testing.T) {
	db, mock, repo := setupMockMomentsDB(t)
	defer db.Close()

	err := repo.UpdateApprovalStatus(context.Background(), "m_test", "vetoed")

	assert.Error(t, err)
	assert.Contains(t, err.Error(), "invalid approval status")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateApprovalStatus_NotFound(t *testing.T) {
	db, mock, repo := setupMockMomentsDB(t)
	defer db.Close()

	mock.ExpectExec(`UPDATE moments`).
		WithArgs(models.ApprovalHeld, "m_missing").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.UpdateApprovalStatus(context.Background(), "m_missing", models.ApprovalHeld)

	assert.ErrorIs(t, err, ErrMomentNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateShareCardURL_Success(t *testing.T) {
	db, mock, repo := setupMockMomentsDB(t)
	defer db.Close()

	mock.ExpectExec(`UPDATE moments`).
		WithArgs("https://cards.example.com/m_test.png", "m_test").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.UpdateShareCardURL(context.Background(), "m_test", "https://cards.example.com/m_test.png")

	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateClipURL_NotFound(t *testing.T) {
	db, mock, repo := setupMockMomentsDB(t)
	defer db.Close()

	mock.ExpectExec(`UPDATE moments`).
		WithArgs("https://clips.example.com/m_missing.mp4", "m_missing").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.UpdateClipURL(context.Background(), "m_missing", "https://clips.example.com/m_missing.mp4")

	assert.ErrorIs(t, err, ErrMomentNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}
