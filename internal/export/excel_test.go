package export

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"vibecheck-moments/internal/models"
)

func reportMoments() []*models.Moment {
	tr := 28.0
	card := "https://cards.example.com/m_1.png"
	return []*models.Moment{
		{
			MomentID: "m_1",
			StreamID: "s_arena",
			T0:       10.0,
			TR:       &tr,
			State:    models.StateReady,
			Recipe: []models.RecipeSegment{
				{Label: models.LabelReactionLead, StartS: 26, EndS: 32},
				{Label: models.LabelPlay, StartS: 4, EndS: 14},
			},
			Analysis: &models.Analysis{
				MomentType: models.MomentGoal,
				Summary:    "Late equalizer",
				Scores:     models.MomentScores{Hype: 92, Risk: 5},
			},
			ShareCard: &card,
			Approval:  models.ApprovalApproved,
			CreatedAt: time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC),
		},
		{
			MomentID:  "m_2",
			StreamID:  "s_arena",
			T0:        55.0,
			State:     models.StateExpired,
			Reason:    "clip media no longer available",
			Approval:  models.ApprovalPending,
			CreatedAt: time.Date(2026, 8, 1, 12, 5, 0, 0, time.UTC),
		},
	}
}

func TestGenerateMomentsReport(t *testing.T) {
	data, err := GenerateMomentsReport(reportMoments())
	require.NoError(t, err)
	require.NotEmpty(t, data)

	f, err := excelize.OpenReader(bytes.NewReader(data))
	require.NoError(t, err)
	defer f.Close()

	// 表头
	v, err := f.GetCellValue("Moments", "A1")
	require.NoError(t, err)
	assert.Equal(t, "Moment ID", v)

	// READY 行
	v, err = f.GetCellValue("Moments", "A2")
	require.NoError(t, err)
	assert.Equal(t, "m_1", v)
	v, err = f.GetCellValue("Moments", "C2")
	require.NoError(t, err)
	assert.Equal(t, "READY", v)
	v, err = f.GetCellValue("Moments", "E2")
	require.NoError(t, err)
	assert.Equal(t, "28.0", v)
	v, err = f.GetCellValue("Moments", "F2")
	require.NoError(t, err)
	assert.Equal(t, "goal", v)
	v, err = f.GetCellValue("Moments", "J2")
	require.NoError(t, err)
	assert.Equal(t, "reaction_lead[26.0,32.0) play[4.0,14.0)", v)

	// EXPIRED 行：无 TR、无分析
	v, err = f.GetCellValue("Moments", "C3")
	require.NoError(t, err)
	assert.Equal(t, "EXPIRED", v)
	v, err = f.GetCellValue("Moments", "E3")
	require.NoError(t, err)
	assert.Equal(t, "", v)
	v, err = f.GetCellValue("Moments", "N3")
	require.NoError(t, err)
	assert.Equal(t, "clip media no longer available", v)
}

func TestGenerateMomentsReport_Empty(t *testing.T) {
	data, err := GenerateMomentsReport(nil)
	require.NoError(t, err)

	f, err := excelize.OpenReader(bytes.NewReader(data))
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows("Moments")
	require.NoError(t, err)
	require.Len(t, rows, 1) // 只有表头
	assert.Equal(t, MomentsReportHeader, rows[0])
}
