package analyzer

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"vibecheck-moments/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func validAnalysisJSON() map[string]any {
	return map[string]any{
		"moment_type":    "goal",
		"summary":        "A clean strike into the top corner",
		"why_it_matters": []string{"Go-ahead goal", "Crowd eruption"},
		"scores":         map[string]int{"hype": 88, "risk": 5},
		"risk_notes":     []string{},
		"clip_recipe": []map[string]any{
			{"label": "reaction_lead", "start_s": 26.0, "end_s": 32.0},
		},
		"post_copy": map[string]string{
			"hype":       "WHAT A GOAL!",
			"neutral":    "A well-taken goal.",
			"brand_safe": "A well-taken goal.",
		},
	}
}

func testRequest() Request {
	return Request{
		MomentID: "m-1",
		T0:       10,
		TR:       28,
		Recipe: []models.RecipeSegment{
			{Label: models.LabelPlay, StartS: 4, EndS: 14},
		},
		Signals: SignalSummary{Motion: 0.9, AudioRMS: 0.95},
	}
}

func TestAnalyze_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/moments/analyze", r.URL.Path)

		var req Request
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "m-1", req.MomentID)

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(validAnalysisJSON())
	}))
	defer srv.Close()

	c := NewClient(srv.URL, 5*time.Second, 2, zap.NewNop())

	analysis, err := c.Analyze(context.Background(), testRequest())
	require.NoError(t, err)
	assert.Equal(t, models.MomentGoal, analysis.MomentType)
	assert.Equal(t, 88, analysis.Scores.Hype)
	assert.Len(t, analysis.ClipRecipe, 1)
}

func TestAnalyze_RetriesThenSucceeds(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(validAnalysisJSON())
	}))
	defer srv.Close()

	c := NewClient(srv.URL, 5*time.Second, 2, zap.NewNop())
	c.backoff = time.Millisecond

	analysis, err := c.Analyze(context.Background(), testRequest())
	require.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, models.MomentGoal, analysis.MomentType)
}

func TestAnalyze_MalformedResponseExhaustsBudget(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		// Missing summary and post_copy
		json.NewEncoder(w).Encode(map[string]any{"moment_type": "goal"})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, 5*time.Second, 2, zap.NewNop())
	c.backoff = time.Millisecond

	_, err := c.Analyze(context.Background(), testRequest())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMalformedAnalysis)
	assert.Equal(t, int32(3), calls.Load(), "malformed responses consume the retry budget")
}

func TestValidateAnalysis(t *testing.T) {
	base := func() *models.Analysis {
		return &models.Analysis{
			MomentType: models.MomentDunk,
			Summary:    "Poster dunk",
			Scores:     models.MomentScores{Hype: 90, Risk: 10},
			PostCopy: models.PostCopy{
				Hype: "h", Neutral: "n", BrandSafe: "b",
			},
		}
	}

	assert.NoError(t, ValidateAnalysis(base()))

	a := base()
	a.MomentType = "volcano"
	assert.ErrorIs(t, ValidateAnalysis(a), ErrMalformedAnalysis)

	a = base()
	a.Summary = ""
	assert.ErrorIs(t, ValidateAnalysis(a), ErrMalformedAnalysis)

	a = base()
	a.Scores.Hype = 120
	assert.ErrorIs(t, ValidateAnalysis(a), ErrMalformedAnalysis)

	a = base()
	a.ClipRecipe = []models.RecipeSegment{{Label: "play", StartS: 5, EndS: 5}}
	assert.ErrorIs(t, ValidateAnalysis(a), ErrMalformedAnalysis)

	a = base()
	a.PostCopy.BrandSafe = ""
	assert.ErrorIs(t, ValidateAnalysis(a), ErrMalformedAnalysis)
}

func TestSelectKeyframes(t *testing.T) {
	var frames []*models.FrameRef
	for i := 0; i < 400; i++ {
		frames = append(frames, &models.FrameRef{
			Timestamp: float64(i) * 0.1,
			Kind:      models.MediaFrame,
			Seq:       uint64(i),
		})
	}

	kf := SelectKeyframes(frames, 10, 28, 4)
	require.Len(t, kf, 3)

	// Ordered: context (t0-2), play (t0), reaction (tr)
	assert.InDelta(t, 8.0, kf[0].Timestamp, 0.06)
	assert.InDelta(t, 10.0, kf[1].Timestamp, 0.06)
	assert.InDelta(t, 28.0, kf[2].Timestamp, 0.06)
}

func TestSelectKeyframes_Empty(t *testing.T) {
	assert.Nil(t, SelectKeyframes(nil, 10, 28, 4))
}
