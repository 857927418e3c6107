package events

import (
	"context"
	"encoding/json"
	"testing"

	"vibecheck-moments/internal/models"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func setupTestPublisher(t *testing.T) (*redis.Client, *Publisher) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return client, NewPublisher(client, "vibecheck:events", zap.NewNop())
}

func TestPublishCandidate(t *testing.T) {
	client, pub := setupTestPublisher(t)
	ctx := context.Background()

	cand := models.Candidate{
		CandidateID: "c_123",
		T0:          10.0,
		Signals:     models.CandidateSignals{Motion: 0.9, AudioRMS: 0.1},
	}

	err := pub.PublishCandidate(ctx, models.NewCandidateEvent(cand))
	require.NoError(t, err)

	msgs, err := client.XRange(ctx, "vibecheck:events:candidates", "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, msgs, 1)

	var ev models.CandidateEvent
	require.NoError(t, json.Unmarshal([]byte(msgs[0].Values["data"].(string)), &ev))
	assert.Equal(t, models.EventCandidateCreated, ev.Type)
	assert.Equal(t, "c_123", ev.CandidateID)
	assert.Equal(t, 10.0, ev.T0)
	assert.Equal(t, 0.9, ev.Signals.Motion)
}

func TestPublishMomentReady(t *testing.T) {
	client, pub := setupTestPublisher(t)
	ctx := context.Background()

	tr := 28.0
	m := &models.Moment{
		MomentID: "m_1",
		T0:       10.0,
		TR:       &tr,
		State:    models.StateReady,
		Recipe: []models.RecipeSegment{
			{Label: models.LabelReactionLead, StartS: 26, EndS: 32},
		},
		Analysis: &models.Analysis{
			MomentType: models.MomentGoal,
			Summary:    "Top corner finish",
			Scores:     models.MomentScores{Hype: 90, Risk: 3},
			PostCopy:   models.PostCopy{Hype: "h", Neutral: "n", BrandSafe: "b"},
		},
	}

	err := pub.PublishMomentReady(ctx, models.NewMomentReadyEvent(m))
	require.NoError(t, err)

	msgs, err := client.XRange(ctx, "vibecheck:events:moments", "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, msgs, 1)

	var ev models.MomentReadyEvent
	require.NoError(t, json.Unmarshal([]byte(msgs[0].Values["data"].(string)), &ev))
	assert.Equal(t, models.EventMomentReady, ev.Type)
	assert.Equal(t, "m_1", ev.MomentID)
	assert.Equal(t, 28.0, ev.TR)
	assert.Equal(t, models.MomentGoal, ev.MomentType)
	assert.Equal(t, 90, ev.Scores.Hype)
}

func TestPublishApproval_RejectsUnknownType(t *testing.T) {
	_, pub := setupTestPublisher(t)

	err := pub.PublishApproval(context.Background(), models.ApprovalEvent{
		Type:     "moment.deleted",
		MomentID: "m_1",
	})
	assert.Error(t, err)
}

func TestPublishApproval(t *testing.T) {
	client, pub := setupTestPublisher(t)
	ctx := context.Background()

	err := pub.PublishApproval(ctx, models.ApprovalEvent{
		Type:     models.EventMomentApproved,
		MomentID: "m_1",
		By:       "exec",
		At:       1700000000,
	})
	require.NoError(t, err)

	msgs, err := client.XRange(ctx, "vibecheck:events:moments", "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, msgs, 1)
}
