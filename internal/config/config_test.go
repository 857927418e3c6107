package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "localhost", cfg.Database.Host)
	assert.Equal(t, 5432, cfg.Database.Port)
	assert.Equal(t, "vibecheck", cfg.Database.Database)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, "tcp://localhost:1883", cfg.MQTT.Broker)

	assert.Equal(t, 90.0, cfg.Buffer.RetentionS)
	assert.Equal(t, 10.0, cfg.Buffer.RateHz)

	assert.Equal(t, 0.7, cfg.Detect.Threshold)
	assert.Equal(t, 5.0, cfg.Detect.CooldownS)
	assert.Equal(t, 0.5, cfg.Detect.WMotion)

	assert.Equal(t, 40.0, cfg.Reaction.WaitS)
	assert.Equal(t, 10.0, cfg.Reaction.DefaultOffsetS)
	assert.Equal(t, 0.15, cfg.Reaction.PeakMinProminence)

	assert.Equal(t, 2.0, cfg.Recipe.LeadBeforeS)
	assert.Equal(t, 4.0, cfg.Recipe.ButtonS)

	assert.Equal(t, "vibecheck:events", cfg.Events.StreamPrefix)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("STREAM_ID", "s_arena")
	t.Setenv("BUFFER_RETENTION_S", "120")
	t.Setenv("DETECT_THRESHOLD", "0.85")
	t.Setenv("STREAM_REALTIME", "true")
	t.Setenv("ANALYZER_RETRIES", "5")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "s_arena", cfg.Stream.ID)
	assert.Equal(t, 120.0, cfg.Buffer.RetentionS)
	assert.Equal(t, 0.85, cfg.Detect.Threshold)
	assert.True(t, cfg.Stream.Realtime)
	assert.Equal(t, 5, cfg.Analyzer.Retries)
}

func TestLoad_InvalidEnvFallsBackToDefault(t *testing.T) {
	t.Setenv("DETECT_THRESHOLD", "not-a-number")
	t.Setenv("ANALYZER_RETRIES", "many")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 0.7, cfg.Detect.Threshold)
	assert.Equal(t, 2, cfg.Analyzer.Retries)
}

func TestValidate_RetentionTooSmallForClip(t *testing.T) {
	t.Setenv("BUFFER_RETENTION_S", "30")

	_, err := Load()

	require.Error(t, err)
	assert.Contains(t, err.Error(), "retention")
}

func TestValidate_OffsetBeyondWait(t *testing.T) {
	t.Setenv("REACTION_DEFAULT_OFFSET_S", "50")

	_, err := Load()

	require.Error(t, err)
	assert.Contains(t, err.Error(), "REACTION_DEFAULT_OFFSET_S")
}

func TestValidate_ThresholdRange(t *testing.T) {
	t.Setenv("DETECT_THRESHOLD", "1.5")

	_, err := Load()

	require.Error(t, err)
	assert.Contains(t, err.Error(), "DETECT_THRESHOLD")
}
