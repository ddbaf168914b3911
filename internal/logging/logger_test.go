package logging

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestLogger_ContextFields(t *testing.T) {
	tl := NewTestLogger()

	ctx := WithAgentSlug(context.Background(), "claude-code")
	ctx = WithConversationID(ctx, "conv-123")
	ctx = WithRequestID(ctx, "req-abc")

	tl.Info(ctx, "scan complete", zap.Int("conversations", 3))

	tl.AssertLogged(t, zapcore.InfoLevel, "scan complete")
	tl.AssertField(t, "scan complete", "agent", "claude-code")
	tl.AssertField(t, "scan complete", "conversation.id", "conv-123")
	tl.AssertField(t, "scan complete", "request.id", "req-abc")
}

func TestLogger_SamplingNeverDropsErrors(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Sampling.Levels[zapcore.ErrorLevel] = LevelSamplingConfig{Initial: 0, Thereafter: 0}

	logger, err := NewLogger(cfg)
	require.NoError(t, err)
	require.NotNil(t, logger)
	require.True(t, logger.Enabled(zapcore.ErrorLevel))
}

func TestWithAgentSlug_RejectsInvalidCharacters(t *testing.T) {
	require.Panics(t, func() {
		WithAgentSlug(context.Background(), "bad slug with spaces!")
	})
}

func TestFromContext_DefaultsToNop(t *testing.T) {
	l := FromContext(context.Background())
	require.NotNil(t, l)
}
