// Package logging provides structured logging for sessiondex.
//
// # Overview
//
// The package wraps Zap with:
//   - A custom Trace level (-2, below Debug) for per-message parse diagnostics
//   - Automatic context field injection (agent slug, conversation id, request id)
//   - Level-aware sampling (errors never sampled)
//
// # Usage
//
//	cfg := logging.NewDefaultConfig()
//	logger, err := logging.NewLogger(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer logger.Sync()
//
//	ctx := logging.WithAgentSlug(ctx, model.AgentClaudeCode)
//	logger.Info(ctx, "scan complete", zap.Int("conversations", n))
//
// Output includes automatic correlation:
//
//	{
//	  "ts": "2026-07-31T10:15:30Z",
//	  "level": "info",
//	  "msg": "scan complete",
//	  "agent": "claude_code",
//	  "conversations": 42
//	}
//
// # Sampling
//
// Level-aware sampling prevents log floods from the watcher's debounce loop:
//   - Trace, Debug, Info, Warn: one shared rate, taken from the Info entry of
//     Sampling.Levels (default: first 100 per tick, then 1 every 10); the
//     Trace, Debug and Warn entries are not read
//   - Error+: never sampled
//
// Disable for debugging:
//
//	cfg.Sampling.Enabled = false
//
// # Testing
//
// Use TestLogger for test assertions:
//
//	tl := logging.NewTestLogger()
//	tl.Info(ctx, "test message", zap.String("key", "value"))
//	tl.AssertLogged(t, zapcore.InfoLevel, "test message")
//	tl.AssertField(t, "test message", "key", "value")
//
// # Concurrency Safety
//
// Logger is safe for concurrent use. Child loggers (With, Named) are
// independent and do not affect parent or siblings.
package logging
