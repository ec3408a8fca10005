package edge

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestRateLimitedLogger(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	l := newRateLimitedLogger(zap.New(core), time.Hour)

	l.Warn("refresh failed")
	l.Warn("refresh failed")
	l.Warn("refresh failed")
	require.Equal(t, 1, logs.Len())

	l.mu.Lock()
	l.lastAt = time.Now().Add(-2 * time.Hour)
	l.mu.Unlock()

	l.Warn("refresh failed")
	entries := logs.All()
	require.Len(t, entries, 2)
	assert.Equal(t, int64(2), entries[1].ContextMap()["suppressed"])
}

func TestResolverLogsRefreshFailure(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	r := NewResolver(&fakeSource{err: errUpstreamDown}, ResolverOptions{Logger: zap.New(core)})

	r.Resolve(t.Context(), "/a")
	r.Resolve(t.Context(), "/b")

	require.Equal(t, 1, logs.Len())
	assert.Equal(t, "redirect refresh failed, serving last known table", logs.All()[0].Message)
}

func TestStatsNilSafe(t *testing.T) {
	var s *statsCollector
	assert.NotPanics(t, func() {
		s.observeBypass()
		s.observeForward()
		s.observeRedirect(true)
		s.observeRefresh(false)
		s.observeUpstreamBytes(10)
	})
	assert.Equal(t, statsSnapshot{}, s.Snapshot())
}
