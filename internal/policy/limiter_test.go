package policy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// S3 Rate-limit: with (2,1), the first two requests in under a minute
// succeed and the third is denied.
func TestSlidingWindowLimiter_S3(t *testing.T) {
	limiter := NewSlidingWindowLimiter()
	base := time.Unix(1_700_000_000, 0)

	require.True(t, limiter.Allow("claude", 2, time.Minute, base))
	require.True(t, limiter.Allow("claude", 2, time.Minute, base.Add(10*time.Second)))
	require.False(t, limiter.Allow("claude", 2, time.Minute, base.Add(20*time.Second)))
}

// Invariant 7: at any instant t, admitted requests with timestamps in
// (t-W, t] never exceed N — verified here by letting the window slide
// past the first admission and confirming a new slot opens up.
func TestSlidingWindowLimiter_WindowSlides(t *testing.T) {
	limiter := NewSlidingWindowLimiter()
	base := time.Unix(1_700_000_000, 0)

	require.True(t, limiter.Allow("codex", 1, time.Minute, base))
	require.False(t, limiter.Allow("codex", 1, time.Minute, base.Add(30*time.Second)))
	require.True(t, limiter.Allow("codex", 1, time.Minute, base.Add(61*time.Second)))
}

func TestSlidingWindowLimiter_ZeroDisables(t *testing.T) {
	limiter := NewSlidingWindowLimiter()
	now := time.Unix(1_700_000_000, 0)
	for i := 0; i < 100; i++ {
		require.True(t, limiter.Allow("custom", 0, time.Minute, now))
	}
}

func TestSlidingWindowLimiter_IndependentPerBackend(t *testing.T) {
	limiter := NewSlidingWindowLimiter()
	now := time.Unix(1_700_000_000, 0)

	require.True(t, limiter.Allow("claude", 1, time.Minute, now))
	require.False(t, limiter.Allow("claude", 1, time.Minute, now))
	require.True(t, limiter.Allow("codex", 1, time.Minute, now))
}
