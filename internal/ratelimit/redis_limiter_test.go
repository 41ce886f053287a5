package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time { return c.now }

func setupTestLimiter(t *testing.T) (*RedisLimiter, *miniredis.Miniredis, *fakeClock) {
	t.Helper()
	mr := miniredis.RunT(t)
	limiter, err := NewRedisLimiter("redis://" + mr.Addr())
	require.NoError(t, err)
	t.Cleanup(func() { _ = limiter.Close() })

	clock := &fakeClock{now: time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)}
	limiter.WithClock(clock.Now)
	return limiter, mr, clock
}

func TestRecordCountsWindows(t *testing.T) {
	limiter, _, clock := setupTestLimiter(t)
	ctx := context.Background()
	start := clock.now

	counts, err := limiter.Record(ctx, "sub_1", "er_1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts.Short)
	assert.Equal(t, int64(1), counts.Hour)
	assert.Equal(t, int64(1), counts.Week)
	assert.True(t, start.Equal(counts.OldestShort))

	clock.now = start.Add(15 * time.Minute)
	counts, err = limiter.Record(ctx, "sub_1", "er_2")
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts.Short)
	assert.Equal(t, int64(2), counts.Hour)
	assert.Equal(t, int64(2), counts.Week)

	counts, err = limiter.Record(ctx, "sub_other", "er_3")
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts.Week, "subjects are counted separately")
}

func TestCheckHoldsThirdRequestInShortWindow(t *testing.T) {
	limiter, _, clock := setupTestLimiter(t)
	ctx := context.Background()
	start := clock.now

	for i, id := range []string{"er_1", "er_2"} {
		clock.now = start.Add(time.Duration(i) * time.Minute)
		verdict, err := limiter.Check(ctx, "sub_1", id)
		require.NoError(t, err)
		assert.False(t, verdict.Hold)
		assert.False(t, verdict.Capped)
	}

	clock.now = start.Add(2 * time.Minute)
	verdict, err := limiter.Check(ctx, "sub_1", "er_3")
	require.NoError(t, err)
	assert.True(t, verdict.Hold)
	assert.False(t, verdict.Capped)
	assert.True(t, start.Add(ShortWindow).Equal(verdict.HeldUntil), "held until the oldest request leaves the window")
	assert.True(t, verdict.HighMaintenance)
}

func TestCheckCapsFifthRequestInHour(t *testing.T) {
	limiter, _, clock := setupTestLimiter(t)
	ctx := context.Background()
	start := clock.now

	offsets := []time.Duration{0, 11 * time.Minute, 22 * time.Minute, 33 * time.Minute}
	for i, offset := range offsets {
		clock.now = start.Add(offset)
		verdict, err := limiter.Check(ctx, "sub_1", "er_"+string(rune('a'+i)))
		require.NoError(t, err)
		assert.False(t, verdict.Capped)
		assert.False(t, verdict.Hold)
	}

	clock.now = start.Add(44 * time.Minute)
	verdict, err := limiter.Check(ctx, "sub_1", "er_e")
	require.NoError(t, err)
	assert.True(t, verdict.Capped)
	assert.False(t, verdict.Hold, "cap overrides batching")
	assert.Equal(t, int64(5), verdict.Hour)
}

func TestRecordPrunesEntriesOlderThanAWeek(t *testing.T) {
	limiter, _, clock := setupTestLimiter(t)
	ctx := context.Background()

	_, err := limiter.Record(ctx, "sub_1", "er_old")
	require.NoError(t, err)

	clock.now = clock.now.Add(WeekWindow + time.Hour)
	counts, err := limiter.Record(ctx, "sub_1", "er_new")
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts.Week)
	assert.False(t, Evaluate(counts).HighMaintenance)
}

func TestFirstInWindow(t *testing.T) {
	limiter, mr, _ := setupTestLimiter(t)
	ctx := context.Background()

	first, err := limiter.FirstInWindow(ctx, "batching", "sub_1", ShortWindow)
	require.NoError(t, err)
	assert.True(t, first)

	again, err := limiter.FirstInWindow(ctx, "batching", "sub_1", ShortWindow)
	require.NoError(t, err)
	assert.False(t, again)

	other, err := limiter.FirstInWindow(ctx, "high_maintenance", "sub_1", WeekWindow)
	require.NoError(t, err)
	assert.True(t, other, "kinds are independent")

	mr.FastForward(ShortWindow + time.Second)
	afterExpiry, err := limiter.FirstInWindow(ctx, "batching", "sub_1", ShortWindow)
	require.NoError(t, err)
	assert.True(t, afterExpiry)
}

func TestEvaluate(t *testing.T) {
	oldest := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		name   string
		counts Counts
		want   Verdict
	}{
		{name: "quiet", counts: Counts{Short: 1, Hour: 1, Week: 1}},
		{name: "batch", counts: Counts{Short: 3, Hour: 3, Week: 3, OldestShort: oldest}},
		{name: "cap", counts: Counts{Short: 3, Hour: 5, Week: 5, OldestShort: oldest}},
		{name: "weekly only", counts: Counts{Short: 1, Hour: 1, Week: 4}},
	}
	tests[1].want = Verdict{Counts: tests[1].counts, Hold: true, HeldUntil: oldest.Add(ShortWindow), HighMaintenance: true}
	tests[2].want = Verdict{Counts: tests[2].counts, Capped: true, HighMaintenance: true}
	tests[0].want = Verdict{Counts: tests[0].counts}
	tests[3].want = Verdict{Counts: tests[3].counts, HighMaintenance: true}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Evaluate(tt.counts))
		})
	}
}

func TestPing(t *testing.T) {
	limiter, _, _ := setupTestLimiter(t)
	assert.NoError(t, limiter.Ping(context.Background()))
}
