// Package ratelimit counts edit requests per subject over sliding windows kept
// in Redis sorted sets, and deduplicates once-per-window notices.
package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
)

const (
	ShortWindow = 10 * time.Minute
	HourWindow  = 60 * time.Minute
	WeekWindow  = 7 * 24 * time.Hour

	// BatchThreshold requests inside ShortWindow start holding new requests.
	BatchThreshold = 3
	// HardCap requests inside HourWindow stop automatic handling altogether.
	HardCap = 5
	// HighMaintenanceThreshold requests inside WeekWindow raise an
	// informational escalation. It never blocks.
	HighMaintenanceThreshold = 3
)

var decisions = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "siteeditor_ratelimit_decisions_total",
	Help: "Rate-limit verdicts for recorded edit requests",
}, []string{"verdict"})

// Counts are the subject's request counts after recording the current one.
type Counts struct {
	Short int64
	Hour  int64
	Week  int64
	// OldestShort is the timestamp of the oldest request still inside ShortWindow.
	OldestShort time.Time
}

// Verdict is the routing consequence of Counts.
type Verdict struct {
	Counts
	Capped          bool
	Hold            bool
	HeldUntil       time.Time
	HighMaintenance bool
}

// Evaluate applies the thresholds. The hard cap wins over batching.
func Evaluate(counts Counts) Verdict {
	v := Verdict{Counts: counts}
	switch {
	case counts.Hour >= HardCap:
		v.Capped = true
		decisions.WithLabelValues("capped").Inc()
	case counts.Short >= BatchThreshold:
		v.Hold = true
		v.HeldUntil = counts.OldestShort.Add(ShortWindow)
		decisions.WithLabelValues("held").Inc()
	default:
		decisions.WithLabelValues("allowed").Inc()
	}
	v.HighMaintenance = counts.Week >= HighMaintenanceThreshold
	return v
}

// RedisLimiter keeps one sorted set per subject scored by request time in
// milliseconds.
type RedisLimiter struct {
	client *redis.Client
	prefix string
	now    func() time.Time
}

// NewRedisLimiter connects to Redis and verifies the connection.
func NewRedisLimiter(redisURL string) (*RedisLimiter, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewRedisLimiterWithClient(client), nil
}

func NewRedisLimiterWithClient(client *redis.Client) *RedisLimiter {
	return &RedisLimiter{
		client: client,
		prefix: "siteeditor:ratelimit:",
		now:    time.Now,
	}
}

// WithClock replaces the wall clock used for window boundaries.
func (l *RedisLimiter) WithClock(now func() time.Time) *RedisLimiter {
	l.now = now
	return l
}

func (l *RedisLimiter) requestsKey(subjectID string) string {
	return l.prefix + "requests:" + subjectID
}

func (l *RedisLimiter) noticeKey(kind, subjectID string) string {
	return l.prefix + "notice:" + kind + ":" + subjectID
}

func millis(t time.Time) string {
	return strconv.FormatInt(t.UnixMilli(), 10)
}

// Record adds requestID to the subject's history and returns the counts over
// every window, including this request.
func (l *RedisLimiter) Record(ctx context.Context, subjectID, requestID string) (Counts, error) {
	now := l.now()
	key := l.requestsKey(subjectID)

	var shortCount, hourCount, weekCount *redis.IntCmd
	var oldest *redis.ZSliceCmd
	_, err := l.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRemRangeByScore(ctx, key, "-inf", "("+millis(now.Add(-WeekWindow)))
		pipe.ZAdd(ctx, key, redis.Z{Score: float64(now.UnixMilli()), Member: requestID})
		shortCount = pipe.ZCount(ctx, key, millis(now.Add(-ShortWindow)), "+inf")
		hourCount = pipe.ZCount(ctx, key, millis(now.Add(-HourWindow)), "+inf")
		weekCount = pipe.ZCard(ctx, key)
		oldest = pipe.ZRangeByScoreWithScores(ctx, key, &redis.ZRangeBy{
			Min:    millis(now.Add(-ShortWindow)),
			Max:    "+inf",
			Offset: 0,
			Count:  1,
		})
		pipe.Expire(ctx, key, WeekWindow)
		return nil
	})
	if err != nil {
		return Counts{}, fmt.Errorf("record request: %w", err)
	}

	counts := Counts{
		Short:       shortCount.Val(),
		Hour:        hourCount.Val(),
		Week:        weekCount.Val(),
		OldestShort: now,
	}
	if entries := oldest.Val(); len(entries) > 0 {
		counts.OldestShort = time.UnixMilli(int64(entries[0].Score)).UTC()
	}
	return counts, nil
}

// Check records the request and evaluates it in one call.
func (l *RedisLimiter) Check(ctx context.Context, subjectID, requestID string) (Verdict, error) {
	counts, err := l.Record(ctx, subjectID, requestID)
	if err != nil {
		return Verdict{}, err
	}
	return Evaluate(counts), nil
}

// FirstInWindow reports whether this is the first call for (kind, subject)
// since the marker last expired. The marker lives for ttl.
func (l *RedisLimiter) FirstInWindow(ctx context.Context, kind, subjectID string, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		ttl = ShortWindow
	}
	ok, err := l.client.SetNX(ctx, l.noticeKey(kind, subjectID), millis(l.now()), ttl).Result()
	if err != nil {
		return false, fmt.Errorf("set notice marker: %w", err)
	}
	return ok, nil
}

func (l *RedisLimiter) Close() error {
	return l.client.Close()
}

func (l *RedisLimiter) Ping(ctx context.Context) error {
	return l.client.Ping(ctx).Err()
}
