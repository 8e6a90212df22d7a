package ratelimit

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func newTestLimiter(t *testing.T, cfg *Config) (*Limiter, *fakeClock) {
	t.Helper()
	clock := &fakeClock{t: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	l := NewLimiter(cfg)
	l.now = clock.now
	t.Cleanup(l.Stop)
	return l, clock
}

func testConfig() *Config {
	return &Config{
		Enabled:         true,
		DefaultLimit:    5,
		DefaultWindow:   time.Minute,
		EndpointConfigs: DefaultEndpointConfigs(),
	}
}

func TestTokenBucket_TakeAndRefill(t *testing.T) {
	start := time.Now()
	bucket := newTokenBucket(10, 1.0, start)

	for i := 0; i < 10; i++ {
		assert.True(t, bucket.take(start), "request %d", i+1)
	}
	assert.False(t, bucket.take(start))
	assert.Equal(t, time.Second, bucket.untilNext())

	assert.True(t, bucket.take(start.Add(1100*time.Millisecond)))
	assert.False(t, bucket.take(start.Add(1100*time.Millisecond)))
}

func TestTokenBucket_Status(t *testing.T) {
	start := time.Now()
	bucket := newTokenBucket(10, 2.0, start)
	for i := 0; i < 4; i++ {
		bucket.take(start)
	}

	remaining, reset := bucket.status(start)
	assert.Equal(t, 6, remaining)
	assert.Equal(t, start.Add(2*time.Second), reset)
}

func TestLimiter_DefaultLimit(t *testing.T) {
	l, _ := newTestLimiter(t, testConfig())

	for i := 0; i < 5; i++ {
		allowed, info := l.Allow("10.0.0.1", "/unknown", "GET")
		require.True(t, allowed, "request %d", i+1)
		assert.Equal(t, 5, info.Limit)
		assert.Equal(t, 4-i, info.Remaining)
	}
	allowed, info := l.Allow("10.0.0.1", "/unknown", "GET")
	assert.False(t, allowed)
	assert.Greater(t, info.RetryAfter, time.Duration(0))

	// other clients have their own bucket
	allowed, _ = l.Allow("10.0.0.2", "/unknown", "GET")
	assert.True(t, allowed)
}

func TestLimiter_AnalyzeEndpoint(t *testing.T) {
	l, clock := newTestLimiter(t, testConfig())

	for i := 0; i < 5; i++ {
		allowed, info := l.Allow("10.0.0.1", "/api/video/analyze", "POST")
		require.True(t, allowed)
		assert.Equal(t, 20, info.Limit)
	}
	allowed, _ := l.Allow("10.0.0.1", "/api/video/analyze", "POST")
	assert.False(t, allowed, "burst of 5 exhausted")

	// 20 per hour refills one token every 3 minutes
	clock.advance(3*time.Minute + time.Second)
	allowed, _ = l.Allow("10.0.0.1", "/api/video/analyze", "POST")
	assert.True(t, allowed)
}

func TestLimiter_ResultsShareBucketAcrossJobs(t *testing.T) {
	l, _ := newTestLimiter(t, testConfig())

	for i := 0; i < 30; i++ {
		allowed, _ := l.Allow("10.0.0.1", fmt.Sprintf("/api/video/results/swing-%d", i), "GET")
		require.True(t, allowed)
	}
	allowed, _ := l.Allow("10.0.0.1", "/api/video/results/another", "GET")
	assert.False(t, allowed)
}

func TestLimiter_HealthUnlimited(t *testing.T) {
	l, _ := newTestLimiter(t, testConfig())

	for i := 0; i < 100; i++ {
		allowed, info := l.Allow("10.0.0.1", "/health", "GET")
		require.True(t, allowed)
		assert.Equal(t, 0, info.Limit)
	}
}

func TestLimiter_WhitelistAndBlacklist(t *testing.T) {
	cfg := testConfig()
	cfg.Whitelist = map[string]bool{"10.0.0.9": true}
	cfg.Blacklist = map[string]bool{"10.0.0.66": true}
	l, _ := newTestLimiter(t, cfg)

	for i := 0; i < 50; i++ {
		allowed, _ := l.Allow("10.0.0.9", "/api/video/analyze", "POST")
		require.True(t, allowed)
	}
	allowed, _ := l.Allow("10.0.0.66", "/health", "GET")
	assert.False(t, allowed)
}

func TestLimiter_Disabled(t *testing.T) {
	l, _ := newTestLimiter(t, &Config{Enabled: false})
	for i := 0; i < 100; i++ {
		allowed, _ := l.Allow("10.0.0.1", "/api/video/analyze", "POST")
		require.True(t, allowed)
	}
}

func TestLimiter_Concurrent(t *testing.T) {
	l, _ := newTestLimiter(t, testConfig())

	var wg sync.WaitGroup
	var mu sync.Mutex
	allowedCount := 0
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if ok, _ := l.Allow("10.0.0.1", "/api/chat", "POST"); ok {
				mu.Lock()
				allowedCount++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 10, allowedCount, "only the chat burst is admitted")
}

func TestLimiter_Cleanup(t *testing.T) {
	l, clock := newTestLimiter(t, testConfig())
	l.Allow("10.0.0.1", "/api/chat", "POST")
	l.Allow("10.0.0.2", "/api/chat", "POST")

	clock.advance(30 * time.Minute)
	l.Allow("10.0.0.2", "/api/chat", "POST")
	clock.advance(45 * time.Minute)
	l.cleanup(time.Hour)

	l.mu.Lock()
	defer l.mu.Unlock()
	assert.Len(t, l.buckets, 1)
	assert.Contains(t, l.buckets, "10.0.0.2:POST:/api/chat")
}

func TestLimiter_StopIsIdempotent(t *testing.T) {
	l := NewLimiter(nil)
	l.Stop()
	l.Stop()
}

func TestMatchEndpoint(t *testing.T) {
	configs := DefaultEndpointConfigs()

	m := MatchEndpoint("/api/video/results/swing-1", "GET", configs)
	require.NotNil(t, m)
	assert.Equal(t, "/api/video/results/", m.Path)

	m = MatchEndpoint("/api/chat", "POST", configs)
	require.NotNil(t, m)
	assert.Equal(t, 30, m.Limit)

	assert.Nil(t, MatchEndpoint("/api/chat", "GET", configs))
	assert.Nil(t, MatchEndpoint("/api/video/analyze/extra", "POST", configs))
}

func TestLoadConfig(t *testing.T) {
	t.Setenv("RATE_LIMIT_DEFAULT_LIMIT", "42")
	t.Setenv("RATE_LIMIT_WHITELIST", "10.0.0.1, 10.0.0.2")

	cfg := LoadConfig()
	assert.True(t, cfg.Enabled)
	assert.Equal(t, 42, cfg.DefaultLimit)
	assert.True(t, cfg.Whitelist["10.0.0.2"])
	assert.NotEmpty(t, cfg.EndpointConfigs)

	t.Setenv("RATE_LIMIT_ENABLED", "false")
	assert.False(t, LoadConfig().Enabled)
}
