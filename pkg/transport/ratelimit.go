package transport

import (
	"sync"
	"time"
)

// rateLimiter bounds requests per client host over a sliding window.
type rateLimiter struct {
	mu       sync.Mutex
	limit    int
	window   time.Duration
	requests map[string][]time.Time
	now      func() time.Time

	stop     chan struct{}
	stopOnce sync.Once
}

func newRateLimiter(limit int, window time.Duration) *rateLimiter {
	return &rateLimiter{
		limit:    limit,
		window:   window,
		requests: make(map[string][]time.Time),
		now:      time.Now,
		stop:     make(chan struct{}),
	}
}

// allow records a request from host. When the window is full it returns
// false and how long until the oldest request expires.
func (rl *rateLimiter) allow(host string) (bool, time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	recent := rl.expire(rl.requests[host], now)

	if len(recent) >= rl.limit {
		rl.requests[host] = recent
		return false, rl.window - now.Sub(recent[0])
	}

	rl.requests[host] = append(recent, now)
	return true, 0
}

// expire drops timestamps that have left the window.
func (rl *rateLimiter) expire(times []time.Time, now time.Time) []time.Time {
	i := 0
	for i < len(times) && now.Sub(times[i]) >= rl.window {
		i++
	}
	return times[i:]
}

// run periodically forgets idle hosts until close is called.
func (rl *rateLimiter) run(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.cleanup()
		case <-rl.stop:
			return
		}
	}
}

func (rl *rateLimiter) cleanup() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	for host, times := range rl.requests {
		if recent := rl.expire(times, now); len(recent) == 0 {
			delete(rl.requests, host)
		} else {
			rl.requests[host] = recent
		}
	}
	return len(rl.requests)
}

func (rl *rateLimiter) close() {
	rl.stopOnce.Do(func() { close(rl.stop) })
}
