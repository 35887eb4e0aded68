package common

import (
	"log"
	"strconv"
	"sync"
	"time"
)

// RateLimiter tracks request-weight usage reported by the exchange.
type RateLimiter struct {
	usedWeight    int
	limit         int
	lastReset     time.Time
	resetInterval time.Duration
	mu            sync.RWMutex
}

// Usage is a point-in-time view of the rate budget.
type Usage struct {
	Used    int     `json:"used"`
	Limit   int     `json:"limit"`
	Percent float64 `json:"percent"`
}

// NewRateLimiter creates a tracker for the given weight budget per window
// (Binance.US spot allows 1200 weight per minute).
func NewRateLimiter(limit int, resetInterval time.Duration) *RateLimiter {
	return &RateLimiter{
		limit:         limit,
		resetInterval: resetInterval,
		lastReset:     time.Now(),
	}
}

// UpdateFromHeader ingests the X-MBX-USED-WEIGHT header value.
func (rl *RateLimiter) UpdateFromHeader(headerValue string) {
	if headerValue == "" {
		return
	}

	weight, err := strconv.Atoi(headerValue)
	if err != nil {
		return
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	if time.Since(rl.lastReset) >= rl.resetInterval {
		rl.usedWeight = 0
		rl.lastReset = time.Now()
	}

	rl.usedWeight = weight

	percentage := float64(rl.usedWeight) / float64(rl.limit) * 100
	if percentage >= 95 {
		log.Printf("rate limit critical: %d/%d (%.1f%%) - approaching ban threshold", rl.usedWeight, rl.limit, percentage)
	} else if percentage >= 80 {
		log.Printf("rate limit warning: %d/%d (%.1f%%)", rl.usedWeight, rl.limit, percentage)
	}
}

// Usage returns the current window's consumption.
func (rl *RateLimiter) Usage() Usage {
	rl.mu.RLock()
	defer rl.mu.RUnlock()

	if time.Since(rl.lastReset) >= rl.resetInterval {
		return Usage{Used: 0, Limit: rl.limit}
	}
	return Usage{
		Used:    rl.usedWeight,
		Limit:   rl.limit,
		Percent: float64(rl.usedWeight) / float64(rl.limit) * 100,
	}
}

// ShouldDelay reports whether non-essential calls should back off.
func (rl *RateLimiter) ShouldDelay() bool {
	return rl.Usage().Percent >= 90
}
