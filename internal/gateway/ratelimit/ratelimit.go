package ratelimit

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/aiagentplatform/api-gateway/internal/shared/config"
)

const (
	minuteBucket = "2006-01-02-15-04"
	monthBucket  = "2006-01"

	minuteTTL = time.Minute
	monthTTL  = 31 * 24 * time.Hour
)

// Store is the counter contract the limiter needs. Increment and expire
// must each be atomic; no cross-call locking is assumed.
type Store interface {
	GetInt64(ctx context.Context, key string) (int64, bool, error)
	Incr(ctx context.Context, key string) (int64, error)
	Expire(ctx context.Context, key string, ttl time.Duration) error
}

// Decision is the outcome of an admission check
type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
}

// Limiter enforces two independent fixed windows per tenant: a one-minute
// burst window and a one-month quota window. A request is admitted only
// when both counters are under their plan limits, and rejected requests
// never increment anything.
//
// Counter TTLs are re-armed on every increment, so under sustained load a
// window expires one granularity after its last write rather than on a
// calendar boundary. That is the standard fixed-window approximation, kept
// deliberately.
type Limiter struct {
	store  Store
	limits map[string]config.PlanLimits
	now    func() time.Time
}

// New creates a limiter with per-plan limits
func New(store Store, limits map[string]config.PlanLimits) *Limiter {
	return &Limiter{
		store:  store,
		limits: limits,
		now:    time.Now,
	}
}

// Limits returns the plan's limits, falling back to "free" for unknown plans
func (l *Limiter) Limits(plan string) config.PlanLimits {
	if limits, ok := l.limits[plan]; ok {
		return limits
	}
	return l.limits["free"]
}

func minuteKey(tenantID string, t time.Time) string {
	return fmt.Sprintf("ratelimit:%s:%s", tenantID, t.Format(minuteBucket))
}

func monthKey(tenantID string, t time.Time) string {
	return fmt.Sprintf("ratelimit:%s:%s", tenantID, t.Format(monthBucket))
}

// Admit checks both windows for the tenant and, if both are under their
// limits, increments both counters. The limit is inclusive: a counter
// already at the limit rejects. On store failure the limiter fails open so
// an unavailable counter store cannot take the gateway down.
func (l *Limiter) Admit(ctx context.Context, tenantID, plan string) Decision {
	limits := l.Limits(plan)
	now := l.now()

	mKey := minuteKey(tenantID, now)
	moKey := monthKey(tenantID, now)

	minuteCount, _, err := l.store.GetInt64(ctx, mKey)
	if err != nil {
		log.Printf("rate limiter store unavailable, admitting: %v", err)
		return Decision{Allowed: true, Limit: limits.PerMinute, Remaining: limits.PerMinute}
	}
	if minuteCount >= int64(limits.PerMinute) {
		return Decision{Allowed: false, Limit: limits.PerMinute, Remaining: 0}
	}

	monthCount, _, err := l.store.GetInt64(ctx, moKey)
	if err != nil {
		log.Printf("rate limiter store unavailable, admitting: %v", err)
		return Decision{Allowed: true, Limit: limits.PerMinute, Remaining: limits.PerMinute}
	}
	if monthCount >= int64(limits.PerMonth) {
		return Decision{Allowed: false, Limit: limits.PerMinute, Remaining: 0}
	}

	newCount, err := l.store.Incr(ctx, mKey)
	if err != nil {
		log.Printf("rate limiter increment failed, admitting: %v", err)
		return Decision{Allowed: true, Limit: limits.PerMinute, Remaining: limits.PerMinute}
	}
	if err := l.store.Expire(ctx, mKey, minuteTTL); err != nil {
		log.Printf("rate limiter expire failed: %v", err)
	}

	if _, err := l.store.Incr(ctx, moKey); err != nil {
		log.Printf("rate limiter increment failed: %v", err)
	} else if err := l.store.Expire(ctx, moKey, monthTTL); err != nil {
		log.Printf("rate limiter expire failed: %v", err)
	}

	remaining := limits.PerMinute - int(newCount)
	if remaining < 0 {
		remaining = 0
	}

	return Decision{Allowed: true, Limit: limits.PerMinute, Remaining: remaining}
}

// MonthUsage returns the tenant's current month counter. Missing counter
// or store failure reads as zero.
func (l *Limiter) MonthUsage(ctx context.Context, tenantID string) int64 {
	count, _, err := l.store.GetInt64(ctx, monthKey(tenantID, l.now()))
	if err != nil {
		return 0
	}
	return count
}
