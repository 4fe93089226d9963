package services

import (
	"context"
	"math"
	"time"
)

const ThrottleCooldownCapSeconds = 30

// CooldownSecondsForFailCount returns min(30, 2^failCount).
func CooldownSecondsForFailCount(failCount int) int {
	s := int(math.Pow(2, float64(failCount)))
	if s > ThrottleCooldownCapSeconds {
		return ThrottleCooldownCapSeconds
	}
	return s
}

// SignInThrottleWait returns how long email must wait before trying again (0 if no cooldown).
func (a *PgAuth) SignInThrottleWait(ctx context.Context, email string) (time.Duration, error) {
	var cooldownUntil *time.Time
	err := a.pool.QueryRow(ctx, `SELECT cooldown_until FROM login_throttle WHERE email = $1`, email).Scan(&cooldownUntil)
	if err != nil {
		return 0, nil // no row = no throttle
	}
	if cooldownUntil == nil {
		return 0, nil
	}
	if wait := time.Until(*cooldownUntil); wait > 0 {
		return wait, nil
	}
	return 0, nil
}

// recordSignInFailed increments fail_count and sets cooldown_until = now() + min(30, 2^fail_count) seconds.
func (a *PgAuth) recordSignInFailed(ctx context.Context, email string) error {
	_, err := a.pool.Exec(ctx, `
		INSERT INTO login_throttle (email, fail_count, last_failed_at, cooldown_until, updated_at)
		VALUES ($1, 1, now(), now() + (LEAST(30, POWER(2, 1)::int) || ' seconds')::interval, now())
		ON CONFLICT (email) DO UPDATE SET
			fail_count = login_throttle.fail_count + 1,
			last_failed_at = now(),
			cooldown_until = now() + (LEAST(30, POWER(2, login_throttle.fail_count + 1)::int) || ' seconds')::interval,
			updated_at = now()`,
		email,
	)
	return err
}

// recordSignInSuccess resets fail_count and cooldown_until for email.
func (a *PgAuth) recordSignInSuccess(ctx context.Context, email string) error {
	_, err := a.pool.Exec(ctx, `
		INSERT INTO login_throttle (email, fail_count, last_failed_at, cooldown_until, updated_at)
		VALUES ($1, 0, NULL, NULL, now())
		ON CONFLICT (email) DO UPDATE SET
			fail_count = 0,
			last_failed_at = NULL,
			cooldown_until = NULL,
			updated_at = now()`,
		email,
	)
	return err
}
