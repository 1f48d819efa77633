package limits

import (
	"context"
	"time"

	"github.com/stratochat/stratochat/internal/common"
	"github.com/stratochat/stratochat/internal/kv"
	"github.com/stratochat/stratochat/internal/models"
)

// Tracker maintains the per-user monthly token counter. The counter is
// a read-modify-write on the user document with no locking; concurrent
// updates are last-write-wins.
type Tracker struct {
	store    *kv.Store
	resolver *Resolver
	now      func() time.Time
}

func NewTracker(store *kv.Store, resolver *Resolver) *Tracker {
	return &Tracker{store: store, resolver: resolver, now: time.Now}
}

// Record adds tokens to the user's monthly usage, rolling the counter
// over when the calendar month has changed since the last reset. It
// rejects with a quota error when the increment would push usage past
// the role's monthly ceiling.
func (t *Tracker) Record(ctx context.Context, user *models.User, tokens int) (*models.User, error) {
	if tokens < 0 {
		return nil, common.InvalidArgumentf("token count must be non-negative")
	}

	now := t.now().UTC()
	usage := user.TokensUsedThisMonth
	resetAt := user.UsageResetAt
	if resetAt.Year() != now.Year() || resetAt.Month() != now.Month() {
		usage = 0
		resetAt = now
	}
	usage += tokens

	l, err := t.resolver.Resolve(ctx, user)
	if err != nil {
		return nil, err
	}
	if l.MaxTokensPerMonth != nil && usage > *l.MaxTokensPerMonth {
		return nil, common.QuotaExceededf(
			"monthly token budget exhausted: %d of %d tokens", usage, *l.MaxTokensPerMonth)
	}

	var updated models.User
	err = t.store.Update(ctx, models.TableUsers, user.ID, map[string]any{
		"tokens_used_this_month": usage,
		"usage_reset_at":         resetAt,
		"updated_at":             now,
	}, &updated)
	if err != nil {
		return nil, err
	}
	return &updated, nil
}
