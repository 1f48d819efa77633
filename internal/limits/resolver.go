package limits

import (
	"context"
	"errors"

	"github.com/rs/zerolog/log"

	"github.com/stratochat/stratochat/internal/kv"
	"github.com/stratochat/stratochat/internal/models"
)

// Limits are the three per-role resource ceilings. A nil field means
// unlimited for that dimension.
type Limits struct {
	MaxChats          *int `json:"max_chats,omitempty"`
	MaxTokensPerMonth *int `json:"max_tokens_per_month,omitempty"`
	ContextLength     *int `json:"context_length,omitempty"`
}

// Cache fronts the role lookup. A (nil, nil) return is a miss.
type Cache interface {
	GetLimits(ctx context.Context, roleID string) (*Limits, error)
	SetLimits(ctx context.Context, roleID string, l Limits) error
}

type Resolver struct {
	store *kv.Store
	cache Cache
}

// NewResolver builds a resolver; cache may be nil.
func NewResolver(store *kv.Store, cache Cache) *Resolver {
	return &Resolver{store: store, cache: cache}
}

// Resolve returns the ceilings that apply to user. Users without a
// custom role resolve to unlimited, as does a custom_role reference
// whose Role record no longer exists: a deleted or misconfigured role
// must never lock a user out (fail-open, deliberately not fail-closed).
func (r *Resolver) Resolve(ctx context.Context, user *models.User) (Limits, error) {
	if user.CustomRole == "" {
		return Limits{}, nil
	}

	if r.cache != nil {
		cached, err := r.cache.GetLimits(ctx, user.CustomRole)
		if err != nil {
			// cache outage degrades to a store read
			log.Warn().Err(err).Str("role_id", user.CustomRole).Msg("limits cache read failed")
		} else if cached != nil {
			return *cached, nil
		}
	}

	var role models.Role
	if err := r.store.Get(ctx, models.TableRoles, user.CustomRole, &role); err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			return Limits{}, nil
		}
		return Limits{}, err
	}

	l := Limits{
		MaxChats:          role.MaxChats,
		MaxTokensPerMonth: role.MaxTokensPerMonth,
		ContextLength:     role.ContextLength,
	}
	if r.cache != nil {
		if err := r.cache.SetLimits(ctx, user.CustomRole, l); err != nil {
			log.Warn().Err(err).Str("role_id", user.CustomRole).Msg("limits cache write failed")
		}
	}
	return l, nil
}
