package limits

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	gormsqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"github.com/stratochat/stratochat/internal/common"
	"github.com/stratochat/stratochat/internal/kv"
	"github.com/stratochat/stratochat/internal/models"
)

var testDBSeq atomic.Int64

func openTestKV(t *testing.T) *kv.Store {
	t.Helper()
	dsn := fmt.Sprintf("file:limitstest%d?mode=memory&cache=shared", testDBSeq.Add(1))
	db, err := gorm.Open(gormsqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	s := kv.New(db, models.Tables()...)
	if err := s.AutoMigrate(); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return s
}

func intp(v int) *int { return &v }

func TestEstimateTokens(t *testing.T) {
	cases := []struct {
		text string
		want int
	}{
		{"", 10},
		{"abc", 10},
		{"abcd", 11},
		{strings.Repeat("a", 7), 11},
		{strings.Repeat("a", 400), 110},
		// characters, not bytes: 8 runes over 24 bytes
		{"日本語のテキスト", 12},
		{strings.Repeat("日", 40), 20},
	}
	for _, c := range cases {
		if got := EstimateTokens(c.text); got != c.want {
			t.Fatalf("EstimateTokens(%q) = %d, want %d", c.text, got, c.want)
		}
	}
}

func TestResolveWithoutCustomRole(t *testing.T) {
	r := NewResolver(openTestKV(t), nil)
	l, err := r.Resolve(context.Background(), &models.User{ID: "u1"})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if l.MaxChats != nil || l.MaxTokensPerMonth != nil || l.ContextLength != nil {
		t.Fatalf("expected unlimited for role-less user, got %+v", l)
	}
}

func TestResolveDanglingRoleFailsOpen(t *testing.T) {
	r := NewResolver(openTestKV(t), nil)
	l, err := r.Resolve(context.Background(), &models.User{ID: "u1", CustomRole: "deleted-role"})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if l.MaxChats != nil || l.MaxTokensPerMonth != nil || l.ContextLength != nil {
		t.Fatalf("expected unlimited for dangling role reference, got %+v", l)
	}
}

func TestResolveReadsRoleCeilings(t *testing.T) {
	store := openTestKV(t)
	ctx := context.Background()
	role := models.Role{
		ID:                "r1",
		Name:              "trial",
		MaxChats:          intp(3),
		MaxTokensPerMonth: intp(1000),
		ContextLength:     intp(100),
	}
	if err := store.Put(ctx, models.TableRoles, role.ID, &role); err != nil {
		t.Fatalf("put role: %v", err)
	}

	r := NewResolver(store, nil)
	l, err := r.Resolve(ctx, &models.User{ID: "u1", CustomRole: "r1"})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if l.MaxChats == nil || *l.MaxChats != 3 {
		t.Fatalf("max_chats: got %v", l.MaxChats)
	}
	if l.MaxTokensPerMonth == nil || *l.MaxTokensPerMonth != 1000 {
		t.Fatalf("max_tokens_per_month: got %v", l.MaxTokensPerMonth)
	}
	if l.ContextLength == nil || *l.ContextLength != 100 {
		t.Fatalf("context_length: got %v", l.ContextLength)
	}
}

// fakeCache records cache traffic and can simulate an outage.
type fakeCache struct {
	entries map[string]Limits
	fail    bool
	gets    int
	sets    int
}

func newFakeCache() *fakeCache { return &fakeCache{entries: map[string]Limits{}} }

func (c *fakeCache) GetLimits(_ context.Context, roleID string) (*Limits, error) {
	c.gets++
	if c.fail {
		return nil, errors.New("cache down")
	}
	if l, ok := c.entries[roleID]; ok {
		return &l, nil
	}
	return nil, nil
}

func (c *fakeCache) SetLimits(_ context.Context, roleID string, l Limits) error {
	c.sets++
	if c.fail {
		return errors.New("cache down")
	}
	c.entries[roleID] = l
	return nil
}

func TestResolveCacheHitSkipsStore(t *testing.T) {
	store := openTestKV(t)
	ctx := context.Background()
	role := models.Role{ID: "r1", Name: "trial", MaxChats: intp(5)}
	if err := store.Put(ctx, models.TableRoles, role.ID, &role); err != nil {
		t.Fatalf("put role: %v", err)
	}

	cache := newFakeCache()
	r := NewResolver(store, cache)
	user := &models.User{ID: "u1", CustomRole: "r1"}

	if _, err := r.Resolve(ctx, user); err != nil {
		t.Fatalf("first resolve: %v", err)
	}
	if cache.sets != 1 {
		t.Fatalf("expected the first resolve to populate the cache, sets = %d", cache.sets)
	}

	// mutate the stored role; the cached entry should still win
	role.MaxChats = intp(99)
	if err := store.Put(ctx, models.TableRoles, role.ID, &role); err != nil {
		t.Fatalf("re-put role: %v", err)
	}
	l, err := r.Resolve(ctx, user)
	if err != nil {
		t.Fatalf("second resolve: %v", err)
	}
	if l.MaxChats == nil || *l.MaxChats != 5 {
		t.Fatalf("expected the cached ceiling 5, got %v", l.MaxChats)
	}
}

func TestResolveCacheOutageFallsThrough(t *testing.T) {
	store := openTestKV(t)
	ctx := context.Background()
	role := models.Role{ID: "r1", Name: "trial", MaxChats: intp(5)}
	if err := store.Put(ctx, models.TableRoles, role.ID, &role); err != nil {
		t.Fatalf("put role: %v", err)
	}

	cache := newFakeCache()
	cache.fail = true
	r := NewResolver(store, cache)

	l, err := r.Resolve(ctx, &models.User{ID: "u1", CustomRole: "r1"})
	if err != nil {
		t.Fatalf("resolve during cache outage: %v", err)
	}
	if l.MaxChats == nil || *l.MaxChats != 5 {
		t.Fatalf("expected store-backed ceiling despite cache outage, got %v", l.MaxChats)
	}
}

func newTestTracker(t *testing.T, store *kv.Store, now time.Time) *Tracker {
	t.Helper()
	tr := NewTracker(store, NewResolver(store, nil))
	tr.now = func() time.Time { return now }
	return tr
}

func TestTrackerBudgetBoundary(t *testing.T) {
	store := openTestKV(t)
	ctx := context.Background()
	now := time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC)

	role := models.Role{ID: "r1", Name: "trial", MaxTokensPerMonth: intp(100)}
	if err := store.Put(ctx, models.TableRoles, role.ID, &role); err != nil {
		t.Fatalf("put role: %v", err)
	}
	user := models.User{ID: "u1", CustomRole: "r1", TokensUsedThisMonth: 95, UsageResetAt: now.AddDate(0, 0, -5)}
	if err := store.Put(ctx, models.TableUsers, user.ID, &user); err != nil {
		t.Fatalf("put user: %v", err)
	}

	tr := newTestTracker(t, store, now)

	// landing exactly on the ceiling is allowed
	updated, err := tr.Record(ctx, &user, 5)
	if err != nil {
		t.Fatalf("record to exactly the ceiling: %v", err)
	}
	if updated.TokensUsedThisMonth != 100 {
		t.Fatalf("usage after record: got %d, want 100", updated.TokensUsedThisMonth)
	}

	if _, err := tr.Record(ctx, updated, 1); !common.IsKind(err, common.KindQuotaExceeded) {
		t.Fatalf("expected quota error past the ceiling, got %v", err)
	}

	if _, err := tr.Record(ctx, updated, -1); !common.IsKind(err, common.KindInvalidArgument) {
		t.Fatalf("expected invalid argument for negative tokens, got %v", err)
	}
}

func TestTrackerMonthlyRollover(t *testing.T) {
	store := openTestKV(t)
	ctx := context.Background()
	now := time.Date(2024, 4, 1, 0, 30, 0, 0, time.UTC)

	role := models.Role{ID: "r1", Name: "trial", MaxTokensPerMonth: intp(100)}
	if err := store.Put(ctx, models.TableRoles, role.ID, &role); err != nil {
		t.Fatalf("put role: %v", err)
	}
	// counter nearly exhausted, but in the previous calendar month
	user := models.User{ID: "u1", CustomRole: "r1", TokensUsedThisMonth: 90,
		UsageResetAt: time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC)}
	if err := store.Put(ctx, models.TableUsers, user.ID, &user); err != nil {
		t.Fatalf("put user: %v", err)
	}

	tr := newTestTracker(t, store, now)
	updated, err := tr.Record(ctx, &user, 20)
	if err != nil {
		t.Fatalf("record after month change: %v", err)
	}
	if updated.TokensUsedThisMonth != 20 {
		t.Fatalf("expected counter reset before recording, got %d", updated.TokensUsedThisMonth)
	}
	if updated.UsageResetAt.Month() != time.April {
		t.Fatalf("expected reset timestamp rolled to April, got %v", updated.UsageResetAt)
	}
}

func TestTrackerUnlimitedRole(t *testing.T) {
	store := openTestKV(t)
	ctx := context.Background()
	user := models.User{ID: "u1", TokensUsedThisMonth: 1 << 30, UsageResetAt: time.Now().UTC()}
	if err := store.Put(ctx, models.TableUsers, user.ID, &user); err != nil {
		t.Fatalf("put user: %v", err)
	}

	tr := NewTracker(store, NewResolver(store, nil))
	if _, err := tr.Record(ctx, &user, 1_000_000); err != nil {
		t.Fatalf("expected no ceiling without a custom role, got %v", err)
	}
}
