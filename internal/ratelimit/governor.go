// Package ratelimit implements the sliding-window throughput governor for
// badge operations. Limits are enforced globally across service instances
// through a shared Redis store; when that store is unreachable each
// instance degrades to a local in-process approximation of the same
// algorithm rather than failing the caller.
package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"merithub/internal/models"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/exp/slices"
)

// ===============================
// OPERATION CLASSES
// ===============================

// Operation classifies a rate-limited call. Each class has an
// independently configured window.
type Operation string

const (
	OpCreateDefinition Operation = "create_definition"
	OpAward            Operation = "award"
	OpRevoke           Operation = "revoke"
	OpBulk             Operation = "bulk"
	OpRead             Operation = "read"
	OpLeaderboard      Operation = "leaderboard"
)

// ===============================
// CONFIGURATION
// ===============================

// Window is one sliding-window limit: at most Max events per Duration.
type Window struct {
	Max      int           `json:"max"`
	Duration time.Duration `json:"duration"`
}

// Config holds the governor's per-operation windows and role widenings.
type Config struct {
	Enabled bool `json:"enabled"`

	// Windows are the base limits per operation class.
	Windows map[Operation]Window `json:"windows"`

	// RoleWindows widen (never narrow) an operation's limit for actors
	// holding the given role. The effective window is the one with the
	// highest Max across the base and every role the actor holds.
	RoleWindows map[models.Role]map[Operation]Window `json:"role_windows"`

	// BulkLargeThreshold splits bulk calls into coarse size buckets so
	// one huge batch does not starve normal bulk traffic.
	BulkLargeThreshold int `json:"bulk_large_threshold"`
}

// DefaultConfig returns the production window table.
func DefaultConfig() *Config {
	return &Config{
		Enabled: true,
		Windows: map[Operation]Window{
			OpCreateDefinition: {Max: 10, Duration: time.Hour},
			OpAward:            {Max: 30, Duration: time.Minute},
			OpRevoke:           {Max: 30, Duration: time.Minute},
			OpBulk:             {Max: 3, Duration: 5 * time.Minute},
			OpRead:             {Max: 120, Duration: time.Minute},
			OpLeaderboard:      {Max: 30, Duration: time.Minute},
		},
		RoleWindows: map[models.Role]map[Operation]Window{
			models.RoleSuperAdmin: {
				OpAward:  {Max: 120, Duration: time.Minute},
				OpRevoke: {Max: 120, Duration: time.Minute},
				OpBulk:   {Max: 10, Duration: 5 * time.Minute},
			},
			models.RoleInstitutionHead: {
				OpAward: {Max: 60, Duration: time.Minute},
			},
		},
		BulkLargeThreshold: 100,
	}
}

// ===============================
// DECISION
// ===============================

// Decision is the outcome of one admission check.
type Decision struct {
	Allowed    bool          `json:"allowed"`
	Limit      int           `json:"limit"`
	Remaining  int           `json:"remaining"`
	ResetAt    time.Time     `json:"reset_at"`
	RetryAfter time.Duration `json:"retry_after,omitempty"`
}

// ===============================
// WINDOW STORES
// ===============================

// Store records request timestamps per key in a sliding-window log.
// Admit prunes entries older than now-window, rejects when max entries
// survive, and records now otherwise. It reports the surviving count and
// the oldest surviving timestamp (zero when the window is empty).
type Store interface {
	Admit(ctx context.Context, key string, now time.Time, window time.Duration, max int) (allowed bool, count int, oldest time.Time, err error)
}

// ---- Redis store (shared across instances) ----

// redisStore keeps each window as a sorted set scored by unix
// nanoseconds, pruned on every check, with the whole key expiring after
// the window duration.
type redisStore struct {
	client redis.UniversalClient
}

// NewRedisStore creates the shared window store.
func NewRedisStore(client redis.UniversalClient) Store {
	return &redisStore{client: client}
}

func (s *redisStore) Admit(ctx context.Context, key string, now time.Time, window time.Duration, max int) (bool, int, time.Time, error) {
	cutoff := now.Add(-window).UnixNano()

	pipe := s.client.Pipeline()
	pruneCmd := pipe.ZRemRangeByScore(ctx, key, "0", strconv.FormatInt(cutoff, 10))
	countCmd := pipe.ZCard(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, 0, time.Time{}, err
	}
	_ = pruneCmd

	count := int(countCmd.Val())
	if count >= max {
		oldestEntries, err := s.client.ZRangeWithScores(ctx, key, 0, 0).Result()
		if err != nil {
			return false, count, time.Time{}, err
		}
		oldest := now
		if len(oldestEntries) > 0 {
			oldest = time.Unix(0, int64(oldestEntries[0].Score))
		}
		return false, count, oldest, nil
	}

	member := strconv.FormatInt(now.UnixNano(), 10)
	pipe = s.client.Pipeline()
	pipe.ZAdd(ctx, key, redis.Z{Score: float64(now.UnixNano()), Member: member})
	pipe.Expire(ctx, key, window)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, count, time.Time{}, err
	}

	oldest := now
	if count > 0 {
		if entries, err := s.client.ZRangeWithScores(ctx, key, 0, 0).Result(); err == nil && len(entries) > 0 {
			oldest = time.Unix(0, int64(entries[0].Score))
		}
	}
	return true, count + 1, oldest, nil
}

// ---- Local store (in-process fallback) ----

// localStore is the in-process approximation used when the shared store
// is unreachable. Same algorithm, per-instance view.
type localStore struct {
	mu      sync.Mutex
	windows map[string][]time.Time
}

// NewLocalStore creates an in-process window store.
func NewLocalStore() Store {
	return &localStore{windows: make(map[string][]time.Time)}
}

func (s *localStore) Admit(_ context.Context, key string, now time.Time, window time.Duration, max int) (bool, int, time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := now.Add(-window)
	entries := s.windows[key]

	kept := entries[:0]
	for _, t := range entries {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}

	if len(kept) >= max {
		s.windows[key] = kept
		return false, len(kept), kept[0], nil
	}

	kept = append(kept, now)
	s.windows[key] = kept

	return true, len(kept), kept[0], nil
}

// ===============================
// GOVERNOR
// ===============================

// Governor admits or rejects operations per (actor, operation[, sub-key])
// against the configured sliding windows.
type Governor struct {
	shared Store
	local  Store
	config *Config
	logger *zap.Logger

	// now is swappable for tests.
	now func() time.Time
}

// NewGovernor creates a governor. shared may be nil, in which case only
// the local approximation is used.
func NewGovernor(config *Config, shared Store, logger *zap.Logger) *Governor {
	if config == nil {
		config = DefaultConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Governor{
		shared: shared,
		local:  NewLocalStore(),
		config: config,
		logger: logger,
		now:    time.Now,
	}
}

// Admit checks the actor's window for the operation class. subKey further
// partitions the window (bulk size buckets); pass "" otherwise. Limiter
// infrastructure failure never rejects the caller: the check degrades to
// the local approximation and, as a last resort, fails open.
func (g *Governor) Admit(ctx context.Context, actor *models.ActorContext, op Operation, subKey string) *Decision {
	window := g.windowFor(actor, op)
	if !g.config.Enabled || window.Max <= 0 {
		return &Decision{Allowed: true, Limit: window.Max, Remaining: window.Max}
	}
	// No identity means no window to meter; authorization turns these
	// callers away, not the limiter.
	if actor == nil {
		return &Decision{Allowed: true, Limit: window.Max, Remaining: window.Max}
	}

	key := fmt.Sprintf("ratelimit:%s:%d", op, actor.ActorID)
	if subKey != "" {
		key += ":" + subKey
	}

	now := g.now()
	store := g.shared
	if store == nil {
		store = g.local
	}

	allowed, count, oldest, err := store.Admit(ctx, key, now, window.Duration, window.Max)
	if err != nil {
		g.logger.Warn("shared rate limit store unavailable, using local approximation",
			zap.String("key", key),
			zap.Error(err),
		)
		allowed, count, oldest, err = g.local.Admit(ctx, key, now, window.Duration, window.Max)
		if err != nil {
			// Never fail the caller because of limiter infrastructure.
			return &Decision{Allowed: true, Limit: window.Max, Remaining: 0}
		}
	}

	decision := &Decision{
		Allowed:   allowed,
		Limit:     window.Max,
		Remaining: window.Max - count,
	}
	if decision.Remaining < 0 {
		decision.Remaining = 0
	}

	if oldest.IsZero() {
		oldest = now
	}
	decision.ResetAt = oldest.Add(window.Duration)
	if !allowed {
		decision.RetryAfter = decision.ResetAt.Sub(now)
		if decision.RetryAfter < 0 {
			decision.RetryAfter = 0
		}
	}
	return decision
}

// BulkSizeBucket maps a batch size onto the coarse sub-key used for the
// bulk operation class.
func (g *Governor) BulkSizeBucket(items int) string {
	if items > g.config.BulkLargeThreshold {
		return "large"
	}
	return "small"
}

// windowFor resolves the effective window for the actor: the base window
// for the operation, widened to the highest-Max role window among the
// roles the actor holds.
func (g *Governor) windowFor(actor *models.ActorContext, op Operation) Window {
	window := g.config.Windows[op]
	if actor == nil {
		return window
	}

	candidates := []Window{window}
	for role, windows := range g.config.RoleWindows {
		if !actor.HasRole(role) {
			continue
		}
		if w, ok := windows[op]; ok {
			candidates = append(candidates, w)
		}
	}
	return slices.MaxFunc(candidates, func(a, b Window) int {
		return a.Max - b.Max
	})
}
