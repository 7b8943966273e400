package ledger

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"clippy/types"
)

const (
	entryKeyPrefix    = "clippy:intent:"
	statusSetPrefix   = "clippy:intents:status:"
	platformSetPrefix = "clippy:intents:platform:"
)

// Redis is a Ledger backed by Redis hashes, one per (clip, platform) pair,
// with status and platform index sets. Create and Transition run as Lua
// scripts so the compare-and-set is atomic server-side.
type Redis struct {
	client *redis.Client
}

// RedisConfig configures the Redis-backed ledger
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// NewRedis creates a ledger on the given Redis instance
func NewRedis(cfg RedisConfig) *Redis {
	if cfg.Addr == "" {
		cfg.Addr = "localhost:6379"
	}
	return &Redis{
		client: redis.NewClient(&redis.Options{
			Addr:     cfg.Addr,
			Password: cfg.Password,
			DB:       cfg.DB,
		}),
	}
}

// NewRedisFromEnv creates a ledger using REDIS_ADDR, REDIS_PASS and REDIS_DB
func NewRedisFromEnv() *Redis {
	cfg := RedisConfig{
		Addr:     os.Getenv("REDIS_ADDR"),
		Password: os.Getenv("REDIS_PASS"),
	}
	if d := os.Getenv("REDIS_DB"); d != "" {
		if v, err := strconv.Atoi(d); err == nil {
			cfg.DB = v
		}
	}
	return NewRedis(cfg)
}

// Ping verifies connectivity
func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close releases the underlying client
func (r *Redis) Close() error {
	return r.client.Close()
}

// createScript registers a queued intent unless the pair already holds a
// status other than failed_retryable. Re-creation from failed_retryable
// keeps attempt_count and post_id.
// KEYS: entry, retryable set, queued set, platform set
// ARGV: pair, clip_id, platform, scheduled_time, updated_at
var createScript = redis.NewScript(`
local cur = redis.call('HGET', KEYS[1], 'status')
if cur and cur ~= 'failed_retryable' then
  return 'duplicate'
end
local version = 1
local attempts = 0
local post_id = ''
if cur then
  version = tonumber(redis.call('HGET', KEYS[1], 'version')) + 1
  attempts = tonumber(redis.call('HGET', KEYS[1], 'attempt_count')) or 0
  post_id = redis.call('HGET', KEYS[1], 'post_id') or ''
  redis.call('SREM', KEYS[2], ARGV[1])
end
redis.call('HSET', KEYS[1],
  'clip_id', ARGV[2],
  'platform', ARGV[3],
  'status', 'queued',
  'attempt_count', attempts,
  'scheduled_time', ARGV[4],
  'version', version,
  'post_id', post_id,
  'last_error', '',
  'updated_at', ARGV[5])
redis.call('SADD', KEYS[3], ARGV[1])
redis.call('SADD', KEYS[4], ARGV[1])
return {version, attempts, post_id}
`)

// transitionScript is the compare-and-set write: the stored status and
// version must both match the caller's snapshot.
// KEYS: entry, from status set, to status set
// ARGV: pair, from, to, expected version, attempt_count, post_id,
//       last_error, scheduled_time, updated_at
var transitionScript = redis.NewScript(`
local cur = redis.call('HGET', KEYS[1], 'status')
if not cur then
  return 'stale'
end
if cur ~= ARGV[2] or tonumber(redis.call('HGET', KEYS[1], 'version')) ~= tonumber(ARGV[4]) then
  if cur == 'in_flight' or cur == 'succeeded' then
    return 'duplicate'
  end
  return 'stale'
end
local version = tonumber(ARGV[4]) + 1
redis.call('HSET', KEYS[1],
  'status', ARGV[3],
  'attempt_count', ARGV[5],
  'post_id', ARGV[6],
  'last_error', ARGV[7],
  'scheduled_time', ARGV[8],
  'version', version,
  'updated_at', ARGV[9])
redis.call('SMOVE', KEYS[2], KEYS[3], ARGV[1])
return version
`)

func (r *Redis) Get(ctx context.Context, clipID, platform string) (types.LedgerEntry, bool, error) {
	pair := pairKey(clipID, platform)
	fields, err := r.client.HGetAll(ctx, entryKeyPrefix+pair).Result()
	if err != nil {
		return types.LedgerEntry{}, false, fmt.Errorf("ledger get %s: %w", pair, err)
	}
	if len(fields) == 0 {
		return types.LedgerEntry{}, false, nil
	}
	return entryFromFields(fields), true, nil
}

func (r *Redis) Create(ctx context.Context, intent types.PublishIntent) (types.LedgerEntry, error) {
	pair := pairKey(intent.ClipID, intent.Platform)
	now := time.Now().UTC()

	res, err := createScript.Run(ctx, r.client,
		[]string{
			entryKeyPrefix + pair,
			statusSetPrefix + string(types.StatusFailedRetryable),
			statusSetPrefix + string(types.StatusQueued),
			platformSetPrefix + intent.Platform,
		},
		pair,
		intent.ClipID,
		intent.Platform,
		intent.ScheduledTime.UTC().Format(time.RFC3339Nano),
		now.Format(time.RFC3339Nano),
	).Result()
	if err != nil {
		return types.LedgerEntry{}, fmt.Errorf("ledger create %s: %w", pair, err)
	}

	if s, ok := res.(string); ok && s == "duplicate" {
		entry, _, gerr := r.Get(ctx, intent.ClipID, intent.Platform)
		if gerr != nil {
			return types.LedgerEntry{}, gerr
		}
		return entry, types.ErrDuplicateIntent
	}

	vals, ok := res.([]interface{})
	if !ok || len(vals) != 3 {
		return types.LedgerEntry{}, fmt.Errorf("ledger create %s: unexpected reply %v", pair, res)
	}
	entry := types.LedgerEntry{
		ClipID:        intent.ClipID,
		Platform:      intent.Platform,
		Status:        types.StatusQueued,
		ScheduledTime: intent.ScheduledTime.UTC(),
		Version:       toInt64(vals[0]),
		AttemptCount:  int(toInt64(vals[1])),
		UpdatedAt:     now,
	}
	if s, ok := vals[2].(string); ok {
		entry.PostID = s
	}
	return entry, nil
}

func (r *Redis) Transition(ctx context.Context, clipID, platform string, from, to types.IntentStatus, mutate func(*types.LedgerEntry)) (types.LedgerEntry, error) {
	pair := pairKey(clipID, platform)

	cur, found, err := r.Get(ctx, clipID, platform)
	if err != nil {
		return types.LedgerEntry{}, err
	}
	if !found {
		return types.LedgerEntry{}, types.ErrStaleTransition
	}

	next := cur
	if mutate != nil {
		mutate(&next)
	}
	next.Status = to
	now := time.Now().UTC()

	res, err := transitionScript.Run(ctx, r.client,
		[]string{
			entryKeyPrefix + pair,
			statusSetPrefix + string(from),
			statusSetPrefix + string(to),
		},
		pair,
		string(from),
		string(to),
		cur.Version,
		next.AttemptCount,
		next.PostID,
		next.LastError,
		next.ScheduledTime.UTC().Format(time.RFC3339Nano),
		now.Format(time.RFC3339Nano),
	).Result()
	if err != nil {
		return types.LedgerEntry{}, fmt.Errorf("ledger transition %s %s->%s: %w", pair, from, to, err)
	}

	switch v := res.(type) {
	case string:
		if v == "duplicate" {
			return cur, types.ErrDuplicateIntent
		}
		return cur, types.ErrStaleTransition
	case int64:
		next.Version = v
		next.UpdatedAt = now
		return next, nil
	default:
		return types.LedgerEntry{}, fmt.Errorf("ledger transition %s: unexpected reply %v", pair, res)
	}
}

func (r *Redis) ByStatus(ctx context.Context, status types.IntentStatus) ([]types.LedgerEntry, error) {
	return r.bySet(ctx, statusSetPrefix+string(status))
}

func (r *Redis) ByPlatform(ctx context.Context, platform string) ([]types.LedgerEntry, error) {
	return r.bySet(ctx, platformSetPrefix+platform)
}

func (r *Redis) bySet(ctx context.Context, setKey string) ([]types.LedgerEntry, error) {
	pairs, err := r.client.SMembers(ctx, setKey).Result()
	if err != nil {
		return nil, fmt.Errorf("ledger scan %s: %w", setKey, err)
	}
	out := make([]types.LedgerEntry, 0, len(pairs))
	for _, pair := range pairs {
		fields, err := r.client.HGetAll(ctx, entryKeyPrefix+pair).Result()
		if err != nil {
			return nil, fmt.Errorf("ledger scan %s: %w", pair, err)
		}
		if len(fields) == 0 {
			continue
		}
		out = append(out, entryFromFields(fields))
	}
	return out, nil
}

func entryFromFields(fields map[string]string) types.LedgerEntry {
	e := types.LedgerEntry{
		ClipID:    fields["clip_id"],
		Platform:  fields["platform"],
		Status:    types.IntentStatus(fields["status"]),
		PostID:    fields["post_id"],
		LastError: fields["last_error"],
	}
	if v, err := strconv.Atoi(fields["attempt_count"]); err == nil {
		e.AttemptCount = v
	}
	if v, err := strconv.ParseInt(fields["version"], 10, 64); err == nil {
		e.Version = v
	}
	if t, err := time.Parse(time.RFC3339Nano, fields["scheduled_time"]); err == nil {
		e.ScheduledTime = t
	}
	if t, err := time.Parse(time.RFC3339Nano, fields["updated_at"]); err == nil {
		e.UpdatedAt = t
	}
	return e
}

func toInt64(v interface{}) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case string:
		if x, err := strconv.ParseInt(n, 10, 64); err == nil {
			return x
		}
	}
	return 0
}
