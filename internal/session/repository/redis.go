package repository

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"tma-auth/internal/session/domain"
)

// Session hashes hold times as unix milliseconds. revoked_at and reason are absent until revocation.
// Keys expire on their own at expires_at plus grace, so DeleteExpired has nothing to do.

const createSessionScript = `
if redis.call("EXISTS", KEYS[1]) == 1 then
  return 0
end
redis.call("HSET", KEYS[1],
  "principal_id", ARGV[1],
  "hash", ARGV[2],
  "gen", 0,
  "issued_at", ARGV[3],
  "expires_at", ARGV[4])
redis.call("PEXPIREAT", KEYS[1], ARGV[5])
redis.call("SADD", KEYS[2], ARGV[6])
return 1
`

const rotateSessionScript = `
local s = redis.call("HMGET", KEYS[1], "gen", "expires_at", "revoked_at")
if not s[1] then
  return -1
end
if s[3] then
  return -1
end
if tonumber(s[2]) <= tonumber(ARGV[5]) then
  return -1
end
if tonumber(s[1]) ~= tonumber(ARGV[1]) then
  return -1
end
local gen = redis.call("HINCRBY", KEYS[1], "gen", 1)
redis.call("HSET", KEYS[1], "hash", ARGV[2], "expires_at", ARGV[3], "rotated_at", ARGV[4])
redis.call("PEXPIREAT", KEYS[1], ARGV[6])
return gen
`

const revokeSessionScript = `
if redis.call("EXISTS", KEYS[1]) == 0 then
  return 0
end
redis.call("HSETNX", KEYS[1], "revoked_at", ARGV[1])
redis.call("HSETNX", KEYS[1], "reason", ARGV[2])
return 1
`

var (
	createSessionLua = redis.NewScript(createSessionScript)
	rotateSessionLua = redis.NewScript(rotateSessionScript)
	revokeSessionLua = redis.NewScript(revokeSessionScript)
)

// RedisRepository stores each session as a hash under <prefix>:session:<id> and indexes
// session ids per principal in a set. Create, Rotate and Revoke run as Lua scripts.
type RedisRepository struct {
	rdb    redis.UniversalClient
	prefix string
	grace  time.Duration
}

// NewRedisRepository returns a session repository backed by Redis. prefix namespaces the keys
// and must differ between environments sharing a Redis instance.
func NewRedisRepository(rdb redis.UniversalClient, prefix string, grace time.Duration) *RedisRepository {
	return &RedisRepository{rdb: rdb, prefix: prefix, grace: grace}
}

func (r *RedisRepository) sessionKey(id string) string {
	return r.prefix + ":session:" + id
}

func (r *RedisRepository) principalKey(principalID string) string {
	return r.prefix + ":principal:" + principalID
}

func (r *RedisRepository) Create(ctx context.Context, s *domain.Session) error {
	res, err := createSessionLua.Run(ctx, r.rdb,
		[]string{r.sessionKey(s.ID), r.principalKey(s.PrincipalID)},
		s.PrincipalID,
		s.RefreshTokenHash,
		s.IssuedAt.UnixMilli(),
		s.ExpiresAt.UnixMilli(),
		s.ExpiresAt.Add(r.grace).UnixMilli(),
		s.ID,
	).Int64()
	if err != nil {
		return unavailable("create", err)
	}
	if res == 0 {
		return ErrDuplicateID
	}
	s.Generation = 0
	return nil
}

func (r *RedisRepository) GetActive(ctx context.Context, id string, now time.Time) (*domain.Session, error) {
	fields, err := r.rdb.HGetAll(ctx, r.sessionKey(id)).Result()
	if err != nil {
		return nil, unavailable("get", err)
	}
	if len(fields) == 0 {
		return nil, ErrNotFound
	}
	s, err := decodeSession(id, fields)
	if err != nil {
		return nil, unavailable("get", err)
	}
	if !s.ActiveAt(now, r.grace) {
		return nil, ErrNotFound
	}
	return s, nil
}

func (r *RedisRepository) Rotate(ctx context.Context, rot domain.Rotation) (int64, error) {
	gen, err := rotateSessionLua.Run(ctx, r.rdb,
		[]string{r.sessionKey(rot.SessionID)},
		rot.ExpectedGeneration,
		rot.NewRefreshHash,
		rot.NewExpiresAt.UnixMilli(),
		rot.Now.UnixMilli(),
		rot.Now.Add(-r.grace).UnixMilli(),
		rot.NewExpiresAt.Add(r.grace).UnixMilli(),
	).Int64()
	if err != nil {
		return 0, unavailable("rotate", err)
	}
	if gen < 0 {
		return 0, ErrConflict
	}
	return gen, nil
}

func (r *RedisRepository) Revoke(ctx context.Context, id string, reason domain.RevokeReason, at time.Time) error {
	err := revokeSessionLua.Run(ctx, r.rdb, []string{r.sessionKey(id)}, at.UnixMilli(), string(reason)).Err()
	if err != nil {
		return unavailable("revoke", err)
	}
	return nil
}

// ListByPrincipal reads every session in the principal's index. Ids whose hash has expired are
// removed from the index as a side effect.
func (r *RedisRepository) ListByPrincipal(ctx context.Context, principalID string) ([]*domain.Session, error) {
	pkey := r.principalKey(principalID)
	ids, err := r.rdb.SMembers(ctx, pkey).Result()
	if err != nil {
		return nil, unavailable("list", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	cmds := make([]*redis.MapStringStringCmd, len(ids))
	_, err = r.rdb.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, id := range ids {
			cmds[i] = pipe.HGetAll(ctx, r.sessionKey(id))
		}
		return nil
	})
	if err != nil {
		return nil, unavailable("list", err)
	}

	var (
		out   []*domain.Session
		stale []any
	)
	for i, cmd := range cmds {
		fields := cmd.Val()
		if len(fields) == 0 {
			stale = append(stale, ids[i])
			continue
		}
		s, err := decodeSession(ids[i], fields)
		if err != nil {
			return nil, unavailable("list", err)
		}
		out = append(out, s)
	}
	if len(stale) > 0 {
		if err := r.rdb.SRem(ctx, pkey, stale...).Err(); err != nil {
			return nil, unavailable("list", err)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].IssuedAt.After(out[j].IssuedAt) })
	return out, nil
}

func (r *RedisRepository) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	return 0, nil
}

func (r *RedisRepository) Ping(ctx context.Context) error {
	if err := r.rdb.Ping(ctx).Err(); err != nil {
		return unavailable("ping", err)
	}
	return nil
}

var errCorruptSession = errors.New("corrupt session hash")

func decodeSession(id string, f map[string]string) (*domain.Session, error) {
	gen, err := strconv.ParseInt(f["gen"], 10, 64)
	if err != nil {
		return nil, errCorruptSession
	}
	issued, err := parseMillis(f["issued_at"])
	if err != nil {
		return nil, err
	}
	expires, err := parseMillis(f["expires_at"])
	if err != nil {
		return nil, err
	}
	s := &domain.Session{
		ID:               id,
		PrincipalID:      f["principal_id"],
		RefreshTokenHash: f["hash"],
		Generation:       gen,
		IssuedAt:         issued,
		ExpiresAt:        expires,
		RevokeReason:     domain.RevokeReason(f["reason"]),
	}
	if v, ok := f["rotated_at"]; ok {
		t, err := parseMillis(v)
		if err != nil {
			return nil, err
		}
		s.RotatedAt = &t
	}
	if v, ok := f["revoked_at"]; ok {
		t, err := parseMillis(v)
		if err != nil {
			return nil, err
		}
		s.RevokedAt = &t
	}
	return s, nil
}

func parseMillis(v string) (time.Time, error) {
	ms, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return time.Time{}, errCorruptSession
	}
	return time.UnixMilli(ms).UTC(), nil
}
