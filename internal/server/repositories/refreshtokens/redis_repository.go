package refreshtokens

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/dmitrijs2005/polls/internal/common"
	"github.com/dmitrijs2005/polls/internal/server/models"
	"github.com/redis/go-redis/v9"
)

// ErrRedisUnavailable wraps transport failures talking to Redis.
var ErrRedisUnavailable = errors.New("redis unavailable")

const createTokenScript = `
if redis.call("EXISTS", KEYS[1]) == 1 then
  return -1
end
if not redis.call("SET", KEYS[2], ARGV[1], "NX") then
  return 0
end
redis.call("PEXPIREAT", KEYS[2], ARGV[7])
redis.call("HSET", KEYS[1],
  "user_id", ARGV[2],
  "hash", ARGV[3],
  "expires_at", ARGV[4],
  "persistent", ARGV[5],
  "created_at", ARGV[6])
redis.call("PEXPIREAT", KEYS[1], ARGV[7])
redis.call("SADD", KEYS[3], ARGV[1])
local keep = tonumber(ARGV[8])
if keep > 0 then
  local ttl = redis.call("PTTL", KEYS[3])
  if ttl < keep then
    redis.call("PEXPIRE", KEYS[3], keep)
  end
end
return 1
`

var createTokenLua = redis.NewScript(createTokenScript)

const rotateHashScript = `
local current = redis.call("HGET", KEYS[1], "hash")
if not current or current ~= ARGV[1] then
  return 0
end
if not redis.call("SET", KEYS[3], ARGV[3], "NX") then
  return -1
end
local ttl = redis.call("PTTL", KEYS[1])
if ttl > 0 then
  redis.call("PEXPIRE", KEYS[3], ttl)
end
redis.call("HSET", KEYS[1], "hash", ARGV[2])
redis.call("DEL", KEYS[2])
return 1
`

var rotateHashLua = redis.NewScript(rotateHashScript)

const revokeTokenScript = `
local fields = redis.call("HMGET", KEYS[1], "user_id", "hash")
if not fields[1] then
  return 0
end
redis.call("DEL", KEYS[1])
redis.call("DEL", ARGV[2] .. fields[2])
redis.call("SREM", ARGV[3] .. fields[1], ARGV[1])
return 1
`

var revokeTokenLua = redis.NewScript(revokeTokenScript)

// RedisRepository keeps refresh token records in Redis.
//
// Layout (prefix "polls" by default):
//
//	polls:rt:{id}      hash: user_id, hash (hex), expires_at, persistent, created_at
//	polls:rth:{hash}   id owning the secret hash; enforces hash uniqueness
//	polls:rtu:{userID} set of token ids owned by the user
//
// Keys expire retention after the token itself so an expired token is still
// observed (and reported as expired) for a while before Redis drops it. The
// owner set lives as long as its longest-lived member; ids whose record is
// already gone are pruned by DeleteExpired.
type RedisRepository struct {
	redis     redis.UniversalClient
	prefix    string
	retention time.Duration
}

// NewRedisRepository constructs a Redis-backed repository.
func NewRedisRepository(rdb redis.UniversalClient, prefix string, retention time.Duration) *RedisRepository {
	if prefix == "" {
		prefix = "polls"
	}
	return &RedisRepository{redis: rdb, prefix: prefix, retention: retention}
}

func (r *RedisRepository) tokenKey(id string) string {
	return r.prefix + ":rt:" + id
}

func (r *RedisRepository) hashKeyPrefix() string {
	return r.prefix + ":rth:"
}

func (r *RedisRepository) hashKey(hash []byte) string {
	return r.hashKeyPrefix() + hex.EncodeToString(hash)
}

func (r *RedisRepository) ownerKeyPrefix() string {
	return r.prefix + ":rtu:"
}

func (r *RedisRepository) ownerKey(userID string) string {
	return r.ownerKeyPrefix() + userID
}

func (r *RedisRepository) Create(ctx context.Context, token *models.RefreshToken) (*models.RefreshToken, error) {
	if token.ID == "" {
		token.ID = NewID()
	}
	if token.CreatedAt.IsZero() {
		token.CreatedAt = time.Now()
	}

	persistent := "0"
	if token.Persistent {
		persistent = "1"
	}

	res, err := createTokenLua.Run(ctx, r.redis,
		[]string{r.tokenKey(token.ID), r.hashKey(token.SecretHash), r.ownerKey(token.UserID)},
		token.ID,
		token.UserID,
		hex.EncodeToString(token.SecretHash),
		strconv.FormatInt(token.ExpiresAt.UnixNano(), 10),
		persistent,
		strconv.FormatInt(token.CreatedAt.UnixNano(), 10),
		strconv.FormatInt(token.ExpiresAt.Add(r.retention).UnixMilli(), 10),
		strconv.FormatInt(time.Until(token.ExpiresAt.Add(r.retention)).Milliseconds(), 10),
	).Int64()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	switch res {
	case 1:
		return token, nil
	case 0, -1:
		return nil, common.ErrorAlreadyExists
	default:
		return nil, fmt.Errorf("unexpected create result %d", res)
	}
}

func (r *RedisRepository) Get(ctx context.Context, id string) (*models.RefreshToken, error) {
	fields, err := r.redis.HGetAll(ctx, r.tokenKey(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if len(fields) == 0 {
		return nil, common.ErrorNotFound
	}
	return decodeToken(id, fields)
}

func decodeToken(id string, fields map[string]string) (*models.RefreshToken, error) {
	hash, err := hex.DecodeString(fields["hash"])
	if err != nil {
		return nil, fmt.Errorf("corrupt refresh token %s: %w", id, err)
	}
	expires, err := strconv.ParseInt(fields["expires_at"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("corrupt refresh token %s: %w", id, err)
	}
	created, err := strconv.ParseInt(fields["created_at"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("corrupt refresh token %s: %w", id, err)
	}

	return &models.RefreshToken{
		ID:         id,
		UserID:     fields["user_id"],
		SecretHash: hash,
		ExpiresAt:  time.Unix(0, expires),
		Persistent: fields["persistent"] == "1",
		CreatedAt:  time.Unix(0, created),
	}, nil
}

func (r *RedisRepository) ReplaceSecretHash(ctx context.Context, id string, oldHash, newHash []byte) (bool, error) {
	res, err := rotateHashLua.Run(ctx, r.redis,
		[]string{r.tokenKey(id), r.hashKey(oldHash), r.hashKey(newHash)},
		hex.EncodeToString(oldHash),
		hex.EncodeToString(newHash),
		id,
	).Int64()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	switch res {
	case 1:
		return true, nil
	case 0:
		return false, nil
	case -1:
		return false, common.ErrorAlreadyExists
	default:
		return false, fmt.Errorf("unexpected rotate result %d", res)
	}
}

func (r *RedisRepository) Revoke(ctx context.Context, id string) (bool, error) {
	res, err := revokeTokenLua.Run(ctx, r.redis,
		[]string{r.tokenKey(id)},
		id,
		r.hashKeyPrefix(),
		r.ownerKeyPrefix(),
	).Int64()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return res == 1, nil
}

// RevokeAllForOwner revokes every id in the owner's index set one by one.
// A token created for the owner while this runs may survive; it is caught by
// the next call or expires on its own.
func (r *RedisRepository) RevokeAllForOwner(ctx context.Context, userID string) (bool, error) {
	ownerKey := r.ownerKey(userID)

	ids, err := r.redis.SMembers(ctx, ownerKey).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	removed := false
	for _, id := range ids {
		ok, err := r.Revoke(ctx, id)
		if err != nil {
			return removed, err
		}
		removed = removed || ok
	}

	if err := r.redis.Del(ctx, ownerKey).Err(); err != nil {
		return removed, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return removed, nil
}

// DeleteExpired scans the token keyspace and revokes records past expiry.
func (r *RedisRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	var n int64
	keyPrefix := r.prefix + ":rt:"

	iter := r.redis.Scan(ctx, 0, keyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		id := iter.Val()[len(keyPrefix):]

		raw, err := r.redis.HGet(ctx, iter.Val(), "expires_at").Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			return n, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
		expires, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || !now.After(time.Unix(0, expires)) {
			continue
		}

		ok, err := r.Revoke(ctx, id)
		if err != nil {
			return n, err
		}
		if ok {
			n++
		}
	}
	if err := iter.Err(); err != nil {
		return n, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	if err := r.pruneOwnerSets(ctx); err != nil {
		return n, err
	}
	return n, nil
}

// pruneOwnerSets drops ids from the owner sets whose token record has
// already expired out of Redis.
func (r *RedisRepository) pruneOwnerSets(ctx context.Context) error {
	iter := r.redis.Scan(ctx, 0, r.ownerKeyPrefix()+"*", 100).Iterator()
	for iter.Next(ctx) {
		ownerKey := iter.Val()

		ids, err := r.redis.SMembers(ctx, ownerKey).Result()
		if err != nil {
			return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}

		var dead []any
		for _, id := range ids {
			n, err := r.redis.Exists(ctx, r.tokenKey(id)).Result()
			if err != nil {
				return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
			}
			if n == 0 {
				dead = append(dead, id)
			}
		}
		if len(dead) == 0 {
			continue
		}
		if err := r.redis.SRem(ctx, ownerKey, dead...).Err(); err != nil {
			return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}
