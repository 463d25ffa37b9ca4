package ledger

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	DefaultNamespace    = "auth:refresh"
	DefaultRecordPrefix = "jwt:rt"
)

// storeScript writes the record, its lookup entry and family membership. The
// family TTL is only ever extended.
//
// KEYS: record, lookup, family. ARGV: hash, ttl ms, jti.
const storeScript = `
redis.call("SET", KEYS[1], ARGV[1], "PX", ARGV[2])
redis.call("SET", KEYS[2], KEYS[3], "PX", ARGV[2])
redis.call("SADD", KEYS[3], ARGV[3])
if redis.call("PTTL", KEYS[3]) < tonumber(ARGV[2]) then
  redis.call("PEXPIRE", KEYS[3], ARGV[2])
end
return 1
`

var storeLua = redis.NewScript(storeScript)

// rotateScript compares the stored hash and swaps records in one step.
// Returns 1 when rotated and 0 when the record is missing or mismatched, in
// which case nothing is written.
//
// KEYS: old record, old lookup, new record, new lookup, family.
// ARGV: presented hash, new hash, ttl ms, old jti, new jti.
const rotateScript = `
local stored = redis.call("GET", KEYS[1])
if not stored or stored ~= ARGV[1] then
  return 0
end

redis.call("DEL", KEYS[1], KEYS[2])
redis.call("SREM", KEYS[5], ARGV[4])

redis.call("SET", KEYS[3], ARGV[2], "PX", ARGV[3])
redis.call("SET", KEYS[4], KEYS[5], "PX", ARGV[3])
redis.call("SADD", KEYS[5], ARGV[5])
if redis.call("PTTL", KEYS[5]) < tonumber(ARGV[3]) then
  redis.call("PEXPIRE", KEYS[5], ARGV[3])
end
return 1
`

var rotateLua = redis.NewScript(rotateScript)

// invalidateScript removes a record, its lookup entry and its membership.
//
// KEYS: record, lookup, family (may be empty string). ARGV: jti.
const invalidateScript = `
redis.call("DEL", KEYS[1], KEYS[2])
if KEYS[3] ~= "" then
  redis.call("SREM", KEYS[3], ARGV[1])
end
return 1
`

var invalidateLua = redis.NewScript(invalidateScript)

// invalidateFamilyScript reads the family set and deletes every member along
// with the set itself. Member keys are derived from the prefixes.
//
// KEYS: family. ARGV: record key prefix, lookup key prefix.
const invalidateFamilyScript = `
local members = redis.call("SMEMBERS", KEYS[1])
for _, jti in ipairs(members) do
  redis.call("DEL", ARGV[1] .. jti, ARGV[2] .. jti)
end
redis.call("DEL", KEYS[1])
return #members
`

var invalidateFamilyLua = redis.NewScript(invalidateFamilyScript)

// RedisConfig names the key layout of a RedisLedger.
type RedisConfig struct {
	Namespace    string
	RecordPrefix string
	Now          func() time.Time
}

// RedisLedger keeps records in Redis:
//
//	{ns}:{prefix}:{jti}          hex hash of the token
//	{ns}:lookup:{jti}            family key of the record
//	{ns}:family:{subject}:{dev}  set of jtis
//
// Every mutation is a single Lua script, so a cancelled caller can never
// leave a rotation half applied. Family invalidation touches keys derived
// inside the script; cluster deployments must route the namespace to one
// node.
//
//	Performance: 1 round trip per operation (2 for Invalidate).
type RedisLedger struct {
	redis        redis.UniversalClient
	recordPrefix string
	lookupPrefix string
	familyPrefix string
	now          func() time.Time
}

// NewRedisLedger returns a ledger on client. Empty config fields take defaults.
func NewRedisLedger(client redis.UniversalClient, cfg RedisConfig) *RedisLedger {
	ns := cfg.Namespace
	if ns == "" {
		ns = DefaultNamespace
	}
	prefix := cfg.RecordPrefix
	if prefix == "" {
		prefix = DefaultRecordPrefix
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &RedisLedger{
		redis:        client,
		recordPrefix: ns + ":" + prefix + ":",
		lookupPrefix: ns + ":lookup:",
		familyPrefix: ns + ":family:",
		now:          now,
	}
}

func (l *RedisLedger) recordKey(jti string) string { return l.recordPrefix + jti }
func (l *RedisLedger) lookupKey(jti string) string { return l.lookupPrefix + jti }
func (l *RedisLedger) familyKey(f FamilyKey) string {
	return l.familyPrefix + f.String()
}

func (l *RedisLedger) ttl(expiresAt time.Time) int64 {
	return expiresAt.Sub(l.now()).Milliseconds()
}

// Store implements Ledger.
func (l *RedisLedger) Store(ctx context.Context, rec Record) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	ttl := l.ttl(rec.ExpiresAt)
	if ttl <= 0 {
		return nil
	}

	keys := []string{l.recordKey(rec.JTI), l.lookupKey(rec.JTI), l.familyKey(rec.Family())}
	if err := storeLua.Run(ctx, l.redis, keys, rec.HashedToken.String(), ttl, rec.JTI).Err(); err != nil {
		return unavailable(err)
	}
	return nil
}

// RotateIfMatches implements Ledger.
func (l *RedisLedger) RotateIfMatches(ctx context.Context, rot Rotation) (RotationResult, error) {
	if err := rot.Validate(); err != nil {
		return RotationResult{}, err
	}
	ttl := l.ttl(rot.Next.ExpiresAt)
	if ttl <= 0 {
		return RotationResult{}, fmt.Errorf("%w: next record already expired", ErrInvalidRecord)
	}

	keys := []string{
		l.recordKey(rot.PreviousJTI),
		l.lookupKey(rot.PreviousJTI),
		l.recordKey(rot.Next.JTI),
		l.lookupKey(rot.Next.JTI),
		l.familyKey(rot.Next.Family()),
	}
	status, err := rotateLua.Run(ctx, l.redis, keys,
		rot.PresentedHash.String(),
		rot.Next.HashedToken.String(),
		ttl,
		rot.PreviousJTI,
		rot.Next.JTI,
	).Int64()
	if err != nil {
		return RotationResult{}, unavailable(err)
	}

	if status != 1 {
		return RotationResult{ReuseDetected: true, ReusedJTI: rot.PreviousJTI}, nil
	}
	return RotationResult{Rotated: true}, nil
}

// Invalidate implements Ledger.
func (l *RedisLedger) Invalidate(ctx context.Context, jti string) error {
	if jti == "" {
		return nil
	}

	family, err := l.redis.Get(ctx, l.lookupKey(jti)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return unavailable(err)
	}

	keys := []string{l.recordKey(jti), l.lookupKey(jti), family}
	if err := invalidateLua.Run(ctx, l.redis, keys, jti).Err(); err != nil {
		return unavailable(err)
	}
	return nil
}

// InvalidateFamily implements Ledger.
func (l *RedisLedger) InvalidateFamily(ctx context.Context, family FamilyKey) error {
	family = FamilyOf(family.Subject, family.DeviceID)
	keys := []string{l.familyKey(family)}
	if err := invalidateFamilyLua.Run(ctx, l.redis, keys, l.recordPrefix, l.lookupPrefix).Err(); err != nil {
		return unavailable(err)
	}
	return nil
}

// Exists implements Inspector.
func (l *RedisLedger) Exists(ctx context.Context, jti string) (bool, error) {
	n, err := l.redis.Exists(ctx, l.recordKey(jti)).Result()
	if err != nil {
		return false, unavailable(err)
	}
	return n == 1, nil
}

// FamilyMembers implements Inspector. Members whose record has expired are
// left out.
func (l *RedisLedger) FamilyMembers(ctx context.Context, family FamilyKey) ([]string, error) {
	family = FamilyOf(family.Subject, family.DeviceID)
	members, err := l.redis.SMembers(ctx, l.familyKey(family)).Result()
	if err != nil {
		return nil, unavailable(err)
	}
	if len(members) == 0 {
		return nil, nil
	}

	cmds := make([]*redis.IntCmd, len(members))
	_, err = l.redis.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, jti := range members {
			cmds[i] = pipe.Exists(ctx, l.recordKey(jti))
		}
		return nil
	})
	if err != nil {
		return nil, unavailable(err)
	}

	live := make([]string, 0, len(members))
	for i, cmd := range cmds {
		if cmd.Val() == 1 {
			live = append(live, members[i])
		}
	}
	sort.Strings(live)
	return live, nil
}

// Ping checks connectivity.
func (l *RedisLedger) Ping(ctx context.Context) error {
	if err := l.redis.Ping(ctx).Err(); err != nil {
		return unavailable(err)
	}
	return nil
}
