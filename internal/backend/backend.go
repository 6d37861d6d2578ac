// Package backend is a thin wrapper around a Redis-compatible ordered-set
// key-value store: typed commands, pipelined transactions, and named
// advisory locks with leases. It knows nothing about channels, cursors,
// or envelopes — that reasoning belongs to the channel protocol layer
// that sits on top of it.
package backend

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Member is one entry of an ordered set together with its score.
type Member struct {
	Value string
	Score float64
}

// Backend is the narrow surface the channel protocol consumes. It is
// satisfied by *Redis below; tests may substitute a fake.
type Backend interface {
	Ping(ctx context.Context) error
	Close() error

	// Incr atomically increments the integer counter at key and returns
	// the new value. A counter that does not yet exist starts at 0.
	Incr(ctx context.Context, key string) (int64, error)

	// ZAdd adds (or updates) member with score in the ordered set at key.
	ZAdd(ctx context.Context, key string, member string, score float64) error

	// ZAllWithScores returns every member of the ordered set at key,
	// along with its score, in score order.
	ZAllWithScores(ctx context.Context, key string) ([]Member, error)

	// ZRangeByScoreExclMin returns members whose score lies in (min, max], in
	// score order. Pass math.Inf for an open-ended bound.
	ZRangeByScoreExclMin(ctx context.Context, key string, min, max float64) ([]Member, error)

	// ZRem removes member from the ordered set at key.
	ZRem(ctx context.Context, key string, member string) error

	// ZRemRangeByScore removes every member with score in [min, max] and
	// returns how many were removed.
	ZRemRangeByScore(ctx context.Context, key string, min, max float64) (int64, error)

	// ZCard returns the cardinality of the ordered set at key.
	ZCard(ctx context.Context, key string) (int64, error)

	// Del deletes the given keys, ignoring keys that do not exist.
	Del(ctx context.Context, keys ...string) error

	// Pipeline batches the operations queued by fn into a single
	// pipelined round trip executed atomically from the client's
	// perspective: either all queued commands are sent together, or none
	// are (a connection error aborts before anything is sent).
	Pipeline(ctx context.Context, fn func(Pipeliner)) error

	// AcquireLock attempts to take the named advisory lock, retrying
	// until it succeeds or timeout elapses. On timeout it returns a
	// *rivulet internal* TimeoutError-shaped error (see ErrLockTimeout).
	AcquireLock(ctx context.Context, name string, timeout time.Duration) (Lock, error)
}

// Pipeliner is the subset of queued, deferred operations a caller can
// batch inside Backend.Pipeline. Errors are collected and returned from
// Pipeline itself; individual queue calls never fail. ZCard returns a
// Future whose Result only becomes valid once Pipeline's fn has returned
// and the batch has been executed.
type Pipeliner interface {
	ZAdd(key string, member string, score float64)
	ZRem(key string, member string)
	ZRemRangeByScore(key string, min, max float64) IntFuture
	ZCard(key string) IntFuture
	Del(keys ...string)
}

// IntFuture is a queued integer-returning command whose result is only
// readable after the enclosing Pipeline call has returned.
type IntFuture interface {
	Result() (int64, error)
}

// Lock is a held advisory lock. Release must be safe to call more than
// once and safe to call after the lease has already expired.
type Lock interface {
	Release(ctx context.Context) error
}

// ErrLockTimeout is returned by AcquireLock when the lock could not be
// taken within the caller's timeout.
var ErrLockTimeout = errors.New("backend: timed out acquiring advisory lock")

// Redis implements Backend against a Redis-compatible server via
// github.com/redis/go-redis/v9.
type Redis struct {
	rdb    redis.UniversalClient
	logger zerolog.Logger

	// lockRetryInterval controls how often AcquireLock polls while
	// waiting for a contended lock to free up.
	lockRetryInterval time.Duration
}

// Dial parses a backend URL of the form
// scheme://[:password@]host:port/db and connects, pinging once to fail
// fast on unreachable or unauthenticated servers.
func Dial(ctx context.Context, url string, logger zerolog.Logger) (*Redis, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("backend: parse url: %w", err)
	}
	rdb := redis.NewClient(opts)

	r := New(rdb, logger)
	if err := r.Ping(ctx); err != nil {
		_ = rdb.Close()
		return nil, err
	}
	return r, nil
}

// New wraps an already-constructed redis.UniversalClient (a *redis.Client,
// *redis.ClusterClient, or *redis.Ring), letting callers control pooling,
// TLS, and other connection-level concerns themselves.
func New(rdb redis.UniversalClient, logger zerolog.Logger) *Redis {
	return &Redis{
		rdb:               rdb,
		logger:            logger,
		lockRetryInterval: 25 * time.Millisecond,
	}
}

func (r *Redis) Ping(ctx context.Context) error {
	return r.rdb.Ping(ctx).Err()
}

func (r *Redis) Close() error {
	return r.rdb.Close()
}

func (r *Redis) Incr(ctx context.Context, key string) (int64, error) {
	return r.rdb.Incr(ctx, key).Result()
}

func (r *Redis) ZAdd(ctx context.Context, key string, member string, score float64) error {
	return r.rdb.ZAdd(ctx, key, redis.Z{Score: score, Member: member}).Err()
}

func (r *Redis) ZAllWithScores(ctx context.Context, key string) ([]Member, error) {
	zs, err := r.rdb.ZRangeWithScores(ctx, key, 0, -1).Result()
	if err != nil {
		return nil, err
	}
	return toMembers(zs), nil
}

func (r *Redis) ZRangeByScoreExclMin(ctx context.Context, key string, min, max float64) ([]Member, error) {
	zs, err := r.rdb.ZRangeByScoreWithScores(ctx, key, &redis.ZRangeBy{
		Min: exclusive(min),
		Max: inclusive(max),
	}).Result()
	if err != nil {
		return nil, err
	}
	return toMembers(zs), nil
}

func (r *Redis) ZRem(ctx context.Context, key string, member string) error {
	return r.rdb.ZRem(ctx, key, member).Err()
}

func (r *Redis) ZRemRangeByScore(ctx context.Context, key string, min, max float64) (int64, error) {
	return r.rdb.ZRemRangeByScore(ctx, key, inclusive(min), inclusive(max)).Result()
}

func (r *Redis) ZCard(ctx context.Context, key string) (int64, error) {
	return r.rdb.ZCard(ctx, key).Result()
}

func (r *Redis) Del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return r.rdb.Del(ctx, keys...).Err()
}

func (r *Redis) Pipeline(ctx context.Context, fn func(Pipeliner)) error {
	pipe := r.rdb.TxPipeline()
	fn(&redisPipeliner{ctx: ctx, pipe: pipe})
	_, err := pipe.Exec(ctx)
	if err != nil && !errors.Is(err, redis.Nil) {
		return err
	}
	return nil
}

type redisPipeliner struct {
	ctx  context.Context
	pipe redis.Pipeliner
}

func (p *redisPipeliner) ZAdd(key string, member string, score float64) {
	p.pipe.ZAdd(p.ctx, key, redis.Z{Score: score, Member: member})
}

func (p *redisPipeliner) ZRem(key string, member string) {
	p.pipe.ZRem(p.ctx, key, member)
}

func (p *redisPipeliner) ZRemRangeByScore(key string, min, max float64) IntFuture {
	return p.pipe.ZRemRangeByScore(p.ctx, key, inclusive(min), inclusive(max))
}

func (p *redisPipeliner) ZCard(key string) IntFuture {
	return p.pipe.ZCard(p.ctx, key)
}

func (p *redisPipeliner) Del(keys ...string) {
	p.pipe.Del(p.ctx, keys...)
}

// releaseScript deletes a lock key only if it still holds the token that
// acquired it, so a peer never releases a lease another peer has since
// taken over after expiry.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
else
	return 0
end
`)

type redisLock struct {
	rdb   redis.UniversalClient
	key   string
	token string
}

func (l *redisLock) Release(ctx context.Context) error {
	return releaseScript.Run(ctx, l.rdb, []string{l.key}, l.token).Err()
}

// AcquireLock takes the named lock via SET NX PX, polling at
// lockRetryInterval until it succeeds or timeout elapses. The lease TTL
// equals timeout: lock_timeout serves double duty as both "how long to
// wait to acquire" and "how long the lease lasts once held" (see
// DESIGN.md).
func (r *Redis) AcquireLock(ctx context.Context, name string, timeout time.Duration) (Lock, error) {
	token, err := randomToken()
	if err != nil {
		return nil, fmt.Errorf("backend: generate lock token: %w", err)
	}

	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(r.lockRetryInterval)
	defer ticker.Stop()

	for {
		ok, err := r.rdb.SetNX(ctx, name, token, timeout).Result()
		if err != nil {
			return nil, err
		}
		if ok {
			return &redisLock{rdb: r.rdb, key: name, token: token}, nil
		}
		if time.Now().After(deadline) {
			return nil, ErrLockTimeout
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func randomToken() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

func toMembers(zs []redis.Z) []Member {
	out := make([]Member, len(zs))
	for i, z := range zs {
		out[i] = Member{Value: z.Member.(string), Score: z.Score}
	}
	return out
}

func exclusive(v float64) string {
	return "(" + formatScore(v)
}

func inclusive(v float64) string {
	return formatScore(v)
}

func formatScore(v float64) string {
	switch {
	case math.IsInf(v, -1):
		return "-inf"
	case math.IsInf(v, 1):
		return "+inf"
	default:
		return strconv.FormatInt(int64(v), 10)
	}
}

// NegInf and PosInf are the sentinel score bounds ZRangeByScoreExclMin
// and ZRemRangeByScore recognise as open-ended, mirroring the meaning of
// redis.ZRangeBy's "-inf"/"+inf" literals without leaking redis types
// through the Backend interface.
func NegInf() float64 { return math.Inf(-1) }
func PosInf() float64 { return math.Inf(1) }
