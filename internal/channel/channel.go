// Package channel implements the subscribe / unsubscribe / write / read
// state transitions against backend state. It is the only component that
// reasons about Rivulet's invariants; the key schema, envelope codec, and
// backend adapter it calls are all mechanical.
package channel

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/rivulet-io/rivulet/internal/backend"
	"github.com/rivulet-io/rivulet/internal/envelope"
	"github.com/rivulet-io/rivulet/internal/keys"
)

// IndexPolicy mirrors the public rivulet.IndexPolicy without importing
// the root package (which imports this one), keeping the dependency
// direction acyclic. The root package's constants are defined to share
// these exact integer values.
type IndexPolicy int

const (
	EARLIEST IndexPolicy = iota
	CURRENT
	LATEST
)

// DefaultMessageLimit is the per-channel cap on messages drawn by one
// Read sweep when the caller does not specify one.
const DefaultMessageLimit = 512

// DefaultBufSize is the GC hysteresis threshold used when the caller
// configures none.
const DefaultBufSize = 4096

// ErrLockTimeout is returned (wrapped) when an advisory lock could not be
// acquired in time. Callers should translate this into their own
// TimeoutError type; Protocol never does, to avoid importing the root
// package's error types and creating a cycle.
var ErrLockTimeout = backend.ErrLockTimeout

// Protocol runs the Channel Protocol against a Backend. It holds no
// per-client or per-channel state of its own: everything it needs is
// passed in on each call and everything it learns lives in the backend.
type Protocol struct {
	be      backend.Backend
	bufsize int64
	logger  zerolog.Logger
}

func New(be backend.Backend, bufsize int64, logger zerolog.Logger) *Protocol {
	if bufsize <= 0 {
		bufsize = DefaultBufSize
	}
	return &Protocol{be: be, bufsize: bufsize, logger: logger}
}

// Subscribe runs the per-channel subscribe protocol over channels in
// order. It is not transactional across channels: an error on the Nth
// channel leaves the first N-1 fully subscribed.
func (p *Protocol) Subscribe(ctx context.Context, clientID string, channelIDs []string, policy IndexPolicy, lockTimeout time.Duration) error {
	for _, ch := range channelIDs {
		if err := p.subscribeOne(ctx, clientID, ch, policy, lockTimeout); err != nil {
			return err
		}
	}
	return nil
}

func (p *Protocol) subscribeOne(ctx context.Context, clientID, ch string, policy IndexPolicy, lockTimeout time.Duration) error {
	lock, err := p.be.AcquireLock(ctx, keys.LockIds(ch), lockTimeout)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", ch, err)
	}
	defer func() { _ = lock.Release(ctx) }()

	members, err := p.be.ZAllWithScores(ctx, keys.Clients(ch))
	if err != nil {
		return fmt.Errorf("subscribe %s: read clients: %w", ch, err)
	}

	alreadySubscribed := false
	minScore, maxScore := int64(0), int64(0)
	if len(members) == 0 {
		// Treat as (∅, {0}): both min and max resolve to 0.
	} else {
		minScore, maxScore = int64(members[0].Score), int64(members[0].Score)
		for _, m := range members {
			s := int64(m.Score)
			if s < minScore {
				minScore = s
			}
			if s > maxScore {
				maxScore = s
			}
			if m.Value == clientID {
				alreadySubscribed = true
			}
		}
	}

	var cursor int64
	switch policy {
	case EARLIEST:
		cursor = minScore
	case LATEST:
		cursor = maxScore
	case CURRENT:
		if alreadySubscribed {
			// Preserve the existing cursor; nothing to write.
			return nil
		}
		cursor = maxScore
	default:
		return fmt.Errorf("subscribe %s: unknown policy %d", ch, policy)
	}

	return p.be.Pipeline(ctx, func(tx backend.Pipeliner) {
		tx.ZAdd(keys.Clients(ch), clientID, float64(cursor))
		tx.ZAdd(keys.Indexes(clientID), ch, float64(cursor))
	})
}

// Write allocates the next id in ch, builds an envelope around data, and
// inserts it into the channel's message set. It returns the allocated id.
func (p *Protocol) Write(ctx context.Context, clientID, ch, data string, lockTimeout time.Duration, now func() time.Time) (int64, error) {
	lock, err := p.be.AcquireLock(ctx, keys.LockIds(ch), lockTimeout)
	if err != nil {
		return 0, fmt.Errorf("write %s: %w", ch, err)
	}
	defer func() { _ = lock.Release(ctx) }()

	id, err := p.be.Incr(ctx, keys.Ids(ch))
	if err != nil {
		return 0, fmt.Errorf("write %s: allocate id: %w", ch, err)
	}

	env := envelope.Envelope{
		ID:   id,
		TS:   now().UnixMicro(),
		Src:  clientID,
		Data: data,
	}
	encoded, err := envelope.Encode(env)
	if err != nil {
		return 0, fmt.Errorf("write %s: encode envelope: %w", ch, err)
	}

	if err := p.be.ZAdd(ctx, keys.Messages(ch), string(encoded), float64(id)); err != nil {
		return 0, fmt.Errorf("write %s: insert message: %w", ch, err)
	}
	return id, nil
}

// channelRead is the intermediate state gathered for one channel during
// a Read sweep, before the deferred cursor-advance/GC pipeline runs.
type channelRead struct {
	ch          string
	priorCursor int64
	envelopes   []envelope.Envelope
	newest      int64
	minOther    int64
	gc          bool
}

// Read performs one non-blocking sweep across every channel clientID is
// subscribed to, drawing up to messageLimit new messages per channel. The
// second return value is the number of messages the cooperative GC path
// removed during this sweep, surfaced so callers can report it as a
// metric; it carries no protocol meaning of its own.
func (p *Protocol) Read(ctx context.Context, clientID string, messageLimit int) (map[string][]envelope.Envelope, int64, error) {
	if messageLimit <= 0 {
		messageLimit = DefaultMessageLimit
	}

	subs, err := p.be.ZAllWithScores(ctx, keys.Indexes(clientID))
	if err != nil {
		return nil, 0, fmt.Errorf("read: list subscriptions: %w", err)
	}
	if len(subs) == 0 {
		return map[string][]envelope.Envelope{}, 0, nil
	}

	pending := make([]*channelRead, 0, len(subs))
	for _, sub := range subs {
		ch := sub.Value
		cursor := int64(sub.Score)

		raw, err := p.be.ZRangeByScoreExclMin(ctx, keys.Messages(ch), float64(cursor), float64(cursor)+float64(messageLimit))
		if err != nil {
			return nil, 0, fmt.Errorf("read %s: range messages: %w", ch, err)
		}
		if len(raw) == 0 {
			// No new messages, or another actor unsubscribed the
			// channel out from under us between steps 1 and 2 — both
			// cases are silently dropped from the result.
			continue
		}

		envs := make([]envelope.Envelope, 0, len(raw))
		for _, m := range raw {
			e, err := envelope.Decode([]byte(m.Value))
			if err != nil {
				return nil, 0, fmt.Errorf("read %s: %w", ch, err)
			}
			envs = append(envs, e)
		}

		clientsSnapshot, err := p.be.ZAllWithScores(ctx, keys.Clients(ch))
		if err != nil {
			return nil, 0, fmt.Errorf("read %s: read clients: %w", ch, err)
		}
		minOther := minScoreOf(clientsSnapshot)

		newest := envs[len(envs)-1].ID
		cr := &channelRead{
			ch:          ch,
			priorCursor: cursor,
			envelopes:   envs,
			newest:      newest,
			minOther:    minOther,
			// Cooperative GC rule: the slowest subscriber must have
			// pulled ahead of *this reader's prior cursor* (not its new
			// one) by more than bufsize before we bother trimming.
			gc: minOther-p.bufsize > cursor,
		}
		if cr.gc {
			p.logger.Debug().Str("channel", ch).Int64("min_other", minOther).Int64("prior_cursor", cursor).Msg("cooperative gc eligible")
		}
		pending = append(pending, cr)
	}

	if len(pending) == 0 {
		return map[string][]envelope.Envelope{}, 0, nil
	}

	gcFutures := make(map[string]backend.IntFuture, len(pending))
	if err := p.be.Pipeline(ctx, func(tx backend.Pipeliner) {
		for _, cr := range pending {
			tx.ZAdd(keys.Indexes(clientID), cr.ch, float64(cr.newest))
			tx.ZAdd(keys.Clients(cr.ch), clientID, float64(cr.newest))
			if cr.gc {
				gcFutures[cr.ch] = tx.ZRemRangeByScore(keys.Messages(cr.ch), backend.NegInf(), float64(cr.minOther))
			}
		}
	}); err != nil {
		return nil, 0, fmt.Errorf("read: advance cursors: %w", err)
	}

	var gcTotal int64
	for _, f := range gcFutures {
		if n, err := f.Result(); err == nil {
			gcTotal += n
		}
	}

	out := make(map[string][]envelope.Envelope, len(pending))
	for _, cr := range pending {
		out[cr.ch] = cr.envelopes
	}
	return out, gcTotal, nil
}

// Unsubscribe removes clientID from each channel's subscriber set,
// removes each channel from clientID's index, and either performs a
// strong GC (subscribers remain) or tears the channel down entirely
// (clientID was the last subscriber). It is idempotent: unsubscribing a
// channel the client was never subscribed to is a silent no-op.
func (p *Protocol) Unsubscribe(ctx context.Context, clientID string, channelIDs []string) (int64, error) {
	var gcTotal int64
	for _, ch := range channelIDs {
		n, err := p.unsubscribeOne(ctx, clientID, ch)
		gcTotal += n
		if err != nil {
			return gcTotal, err
		}
	}
	return gcTotal, nil
}

func (p *Protocol) unsubscribeOne(ctx context.Context, clientID, ch string) (int64, error) {
	var remaining backend.IntFuture
	err := p.be.Pipeline(ctx, func(tx backend.Pipeliner) {
		tx.ZRem(keys.Clients(ch), clientID)
		tx.ZRem(keys.Indexes(clientID), ch)
		remaining = tx.ZCard(keys.Clients(ch))
	})
	if err != nil {
		return 0, fmt.Errorf("unsubscribe %s: %w", ch, err)
	}

	n, err := remaining.Result()
	if err != nil {
		return 0, fmt.Errorf("unsubscribe %s: read remaining subscribers: %w", ch, err)
	}

	if n > 0 {
		members, err := p.be.ZAllWithScores(ctx, keys.Clients(ch))
		if err != nil {
			return 0, fmt.Errorf("unsubscribe %s: read clients: %w", ch, err)
		}
		minScore := minScoreOf(members)
		removed, err := p.be.ZRemRangeByScore(ctx, keys.Messages(ch), backend.NegInf(), float64(minScore))
		if err != nil {
			return 0, fmt.Errorf("unsubscribe %s: gc: %w", ch, err)
		}
		return removed, nil
	}

	if err := p.be.Del(ctx, keys.Messages(ch), keys.Ids(ch)); err != nil {
		return 0, fmt.Errorf("unsubscribe %s: teardown: %w", ch, err)
	}
	p.logger.Debug().Str("channel", ch).Msg("channel torn down: last subscriber left")
	return 0, nil
}

// Compact deterministically trims every named channel down to its
// slowest subscriber's cursor, independent of the read-path hysteresis.
// Channels with no subscribers are skipped, not deleted: compact only
// ever trims messages(ch), never tears a channel down (that remains
// Unsubscribe's job).
func (p *Protocol) Compact(ctx context.Context, channelIDs []string, lockTimeout time.Duration) (map[string]int64, error) {
	report := make(map[string]int64, len(channelIDs))
	for _, ch := range channelIDs {
		removed, err := p.compactOne(ctx, ch, lockTimeout)
		if err != nil {
			return report, fmt.Errorf("compact %s: %w", ch, err)
		}
		report[ch] = removed
	}
	return report, nil
}

func (p *Protocol) compactOne(ctx context.Context, ch string, lockTimeout time.Duration) (int64, error) {
	lock, err := p.be.AcquireLock(ctx, keys.LockIds(ch), lockTimeout)
	if err != nil {
		return 0, err
	}
	defer func() { _ = lock.Release(ctx) }()

	members, err := p.be.ZAllWithScores(ctx, keys.Clients(ch))
	if err != nil {
		return 0, fmt.Errorf("read clients: %w", err)
	}
	if len(members) == 0 {
		return 0, nil
	}
	minScore := minScoreOf(members)

	removed, err := p.be.ZRemRangeByScore(ctx, keys.Messages(ch), backend.NegInf(), float64(minScore))
	if err != nil {
		return 0, fmt.Errorf("trim: %w", err)
	}
	return removed, nil
}

func minScoreOf(members []backend.Member) int64 {
	if len(members) == 0 {
		return 0
	}
	min := int64(members[0].Score)
	for _, m := range members[1:] {
		if s := int64(m.Score); s < min {
			min = s
		}
	}
	return min
}
