// Package backendtest provides an in-memory backend.Backend used by this
// module's tests in place of a live Redis server, since the test suite
// never dials a network service. It reproduces ordered-set semantics and
// SET-NX-style lock contention closely enough to exercise the Channel
// Protocol's invariants, but is not a general Redis emulator.
package backendtest

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rivulet-io/rivulet/internal/backend"
)

// Fake implements backend.Backend entirely in memory.
type Fake struct {
	mu      sync.Mutex
	zsets   map[string]map[string]float64
	counts  map[string]int64
	lockTTL map[string]time.Time
}

// New returns a ready, empty Fake.
func New() *Fake {
	return &Fake{
		zsets:   make(map[string]map[string]float64),
		counts:  make(map[string]int64),
		lockTTL: make(map[string]time.Time),
	}
}

func (f *Fake) Ping(ctx context.Context) error { return nil }
func (f *Fake) Close() error                   { return nil }

func (f *Fake) Incr(ctx context.Context, key string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.counts[key]++
	return f.counts[key], nil
}

func (f *Fake) ZAdd(ctx context.Context, key string, member string, score float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.zaddLocked(key, member, score)
	return nil
}

func (f *Fake) zaddLocked(key string, member string, score float64) {
	set, ok := f.zsets[key]
	if !ok {
		set = make(map[string]float64)
		f.zsets[key] = set
	}
	set[member] = score
}

func (f *Fake) ZAllWithScores(ctx context.Context, key string) ([]backend.Member, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return sortedMembers(f.zsets[key], backend.NegInf(), backend.PosInf(), false), nil
}

func (f *Fake) ZRangeByScoreExclMin(ctx context.Context, key string, min, max float64) ([]backend.Member, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return sortedMembers(f.zsets[key], min, max, true), nil
}

func (f *Fake) ZRem(ctx context.Context, key string, member string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.zsets[key], member)
	return nil
}

func (f *Fake) ZRemRangeByScore(ctx context.Context, key string, min, max float64) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.zremRangeLocked(key, min, max), nil
}

func (f *Fake) zremRangeLocked(key string, min, max float64) int64 {
	set, ok := f.zsets[key]
	if !ok {
		return 0
	}
	var removed int64
	for m, s := range set {
		if s >= min && s <= max {
			delete(set, m)
			removed++
		}
	}
	return removed
}

func (f *Fake) ZCard(ctx context.Context, key string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return int64(len(f.zsets[key])), nil
}

func (f *Fake) Del(ctx context.Context, keys ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, k := range keys {
		delete(f.zsets, k)
		delete(f.counts, k)
	}
	return nil
}

func (f *Fake) Pipeline(ctx context.Context, fn func(backend.Pipeliner)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(&fakePipeliner{f: f})
	return nil
}

type fakeIntResult struct{ n int64 }

func (r *fakeIntResult) Result() (int64, error) { return r.n, nil }

type fakePipeliner struct{ f *Fake }

func (p *fakePipeliner) ZAdd(key string, member string, score float64) {
	p.f.zaddLocked(key, member, score)
}

func (p *fakePipeliner) ZRem(key string, member string) {
	delete(p.f.zsets[key], member)
}

func (p *fakePipeliner) ZRemRangeByScore(key string, min, max float64) backend.IntFuture {
	return &fakeIntResult{n: p.f.zremRangeLocked(key, min, max)}
}

func (p *fakePipeliner) ZCard(key string) backend.IntFuture {
	return &fakeIntResult{n: int64(len(p.f.zsets[key]))}
}

func (p *fakePipeliner) Del(keys ...string) {
	for _, k := range keys {
		delete(p.f.zsets, k)
		delete(p.f.counts, k)
	}
}

type fakeLock struct {
	f   *Fake
	key string
}

func (l *fakeLock) Release(ctx context.Context) error {
	l.f.mu.Lock()
	defer l.f.mu.Unlock()
	delete(l.f.lockTTL, l.key)
	return nil
}

// AcquireLock polls every millisecond, matching the shape of the real
// Redis lock without the real retry interval's cost in a test binary.
func (f *Fake) AcquireLock(ctx context.Context, name string, timeout time.Duration) (backend.Lock, error) {
	deadline := time.Now().Add(timeout)
	for {
		f.mu.Lock()
		if expiry, held := f.lockTTL[name]; !held || time.Now().After(expiry) {
			f.lockTTL[name] = time.Now().Add(timeout)
			f.mu.Unlock()
			return &fakeLock{f: f, key: name}, nil
		}
		f.mu.Unlock()

		if time.Now().After(deadline) {
			return nil, backend.ErrLockTimeout
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Millisecond):
		}
	}
}

func sortedMembers(set map[string]float64, min, max float64, exclMin bool) []backend.Member {
	out := make([]backend.Member, 0, len(set))
	for m, s := range set {
		if exclMin {
			if s > min && s <= max {
				out = append(out, backend.Member{Value: m, Score: s})
			}
			continue
		}
		if s >= min && s <= max {
			out = append(out, backend.Member{Value: m, Score: s})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Score < out[j].Score })
	return out
}
