// Package rivulet is a library-embedded multi-producer, multi-consumer
// message broker: channels are durable ordered sets on a Redis-compatible
// backend, coordinated through named advisory locks, with no broker
// process of its own. Every peer is a library instance sharing the same
// backend; there is no server to run.
package rivulet

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/rivulet-io/rivulet/internal/backend"
	"github.com/rivulet-io/rivulet/internal/channel"
	"github.com/rivulet-io/rivulet/internal/envelope"
	"github.com/rivulet-io/rivulet/internal/keys"
	"github.com/rivulet-io/rivulet/resourceguard"
)

// Envelope is one stored message, returned from Read. It mirrors the
// on-wire envelope exactly; callers never construct one themselves.
type Envelope struct {
	ID   int64
	TS   int64
	Src  string
	Data string
}

func fromInternal(e envelope.Envelope) Envelope {
	return Envelope{ID: e.ID, TS: e.TS, Src: e.Src, Data: e.Data}
}

// Default timeouts and sizing, used when a caller passes zero. These are
// the only defaults a Client silently applies; every other parameter is
// either required or explicitly optional via functional options.
const (
	DefaultSubscribeLockTimeout = time.Second
	DefaultWriteLockTimeout     = 10 * time.Second
	DefaultCompactLockTimeout   = 10 * time.Second
	DefaultBufSize              = channel.DefaultBufSize
	DefaultMessageLimit         = channel.DefaultMessageLimit
)

// Client is a single peer's handle onto a shared backend. It holds no
// mutex of its own and is not safe for concurrent use in general: Read
// and Unsubscribe take no lock and compose several backend commands, so
// two overlapping Reads on one Client can start from the same cursor and
// return the same messages twice. Write, Subscribe and Compact each run
// under the channel's advisory lock and are serialized per channel by
// the backend.
type Client struct {
	id      string
	be      backend.Backend
	proto   *channel.Protocol
	logger  zerolog.Logger
	metrics *collector
	guard   *resourceguard.Guard
	limiter *rate.Limiter
	now     func() time.Time
}

// Option configures a Client at Connect time.
type Option func(*clientConfig)

type clientConfig struct {
	clientID      string
	bufsize       int64
	logger        zerolog.Logger
	metricsReg    *prometheus.Registry
	guardCfg      *resourceguard.Config
	writeRate     float64
	writeBurst    int
	initChannels  []string
	initPolicy    IndexPolicy
	initLockTOMs  int
}

// WithClientID fixes the client identity used as the Src field on writes
// and as the subscriber entry in every channel's clients set. Omitting it
// generates a random one via google/uuid.
func WithClientID(id string) Option {
	return func(c *clientConfig) { c.clientID = id }
}

// WithBufSize overrides the cooperative-GC hysteresis threshold (see
// Client.Read). The default is DefaultBufSize.
func WithBufSize(n int64) Option {
	return func(c *clientConfig) { c.bufsize = n }
}

// WithLogger attaches a zerolog.Logger. Without this option the Client
// logs nothing; rivulet never forces output onto a caller that hasn't
// asked for it.
func WithLogger(logger zerolog.Logger) Option {
	return func(c *clientConfig) { c.logger = logger }
}

// WithMetrics registers this Client's Prometheus series into reg. Without
// this option no metrics are collected, since a library embedded in an
// unknown number of processes cannot assume ownership of the default
// registry.
func WithMetrics(reg *prometheus.Registry) Option {
	return func(c *clientConfig) { c.metricsReg = reg }
}

// WithResourceGuard enables local self-throttling: writes are rejected
// with ErrResourceExhausted once this process's own CPU or memory use
// crosses the configured thresholds, without ever touching the backend.
func WithResourceGuard(cfg resourceguard.Config) Option {
	return func(c *clientConfig) { c.guardCfg = &cfg }
}

// WithWriteRateLimit caps sustained Client.Write throughput to perSecond,
// absorbing bursts up to burst before Write starts blocking. If the wait
// for a token fails (the context is cancelled, or its deadline would pass
// first), Write returns a *BackendError wrapping that error. It is a
// client-side token bucket: it throttles this peer's own writes and has no effect on what
// other peers may write concurrently.
func WithWriteRateLimit(perSecond float64, burst int) Option {
	return func(c *clientConfig) {
		c.writeRate = perSecond
		c.writeBurst = burst
	}
}

// WithSubscribe subscribes to channels immediately as part of Connect,
// under policy, using lockTimeoutMs (0 selects DefaultSubscribeLockTimeout).
func WithSubscribe(channels []string, policy IndexPolicy, lockTimeoutMs int) Option {
	return func(c *clientConfig) {
		c.initChannels = channels
		c.initPolicy = policy
		c.initLockTOMs = lockTimeoutMs
	}
}

// Connect dials the backend at url (a redis:// or rediss:// URL) and
// returns a ready Client. The connection is pinged once so misconfigured
// addresses fail here rather than on the first operation.
func Connect(ctx context.Context, url string, opts ...Option) (*Client, error) {
	cfg := clientConfig{bufsize: DefaultBufSize, logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.clientID == "" {
		cfg.clientID = uuid.NewString()
	}

	be, err := backend.Dial(ctx, url, cfg.logger)
	if err != nil {
		return nil, &ConnectionError{Addr: url, Err: err}
	}

	c := &Client{
		id:     cfg.clientID,
		be:     be,
		proto:  channel.New(be, cfg.bufsize, cfg.logger),
		logger: cfg.logger,
		now:    time.Now,
	}

	if cfg.metricsReg != nil {
		c.metrics = newCollector()
		c.metrics.register(cfg.metricsReg)
	}

	if cfg.writeRate > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(cfg.writeRate), cfg.writeBurst)
	}

	if cfg.guardCfg != nil {
		guard, err := resourceguard.New(*cfg.guardCfg, cfg.logger)
		if err != nil {
			_ = be.Close()
			return nil, &BackendError{Op: "resource guard init", Err: err}
		}
		c.guard = guard
	}

	if len(cfg.initChannels) > 0 {
		timeout := msOrDefault(cfg.initLockTOMs, DefaultSubscribeLockTimeout)
		if err := c.Subscribe(ctx, cfg.initChannels, cfg.initPolicy, timeout); err != nil {
			_ = be.Close()
			return nil, err
		}
	}

	return c, nil
}

// ID returns this client's identity, as used in channels' clients sets
// and as the Src field on messages it writes.
func (c *Client) ID() string { return c.id }

// Close releases the backend connection and stops the resource guard, if
// one was configured. It does not unsubscribe from any channel: cursor
// state is durable by design and survives a peer restart.
func (c *Client) Close() error {
	if c.guard != nil {
		_ = c.guard.Close(context.Background())
	}
	return c.be.Close()
}

// Ping reports whether the backend is currently reachable. A transport
// failure is reported as false; Ping returns no error.
func (c *Client) Ping(ctx context.Context) bool {
	return c.be.Ping(ctx) == nil
}

// Subscriptions returns the channels this client is currently subscribed
// to. It is always a live query against the backend, never a local
// cache, since another peer or process can unsubscribe this client's id
// directly.
func (c *Client) Subscriptions(ctx context.Context) ([]string, error) {
	members, err := c.be.ZAllWithScores(ctx, keys.Indexes(c.id))
	if err != nil {
		return nil, &BackendError{Op: "subscriptions", Err: err}
	}
	out := make([]string, len(members))
	for i, m := range members {
		out[i] = m.Value
	}
	return out, nil
}

// Subscribe joins each named channel under policy. lockTimeout of 0
// selects DefaultSubscribeLockTimeout. An error partway through leaves
// earlier channels in this call fully subscribed: the call is not
// transactional across channels.
func (c *Client) Subscribe(ctx context.Context, channels []string, policy IndexPolicy, lockTimeout time.Duration) error {
	start := c.now()
	lockTimeout = durOrDefault(lockTimeout, DefaultSubscribeLockTimeout)
	err := c.translate("subscribe", c.proto.Subscribe(ctx, c.id, channels, channel.IndexPolicy(policy), lockTimeout))
	c.metrics.observe("subscribe", start, err)
	return err
}

// Unsubscribe leaves each named channel. It is idempotent: leaving a
// channel this client was never subscribed to is a silent no-op. The
// strong GC triggered for remaining subscribers, or the full teardown
// triggered if this client was the last one, is reported as a metric
// only — callers who need the count should use Compact instead.
func (c *Client) Unsubscribe(ctx context.Context, channels []string) error {
	start := c.now()
	removed, rawErr := c.proto.Unsubscribe(ctx, c.id, channels)
	err := c.translate("unsubscribe", rawErr)
	c.metrics.observe("unsubscribe", start, err)
	c.bumpGC("unsubscribe", removed)
	return err
}

// Write appends data to channel as a new message and returns its
// allocated id. lockTimeout of 0 selects DefaultWriteLockTimeout. Write
// never checks whether this client is itself subscribed to channel: a
// pure producer that never reads is a supported peer shape, at the cost
// of the messages it writes never being garbage collected by any
// cooperative reader (see Client.Compact).
func (c *Client) Write(ctx context.Context, ch, data string, lockTimeout time.Duration) (int64, error) {
	if c.guard != nil && !c.guard.Allow() {
		return 0, &BackendError{Op: "write", Err: ErrResourceExhausted}
	}
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return 0, &BackendError{Op: "write", Err: err}
		}
	}
	start := c.now()
	lockTimeout = durOrDefault(lockTimeout, DefaultWriteLockTimeout)
	id, rawErr := c.proto.Write(ctx, c.id, ch, data, lockTimeout, c.now)
	err := c.translate("write", rawErr)
	c.metrics.observe("write", start, err)
	if err != nil {
		return 0, err
	}
	return id, nil
}

// Read performs one non-blocking sweep across every channel this client
// is subscribed to, returning up to messageLimit new messages per
// channel (0 selects DefaultMessageLimit). An empty result for a channel
// means either there is nothing new, or the channel has no messages this
// client hasn't already advanced past; Read never blocks waiting for
// new data to appear.
func (c *Client) Read(ctx context.Context, messageLimit int) (map[string][]Envelope, error) {
	start := c.now()
	raw, gc, rawErr := c.proto.Read(ctx, c.id, messageLimit)
	err := c.translate("read", rawErr)
	c.metrics.observe("read", start, err)
	if err != nil {
		return nil, err
	}
	c.bumpGC("cooperative-read", gc)

	out := make(map[string][]Envelope, len(raw))
	var count int
	for ch, envs := range raw {
		converted := make([]Envelope, len(envs))
		for i, e := range envs {
			converted[i] = fromInternal(e)
		}
		out[ch] = converted
		count += len(converted)
	}
	c.bumpReadCount(count)
	return out, nil
}

// CompactionReport is the per-channel removed-message count returned by
// Compact.
type CompactionReport map[string]int64

// Compact deterministically trims every named channel down to its
// slowest subscriber's cursor, independent of the hysteresis Read applies
// during cooperative GC. Channels with no subscribers are skipped, never
// torn down. lockTimeout of 0 selects DefaultCompactLockTimeout.
func (c *Client) Compact(ctx context.Context, channels []string, lockTimeout time.Duration) (CompactionReport, error) {
	start := c.now()
	lockTimeout = durOrDefault(lockTimeout, DefaultCompactLockTimeout)
	report, rawErr := c.proto.Compact(ctx, channels, lockTimeout)
	err := c.translate("compact", rawErr)
	c.metrics.observe("compact", start, err)
	var total int64
	for _, n := range report {
		total += n
	}
	c.bumpGC("compact", total)
	return CompactionReport(report), err
}

// Stats reports the last self-throttling sample, or a zero value if no
// ResourceGuard was configured via WithResourceGuard.
func (c *Client) Stats() resourceguard.Status {
	if c.guard == nil {
		return resourceguard.Status{}
	}
	return c.guard.Status()
}

func (c *Client) bumpGC(path string, n int64) {
	if c.metrics == nil || n == 0 {
		return
	}
	c.metrics.gcMessages.WithLabelValues(path).Add(float64(n))
}

func (c *Client) bumpReadCount(n int) {
	if c.metrics == nil || n == 0 {
		return
	}
	c.metrics.readMessages.Add(float64(n))
}

// translate wraps a lock timeout from the internal backend/channel layers
// into the public TimeoutError/BackendError taxonomy; everything else
// becomes a plain BackendError.
func (c *Client) translate(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, backend.ErrLockTimeout) {
		return &BackendError{Op: op, Err: &TimeoutError{Lock: op}}
	}
	return &BackendError{Op: op, Err: err}
}

func durOrDefault(d, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return d
}

func msOrDefault(ms int, def time.Duration) time.Duration {
	if ms <= 0 {
		return def
	}
	return time.Duration(ms) * time.Millisecond
}
