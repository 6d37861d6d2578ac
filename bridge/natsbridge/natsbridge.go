// Package natsbridge forwards messages from NATS subjects into Rivulet
// channels. Like kafkabridge, it is a pure producer driven by a single
// non-reentrant subscription callback per subject; it never reads back
// from Rivulet and so never GCs its own writes.
package natsbridge

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

// Writer is the subset of *rivulet.Client a Bridge needs.
type Writer interface {
	Write(ctx context.Context, channel, data string, lockTimeout time.Duration) (int64, error)
}

// Config configures a Bridge.
type Config struct {
	URL string
	// Subjects maps NATS subjects to the Rivulet channel each forwards
	// into. A plain subscription is used, not a queue group: every
	// bridge instance sees every message, matching NATS's own
	// at-most-once, non-durable delivery semantics.
	Subjects map[string]string
	Logger   zerolog.Logger
	// WriteLockTimeout bounds each forwarded Client.Write; 0 lets Client
	// apply its own default.
	WriteLockTimeout time.Duration
}

// Bridge holds one live NATS connection and one subscription per
// configured subject.
type Bridge struct {
	conn *nats.Conn
	subs []*nats.Subscription
	cfg  Config

	writer Writer

	mu        sync.RWMutex
	processed uint64
	failed    uint64
}

// New connects to cfg.URL. Subscriptions are created by Start, not New,
// so a caller can inspect or discard a Bridge before committing to
// receiving traffic.
func New(cfg Config, writer Writer) (*Bridge, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("natsbridge: url is required")
	}
	if len(cfg.Subjects) == 0 {
		return nil, fmt.Errorf("natsbridge: at least one subject mapping is required")
	}

	conn, err := nats.Connect(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("natsbridge: connect: %w", err)
	}

	return &Bridge{conn: conn, cfg: cfg, writer: writer}, nil
}

// Start subscribes to every configured subject. Each subscription's
// callback runs on its own NATS-managed goroutine; forward is safe for
// concurrent invocation because Writer.Write is.
func (b *Bridge) Start() error {
	for subject, ch := range b.cfg.Subjects {
		subject, ch := subject, ch
		sub, err := b.conn.Subscribe(subject, func(msg *nats.Msg) {
			b.forward(ch, msg)
		})
		if err != nil {
			b.Stop()
			return fmt.Errorf("natsbridge: subscribe %s: %w", subject, err)
		}
		b.subs = append(b.subs, sub)
		b.cfg.Logger.Info().Str("subject", subject).Str("channel", ch).Msg("nats bridge subscribed")
	}
	return nil
}

// Stop unsubscribes everything and closes the connection.
func (b *Bridge) Stop() {
	for _, sub := range b.subs {
		_ = sub.Unsubscribe()
	}
	b.conn.Close()
	b.cfg.Logger.Info().
		Uint64("processed", b.loadProcessed()).
		Uint64("failed", b.loadFailed()).
		Msg("nats bridge stopped")
}

func (b *Bridge) forward(ch string, msg *nats.Msg) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if _, err := b.writer.Write(ctx, ch, string(msg.Data), b.cfg.WriteLockTimeout); err != nil {
		b.incr(&b.failed)
		b.cfg.Logger.Error().Err(err).Str("subject", msg.Subject).Str("channel", ch).Msg("forward to rivulet failed")
		return
	}
	b.incr(&b.processed)
}

func (b *Bridge) incr(counter *uint64) {
	b.mu.Lock()
	*counter++
	b.mu.Unlock()
}

func (b *Bridge) loadProcessed() uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.processed
}

func (b *Bridge) loadFailed() uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.failed
}
