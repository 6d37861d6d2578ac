// Package kafkabridge forwards records from Kafka (or any Kafka-API
// compatible broker, e.g. Redpanda) topics into Rivulet channels. It is a
// pure producer: every record it consumes becomes one Client.Write, and
// it carries the same orphan-write risk as any peer that writes without
// ever reading — messages it forwards are only garbage collected once
// some other peer subscribes and reads past them.
package kafkabridge

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/twmb/franz-go/pkg/kgo"
)

// Writer is the subset of *rivulet.Client a Bridge needs, so tests can
// substitute a fake without dialing a backend.
type Writer interface {
	Write(ctx context.Context, channel, data string, lockTimeout time.Duration) (int64, error)
}

// Config configures a Bridge.
type Config struct {
	Brokers       []string
	ConsumerGroup string
	// Topics maps Kafka topic names to the Rivulet channel each should
	// forward into. A topic without an entry here is not consumed.
	Topics map[string]string
	Logger zerolog.Logger
	// WriteLockTimeout bounds each forwarded Client.Write; 0 lets Client
	// apply its own default.
	WriteLockTimeout time.Duration
}

// Bridge polls assigned partitions on one goroutine and forwards each
// record's value, unmodified, to the channel its topic maps to.
type Bridge struct {
	client *kgo.Client
	writer Writer
	cfg    Config

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	processed uint64
	failed    uint64
	mu        sync.RWMutex
}

// New connects a Kafka client for cfg.Topics and returns a Bridge ready
// to Start.
func New(cfg Config, writer Writer) (*Bridge, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafkabridge: at least one broker is required")
	}
	if cfg.ConsumerGroup == "" {
		return nil, fmt.Errorf("kafkabridge: consumer group is required")
	}
	if len(cfg.Topics) == 0 {
		return nil, fmt.Errorf("kafkabridge: at least one topic mapping is required")
	}

	topics := make([]string, 0, len(cfg.Topics))
	for topic := range cfg.Topics {
		topics = append(topics, topic)
	}

	client, err := kgo.NewClient(
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.ConsumerGroup(cfg.ConsumerGroup),
		kgo.ConsumeTopics(topics...),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtEnd()),
		kgo.FetchMaxWait(500*time.Millisecond),
	)
	if err != nil {
		return nil, fmt.Errorf("kafkabridge: create client: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Bridge{client: client, writer: writer, cfg: cfg, ctx: ctx, cancel: cancel}, nil
}

// Start begins the poll loop on its own goroutine. It returns immediately.
func (b *Bridge) Start() {
	b.cfg.Logger.Info().Strs("topics", topicNames(b.cfg.Topics)).Msg("kafka bridge starting")
	b.wg.Add(1)
	go b.loop()
}

// Stop cancels the poll loop and waits for it to exit, then closes the
// underlying Kafka client.
func (b *Bridge) Stop() {
	b.cancel()
	b.wg.Wait()
	b.client.Close()
	b.cfg.Logger.Info().
		Uint64("processed", b.loadProcessed()).
		Uint64("failed", b.loadFailed()).
		Msg("kafka bridge stopped")
}

func (b *Bridge) loop() {
	defer b.wg.Done()
	for {
		select {
		case <-b.ctx.Done():
			return
		default:
		}

		fetches := b.client.PollFetches(b.ctx)
		for _, err := range fetches.Errors() {
			b.cfg.Logger.Error().Err(err.Err).Str("topic", err.Topic).Int32("partition", err.Partition).Msg("kafka fetch error")
		}
		fetches.EachRecord(func(record *kgo.Record) {
			b.forward(record)
		})
	}
}

func (b *Bridge) forward(record *kgo.Record) {
	ch, ok := b.cfg.Topics[record.Topic]
	if !ok {
		return
	}
	if _, err := b.writer.Write(b.ctx, ch, string(record.Value), b.cfg.WriteLockTimeout); err != nil {
		b.incr(&b.failed)
		b.cfg.Logger.Error().Err(err).Str("topic", record.Topic).Str("channel", ch).Msg("forward to rivulet failed")
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

func topicNames(m map[string]string) []string {
	out := make([]string, 0, len(m))
	for t := range m {
		out = append(out, t)
	}
	return out
}
