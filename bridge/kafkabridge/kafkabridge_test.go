package kafkabridge

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"github.com/twmb/franz-go/pkg/kgo"
)

type fakeWriter struct {
	writes []struct{ ch, data string }
	fail   bool
}

func (w *fakeWriter) Write(ctx context.Context, channel, data string, lockTimeout time.Duration) (int64, error) {
	if w.fail {
		return 0, context.DeadlineExceeded
	}
	w.writes = append(w.writes, struct{ ch, data string }{channel, data})
	return int64(len(w.writes)), nil
}

func TestNewRejectsIncompleteConfig(t *testing.T) {
	_, err := New(Config{}, &fakeWriter{})
	require.Error(t, err)

	_, err = New(Config{Brokers: []string{"x:9092"}}, &fakeWriter{})
	require.Error(t, err)

	_, err = New(Config{Brokers: []string{"x:9092"}, ConsumerGroup: "g"}, &fakeWriter{})
	require.Error(t, err)
}

func TestForwardRoutesByTopicMapping(t *testing.T) {
	w := &fakeWriter{}
	b := &Bridge{
		writer: w,
		cfg: Config{
			Topics: map[string]string{"orders.created": "orders"},
			Logger: zerolog.Nop(),
		},
		ctx: context.Background(),
	}

	b.forward(&kgo.Record{Topic: "orders.created", Value: []byte("payload")})
	require.Len(t, w.writes, 1)
	require.Equal(t, "orders", w.writes[0].ch)
	require.Equal(t, "payload", w.writes[0].data)

	// A topic with no mapping is silently dropped.
	b.forward(&kgo.Record{Topic: "unmapped", Value: []byte("ignored")})
	require.Len(t, w.writes, 1)
}

func TestForwardCountsFailures(t *testing.T) {
	w := &fakeWriter{fail: true}
	b := &Bridge{
		writer: w,
		cfg: Config{
			Topics: map[string]string{"orders.created": "orders"},
			Logger: zerolog.Nop(),
		},
		ctx: context.Background(),
	}

	b.forward(&kgo.Record{Topic: "orders.created", Value: []byte("payload")})
	require.Equal(t, uint64(1), b.loadFailed())
	require.Equal(t, uint64(0), b.loadProcessed())
}
