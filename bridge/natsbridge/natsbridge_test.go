package natsbridge

import (
	"context"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
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

	_, err = New(Config{URL: "nats://localhost:4222"}, &fakeWriter{})
	require.Error(t, err)
}

func TestForwardRoutesBySubject(t *testing.T) {
	w := &fakeWriter{}
	b := &Bridge{
		writer: w,
		cfg:    Config{Logger: zerolog.Nop()},
	}

	b.forward("orders", &nats.Msg{Subject: "orders.created", Data: []byte("payload")})
	require.Len(t, w.writes, 1)
	require.Equal(t, "orders", w.writes[0].ch)
	require.Equal(t, "payload", w.writes[0].data)
}

func TestForwardCountsFailures(t *testing.T) {
	w := &fakeWriter{fail: true}
	b := &Bridge{
		writer: w,
		cfg:    Config{Logger: zerolog.Nop()},
	}

	b.forward("orders", &nats.Msg{Subject: "orders.created", Data: []byte("payload")})
	require.Equal(t, uint64(1), b.loadFailed())
}
