package rivulet

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/rivulet-io/rivulet/internal/backendtest"
	"github.com/rivulet-io/rivulet/internal/channel"
)

// newTestClient builds a Client against an in-memory fake backend,
// bypassing Connect's network dial — this package's tests never reach a
// live Redis server.
func newTestClient(t *testing.T, id string) *Client {
	t.Helper()
	be := backendtest.New()
	return &Client{
		id:     id,
		be:     be,
		proto:  channel.New(be, DefaultBufSize, zerolog.Nop()),
		logger: zerolog.Nop(),
		now:    time.Now,
	}
}

func TestWriteReadRoundTrip(t *testing.T) {
	ctx := context.Background()
	writer := newTestClient(t, "writer")
	reader := newTestClient(t, "reader")
	// Both clients must share the same backend to observe each other's
	// writes; rebuild reader onto writer's backend.
	reader.be = writer.be
	reader.proto = channel.New(writer.be, DefaultBufSize, zerolog.Nop())

	require.NoError(t, reader.Subscribe(ctx, []string{"orders"}, EARLIEST, 0))

	id, err := writer.Write(ctx, "orders", "hello", 0)
	require.NoError(t, err)
	require.Equal(t, int64(1), id)

	out, err := reader.Read(ctx, 0)
	require.NoError(t, err)
	require.Len(t, out["orders"], 1)
	require.Equal(t, "hello", out["orders"][0].Data)
	require.Equal(t, "writer", out["orders"][0].Src)
}

func TestSubscriptionsIsLive(t *testing.T) {
	ctx := context.Background()
	c := newTestClient(t, "peer")

	subs, err := c.Subscriptions(ctx)
	require.NoError(t, err)
	require.Empty(t, subs)

	require.NoError(t, c.Subscribe(ctx, []string{"a", "b"}, LATEST, 0))
	subs, err = c.Subscriptions(ctx)
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"a", "b"}, subs)

	require.NoError(t, c.Unsubscribe(ctx, []string{"a"}))
	subs, err = c.Subscriptions(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"b"}, subs)
}

func TestCompactReturnsPerChannelReport(t *testing.T) {
	ctx := context.Background()
	c := newTestClient(t, "peer")

	require.NoError(t, c.Subscribe(ctx, []string{"orders"}, EARLIEST, 0))
	_, err := c.Write(ctx, "orders", "m1", 0)
	require.NoError(t, err)
	_, err = c.Read(ctx, 0)
	require.NoError(t, err)

	report, err := c.Compact(ctx, []string{"orders"}, 0)
	require.NoError(t, err)
	require.Equal(t, int64(1), report["orders"])
}

func TestMetricsAreOptional(t *testing.T) {
	ctx := context.Background()
	c := newTestClient(t, "peer")
	require.Nil(t, c.metrics)

	// Operations must work identically whether or not metrics are wired.
	_, err := c.Write(ctx, "orders", "m1", 0)
	require.NoError(t, err)

	reg := prometheus.NewRegistry()
	c.metrics = newCollector()
	c.metrics.register(reg)

	_, err = c.Write(ctx, "orders", "m2", 0)
	require.NoError(t, err)

	metricFamilies, err := reg.Gather()
	require.NoError(t, err)
	require.NotEmpty(t, metricFamilies)
}

func TestTranslateWrapsLockTimeoutAsTimeoutError(t *testing.T) {
	c := newTestClient(t, "peer")

	lockedCtx := context.Background()
	lock, err := c.be.AcquireLock(lockedCtx, "lock:ids:channel#contended", time.Hour)
	require.NoError(t, err)
	defer lock.Release(lockedCtx)

	_, err = c.Write(lockedCtx, "contended", "data", 5*time.Millisecond)
	require.Error(t, err)

	var be *BackendError
	require.ErrorAs(t, err, &be)
	var te *TimeoutError
	require.ErrorAs(t, err, &te)
}
