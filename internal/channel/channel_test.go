package channel_test

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/rivulet-io/rivulet/internal/backendtest"
	"github.com/rivulet-io/rivulet/internal/channel"
)

func newProtocol() *channel.Protocol {
	return channel.New(backendtest.New(), 4, zerolog.Nop())
}

func TestWriteAllocatesMonotoneIds(t *testing.T) {
	ctx := context.Background()
	p := newProtocol()

	id1, err := p.Write(ctx, "writer", "orders", "a", time.Second, time.Now)
	require.NoError(t, err)
	id2, err := p.Write(ctx, "writer", "orders", "b", time.Second, time.Now)
	require.NoError(t, err)

	require.Equal(t, id1+1, id2)
}

func TestSubscribeLatestThenWriteThenRead(t *testing.T) {
	ctx := context.Background()
	p := newProtocol()

	_, err := p.Write(ctx, "producer", "orders", "before-subscribe", time.Second, time.Now)
	require.NoError(t, err)

	require.NoError(t, p.Subscribe(ctx, "reader", []string{"orders"}, channel.LATEST, time.Second))

	_, err = p.Write(ctx, "producer", "orders", "after-subscribe", time.Second, time.Now)
	require.NoError(t, err)

	// LATEST resolves to the highest cursor in the channel's clients set.
	// "reader" is the first subscriber, so that set was empty and the
	// cursor starts at 0: both messages are delivered.
	out, _, err := p.Read(ctx, "reader", 0)
	require.NoError(t, err)
	require.Len(t, out["orders"], 2)
	require.Equal(t, "before-subscribe", out["orders"][0].Data)
	require.Equal(t, "after-subscribe", out["orders"][1].Data)
}

func TestSubscribeEarliestReplaysHistory(t *testing.T) {
	ctx := context.Background()
	p := newProtocol()

	_, err := p.Write(ctx, "producer", "orders", "m1", time.Second, time.Now)
	require.NoError(t, err)
	_, err = p.Write(ctx, "producer", "orders", "m2", time.Second, time.Now)
	require.NoError(t, err)

	require.NoError(t, p.Subscribe(ctx, "reader", []string{"orders"}, channel.EARLIEST, time.Second))

	out, _, err := p.Read(ctx, "reader", 0)
	require.NoError(t, err)
	require.Len(t, out["orders"], 2)
	require.Equal(t, "m1", out["orders"][0].Data)
	require.Equal(t, "m2", out["orders"][1].Data)
}

func TestSubscribeCurrentIsNoOpForExistingSubscriber(t *testing.T) {
	ctx := context.Background()
	p := newProtocol()

	require.NoError(t, p.Subscribe(ctx, "reader", []string{"orders"}, channel.EARLIEST, time.Second))
	_, err := p.Write(ctx, "producer", "orders", "m1", time.Second, time.Now)
	require.NoError(t, err)

	out, _, err := p.Read(ctx, "reader", 0)
	require.NoError(t, err)
	require.Len(t, out["orders"], 1)

	// Re-subscribing CURRENT must not move the cursor backward or skip
	// anything new written after it.
	require.NoError(t, p.Subscribe(ctx, "reader", []string{"orders"}, channel.CURRENT, time.Second))
	_, err = p.Write(ctx, "producer", "orders", "m2", time.Second, time.Now)
	require.NoError(t, err)

	out, _, err = p.Read(ctx, "reader", 0)
	require.NoError(t, err)
	require.Len(t, out["orders"], 1)
	require.Equal(t, "m2", out["orders"][0].Data)
}

func TestUnsubscribeIsIdempotent(t *testing.T) {
	ctx := context.Background()
	p := newProtocol()

	require.NoError(t, p.Subscribe(ctx, "reader", []string{"orders"}, channel.LATEST, time.Second))
	_, err := p.Unsubscribe(ctx, "reader", []string{"orders"})
	require.NoError(t, err)

	// Unsubscribing again, or from a channel never joined, is a no-op.
	_, err = p.Unsubscribe(ctx, "reader", []string{"orders"})
	require.NoError(t, err)
	_, err = p.Unsubscribe(ctx, "reader", []string{"never-joined"})
	require.NoError(t, err)
}

func TestUnsubscribeLastSubscriberTearsDownChannel(t *testing.T) {
	ctx := context.Background()
	p := newProtocol()

	require.NoError(t, p.Subscribe(ctx, "reader", []string{"orders"}, channel.LATEST, time.Second))
	_, err := p.Write(ctx, "producer", "orders", "m1", time.Second, time.Now)
	require.NoError(t, err)

	_, err = p.Unsubscribe(ctx, "reader", []string{"orders"})
	require.NoError(t, err)

	// A fresh EARLIEST subscriber after the last one left sees nothing:
	// the channel's messages and id counter were torn down.
	require.NoError(t, p.Subscribe(ctx, "late", []string{"orders"}, channel.EARLIEST, time.Second))
	out, _, err := p.Read(ctx, "late", 0)
	require.NoError(t, err)
	require.Empty(t, out["orders"])
}

func TestCompactSkipsChannelsWithNoSubscribers(t *testing.T) {
	ctx := context.Background()
	p := newProtocol()

	_, err := p.Write(ctx, "producer", "orphan", "m1", time.Second, time.Now)
	require.NoError(t, err)

	report, err := p.Compact(ctx, []string{"orphan"}, time.Second)
	require.NoError(t, err)
	require.Equal(t, int64(0), report["orphan"])
}

func TestCompactTrimsToSlowestSubscriber(t *testing.T) {
	ctx := context.Background()
	p := newProtocol()

	require.NoError(t, p.Subscribe(ctx, "slow", []string{"orders"}, channel.EARLIEST, time.Second))
	_, err := p.Write(ctx, "producer", "orders", "m1", time.Second, time.Now)
	require.NoError(t, err)
	_, err = p.Write(ctx, "producer", "orders", "m2", time.Second, time.Now)
	require.NoError(t, err)

	require.NoError(t, p.Subscribe(ctx, "fast", []string{"orders"}, channel.LATEST, time.Second))

	// "slow" hasn't read anything yet; compact must not remove what it
	// hasn't consumed.
	report, err := p.Compact(ctx, []string{"orders"}, time.Second)
	require.NoError(t, err)
	require.Equal(t, int64(0), report["orders"])

	out, _, err := p.Read(ctx, "slow", 0)
	require.NoError(t, err)
	require.Len(t, out["orders"], 2)

	// "fast" joined LATEST while the only cursor in the clients set was
	// slow's 0, so it starts at 0 as well and still holds both messages.
	out, _, err = p.Read(ctx, "fast", 0)
	require.NoError(t, err)
	require.Len(t, out["orders"], 2)

	// Now that both subscribers have advanced past both messages, compact
	// can remove them.
	report, err = p.Compact(ctx, []string{"orders"}, time.Second)
	require.NoError(t, err)
	require.Equal(t, int64(2), report["orders"])

	// Compacting again is idempotent: nothing left to remove.
	report, err = p.Compact(ctx, []string{"orders"}, time.Second)
	require.NoError(t, err)
	require.Equal(t, int64(0), report["orders"])
}
