package resourceguard

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestAllowsByDefault(t *testing.T) {
	g, err := New(Config{SampleInterval: time.Hour}, zerolog.Nop())
	require.NoError(t, err)
	defer g.Close(context.Background())

	require.True(t, g.Allow())
}

func TestRejectsWhenThresholdImpossiblyLow(t *testing.T) {
	// A zero-valued RejectAbove* disables the corresponding check, so
	// use a threshold no process can ever be under: any positive memory
	// usage exceeds a limit of a hundred-thousandth of a megabyte.
	g, err := New(Config{SampleInterval: time.Hour, RejectAboveMemoryMB: 0.00001}, zerolog.Nop())
	require.NoError(t, err)
	defer g.Close(context.Background())

	require.False(t, g.Allow())
	require.True(t, g.Status().Rejecting)
}

func TestCloseStopsSampling(t *testing.T) {
	g, err := New(Config{SampleInterval: time.Millisecond}, zerolog.Nop())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, g.Close(ctx))
}
