package envelope

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	in := Envelope{ID: 7, TS: 1234, Src: "peer-1", Data: "hello"}

	encoded, err := Encode(in)
	require.NoError(t, err)

	out, err := Decode(encoded)
	require.NoError(t, err)
	require.Equal(t, in, out)
}

func TestDecodeRejectsCorruptInput(t *testing.T) {
	_, err := Decode([]byte("not json"))
	require.Error(t, err)
}
