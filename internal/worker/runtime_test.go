package worker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRegistry_RegisterAndResolve(t *testing.T) {
	r := NewRegistry()
	called := false
	r.Register("csv.split", func(ctx context.Context, payload []byte) error {
		called = true
		return nil
	})

	_, ok := r.Resolve("csv.split")
	require.True(t, ok)
	require.False(t, called) // resolving must not invoke the handler

	_, ok = r.Resolve("does.not.exist")
	require.False(t, ok)
}

type payloadFixture struct {
	Name string `json:"name"`
	N    int    `json:"n"`
}

func TestEncodeDecodePayload_RoundTrips(t *testing.T) {
	in := payloadFixture{Name: "prices.csv", N: 3}
	b, err := EncodePayload(in)
	require.NoError(t, err)

	var out payloadFixture
	require.NoError(t, DecodePayload(b, &out))
	require.Equal(t, in, out)
}

func TestDecodePayload_EmptyIsNoOp(t *testing.T) {
	var out payloadFixture
	require.NoError(t, DecodePayload(nil, &out))
	require.Equal(t, payloadFixture{}, out)
}

func TestConcurrencyWindows_FallsBackWhenHandlerUnset(t *testing.T) {
	var c *ConcurrencyWindows
	require.Equal(t, time.Minute, c.For("email.poll", time.Minute))

	c = NewConcurrencyWindows()
	require.Equal(t, time.Minute, c.For("email.poll", time.Minute))
}

func TestConcurrencyWindows_ReturnsDeclaredWindow(t *testing.T) {
	c := NewConcurrencyWindows()
	c.Set("email.poll", 5*time.Minute)
	require.Equal(t, 5*time.Minute, c.For("email.poll", 2*time.Minute))
	require.Equal(t, 2*time.Minute, c.For("csv.split", 2*time.Minute))
}
