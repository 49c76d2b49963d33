package objectstore

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func fixedLayout() KeyLayout {
	return KeyLayout{Now: func() time.Time { return time.Date(2026, 3, 5, 0, 0, 0, 0, time.UTC) }}
}

func TestMock_PutGetRoundTripIsBitExact(t *testing.T) {
	m := NewMock(fixedLayout())
	ctx := context.Background()

	// Includes bytes outside ASCII (spec §8: "including bytes outside
	// ASCII") and a NUL byte to make sure nothing treats this as a
	// C-string anywhere in the path.
	payload := []byte{0x00, 0xFF, 0x80, 'h', 'i', 0xE2, 0x82, 0xAC}

	key, err := m.Put(ctx, "prices.csv", payload)
	require.NoError(t, err)
	require.Contains(t, key, "prices.csv")

	got, err := m.Get(ctx, key)
	require.NoError(t, err)
	require.Equal(t, payload, got)
}

func TestMock_GetStreamMatchesGet(t *testing.T) {
	m := NewMock(fixedLayout())
	ctx := context.Background()

	key, err := m.Put(ctx, "a.csv", []byte("hello"))
	require.NoError(t, err)

	rc, err := m.GetStream(ctx, key)
	require.NoError(t, err)
	defer rc.Close()

	b, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.Equal(t, []byte("hello"), b)
}

func TestMock_DeleteRemovesKey(t *testing.T) {
	m := NewMock(fixedLayout())
	ctx := context.Background()

	key, err := m.Put(ctx, "a.csv", []byte("x"))
	require.NoError(t, err)
	require.NoError(t, m.Delete(ctx, key))

	_, err = m.Get(ctx, key)
	require.Error(t, err)
}

func TestKeyLayout_TestModePrefix(t *testing.T) {
	l := fixedLayout()
	l.TestMode = true
	l.TestID = "abc123"

	key := l.Build("prices.csv")
	require.Regexp(t, `^test-abc123/csv-files/2026/03/05/[0-9a-f-]+_prices\.csv$`, key)
}

func TestKeyLayout_ProductionLayout(t *testing.T) {
	key := fixedLayout().Build("prices.csv")
	require.Regexp(t, `^csv-files/2026/03/05/[0-9a-f-]+_prices\.csv$`, key)
}
