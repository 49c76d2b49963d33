package csvsplit

import (
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestReadBatches_EmptyFileYieldsNoBatches(t *testing.T) {
	batches, err := readBatches(strings.NewReader(""), 1000)
	require.NoError(t, err)
	require.Nil(t, batches)
}

func TestReadBatches_HeaderOnlyYieldsNoBatches(t *testing.T) {
	batches, err := readBatches(strings.NewReader("sku,price,updated_at\n"), 1000)
	require.NoError(t, err)
	require.Nil(t, batches)
}

func TestReadBatches_AllEmptyColumnNamesIsRejected(t *testing.T) {
	_, err := readBatches(strings.NewReader(",,\nA1,99.99,1\n"), 1000)
	require.Error(t, err)
}

func TestReadBatches_CoercesEachCellThroughTheLadder(t *testing.T) {
	csv := "sku,price,active,updated_at\nA1,99.99,true,2024-01-15\n"
	batches, err := readBatches(strings.NewReader(csv), 1000)
	require.NoError(t, err)
	require.Len(t, batches, 1)
	require.Len(t, batches[0], 1)

	row := batches[0][0]
	require.Equal(t, "A1", row["sku"])
	require.True(t, row["price"].(decimal.Decimal).Equal(decimal.RequireFromString("99.99")))
	require.Equal(t, true, row["active"])
}

func TestReadBatches_MissingTrailingFieldsBecomeEmptyString(t *testing.T) {
	csv := "sku,price,notes\nA1,10\n"
	batches, err := readBatches(strings.NewReader(csv), 1000)
	require.NoError(t, err)
	require.Equal(t, "", batches[0][0]["notes"])
}

func TestReadBatches_BlankLinesAreSkipped(t *testing.T) {
	csv := "sku,price\nA1,1\n\nB2,2\n"
	batches, err := readBatches(strings.NewReader(csv), 1000)
	require.NoError(t, err)
	require.Len(t, batches[0], 2)
}

func TestReadBatches_ChunksAtBatchSize(t *testing.T) {
	var b strings.Builder
	b.WriteString("sku\n")
	for i := 0; i < 5; i++ {
		b.WriteString("row\n")
	}
	batches, err := readBatches(strings.NewReader(b.String()), 2)
	require.NoError(t, err)
	require.Len(t, batches, 3)
	require.Len(t, batches[0], 2)
	require.Len(t, batches[1], 2)
	require.Len(t, batches[2], 1)
}

func TestReadBatches_EmbeddedCommaAndNewlineInQuotedField(t *testing.T) {
	csv := "sku,notes\nA1,\"contains, a comma\"\nA2,\"multi\nline\"\n"
	batches, err := readBatches(strings.NewReader(csv), 1000)
	require.NoError(t, err)
	require.Equal(t, "contains, a comma", batches[0][0]["notes"])
	require.Equal(t, "multi\nline", batches[0][1]["notes"])
}
