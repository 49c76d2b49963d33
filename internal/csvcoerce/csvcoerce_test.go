package csvcoerce

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestField_DecimalWins(t *testing.T) {
	v := Field("99.99")
	d, ok := v.(decimal.Decimal)
	require.True(t, ok)
	require.True(t, d.Equal(decimal.RequireFromString("99.99")))
}

func TestField_NegativeAndIntegerDecimals(t *testing.T) {
	for _, raw := range []string{"-5", "5", "0.5", "-0.5", "1000"} {
		v := Field(raw)
		_, ok := v.(decimal.Decimal)
		require.True(t, ok, "expected %q to parse as decimal", raw)
	}
}

func TestField_TimestampISO8601(t *testing.T) {
	v := Field("2024-01-15")
	tm, ok := v.(time.Time)
	require.True(t, ok)
	require.Equal(t, 2024, tm.Year())
	require.Equal(t, time.Month(1), tm.Month())
	require.Equal(t, 15, tm.Day())
}

func TestField_TimestampWithOffset(t *testing.T) {
	v := Field("2024-01-15T10:30:00Z")
	_, ok := v.(time.Time)
	require.True(t, ok)
}

func TestField_BooleanCaseInsensitive(t *testing.T) {
	require.Equal(t, true, Field("true"))
	require.Equal(t, true, Field("TRUE"))
	require.Equal(t, false, Field("False"))
}

func TestField_FallsThroughToString(t *testing.T) {
	require.Equal(t, "text", Field("text"))
	require.Equal(t, "12-34-56", Field("12-34-56"))
}

func TestField_EmptyBecomesEmptyString(t *testing.T) {
	require.Equal(t, "", Field(""))
}

func TestField_Deterministic(t *testing.T) {
	inputs := []string{"true", "99.99", "2024-01-15", "text", "", "-3.5"}
	for _, raw := range inputs {
		a := Field(raw)
		b := Field(raw)
		require.Equal(t, a, b, "coercion of %q must be deterministic", raw)
	}
}

func TestField_CoercionLadderExample(t *testing.T) {
	// spec §8 scenario 6: "true,99.99,2024-01-15,text" yields
	// [bool(true), decimal(99.99), timestamp(2024-01-15), "text"]
	fields := []string{"true", "99.99", "2024-01-15", "text"}
	got := make([]any, len(fields))
	for i, f := range fields {
		got[i] = Field(f)
	}

	require.Equal(t, true, got[0])
	d, ok := got[1].(decimal.Decimal)
	require.True(t, ok)
	require.True(t, d.Equal(decimal.RequireFromString("99.99")))
	_, ok = got[2].(time.Time)
	require.True(t, ok)
	require.Equal(t, "text", got[3])
}
