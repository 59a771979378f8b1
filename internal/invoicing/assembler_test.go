package invoicing

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFormatAmountGroupsExactly(t *testing.T) {
	require.Equal(t, "IDR 3.330.000,00", formatAmount("", dec("3330000")))
	require.Equal(t, "USD 1.234,50", formatAmount("USD", dec("1234.5")))
	require.Equal(t, "IDR -250,75", formatAmount("IDR", dec("-250.75")))

	// Whole-rupiah amounts past float64's 2^53 integer exactness must not
	// drift; the grouping runs over the exact integer part.
	require.Equal(t, "IDR 9.007.199.254.740.993,25", formatAmount("IDR", dec("9007199254740993.25")))
}
