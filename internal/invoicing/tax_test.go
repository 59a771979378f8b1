package invoicing

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func TestComputeTaxInclusiveCode(t *testing.T) {
	got := ComputeTax(dec("1000000"), TaxCode{Code: "PPN12", Rate: dec("0.12"), TaxInclusive: true})

	require.True(t, got.DPPAmount.Equal(dec("916666.67")), "dpp = %s", got.DPPAmount)
	require.True(t, got.TaxAmount.Equal(dec("110000.00")), "tax = %s", got.TaxAmount)
	require.True(t, got.TotalAmount.Equal(dec("1110000.00")), "total = %s", got.TotalAmount)
}

func TestComputeTaxStandardCode(t *testing.T) {
	got := ComputeTax(dec("1000000"), TaxCode{Code: "PPN11", Rate: dec("0.11")})

	require.True(t, got.DPPAmount.Equal(dec("1000000")))
	require.True(t, got.TaxAmount.Equal(dec("110000")))
	require.True(t, got.TotalAmount.Equal(dec("1110000")))
}

func TestComputeTaxNoCodeSelected(t *testing.T) {
	got := ComputeTax(dec("250000"), TaxCode{})

	require.True(t, got.DPPAmount.IsZero())
	require.True(t, got.TaxAmount.IsZero())
	require.True(t, got.TotalAmount.Equal(dec("250000")))
}

func TestComputeTaxReproducible(t *testing.T) {
	code := TaxCode{Code: "PPN12", Rate: dec("0.12"), TaxInclusive: true}
	first := ComputeTax(dec("123456.78"), code)
	second := ComputeTax(dec("123456.78"), code)

	require.True(t, first.DPPAmount.Equal(second.DPPAmount))
	require.True(t, first.TaxAmount.Equal(second.TaxAmount))
	require.True(t, first.TotalAmount.Equal(second.TotalAmount))
}
