package invoicing

import "github.com/shopspring/decimal"

// TaxBreakdown holds the derived tax base, tax, and grand total of a draft.
type TaxBreakdown struct {
	DPPAmount   decimal.Decimal
	TaxAmount   decimal.Decimal
	TotalAmount decimal.Decimal
}

var (
	dppInclusiveNum = decimal.NewFromInt(11)
	dppInclusiveDen = decimal.NewFromInt(12)
)

// ComputeTax derives DPP, tax, and total from an invoice amount.
//
// For the tax-inclusive PPN code the invoice amount already contains tax, so
// the DPP is backed out at 11/12 before the rate is applied. Every other code
// taxes the invoice amount directly. With no code selected the draft carries
// no tax base at all and the total equals the invoice amount.
//
// Monetary results round half-up to 2 decimal places. The function is pure:
// it backs both live calculation and redisplay of saved invoices.
func ComputeTax(invoiceAmount decimal.Decimal, code TaxCode) TaxBreakdown {
	if code.Code == "" {
		return TaxBreakdown{
			DPPAmount:   decimal.Zero,
			TaxAmount:   decimal.Zero,
			TotalAmount: invoiceAmount,
		}
	}

	dpp := invoiceAmount
	if code.TaxInclusive {
		dpp = invoiceAmount.Mul(dppInclusiveNum).Div(dppInclusiveDen).Round(2)
	}
	tax := dpp.Mul(code.Rate).Round(2)
	return TaxBreakdown{
		DPPAmount:   dpp,
		TaxAmount:   tax,
		TotalAmount: invoiceAmount.Add(tax),
	}
}
