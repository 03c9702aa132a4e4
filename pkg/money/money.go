/**
 * @description
 * This package converts between the aggregator's decimal currency amounts and
 * the ledger's fixed-point integer representation (smallest currency unit,
 * i.e. cents). The same codec is used for transaction amounts and account
 * balances so rounding behaves identically everywhere.
 *
 * @dependencies
 * - github.com/shopspring/decimal: exact decimal arithmetic; float64 inputs
 *   are normalized through their shortest decimal representation so wire
 *   values like 12.34 convert to exactly 1234 cents.
 */
package money

import "github.com/shopspring/decimal"

// subunits is the subdivision factor of the ledger currency (cents per unit).
const subunits = 100

// ToLedgerUnits converts a decimal currency amount to integer cents, rounding
// half away from zero so debits and credits are not systematically biased.
func ToLedgerUnits(amount float64) int64 {
	d := decimal.NewFromFloat(amount)
	return d.Mul(decimal.NewFromInt(subunits)).Round(0).IntPart()
}

// ToExternalUnits converts integer cents back to a decimal currency amount.
func ToExternalUnits(cents int64) float64 {
	f, _ := decimal.NewFromInt(cents).Div(decimal.NewFromInt(subunits)).Float64()
	return f
}
