package backends

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// networkDecimals is the number of fractional digits of the network denomination.
// One base unit of a product is one satoshi-sized unit on the network.
const networkDecimals = 8

// FormatBaseUnits converts base units to the network denomination with exactly 8 fraction digits.
func FormatBaseUnits(quantity int64) string {
	return BaseUnitsToDecimal(quantity).StringFixed(networkDecimals)
}

// BaseUnitsToDecimal returns quantity * 10^-8 without going through binary floats.
func BaseUnitsToDecimal(quantity int64) decimal.Decimal {
	return decimal.New(quantity, -networkDecimals)
}

// ParseDenomination converts a network amount such as "1.5" back to base units.
func ParseDenomination(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty amount")
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("parse amount %q: %w", s, err)
	}
	return DecimalToBaseUnits(d)
}

// DecimalToBaseUnits converts a network amount to base units, rejecting sub-unit precision.
func DecimalToBaseUnits(d decimal.Decimal) (int64, error) {
	scaled := d.Shift(networkDecimals)
	if !scaled.Equal(scaled.Truncate(0)) {
		return 0, fmt.Errorf("amount %s has more than %d decimals", d.String(), networkDecimals)
	}
	return scaled.IntPart(), nil
}
