package types

import (
	"github.com/fxamacker/cbor/v2"
	"github.com/shopspring/decimal"
)

// Decimal wraps shopspring/decimal so difficulty fields round-trip through
// CBOR as text rather than float64 — spec requires exact decimal difficulty
// comparisons, which float64 cannot guarantee.
type Decimal struct {
	decimal.Decimal
}

// NewDecimalFromString parses a decimal difficulty value, e.g. "31.465847594928551".
func NewDecimalFromString(s string) (Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Decimal{}, err
	}
	return Decimal{d}, nil
}

// NewDecimalFromFloat is a convenience constructor for literal genesis/test values.
func NewDecimalFromFloat(f float64) Decimal {
	return Decimal{decimal.NewFromFloat(f)}
}

// MarshalCBOR encodes the decimal as a CBOR text string.
func (d Decimal) MarshalCBOR() ([]byte, error) {
	text, err := d.Decimal.MarshalText()
	if err != nil {
		return nil, err
	}
	return cbor.Marshal(string(text))
}

// UnmarshalCBOR decodes a CBOR text string back into a decimal.
func (d *Decimal) UnmarshalCBOR(data []byte) error {
	var s string
	if err := cbor.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := decimal.NewFromString(s)
	if err != nil {
		return err
	}
	d.Decimal = parsed
	return nil
}
