package provider

import (
	"strings"

	"github.com/shopspring/decimal"
)

// Number is a nullable decimal that accepts JSON numbers, numeric strings and
// the placeholders vendors use for missing values ("", "None", "-", null).
type Number struct {
	decimal.NullDecimal
}

func (n *Number) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(strings.Trim(string(b), `"`))
	switch s {
	case "", "null", "None", "-", "N/A":
		n.NullDecimal = decimal.NullDecimal{}
		return nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return err
	}
	n.NullDecimal = decimal.NewNullDecimal(d)
	return nil
}

// NumberOf wraps d as a valid Number.
func NumberOf(d decimal.Decimal) Number {
	return Number{decimal.NewNullDecimal(d)}
}
