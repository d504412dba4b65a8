package models

import (
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

// yieldRegexp accepts plain decimal numbers and numbers with comma thousands groups.
var yieldRegexp = regexp.MustCompile(`^[-+]?(?:(?:\d{1,3}(?:,\d{3})+|\d+)(?:\.\d*)?|\.\d+)(?:[eE][-+]?\d+)?$`)

// ParseYield converts a raw cell to a yield. Blank or non-numeric cells are null.
func ParseYield(raw string) decimal.NullDecimal {
	s := strings.TrimSpace(raw)
	if s == "" || !yieldRegexp.MatchString(s) {
		return decimal.NullDecimal{}
	}
	d, err := decimal.NewFromString(strings.ReplaceAll(s, ",", ""))
	if err != nil {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(d)
}
