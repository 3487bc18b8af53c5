package money

import (
	"fmt"
	"strings"

	"golang.org/x/text/currency"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// DefaultLanguage drives digit grouping when callers have no locale preference.
var DefaultLanguage = language.English

var symbols = map[string]string{
	"LKR": "Rs.",
}

// Formatter renders amounts for display, e.g. "Rs. 1,250.00".
type Formatter struct {
	unit    currency.Unit
	symbol  string
	printer *message.Printer
}

// NewFormatter builds a formatter for an ISO 4217 currency code.
func NewFormatter(code string, tag language.Tag) (*Formatter, error) {
	unit, err := currency.ParseISO(strings.ToUpper(strings.TrimSpace(code)))
	if err != nil {
		return nil, fmt.Errorf("parse currency %q: %w", code, err)
	}
	symbol, ok := symbols[unit.String()]
	if !ok {
		symbol = unit.String()
	}
	return &Formatter{unit: unit, symbol: symbol, printer: message.NewPrinter(tag)}, nil
}

// Currency returns the ISO code.
func (f *Formatter) Currency() string {
	return f.unit.String()
}

// Format renders m with the currency symbol and locale grouping.
func (f *Formatter) Format(m Money) string {
	return f.printer.Sprintf("%s %.2f", f.symbol, m.Float64())
}
