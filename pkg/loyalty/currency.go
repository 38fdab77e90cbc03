package loyalty

import (
	"fmt"
	"strings"
)

// currencyFormat describes how amounts render for one currency code.
type currencyFormat struct {
	Symbol        string
	DecimalPlaces int
	SymbolLeading bool
}

// Static display table. Unknown codes fall back to GBP silently.
var currencyFormats = map[string]currencyFormat{
	"GBP": {Symbol: "£", DecimalPlaces: 2, SymbolLeading: true},
	"USD": {Symbol: "$", DecimalPlaces: 2, SymbolLeading: true},
	"EUR": {Symbol: "€", DecimalPlaces: 2, SymbolLeading: true},
	"AUD": {Symbol: "A$", DecimalPlaces: 2, SymbolLeading: true},
	"CAD": {Symbol: "C$", DecimalPlaces: 2, SymbolLeading: true},
	"NZD": {Symbol: "NZ$", DecimalPlaces: 2, SymbolLeading: true},
	"CHF": {Symbol: "CHF", DecimalPlaces: 2, SymbolLeading: true},
	"JPY": {Symbol: "¥", DecimalPlaces: 0, SymbolLeading: true},
	"SEK": {Symbol: "kr", DecimalPlaces: 2, SymbolLeading: false},
	"NOK": {Symbol: "kr", DecimalPlaces: 2, SymbolLeading: false},
	"DKK": {Symbol: "kr", DecimalPlaces: 2, SymbolLeading: false},
	"PLN": {Symbol: "zł", DecimalPlaces: 2, SymbolLeading: false},
	"AED": {Symbol: "AED", DecimalPlaces: 2, SymbolLeading: true},
	"ZAR": {Symbol: "R", DecimalPlaces: 2, SymbolLeading: true},
	"THB": {Symbol: "฿", DecimalPlaces: 2, SymbolLeading: true},
	"INR": {Symbol: "₹", DecimalPlaces: 2, SymbolLeading: true},
}

func lookupCurrencyFormat(code string) currencyFormat {
	normalized := strings.ToUpper(strings.TrimSpace(code))
	if format, ok := currencyFormats[normalized]; ok {
		return format
	}
	return currencyFormats[defaultCurrencyCode]
}

// IsKnownCurrency reports whether the code has a display format entry.
func IsKnownCurrency(code string) bool {
	_, ok := currencyFormats[strings.ToUpper(strings.TrimSpace(code))]
	return ok
}

// GetCurrencySymbol returns the display symbol for a currency code,
// case-insensitive, falling back to the GBP symbol for unknown codes.
func GetCurrencySymbol(code string) string {
	return lookupCurrencyFormat(code).Symbol
}

// FormatCurrencyWithSymbol renders an amount with its currency symbol,
// thousands separators, and the currency's decimal places.
func FormatCurrencyWithSymbol(amount float64, code string) string {
	format := lookupCurrencyFormat(code)
	rendered := groupThousands(fmt.Sprintf("%.*f", format.DecimalPlaces, amount))
	if format.SymbolLeading {
		return format.Symbol + rendered
	}
	return rendered + " " + format.Symbol
}

func groupThousands(rendered string) string {
	sign := ""
	if strings.HasPrefix(rendered, "-") {
		sign = "-"
		rendered = rendered[1:]
	}
	integerPart := rendered
	fractionPart := ""
	if dot := strings.IndexByte(rendered, '.'); dot >= 0 {
		integerPart = rendered[:dot]
		fractionPart = rendered[dot:]
	}
	if len(integerPart) <= 3 {
		return sign + integerPart + fractionPart
	}
	var grouped strings.Builder
	leading := len(integerPart) % 3
	if leading > 0 {
		grouped.WriteString(integerPart[:leading])
	}
	for index := leading; index < len(integerPart); index += 3 {
		if grouped.Len() > 0 {
			grouped.WriteByte(',')
		}
		grouped.WriteString(integerPart[index : index+3])
	}
	return sign + grouped.String() + fractionPart
}
