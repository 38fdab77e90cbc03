package loyalty

import "testing"

func TestGetCurrencySymbolKnownCodes(test *testing.T) {
	test.Parallel()
	if symbol := GetCurrencySymbol("GBP"); symbol != "£" {
		test.Fatalf("expected £, got %q", symbol)
	}
	if symbol := GetCurrencySymbol("usd"); symbol != "$" {
		test.Fatalf("expected $ for lowercase code, got %q", symbol)
	}
	if symbol := GetCurrencySymbol(" eur "); symbol != "€" {
		test.Fatalf("expected € for padded code, got %q", symbol)
	}
}

func TestGetCurrencySymbolUnknownFallsBackToGBP(test *testing.T) {
	test.Parallel()
	if symbol := GetCurrencySymbol("XYZ"); symbol != "£" {
		test.Fatalf("expected GBP fallback, got %q", symbol)
	}
	if symbol := GetCurrencySymbol(""); symbol != "£" {
		test.Fatalf("expected GBP fallback for empty code, got %q", symbol)
	}
}

func TestIsKnownCurrency(test *testing.T) {
	test.Parallel()
	if !IsKnownCurrency("gbp") {
		test.Fatalf("expected gbp to be known")
	}
	if !IsKnownCurrency(" JPY ") {
		test.Fatalf("expected padded JPY to be known")
	}
	if IsKnownCurrency("XYZ") {
		test.Fatalf("expected XYZ to be unknown")
	}
	if IsKnownCurrency("") {
		test.Fatalf("expected empty code to be unknown")
	}
}

func TestFormatCurrencyWithSymbol(test *testing.T) {
	test.Parallel()
	cases := []struct {
		amount   float64
		code     string
		expected string
	}{
		{amount: 1234.5, code: "GBP", expected: "£1,234.50"},
		{amount: 99.999, code: "USD", expected: "$100.00"},
		{amount: 1234567, code: "JPY", expected: "¥1,234,567"},
		{amount: 250, code: "SEK", expected: "250.00 kr"},
		{amount: -42.25, code: "EUR", expected: "€-42.25"},
		{amount: 500, code: "UNKNOWN", expected: "£500.00"},
	}
	for _, testCase := range cases {
		if rendered := FormatCurrencyWithSymbol(testCase.amount, testCase.code); rendered != testCase.expected {
			test.Fatalf("format %v %s: expected %q, got %q", testCase.amount, testCase.code, testCase.expected, rendered)
		}
	}
}
