package loyalty

import (
	"context"
	"strings"
	"sync"
)

// Rate is a quoted exchange rate between two currencies. AdjustedRate carries
// any margin the provider applies on top of the mid-market rate.
type Rate struct {
	Rate         float64
	AdjustedRate float64
}

// RateSource looks up exchange rates from an external provider. Lookups may
// fail; conversion failure is never fatal to a caller, which falls back to the
// unconverted base-currency amount.
type RateSource interface {
	LookupRate(ctx context.Context, fromCurrency string, toCurrency string) (Rate, error)
}

// Converter converts amounts between currencies, memoizing rates per
// (from, to) pair so multiple widgets on one page share a single lookup.
type Converter struct {
	source RateSource

	mu    sync.Mutex
	rates map[string]Rate
}

// NewConverter wires a Converter over a rate source.
func NewConverter(source RateSource) *Converter {
	return &Converter{
		source: source,
		rates:  make(map[string]Rate),
	}
}

// Convert returns the amount expressed in the target currency. Equal source
// and target codes (case-insensitive) short-circuit with rate 1 and never
// touch the rate source.
func (converter *Converter) Convert(ctx context.Context, amount float64, fromCurrency string, toCurrency string) (ConversionResult, error) {
	from := strings.ToUpper(strings.TrimSpace(fromCurrency))
	to := strings.ToUpper(strings.TrimSpace(toCurrency))
	if from == "" || to == "" {
		return ConversionResult{}, WrapError(operationConvert, subjectRate, codeInvalidCurrency, ErrInvalidConversionRequest)
	}
	if from == to {
		return ConversionResult{
			Amount:          amount,
			ConvertedAmount: amount,
			Rate:            1,
			AdjustedRate:    1,
			FromCurrency:    from,
			ToCurrency:      to,
		}, nil
	}
	rate, err := converter.lookup(ctx, from, to)
	if err != nil {
		return ConversionResult{}, WrapError(operationConvert, subjectRate, codeLookup, err)
	}
	return ConversionResult{
		Amount:          amount,
		ConvertedAmount: amount * rate.AdjustedRate,
		Rate:            rate.Rate,
		AdjustedRate:    rate.AdjustedRate,
		FromCurrency:    from,
		ToCurrency:      to,
	}, nil
}

func (converter *Converter) lookup(ctx context.Context, from string, to string) (Rate, error) {
	pair := from + "/" + to
	converter.mu.Lock()
	cached, ok := converter.rates[pair]
	converter.mu.Unlock()
	if ok {
		return cached, nil
	}
	if converter.source == nil {
		return Rate{}, ErrRateLookupUnavailable
	}
	rate, err := converter.source.LookupRate(ctx, from, to)
	if err != nil {
		return Rate{}, err
	}
	if rate.AdjustedRate == 0 {
		rate.AdjustedRate = rate.Rate
	}
	converter.mu.Lock()
	converter.rates[pair] = rate
	converter.mu.Unlock()
	return rate, nil
}

const (
	operationConvert    = "convert"
	subjectRate         = "rate"
	codeLookup          = "lookup"
	codeInvalidCurrency = "invalid_currency"
)
