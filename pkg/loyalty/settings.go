package loyalty

import (
	"fmt"
	"strings"
)

const (
	defaultPointValue          = 1.0
	defaultPointsPerPound      = 1.0
	defaultMinRedemptionPoints = Points(100)
	defaultRedemptionIncrement = Points(100)
	defaultCurrencyCode        = "GBP"
)

// Settings is the singleton loyalty configuration row. Read-only from the
// service's perspective.
type Settings struct {
	PointValue            float64
	PointsPerPound        float64
	MinRedemptionPoints   Points
	RedemptionIncrement   Points
	CurrencyCode          string
	ReferrerBonusPoints   Points
	ReferredBonusPoints   Points
	PointsExpireAfterDays int
}

// DefaultSettings returns the fallback configuration used when no settings row
// exists or individual fields are missing.
func DefaultSettings() Settings {
	return Settings{
		PointValue:          defaultPointValue,
		PointsPerPound:      defaultPointsPerPound,
		MinRedemptionPoints: defaultMinRedemptionPoints,
		RedemptionIncrement: defaultRedemptionIncrement,
		CurrencyCode:        defaultCurrencyCode,
	}
}

// ApplyDefaults fills missing fields with the documented fallbacks. The
// redemption increment is deliberately not defaulted: a zero increment is an
// invalid configuration, not a missing one, and Validate rejects it.
func (settings Settings) ApplyDefaults() Settings {
	if settings.PointValue <= 0 {
		settings.PointValue = defaultPointValue
	}
	if settings.PointsPerPound <= 0 {
		settings.PointsPerPound = defaultPointsPerPound
	}
	if settings.MinRedemptionPoints <= 0 {
		settings.MinRedemptionPoints = defaultMinRedemptionPoints
	}
	if strings.TrimSpace(settings.CurrencyCode) == "" {
		settings.CurrencyCode = defaultCurrencyCode
	}
	return settings
}

// Validate enforces the settings invariants at the read boundary. A zero
// redemption increment would divide by zero in the redemption calculator, so
// it is rejected here instead of silently defaulted downstream.
func (settings Settings) Validate() error {
	if settings.RedemptionIncrement <= 0 {
		return fmt.Errorf("%w: redemption increment must be greater than zero", ErrInvalidSettings)
	}
	if settings.MinRedemptionPoints < 0 {
		return fmt.Errorf("%w: minimum redemption points must not be negative", ErrInvalidSettings)
	}
	if settings.PointValue <= 0 {
		return fmt.Errorf("%w: point value must be greater than zero", ErrInvalidSettings)
	}
	if settings.PointsPerPound < 0 {
		return fmt.Errorf("%w: points per pound must not be negative", ErrInvalidSettings)
	}
	if settings.PointsExpireAfterDays < 0 {
		return fmt.Errorf("%w: points expiry days must not be negative", ErrInvalidSettings)
	}
	return nil
}
