package loyalty

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// Points is a whole-number loyalty point amount. Stored transaction rows carry
// signed values; redemptions and reservations are negative.
type Points int64

// Int64 returns the raw point amount.
func (points Points) Int64() int64 {
	return int64(points)
}

// ClientID identifies a portal customer.
type ClientID struct {
	value string
}

// RedemptionID identifies a redemption request.
type RedemptionID struct {
	value string
}

// IdempotencyKey scopes duplicate detection.
type IdempotencyKey struct {
	value string
}

// MetadataJSON stores arbitrary request metadata.
type MetadataJSON struct {
	value string
}

// NewClientID validates and normalizes a client id.
func NewClientID(raw string) (ClientID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return ClientID{}, fmt.Errorf("%w: empty value", ErrInvalidClientID)
	}
	return ClientID{value: trimmed}, nil
}

// String returns the normalized identifier.
func (id ClientID) String() string {
	return id.value
}

// NewRedemptionID validates and normalizes a redemption id.
func NewRedemptionID(raw string) (RedemptionID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return RedemptionID{}, fmt.Errorf("%w: empty value", ErrInvalidRedemptionID)
	}
	return RedemptionID{value: trimmed}, nil
}

// String returns the normalized identifier.
func (id RedemptionID) String() string {
	return id.value
}

// NewIdempotencyKey validates and normalizes an idempotency key.
func NewIdempotencyKey(raw string) (IdempotencyKey, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return IdempotencyKey{}, fmt.Errorf("%w: empty value", ErrInvalidIdempotencyKey)
	}
	return IdempotencyKey{value: trimmed}, nil
}

// String returns the normalized key.
func (key IdempotencyKey) String() string {
	return key.value
}

// NewMetadataJSON validates metadata string (defaulting to "{}" for empty inputs).
func NewMetadataJSON(raw string) (MetadataJSON, error) {
	normalized := strings.TrimSpace(raw)
	if normalized == "" {
		normalized = "{}"
	}
	if !json.Valid([]byte(normalized)) {
		return MetadataJSON{}, fmt.Errorf("%w: must be valid json", ErrInvalidMetadataJSON)
	}
	return MetadataJSON{value: normalized}, nil
}

// String returns the normalized JSON blob.
func (metadata MetadataJSON) String() string {
	return metadata.value
}

// NewPoints validates a strictly positive point amount.
func NewPoints(raw int64) (Points, error) {
	if raw <= 0 {
		return 0, fmt.Errorf("%w: must be greater than zero", ErrInvalidPoints)
	}
	return Points(raw), nil
}

// TransactionType enumerates point transaction kinds.
type TransactionType string

const (
	TransactionEarn    TransactionType = "earn"
	TransactionRedeem  TransactionType = "redeem"
	TransactionRelease TransactionType = "release"
	TransactionBonus   TransactionType = "bonus"
	TransactionExpire  TransactionType = "expire"
)

// String returns the stored representation.
func (transactionType TransactionType) String() string {
	return string(transactionType)
}

// ParseTransactionType maps a stored value back to a TransactionType.
func ParseTransactionType(raw string) (TransactionType, error) {
	switch TransactionType(raw) {
	case TransactionEarn, TransactionRedeem, TransactionRelease, TransactionBonus, TransactionExpire:
		return TransactionType(raw), nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidTransactionType, raw)
}

// Transaction is a single immutable line in a client's point history.
type Transaction struct {
	TransactionID    string
	ClientID         string
	Type             TransactionType
	Points           Points
	RedemptionID     string
	IdempotencyKey   string
	ExpiresAtUnixUTC int64
	MetadataJSON     string
	CreatedUnixUTC   int64
}

// RedemptionStatus defines the redemption request lifecycle.
type RedemptionStatus string

const (
	RedemptionStatusPending   RedemptionStatus = "pending"
	RedemptionStatusApplied   RedemptionStatus = "applied"
	RedemptionStatusCancelled RedemptionStatus = "cancelled"
)

// String returns the stored representation.
func (status RedemptionStatus) String() string {
	return string(status)
}

// ParseRedemptionStatus maps a stored value back to a RedemptionStatus.
func ParseRedemptionStatus(raw string) (RedemptionStatus, error) {
	switch RedemptionStatus(raw) {
	case RedemptionStatusPending, RedemptionStatusApplied, RedemptionStatusCancelled:
		return RedemptionStatus(raw), nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidRedemptionStatus, raw)
}

// RedemptionRequest is a stored redemption record. Pending requests reserve
// their points, which are excluded from the available balance.
type RedemptionRequest struct {
	ClientID       string
	RedemptionID   string
	Points         Points
	DiscountAmount float64
	CurrencyCode   string
	Status         RedemptionStatus
}

// ReferralStatus defines the referral lifecycle.
type ReferralStatus string

const (
	ReferralStatusPending   ReferralStatus = "pending"
	ReferralStatusCompleted ReferralStatus = "completed"
)

// String returns the stored representation.
func (status ReferralStatus) String() string {
	return string(status)
}

// Referral links a referrer to a referred customer.
type Referral struct {
	ReferrerID string
	ReferredID string
	Status     ReferralStatus
}

// BookingStatus mirrors the booking lifecycle as stored on trip records.
type BookingStatus string

const (
	BookingStatusUpcoming  BookingStatus = "upcoming"
	BookingStatusConfirmed BookingStatus = "confirmed"
	BookingStatusCancelled BookingStatus = "cancelled"
	BookingStatusCompleted BookingStatus = "completed"
)

// ParseBookingStatus normalizes a stored booking status. Unrecognized values
// are passed through so new statuses never break the edit-lock computation.
func ParseBookingStatus(raw string) BookingStatus {
	return BookingStatus(strings.ToLower(strings.TrimSpace(raw)))
}

// Balance is the points view for a client.
type Balance struct {
	LifetimePoints  Points
	ReservedPoints  Points
	AvailablePoints Points
}

// RedemptionQuote is the derived redeem-now view. Recomputed on every request,
// never persisted.
type RedemptionQuote struct {
	AvailablePoints Points
	UsablePoints    Points
	DiscountAmount  float64
	CurrencyCode    string
	MeetsMinimum    bool
}

// DiscountSummary is the authoritative result of the store-side
// calculate_available_discount function.
type DiscountSummary struct {
	PointsBalance  Points
	UsablePoints   Points
	DiscountAmount float64
}

// Milestone describes progress toward the next redeemable step.
type Milestone struct {
	NextMilestone      Points
	PointsToNext       Points
	ProgressPercentage float64
}

// EditLockWindow is the computed trip-edit state. DaysUntilLock is only
// meaningful when IsLocked is false.
type EditLockWindow struct {
	IsLocked            bool
	IsPermanentlyLocked bool
	DaysUntilLock       int
}

// ConversionResult is the ephemeral output of a currency conversion.
type ConversionResult struct {
	Amount          float64
	ConvertedAmount float64
	Rate            float64
	AdjustedRate    float64
	FromCurrency    string
	ToCurrency      string
}

// Store is the persistence contract used by Service. The gormstore package
// implements it against sqlite and postgres.
type Store interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error
	LoadSettings(ctx context.Context) (Settings, error)
	SumLifetimePoints(ctx context.Context, clientID string, atUnixUTC int64) (Points, error)
	SumReservedPoints(ctx context.Context, clientID string) (Points, error)
	InsertTransaction(ctx context.Context, transaction Transaction) error
	ListTransactions(ctx context.Context, clientID string, beforeUnixUTC int64, limit int) ([]Transaction, error)
	CreateRedemption(ctx context.Context, redemption RedemptionRequest) error
	GetRedemption(ctx context.Context, clientID string, redemptionID string) (RedemptionRequest, error)
	UpdateRedemptionStatus(ctx context.Context, clientID string, redemptionID string, from RedemptionStatus, to RedemptionStatus) error
	AvailableDiscount(ctx context.Context, clientID string) (DiscountSummary, error)
	CreateReferral(ctx context.Context, referral Referral) error
	GetReferral(ctx context.Context, referrerID string, referredID string) (Referral, error)
	UpdateReferralStatus(ctx context.Context, referrerID string, referredID string, from ReferralStatus, to ReferralStatus) error
}
