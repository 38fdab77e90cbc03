package gormstore

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Client represents the clients table: the portal's view of a customer.
type Client struct {
	ClientID     string    `gorm:"type:uuid;primaryKey"`
	Email        string    `gorm:"not null;uniqueIndex"`
	DisplayName  string    `gorm:""`
	HomeCurrency string    `gorm:"not null;default:GBP"`
	ReferralCode string    `gorm:"uniqueIndex"`
	CreatedAt    time.Time `gorm:"not null"`
	UpdatedAt    time.Time `gorm:"not null"`
}

func (Client) TableName() string { return "clients" }

func (client *Client) BeforeCreate(tx *gorm.DB) error {
	if client.ClientID == "" {
		client.ClientID = uuid.NewString()
	}
	return nil
}

// LoyaltySetting mirrors the singleton loyalty_settings row.
type LoyaltySetting struct {
	ID                    int64     `gorm:"primaryKey"`
	PointValue            float64   `gorm:"not null;default:1"`
	PointsPerPound        float64   `gorm:"not null;default:1"`
	MinRedemptionPoints   int64     `gorm:"not null;default:100"`
	RedemptionIncrement   int64     `gorm:"not null;default:100"`
	CurrencyCode          string    `gorm:"not null;default:GBP"`
	ReferrerBonusPoints   int64     `gorm:"not null;default:0"`
	ReferredBonusPoints   int64     `gorm:"not null;default:0"`
	PointsExpireAfterDays int64     `gorm:"not null;default:0"`
	UpdatedAt             time.Time `gorm:"not null"`
}

func (LoyaltySetting) TableName() string { return "loyalty_settings" }

// PointTransaction mirrors the point_transactions table.
type PointTransaction struct {
	TransactionID  string         `gorm:"type:uuid;primaryKey"`
	ClientID       string         `gorm:"type:uuid;not null;index:idx_points_client_created,priority:1"`
	Type           string         `gorm:"not null"`
	Points         int64          `gorm:"not null"`
	RedemptionID   *string        `gorm:"index"`
	IdempotencyKey string         `gorm:"not null;index:uniq_transaction_idem,unique"`
	ExpiresAt      *time.Time     `gorm:""`
	Metadata       datatypes.JSON `gorm:"not null"`
	CreatedAt      time.Time      `gorm:"not null;index:idx_points_client_created,priority:2"`
}

func (PointTransaction) TableName() string { return "point_transactions" }

func (transaction *PointTransaction) BeforeCreate(tx *gorm.DB) error {
	if transaction.TransactionID == "" {
		transaction.TransactionID = uuid.NewString()
	}
	return nil
}

// RedemptionRequest mirrors the redemption_requests table. Pending rows
// reserve their points.
type RedemptionRequest struct {
	ClientID       string    `gorm:"type:uuid;primaryKey"`
	RedemptionID   string    `gorm:"primaryKey"`
	Points         int64     `gorm:"not null"`
	DiscountAmount float64   `gorm:"not null"`
	CurrencyCode   string    `gorm:"not null"`
	Status         string    `gorm:"not null"`
	CreatedAt      time.Time `gorm:"not null"`
	UpdatedAt      time.Time `gorm:"not null"`
}

func (RedemptionRequest) TableName() string { return "redemption_requests" }

// Referral mirrors the referrals table.
type Referral struct {
	ReferrerID string    `gorm:"type:uuid;primaryKey"`
	ReferredID string    `gorm:"type:uuid;primaryKey"`
	Status     string    `gorm:"not null"`
	CreatedAt  time.Time `gorm:"not null"`
	UpdatedAt  time.Time `gorm:"not null"`
}

func (Referral) TableName() string { return "referrals" }

// Booking mirrors the bookings table read by the trip pages.
type Booking struct {
	BookingID    string    `gorm:"type:uuid;primaryKey"`
	ClientID     string    `gorm:"type:uuid;not null;index"`
	Reference    string    `gorm:"not null;uniqueIndex"`
	Destination  string    `gorm:"not null"`
	EventStart   time.Time `gorm:"not null"`
	EventEnd     time.Time `gorm:"not null"`
	BookedAt     time.Time `gorm:"not null"`
	Status       string    `gorm:"not null"`
	TotalAmount  float64   `gorm:"not null"`
	CurrencyCode string    `gorm:"not null"`
	CreatedAt    time.Time `gorm:"not null"`
	UpdatedAt    time.Time `gorm:"not null"`
}

func (Booking) TableName() string { return "bookings" }

func (booking *Booking) BeforeCreate(tx *gorm.DB) error {
	if booking.BookingID == "" {
		booking.BookingID = uuid.NewString()
	}
	return nil
}

// Traveler mirrors the travelers table: customer-editable trip details that
// freeze when the edit-lock window closes.
type Traveler struct {
	TravelerID     string    `gorm:"type:uuid;primaryKey"`
	BookingID      string    `gorm:"type:uuid;not null;index"`
	FullName       string    `gorm:"not null"`
	DateOfBirth    *time.Time
	DocumentNumber string
	FlightNumber   string
	CreatedAt      time.Time `gorm:"not null"`
	UpdatedAt      time.Time `gorm:"not null"`
}

func (Traveler) TableName() string { return "travelers" }

func (traveler *Traveler) BeforeCreate(tx *gorm.DB) error {
	if traveler.TravelerID == "" {
		traveler.TravelerID = uuid.NewString()
	}
	return nil
}
