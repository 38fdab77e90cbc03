package gormstore

import (
	"context"
	"errors"
	"time"

	"github.com/MarkoPoloResearchLab/loyalty/pkg/loyalty"
	gosqlite "github.com/glebarez/go-sqlite"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	constraintTransactionIdempotencyKey = "uniq_transaction_idem"
	constraintRedemptionPrimary         = "redemption_requests_pkey"
	constraintReferralPrimary           = "referrals_pkey"
	defaultMetadataJSON                 = "{}"
	settingsRowID                       = 1
	pgUniqueViolationCode               = "23505"
	sqliteConstraintCode                = 19
	postgresDialectName                 = "postgres"

	errorOperationStore      = "store"
	errorSubjectSettings     = "settings"
	errorSubjectBalance      = "balance"
	errorSubjectTransaction  = "transaction"
	errorSubjectRedemption   = "redemption"
	errorSubjectReferral     = "referral"
	errorSubjectClient       = "client"
	errorSubjectBooking      = "booking"
	errorSubjectTraveler     = "traveler"
	errorCodeCreate          = "create"
	errorCodeDuplicate       = "duplicate"
	errorCodeGet             = "get"
	errorCodeInsert          = "insert"
	errorCodeInvalid         = "invalid"
	errorCodeList            = "list"
	errorCodeLoad            = "load"
	errorCodeRPC             = "rpc"
	errorCodeSave            = "save"
	errorCodeSumLifetime     = "sum_lifetime"
	errorCodeSumReserved     = "sum_reserved"
	errorCodeUpdateStatus    = "update_status"
	errorCodeUpdate          = "update"
	errorCodeUnsupportedRPC  = "unsupported_rpc"
	availableDiscountRPCName = "calculate_available_discount"
)

// ErrClientNotFound reports an unknown client id.
var ErrClientNotFound = errors.New("client not found")

// ErrBookingNotFound reports an unknown booking for a client.
var ErrBookingNotFound = errors.New("booking not found")

// ErrTravelerNotFound reports a traveler id that does not exist on the booking
// being edited.
var ErrTravelerNotFound = errors.New("traveler not found")

// Store implements loyalty.Store using GORM, plus the portal's client, booking
// and traveler queries.
type Store struct {
	db *gorm.DB
}

// New returns a Store backed by gorm.DB.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// WithTx executes fn within a transaction.
func (store *Store) WithTx(ctx context.Context, fn func(ctx context.Context, txStore loyalty.Store) error) error {
	return store.db.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		return fn(ctx, &Store{db: transaction})
	})
}

// LoadSettings reads the singleton loyalty settings row.
func (store *Store) LoadSettings(ctx context.Context) (loyalty.Settings, error) {
	var row LoyaltySetting
	err := store.db.WithContext(ctx).Where("id = ?", settingsRowID).Take(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return loyalty.Settings{}, wrapStoreError(errorSubjectSettings, errorCodeLoad, loyalty.ErrSettingsNotFound)
		}
		return loyalty.Settings{}, wrapStoreError(errorSubjectSettings, errorCodeLoad, err)
	}
	return loyalty.Settings{
		PointValue:            row.PointValue,
		PointsPerPound:        row.PointsPerPound,
		MinRedemptionPoints:   loyalty.Points(row.MinRedemptionPoints),
		RedemptionIncrement:   loyalty.Points(row.RedemptionIncrement),
		CurrencyCode:          row.CurrencyCode,
		ReferrerBonusPoints:   loyalty.Points(row.ReferrerBonusPoints),
		ReferredBonusPoints:   loyalty.Points(row.ReferredBonusPoints),
		PointsExpireAfterDays: int(row.PointsExpireAfterDays),
	}, nil
}

// SumLifetimePoints sums a client's transactions, excluding earns that expired
// before the given instant.
func (store *Store) SumLifetimePoints(ctx context.Context, clientID string, atUnixUTC int64) (loyalty.Points, error) {
	at := time.Unix(atUnixUTC, 0).UTC()
	var sum sqlSum
	err := store.db.WithContext(ctx).
		Model(&PointTransaction{}).
		Select("coalesce(sum(points),0) as total").
		Where("client_id = ?", clientID).
		Where("(expires_at is null or expires_at > ?)", at).
		Scan(&sum).Error
	if err != nil {
		return 0, wrapStoreError(errorSubjectBalance, errorCodeSumLifetime, err)
	}
	return loyalty.Points(sum.Total), nil
}

// SumReservedPoints sums the points held by pending redemption requests.
func (store *Store) SumReservedPoints(ctx context.Context, clientID string) (loyalty.Points, error) {
	var sum sqlSum
	err := store.db.WithContext(ctx).
		Model(&RedemptionRequest{}).
		Select("coalesce(sum(points),0) as total").
		Where("client_id = ? AND status = ?", clientID, loyalty.RedemptionStatusPending.String()).
		Scan(&sum).Error
	if err != nil {
		return 0, wrapStoreError(errorSubjectBalance, errorCodeSumReserved, err)
	}
	return loyalty.Points(sum.Total), nil
}

// InsertTransaction appends an immutable point transaction row.
func (store *Store) InsertTransaction(ctx context.Context, transaction loyalty.Transaction) error {
	var expiresAt *time.Time
	if transaction.ExpiresAtUnixUTC != 0 {
		value := time.Unix(transaction.ExpiresAtUnixUTC, 0).UTC()
		expiresAt = &value
	}
	var redemptionID *string
	if transaction.RedemptionID != "" {
		value := transaction.RedemptionID
		redemptionID = &value
	}
	row := PointTransaction{
		TransactionID:  transaction.TransactionID,
		ClientID:       transaction.ClientID,
		Type:           transaction.Type.String(),
		Points:         transaction.Points.Int64(),
		RedemptionID:   redemptionID,
		IdempotencyKey: transaction.IdempotencyKey,
		ExpiresAt:      expiresAt,
		Metadata:       datatypesJSON(transaction.MetadataJSON),
		CreatedAt:      time.Unix(transaction.CreatedUnixUTC, 0).UTC(),
	}
	if row.CreatedAt.IsZero() {
		row.CreatedAt = time.Now().UTC()
	}
	err := store.db.WithContext(ctx).Create(&row).Error
	if isUniqueViolation(err, constraintTransactionIdempotencyKey) {
		return wrapStoreError(errorSubjectTransaction, errorCodeDuplicate, loyalty.ErrDuplicateIdempotencyKey)
	}
	if err != nil {
		return wrapStoreError(errorSubjectTransaction, errorCodeInsert, err)
	}
	return nil
}

// ListTransactions lists a client's transactions before a cutoff time, newest
// first.
func (store *Store) ListTransactions(ctx context.Context, clientID string, beforeUnixUTC int64, limit int) ([]loyalty.Transaction, error) {
	before := time.Unix(beforeUnixUTC, 0).UTC()
	if beforeUnixUTC == 0 {
		before = time.Now().UTC().Add(time.Second)
	}

	var rows []PointTransaction
	err := store.db.WithContext(ctx).
		Where("client_id = ? AND created_at < ?", clientID, before).
		Order("created_at DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectTransaction, errorCodeList, err)
	}

	transactions := make([]loyalty.Transaction, 0, len(rows))
	for _, row := range rows {
		transaction, err := mapPointTransaction(row)
		if err != nil {
			return nil, wrapStoreError(errorSubjectTransaction, errorCodeInvalid, err)
		}
		transactions = append(transactions, transaction)
	}
	return transactions, nil
}

// CreateRedemption stores a new redemption request.
func (store *Store) CreateRedemption(ctx context.Context, redemption loyalty.RedemptionRequest) error {
	row := RedemptionRequest{
		ClientID:       redemption.ClientID,
		RedemptionID:   redemption.RedemptionID,
		Points:         redemption.Points.Int64(),
		DiscountAmount: redemption.DiscountAmount,
		CurrencyCode:   redemption.CurrencyCode,
		Status:         redemption.Status.String(),
	}
	err := store.db.WithContext(ctx).Create(&row).Error
	if isUniqueViolation(err, constraintRedemptionPrimary) {
		return wrapStoreError(errorSubjectRedemption, errorCodeDuplicate, loyalty.ErrRedemptionExists)
	}
	if err != nil {
		return wrapStoreError(errorSubjectRedemption, errorCodeCreate, err)
	}
	return nil
}

// GetRedemption fetches a redemption request, locking the row for update.
func (store *Store) GetRedemption(ctx context.Context, clientID string, redemptionID string) (loyalty.RedemptionRequest, error) {
	var row RedemptionRequest
	err := store.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("client_id = ? AND redemption_id = ?", clientID, redemptionID).
		Take(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return loyalty.RedemptionRequest{}, wrapStoreError(errorSubjectRedemption, errorCodeGet, loyalty.ErrUnknownRedemption)
		}
		return loyalty.RedemptionRequest{}, wrapStoreError(errorSubjectRedemption, errorCodeGet, err)
	}
	status, err := loyalty.ParseRedemptionStatus(row.Status)
	if err != nil {
		return loyalty.RedemptionRequest{}, wrapStoreError(errorSubjectRedemption, errorCodeInvalid, err)
	}
	return loyalty.RedemptionRequest{
		ClientID:       row.ClientID,
		RedemptionID:   row.RedemptionID,
		Points:         loyalty.Points(row.Points),
		DiscountAmount: row.DiscountAmount,
		CurrencyCode:   row.CurrencyCode,
		Status:         status,
	}, nil
}

// UpdateRedemptionStatus transitions a redemption request between statuses.
func (store *Store) UpdateRedemptionStatus(ctx context.Context, clientID string, redemptionID string, from loyalty.RedemptionStatus, to loyalty.RedemptionStatus) error {
	result := store.db.WithContext(ctx).
		Model(&RedemptionRequest{}).
		Where("client_id = ? AND redemption_id = ? AND status = ?", clientID, redemptionID, from.String()).
		Update("status", to.String())
	if result.Error != nil {
		return wrapStoreError(errorSubjectRedemption, errorCodeUpdateStatus, result.Error)
	}
	if result.RowsAffected == 0 {
		return wrapStoreError(errorSubjectRedemption, errorCodeUpdateStatus, loyalty.ErrRedemptionClosed)
	}
	return nil
}

// AvailableDiscount invokes the database-side calculate_available_discount
// function. Only postgres deployments define it; elsewhere the service falls
// back to the local calculator.
func (store *Store) AvailableDiscount(ctx context.Context, clientID string) (loyalty.DiscountSummary, error) {
	if store.db.Dialector.Name() != postgresDialectName {
		return loyalty.DiscountSummary{}, wrapStoreError(errorSubjectBalance, errorCodeUnsupportedRPC, loyalty.ErrDiscountRPCUnavailable)
	}
	var row struct {
		PointsBalance  int64
		UsablePoints   int64
		DiscountAmount float64
	}
	err := store.db.WithContext(ctx).
		Raw("SELECT points_balance, usable_points, discount_amount FROM "+availableDiscountRPCName+"(?)", clientID).
		Scan(&row).Error
	if err != nil {
		return loyalty.DiscountSummary{}, wrapStoreError(errorSubjectBalance, errorCodeRPC, err)
	}
	return loyalty.DiscountSummary{
		PointsBalance:  loyalty.Points(row.PointsBalance),
		UsablePoints:   loyalty.Points(row.UsablePoints),
		DiscountAmount: row.DiscountAmount,
	}, nil
}

// CreateReferral stores a new referral pair.
func (store *Store) CreateReferral(ctx context.Context, referral loyalty.Referral) error {
	row := Referral{
		ReferrerID: referral.ReferrerID,
		ReferredID: referral.ReferredID,
		Status:     referral.Status.String(),
	}
	err := store.db.WithContext(ctx).Create(&row).Error
	if isUniqueViolation(err, constraintReferralPrimary) {
		return wrapStoreError(errorSubjectReferral, errorCodeDuplicate, loyalty.ErrReferralExists)
	}
	if err != nil {
		return wrapStoreError(errorSubjectReferral, errorCodeCreate, err)
	}
	return nil
}

// GetReferral fetches a referral pair.
func (store *Store) GetReferral(ctx context.Context, referrerID string, referredID string) (loyalty.Referral, error) {
	var row Referral
	err := store.db.WithContext(ctx).
		Where("referrer_id = ? AND referred_id = ?", referrerID, referredID).
		Take(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return loyalty.Referral{}, wrapStoreError(errorSubjectReferral, errorCodeGet, loyalty.ErrUnknownReferral)
		}
		return loyalty.Referral{}, wrapStoreError(errorSubjectReferral, errorCodeGet, err)
	}
	return loyalty.Referral{
		ReferrerID: row.ReferrerID,
		ReferredID: row.ReferredID,
		Status:     loyalty.ReferralStatus(row.Status),
	}, nil
}

// UpdateReferralStatus transitions a referral between statuses.
func (store *Store) UpdateReferralStatus(ctx context.Context, referrerID string, referredID string, from loyalty.ReferralStatus, to loyalty.ReferralStatus) error {
	result := store.db.WithContext(ctx).
		Model(&Referral{}).
		Where("referrer_id = ? AND referred_id = ? AND status = ?", referrerID, referredID, from.String()).
		Update("status", to.String())
	if result.Error != nil {
		return wrapStoreError(errorSubjectReferral, errorCodeUpdateStatus, result.Error)
	}
	if result.RowsAffected == 0 {
		return wrapStoreError(errorSubjectReferral, errorCodeUpdateStatus, loyalty.ErrUnknownReferral)
	}
	return nil
}

// GetClient fetches a client profile.
func (store *Store) GetClient(ctx context.Context, clientID string) (Client, error) {
	var row Client
	err := store.db.WithContext(ctx).Where("client_id = ?", clientID).Take(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Client{}, wrapStoreError(errorSubjectClient, errorCodeGet, ErrClientNotFound)
		}
		return Client{}, wrapStoreError(errorSubjectClient, errorCodeGet, err)
	}
	return row, nil
}

// UpdateClientProfile updates the customer-editable profile fields.
func (store *Store) UpdateClientProfile(ctx context.Context, clientID string, displayName string, homeCurrency string) error {
	result := store.db.WithContext(ctx).
		Model(&Client{}).
		Where("client_id = ?", clientID).
		Updates(map[string]interface{}{
			"display_name":  displayName,
			"home_currency": homeCurrency,
		})
	if result.Error != nil {
		return wrapStoreError(errorSubjectClient, errorCodeUpdate, result.Error)
	}
	if result.RowsAffected == 0 {
		return wrapStoreError(errorSubjectClient, errorCodeUpdate, ErrClientNotFound)
	}
	return nil
}

// ListBookings lists a client's bookings, soonest departure first.
func (store *Store) ListBookings(ctx context.Context, clientID string) ([]Booking, error) {
	var rows []Booking
	err := store.db.WithContext(ctx).
		Where("client_id = ?", clientID).
		Order("event_start ASC").
		Find(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectBooking, errorCodeList, err)
	}
	return rows, nil
}

// GetBooking fetches one of a client's bookings.
func (store *Store) GetBooking(ctx context.Context, clientID string, bookingID string) (Booking, error) {
	var row Booking
	err := store.db.WithContext(ctx).
		Where("client_id = ? AND booking_id = ?", clientID, bookingID).
		Take(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Booking{}, wrapStoreError(errorSubjectBooking, errorCodeGet, ErrBookingNotFound)
		}
		return Booking{}, wrapStoreError(errorSubjectBooking, errorCodeGet, err)
	}
	return row, nil
}

// ListTravelers lists the travelers attached to a booking.
func (store *Store) ListTravelers(ctx context.Context, bookingID string) ([]Traveler, error) {
	var rows []Traveler
	err := store.db.WithContext(ctx).
		Where("booking_id = ?", bookingID).
		Order("created_at ASC").
		Find(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectTraveler, errorCodeList, err)
	}
	return rows, nil
}

// SaveTraveler creates or updates a traveler row. Updates only apply when the
// traveler already belongs to the booking being edited: a traveler id attached
// to any other booking reports ErrTravelerNotFound and the other row is left
// untouched. Edit-lock enforcement happens in the portal handler before this
// is reached.
func (store *Store) SaveTraveler(ctx context.Context, traveler Traveler) error {
	return store.db.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		if traveler.TravelerID == "" {
			if err := transaction.Create(&traveler).Error; err != nil {
				return wrapStoreError(errorSubjectTraveler, errorCodeSave, err)
			}
			return nil
		}
		var existing Traveler
		err := transaction.
			Where("traveler_id = ?", traveler.TravelerID).
			Take(&existing).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			if err := transaction.Create(&traveler).Error; err != nil {
				return wrapStoreError(errorSubjectTraveler, errorCodeSave, err)
			}
			return nil
		}
		if err != nil {
			return wrapStoreError(errorSubjectTraveler, errorCodeGet, err)
		}
		if existing.BookingID != traveler.BookingID {
			return wrapStoreError(errorSubjectTraveler, errorCodeGet, ErrTravelerNotFound)
		}
		result := transaction.
			Model(&Traveler{}).
			Where("traveler_id = ? AND booking_id = ?", traveler.TravelerID, traveler.BookingID).
			Updates(map[string]interface{}{
				"full_name":       traveler.FullName,
				"date_of_birth":   traveler.DateOfBirth,
				"document_number": traveler.DocumentNumber,
				"flight_number":   traveler.FlightNumber,
			})
		if result.Error != nil {
			return wrapStoreError(errorSubjectTraveler, errorCodeSave, result.Error)
		}
		return nil
	})
}

func wrapStoreError(subject string, code string, err error) error {
	return loyalty.WrapError(errorOperationStore, subject, code, err)
}

type sqlSum struct {
	Total int64
}

func mapPointTransaction(row PointTransaction) (loyalty.Transaction, error) {
	transactionType, err := loyalty.ParseTransactionType(row.Type)
	if err != nil {
		return loyalty.Transaction{}, err
	}
	var redemptionID string
	if row.RedemptionID != nil {
		redemptionID = *row.RedemptionID
	}
	return loyalty.Transaction{
		TransactionID:    row.TransactionID,
		ClientID:         row.ClientID,
		Type:             transactionType,
		Points:           loyalty.Points(row.Points),
		RedemptionID:     redemptionID,
		IdempotencyKey:   row.IdempotencyKey,
		ExpiresAtUnixUTC: timeOrZero(row.ExpiresAt),
		MetadataJSON:     string(row.Metadata),
		CreatedUnixUTC:   row.CreatedAt.Unix(),
	}, nil
}

func timeOrZero(value *time.Time) int64 {
	if value == nil {
		return 0
	}
	return value.Unix()
}

func datatypesJSON(raw string) datatypes.JSON {
	if raw == "" {
		return datatypes.JSON([]byte(defaultMetadataJSON))
	}
	return datatypes.JSON([]byte(raw))
}

func isUniqueViolation(err error, constraintName string) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolationCode && pgErr.ConstraintName == constraintName
	}
	var sqliteErr *gosqlite.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code()&0xFF == sqliteConstraintCode
	}
	return false
}
