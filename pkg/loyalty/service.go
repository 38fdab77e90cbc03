package loyalty

import (
	"context"
	"errors"
	"fmt"
	"math"
)

// Service contains the loyalty domain logic over a Store.
type Service struct {
	store  Store
	nowFn  func() int64
	logger OperationLogger
}

// NewService wires a Service.
func NewService(store Store, now func() int64, options ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store dependency is nil", ErrInvalidServiceConfig)
	}
	if now == nil {
		return nil, fmt.Errorf("%w: clock dependency is nil", ErrInvalidServiceConfig)
	}
	service := &Service{store: store, nowFn: now}
	for _, option := range options {
		if option != nil {
			option(service)
		}
	}
	return service, nil
}

// Settings loads the loyalty configuration, applying documented fallbacks when
// the row is absent and rejecting rows that violate the settings invariants.
// Only a missing row falls back to defaults; other store failures surface so a
// transient outage cannot validate redemptions against default policy.
func (service *Service) Settings(ctx context.Context) (Settings, error) {
	settings, err := service.store.LoadSettings(ctx)
	if err != nil {
		if !errors.Is(err, ErrSettingsNotFound) {
			return Settings{}, err
		}
		service.logOperation(ctx, OperationLog{
			Operation: operationSettings,
			Status:    operationStatusFallback,
			Error:     err,
		})
		return DefaultSettings(), nil
	}
	settings = settings.ApplyDefaults()
	if err := settings.Validate(); err != nil {
		return Settings{}, err
	}
	return settings, nil
}

// Balance returns lifetime, reserved, and available points. Reserved points are
// the sum of pending redemption requests; available is never negative.
func (service *Service) Balance(ctx context.Context, clientID ClientID) (Balance, error) {
	nowUnixUTC := service.nowFn()
	lifetime, err := service.store.SumLifetimePoints(ctx, clientID.String(), nowUnixUTC)
	if err != nil {
		return Balance{}, err
	}
	reserved, err := service.store.SumReservedPoints(ctx, clientID.String())
	if err != nil {
		return Balance{}, err
	}
	available := lifetime - reserved
	if available < 0 {
		available = 0
	}
	return Balance{
		LifetimePoints:  lifetime,
		ReservedPoints:  reserved,
		AvailablePoints: available,
	}, nil
}

// Quote computes the redeem-now view for a client. The store-side
// calculate_available_discount function is authoritative when it answers;
// on error the quote degrades to the local calculator over Balance.
func (service *Service) Quote(ctx context.Context, clientID ClientID) (RedemptionQuote, error) {
	settings, err := service.Settings(ctx)
	if err != nil {
		return RedemptionQuote{}, err
	}
	summary, rpcErr := service.store.AvailableDiscount(ctx, clientID.String())
	if rpcErr == nil {
		return RedemptionQuote{
			AvailablePoints: summary.PointsBalance,
			UsablePoints:    summary.UsablePoints,
			DiscountAmount:  summary.DiscountAmount,
			CurrencyCode:    settings.CurrencyCode,
			MeetsMinimum:    summary.UsablePoints >= settings.MinRedemptionPoints && summary.UsablePoints > 0,
		}, nil
	}
	service.logOperation(ctx, OperationLog{
		Operation: operationQuote,
		ClientID:  clientID,
		Status:    operationStatusFallback,
		Error:     rpcErr,
	})
	balance, err := service.Balance(ctx, clientID)
	if err != nil {
		return RedemptionQuote{}, err
	}
	quote := ComputeRedemption(balance.AvailablePoints, settings.PointValue, settings.MinRedemptionPoints, settings.RedemptionIncrement)
	quote.CurrencyCode = settings.CurrencyCode
	return quote, nil
}

// Milestone reports the client's progress toward the next redeemable step.
func (service *Service) Milestone(ctx context.Context, clientID ClientID) (Milestone, error) {
	settings, err := service.Settings(ctx)
	if err != nil {
		return Milestone{}, err
	}
	balance, err := service.Balance(ctx, clientID)
	if err != nil {
		return Milestone{}, err
	}
	return ComputeMilestone(balance.AvailablePoints, settings.RedemptionIncrement, settings.MinRedemptionPoints), nil
}

// Redeem opens a pending redemption request, reserving the points. The points
// must be a multiple of the redemption increment, at least the configured
// minimum, and within the available balance.
func (service *Service) Redeem(ctx context.Context, clientID ClientID, points Points, redemptionID RedemptionID, idempotencyKey IdempotencyKey, metadata MetadataJSON) error {
	operationError := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		settings, err := service.Settings(ctx)
		if err != nil {
			return err
		}
		if points <= 0 {
			return fmt.Errorf("%w: must be greater than zero", ErrInvalidPoints)
		}
		if points%settings.RedemptionIncrement != 0 {
			return ErrNotRedemptionIncrement
		}
		if points < settings.MinRedemptionPoints {
			return ErrBelowMinimumRedemption
		}
		nowUnixUTC := service.nowFn()
		lifetime, err := transactionStore.SumLifetimePoints(ctx, clientID.String(), nowUnixUTC)
		if err != nil {
			return err
		}
		reserved, err := transactionStore.SumReservedPoints(ctx, clientID.String())
		if err != nil {
			return err
		}
		if lifetime-reserved < points {
			return ErrInsufficientPoints
		}
		return transactionStore.CreateRedemption(ctx, RedemptionRequest{
			ClientID:       clientID.String(),
			RedemptionID:   redemptionID.String(),
			Points:         points,
			DiscountAmount: float64(points) * settings.PointValue,
			CurrencyCode:   settings.CurrencyCode,
			Status:         RedemptionStatusPending,
		})
	})
	redemptionRef := redemptionID
	service.logOperation(ctx, OperationLog{
		Operation:      operationRedeem,
		ClientID:       clientID,
		RedemptionID:   &redemptionRef,
		Points:         points,
		IdempotencyKey: idempotencyKey,
		Metadata:       metadata,
		Error:          operationError,
	})
	return operationError
}

// ApplyRedemption finalizes a pending request once its discount has been
// applied to a booking, writing the negative redeem transaction.
func (service *Service) ApplyRedemption(ctx context.Context, clientID ClientID, redemptionID RedemptionID, idempotencyKey IdempotencyKey, metadata MetadataJSON) error {
	var redeemedPoints Points
	operationError := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		redemption, err := transactionStore.GetRedemption(ctx, clientID.String(), redemptionID.String())
		if err != nil {
			return err
		}
		if redemption.Status != RedemptionStatusPending {
			return ErrRedemptionClosed
		}
		redeemedPoints = redemption.Points
		if err := transactionStore.UpdateRedemptionStatus(ctx, clientID.String(), redemptionID.String(), RedemptionStatusPending, RedemptionStatusApplied); err != nil {
			return err
		}
		spendKey, err := deriveIdempotencyKey(idempotencyKey, idempotencySuffixSpend)
		if err != nil {
			return err
		}
		return transactionStore.InsertTransaction(ctx, Transaction{
			ClientID:       clientID.String(),
			Type:           TransactionRedeem,
			Points:         -redemption.Points,
			RedemptionID:   redemptionID.String(),
			IdempotencyKey: spendKey.String(),
			MetadataJSON:   metadata.String(),
			CreatedUnixUTC: service.nowFn(),
		})
	})
	redemptionRef := redemptionID
	service.logOperation(ctx, OperationLog{
		Operation:      operationRedeem,
		ClientID:       clientID,
		RedemptionID:   &redemptionRef,
		Points:         redeemedPoints,
		IdempotencyKey: idempotencyKey,
		Metadata:       metadata,
		Error:          operationError,
	})
	return operationError
}

// CancelRedemption releases a pending request, returning its points to the
// available balance. Applied and cancelled requests cannot be released again.
func (service *Service) CancelRedemption(ctx context.Context, clientID ClientID, redemptionID RedemptionID, idempotencyKey IdempotencyKey, metadata MetadataJSON) error {
	var releasedPoints Points
	operationError := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		redemption, err := transactionStore.GetRedemption(ctx, clientID.String(), redemptionID.String())
		if err != nil {
			return err
		}
		if redemption.Status != RedemptionStatusPending {
			return ErrRedemptionClosed
		}
		releasedPoints = redemption.Points
		return transactionStore.UpdateRedemptionStatus(ctx, clientID.String(), redemptionID.String(), RedemptionStatusPending, RedemptionStatusCancelled)
	})
	redemptionRef := redemptionID
	service.logOperation(ctx, OperationLog{
		Operation:      operationCancelRedeem,
		ClientID:       clientID,
		RedemptionID:   &redemptionRef,
		Points:         releasedPoints,
		IdempotencyKey: idempotencyKey,
		Metadata:       metadata,
		Error:          operationError,
	})
	return operationError
}

// AwardBookingPoints accrues points for a paid booking at the configured
// points-per-pound rate, flooring fractional results. Earned points expire
// when the settings configure an expiry horizon. Returns the points awarded.
func (service *Service) AwardBookingPoints(ctx context.Context, clientID ClientID, spendAmount float64, idempotencyKey IdempotencyKey, metadata MetadataJSON) (Points, error) {
	settings, err := service.Settings(ctx)
	if err != nil {
		return 0, err
	}
	earned := Points(math.Floor(spendAmount * settings.PointsPerPound))
	if earned <= 0 {
		return 0, nil
	}
	nowUnixUTC := service.nowFn()
	var expiresAtUnixUTC int64
	if settings.PointsExpireAfterDays > 0 {
		expiresAtUnixUTC = nowUnixUTC + int64(settings.PointsExpireAfterDays)*secondsPerDay
	}
	operationError := service.store.InsertTransaction(ctx, Transaction{
		ClientID:         clientID.String(),
		Type:             TransactionEarn,
		Points:           earned,
		IdempotencyKey:   idempotencyKey.String(),
		ExpiresAtUnixUTC: expiresAtUnixUTC,
		MetadataJSON:     metadata.String(),
		CreatedUnixUTC:   nowUnixUTC,
	})
	service.logOperation(ctx, OperationLog{
		Operation:      operationAward,
		ClientID:       clientID,
		Points:         earned,
		IdempotencyKey: idempotencyKey,
		Metadata:       metadata,
		Error:          operationError,
	})
	if operationError != nil {
		return 0, operationError
	}
	return earned, nil
}

// History lists point transactions for a client before a cutoff time.
func (service *Service) History(ctx context.Context, clientID ClientID, beforeUnixUTC int64, limit int) ([]Transaction, error) {
	return service.store.ListTransactions(ctx, clientID.String(), beforeUnixUTC, limit)
}

// CreateReferral records a pending referral between two customers.
func (service *Service) CreateReferral(ctx context.Context, referrerID ClientID, referredID ClientID) error {
	return service.store.CreateReferral(ctx, Referral{
		ReferrerID: referrerID.String(),
		ReferredID: referredID.String(),
		Status:     ReferralStatusPending,
	})
}

// CompleteReferral marks a referral completed and grants the configured bonus
// points to both parties with distinct idempotency keys.
func (service *Service) CompleteReferral(ctx context.Context, referrerID ClientID, referredID ClientID, idempotencyKey IdempotencyKey, metadata MetadataJSON) error {
	operationError := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		settings, err := service.Settings(ctx)
		if err != nil {
			return err
		}
		referral, err := transactionStore.GetReferral(ctx, referrerID.String(), referredID.String())
		if err != nil {
			return err
		}
		if referral.Status != ReferralStatusPending {
			return ErrReferralClosed
		}
		if err := transactionStore.UpdateReferralStatus(ctx, referrerID.String(), referredID.String(), ReferralStatusPending, ReferralStatusCompleted); err != nil {
			return err
		}
		nowUnixUTC := service.nowFn()
		if settings.ReferrerBonusPoints > 0 {
			referrerKey, err := deriveIdempotencyKey(idempotencyKey, idempotencySuffixReferrer)
			if err != nil {
				return err
			}
			bonus := Transaction{
				ClientID:       referrerID.String(),
				Type:           TransactionBonus,
				Points:         settings.ReferrerBonusPoints,
				IdempotencyKey: referrerKey.String(),
				MetadataJSON:   metadata.String(),
				CreatedUnixUTC: nowUnixUTC,
			}
			if err := transactionStore.InsertTransaction(ctx, bonus); err != nil {
				return err
			}
		}
		if settings.ReferredBonusPoints > 0 {
			referredKey, err := deriveIdempotencyKey(idempotencyKey, idempotencySuffixReferred)
			if err != nil {
				return err
			}
			bonus := Transaction{
				ClientID:       referredID.String(),
				Type:           TransactionBonus,
				Points:         settings.ReferredBonusPoints,
				IdempotencyKey: referredKey.String(),
				MetadataJSON:   metadata.String(),
				CreatedUnixUTC: nowUnixUTC,
			}
			if err := transactionStore.InsertTransaction(ctx, bonus); err != nil {
				return err
			}
		}
		return nil
	})
	service.logOperation(ctx, OperationLog{
		Operation:      operationReferralBonus,
		ClientID:       referrerID,
		IdempotencyKey: idempotencyKey,
		Metadata:       metadata,
		Error:          operationError,
	})
	return operationError
}

func (service *Service) logOperation(ctx context.Context, entry OperationLog) {
	if service.logger == nil {
		return
	}
	if entry.Status == "" {
		if entry.Error != nil {
			entry.Status = operationStatusError
		} else {
			entry.Status = operationStatusOK
		}
	}
	service.logger.LogOperation(ctx, entry)
}

func deriveIdempotencyKey(baseKey IdempotencyKey, suffix string) (IdempotencyKey, error) {
	combined := baseKey.String() + idempotencyKeyDelimiter + suffix
	return NewIdempotencyKey(combined)
}

const secondsPerDay = 24 * 60 * 60
