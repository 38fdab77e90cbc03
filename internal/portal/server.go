package portal

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/MarkoPoloResearchLab/loyalty/internal/store/gormstore"
	"github.com/MarkoPoloResearchLab/loyalty/pkg/loyalty"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// LoyaltyService is the slice of the domain service the portal consumes.
type LoyaltyService interface {
	Settings(ctx context.Context) (loyalty.Settings, error)
	Balance(ctx context.Context, clientID loyalty.ClientID) (loyalty.Balance, error)
	Quote(ctx context.Context, clientID loyalty.ClientID) (loyalty.RedemptionQuote, error)
	Milestone(ctx context.Context, clientID loyalty.ClientID) (loyalty.Milestone, error)
	History(ctx context.Context, clientID loyalty.ClientID, beforeUnixUTC int64, limit int) ([]loyalty.Transaction, error)
	Redeem(ctx context.Context, clientID loyalty.ClientID, points loyalty.Points, redemptionID loyalty.RedemptionID, idempotencyKey loyalty.IdempotencyKey, metadata loyalty.MetadataJSON) error
	ApplyRedemption(ctx context.Context, clientID loyalty.ClientID, redemptionID loyalty.RedemptionID, idempotencyKey loyalty.IdempotencyKey, metadata loyalty.MetadataJSON) error
	CancelRedemption(ctx context.Context, clientID loyalty.ClientID, redemptionID loyalty.RedemptionID, idempotencyKey loyalty.IdempotencyKey, metadata loyalty.MetadataJSON) error
	AwardBookingPoints(ctx context.Context, clientID loyalty.ClientID, spendAmount float64, idempotencyKey loyalty.IdempotencyKey, metadata loyalty.MetadataJSON) (loyalty.Points, error)
	CreateReferral(ctx context.Context, referrerID loyalty.ClientID, referredID loyalty.ClientID) error
	CompleteReferral(ctx context.Context, referrerID loyalty.ClientID, referredID loyalty.ClientID, idempotencyKey loyalty.IdempotencyKey, metadata loyalty.MetadataJSON) error
}

// TripStore is the slice of the store serving trip and profile pages.
type TripStore interface {
	GetClient(ctx context.Context, clientID string) (gormstore.Client, error)
	UpdateClientProfile(ctx context.Context, clientID string, displayName string, homeCurrency string) error
	ListBookings(ctx context.Context, clientID string) ([]gormstore.Booking, error)
	GetBooking(ctx context.Context, clientID string, bookingID string) (gormstore.Booking, error)
	ListTravelers(ctx context.Context, bookingID string) ([]gormstore.Traveler, error)
	SaveTraveler(ctx context.Context, traveler gormstore.Traveler) error
}

// RateConverter converts displayed amounts into the customer's home currency.
type RateConverter interface {
	Convert(ctx context.Context, amount float64, fromCurrency string, toCurrency string) (loyalty.ConversionResult, error)
}

// Dependencies wires the portal's collaborators.
type Dependencies struct {
	Logger    *zap.Logger
	Service   LoyaltyService
	Trips     TripStore
	Converter RateConverter
	NowFn     func() time.Time
}

// Run boots the portal HTTP server using the supplied configuration.
func Run(ctx context.Context, cfg Config, deps Dependencies) error {
	if deps.Logger == nil {
		logger, err := zap.NewProduction()
		if err != nil {
			return err
		}
		defer func() { _ = logger.Sync() }()
		deps.Logger = logger
	}
	if deps.NowFn == nil {
		deps.NowFn = func() time.Time { return time.Now().UTC() }
	}

	handler := &httpHandler{
		logger:    deps.Logger,
		service:   deps.Service,
		trips:     deps.Trips,
		converter: deps.Converter,
		nowFn:     deps.NowFn,
		cfg:       cfg,
	}
	router := setupRouter(cfg, handler, newSessionValidator(cfg))

	server := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: router,
	}

	errCh := make(chan error, 1)
	go func() {
		deps.Logger.Info("portal listening", zap.String("addr", cfg.ListenAddr))
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if shutdownErr := server.Shutdown(shutdownCtx); shutdownErr != nil {
			deps.Logger.Warn("server shutdown error", zap.Error(shutdownErr))
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func setupRouter(cfg Config, handler *httpHandler, validator *sessionValidator) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type", "Origin", "Accept", "Authorization"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	router.GET("/healthz", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := router.Group("/api")
	api.Use(validator.Middleware())

	api.GET("/session", handler.handleSession)
	api.GET("/points", handler.handlePoints)
	api.GET("/points/history", handler.handleHistory)
	api.POST("/redemptions", handler.handleRedeem)
	api.POST("/redemptions/:redemptionID/cancel", handler.handleCancelRedemption)
	api.GET("/trips", handler.handleTrips)
	api.GET("/trips/:bookingID", handler.handleTrip)
	api.PUT("/trips/:bookingID/travelers", handler.handleSaveTraveler)
	api.GET("/profile", handler.handleProfile)
	api.PUT("/profile", handler.handleUpdateProfile)
	api.POST("/referrals", handler.handleCreateReferral)
	api.GET("/convert", handler.handleConvert)

	internal := router.Group("/internal")
	internal.Use(handler.internalKeyMiddleware())
	internal.POST("/bookings/points", handler.handleAwardPoints)
	internal.POST("/redemptions/apply", handler.handleApplyRedemption)
	internal.POST("/referrals/complete", handler.handleCompleteReferral)

	return router
}

type httpHandler struct {
	logger    *zap.Logger
	service   LoyaltyService
	trips     TripStore
	converter RateConverter
	nowFn     func() time.Time
	cfg       Config
}

func (handler *httpHandler) internalKeyMiddleware() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		if ctx.GetHeader("X-Internal-Key") != handler.cfg.InternalAPIKey {
			ctx.AbortWithStatusJSON(http.StatusUnauthorized, errorResponse("unauthorized", "missing internal key"))
			return
		}
		ctx.Next()
	}
}

func (handler *httpHandler) handleSession(ctx *gin.Context) {
	claims := getClaims(ctx)
	if claims == nil {
		ctx.JSON(http.StatusUnauthorized, errorResponse("unauthorized", "missing session"))
		return
	}
	ctx.JSON(http.StatusOK, gin.H{
		"client_id": claims.ClientID(),
		"email":     claims.Email,
		"display":   claims.DisplayName,
	})
}

// handlePoints serves the points-overview page: balance, redeem-now quote,
// milestone progress, and display formatting in the customer's home currency.
func (handler *httpHandler) handlePoints(ctx *gin.Context) {
	claims := getClaims(ctx)
	if claims == nil {
		ctx.JSON(http.StatusUnauthorized, errorResponse("unauthorized", "missing session"))
		return
	}
	clientID, err := loyalty.NewClientID(claims.ClientID())
	if err != nil {
		ctx.JSON(http.StatusUnauthorized, errorResponse("unauthorized", "invalid session subject"))
		return
	}
	requestCtx, cancel := context.WithTimeout(ctx.Request.Context(), handler.cfg.RequestTimeout)
	defer cancel()

	quote, err := handler.service.Quote(requestCtx, clientID)
	if err != nil {
		handler.logger.Error("quote failed", zap.Error(err))
		ctx.JSON(http.StatusBadGateway, errorResponse("loyalty_error", "quote unavailable"))
		return
	}
	balance, err := handler.service.Balance(requestCtx, clientID)
	if err != nil {
		handler.logger.Error("balance failed", zap.Error(err))
		ctx.JSON(http.StatusBadGateway, errorResponse("loyalty_error", "balance unavailable"))
		return
	}
	milestone, err := handler.service.Milestone(requestCtx, clientID)
	if err != nil {
		handler.logger.Error("milestone failed", zap.Error(err))
		ctx.JSON(http.StatusBadGateway, errorResponse("loyalty_error", "milestone unavailable"))
		return
	}

	discount := handler.displayAmount(ctx.Request.Context(), clientID.String(), quote.DiscountAmount, quote.CurrencyCode)

	ctx.JSON(http.StatusOK, gin.H{
		"balance": balancePayload{
			LifetimePoints:  balance.LifetimePoints.Int64(),
			ReservedPoints:  balance.ReservedPoints.Int64(),
			AvailablePoints: balance.AvailablePoints.Int64(),
		},
		"quote": quotePayload{
			UsablePoints:      quote.UsablePoints.Int64(),
			DiscountAmount:    discount.Amount,
			DiscountFormatted: discount.Formatted,
			CurrencyCode:      discount.CurrencyCode,
			MeetsMinimum:      quote.MeetsMinimum,
			Degraded:          discount.Degraded,
		},
		"milestone": milestonePayload{
			NextMilestone:      milestone.NextMilestone.Int64(),
			PointsToNext:       milestone.PointsToNext.Int64(),
			ProgressPercentage: milestone.ProgressPercentage,
		},
	})
}

func (handler *httpHandler) handleHistory(ctx *gin.Context) {
	claims := getClaims(ctx)
	if claims == nil {
		ctx.JSON(http.StatusUnauthorized, errorResponse("unauthorized", "missing session"))
		return
	}
	clientID, err := loyalty.NewClientID(claims.ClientID())
	if err != nil {
		ctx.JSON(http.StatusUnauthorized, errorResponse("unauthorized", "invalid session subject"))
		return
	}
	requestCtx, cancel := context.WithTimeout(ctx.Request.Context(), handler.cfg.RequestTimeout)
	defer cancel()

	before := handler.nowFn().Add(time.Second).Unix()
	transactions, err := handler.service.History(requestCtx, clientID, before, handler.cfg.HistoryLimit)
	if err != nil {
		handler.logger.Error("history failed", zap.Error(err))
		ctx.JSON(http.StatusBadGateway, errorResponse("loyalty_error", "history unavailable"))
		return
	}
	entries := make([]transactionPayload, 0, len(transactions))
	for _, transaction := range transactions {
		entries = append(entries, transactionPayload{
			TransactionID:  transaction.TransactionID,
			Type:           transaction.Type.String(),
			Points:         transaction.Points.Int64(),
			RedemptionID:   transaction.RedemptionID,
			CreatedUnixUTC: transaction.CreatedUnixUTC,
		})
	}
	ctx.JSON(http.StatusOK, gin.H{"transactions": entries})
}

func (handler *httpHandler) handleRedeem(ctx *gin.Context) {
	claims := getClaims(ctx)
	if claims == nil {
		ctx.JSON(http.StatusUnauthorized, errorResponse("unauthorized", "missing session"))
		return
	}
	clientID, err := loyalty.NewClientID(claims.ClientID())
	if err != nil {
		ctx.JSON(http.StatusUnauthorized, errorResponse("unauthorized", "invalid session subject"))
		return
	}
	var request redeemRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body"))
		return
	}
	points, err := loyalty.NewPoints(request.Points)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_points", "points must be greater than zero"))
		return
	}

	redemptionID, err := loyalty.NewRedemptionID(uuid.NewString())
	if err != nil {
		ctx.JSON(http.StatusInternalServerError, errorResponse("internal", "redemption id"))
		return
	}
	idempotencyKey, err := loyalty.NewIdempotencyKey("redeem:" + redemptionID.String())
	if err != nil {
		ctx.JSON(http.StatusInternalServerError, errorResponse("internal", "idempotency key"))
		return
	}
	metadata, _ := loyalty.NewMetadataJSON(`{"action":"redeem"}`)

	requestCtx, cancel := context.WithTimeout(ctx.Request.Context(), handler.cfg.RequestTimeout)
	defer cancel()

	if err := handler.service.Redeem(requestCtx, clientID, points, redemptionID, idempotencyKey, metadata); err != nil {
		handler.respondDomainError(ctx, "redeem failed", err)
		return
	}
	ctx.JSON(http.StatusCreated, gin.H{"redemption_id": redemptionID.String()})
}

func (handler *httpHandler) handleCancelRedemption(ctx *gin.Context) {
	claims := getClaims(ctx)
	if claims == nil {
		ctx.JSON(http.StatusUnauthorized, errorResponse("unauthorized", "missing session"))
		return
	}
	clientID, err := loyalty.NewClientID(claims.ClientID())
	if err != nil {
		ctx.JSON(http.StatusUnauthorized, errorResponse("unauthorized", "invalid session subject"))
		return
	}
	redemptionID, err := loyalty.NewRedemptionID(ctx.Param("redemptionID"))
	if err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_redemption", "redemption id required"))
		return
	}
	idempotencyKey, err := loyalty.NewIdempotencyKey("cancel:" + redemptionID.String())
	if err != nil {
		ctx.JSON(http.StatusInternalServerError, errorResponse("internal", "idempotency key"))
		return
	}
	metadata, _ := loyalty.NewMetadataJSON(`{"action":"cancel_redemption"}`)

	requestCtx, cancel := context.WithTimeout(ctx.Request.Context(), handler.cfg.RequestTimeout)
	defer cancel()

	if err := handler.service.CancelRedemption(requestCtx, clientID, redemptionID, idempotencyKey, metadata); err != nil {
		handler.respondDomainError(ctx, "cancel redemption failed", err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"status": "cancelled"})
}

func (handler *httpHandler) handleTrips(ctx *gin.Context) {
	claims := getClaims(ctx)
	if claims == nil {
		ctx.JSON(http.StatusUnauthorized, errorResponse("unauthorized", "missing session"))
		return
	}
	requestCtx, cancel := context.WithTimeout(ctx.Request.Context(), handler.cfg.RequestTimeout)
	defer cancel()

	bookings, err := handler.trips.ListBookings(requestCtx, claims.ClientID())
	if err != nil {
		handler.logger.Error("bookings list failed", zap.Error(err))
		ctx.JSON(http.StatusBadGateway, errorResponse("store_error", "bookings unavailable"))
		return
	}
	now := handler.nowFn()
	payload := make([]tripPayload, 0, len(bookings))
	for _, booking := range bookings {
		payload = append(payload, handler.tripPayloadFor(booking, now))
	}
	ctx.JSON(http.StatusOK, gin.H{"trips": payload})
}

func (handler *httpHandler) handleTrip(ctx *gin.Context) {
	claims := getClaims(ctx)
	if claims == nil {
		ctx.JSON(http.StatusUnauthorized, errorResponse("unauthorized", "missing session"))
		return
	}
	requestCtx, cancel := context.WithTimeout(ctx.Request.Context(), handler.cfg.RequestTimeout)
	defer cancel()

	booking, err := handler.trips.GetBooking(requestCtx, claims.ClientID(), ctx.Param("bookingID"))
	if err != nil {
		if errors.Is(err, gormstore.ErrBookingNotFound) {
			ctx.JSON(http.StatusNotFound, errorResponse("not_found", "unknown booking"))
			return
		}
		handler.logger.Error("booking fetch failed", zap.Error(err))
		ctx.JSON(http.StatusBadGateway, errorResponse("store_error", "booking unavailable"))
		return
	}
	travelers, err := handler.trips.ListTravelers(requestCtx, booking.BookingID)
	if err != nil {
		handler.logger.Error("travelers list failed", zap.Error(err))
		ctx.JSON(http.StatusBadGateway, errorResponse("store_error", "travelers unavailable"))
		return
	}

	trip := handler.tripPayloadFor(booking, handler.nowFn())
	travelerPayloads := make([]travelerPayload, 0, len(travelers))
	for _, traveler := range travelers {
		travelerPayloads = append(travelerPayloads, travelerPayload{
			TravelerID:     traveler.TravelerID,
			FullName:       traveler.FullName,
			DocumentNumber: traveler.DocumentNumber,
			FlightNumber:   traveler.FlightNumber,
		})
	}
	ctx.JSON(http.StatusOK, gin.H{
		"trip":      trip,
		"travelers": travelerPayloads,
	})
}

func (handler *httpHandler) handleSaveTraveler(ctx *gin.Context) {
	claims := getClaims(ctx)
	if claims == nil {
		ctx.JSON(http.StatusUnauthorized, errorResponse("unauthorized", "missing session"))
		return
	}
	var request travelerRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body"))
		return
	}
	if request.FullName == "" {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_traveler", "full name is required"))
		return
	}
	requestCtx, cancel := context.WithTimeout(ctx.Request.Context(), handler.cfg.RequestTimeout)
	defer cancel()

	booking, err := handler.trips.GetBooking(requestCtx, claims.ClientID(), ctx.Param("bookingID"))
	if err != nil {
		if errors.Is(err, gormstore.ErrBookingNotFound) {
			ctx.JSON(http.StatusNotFound, errorResponse("not_found", "unknown booking"))
			return
		}
		handler.logger.Error("booking fetch failed", zap.Error(err))
		ctx.JSON(http.StatusBadGateway, errorResponse("store_error", "booking unavailable"))
		return
	}

	window := loyalty.ComputeEditLock(booking.EventStart, booking.EventEnd, booking.BookedAt, loyalty.ParseBookingStatus(booking.Status), handler.nowFn())
	if window.IsLocked {
		ctx.JSON(http.StatusLocked, errorResponse("edit_locked", "traveler details are locked for this trip"))
		return
	}

	traveler := gormstore.Traveler{
		TravelerID:     request.TravelerID,
		BookingID:      booking.BookingID,
		FullName:       request.FullName,
		DocumentNumber: request.DocumentNumber,
		FlightNumber:   request.FlightNumber,
	}
	if err := handler.trips.SaveTraveler(requestCtx, traveler); err != nil {
		if errors.Is(err, gormstore.ErrTravelerNotFound) {
			ctx.JSON(http.StatusNotFound, errorResponse("not_found", "unknown traveler for this trip"))
			return
		}
		handler.logger.Error("traveler save failed", zap.Error(err))
		ctx.JSON(http.StatusBadGateway, errorResponse("store_error", "traveler save failed"))
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"status": "saved"})
}

func (handler *httpHandler) handleProfile(ctx *gin.Context) {
	claims := getClaims(ctx)
	if claims == nil {
		ctx.JSON(http.StatusUnauthorized, errorResponse("unauthorized", "missing session"))
		return
	}
	requestCtx, cancel := context.WithTimeout(ctx.Request.Context(), handler.cfg.RequestTimeout)
	defer cancel()

	client, err := handler.trips.GetClient(requestCtx, claims.ClientID())
	if err != nil {
		if errors.Is(err, gormstore.ErrClientNotFound) {
			ctx.JSON(http.StatusNotFound, errorResponse("not_found", "unknown client"))
			return
		}
		handler.logger.Error("client fetch failed", zap.Error(err))
		ctx.JSON(http.StatusBadGateway, errorResponse("store_error", "profile unavailable"))
		return
	}
	ctx.JSON(http.StatusOK, profilePayload{
		ClientID:     client.ClientID,
		Email:        client.Email,
		DisplayName:  client.DisplayName,
		HomeCurrency: client.HomeCurrency,
		ReferralCode: client.ReferralCode,
	})
}

func (handler *httpHandler) handleUpdateProfile(ctx *gin.Context) {
	claims := getClaims(ctx)
	if claims == nil {
		ctx.JSON(http.StatusUnauthorized, errorResponse("unauthorized", "missing session"))
		return
	}
	var request profileUpdateRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body"))
		return
	}
	requestCtx, cancel := context.WithTimeout(ctx.Request.Context(), handler.cfg.RequestTimeout)
	defer cancel()

	homeCurrency := strings.ToUpper(strings.TrimSpace(request.HomeCurrency))
	if homeCurrency != "" && !loyalty.IsKnownCurrency(homeCurrency) {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_currency", "unsupported currency code"))
		return
	}
	if err := handler.trips.UpdateClientProfile(requestCtx, claims.ClientID(), request.DisplayName, homeCurrency); err != nil {
		if errors.Is(err, gormstore.ErrClientNotFound) {
			ctx.JSON(http.StatusNotFound, errorResponse("not_found", "unknown client"))
			return
		}
		handler.logger.Error("profile update failed", zap.Error(err))
		ctx.JSON(http.StatusBadGateway, errorResponse("store_error", "profile update failed"))
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"status": "updated"})
}

func (handler *httpHandler) handleCreateReferral(ctx *gin.Context) {
	claims := getClaims(ctx)
	if claims == nil {
		ctx.JSON(http.StatusUnauthorized, errorResponse("unauthorized", "missing session"))
		return
	}
	referrerID, err := loyalty.NewClientID(claims.ClientID())
	if err != nil {
		ctx.JSON(http.StatusUnauthorized, errorResponse("unauthorized", "invalid session subject"))
		return
	}
	var request referralRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body"))
		return
	}
	referredID, err := loyalty.NewClientID(request.ReferredClientID)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_referral", "referred client id required"))
		return
	}
	requestCtx, cancel := context.WithTimeout(ctx.Request.Context(), handler.cfg.RequestTimeout)
	defer cancel()

	if err := handler.service.CreateReferral(requestCtx, referrerID, referredID); err != nil {
		handler.respondDomainError(ctx, "referral create failed", err)
		return
	}
	ctx.JSON(http.StatusCreated, gin.H{"status": "pending"})
}

// handleConvert serves the currency calculator widget. Conversion failure is
// not an error to the page: the base amount comes back marked degraded.
func (handler *httpHandler) handleConvert(ctx *gin.Context) {
	claims := getClaims(ctx)
	if claims == nil {
		ctx.JSON(http.StatusUnauthorized, errorResponse("unauthorized", "missing session"))
		return
	}
	amount, err := strconv.ParseFloat(ctx.Query("amount"), 64)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_amount", "amount must be numeric"))
		return
	}
	fromCurrency := ctx.Query("from")
	toCurrency := ctx.Query("to")
	if fromCurrency == "" || toCurrency == "" {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_currency", "from and to currencies are required"))
		return
	}

	requestCtx, cancel := context.WithTimeout(ctx.Request.Context(), handler.cfg.RequestTimeout)
	defer cancel()

	result, err := handler.converter.Convert(requestCtx, amount, fromCurrency, toCurrency)
	if err != nil {
		handler.logger.Warn("currency conversion degraded", zap.String("from", fromCurrency), zap.String("to", toCurrency), zap.Error(err))
		ctx.JSON(http.StatusOK, conversionPayload{
			Amount:          amount,
			ConvertedAmount: amount,
			Rate:            1,
			CurrencyCode:    fromCurrency,
			Formatted:       loyalty.FormatCurrencyWithSymbol(amount, fromCurrency),
			Degraded:        true,
		})
		return
	}
	ctx.JSON(http.StatusOK, conversionPayload{
		Amount:          result.Amount,
		ConvertedAmount: result.ConvertedAmount,
		Rate:            result.Rate,
		AdjustedRate:    result.AdjustedRate,
		CurrencyCode:    result.ToCurrency,
		Formatted:       loyalty.FormatCurrencyWithSymbol(result.ConvertedAmount, result.ToCurrency),
	})
}

func (handler *httpHandler) handleAwardPoints(ctx *gin.Context) {
	var request awardRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body"))
		return
	}
	clientID, err := loyalty.NewClientID(request.ClientID)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_client", "client id required"))
		return
	}
	idempotencyKey, err := loyalty.NewIdempotencyKey(request.IdempotencyKey)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_idempotency_key", "idempotency key required"))
		return
	}
	metadata, err := loyalty.NewMetadataJSON(request.MetadataJSON)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_metadata", "metadata must be valid json"))
		return
	}
	requestCtx, cancel := context.WithTimeout(ctx.Request.Context(), handler.cfg.RequestTimeout)
	defer cancel()

	earned, err := handler.service.AwardBookingPoints(requestCtx, clientID, request.Amount, idempotencyKey, metadata)
	if err != nil {
		handler.respondDomainError(ctx, "award failed", err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"points_awarded": earned.Int64()})
}

func (handler *httpHandler) handleApplyRedemption(ctx *gin.Context) {
	var request applyRedemptionRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body"))
		return
	}
	clientID, err := loyalty.NewClientID(request.ClientID)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_client", "client id required"))
		return
	}
	redemptionID, err := loyalty.NewRedemptionID(request.RedemptionID)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_redemption", "redemption id required"))
		return
	}
	idempotencyKey, err := loyalty.NewIdempotencyKey(request.IdempotencyKey)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_idempotency_key", "idempotency key required"))
		return
	}
	metadata, _ := loyalty.NewMetadataJSON(`{"action":"apply_redemption"}`)

	requestCtx, cancel := context.WithTimeout(ctx.Request.Context(), handler.cfg.RequestTimeout)
	defer cancel()

	if err := handler.service.ApplyRedemption(requestCtx, clientID, redemptionID, idempotencyKey, metadata); err != nil {
		handler.respondDomainError(ctx, "apply redemption failed", err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"status": "applied"})
}

func (handler *httpHandler) handleCompleteReferral(ctx *gin.Context) {
	var request completeReferralRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body"))
		return
	}
	referrerID, err := loyalty.NewClientID(request.ReferrerID)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_client", "referrer id required"))
		return
	}
	referredID, err := loyalty.NewClientID(request.ReferredID)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_client", "referred id required"))
		return
	}
	idempotencyKey, err := loyalty.NewIdempotencyKey(request.IdempotencyKey)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_idempotency_key", "idempotency key required"))
		return
	}
	metadata, _ := loyalty.NewMetadataJSON(`{"action":"referral_bonus"}`)

	requestCtx, cancel := context.WithTimeout(ctx.Request.Context(), handler.cfg.RequestTimeout)
	defer cancel()

	if err := handler.service.CompleteReferral(requestCtx, referrerID, referredID, idempotencyKey, metadata); err != nil {
		handler.respondDomainError(ctx, "complete referral failed", err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"status": "completed"})
}

type displayedAmount struct {
	Amount       float64
	CurrencyCode string
	Formatted    string
	Degraded     bool
}

// displayAmount converts a settings-currency amount into the customer's home
// currency, degrading to the base amount when the profile or rate lookup is
// unavailable.
func (handler *httpHandler) displayAmount(ctx context.Context, clientID string, amount float64, baseCurrency string) displayedAmount {
	base := displayedAmount{
		Amount:       amount,
		CurrencyCode: baseCurrency,
		Formatted:    loyalty.FormatCurrencyWithSymbol(amount, baseCurrency),
	}
	requestCtx, cancel := context.WithTimeout(ctx, handler.cfg.RequestTimeout)
	defer cancel()

	client, err := handler.trips.GetClient(requestCtx, clientID)
	if err != nil {
		handler.logger.Warn("home currency lookup degraded", zap.Error(err))
		base.Degraded = true
		return base
	}
	result, err := handler.converter.Convert(requestCtx, amount, baseCurrency, client.HomeCurrency)
	if err != nil {
		handler.logger.Warn("currency conversion degraded", zap.String("to", client.HomeCurrency), zap.Error(err))
		base.Degraded = true
		return base
	}
	return displayedAmount{
		Amount:       result.ConvertedAmount,
		CurrencyCode: result.ToCurrency,
		Formatted:    loyalty.FormatCurrencyWithSymbol(result.ConvertedAmount, result.ToCurrency),
	}
}

func (handler *httpHandler) tripPayloadFor(booking gormstore.Booking, now time.Time) tripPayload {
	window := loyalty.ComputeEditLock(booking.EventStart, booking.EventEnd, booking.BookedAt, loyalty.ParseBookingStatus(booking.Status), now)
	return tripPayload{
		BookingID:           booking.BookingID,
		Reference:           booking.Reference,
		Destination:         booking.Destination,
		EventStart:          booking.EventStart.Format(time.RFC3339),
		EventEnd:            booking.EventEnd.Format(time.RFC3339),
		Status:              booking.Status,
		TotalAmount:         booking.TotalAmount,
		CurrencyCode:        booking.CurrencyCode,
		TotalFormatted:      loyalty.FormatCurrencyWithSymbol(booking.TotalAmount, booking.CurrencyCode),
		IsLocked:            window.IsLocked,
		IsPermanentlyLocked: window.IsPermanentlyLocked,
		DaysUntilLock:       window.DaysUntilLock,
	}
}

func (handler *httpHandler) respondDomainError(ctx *gin.Context, message string, err error) {
	switch {
	case errors.Is(err, loyalty.ErrNotRedemptionIncrement),
		errors.Is(err, loyalty.ErrBelowMinimumRedemption),
		errors.Is(err, loyalty.ErrInvalidPoints),
		errors.Is(err, loyalty.ErrInvalidSettings):
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_redemption", err.Error()))
	case errors.Is(err, loyalty.ErrInsufficientPoints):
		ctx.JSON(http.StatusConflict, errorResponse("insufficient_points", "not enough available points"))
	case errors.Is(err, loyalty.ErrRedemptionClosed),
		errors.Is(err, loyalty.ErrRedemptionExists),
		errors.Is(err, loyalty.ErrReferralExists),
		errors.Is(err, loyalty.ErrReferralClosed),
		errors.Is(err, loyalty.ErrDuplicateIdempotencyKey):
		ctx.JSON(http.StatusConflict, errorResponse("conflict", err.Error()))
	case errors.Is(err, loyalty.ErrUnknownRedemption),
		errors.Is(err, loyalty.ErrUnknownReferral):
		ctx.JSON(http.StatusNotFound, errorResponse("not_found", err.Error()))
	default:
		handler.logger.Error(message, zap.Error(err))
		ctx.JSON(http.StatusBadGateway, errorResponse("loyalty_error", message))
	}
}

func errorResponse(code string, message string) gin.H {
	return gin.H{
		"error": gin.H{
			"code":    code,
			"message": message,
		},
	}
}

type redeemRequest struct {
	Points int64 `json:"points"`
}

type referralRequest struct {
	ReferredClientID string `json:"referred_client_id"`
}

type awardRequest struct {
	ClientID       string  `json:"client_id"`
	Amount         float64 `json:"amount"`
	IdempotencyKey string  `json:"idempotency_key"`
	MetadataJSON   string  `json:"metadata_json"`
}

type applyRedemptionRequest struct {
	ClientID       string `json:"client_id"`
	RedemptionID   string `json:"redemption_id"`
	IdempotencyKey string `json:"idempotency_key"`
}

type completeReferralRequest struct {
	ReferrerID     string `json:"referrer_id"`
	ReferredID     string `json:"referred_id"`
	IdempotencyKey string `json:"idempotency_key"`
}

type travelerRequest struct {
	TravelerID     string `json:"traveler_id"`
	FullName       string `json:"full_name"`
	DocumentNumber string `json:"document_number"`
	FlightNumber   string `json:"flight_number"`
}

type profileUpdateRequest struct {
	DisplayName  string `json:"display_name"`
	HomeCurrency string `json:"home_currency"`
}

type balancePayload struct {
	LifetimePoints  int64 `json:"lifetime_points"`
	ReservedPoints  int64 `json:"reserved_points"`
	AvailablePoints int64 `json:"available_points"`
}

type quotePayload struct {
	UsablePoints      int64   `json:"usable_points"`
	DiscountAmount    float64 `json:"discount_amount"`
	DiscountFormatted string  `json:"discount_formatted"`
	CurrencyCode      string  `json:"currency_code"`
	MeetsMinimum      bool    `json:"meets_minimum"`
	Degraded          bool    `json:"degraded,omitempty"`
}

type milestonePayload struct {
	NextMilestone      int64   `json:"next_milestone"`
	PointsToNext       int64   `json:"points_to_next"`
	ProgressPercentage float64 `json:"progress_percentage"`
}

type transactionPayload struct {
	TransactionID  string `json:"transaction_id"`
	Type           string `json:"type"`
	Points         int64  `json:"points"`
	RedemptionID   string `json:"redemption_id,omitempty"`
	CreatedUnixUTC int64  `json:"created_unix_utc"`
}

type tripPayload struct {
	BookingID           string  `json:"booking_id"`
	Reference           string  `json:"reference"`
	Destination         string  `json:"destination"`
	EventStart          string  `json:"event_start"`
	EventEnd            string  `json:"event_end"`
	Status              string  `json:"status"`
	TotalAmount         float64 `json:"total_amount"`
	CurrencyCode        string  `json:"currency_code"`
	TotalFormatted      string  `json:"total_formatted"`
	IsLocked            bool    `json:"is_locked"`
	IsPermanentlyLocked bool    `json:"is_permanently_locked"`
	DaysUntilLock       int     `json:"days_until_lock"`
}

type travelerPayload struct {
	TravelerID     string `json:"traveler_id"`
	FullName       string `json:"full_name"`
	DocumentNumber string `json:"document_number,omitempty"`
	FlightNumber   string `json:"flight_number,omitempty"`
}

type profilePayload struct {
	ClientID     string `json:"client_id"`
	Email        string `json:"email"`
	DisplayName  string `json:"display_name"`
	HomeCurrency string `json:"home_currency"`
	ReferralCode string `json:"referral_code"`
}

type conversionPayload struct {
	Amount          float64 `json:"amount"`
	ConvertedAmount float64 `json:"converted_amount"`
	Rate            float64 `json:"rate"`
	AdjustedRate    float64 `json:"adjusted_rate,omitempty"`
	CurrencyCode    string  `json:"currency_code"`
	Formatted       string  `json:"formatted"`
	Degraded        bool    `json:"degraded,omitempty"`
}
