package portal

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/MarkoPoloResearchLab/loyalty/internal/store/gormstore"
	"github.com/MarkoPoloResearchLab/loyalty/pkg/loyalty"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

type stubService struct {
	quote            loyalty.RedemptionQuote
	quoteErr         error
	balance          loyalty.Balance
	milestone        loyalty.Milestone
	transactions     []loyalty.Transaction
	redeemErr        error
	cancelErr        error
	awardPoints      loyalty.Points
	awardErr         error
	redeemCalls      int
	applyErr         error
	referralErr      error
	completeErr      error
	lastRedeemPoints loyalty.Points
}

func (stub *stubService) Settings(ctx context.Context) (loyalty.Settings, error) {
	return loyalty.DefaultSettings(), nil
}

func (stub *stubService) Balance(ctx context.Context, clientID loyalty.ClientID) (loyalty.Balance, error) {
	return stub.balance, nil
}

func (stub *stubService) Quote(ctx context.Context, clientID loyalty.ClientID) (loyalty.RedemptionQuote, error) {
	return stub.quote, stub.quoteErr
}

func (stub *stubService) Milestone(ctx context.Context, clientID loyalty.ClientID) (loyalty.Milestone, error) {
	return stub.milestone, nil
}

func (stub *stubService) History(ctx context.Context, clientID loyalty.ClientID, beforeUnixUTC int64, limit int) ([]loyalty.Transaction, error) {
	return stub.transactions, nil
}

func (stub *stubService) Redeem(ctx context.Context, clientID loyalty.ClientID, points loyalty.Points, redemptionID loyalty.RedemptionID, idempotencyKey loyalty.IdempotencyKey, metadata loyalty.MetadataJSON) error {
	stub.redeemCalls++
	stub.lastRedeemPoints = points
	return stub.redeemErr
}

func (stub *stubService) ApplyRedemption(ctx context.Context, clientID loyalty.ClientID, redemptionID loyalty.RedemptionID, idempotencyKey loyalty.IdempotencyKey, metadata loyalty.MetadataJSON) error {
	return stub.applyErr
}

func (stub *stubService) CancelRedemption(ctx context.Context, clientID loyalty.ClientID, redemptionID loyalty.RedemptionID, idempotencyKey loyalty.IdempotencyKey, metadata loyalty.MetadataJSON) error {
	return stub.cancelErr
}

func (stub *stubService) AwardBookingPoints(ctx context.Context, clientID loyalty.ClientID, spendAmount float64, idempotencyKey loyalty.IdempotencyKey, metadata loyalty.MetadataJSON) (loyalty.Points, error) {
	return stub.awardPoints, stub.awardErr
}

func (stub *stubService) CreateReferral(ctx context.Context, referrerID loyalty.ClientID, referredID loyalty.ClientID) error {
	return stub.referralErr
}

func (stub *stubService) CompleteReferral(ctx context.Context, referrerID loyalty.ClientID, referredID loyalty.ClientID, idempotencyKey loyalty.IdempotencyKey, metadata loyalty.MetadataJSON) error {
	return stub.completeErr
}

type stubTrips struct {
	client         gormstore.Client
	clientErr      error
	bookings       []gormstore.Booking
	booking        gormstore.Booking
	bookingErr     error
	travelers      []gormstore.Traveler
	savedTravelers []gormstore.Traveler
	saveErr        error
	profileUpdates int
}

func (stub *stubTrips) GetClient(ctx context.Context, clientID string) (gormstore.Client, error) {
	return stub.client, stub.clientErr
}

func (stub *stubTrips) UpdateClientProfile(ctx context.Context, clientID string, displayName string, homeCurrency string) error {
	stub.profileUpdates++
	return nil
}

func (stub *stubTrips) ListBookings(ctx context.Context, clientID string) ([]gormstore.Booking, error) {
	return stub.bookings, nil
}

func (stub *stubTrips) GetBooking(ctx context.Context, clientID string, bookingID string) (gormstore.Booking, error) {
	return stub.booking, stub.bookingErr
}

func (stub *stubTrips) ListTravelers(ctx context.Context, bookingID string) ([]gormstore.Traveler, error) {
	return stub.travelers, nil
}

func (stub *stubTrips) SaveTraveler(ctx context.Context, traveler gormstore.Traveler) error {
	if stub.saveErr != nil {
		return stub.saveErr
	}
	stub.savedTravelers = append(stub.savedTravelers, traveler)
	return nil
}

type stubConverter struct {
	result      loyalty.ConversionResult
	err         error
	sawDeadline bool
}

func (stub *stubConverter) Convert(ctx context.Context, amount float64, fromCurrency string, toCurrency string) (loyalty.ConversionResult, error) {
	_, stub.sawDeadline = ctx.Deadline()
	if stub.err != nil {
		return loyalty.ConversionResult{}, stub.err
	}
	result := stub.result
	result.Amount = amount
	return result, nil
}

func testConfig() Config {
	cfg := Config{
		SessionSigningKey: "test-signing-key",
		InternalAPIKey:    "internal-key",
	}
	if err := cfg.Validate(); err != nil {
		panic(err)
	}
	return cfg
}

var testNow = time.Date(2025, time.June, 1, 12, 0, 0, 0, time.UTC)

func newTestRouter(cfg Config, service LoyaltyService, trips TripStore, converter RateConverter) http.Handler {
	handler := &httpHandler{
		logger:    zap.NewNop(),
		service:   service,
		trips:     trips,
		converter: converter,
		nowFn:     func() time.Time { return testNow },
		cfg:       cfg,
	}
	return setupRouter(cfg, handler, newSessionValidator(cfg))
}

func sessionToken(test *testing.T, cfg Config, subject string) string {
	test.Helper()
	claims := SessionClaims{
		Email: "traveler@example.com",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    cfg.SessionIssuer,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(cfg.SessionSigningKey))
	if err != nil {
		test.Fatalf("sign session token: %v", err)
	}
	return signed
}

func authorizedRequest(test *testing.T, cfg Config, method string, target string, body any) *http.Request {
	test.Helper()
	var reader *bytes.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			test.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(encoded)
	} else {
		reader = bytes.NewReader(nil)
	}
	request := httptest.NewRequest(method, target, reader)
	request.Header.Set("Content-Type", "application/json")
	request.Header.Set("Authorization", "Bearer "+sessionToken(test, cfg, "client-1"))
	return request
}

func decodeBody(test *testing.T, recorder *httptest.ResponseRecorder) map[string]any {
	test.Helper()
	var payload map[string]any
	if err := json.Unmarshal(recorder.Body.Bytes(), &payload); err != nil {
		test.Fatalf("decode response: %v", err)
	}
	return payload
}

func TestPointsEndpointReturnsOverview(test *testing.T) {
	test.Parallel()
	cfg := testConfig()
	service := &stubService{
		quote: loyalty.RedemptionQuote{
			AvailablePoints: 250,
			UsablePoints:    200,
			DiscountAmount:  200,
			CurrencyCode:    "GBP",
			MeetsMinimum:    true,
		},
		balance:   loyalty.Balance{LifetimePoints: 251, ReservedPoints: 1, AvailablePoints: 250},
		milestone: loyalty.Milestone{NextMilestone: 300, PointsToNext: 50, ProgressPercentage: 50},
	}
	trips := &stubTrips{client: gormstore.Client{ClientID: "client-1", HomeCurrency: "GBP"}}
	converter := &stubConverter{result: loyalty.ConversionResult{ConvertedAmount: 200, Rate: 1, FromCurrency: "GBP", ToCurrency: "GBP"}}
	router := newTestRouter(cfg, service, trips, converter)

	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, authorizedRequest(test, cfg, http.MethodGet, "/api/points", nil))

	if recorder.Code != http.StatusOK {
		test.Fatalf("expected 200, got %d: %s", recorder.Code, recorder.Body.String())
	}
	payload := decodeBody(test, recorder)
	quote := payload["quote"].(map[string]any)
	if quote["usable_points"].(float64) != 200 {
		test.Fatalf("expected usable 200, got %v", quote["usable_points"])
	}
	if quote["discount_formatted"].(string) != "£200.00" {
		test.Fatalf("expected £200.00, got %v", quote["discount_formatted"])
	}
	if degraded, ok := quote["degraded"]; ok && degraded.(bool) {
		test.Fatalf("expected quote not degraded")
	}
	milestone := payload["milestone"].(map[string]any)
	if milestone["points_to_next"].(float64) != 50 {
		test.Fatalf("expected points_to_next 50, got %v", milestone["points_to_next"])
	}
}

func TestPointsEndpointDegradesWhenConversionFails(test *testing.T) {
	test.Parallel()
	cfg := testConfig()
	service := &stubService{
		quote: loyalty.RedemptionQuote{
			AvailablePoints: 250,
			UsablePoints:    200,
			DiscountAmount:  200,
			CurrencyCode:    "GBP",
			MeetsMinimum:    true,
		},
	}
	trips := &stubTrips{client: gormstore.Client{ClientID: "client-1", HomeCurrency: "USD"}}
	converter := &stubConverter{err: errors.New("rate provider down")}
	router := newTestRouter(cfg, service, trips, converter)

	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, authorizedRequest(test, cfg, http.MethodGet, "/api/points", nil))

	if recorder.Code != http.StatusOK {
		test.Fatalf("expected 200, got %d: %s", recorder.Code, recorder.Body.String())
	}
	quote := decodeBody(test, recorder)["quote"].(map[string]any)
	if quote["degraded"].(bool) != true {
		test.Fatalf("expected degraded quote")
	}
	if quote["currency_code"].(string) != "GBP" {
		test.Fatalf("expected GBP fallback, got %v", quote["currency_code"])
	}
	if quote["discount_formatted"].(string) != "£200.00" {
		test.Fatalf("expected base formatting, got %v", quote["discount_formatted"])
	}
}

func TestPointsEndpointRequiresSession(test *testing.T) {
	test.Parallel()
	cfg := testConfig()
	router := newTestRouter(cfg, &stubService{}, &stubTrips{}, &stubConverter{})

	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/api/points", nil))

	if recorder.Code != http.StatusUnauthorized {
		test.Fatalf("expected 401, got %d", recorder.Code)
	}
}

func TestRedeemEndpointMapsDomainErrors(test *testing.T) {
	test.Parallel()
	cases := []struct {
		name       string
		serviceErr error
		wantStatus int
	}{
		{name: "not increment", serviceErr: loyalty.ErrNotRedemptionIncrement, wantStatus: http.StatusBadRequest},
		{name: "below minimum", serviceErr: loyalty.ErrBelowMinimumRedemption, wantStatus: http.StatusBadRequest},
		{name: "insufficient", serviceErr: loyalty.ErrInsufficientPoints, wantStatus: http.StatusConflict},
		{name: "duplicate", serviceErr: loyalty.ErrRedemptionExists, wantStatus: http.StatusConflict},
		{name: "success", serviceErr: nil, wantStatus: http.StatusCreated},
	}
	for _, testCase := range cases {
		testCase := testCase
		test.Run(testCase.name, func(test *testing.T) {
			test.Parallel()
			cfg := testConfig()
			service := &stubService{redeemErr: testCase.serviceErr}
			router := newTestRouter(cfg, service, &stubTrips{}, &stubConverter{})

			recorder := httptest.NewRecorder()
			router.ServeHTTP(recorder, authorizedRequest(test, cfg, http.MethodPost, "/api/redemptions", map[string]any{"points": 200}))

			if recorder.Code != testCase.wantStatus {
				test.Fatalf("expected %d, got %d: %s", testCase.wantStatus, recorder.Code, recorder.Body.String())
			}
			if service.redeemCalls != 1 {
				test.Fatalf("expected one redeem call, got %d", service.redeemCalls)
			}
			if service.lastRedeemPoints != 200 {
				test.Fatalf("expected 200 points, got %d", service.lastRedeemPoints)
			}
		})
	}
}

func TestRedeemEndpointRejectsNonPositivePoints(test *testing.T) {
	test.Parallel()
	cfg := testConfig()
	service := &stubService{}
	router := newTestRouter(cfg, service, &stubTrips{}, &stubConverter{})

	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, authorizedRequest(test, cfg, http.MethodPost, "/api/redemptions", map[string]any{"points": 0}))

	if recorder.Code != http.StatusBadRequest {
		test.Fatalf("expected 400, got %d", recorder.Code)
	}
	if service.redeemCalls != 0 {
		test.Fatalf("expected no redeem call, got %d", service.redeemCalls)
	}
}

func TestCancelRedemptionClosedConflict(test *testing.T) {
	test.Parallel()
	cfg := testConfig()
	service := &stubService{cancelErr: loyalty.ErrRedemptionClosed}
	router := newTestRouter(cfg, service, &stubTrips{}, &stubConverter{})

	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, authorizedRequest(test, cfg, http.MethodPost, "/api/redemptions/red-1/cancel", nil))

	if recorder.Code != http.StatusConflict {
		test.Fatalf("expected 409, got %d", recorder.Code)
	}
}

func TestTripListIncludesEditLockState(test *testing.T) {
	test.Parallel()
	cfg := testConfig()
	lockedTrip := gormstore.Booking{
		BookingID:    "booking-locked",
		Reference:    "LOY-001",
		Destination:  "Lisbon",
		EventStart:   testNow.Add(10 * 24 * time.Hour),
		EventEnd:     testNow.Add(14 * 24 * time.Hour),
		BookedAt:     testNow.Add(-50 * 24 * time.Hour),
		Status:       "confirmed",
		TotalAmount:  1250,
		CurrencyCode: "GBP",
	}
	openTrip := gormstore.Booking{
		BookingID:    "booking-open",
		Reference:    "LOY-002",
		Destination:  "Oslo",
		EventStart:   testNow.Add(60 * 24 * time.Hour),
		EventEnd:     testNow.Add(63 * 24 * time.Hour),
		BookedAt:     testNow.Add(-5 * 24 * time.Hour),
		Status:       "upcoming",
		TotalAmount:  800,
		CurrencyCode: "NOK",
	}
	trips := &stubTrips{bookings: []gormstore.Booking{lockedTrip, openTrip}}
	router := newTestRouter(cfg, &stubService{}, trips, &stubConverter{})

	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, authorizedRequest(test, cfg, http.MethodGet, "/api/trips", nil))

	if recorder.Code != http.StatusOK {
		test.Fatalf("expected 200, got %d: %s", recorder.Code, recorder.Body.String())
	}
	entries := decodeBody(test, recorder)["trips"].([]any)
	if len(entries) != 2 {
		test.Fatalf("expected 2 trips, got %d", len(entries))
	}
	first := entries[0].(map[string]any)
	if first["is_locked"].(bool) != true {
		test.Fatalf("expected first trip locked")
	}
	second := entries[1].(map[string]any)
	if second["is_locked"].(bool) != false {
		test.Fatalf("expected second trip unlocked")
	}
	if second["days_until_lock"].(float64) != 32 {
		test.Fatalf("expected 32 days until lock, got %v", second["days_until_lock"])
	}
}

func TestSaveTravelerRejectsLockedTrip(test *testing.T) {
	test.Parallel()
	cfg := testConfig()
	trips := &stubTrips{
		booking: gormstore.Booking{
			BookingID:  "booking-locked",
			EventStart: testNow.Add(10 * 24 * time.Hour),
			EventEnd:   testNow.Add(14 * 24 * time.Hour),
			BookedAt:   testNow.Add(-50 * 24 * time.Hour),
			Status:     "confirmed",
		},
	}
	router := newTestRouter(cfg, &stubService{}, trips, &stubConverter{})

	recorder := httptest.NewRecorder()
	body := map[string]any{"full_name": "Avery Quinn", "flight_number": "BA401"}
	router.ServeHTTP(recorder, authorizedRequest(test, cfg, http.MethodPut, "/api/trips/booking-locked/travelers", body))

	if recorder.Code != http.StatusLocked {
		test.Fatalf("expected 423, got %d: %s", recorder.Code, recorder.Body.String())
	}
	if len(trips.savedTravelers) != 0 {
		test.Fatalf("expected no traveler saves")
	}
}

func TestSaveTravelerAcceptsOpenTrip(test *testing.T) {
	test.Parallel()
	cfg := testConfig()
	trips := &stubTrips{
		booking: gormstore.Booking{
			BookingID:  "booking-open",
			EventStart: testNow.Add(60 * 24 * time.Hour),
			EventEnd:   testNow.Add(63 * 24 * time.Hour),
			BookedAt:   testNow.Add(-5 * 24 * time.Hour),
			Status:     "upcoming",
		},
	}
	router := newTestRouter(cfg, &stubService{}, trips, &stubConverter{})

	recorder := httptest.NewRecorder()
	body := map[string]any{"full_name": "Avery Quinn", "document_number": "P1234567"}
	router.ServeHTTP(recorder, authorizedRequest(test, cfg, http.MethodPut, "/api/trips/booking-open/travelers", body))

	if recorder.Code != http.StatusOK {
		test.Fatalf("expected 200, got %d: %s", recorder.Code, recorder.Body.String())
	}
	if len(trips.savedTravelers) != 1 {
		test.Fatalf("expected one traveler save, got %d", len(trips.savedTravelers))
	}
	if trips.savedTravelers[0].BookingID != "booking-open" {
		test.Fatalf("expected traveler bound to booking, got %q", trips.savedTravelers[0].BookingID)
	}
}

func TestSaveTravelerRejectsCancelledTrip(test *testing.T) {
	test.Parallel()
	cfg := testConfig()
	trips := &stubTrips{
		booking: gormstore.Booking{
			BookingID:  "booking-cancelled",
			EventStart: testNow.Add(60 * 24 * time.Hour),
			EventEnd:   testNow.Add(63 * 24 * time.Hour),
			BookedAt:   testNow.Add(-5 * 24 * time.Hour),
			Status:     "cancelled",
		},
	}
	router := newTestRouter(cfg, &stubService{}, trips, &stubConverter{})

	recorder := httptest.NewRecorder()
	body := map[string]any{"full_name": "Avery Quinn"}
	router.ServeHTTP(recorder, authorizedRequest(test, cfg, http.MethodPut, "/api/trips/booking-cancelled/travelers", body))

	if recorder.Code != http.StatusLocked {
		test.Fatalf("expected 423, got %d", recorder.Code)
	}
}

func TestUpdateProfileRejectsUnknownCurrency(test *testing.T) {
	test.Parallel()
	cfg := testConfig()
	trips := &stubTrips{}
	router := newTestRouter(cfg, &stubService{}, trips, &stubConverter{})

	recorder := httptest.NewRecorder()
	body := map[string]any{"display_name": "Avery", "home_currency": "XXX"}
	router.ServeHTTP(recorder, authorizedRequest(test, cfg, http.MethodPut, "/api/profile", body))

	if recorder.Code != http.StatusBadRequest {
		test.Fatalf("expected 400, got %d", recorder.Code)
	}
	if trips.profileUpdates != 0 {
		test.Fatalf("expected no profile update")
	}
}

func TestConvertEndpointDegradesOnLookupFailure(test *testing.T) {
	test.Parallel()
	cfg := testConfig()
	converter := &stubConverter{err: loyalty.ErrRateLookupUnavailable}
	router := newTestRouter(cfg, &stubService{}, &stubTrips{}, converter)

	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, authorizedRequest(test, cfg, http.MethodGet, "/api/convert?amount=150&from=GBP&to=USD", nil))

	if recorder.Code != http.StatusOK {
		test.Fatalf("expected 200, got %d: %s", recorder.Code, recorder.Body.String())
	}
	payload := decodeBody(test, recorder)
	if payload["degraded"].(bool) != true {
		test.Fatalf("expected degraded conversion")
	}
	if payload["converted_amount"].(float64) != 150 {
		test.Fatalf("expected passthrough amount, got %v", payload["converted_amount"])
	}
	if payload["currency_code"].(string) != "GBP" {
		test.Fatalf("expected source currency, got %v", payload["currency_code"])
	}
}

func TestConvertEndpointReturnsConvertedAmount(test *testing.T) {
	test.Parallel()
	cfg := testConfig()
	converter := &stubConverter{result: loyalty.ConversionResult{
		ConvertedAmount: 189.75,
		Rate:            1.25,
		AdjustedRate:    1.265,
		FromCurrency:    "GBP",
		ToCurrency:      "USD",
	}}
	router := newTestRouter(cfg, &stubService{}, &stubTrips{}, converter)

	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, authorizedRequest(test, cfg, http.MethodGet, "/api/convert?amount=150&from=GBP&to=USD", nil))

	if recorder.Code != http.StatusOK {
		test.Fatalf("expected 200, got %d", recorder.Code)
	}
	payload := decodeBody(test, recorder)
	if payload["converted_amount"].(float64) != 189.75 {
		test.Fatalf("expected 189.75, got %v", payload["converted_amount"])
	}
	if payload["formatted"].(string) != "$189.75" {
		test.Fatalf("expected $189.75, got %v", payload["formatted"])
	}
	if !converter.sawDeadline {
		test.Fatalf("expected conversion to run under a request deadline")
	}
}

func TestSaveTravelerRejectsTravelerFromAnotherBooking(test *testing.T) {
	test.Parallel()
	cfg := testConfig()
	trips := &stubTrips{
		booking: gormstore.Booking{
			BookingID:  "booking-open",
			EventStart: testNow.Add(60 * 24 * time.Hour),
			EventEnd:   testNow.Add(63 * 24 * time.Hour),
			BookedAt:   testNow.Add(-5 * 24 * time.Hour),
			Status:     "upcoming",
		},
		saveErr: gormstore.ErrTravelerNotFound,
	}
	router := newTestRouter(cfg, &stubService{}, trips, &stubConverter{})

	recorder := httptest.NewRecorder()
	body := map[string]any{"traveler_id": "someone-elses-traveler", "full_name": "Impostor"}
	router.ServeHTTP(recorder, authorizedRequest(test, cfg, http.MethodPut, "/api/trips/booking-open/travelers", body))

	if recorder.Code != http.StatusNotFound {
		test.Fatalf("expected 404, got %d: %s", recorder.Code, recorder.Body.String())
	}
	if len(trips.savedTravelers) != 0 {
		test.Fatalf("expected no traveler writes")
	}
}

func TestInternalEndpointsRequireKey(test *testing.T) {
	test.Parallel()
	cfg := testConfig()
	service := &stubService{awardPoints: 120}
	router := newTestRouter(cfg, service, &stubTrips{}, &stubConverter{})

	body, _ := json.Marshal(map[string]any{
		"client_id":       "client-1",
		"amount":          120.5,
		"idempotency_key": "booking:abc",
	})

	recorder := httptest.NewRecorder()
	request := httptest.NewRequest(http.MethodPost, "/internal/bookings/points", bytes.NewReader(body))
	request.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(recorder, request)
	if recorder.Code != http.StatusUnauthorized {
		test.Fatalf("expected 401 without key, got %d", recorder.Code)
	}

	recorder = httptest.NewRecorder()
	request = httptest.NewRequest(http.MethodPost, "/internal/bookings/points", bytes.NewReader(body))
	request.Header.Set("Content-Type", "application/json")
	request.Header.Set("X-Internal-Key", cfg.InternalAPIKey)
	router.ServeHTTP(recorder, request)
	if recorder.Code != http.StatusOK {
		test.Fatalf("expected 200 with key, got %d: %s", recorder.Code, recorder.Body.String())
	}
	if decodeBody(test, recorder)["points_awarded"].(float64) != 120 {
		test.Fatalf("expected 120 points awarded")
	}
}

func TestApplyRedemptionInternalEndpoint(test *testing.T) {
	test.Parallel()
	cfg := testConfig()
	service := &stubService{applyErr: loyalty.ErrUnknownRedemption}
	router := newTestRouter(cfg, service, &stubTrips{}, &stubConverter{})

	body, _ := json.Marshal(map[string]any{
		"client_id":       "client-1",
		"redemption_id":   "red-404",
		"idempotency_key": "apply:red-404",
	})
	recorder := httptest.NewRecorder()
	request := httptest.NewRequest(http.MethodPost, "/internal/redemptions/apply", bytes.NewReader(body))
	request.Header.Set("Content-Type", "application/json")
	request.Header.Set("X-Internal-Key", cfg.InternalAPIKey)
	router.ServeHTTP(recorder, request)

	if recorder.Code != http.StatusNotFound {
		test.Fatalf("expected 404, got %d: %s", recorder.Code, recorder.Body.String())
	}
}

func TestSessionRejectsWrongIssuer(test *testing.T) {
	test.Parallel()
	cfg := testConfig()
	router := newTestRouter(cfg, &stubService{}, &stubTrips{}, &stubConverter{})

	claims := SessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "client-1",
			Issuer:    "someone-else",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(cfg.SessionSigningKey))
	if err != nil {
		test.Fatalf("sign token: %v", err)
	}
	recorder := httptest.NewRecorder()
	request := httptest.NewRequest(http.MethodGet, "/api/session", nil)
	request.Header.Set("Authorization", "Bearer "+signed)
	router.ServeHTTP(recorder, request)

	if recorder.Code != http.StatusUnauthorized {
		test.Fatalf("expected 401, got %d", recorder.Code)
	}
}

func TestHistoryEndpointListsTransactions(test *testing.T) {
	test.Parallel()
	cfg := testConfig()
	service := &stubService{transactions: []loyalty.Transaction{
		{TransactionID: "txn-2", Type: loyalty.TransactionRedeem, Points: -200, RedemptionID: "red-1", CreatedUnixUTC: 1_700_000_100},
		{TransactionID: "txn-1", Type: loyalty.TransactionEarn, Points: 450, CreatedUnixUTC: 1_700_000_000},
	}}
	router := newTestRouter(cfg, service, &stubTrips{}, &stubConverter{})

	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, authorizedRequest(test, cfg, http.MethodGet, "/api/points/history", nil))

	if recorder.Code != http.StatusOK {
		test.Fatalf("expected 200, got %d", recorder.Code)
	}
	entries := decodeBody(test, recorder)["transactions"].([]any)
	if len(entries) != 2 {
		test.Fatalf("expected 2 transactions, got %d", len(entries))
	}
	first := entries[0].(map[string]any)
	if first["type"].(string) != "redeem" || first["points"].(float64) != -200 {
		test.Fatalf("unexpected first entry: %v", first)
	}
}
