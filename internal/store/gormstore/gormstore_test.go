package gormstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MarkoPoloResearchLab/loyalty/pkg/loyalty"
	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

func newTestStore(test *testing.T) *Store {
	test.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		test.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&Client{}, &LoyaltySetting{}, &PointTransaction{}, &RedemptionRequest{}, &Referral{}, &Booking{}, &Traveler{}); err != nil {
		test.Fatalf("migrate: %v", err)
	}
	return New(db)
}

func mustSaveTraveler(test *testing.T, store *Store, traveler Traveler) {
	test.Helper()
	if err := store.SaveTraveler(context.Background(), traveler); err != nil {
		test.Fatalf("save traveler %+v: %v", traveler, err)
	}
}

func TestSaveTravelerRejectsTravelerFromAnotherBooking(test *testing.T) {
	test.Parallel()
	store := newTestStore(test)
	mustSaveTraveler(test, store, Traveler{
		TravelerID: "traveler-1",
		BookingID:  "booking-a",
		FullName:   "Original Name",
	})

	err := store.SaveTraveler(context.Background(), Traveler{
		TravelerID: "traveler-1",
		BookingID:  "booking-b",
		FullName:   "Overwritten Name",
	})
	if !errors.Is(err, ErrTravelerNotFound) {
		test.Fatalf("expected ErrTravelerNotFound, got %v", err)
	}

	travelers, err := store.ListTravelers(context.Background(), "booking-a")
	if err != nil {
		test.Fatalf("list travelers: %v", err)
	}
	if len(travelers) != 1 || travelers[0].FullName != "Original Name" {
		test.Fatalf("traveler on booking-a was modified: %+v", travelers)
	}
	otherTravelers, err := store.ListTravelers(context.Background(), "booking-b")
	if err != nil {
		test.Fatalf("list travelers: %v", err)
	}
	if len(otherTravelers) != 0 {
		test.Fatalf("expected no travelers created on booking-b, got %+v", otherTravelers)
	}
}

func TestSaveTravelerUpdatesWithinOwnBooking(test *testing.T) {
	test.Parallel()
	store := newTestStore(test)
	mustSaveTraveler(test, store, Traveler{
		TravelerID:   "traveler-1",
		BookingID:    "booking-a",
		FullName:     "Original Name",
		FlightNumber: "BA100",
	})
	mustSaveTraveler(test, store, Traveler{
		TravelerID:   "traveler-1",
		BookingID:    "booking-a",
		FullName:     "Corrected Name",
		FlightNumber: "BA200",
	})

	travelers, err := store.ListTravelers(context.Background(), "booking-a")
	if err != nil {
		test.Fatalf("list travelers: %v", err)
	}
	if len(travelers) != 1 {
		test.Fatalf("expected one traveler row, got %d", len(travelers))
	}
	if travelers[0].FullName != "Corrected Name" || travelers[0].FlightNumber != "BA200" {
		test.Fatalf("update did not apply: %+v", travelers[0])
	}
}

func TestSaveTravelerCreatesNewRowWithGeneratedID(test *testing.T) {
	test.Parallel()
	store := newTestStore(test)
	mustSaveTraveler(test, store, Traveler{
		BookingID: "booking-a",
		FullName:  "New Traveler",
	})

	travelers, err := store.ListTravelers(context.Background(), "booking-a")
	if err != nil {
		test.Fatalf("list travelers: %v", err)
	}
	if len(travelers) != 1 || travelers[0].TravelerID == "" {
		test.Fatalf("expected one traveler with generated id, got %+v", travelers)
	}
}

func TestLoadSettingsMissingRowReportsNotFound(test *testing.T) {
	test.Parallel()
	store := newTestStore(test)
	if _, err := store.LoadSettings(context.Background()); !errors.Is(err, loyalty.ErrSettingsNotFound) {
		test.Fatalf("expected loyalty.ErrSettingsNotFound, got %v", err)
	}
}

func TestGetBookingScopedToClient(test *testing.T) {
	test.Parallel()
	store := newTestStore(test)
	now := time.Now().UTC()
	booking := Booking{
		BookingID:    "booking-a",
		ClientID:     "client-1",
		Reference:    "LOY-001",
		Destination:  "Lisbon",
		EventStart:   now.Add(40 * 24 * time.Hour),
		EventEnd:     now.Add(44 * 24 * time.Hour),
		BookedAt:     now,
		Status:       "upcoming",
		TotalAmount:  900,
		CurrencyCode: "GBP",
	}
	if err := store.db.Create(&booking).Error; err != nil {
		test.Fatalf("seed booking: %v", err)
	}

	if _, err := store.GetBooking(context.Background(), "client-1", "booking-a"); err != nil {
		test.Fatalf("owner lookup: %v", err)
	}
	if _, err := store.GetBooking(context.Background(), "client-2", "booking-a"); !errors.Is(err, ErrBookingNotFound) {
		test.Fatalf("expected ErrBookingNotFound for foreign client, got %v", err)
	}
}
