package loyalty

import "time"

const (
	// Standard cutoff: traveler and flight edits freeze this many days before
	// departure.
	standardLockLeadDays = 28

	// Grace tiers for late bookings, keyed by how close the booking was made
	// to departure. Flagged for product confirmation; not tunable per
	// deployment today.
	graceTierCloseDays  = 7
	graceTierMediumDays = 14
	graceTierWideDays   = 21
	graceCloseDays      = 2
	graceMediumDays     = 3
	graceWideDays       = 5

	hoursPerDay = 24
)

// ComputeEditLock reports whether trip edits are frozen as of now.
//
// Cancelled and completed bookings, and trips that have already ended, are
// permanently locked. Otherwise the lock engages 28 days before departure,
// except that bookings made inside that window get a short grace period after
// the booking so travelers can still enter their details. The grace never
// shortens the standard window: the effective threshold is the later of the
// two. Zero-valued dates fall through to "not locked".
func ComputeEditLock(eventStart time.Time, eventEnd time.Time, bookedAt time.Time, status BookingStatus, now time.Time) EditLockWindow {
	if status == BookingStatusCancelled || status == BookingStatusCompleted {
		return EditLockWindow{IsLocked: true, IsPermanentlyLocked: true}
	}
	if !eventEnd.IsZero() && eventEnd.Before(now) {
		return EditLockWindow{IsLocked: true, IsPermanentlyLocked: true}
	}
	if eventStart.IsZero() {
		return EditLockWindow{}
	}

	threshold := eventStart.AddDate(0, 0, -standardLockLeadDays)
	if !bookedAt.IsZero() && bookedAt.After(threshold) {
		graceThreshold := bookedAt.AddDate(0, 0, lateBookingGraceDays(eventStart, bookedAt))
		if graceThreshold.After(threshold) {
			threshold = graceThreshold
		}
	}

	if !now.Before(threshold) {
		return EditLockWindow{IsLocked: true}
	}
	return EditLockWindow{
		DaysUntilLock: int(threshold.Sub(now).Hours() / hoursPerDay),
	}
}

func lateBookingGraceDays(eventStart time.Time, bookedAt time.Time) int {
	daysToEvent := int(eventStart.Sub(bookedAt).Hours() / hoursPerDay)
	switch {
	case daysToEvent < graceTierCloseDays:
		return graceCloseDays
	case daysToEvent < graceTierMediumDays:
		return graceMediumDays
	case daysToEvent < graceTierWideDays:
		return graceWideDays
	default:
		return 0
	}
}
