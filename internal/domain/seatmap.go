package domain

import (
	"time"

	"github.com/google/uuid"
)

type SeatStatus string

const (
	SeatAvailable SeatStatus = "available"
	SeatLocked    SeatStatus = "locked"
	SeatBooked    SeatStatus = "booked"
)

// SeatState is the derived per-seat view exposed in the seat map.
type SeatState struct {
	Status    SeatStatus
	HolderID  uuid.UUID
	ExpiresAt time.Time
	BookingID uuid.UUID
}

// LockedSeat is one seat of an active lock, as stored.
type LockedSeat struct {
	SeatNo    string
	HolderID  uuid.UUID
	ExpiresAt time.Time
}

// BookedSeat ties a seat to the non-cancelled booking that owns it.
type BookedSeat struct {
	SeatNo    string
	BookingID uuid.UUID
}

// SeatStatuses overlays locks and bookings onto the showing's seat
// enumeration. Bookings win over locks; a lock with expires_at <= now is
// treated as available even if no reaper has flipped the row. Pure
// derivation, no side effects.
func SeatStatuses(seatNos []string, locks []LockedSeat, booked []BookedSeat, now time.Time) map[string]SeatState {
	states := make(map[string]SeatState, len(seatNos))
	for _, no := range seatNos {
		states[no] = SeatState{Status: SeatAvailable}
	}
	for _, l := range locks {
		if !now.Before(l.ExpiresAt) {
			continue
		}
		if _, ok := states[l.SeatNo]; !ok {
			continue
		}
		states[l.SeatNo] = SeatState{Status: SeatLocked, HolderID: l.HolderID, ExpiresAt: l.ExpiresAt}
	}
	for _, b := range booked {
		if _, ok := states[b.SeatNo]; !ok {
			continue
		}
		states[b.SeatNo] = SeatState{Status: SeatBooked, BookingID: b.BookingID}
	}
	return states
}
