package domain

import (
	"time"

	"github.com/google/uuid"
)

// SeatLock is a short-lived exclusive claim on a set of seats for one
// showing. A lock past its expiry is dead even if no reaper has touched
// it yet; every read must compare ExpiresAt against the clock.
type SeatLock struct {
	ID        uuid.UUID
	ShowingID uuid.UUID
	Seats     []string
	HolderID  uuid.UUID
	ExpiresAt time.Time
}

func NewSeatLock(showingID uuid.UUID, seats []string, holderID uuid.UUID, ttl time.Duration) SeatLock {
	return SeatLock{
		ID:        uuid.New(),
		ShowingID: showingID,
		Seats:     seats,
		HolderID:  holderID,
		ExpiresAt: time.Now().UTC().Add(ttl),
	}
}

func (l SeatLock) Live(now time.Time) bool {
	return now.Before(l.ExpiresAt)
}
