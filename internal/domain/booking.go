package domain

import (
	"time"

	"github.com/google/uuid"
)

type BookingStatus string

const (
	BookingPending   BookingStatus = "PENDING"
	BookingCompleted BookingStatus = "COMPLETED"
	BookingCancelled BookingStatus = "CANCELLED"
)

// Booking is the durable record of a reservation. Rows are never deleted;
// cancellation is a status transition so the audit trail survives.
type Booking struct {
	ID             uuid.UUID
	ShowingID      uuid.UUID
	UserID         uuid.UUID
	Status         BookingStatus
	TotalAmount    float64
	PaymentRef     string
	IdempotencyKey string
	Seats          []BookingSeat
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

type BookingSeat struct {
	SeatNo string
	Price  float64
}

func NewBooking(showingID uuid.UUID, seats []string, userID uuid.UUID, pricePerSeat float64, idempotencyKey string) Booking {
	items := make([]BookingSeat, len(seats))
	for i, seat := range seats {
		items[i] = BookingSeat{SeatNo: seat, Price: pricePerSeat}
	}
	return Booking{
		ID:             uuid.New(),
		ShowingID:      showingID,
		UserID:         userID,
		Status:         BookingPending,
		TotalAmount:    pricePerSeat * float64(len(seats)),
		IdempotencyKey: idempotencyKey,
		Seats:          items,
	}
}

// SeatNumbers returns the seat identifiers covered by the booking.
func (b Booking) SeatNumbers() []string {
	out := make([]string, len(b.Seats))
	for i, s := range b.Seats {
		out[i] = s.SeatNo
	}
	return out
}

// CanTransition reports whether the payment-status transition is legal.
// PENDING may complete or cancel; COMPLETED may only cancel; CANCELLED is
// terminal (re-cancelling is treated as a no-op by the ledger, not here).
func (b Booking) CanTransition(next BookingStatus) bool {
	switch b.Status {
	case BookingPending:
		return next == BookingCompleted || next == BookingCancelled
	case BookingCompleted:
		return next == BookingCancelled
	default:
		return false
	}
}

// Identity is the authenticated actor behind a mutating request.
type Identity struct {
	UserID uuid.UUID
	Admin  bool
}

// MayCancel reports whether the actor may cancel the booking: the owner
// or an administrative actor.
func (b Booking) MayCancel(actor Identity) bool {
	return actor.Admin || actor.UserID == b.UserID
}
