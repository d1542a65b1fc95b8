package domain

import (
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestNewBooking(t *testing.T) {
	showingID := uuid.New()
	userID := uuid.New()

	b := NewBooking(showingID, []string{"A1", "A2", "A3"}, userID, 12.50, "key-1234567890abcdef")
	if b.Status != BookingPending {
		t.Errorf("expected PENDING, got %s", b.Status)
	}
	if b.TotalAmount != 37.50 {
		t.Errorf("expected total 37.50, got %v", b.TotalAmount)
	}
	if len(b.Seats) != 3 {
		t.Fatalf("expected 3 seats, got %d", len(b.Seats))
	}
	for _, s := range b.Seats {
		if s.Price != 12.50 {
			t.Errorf("seat %s: expected price 12.50, got %v", s.SeatNo, s.Price)
		}
	}
	nums := b.SeatNumbers()
	if len(nums) != 3 || nums[0] != "A1" || nums[2] != "A3" {
		t.Errorf("unexpected seat numbers: %v", nums)
	}
}

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from BookingStatus
		to   BookingStatus
		want bool
	}{
		{BookingPending, BookingCompleted, true},
		{BookingPending, BookingCancelled, true},
		{BookingCompleted, BookingCancelled, true},
		{BookingCompleted, BookingCompleted, false},
		{BookingCompleted, BookingPending, false},
		{BookingCancelled, BookingCompleted, false},
		{BookingCancelled, BookingCancelled, false},
		{BookingCancelled, BookingPending, false},
	}
	for _, c := range cases {
		b := Booking{Status: c.from}
		if got := b.CanTransition(c.to); got != c.want {
			t.Errorf("%s -> %s: expected %v, got %v", c.from, c.to, c.want, got)
		}
	}
}

func TestMayCancel(t *testing.T) {
	owner := uuid.New()
	b := Booking{UserID: owner}

	if !b.MayCancel(Identity{UserID: owner}) {
		t.Errorf("owner should be allowed to cancel")
	}
	if b.MayCancel(Identity{UserID: uuid.New()}) {
		t.Errorf("stranger should not be allowed to cancel")
	}
	if !b.MayCancel(Identity{UserID: uuid.New(), Admin: true}) {
		t.Errorf("admin should be allowed to cancel")
	}
}

func TestSeatLockLive(t *testing.T) {
	l := NewSeatLock(uuid.New(), []string{"A1"}, uuid.New(), 5*time.Minute)
	now := time.Now().UTC()
	if !l.Live(now) {
		t.Errorf("fresh lock should be live")
	}
	if l.Live(l.ExpiresAt) {
		t.Errorf("lock at its expiry instant should be dead")
	}
	if l.Live(l.ExpiresAt.Add(time.Second)) {
		t.Errorf("lock past expiry should be dead")
	}
}
