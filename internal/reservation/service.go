package reservation

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"

	mongoadapter "github.com/cinetick/movie-bookings/internal/adapters/mongo"
	"github.com/cinetick/movie-bookings/internal/domain"
	"github.com/cinetick/movie-bookings/internal/observability"
	"github.com/cinetick/movie-bookings/internal/payment"
)

// Store is the transactional seat/lock/booking store.
type Store interface {
	AcquireSeatLocks(ctx context.Context, lock domain.SeatLock, now time.Time) error
	ReleaseLocks(ctx context.Context, showingID uuid.UUID, seats []string, holderID uuid.UUID) error
	SeatStates(ctx context.Context, showingID uuid.UUID, now time.Time) ([]domain.LockedSeat, []domain.BookedSeat, error)
	CommitBooking(ctx context.Context, b domain.Booking, now time.Time) (domain.Booking, error)
	ConfirmPayment(ctx context.Context, bookingID uuid.UUID, paymentRef string) (domain.Booking, error)
	CancelBooking(ctx context.Context, bookingID uuid.UUID, actor domain.Identity) (domain.Booking, error)
	GetBooking(ctx context.Context, bookingID uuid.UUID) (domain.Booking, error)
	BookingsByUser(ctx context.Context, userID uuid.UUID) ([]domain.Booking, error)
}

// Catalog resolves showing metadata and seat layouts.
type Catalog interface {
	GetShowing(ctx context.Context, id uuid.UUID) (*mongoadapter.ShowingDoc, error)
}

// SeatCache is the optional redis fast path. A nil cache disables it;
// correctness comes from the store alone.
type SeatCache interface {
	SetSeatLock(ctx context.Context, showingID, seat, holderID string, ttl time.Duration) (bool, error)
	ReleaseSeatLock(ctx context.Context, showingID, seat, holderID string) error
}

// Service drives the reservation workflow: seat selection locks seats,
// payment converts them into a ledger entry, expiry or cancellation
// returns them to the pool.
type Service struct {
	store         Store
	catalog       Catalog
	seats         SeatCache
	gateway       payment.Gateway
	logger        observability.Logger
	lockTTL       time.Duration
	commitRetries int
}

func New(store Store, catalog Catalog, seats SeatCache, gateway payment.Gateway, logger observability.Logger, lockTTL time.Duration, commitRetries int) *Service {
	return &Service{
		store:         store,
		catalog:       catalog,
		seats:         seats,
		gateway:       gateway,
		logger:        logger,
		lockTTL:       lockTTL,
		commitRetries: commitRetries,
	}
}

// SeatMap is the derived view for one showing.
type SeatMap struct {
	Showing *mongoadapter.ShowingDoc
	Seats   map[string]domain.SeatState
}

func (s *Service) SeatMap(ctx context.Context, showingID uuid.UUID) (SeatMap, error) {
	showing, err := s.catalog.GetShowing(ctx, showingID)
	if err != nil {
		return SeatMap{}, err
	}
	locked, booked, err := s.store.SeatStates(ctx, showingID, time.Now().UTC())
	if err != nil {
		return SeatMap{}, err
	}
	return SeatMap{
		Showing: showing,
		Seats:   domain.SeatStatuses(showing.SeatNumbers(), locked, booked, time.Now().UTC()),
	}, nil
}

// LockSeats acquires an all-or-nothing hold on the requested seats.
// Conflicts are reported, not retried; the caller re-selects.
func (s *Service) LockSeats(ctx context.Context, showingID uuid.UUID, seatNos []string, holderID uuid.UUID) (domain.SeatLock, error) {
	if len(seatNos) == 0 {
		return domain.SeatLock{}, errors.Wrap(domain.ErrInvalidInput, "no seats requested")
	}
	showing, err := s.catalog.GetShowing(ctx, showingID)
	if err != nil {
		return domain.SeatLock{}, err
	}
	known := make(map[string]bool, len(showing.Seats))
	for _, seat := range showing.Seats {
		known[seat.Number] = true
	}
	for _, no := range seatNos {
		if !known[no] {
			return domain.SeatLock{}, errors.Wrapf(domain.ErrInvalidInput, "unknown seat %s", no)
		}
	}

	lock := domain.NewSeatLock(showingID, seatNos, holderID, s.lockTTL)

	if s.seats != nil {
		var mirrored []string
		var conflicts []string
		for _, seat := range lock.Seats {
			ok, err := s.seats.SetSeatLock(ctx, showingID.String(), seat, holderID.String(), s.lockTTL)
			if err != nil {
				s.logger.Warn("seat cache unavailable, falling through to store", err)
				break
			}
			if !ok {
				conflicts = append(conflicts, seat)
				continue
			}
			mirrored = append(mirrored, seat)
		}
		if len(conflicts) > 0 {
			s.releaseMirrors(ctx, showingID, mirrored, holderID)
			observability.SeatConflictsTotal.Inc()
			return domain.SeatLock{}, &domain.SeatConflictError{Seats: conflicts}
		}
	}

	if err := s.acquireWithRetries(ctx, lock); err != nil {
		s.releaseMirrors(ctx, showingID, lock.Seats, holderID)
		if _, ok := domain.AsSeatConflict(err); ok {
			observability.SeatConflictsTotal.Inc()
		}
		return domain.SeatLock{}, err
	}
	return lock, nil
}

// acquireWithRetries absorbs serialization aborts from racing
// acquisitions. The losing transaction is retried until the survivor's
// rows are visible, so the caller sees either a clean success or a
// conflict naming the contested seats, never a raw 40001.
func (s *Service) acquireWithRetries(ctx context.Context, lock domain.SeatLock) error {
	var err error
	for attempt := 0; attempt <= s.commitRetries; attempt++ {
		err = s.store.AcquireSeatLocks(ctx, lock, time.Now().UTC())
		if !errors.Is(err, domain.ErrSerializationFailure) {
			return err
		}
		backoff := time.Duration(1<<attempt) * 50 * time.Millisecond
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
	}
	return err
}

// UnlockSeats releases the caller's locks. Seats not locked by the
// caller are skipped silently, which makes cleanup races harmless.
func (s *Service) UnlockSeats(ctx context.Context, showingID uuid.UUID, seatNos []string, holderID uuid.UUID) error {
	if err := s.store.ReleaseLocks(ctx, showingID, seatNos, holderID); err != nil {
		return err
	}
	s.releaseMirrors(ctx, showingID, seatNos, holderID)
	return nil
}

// CreateBooking converts the caller's live locks into a PENDING ledger
// entry. Safe to retry: the idempotency key pins the result and
// serialization failures are retried with backoff, since the caller may
// already have paid.
func (s *Service) CreateBooking(ctx context.Context, showingID uuid.UUID, seatNos []string, holderID uuid.UUID, totalAmount float64, idempotencyKey string) (domain.Booking, error) {
	if idempotencyKey == "" {
		return domain.Booking{}, errors.Wrap(domain.ErrInvalidInput, "missing idempotency key")
	}
	if len(seatNos) == 0 {
		return domain.Booking{}, errors.Wrap(domain.ErrInvalidInput, "no seats requested")
	}
	showing, err := s.catalog.GetShowing(ctx, showingID)
	if err != nil {
		return domain.Booking{}, err
	}
	expected := showing.SeatPrice * float64(len(seatNos))
	if totalAmount != 0 && totalAmount != expected {
		return domain.Booking{}, errors.Wrapf(domain.ErrInvalidInput, "amount mismatch: want %.2f", expected)
	}

	b := domain.NewBooking(showingID, seatNos, holderID, showing.SeatPrice, idempotencyKey)

	out, err := s.withCommitRetries(ctx, func() (domain.Booking, error) {
		return s.store.CommitBooking(ctx, b, time.Now().UTC())
	})
	if err != nil {
		return domain.Booking{}, err
	}
	s.releaseMirrors(ctx, showingID, seatNos, holderID)
	return out, nil
}

// ConfirmPayment completes a pending booking. Retried on serialization
// failures because the charge has already happened and must not be lost.
func (s *Service) ConfirmPayment(ctx context.Context, bookingID uuid.UUID, paymentRef string) (domain.Booking, error) {
	return s.withCommitRetries(ctx, func() (domain.Booking, error) {
		return s.store.ConfirmPayment(ctx, bookingID, paymentRef)
	})
}

// Pay validates the payment method, charges the external gateway and
// confirms the booking. Gateway errors surface as upstream failures with
// the booking left PENDING so the client knows whether a charge occurred.
func (s *Service) Pay(ctx context.Context, bookingID uuid.UUID, actor domain.Identity, method payment.Method) (domain.Booking, error) {
	b, err := s.store.GetBooking(ctx, bookingID)
	if err != nil {
		return domain.Booking{}, err
	}
	if !actor.Admin && actor.UserID != b.UserID {
		return domain.Booking{}, domain.ErrForbidden
	}
	if b.Status != domain.BookingPending {
		return domain.Booking{}, errors.Wrapf(domain.ErrInvalidState, "booking is %s", b.Status)
	}
	if err := method.Validate(); err != nil {
		return domain.Booking{}, err
	}

	result, err := s.gateway.Charge(ctx, payment.ChargeRequest{
		BookingID: b.ID,
		UserID:    b.UserID,
		Amount:    b.TotalAmount,
		Method:    method,
	})
	if err != nil {
		return domain.Booking{}, err
	}

	out, err := s.ConfirmPayment(ctx, bookingID, result.Reference)
	if err != nil {
		// The charge went through; this booking needs reconciliation,
		// never silent loss.
		s.logger.WithField("booking_id", bookingID.String()).
			WithField("payment_ref", result.Reference).
			Error("paid booking failed to confirm, reconciliation required", err)
		return domain.Booking{}, err
	}
	return out, nil
}

// CancelBooking is idempotent and releases the booking's seats back to
// the pool via the derived view.
func (s *Service) CancelBooking(ctx context.Context, bookingID uuid.UUID, actor domain.Identity) (domain.Booking, error) {
	return s.store.CancelBooking(ctx, bookingID, actor)
}

func (s *Service) GetBooking(ctx context.Context, bookingID uuid.UUID, actor domain.Identity) (domain.Booking, error) {
	b, err := s.store.GetBooking(ctx, bookingID)
	if err != nil {
		return domain.Booking{}, err
	}
	if !actor.Admin && actor.UserID != b.UserID {
		return domain.Booking{}, domain.ErrForbidden
	}
	return b, nil
}

func (s *Service) ListBookings(ctx context.Context, actor domain.Identity) ([]domain.Booking, error) {
	return s.store.BookingsByUser(ctx, actor.UserID)
}

func (s *Service) withCommitRetries(ctx context.Context, fn func() (domain.Booking, error)) (domain.Booking, error) {
	var out domain.Booking
	var err error
	for attempt := 0; attempt <= s.commitRetries; attempt++ {
		out, err = fn()
		if !errors.Is(err, domain.ErrSerializationFailure) {
			return out, err
		}
		observability.CommitRetriesTotal.Inc()
		backoff := time.Duration(1<<attempt) * 100 * time.Millisecond
		select {
		case <-ctx.Done():
			return domain.Booking{}, ctx.Err()
		case <-time.After(backoff):
		}
	}
	return out, err
}

func (s *Service) releaseMirrors(ctx context.Context, showingID uuid.UUID, seats []string, holderID uuid.UUID) {
	if s.seats == nil {
		return
	}
	for _, seat := range seats {
		if err := s.seats.ReleaseSeatLock(ctx, showingID.String(), seat, holderID.String()); err != nil {
			s.logger.Warn("failed to release seat cache key", err)
		}
	}
}
