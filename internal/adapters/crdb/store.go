package crdb

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"

	"github.com/cinetick/movie-bookings/internal/domain"
	"github.com/cinetick/movie-bookings/internal/observability"
)

const (
	SerializationFailureCode = "40001"
)

// Schema is the DDL for the booking store. Tests create it directly; in
// deployments it is applied by migration tooling.
const Schema = `
CREATE TABLE IF NOT EXISTS seat_locks (
	id UUID PRIMARY KEY,
	lock_id UUID NOT NULL,
	showing_id UUID NOT NULL,
	seat_no TEXT NOT NULL,
	holder_id UUID NOT NULL,
	expires_at TIMESTAMPTZ NOT NULL,
	status TEXT NOT NULL CHECK (status IN ('ACTIVE', 'RELEASED', 'EXPIRED', 'CONSUMED')),
	UNIQUE (showing_id, seat_no) WHERE status = 'ACTIVE'
);
CREATE TABLE IF NOT EXISTS bookings (
	id UUID PRIMARY KEY,
	showing_id UUID NOT NULL,
	user_id UUID NOT NULL,
	status TEXT NOT NULL CHECK (status IN ('PENDING', 'COMPLETED', 'CANCELLED')),
	total_amount NUMERIC NOT NULL,
	payment_ref TEXT NOT NULL DEFAULT '',
	idempotency_key TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (idempotency_key)
);
CREATE TABLE IF NOT EXISTS booking_seats (
	booking_id UUID NOT NULL,
	showing_id UUID NOT NULL,
	seat_no TEXT NOT NULL,
	price NUMERIC NOT NULL,
	PRIMARY KEY (booking_id, seat_no)
);
CREATE TABLE IF NOT EXISTS outbox (
	id UUID PRIMARY KEY,
	aggregate_type TEXT NOT NULL,
	aggregate_id UUID NOT NULL,
	event_type TEXT NOT NULL,
	payload_json BYTES NOT NULL,
	status TEXT NOT NULL CHECK (status IN ('NEW', 'PUBLISHED', 'FAILED')),
	dedupe_key TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	published_at TIMESTAMPTZ
);
`

type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func (s *Store) WithTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	start := time.Now()
	defer func() {
		observability.DBTxDuration.Observe(time.Since(start).Seconds())
	}()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, "SET TRANSACTION ISOLATION LEVEL SERIALIZABLE")
	if err != nil {
		return err
	}

	err = fn(tx)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == SerializationFailureCode {
			return domain.ErrSerializationFailure
		}
		return err
	}

	return tx.Commit(ctx)
}

// AcquireLocks claims every seat in the lock or none of them. Expired
// ACTIVE rows for the requested seats are flipped first so a dead lock
// never blocks acquisition. Conflicting seats are collected and returned
// in a single SeatConflictError; returning it rolls the transaction back.
func (s *Store) AcquireLocks(ctx context.Context, tx pgx.Tx, lock domain.SeatLock, now time.Time) error {
	_, err := tx.Exec(ctx, `
		UPDATE seat_locks SET status = 'EXPIRED'
		WHERE showing_id = $1 AND seat_no = ANY($2) AND status = 'ACTIVE' AND expires_at <= $3
	`, lock.ShowingID, lock.Seats, now)
	if err != nil {
		return err
	}

	var conflicts []string
	rows, err := tx.Query(ctx, `
		SELECT bs.seat_no FROM booking_seats bs
		JOIN bookings b ON b.id = bs.booking_id
		WHERE bs.showing_id = $1 AND bs.seat_no = ANY($2) AND b.status != 'CANCELLED'
	`, lock.ShowingID, lock.Seats)
	if err != nil {
		return err
	}
	for rows.Next() {
		var seat string
		if err := rows.Scan(&seat); err != nil {
			rows.Close()
			return err
		}
		conflicts = append(conflicts, seat)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	booked := make(map[string]bool, len(conflicts))
	for _, seat := range conflicts {
		booked[seat] = true
	}

	for _, seat := range lock.Seats {
		if booked[seat] {
			continue
		}
		result, err := tx.Exec(ctx, `
			INSERT INTO seat_locks (id, lock_id, showing_id, seat_no, holder_id, expires_at, status)
			VALUES ($1, $2, $3, $4, $5, $6, 'ACTIVE')
			ON CONFLICT (showing_id, seat_no) WHERE status = 'ACTIVE' DO NOTHING
		`, uuid.New(), lock.ID, lock.ShowingID, seat, lock.HolderID, lock.ExpiresAt)
		if err != nil {
			return err
		}
		if result.RowsAffected() == 0 {
			conflicts = append(conflicts, seat)
		}
	}
	if len(conflicts) > 0 {
		return &domain.SeatConflictError{Seats: conflicts}
	}
	return nil
}

func (s *Store) AcquireSeatLocks(ctx context.Context, lock domain.SeatLock, now time.Time) error {
	return s.WithTx(ctx, func(tx pgx.Tx) error {
		return s.AcquireLocks(ctx, tx, lock, now)
	})
}

// ReleaseLocks releases only locks owned by holderID. Releasing a seat
// the caller does not hold is a no-op, never an error.
func (s *Store) ReleaseLocks(ctx context.Context, showingID uuid.UUID, seats []string, holderID uuid.UUID) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE seat_locks SET status = 'RELEASED'
		WHERE showing_id = $1 AND seat_no = ANY($2) AND holder_id = $3 AND status = 'ACTIVE'
	`, showingID, seats, holderID)
	return err
}

// SeatStates returns the live locks and booked seats for a showing. Both
// queries run against the pool concurrently; the lock query already
// filters out rows whose expiry has passed.
func (s *Store) SeatStates(ctx context.Context, showingID uuid.UUID, now time.Time) ([]domain.LockedSeat, []domain.BookedSeat, error) {
	var locked []domain.LockedSeat
	var booked []domain.BookedSeat

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		rows, err := s.pool.Query(gctx, `
			SELECT seat_no, holder_id, expires_at FROM seat_locks
			WHERE showing_id = $1 AND status = 'ACTIVE' AND expires_at > $2
		`, showingID, now)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var l domain.LockedSeat
			if err := rows.Scan(&l.SeatNo, &l.HolderID, &l.ExpiresAt); err != nil {
				return err
			}
			locked = append(locked, l)
		}
		return rows.Err()
	})
	g.Go(func() error {
		rows, err := s.pool.Query(gctx, `
			SELECT bs.seat_no, b.id FROM booking_seats bs
			JOIN bookings b ON b.id = bs.booking_id
			WHERE bs.showing_id = $1 AND b.status != 'CANCELLED'
		`, showingID)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var b domain.BookedSeat
			if err := rows.Scan(&b.SeatNo, &b.BookingID); err != nil {
				return err
			}
			booked = append(booked, b)
		}
		return rows.Err()
	})
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return locked, booked, nil
}

// CreateBooking converts live locks held by the booking's user into a
// PENDING ledger entry. The lock consumption, the booking insert and the
// outbox record are one atomic unit. A replayed idempotency key returns
// the stored booking without touching any seat; a key minted by another
// user is rejected.
func (s *Store) CreateBooking(ctx context.Context, tx pgx.Tx, b domain.Booking, now time.Time) (domain.Booking, error) {
	existing, err := s.bookingByIdempotencyKey(ctx, tx, b.IdempotencyKey)
	if err == nil {
		if existing.UserID != b.UserID {
			return domain.Booking{}, errors.Wrap(domain.ErrForbidden, "idempotency key belongs to another user")
		}
		return existing, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return domain.Booking{}, err
	}

	for _, seat := range b.Seats {
		result, err := tx.Exec(ctx, `
			UPDATE seat_locks SET status = 'CONSUMED'
			WHERE showing_id = $1 AND seat_no = $2 AND holder_id = $3 AND status = 'ACTIVE' AND expires_at > $4
		`, b.ShowingID, seat.SeatNo, b.UserID, now)
		if err != nil {
			return domain.Booking{}, err
		}
		if result.RowsAffected() == 0 {
			return domain.Booking{}, errors.Wrapf(domain.ErrLockExpiredOrStolen, "seat %s", seat.SeatNo)
		}
	}

	err = tx.QueryRow(ctx, `
		INSERT INTO bookings (id, showing_id, user_id, status, total_amount, idempotency_key)
		VALUES ($1, $2, $3, 'PENDING', $4, $5)
		RETURNING created_at, updated_at
	`, b.ID, b.ShowingID, b.UserID, b.TotalAmount, b.IdempotencyKey).Scan(&b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		return domain.Booking{}, err
	}
	b.Status = domain.BookingPending

	for _, seat := range b.Seats {
		_, err := tx.Exec(ctx, `
			INSERT INTO booking_seats (booking_id, showing_id, seat_no, price)
			VALUES ($1, $2, $3, $4)
		`, b.ID, b.ShowingID, seat.SeatNo, seat.Price)
		if err != nil {
			return domain.Booking{}, err
		}
	}

	if err := s.insertBookingEvent(ctx, tx, b, "booking.created"); err != nil {
		return domain.Booking{}, err
	}
	return b, nil
}

// CommitBooking runs CreateBooking in its own serializable transaction.
func (s *Store) CommitBooking(ctx context.Context, b domain.Booking, now time.Time) (domain.Booking, error) {
	var out domain.Booking
	err := s.WithTx(ctx, func(tx pgx.Tx) error {
		var err error
		out, err = s.CreateBooking(ctx, tx, b, now)
		return err
	})
	return out, err
}

// ConfirmPayment transitions PENDING -> COMPLETED and records the
// payment reference.
func (s *Store) ConfirmPayment(ctx context.Context, bookingID uuid.UUID, paymentRef string) (domain.Booking, error) {
	var out domain.Booking
	err := s.WithTx(ctx, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, `
			UPDATE bookings SET status = 'COMPLETED', payment_ref = $2, updated_at = now()
			WHERE id = $1 AND status = 'PENDING'
			RETURNING id, showing_id, user_id, status, total_amount, payment_ref, idempotency_key, created_at, updated_at
		`, bookingID, paymentRef).Scan(
			&out.ID, &out.ShowingID, &out.UserID, &out.Status, &out.TotalAmount,
			&out.PaymentRef, &out.IdempotencyKey, &out.CreatedAt, &out.UpdatedAt,
		)
		if errors.Is(err, pgx.ErrNoRows) {
			var status string
			err := tx.QueryRow(ctx, `SELECT status FROM bookings WHERE id = $1`, bookingID).Scan(&status)
			if errors.Is(err, pgx.ErrNoRows) {
				return domain.ErrNotFound
			}
			if err != nil {
				return err
			}
			return errors.Wrapf(domain.ErrInvalidState, "booking is %s", status)
		}
		if err != nil {
			return err
		}
		if err := s.loadSeats(ctx, tx, &out); err != nil {
			return err
		}
		return s.insertBookingEvent(ctx, tx, out, "booking.completed")
	})
	return out, err
}

// CancelBooking flips the booking to CANCELLED, which releases its seats
// in every derived read. Only the owner or an admin may cancel; a second
// cancel is a no-op.
func (s *Store) CancelBooking(ctx context.Context, bookingID uuid.UUID, actor domain.Identity) (domain.Booking, error) {
	var out domain.Booking
	err := s.WithTx(ctx, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, `
			SELECT id, showing_id, user_id, status, total_amount, payment_ref, idempotency_key, created_at, updated_at
			FROM bookings WHERE id = $1 FOR UPDATE
		`, bookingID).Scan(
			&out.ID, &out.ShowingID, &out.UserID, &out.Status, &out.TotalAmount,
			&out.PaymentRef, &out.IdempotencyKey, &out.CreatedAt, &out.UpdatedAt,
		)
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ErrNotFound
		}
		if err != nil {
			return err
		}
		if !out.MayCancel(actor) {
			return domain.ErrForbidden
		}
		if err := s.loadSeats(ctx, tx, &out); err != nil {
			return err
		}
		if out.Status == domain.BookingCancelled {
			return nil
		}
		_, err = tx.Exec(ctx, `
			UPDATE bookings SET status = 'CANCELLED', updated_at = now() WHERE id = $1
		`, bookingID)
		if err != nil {
			return err
		}
		out.Status = domain.BookingCancelled
		return s.insertBookingEvent(ctx, tx, out, "booking.cancelled")
	})
	return out, err
}

func (s *Store) GetBooking(ctx context.Context, bookingID uuid.UUID) (domain.Booking, error) {
	var out domain.Booking
	err := s.pool.QueryRow(ctx, `
		SELECT id, showing_id, user_id, status, total_amount, payment_ref, idempotency_key, created_at, updated_at
		FROM bookings WHERE id = $1
	`, bookingID).Scan(
		&out.ID, &out.ShowingID, &out.UserID, &out.Status, &out.TotalAmount,
		&out.PaymentRef, &out.IdempotencyKey, &out.CreatedAt, &out.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Booking{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Booking{}, err
	}

	rows, err := s.pool.Query(ctx, `
		SELECT seat_no, price FROM booking_seats WHERE booking_id = $1
	`, bookingID)
	if err != nil {
		return domain.Booking{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var seat domain.BookingSeat
		if err := rows.Scan(&seat.SeatNo, &seat.Price); err != nil {
			return domain.Booking{}, err
		}
		out.Seats = append(out.Seats, seat)
	}
	return out, rows.Err()
}

func (s *Store) BookingsByUser(ctx context.Context, userID uuid.UUID) ([]domain.Booking, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT b.id, b.showing_id, b.user_id, b.status, b.total_amount, b.payment_ref, b.idempotency_key,
		       b.created_at, b.updated_at, bs.seat_no, bs.price
		FROM bookings b
		JOIN booking_seats bs ON bs.booking_id = b.id
		WHERE b.user_id = $1
		ORDER BY b.created_at DESC, b.id
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var bookings []domain.Booking
	var current *domain.Booking
	for rows.Next() {
		var b domain.Booking
		var seat domain.BookingSeat
		if err := rows.Scan(
			&b.ID, &b.ShowingID, &b.UserID, &b.Status, &b.TotalAmount, &b.PaymentRef,
			&b.IdempotencyKey, &b.CreatedAt, &b.UpdatedAt, &seat.SeatNo, &seat.Price,
		); err != nil {
			return nil, err
		}
		if current == nil || current.ID != b.ID {
			if current != nil {
				bookings = append(bookings, *current)
			}
			current = &b
		}
		current.Seats = append(current.Seats, seat)
	}
	if current != nil {
		bookings = append(bookings, *current)
	}
	return bookings, rows.Err()
}

// ExpiredLocks returns ACTIVE locks whose expiry has passed, grouped by
// lock id, for the reaper. Reads never depend on this; it only keeps the
// table compact and lets the worker emit lock.expired events.
func (s *Store) ExpiredLocks(ctx context.Context, now time.Time, limit int) ([]domain.SeatLock, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT lock_id, showing_id, seat_no, holder_id, expires_at
		FROM seat_locks WHERE status = 'ACTIVE' AND expires_at <= $1
		ORDER BY lock_id LIMIT $2
	`, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var locks []domain.SeatLock
	var current *domain.SeatLock
	for rows.Next() {
		var lockID, showingID, holderID uuid.UUID
		var seatNo string
		var expiresAt time.Time
		if err := rows.Scan(&lockID, &showingID, &seatNo, &holderID, &expiresAt); err != nil {
			return nil, err
		}
		if current == nil || current.ID != lockID {
			if current != nil {
				locks = append(locks, *current)
			}
			current = &domain.SeatLock{ID: lockID, ShowingID: showingID, HolderID: holderID, ExpiresAt: expiresAt}
		}
		current.Seats = append(current.Seats, seatNo)
	}
	if current != nil {
		locks = append(locks, *current)
	}
	return locks, rows.Err()
}

func (s *Store) ExpireLock(ctx context.Context, lockID uuid.UUID) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE seat_locks SET status = 'EXPIRED' WHERE lock_id = $1 AND status = 'ACTIVE'
	`, lockID)
	return err
}

func (s *Store) bookingByIdempotencyKey(ctx context.Context, tx pgx.Tx, key string) (domain.Booking, error) {
	var out domain.Booking
	err := tx.QueryRow(ctx, `
		SELECT id, showing_id, user_id, status, total_amount, payment_ref, idempotency_key, created_at, updated_at
		FROM bookings WHERE idempotency_key = $1
	`, key).Scan(
		&out.ID, &out.ShowingID, &out.UserID, &out.Status, &out.TotalAmount,
		&out.PaymentRef, &out.IdempotencyKey, &out.CreatedAt, &out.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Booking{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Booking{}, err
	}
	if err := s.loadSeats(ctx, tx, &out); err != nil {
		return domain.Booking{}, err
	}
	return out, nil
}

func (s *Store) loadSeats(ctx context.Context, tx pgx.Tx, b *domain.Booking) error {
	rows, err := tx.Query(ctx, `
		SELECT seat_no, price FROM booking_seats WHERE booking_id = $1
	`, b.ID)
	if err != nil {
		return err
	}
	defer rows.Close()
	b.Seats = nil
	for rows.Next() {
		var seat domain.BookingSeat
		if err := rows.Scan(&seat.SeatNo, &seat.Price); err != nil {
			return err
		}
		b.Seats = append(b.Seats, seat)
	}
	return rows.Err()
}
