package crdb_test

import (
	"context"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/cinetick/movie-bookings/internal/adapters/crdb"
	"github.com/cinetick/movie-bookings/internal/domain"
)

func startStore(t *testing.T) *crdb.Store {
	t.Helper()
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "cockroachdb/cockroach:v24.1.1",
			Cmd:          []string{"start-single-node", "--insecure"},
			ExposedPorts: []string{"26257/tcp"},
			WaitingFor:   wait.ForHTTP("/health?ready=1").WithPort("8080"),
		},
		Started: true,
	})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { container.Terminate(ctx) })

	dsn, err := container.Endpoint(ctx, "postgresql")
	if err != nil {
		t.Fatal(err)
	}

	pool, err := pgxpool.New(ctx, dsn+"/moviebookings?sslmode=disable")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(pool.Close)

	if _, err := pool.Exec(ctx, `CREATE DATABASE IF NOT EXISTS moviebookings`); err != nil {
		t.Fatal(err)
	}
	if _, err := pool.Exec(ctx, crdb.Schema); err != nil {
		t.Fatal(err)
	}
	return crdb.NewStore(pool)
}

func TestStore_AcquireSeatLocks(t *testing.T) {
	store := startStore(t)
	ctx := context.Background()
	now := time.Now().UTC()
	showingID := uuid.New()

	holder := uuid.New()
	lock := domain.NewSeatLock(showingID, []string{"A1", "A2", "A3"}, holder, 5*time.Minute)
	if err := store.AcquireSeatLocks(ctx, lock, now); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	// A rival asking for an overlapping set gets every conflicting seat
	// back and claims nothing.
	rival := domain.NewSeatLock(showingID, []string{"A2", "A3", "A4"}, uuid.New(), 5*time.Minute)
	err := store.AcquireSeatLocks(ctx, rival, now)
	conflict, ok := domain.AsSeatConflict(err)
	if !ok {
		t.Fatalf("expected seat conflict, got %v", err)
	}
	if len(conflict.Seats) != 2 {
		t.Errorf("expected conflicts on A2 and A3, got %v", conflict.Seats)
	}

	locked, _, err := store.SeatStates(ctx, showingID, now)
	if err != nil {
		t.Fatal(err)
	}
	for _, l := range locked {
		if l.HolderID == rival.HolderID {
			t.Errorf("seat %s leaked from failed acquisition", l.SeatNo)
		}
	}
	if len(locked) != 3 {
		t.Errorf("expected 3 locked seats, got %d", len(locked))
	}

	// Releasing with the wrong holder is a silent no-op.
	if err := store.ReleaseLocks(ctx, showingID, []string{"A1"}, rival.HolderID); err != nil {
		t.Errorf("foreign release should succeed as a no-op, got %v", err)
	}
	locked, _, err = store.SeatStates(ctx, showingID, now)
	if err != nil {
		t.Fatal(err)
	}
	if len(locked) != 3 {
		t.Errorf("foreign release must not touch the lock, %d seats remain", len(locked))
	}

	// Releasing and reacquiring must succeed.
	if err := store.ReleaseLocks(ctx, showingID, []string{"A1"}, holder); err != nil {
		t.Fatal(err)
	}
	retry := domain.NewSeatLock(showingID, []string{"A1"}, rival.HolderID, 5*time.Minute)
	if err := store.AcquireSeatLocks(ctx, retry, now); err != nil {
		t.Errorf("released seat should be acquirable, got %v", err)
	}
}

func TestStore_ConcurrentAcquireSameSeat(t *testing.T) {
	store := startStore(t)
	ctx := context.Background()
	now := time.Now().UTC()
	showingID := uuid.New()

	results := make(chan error, 2)
	for i := 0; i < 2; i++ {
		go func() {
			lock := domain.NewSeatLock(showingID, []string{"G7"}, uuid.New(), 5*time.Minute)
			// The aborted transaction is retried, as the workflow layer
			// does, until the survivor's row is visible.
			var err error
			for attempt := 0; attempt < 4; attempt++ {
				err = store.AcquireSeatLocks(ctx, lock, now)
				if !errors.Is(err, domain.ErrSerializationFailure) {
					break
				}
				time.Sleep(50 * time.Millisecond)
			}
			results <- err
		}()
	}

	var wins, losses int
	for i := 0; i < 2; i++ {
		err := <-results
		if err == nil {
			wins++
			continue
		}
		conflict, ok := domain.AsSeatConflict(err)
		if !ok {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(conflict.Seats) != 1 || conflict.Seats[0] != "G7" {
			t.Errorf("conflict should name G7, got %v", conflict.Seats)
		}
		losses++
	}
	if wins != 1 || losses != 1 {
		t.Errorf("expected exactly one winner, got %d wins and %d losses", wins, losses)
	}
}

func TestStore_AcquireOverExpiredLock(t *testing.T) {
	store := startStore(t)
	ctx := context.Background()
	showingID := uuid.New()

	stale := domain.SeatLock{
		ID:        uuid.New(),
		ShowingID: showingID,
		Seats:     []string{"B1", "B2"},
		HolderID:  uuid.New(),
		ExpiresAt: time.Now().UTC().Add(time.Millisecond),
	}
	if err := store.AcquireSeatLocks(ctx, stale, time.Now().UTC()); err != nil {
		t.Fatal(err)
	}

	// The stale rows are still ACTIVE in the table; acquisition must flip
	// them rather than conflict.
	later := time.Now().UTC().Add(time.Second)
	fresh := domain.NewSeatLock(showingID, []string{"B1", "B2"}, uuid.New(), 5*time.Minute)
	if err := store.AcquireSeatLocks(ctx, fresh, later); err != nil {
		t.Fatalf("expired lock should not block acquisition, got %v", err)
	}

	locked, _, err := store.SeatStates(ctx, showingID, later)
	if err != nil {
		t.Fatal(err)
	}
	if len(locked) != 2 {
		t.Fatalf("expected 2 locked seats, got %d", len(locked))
	}
	for _, l := range locked {
		if l.HolderID != fresh.HolderID {
			t.Errorf("seat %s still held by the stale holder", l.SeatNo)
		}
	}
}

func TestStore_CommitBookingConsumesLocks(t *testing.T) {
	store := startStore(t)
	ctx := context.Background()
	now := time.Now().UTC()
	showingID := uuid.New()
	user := uuid.New()

	lock := domain.NewSeatLock(showingID, []string{"C1", "C2"}, user, 5*time.Minute)
	if err := store.AcquireSeatLocks(ctx, lock, now); err != nil {
		t.Fatal(err)
	}

	b := domain.NewBooking(showingID, []string{"C1", "C2"}, user, 10.00, "key-commit-1111111111")
	created, err := store.CommitBooking(ctx, b, now)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if created.Status != domain.BookingPending {
		t.Errorf("expected PENDING, got %s", created.Status)
	}
	if created.CreatedAt.IsZero() {
		t.Errorf("created_at not populated")
	}

	locked, booked, err := store.SeatStates(ctx, showingID, now)
	if err != nil {
		t.Fatal(err)
	}
	if len(locked) != 0 {
		t.Errorf("locks should be consumed, %d still active", len(locked))
	}
	if len(booked) != 2 {
		t.Errorf("expected 2 booked seats, got %d", len(booked))
	}

	// Replaying the same key returns the stored booking untouched.
	replay, err := store.CommitBooking(ctx, domain.NewBooking(showingID, []string{"C1", "C2"}, user, 10.00, "key-commit-1111111111"), now)
	if err != nil {
		t.Fatalf("replay failed: %v", err)
	}
	if replay.ID != created.ID {
		t.Errorf("replay produced a new booking: %s vs %s", replay.ID, created.ID)
	}
	if len(replay.Seats) != 2 {
		t.Errorf("replay should carry seats, got %d", len(replay.Seats))
	}

	// The key is owned by its minter; another user presenting it is
	// rejected rather than handed someone else's booking.
	foreign := domain.NewBooking(showingID, []string{"C1", "C2"}, uuid.New(), 10.00, "key-commit-1111111111")
	if _, err := store.CommitBooking(ctx, foreign, now); !errors.Is(err, domain.ErrForbidden) {
		t.Errorf("expected foreign key to be rejected, got %v", err)
	}

	// One booking.created event, and only one, despite the replay.
	records, err := store.GetUnpublishedOutbox(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	var createdEvents int
	for _, rec := range records {
		if rec.EventType == "booking.created" && rec.AggregateID == created.ID {
			createdEvents++
		}
	}
	if createdEvents != 1 {
		t.Errorf("expected 1 booking.created event, got %d", createdEvents)
	}
}

func TestStore_CommitBookingWithoutLiveLock(t *testing.T) {
	store := startStore(t)
	ctx := context.Background()
	showingID := uuid.New()
	user := uuid.New()

	// No lock at all.
	b := domain.NewBooking(showingID, []string{"D1"}, user, 10.00, "key-nolock-1111111111")
	if _, err := store.CommitBooking(ctx, b, time.Now().UTC()); !errors.Is(err, domain.ErrLockExpiredOrStolen) {
		t.Errorf("expected lock expired or stolen, got %v", err)
	}

	// Lock exists but its expiry precedes the commit clock.
	stale := domain.SeatLock{
		ID:        uuid.New(),
		ShowingID: showingID,
		Seats:     []string{"D2"},
		HolderID:  user,
		ExpiresAt: time.Now().UTC().Add(time.Millisecond),
	}
	if err := store.AcquireSeatLocks(ctx, stale, time.Now().UTC()); err != nil {
		t.Fatal(err)
	}
	late := domain.NewBooking(showingID, []string{"D2"}, user, 10.00, "key-late-111111111111")
	if _, err := store.CommitBooking(ctx, late, time.Now().UTC().Add(time.Second)); !errors.Is(err, domain.ErrLockExpiredOrStolen) {
		t.Errorf("expected lock expired or stolen, got %v", err)
	}

	// Neither attempt may leave a partial booking behind.
	if _, err := store.GetBooking(ctx, b.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("failed commit left a booking row: %v", err)
	}
}

func TestStore_PaymentAndCancellation(t *testing.T) {
	store := startStore(t)
	ctx := context.Background()
	now := time.Now().UTC()
	showingID := uuid.New()
	user := uuid.New()

	lock := domain.NewSeatLock(showingID, []string{"E1", "E2"}, user, 5*time.Minute)
	if err := store.AcquireSeatLocks(ctx, lock, now); err != nil {
		t.Fatal(err)
	}
	created, err := store.CommitBooking(ctx, domain.NewBooking(showingID, []string{"E1", "E2"}, user, 12.50, "key-pay-1111111111111"), now)
	if err != nil {
		t.Fatal(err)
	}

	confirmed, err := store.ConfirmPayment(ctx, created.ID, "ch_789")
	if err != nil {
		t.Fatalf("confirm failed: %v", err)
	}
	if confirmed.Status != domain.BookingCompleted || confirmed.PaymentRef != "ch_789" {
		t.Errorf("unexpected confirmed booking: %s %q", confirmed.Status, confirmed.PaymentRef)
	}

	if _, err := store.ConfirmPayment(ctx, created.ID, "ch_789"); !errors.Is(err, domain.ErrInvalidState) {
		t.Errorf("double confirm should be invalid state, got %v", err)
	}
	if _, err := store.ConfirmPayment(ctx, uuid.New(), "ch_000"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected not found, got %v", err)
	}

	if _, err := store.CancelBooking(ctx, created.ID, domain.Identity{UserID: uuid.New()}); !errors.Is(err, domain.ErrForbidden) {
		t.Errorf("stranger cancel should be forbidden, got %v", err)
	}

	cancelled, err := store.CancelBooking(ctx, created.ID, domain.Identity{UserID: user})
	if err != nil {
		t.Fatalf("cancel failed: %v", err)
	}
	if cancelled.Status != domain.BookingCancelled {
		t.Errorf("expected CANCELLED, got %s", cancelled.Status)
	}

	// Cancellation keeps the row but frees the seats in derived reads.
	_, booked, err := store.SeatStates(ctx, showingID, now)
	if err != nil {
		t.Fatal(err)
	}
	if len(booked) != 0 {
		t.Errorf("cancelled seats still read booked: %v", booked)
	}
	kept, err := store.GetBooking(ctx, created.ID)
	if err != nil {
		t.Fatalf("cancelled booking must stay readable: %v", err)
	}
	if kept.Status != domain.BookingCancelled || len(kept.Seats) != 2 {
		t.Errorf("unexpected cancelled booking: %s with %d seats", kept.Status, len(kept.Seats))
	}

	// Second cancel is a no-op.
	if _, err := store.CancelBooking(ctx, created.ID, domain.Identity{UserID: user}); err != nil {
		t.Errorf("second cancel should be a no-op, got %v", err)
	}

	retry := domain.NewSeatLock(showingID, []string{"E1"}, uuid.New(), 5*time.Minute)
	if err := store.AcquireSeatLocks(ctx, retry, now); err != nil {
		t.Errorf("seat from cancelled booking should be lockable, got %v", err)
	}
}

func TestStore_ExpiredLocksReaper(t *testing.T) {
	store := startStore(t)
	ctx := context.Background()
	showingID := uuid.New()

	stale := domain.SeatLock{
		ID:        uuid.New(),
		ShowingID: showingID,
		Seats:     []string{"F1", "F2"},
		HolderID:  uuid.New(),
		ExpiresAt: time.Now().UTC().Add(time.Millisecond),
	}
	if err := store.AcquireSeatLocks(ctx, stale, time.Now().UTC()); err != nil {
		t.Fatal(err)
	}
	live := domain.NewSeatLock(showingID, []string{"F3"}, uuid.New(), 5*time.Minute)
	if err := store.AcquireSeatLocks(ctx, live, time.Now().UTC()); err != nil {
		t.Fatal(err)
	}

	later := time.Now().UTC().Add(time.Second)
	expired, err := store.ExpiredLocks(ctx, later, 100)
	if err != nil {
		t.Fatal(err)
	}
	if len(expired) != 1 {
		t.Fatalf("expected 1 expired lock, got %d", len(expired))
	}
	if expired[0].ID != stale.ID || len(expired[0].Seats) != 2 {
		t.Errorf("unexpected expired lock: %s with seats %v", expired[0].ID, expired[0].Seats)
	}

	if err := store.ExpireLock(ctx, expired[0].ID); err != nil {
		t.Fatal(err)
	}
	again, err := store.ExpiredLocks(ctx, later, 100)
	if err != nil {
		t.Fatal(err)
	}
	if len(again) != 0 {
		t.Errorf("reaped lock reported again: %v", again)
	}
}
