package http

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	mongoadapter "github.com/cinetick/movie-bookings/internal/adapters/mongo"
	"github.com/cinetick/movie-bookings/internal/config"
	"github.com/cinetick/movie-bookings/internal/domain"
	"github.com/cinetick/movie-bookings/internal/idempotency"
	"github.com/cinetick/movie-bookings/internal/payment"
	"github.com/cinetick/movie-bookings/internal/reservation"
)

var validate = validator.New()

type Handlers struct {
	cfg     *config.Config
	svc     *reservation.Service
	catalog *mongoadapter.Catalog
	idemp   *idempotency.Idempotency
}

func NewHandlers(cfg *config.Config, svc *reservation.Service, catalog *mongoadapter.Catalog, idemp *idempotency.Idempotency) *Handlers {
	return &Handlers{cfg: cfg, svc: svc, catalog: catalog, idemp: idemp}
}

type bookingJSON struct {
	ID          uuid.UUID `json:"id"`
	ShowID      uuid.UUID `json:"show_id"`
	UserID      uuid.UUID `json:"user_id"`
	Status      string    `json:"status"`
	TotalAmount float64   `json:"total_amount"`
	PaymentRef  string    `json:"payment_ref,omitempty"`
	Seats       []string  `json:"seat_numbers"`
	CreatedAt   time.Time `json:"created_at"`
}

func toBookingJSON(b domain.Booking) bookingJSON {
	return bookingJSON{
		ID:          b.ID,
		ShowID:      b.ShowingID,
		UserID:      b.UserID,
		Status:      string(b.Status),
		TotalAmount: b.TotalAmount,
		PaymentRef:  b.PaymentRef,
		Seats:       b.SeatNumbers(),
		CreatedAt:   b.CreatedAt,
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	if ce, ok := domain.AsSeatConflict(err); ok {
		writeJSON(w, http.StatusConflict, map[string]interface{}{
			"error":     "seats_unavailable",
			"conflicts": ce.Seats,
		})
		return
	}
	switch {
	case errors.Is(err, domain.ErrNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not_found"})
	case errors.Is(err, domain.ErrLockExpiredOrStolen):
		writeJSON(w, http.StatusConflict, map[string]string{"error": "lock_expired_or_stolen", "detail": err.Error()})
	case errors.Is(err, domain.ErrForbidden):
		writeJSON(w, http.StatusForbidden, map[string]string{"error": "forbidden"})
	case errors.Is(err, domain.ErrInvalidState):
		writeJSON(w, http.StatusConflict, map[string]string{"error": "invalid_state", "detail": err.Error()})
	case errors.Is(err, domain.ErrInvalidInput):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_input", "detail": err.Error()})
	case errors.Is(err, domain.ErrUpstreamPayment):
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": "upstream_payment_failure", "detail": err.Error()})
	default:
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal"})
	}
}

func showingIDParam(r *http.Request) (uuid.UUID, error) {
	return uuid.Parse(chi.URLParam(r, "id"))
}

// GetShow returns showing metadata with the derived seat map.
func (h *Handlers) GetShow(w http.ResponseWriter, r *http.Request) {
	id, err := showingIDParam(r)
	if err != nil {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return
	}
	sm, err := h.svc.SeatMap(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}

	seats := make(map[string]map[string]interface{}, len(sm.Seats))
	for no, st := range sm.Seats {
		entry := map[string]interface{}{"status": st.Status}
		switch st.Status {
		case domain.SeatLocked:
			entry["expires_at"] = st.ExpiresAt.Format(time.RFC3339)
		case domain.SeatBooked:
			entry["booking_id"] = st.BookingID
		}
		seats[no] = entry
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"showing": sm.Showing,
		"seats":   seats,
	})
}

func (h *Handlers) ListShows(w http.ResponseWriter, r *http.Request) {
	filter := mongoadapter.ShowingFilter{
		MovieTitle: r.URL.Query().Get("movie_title"),
		Theater:    r.URL.Query().Get("theater"),
	}
	docs, err := h.catalog.ListShowings(r.Context(), filter)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"showings": docs})
}

type createShowingRequest struct {
	MovieTitle  string    `json:"movie_title" validate:"required"`
	Theater     string    `json:"theater" validate:"required"`
	Screen      string    `json:"screen" validate:"required"`
	StartsAt    time.Time `json:"starts_at" validate:"required"`
	SeatPrice   float64   `json:"seat_price" validate:"required,gt=0"`
	Rows        int       `json:"rows" validate:"required,min=1,max=26"`
	SeatsPerRow int       `json:"seats_per_row" validate:"required,min=1,max=50"`
}

func (h *Handlers) CreateShow(w http.ResponseWriter, r *http.Request) {
	var req createShowingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := validate.Struct(req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	doc := mongoadapter.ShowingDoc{
		ID:         uuid.New(),
		MovieTitle: req.MovieTitle,
		Theater:    req.Theater,
		Screen:     req.Screen,
		StartsAt:   req.StartsAt,
		SeatPrice:  req.SeatPrice,
	}
	for row := 0; row < req.Rows; row++ {
		label := string(rune('A' + row))
		for n := 1; n <= req.SeatsPerRow; n++ {
			doc.Seats = append(doc.Seats, mongoadapter.SeatDoc{
				Number: label + strconv.Itoa(n),
				Row:    label,
			})
		}
	}
	if err := h.catalog.CreateShowing(r.Context(), doc); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, doc)
}

type seatNumbersRequest struct {
	SeatNumbers []string `json:"seat_numbers" validate:"required,min=1,dive,required"`
}

func (h *Handlers) LockSeats(w http.ResponseWriter, r *http.Request) {
	id, err := showingIDParam(r)
	if err != nil {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return
	}
	identity, ok := IdentityFrom(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	var req seatNumbersRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := validate.Struct(req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	lock, err := h.svc.LockSeats(r.Context(), id, req.SeatNumbers, identity.UserID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"lock_id":    lock.ID,
		"expires_at": lock.ExpiresAt.Format(time.RFC3339),
	})
}

func (h *Handlers) UnlockSeats(w http.ResponseWriter, r *http.Request) {
	id, err := showingIDParam(r)
	if err != nil {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return
	}
	identity, ok := IdentityFrom(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	var req seatNumbersRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := validate.Struct(req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := h.svc.UnlockSeats(r.Context(), id, req.SeatNumbers, identity.UserID); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type createBookingRequest struct {
	ShowID      string   `json:"show_id" validate:"required,uuid4"`
	SeatNumbers []string `json:"seat_numbers" validate:"required,min=1,dive,required"`
	TotalAmount float64  `json:"total_amount" validate:"gte=0"`
}

func (h *Handlers) CreateBooking(w http.ResponseWriter, r *http.Request) {
	identity, ok := IdentityFrom(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	// Replays are scoped to the caller; another user presenting the same
	// key goes through the ledger, which rejects the foreign key.
	key := r.Header.Get("Idempotency-Key")
	existing, err := h.idemp.Get(r.Context(), identity.UserID.String(), key)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if existing != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(existing.Status)
		w.Write(existing.Result)
		return
	}

	var req createBookingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := validate.Struct(req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	showID, err := uuid.Parse(req.ShowID)
	if err != nil {
		http.Error(w, "invalid show_id", http.StatusBadRequest)
		return
	}

	booking, err := h.svc.CreateBooking(r.Context(), showID, req.SeatNumbers, identity.UserID, req.TotalAmount, key)
	if err != nil {
		writeError(w, err)
		return
	}

	data, _ := json.Marshal(toBookingJSON(booking))
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	w.Write(data)

	h.idemp.Set(r.Context(), identity.UserID.String(), key, idempotency.Response{Status: http.StatusCreated, Result: data})
}

func (h *Handlers) GetBooking(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return
	}
	identity, ok := IdentityFrom(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	booking, err := h.svc.GetBooking(r.Context(), id, identity)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toBookingJSON(booking))
}

func (h *Handlers) ListBookings(w http.ResponseWriter, r *http.Request) {
	identity, ok := IdentityFrom(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	bookings, err := h.svc.ListBookings(r.Context(), identity)
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]bookingJSON, len(bookings))
	for i, b := range bookings {
		out[i] = toBookingJSON(b)
	}
	writeJSON(w, http.StatusOK, out)
}

type updateBookingRequest struct {
	PaymentStatus string `json:"payment_status" validate:"required,oneof=completed cancelled"`
	PaymentRef    string `json:"payment_ref"`
}

// UpdateBooking drives the two payment-status transitions a client may
// request: completed (with the gateway reference) or cancelled.
func (h *Handlers) UpdateBooking(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return
	}
	identity, ok := IdentityFrom(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	var req updateBookingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := validate.Struct(req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var booking domain.Booking
	switch req.PaymentStatus {
	case "completed":
		// Ownership check up front; ConfirmPayment itself is also used
		// by the gateway callback, which has no end-user identity.
		if _, err := h.svc.GetBooking(r.Context(), id, identity); err != nil {
			writeError(w, err)
			return
		}
		booking, err = h.svc.ConfirmPayment(r.Context(), id, req.PaymentRef)
	case "cancelled":
		booking, err = h.svc.CancelBooking(r.Context(), id, identity)
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toBookingJSON(booking))
}

type payRequest struct {
	Method payment.Method `json:"method"`
}

func (h *Handlers) PayBooking(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return
	}
	identity, ok := IdentityFrom(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	var req payRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	booking, err := h.svc.Pay(r.Context(), id, identity, req.Method)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toBookingJSON(booking))
}

type paymentCallbackRequest struct {
	BookingID     uuid.UUID `json:"booking_id"`
	Status        string    `json:"status"`
	TransactionID string    `json:"transaction_id"`
}

// PaymentCallback is the gateway-side notification. Success confirms the
// booking; failure cancels it so the seats return to the pool.
func (h *Handlers) PaymentCallback(w http.ResponseWriter, r *http.Request) {
	var req paymentCallbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var err error
	if req.Status == "SUCCEEDED" {
		_, err = h.svc.ConfirmPayment(r.Context(), req.BookingID, req.TransactionID)
	} else {
		_, err = h.svc.CancelBooking(r.Context(), req.BookingID, domain.Identity{Admin: true})
	}
	if err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (h *Handlers) Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func (h *Handlers) Readyz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("Ready"))
}
