package domain

import (
	"fmt"
	"strings"

	"github.com/cockroachdb/errors"
)

var (
	ErrSerializationFailure = errors.New("serialization failure")
	ErrNotFound             = errors.New("not found")
	ErrLockExpiredOrStolen  = errors.New("lock expired or stolen")
	ErrForbidden            = errors.New("forbidden")
	ErrInvalidState         = errors.New("invalid state")
	ErrUpstreamPayment      = errors.New("upstream payment failure")
	ErrInvalidInput         = errors.New("invalid input")
)

// SeatConflictError names the exact seats that could not be locked so the
// client can refresh just those in the seat map.
type SeatConflictError struct {
	Seats []string
}

func (e *SeatConflictError) Error() string {
	return fmt.Sprintf("seats unavailable: %s", strings.Join(e.Seats, ", "))
}

func AsSeatConflict(err error) (*SeatConflictError, bool) {
	var ce *SeatConflictError
	if errors.As(err, &ce) {
		return ce, true
	}
	return nil, false
}
