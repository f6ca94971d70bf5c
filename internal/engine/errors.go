package engine

import "errors"

// Expected negative outcomes of booking and cancellation. These are
// decision results, not faults; infrastructure errors are returned
// wrapped and separately.
var (
	ErrSessionNotFound     = errors.New("session not found")
	ErrMemberNotFound      = errors.New("member not found")
	ErrReservationNotFound = errors.New("reservation not found")
	ErrSessionClosed       = errors.New("session is closed for booking")
	ErrSessionStarted      = errors.New("session has already started")
	ErrScheduleConflict    = errors.New("member has an overlapping reservation")
	ErrCapacityExceeded    = errors.New("session is fully booked")
	ErrAlreadyBooked       = errors.New("member has already booked this session")
)
