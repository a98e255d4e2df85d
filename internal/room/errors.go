package room

import (
	"errors"
	"fmt"
)

var (
	ErrAlreadyJoined      = errors.New("already in a room")
	ErrNotJoined          = errors.New("not in a room")
	ErrNotHost            = errors.New("only the host can do this")
	ErrUnknownParticipant = errors.New("unknown participant")
	ErrMediaDenied        = errors.New("media access denied")
	ErrVideoUnavailable   = errors.New("no camera available")
	ErrInvalidRoomID      = errors.New("invalid room id")
	ErrClosed             = errors.New("room closed")
)

// Error records the room operation that failed.
type Error struct {
	Op          string
	Participant string
	Err         error
	Details     string
}

func (e *Error) Error() string {
	if e.Participant != "" {
		return fmt.Sprintf("%s %s: %v", e.Op, e.Participant, e.Err)
	}
	if e.Details != "" {
		return fmt.Sprintf("%s: %v (%s)", e.Op, e.Err, e.Details)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func NewError(op string, err error) *Error {
	return &Error{Op: op, Err: err}
}

func NewParticipantError(op, participant string, err error) *Error {
	return &Error{Op: op, Participant: participant, Err: err}
}

func WrapError(op string, err error, details string) *Error {
	return &Error{Op: op, Err: err, Details: details}
}
