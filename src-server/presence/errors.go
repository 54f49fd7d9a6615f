package presence

import (
	"errors"
	"fmt"
)

var (
	ErrNoOpenSession    = errors.New("no open session")
	ErrLocationNotFound = errors.New("location not found")
	ErrMemberNotFound   = errors.New("member not found")
	ErrSessionNotFound  = errors.New("session not found")
)

// Returned by check-in when the member already has an open session;
// carries the conflicting session so callers can report it.
type AlreadyCheckedInError struct {
	SessionID string
}

func (e *AlreadyCheckedInError) Error() string {
	return fmt.Sprintf("already checked in (session %s)", e.SessionID)
}

type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string {
	return e.Msg
}
