package relay

import "errors"

var (
	ErrInvalidInput      = errors.New("invalid input")
	ErrNotJoined         = errors.New("not joined")
	ErrUnknownConnection = errors.New("unknown connection")
)

// Rejection is an error reported back to the offending connection. Reason is
// the text the client sees; Cause classifies it.
type Rejection struct {
	Cause  error
	Reason string
}

func (r *Rejection) Error() string {
	return r.Cause.Error() + ": " + r.Reason
}

func (r *Rejection) Unwrap() error {
	return r.Cause
}

func reject(cause error, reason string) *Rejection {
	return &Rejection{Cause: cause, Reason: reason}
}
