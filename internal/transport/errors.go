package transport

import "errors"

// ErrForbidden marks a recipient that has blocked the bot (or deleted their
// account). Permanent for that recipient: no retries, no audio follow-up.
var ErrForbidden = errors.New("recipient has forbidden the bot")

// TransientError marks a failure worth retrying: connectivity problems,
// platform 5xx, flood-wait. Adapters wrap raw errors with Transient().
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return "transient: " + e.Err.Error() }
func (e *TransientError) Unwrap() error { return e.Err }

func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Err: err}
}

func IsTransient(err error) bool {
	var t *TransientError
	return errors.As(err, &t)
}

func IsForbidden(err error) bool {
	return errors.Is(err, ErrForbidden)
}
