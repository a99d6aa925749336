package feed

import (
	"errors"
	"fmt"
)

// FetchErrorKind is a closed set of fetch outcomes. Callers switch on the
// kind; only Transient is worth retrying.
type FetchErrorKind int

const (
	// KindTransient covers connectivity failures and server-side errors
	// (timeouts, refused connections, 5xx, 429).
	KindTransient FetchErrorKind = iota
	// KindFormat means the response could not be parsed as a feed.
	KindFormat
	// KindValidation means the feed parsed but misses required data
	// (e.g. no title).
	KindValidation
)

func (k FetchErrorKind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindFormat:
		return "format"
	case KindValidation:
		return "validation"
	default:
		return "unknown"
	}
}

type FetchError struct {
	Kind FetchErrorKind
	URL  string
	Err  error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch feed %s: %s: %v", e.URL, e.Kind, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// IsTransient reports whether err is a FetchError worth retrying, however
// deeply wrapped.
func IsTransient(err error) bool {
	var fe *FetchError
	return errors.As(err, &fe) && fe.Kind == KindTransient
}
