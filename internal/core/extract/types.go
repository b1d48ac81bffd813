package extract

import "fmt"

// ErrorKind is the typed cause of a per-target extraction failure. Item
// failures are recorded on the staging ledger and never abort the job.
type ErrorKind string

const (
	KindTimeout          ErrorKind = "timeout"
	KindSelectorNotFound ErrorKind = "selector_not_found"
	KindHTTPError        ErrorKind = "http_error"
	KindAuthExpired      ErrorKind = "auth_expired"
	KindNavigation       ErrorKind = "navigation"
)

// ItemError carries the typed cause for a failed target.
type ItemError struct {
	Kind ErrorKind
	Msg  string
}

func (e *ItemError) Error() string { return fmt.Sprintf("%s: %s", e.Kind, e.Msg) }

// NewItemError builds a typed item-level error.
func NewItemError(kind ErrorKind, format string, v ...interface{}) *ItemError {
	return &ItemError{Kind: kind, Msg: fmt.Sprintf(format, v...)}
}

// KindOf returns the typed cause of err, or KindNavigation for untyped errors.
func KindOf(err error) ErrorKind {
	if ie, ok := err.(*ItemError); ok {
		return ie.Kind
	}
	return KindNavigation
}
