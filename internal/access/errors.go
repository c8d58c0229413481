package access

import "errors"

// Kind distinguishes verification failures so callers can map each to a response.
type Kind string

const (
	// KindMissing means no Authorization header was presented.
	KindMissing Kind = "missing_api_key"
	// KindMalformed means the header did not use the Bearer scheme or carried no token.
	KindMalformed Kind = "invalid_authorization"
	// KindInvalid means no active key matched the token.
	KindInvalid Kind = "invalid_api_key"
	// KindExpired means the matching key is past its expiry.
	KindExpired Kind = "api_key_expired"
)

// Error is returned by Verify for authentication failures.
type Error struct {
	Kind    Kind
	Message string
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	return "access: " + string(e.Kind) + ": " + e.Message
}

// IsKind reports whether err is an access error of the given kind.
func IsKind(err error, kind Kind) bool {
	var accessErr *Error
	return errors.As(err, &accessErr) && accessErr.Kind == kind
}

func newError(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}
