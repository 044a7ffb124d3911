// errors.go -- Callback failure kinds.
//
// Every kind maps to the same unauthorized response at the HTTP boundary so a
// caller cannot tell a bad code from a bad secret from an upstream outage.
// Cause is for server-side logs only.
package oauth

// ErrorKind identifies which step of the callback failed.
type ErrorKind int

const (
	KindMissingCode ErrorKind = iota + 1
	KindTokenExchange
	KindUserInfo
)

// String returns the kind as a short snake_case label, used in logs and metrics.
func (k ErrorKind) String() string {
	switch k {
	case KindMissingCode:
		return "missing_code"
	case KindTokenExchange:
		return "token_exchange_failed"
	case KindUserInfo:
		return "userinfo_failed"
	default:
		return "unknown"
	}
}

// Error is a callback failure of a given kind.
type Error struct {
	Kind  ErrorKind
	Cause error // upstream detail, never sent to the client
}

// Sentinels for errors.Is; they match any *Error of the same kind.
var (
	ErrMissingCode   = &Error{Kind: KindMissingCode}
	ErrTokenExchange = &Error{Kind: KindTokenExchange}
	ErrUserInfo      = &Error{Kind: KindUserInfo}
)

func (e *Error) Error() string {
	if e.Cause == nil {
		return "oauth: " + e.Kind.String()
	}
	return "oauth: " + e.Kind.String() + ": " + e.Cause.Error()
}

func (e *Error) Unwrap() error { return e.Cause }

// Is matches a sentinel of the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Cause == nil && t.Kind == e.Kind
}
