package engine

import "fmt"

type Code string

const (
	UnknownError             Code = "UnknownError"
	NonTransientError        Code = "NonTransientError"
	NotFoundError            Code = "NotFoundError"
	ConstraintError          Code = "ConstraintError"
	DataError                Code = "DataError"
	InvalidStateError        Code = "InvalidStateError"
	TransactionInactiveError Code = "TransactionInactiveError"
	AbortError               Code = "AbortError"
	ReadOnlyError            Code = "ReadOnlyError"
	TimeoutError             Code = "TimeoutError"
	QuotaExceededError       Code = "QuotaExceededError"
	VersionError             Code = "VersionError"
)

// Error is the failure reported by every engine operation.
type Error struct {
	Code    Code
	Message string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return string(e.Code)
	}
	return string(e.Code) + ": " + e.Message
}

// Is matches any *Error with the same code, so the sentinels below work with
// errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

var (
	ErrUnknown             = &Error{Code: UnknownError}
	ErrNonTransient        = &Error{Code: NonTransientError}
	ErrNotFound            = &Error{Code: NotFoundError}
	ErrConstraint          = &Error{Code: ConstraintError}
	ErrData                = &Error{Code: DataError}
	ErrInvalidState        = &Error{Code: InvalidStateError}
	ErrTransactionInactive = &Error{Code: TransactionInactiveError}
	ErrAbort               = &Error{Code: AbortError}
	ErrReadOnly            = &Error{Code: ReadOnlyError}
	ErrTimeout             = &Error{Code: TimeoutError}
	ErrQuotaExceeded       = &Error{Code: QuotaExceededError}
	ErrVersion             = &Error{Code: VersionError}
)

func newError(code Code, format string, a ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, a...)}
}
