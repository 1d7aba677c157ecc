package mapserver

import (
	"errors"
)

// Kind classifies errors so callers can react without matching messages.
type Kind uint8

const (
	// KindInternal covers store failures and anything unexpected.
	KindInternal Kind = iota
	// KindInvalidArgument is a malformed request or a comparison that does
	// not match what was asked.
	KindInvalidArgument
	// KindNotFound is a missing map, point or voucher.
	KindNotFound
	// KindConflict is a request clashing with stored state.
	KindConflict
	// KindPrecondition is an operation the current mode does not allow.
	KindPrecondition
)

func (k Kind) String() string {
	switch k {
	case KindInvalidArgument:
		return "invalid_argument"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindPrecondition:
		return "precondition"
	default:
		return "internal"
	}
}

// Error is a protocol error with a human readable reason.
type Error struct {
	kind Kind
	msg  string
}

func newError(kind Kind, msg string) *Error {
	return &Error{kind: kind, msg: msg}
}

func (e *Error) Error() string {
	return e.msg
}

// Kind returns the class of e.
func (e *Error) Kind() Kind {
	return e.kind
}

// KindOf returns the kind of the first *Error in err's chain, KindInternal
// when there is none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.kind
	}
	return KindInternal
}

var (
	ErrInvalidProducer   = newError(KindInvalidArgument, "missing producer identity")
	ErrEmptyRequest      = newError(KindInvalidArgument, "request holds no entries")
	ErrDuplicateEntry    = newError(KindInvalidArgument, "request holds the same entry twice")
	ErrInvalidModulus    = newError(KindInvalidArgument, "public key modulus is not usable")
	ErrInvalidCiphertext = newError(KindInvalidArgument, "submitted value is not a valid ciphertext")

	ErrMapNotStored     = newError(KindNotFound, "requested map not stored")
	ErrPointNotStored   = newError(KindNotFound, "requested point not stored")
	ErrNoRelevantPoints = newError(KindNotFound, "no relevant points stored")

	ErrComparisonNotRequested  = newError(KindInvalidArgument, "producer did not properly request comparison")
	ErrComparisonUnasked       = newError(KindInvalidArgument, "comparison was unasked for")
	ErrComparisonNotVerifiable = newError(KindInvalidArgument, "latest comparison could not be verified, please contact platform operators")
	ErrComparisonNotVerified   = newError(KindInvalidArgument, "comparison was not verified")
	ErrComparisonInvalid       = newError(KindInvalidArgument, "comparison result is not valid")
	ErrComparisonNotPerformed  = newError(KindInvalidArgument, "comparison was not performed")
	ErrSubOptimalValue         = newError(KindInvalidArgument, "last provider provided sub-optimal value, please contact platform operators")
	ErrStaleComparison         = newError(KindConflict, "comparison is outdated, request comparisons again")

	ErrAlreadyReverseQueried = newError(KindConflict, "producer already reverse-queried given map")
	ErrAlreadyRegularQueried = newError(KindConflict, "producer already regular-queried given map")
	ErrNeverReverseQueried   = newError(KindNotFound, "producer never reverse-queried given map")
	ErrPublicKeyMismatch     = newError(KindConflict, "public key could not be confirmed, please contact platform operators")
	ErrMapIdentityConflict   = newError(KindConflict, "non-unique combination of map id and map name, please contact platform operators")

	ErrPlaintextForbidden = newError(KindPrecondition, "plaintext access not allowed for secure scheme")
)
