package consensus

import (
	"errors"
	"fmt"
)

// Kind identifies which class of rule a block broke.
type Kind int

// The set of validation error kinds, in the order they are checked.
const (
	KindStructural Kind = iota + 1
	KindLinkage
	KindProofOfWork
	KindTemporal
	KindState
)

// String implements the fmt.Stringer interface.
func (k Kind) String() string {
	switch k {
	case KindStructural:
		return "structural"
	case KindLinkage:
		return "linkage"
	case KindProofOfWork:
		return "proof-of-work"
	case KindTemporal:
		return "temporal"
	case KindState:
		return "state"
	}

	return fmt.Sprintf("kind(%d)", int(k))
}

// ValidationError is returned when a block is rejected by a consensus rule.
type ValidationError struct {
	Kind   Kind
	Number uint64
	Hash   string
	Err    error
}

func newError(kind Kind, number uint64, hash string, format string, args ...any) *ValidationError {
	return &ValidationError{
		Kind:   kind,
		Number: number,
		Hash:   hash,
		Err:    fmt.Errorf(format, args...),
	}
}

// Error implements the error interface.
func (ve *ValidationError) Error() string {
	return fmt.Sprintf("block %d %s rejected: %s: %s", ve.Number, ve.Hash, ve.Kind, ve.Err)
}

// Unwrap returns the underlying reason.
func (ve *ValidationError) Unwrap() error {
	return ve.Err
}

// IsKind reports whether the error is a validation error of the given kind.
func IsKind(err error, kind Kind) bool {
	var ve *ValidationError
	return errors.As(err, &ve) && ve.Kind == kind
}

// KindOf returns the kind of a validation error, or 0 for any other error.
func KindOf(err error) Kind {
	var ve *ValidationError
	if !errors.As(err, &ve) {
		return 0
	}

	return ve.Kind
}
