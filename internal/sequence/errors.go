package sequence

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidSequence = errors.New("sequence id required")

	// Persistence failure kinds; match with errors.Is against a *PersistError.
	ErrDecode = errors.New("decode")
	ErrEncode = errors.New("encode")
	ErrRead   = errors.New("storage read")
	ErrWrite  = errors.New("storage write")
)

// PersistError reports a failed load or save. Kind is one of ErrDecode,
// ErrEncode, ErrRead, ErrWrite; the in-memory library is unaffected.
type PersistError struct {
	Kind error
	Err  error
}

func (e *PersistError) Error() string {
	return fmt.Sprintf("sequence library %v: %v", e.Kind, e.Err)
}

func (e *PersistError) Unwrap() []error { return []error{e.Kind, e.Err} }

func persistErr(kind, err error) error {
	if err == nil {
		return nil
	}
	return &PersistError{Kind: kind, Err: err}
}
