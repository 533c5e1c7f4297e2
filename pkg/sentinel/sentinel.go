// Package sentinel holds the error taxonomy shared by the ledger client,
// the registry and the mutator. Layers wrap these with fmt.Errorf("...: %w")
// and callers classify with errors.Is.
//
//   - ErrValidation: bad user input, detected before any ledger access
//   - ErrNotFound: a referenced pool id has no record
//   - ErrUnavailable: the ledger liveness probe failed
//   - ErrRejected: the user declined to authorize a write
//   - ErrTransport: any other failure at the ledger boundary
//   - ErrCorruption: a stored value failed to deserialize
package sentinel

import "errors"

var (
	ErrValidation  = errors.New("validation failed")
	ErrNotFound    = errors.New("not found")
	ErrUnavailable = errors.New("ledger unavailable")
	ErrRejected    = errors.New("user rejected transaction")
	ErrTransport   = errors.New("ledger transport error")
	ErrCorruption  = errors.New("corrupted value")
)

// Validation wraps msg as an ErrValidation.
func Validation(msg string) error {
	return &wrapped{msg: msg, kind: ErrValidation}
}

// NotFound wraps msg as an ErrNotFound.
func NotFound(msg string) error {
	return &wrapped{msg: msg, kind: ErrNotFound}
}

// wrapped keeps the user-facing message free of the sentinel text while
// still matching errors.Is.
type wrapped struct {
	msg  string
	kind error
}

func (w *wrapped) Error() string { return w.msg }

func (w *wrapped) Unwrap() error { return w.kind }
