package ledger

import "errors"

// Error kinds returned by the ledger. Details are wrapped around them, so
// compare with errors.Is.
var (
	ErrInvalidArgument = errors.New("invalid argument")
	ErrLimitExceeded   = errors.New("loan limit exceeded")
	ErrInvalidState    = errors.New("invalid loan state")
	ErrNotFound        = errors.New("loan not found")
)
