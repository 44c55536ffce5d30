package chain

import "errors"

var (
	// ErrUnavailable wraps transport failures against the chain node so
	// loop owners can classify them as transient.
	ErrUnavailable = errors.New("chain node unavailable")

	// ErrNotFound means the node answered but the queried transaction or
	// state does not exist (yet).
	ErrNotFound = errors.New("not found on chain")

	// ErrRetriesExhausted means a bounded retry gave up. The wrapped error
	// is the last attempt's.
	ErrRetriesExhausted = errors.New("chain retries exhausted")
)
