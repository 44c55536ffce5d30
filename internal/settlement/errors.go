package settlement

import "errors"

var (
	// ErrDuplicateTransaction means the tx id was already claimed by
	// another battle or purchase. Terminal for the row that hit it.
	ErrDuplicateTransaction = errors.New("transaction id already used")

	// ErrTxTimeout means the transaction never reached a terminal chain
	// status within the confirmation window. The settlement job is
	// redelivered and tries again.
	ErrTxTimeout = errors.New("transaction confirmation timed out")
)
