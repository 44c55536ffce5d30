package ranking

import "errors"

var (
	// ErrCacheUnavailable means the ranking exists but its status is not
	// DONE (missing, INITIALIZING or COPYING_IN_PROGRESS). Callers must
	// treat this as retryable, never as an empty ranking.
	ErrCacheUnavailable = errors.New("ranking cache unavailable")

	// ErrNotRanked means the member is absent from an available ranking.
	// This is a business outcome, not a fault.
	ErrNotRanked = errors.New("member not ranked")

	// ErrMatchmakingFailed means opponent selection could not fill every
	// group, or the ranked population is below the minimum threshold.
	ErrMatchmakingFailed = errors.New("matchmaking failed")

	// ErrCacheIO wraps transport-level cache errors so loop owners can
	// classify them as transient and retry.
	ErrCacheIO = errors.New("ranking cache i/o")
)
