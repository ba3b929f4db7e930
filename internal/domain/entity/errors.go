package entity

import "errors"

var (
	// ErrInvalidQuery is returned when a Query fails basic validation
	// (empty question, no documents, non-positive budget).
	ErrInvalidQuery = errors.New("invalid query")

	// ErrNoExecutorAvailable is returned when the executor pool cannot
	// satisfy an acquisition, either because it was stopped or exhausted
	// without headroom to grow.
	ErrNoExecutorAvailable = errors.New("no sandbox executor available")

	// ErrFrameTooLarge is returned by the wire codec when a frame exceeds
	// the configured maximum payload size.
	ErrFrameTooLarge = errors.New("frame exceeds maximum payload size")

	// ErrSandboxProtocol is returned for any malformed-frame or
	// unrecognized-command condition on the host<->sandbox channel.
	ErrSandboxProtocol = errors.New("sandbox protocol error")

	// ErrSubcallSizeExceeded names the condition of a sub-LLM call whose
	// effective character length exceeds the configured ceiling. The
	// gateway reports that condition to sandbox user code with its own
	// message (which also contains "exceeds"), not with this value.
	ErrSubcallSizeExceeded = errors.New("sub-llm call content exceeds the per-call character ceiling")

	// ErrIterationBudgetExhausted marks a query that ran out of driver
	// iterations without a resolved FINAL.
	ErrIterationBudgetExhausted = errors.New("iteration budget exhausted")

	// ErrQueryCancelled marks a query torn down by a cooperative cancel signal.
	ErrQueryCancelled = errors.New("query cancelled")
)
