package orchestrator

// RetryPolicy decides where a failed scheduled send goes: back to scheduled
// for another attempt on the next scheduler run, or to draft.
type RetryPolicy interface {
	Retry(attempts int) bool
}

// UnboundedRetry retries failed scheduled sends forever
type UnboundedRetry struct{}

// Retry implements RetryPolicy
func (UnboundedRetry) Retry(attempts int) bool { return true }

// MaxAttempts gives up after n send attempts. Zero or less means unbounded.
type MaxAttempts int

// Retry implements RetryPolicy
func (m MaxAttempts) Retry(attempts int) bool {
	return m <= 0 || attempts < int(m)
}
