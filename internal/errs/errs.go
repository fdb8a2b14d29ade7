// Package errs defines the error taxonomy shared by every indexer and
// gateway (spec §7). Components return these wrapped via fmt.Errorf so
// callers can still errors.As/errors.Is to the sentinel kind while
// keeping the underlying cause in the error chain.
package errs

import "fmt"

// ConfigMissing is fatal at startup: a required configuration value was absent.
type ConfigMissing struct {
	Field string
}

func (e *ConfigMissing) Error() string {
	return fmt.Sprintf("config missing: %s", e.Field)
}

// UnsupportedChain means the indexer references a chain tag with no
// registered provider; the indexer run is skipped, logged at error.
type UnsupportedChain struct {
	Chain string
}

func (e *UnsupportedChain) Error() string {
	return fmt.Sprintf("unsupported chain: %s", e.Chain)
}

// UnsupportedDAO means the indexer references a DAO with no configured
// space/host mapping; the indexer run is skipped, logged at error.
type UnsupportedDAO struct {
	DAO string
}

func (e *UnsupportedDAO) Error() string {
	return fmt.Sprintf("unsupported dao: %s", e.DAO)
}

// TransientNetwork covers timeouts, 5xx, and 429-after-exhaustion. The
// gateway retries internally; if retries are exhausted this surfaces to
// the caller as MaxRetriesExceeded.
type TransientNetwork struct {
	Cause error
}

func (e *TransientNetwork) Error() string {
	return fmt.Sprintf("transient network error: %v", e.Cause)
}

func (e *TransientNetwork) Unwrap() error { return e.Cause }

// MaxRetriesExceeded is returned once a gateway job exhausts its retry budget.
type MaxRetriesExceeded struct {
	Attempts int
	LastErr  error
}

func (e *MaxRetriesExceeded) Error() string {
	return fmt.Sprintf("max retries exceeded after %d attempts: %v", e.Attempts, e.LastErr)
}

func (e *MaxRetriesExceeded) Unwrap() error { return e.LastErr }

// RemoteRejected is a non-transient HTTP error; it aborts the current
// run without advancing the indexer's index.
type RemoteRejected struct {
	Status int
	Body   string
}

func (e *RemoteRejected) Error() string {
	return fmt.Sprintf("remote rejected request: status=%d body=%s", e.Status, truncate(e.Body, 256))
}

// DecodeFailure is a malformed JSON/ABI response; aborts the run.
type DecodeFailure struct {
	Cause   error
	RawBody string
}

func (e *DecodeFailure) Error() string {
	return fmt.Sprintf("decode failure: %v (body=%s)", e.Cause, truncate(e.RawBody, 256))
}

func (e *DecodeFailure) Unwrap() error { return e.Cause }

// DatabaseError wraps any storage fault; the current transaction is
// rolled back and the run is aborted.
type DatabaseError struct {
	Op    string
	Cause error
}

func (e *DatabaseError) Error() string {
	return fmt.Sprintf("database error during %s: %v", e.Op, e.Cause)
}

func (e *DatabaseError) Unwrap() error { return e.Cause }

// NotFound is not an error to the caller: e.g. a vote referencing a
// proposal that has not yet been indexed is stored with a NULL
// proposal_id and back-filled later.
type NotFound struct {
	Entity string
	Key    string
}

func (e *NotFound) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Entity, e.Key)
}

// InvariantViolated is logged at error and bails the current item but
// lets the caller continue with the next one; never silent.
type InvariantViolated struct {
	Invariant string
	Detail    string
}

func (e *InvariantViolated) Error() string {
	return fmt.Sprintf("invariant violated (%s): %s", e.Invariant, e.Detail)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
