package domain

import "errors"

// RetriableError defines an interface for errors that can be retried
type RetriableError interface {
	error
	IsRetriable() bool
}

// IsRetriable checks if an error is retriable
func IsRetriable(err error) bool {
	var re RetriableError
	if errors.As(err, &re) {
		return re.IsRetriable()
	}
	return false
}

// NetworkError represents a venue call failure that may be retriable
type NetworkError struct {
	Op        string // Operation that failed (e.g., "orderbook", "place", "cancel")
	Err       error  // Underlying error
	Retriable bool   // Whether this error is retriable
}

func (e *NetworkError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *NetworkError) IsRetriable() bool {
	return e.Retriable
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// NewNetworkError creates a new retriable network error
func NewNetworkError(op string, err error) *NetworkError {
	return &NetworkError{Op: op, Err: err, Retriable: true}
}

// NewFatalNetworkError creates a non-retriable network error
func NewFatalNetworkError(op string, err error) *NetworkError {
	return &NetworkError{Op: op, Err: err, Retriable: false}
}

// FatalError stops the control loop and hands over to the supervisor.
type FatalError struct {
	Op  string
	Err error
}

func (e *FatalError) Error() string {
	return "fatal [" + e.Op + "]: " + e.Err.Error()
}

func (e *FatalError) IsRetriable() bool {
	return false
}

func (e *FatalError) Unwrap() error {
	return e.Err
}

// Fatal wraps err as a FatalError. A nil err stays nil.
func Fatal(op string, err error) error {
	if err == nil {
		return nil
	}
	return &FatalError{Op: op, Err: err}
}

// IsFatal reports whether err must stop the control loop.
func IsFatal(err error) bool {
	var fe *FatalError
	return errors.As(err, &fe)
}

// ConfigError represents a configuration error (never retriable)
type ConfigError struct {
	Field string
	Err   error
}

func (e *ConfigError) Error() string {
	return "config error [" + e.Field + "]: " + e.Err.Error()
}

func (e *ConfigError) IsRetriable() bool {
	return false
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

var (
	// ErrMalformedResponse is returned when a venue answer cannot be normalized.
	ErrMalformedResponse = errors.New("malformed response")

	// ErrAmbiguousResponse is returned when an order status answer cannot be
	// trusted: several matches, missing status or unknown status.
	ErrAmbiguousResponse = errors.New("ambiguous response")

	// ErrEmptyResponse is returned when a venue answers with an empty body,
	// which usually means the session was taken over elsewhere.
	ErrEmptyResponse = errors.New("empty response")

	// ErrNoSnapshot is returned when a venue has not produced a book yet.
	ErrNoSnapshot = errors.New("no market data snapshot")

	// ErrStaleMarketData is returned when a snapshot is older than its threshold.
	ErrStaleMarketData = errors.New("stale market data")

	// ErrInsufficientDepth is returned when the aggressor book cannot cover the amount.
	ErrInsufficientDepth = errors.New("insufficient book depth")

	// ErrOrderResting is returned when placing on a side that already rests an order.
	ErrOrderResting = errors.New("order already resting on side")

	// ErrNothingToCompensate is returned when a compensation is asked for an
	// order that is empty or not filled enough.
	ErrNothingToCompensate = errors.New("nothing to compensate")

	// ErrOutcomeUnknown is returned when an order call failed in transport and
	// the venue may or may not have executed it.
	ErrOutcomeUnknown = errors.New("order outcome unknown")

	// ErrPlacementRejected is returned when the maker venue refuses an order.
	ErrPlacementRejected = errors.New("placement rejected")

	// ErrRetryBudgetExhausted is returned when the aggressor trade kept failing.
	ErrRetryBudgetExhausted = errors.New("retry budget exhausted")

	// ErrConfigNotFound is returned when configuration file is missing
	ErrConfigNotFound = errors.New("configuration not found")
)
