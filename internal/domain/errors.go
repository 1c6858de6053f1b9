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

// NetworkError represents a network-related error that may be retriable
type NetworkError struct {
	Op        string // Operation that failed (e.g., "dial", "subscribe", "read")
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
	// ErrConnectionFailed is returned when a single websocket connection attempt fails. Retriable.
	ErrConnectionFailed = errors.New("connection failed")

	// ErrFatalConnection is surfaced once the reconnect budget is exhausted.
	ErrFatalConnection = errors.New("connection retries exhausted")

	// ErrMalformedMessage marks a frame that could not be turned into a snapshot.
	ErrMalformedMessage = errors.New("malformed message")

	// ErrNoSnapshot is returned by read views before the first snapshot is published.
	ErrNoSnapshot = errors.New("no orderbook snapshot available")

	// ErrOneSidedBook is returned when a snapshot lacks asks or bids.
	ErrOneSidedBook = errors.New("orderbook is one-sided")

	// ErrInvalidParams wraps simulation parameter validation failures.
	ErrInvalidParams = errors.New("invalid simulation parameters")

	// ErrAlreadyRunning is returned when Start is called outside the Idle state.
	ErrAlreadyRunning = errors.New("simulation already running")

	// ErrStopped is returned by an ingestor that reached its terminal state.
	ErrStopped = errors.New("ingestor stopped")

	// ErrConfigNotFound is returned when configuration file is missing
	ErrConfigNotFound = errors.New("configuration not found")
)

// ErrorKind classifies errors for status reporting.
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	KindTransient
	KindFatal
	KindMalformed
	KindNoData
	KindEstimator
	KindInvalidParams
)

// String returns the string representation of ErrorKind
func (k ErrorKind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindFatal:
		return "fatal"
	case KindMalformed:
		return "malformed"
	case KindNoData:
		return "no_data"
	case KindEstimator:
		return "estimator"
	case KindInvalidParams:
		return "invalid_params"
	default:
		return "unknown"
	}
}

// KindOf maps an error onto the taxonomy used in status events.
func KindOf(err error) ErrorKind {
	switch {
	case err == nil:
		return KindUnknown
	case errors.Is(err, ErrFatalConnection), errors.Is(err, ErrStopped):
		return KindFatal
	case errors.Is(err, ErrMalformedMessage):
		return KindMalformed
	case errors.Is(err, ErrNoSnapshot), errors.Is(err, ErrOneSidedBook):
		return KindNoData
	case errors.Is(err, ErrInvalidParams):
		return KindInvalidParams
	case IsRetriable(err):
		return KindTransient
	default:
		return KindUnknown
	}
}
