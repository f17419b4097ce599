package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorType represents the type of error
type ErrorType int

const (
	// Socket connect/read/write/timeout failures
	ConnectionError ErrorType = iota

	// Malformed header or body received from a broker
	ProtocolDecodeError

	// Well-formed error response from a broker (not found, internal error)
	BrokerReportedError

	// Producer ran out of writable partitions for a topic
	AllBrokersUnavailableError

	// Lost a partition-claim race during rebalance
	OwnershipConflictError

	// Rebalance retry ceiling reached
	RebalanceExhaustedError

	// Coordination service session lost or unreachable
	CoordinationUnavailableError

	// Put was not acknowledged after all retries
	PublishFailedError

	// Message rejected before it was sent
	InvalidMessageError

	// Configuration could not be loaded or is invalid
	ConfigError

	// General error types
	GeneralError
)

var typeNames = map[ErrorType]string{
	ConnectionError:              "CONNECTION",
	ProtocolDecodeError:          "PROTOCOL_DECODE",
	BrokerReportedError:          "BROKER_REPORTED",
	AllBrokersUnavailableError:   "ALL_BROKERS_UNAVAILABLE",
	OwnershipConflictError:       "OWNERSHIP_CONFLICT",
	RebalanceExhaustedError:      "REBALANCE_EXHAUSTED",
	CoordinationUnavailableError: "COORDINATION_UNAVAILABLE",
	PublishFailedError:           "PUBLISH_FAILED",
	InvalidMessageError:          "INVALID_MESSAGE",
	ConfigError:                  "CONFIG",
	GeneralError:                 "GENERAL",
}

// String returns the name of the error type
func (t ErrorType) String() string {
	if name, ok := typeNames[t]; ok {
		return name
	}
	return "UNKNOWN"
}

// TypedError represents an error with a specific type
type TypedError struct {
	Type    ErrorType
	Message string
	Cause   error
}

// Error implements the error interface
func (e *TypedError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap returns the underlying cause
func (e *TypedError) Unwrap() error {
	return e.Cause
}

// Is reports whether target is a TypedError of the same type. Message and
// cause are ignored so sentinel comparisons work on kinds.
func (e *TypedError) Is(target error) bool {
	t, ok := target.(*TypedError)
	if !ok {
		return false
	}
	return t.Type == e.Type && (t.Message == "" || t.Message == e.Message)
}

// NewTypedError creates a new typed error
func NewTypedError(errorType ErrorType, message string, cause error) *TypedError {
	return &TypedError{
		Type:    errorType,
		Message: message,
		Cause:   cause,
	}
}

// Newf creates a typed error with a formatted message and no cause
func Newf(errorType ErrorType, format string, args ...any) *TypedError {
	return NewTypedError(errorType, fmt.Sprintf(format, args...), nil)
}

// Wrapf creates a typed error with a formatted message around cause
func Wrapf(errorType ErrorType, cause error, format string, args ...any) *TypedError {
	return NewTypedError(errorType, fmt.Sprintf(format, args...), cause)
}

// Kind returns an empty TypedError of the given type, for use with errors.Is
func Kind(errorType ErrorType) error {
	return &TypedError{Type: errorType}
}

// IsType checks whether err, or any error it wraps, is a TypedError of errorType
func IsType(err error, errorType ErrorType) bool {
	var typedErr *TypedError
	for err != nil {
		if !stderrors.As(err, &typedErr) {
			return false
		}
		if typedErr.Type == errorType {
			return true
		}
		err = typedErr.Cause
	}
	return false
}

// IsRetriable reports whether the caller may retry the same call later.
// Lost connections and sessions recover locally, as do ownership races.
// Everything else is fatal for the call that produced it.
func IsRetriable(err error) bool {
	switch GetErrorType(err) {
	case ConnectionError, CoordinationUnavailableError, OwnershipConflictError:
		return true
	default:
		return false
	}
}

// GetErrorType returns the error type if it's a TypedError, otherwise returns GeneralError
func GetErrorType(err error) ErrorType {
	var typedErr *TypedError
	if stderrors.As(err, &typedErr) {
		return typedErr.Type
	}
	return GeneralError
}
