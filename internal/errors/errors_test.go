package errors

import (
	stderrors "errors"
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTypedErrorMessage(t *testing.T) {
	err := NewTypedError(ConnectionError, "failed to connect to 127.0.0.1:8123", io.EOF)
	assert.Equal(t, "failed to connect to 127.0.0.1:8123: EOF", err.Error())
	assert.True(t, stderrors.Is(err, io.EOF))

	plain := Newf(BrokerReportedError, "broker said %q", "not found")
	assert.Equal(t, `broker said "not found"`, plain.Error())
}

func TestErrorTypeDetection(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		expected  ErrorType
		retriable bool
	}{
		{"connection", Newf(ConnectionError, "reset"), ConnectionError, true},
		{"ownership", Newf(OwnershipConflictError, "lost race"), OwnershipConflictError, true},
		{"coordination", Newf(CoordinationUnavailableError, "session lost"), CoordinationUnavailableError, true},
		{"decode", Newf(ProtocolDecodeError, "bad header"), ProtocolDecodeError, false},
		{"exhausted", Newf(RebalanceExhaustedError, "30 attempts"), RebalanceExhaustedError, false},
		{"wrapped", fmt.Errorf("put: %w", Newf(AllBrokersUnavailableError, "down")), AllBrokersUnavailableError, false},
		{"plain", stderrors.New("boom"), GeneralError, false},
		{"nil", nil, GeneralError, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, GetErrorType(tt.err))
			assert.Equal(t, tt.retriable, IsRetriable(tt.err))
		})
	}
}

func TestKindMatchesWithErrorsIs(t *testing.T) {
	err := fmt.Errorf("subscribe: %w", Wrapf(RebalanceExhaustedError, io.ErrUnexpectedEOF, "gave up"))

	assert.True(t, stderrors.Is(err, Kind(RebalanceExhaustedError)))
	assert.False(t, stderrors.Is(err, Kind(ConnectionError)))
	assert.True(t, stderrors.Is(err, io.ErrUnexpectedEOF))
}

func TestIsTypeFollowsCauses(t *testing.T) {
	inner := Newf(ConnectionError, "read timeout")
	outer := Wrapf(PublishFailedError, inner, "put failed")

	assert.True(t, IsType(outer, PublishFailedError))
	assert.True(t, IsType(outer, ConnectionError))
	assert.False(t, IsType(outer, ProtocolDecodeError))
}

func TestErrorTypeString(t *testing.T) {
	assert.Equal(t, "OWNERSHIP_CONFLICT", OwnershipConflictError.String())
	assert.Equal(t, "UNKNOWN", ErrorType(99).String())
}
