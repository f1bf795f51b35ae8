package directory

import (
	"errors"
	"fmt"
)

var (
	// ErrUninitializedBlock is returned when a block is read in ReadOnly mode
	// before any process ever wrote it.
	ErrUninitializedBlock = errors.New("uninitialized block")
	// ErrProtocol marks a request that contradicts the recorded state. The
	// coordinator cannot reconcile from it.
	ErrProtocol = errors.New("protocol violation")
)

// Fault codes carried by a wire.KindFault reply.
const (
	FaultProtocol      int64 = 1
	FaultUninitialized int64 = 2
)

// FaultCode maps a handler error to the code sent to the requester.
func FaultCode(err error) int64 {
	if errors.Is(err, ErrUninitializedBlock) {
		return FaultUninitialized
	}
	return FaultProtocol
}

// FaultError maps a fault code received from the coordinator back to an
// error the caller can match with errors.Is.
func FaultError(code int64) error {
	switch code {
	case FaultUninitialized:
		return ErrUninitializedBlock
	case FaultProtocol:
		return ErrProtocol
	default:
		return fmt.Errorf("fault code %d: %w", code, ErrProtocol)
	}
}

func violation(format string, args ...any) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), ErrProtocol)
}
