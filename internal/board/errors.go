package board

import (
	"errors"
	"fmt"
)

var (
	// ErrProtocol matches every *ProtocolError.
	ErrProtocol = errors.New("protocol error")
	// ErrTimeout is returned when no full line arrives within the read timeout.
	ErrTimeout = errors.New("read timeout")
	// ErrClosed is returned by operations on a closed board.
	ErrClosed = errors.New("board closed")
	// ErrUnknownPin is returned for a pin index the board does not have.
	ErrUnknownPin = errors.New("unknown pin")
)

// ProtocolError reports a device response that does not fit the protocol.
type ProtocolError struct {
	Board  string
	Op     string
	Line   string
	Reason string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("%s: %s: %s (line %q)", e.Board, e.Op, e.Reason, e.Line)
}

func (e *ProtocolError) Is(target error) bool { return target == ErrProtocol }
