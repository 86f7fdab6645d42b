package channel

import (
	"errors"
	"fmt"
	"time"

	"github.com/roach88/rshare/internal/resource"
)

var (
	// ErrConnectivityLost means the parent never answered the handshake.
	// The child stays disconnected for the rest of its life.
	ErrConnectivityLost = errors.New("connectivity lost: parent did not answer handshake")

	// ErrMailboxClosed is returned when posting to or reading from a closed mailbox.
	ErrMailboxClosed = errors.New("mailbox closed")

	// ErrNoPeer is returned when a context has no parent mailbox.
	ErrNoPeer = errors.New("no peer mailbox")
)

// ProtocolTimeoutError is returned when a protocol step did not complete in time.
type ProtocolTimeoutError struct {
	Op    string
	After time.Duration
}

func (e *ProtocolTimeoutError) Error() string {
	return fmt.Sprintf("%s timed out after %s", e.Op, e.After)
}

// RemoteMissError is a negative response from the parent.
type RemoteMissError struct {
	Key    resource.Key
	Reason string
}

func (e *RemoteMissError) Error() string {
	return fmt.Sprintf("parent has no %s: %s", e.Key, e.Reason)
}

// IsTimeout reports whether err is (or wraps) a ProtocolTimeoutError.
func IsTimeout(err error) bool {
	var te *ProtocolTimeoutError
	return errors.As(err, &te)
}

// IsRemoteMiss reports whether err is (or wraps) a RemoteMissError.
func IsRemoteMiss(err error) bool {
	var rm *RemoteMissError
	return errors.As(err, &rm)
}
