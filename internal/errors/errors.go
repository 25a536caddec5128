// Package errors defines the sentinel errors shared by the node packages.
package errors

import "errors"

var (
	// ErrConfig marks a missing or malformed roster entry or setting. Fatal at startup.
	ErrConfig = errors.New("config error")

	// ErrProtocol marks an unexpected frame or an unknown sender. Logged and dropped.
	ErrProtocol = errors.New("protocol error")

	// ErrTransport marks a failed datagram send. Never retried.
	ErrTransport = errors.New("transport error")
)

var (
	ErrNotFound        = errors.New("not found")
	ErrInvalidArgument = errors.New("invalid argument")
	ErrClosed          = errors.New("closed")
)

// Is reports whether any error in err's tree matches target.
func Is(err, target error) bool { return errors.Is(err, target) }
