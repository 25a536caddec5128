// Package dsnet is the datagram boundary of a node: a fire-and-forget sender,
// a listener that turns received payloads into frames on a channel, an
// in-process switch for tests, and a fault-injecting sender wrapper.
package dsnet

import (
	"context"
	"time"
)

type Logger interface {
	Printf(format string, v ...interface{})
}

type NoOpLogger struct{}

func (NoOpLogger) Printf(format string, v ...interface{}) {}

// Messenger sends one text payload to host:port. Delivery is best effort.
type Messenger interface {
	Send(ctx context.Context, addr string, payload string) error
}

// Event is a frame that arrived on a listener.
type Event struct {
	Frame    Frame
	Addr     string // remote address the datagram came from
	Received time.Time
}

// Listener delivers inbound frames until closed. Close closes Inbound.
type Listener interface {
	Inbound() <-chan Event
	Addr() string
	Close() error
}

const inboundBuffer = 100
