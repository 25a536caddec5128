package dsnet

import (
	"fmt"
	"strconv"
	"strings"

	errs "github.com/distcodep7/lamport/internal/errors"
)

const (
	PayloadStart = "start"
	PayloadDone  = "done"
)

type Kind int

const (
	KindClock Kind = iota
	KindStart
	KindDone
)

func (k Kind) String() string {
	switch k {
	case KindStart:
		return "start"
	case KindDone:
		return "done"
	default:
		return "clock"
	}
}

// Frame is one datagram: "<sender> <payload>".
type Frame struct {
	From    string
	Payload string
}

func StartFrame(from string) Frame { return Frame{From: from, Payload: PayloadStart} }

func DoneFrame(from string) Frame { return Frame{From: from, Payload: PayloadDone} }

func ClockFrame(from string, clock uint64) Frame {
	return Frame{From: from, Payload: strconv.FormatUint(clock, 10)}
}

func (f Frame) String() string { return f.From + " " + f.Payload }

func (f Frame) Kind() Kind {
	switch f.Payload {
	case PayloadStart:
		return KindStart
	case PayloadDone:
		return KindDone
	default:
		return KindClock
	}
}

// ParseFrame decodes a datagram. Anything other than exactly two non-empty
// tokens separated by a single space is rejected.
func ParseFrame(data []byte) (Frame, error) {
	tokens := strings.Split(string(data), " ")
	if len(tokens) != 2 || tokens[0] == "" || tokens[1] == "" {
		return Frame{}, fmt.Errorf("%w: malformed frame %q", errs.ErrProtocol, data)
	}
	return Frame{From: tokens[0], Payload: tokens[1]}, nil
}
