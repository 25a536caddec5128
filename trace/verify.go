package trace

import (
	"errors"
	"fmt"
)

type sendKey struct {
	from  string
	to    string
	clock uint64
}

// Verify checks a trace against the Lamport clock rules:
//   - per node, clock values of local/send/receive events never decrease and
//     local and receive events strictly increase them;
//   - a receive ends above the clock the message carried;
//   - when the sender's events are in the trace, every receive matches a send
//     from that sender to the receiver carrying the same clock.
//
// Events must be in per-node recording order; interleaving between nodes does
// not matter. All violations are returned joined.
func Verify(events []Event) error {
	var violations []error

	last := make(map[string]uint64)
	nodes := make(map[string]bool)
	sends := make(map[sendKey]bool)
	for _, ev := range events {
		nodes[ev.Node] = true
		if ev.Kind == KindSend {
			sends[sendKey{from: ev.Node, to: ev.Peer, clock: ev.Clock}] = true
		}
	}

	for _, ev := range events {
		if !ev.IsClockEvent() {
			continue
		}
		prev, seen := last[ev.Node]

		switch ev.Kind {
		case KindLocal:
			if seen && ev.Clock <= prev {
				violations = append(violations, fmt.Errorf("%s: local event %s did not advance clock (%d -> %d)", ev.Node, ev.ID, prev, ev.Clock))
			}
		case KindSend:
			if seen && ev.Clock < prev {
				violations = append(violations, fmt.Errorf("%s: send event %s went backwards (%d -> %d)", ev.Node, ev.ID, prev, ev.Clock))
			}
		case KindReceive:
			if ev.Clock <= ev.Remote {
				violations = append(violations, fmt.Errorf("%s: receive %s from %s has clock %d, not above remote %d", ev.Node, ev.ID, ev.Peer, ev.Clock, ev.Remote))
			}
			if seen && ev.Clock <= prev {
				violations = append(violations, fmt.Errorf("%s: receive event %s did not advance clock (%d -> %d)", ev.Node, ev.ID, prev, ev.Clock))
			}
			if nodes[ev.Peer] && !sends[sendKey{from: ev.Peer, to: ev.Node, clock: ev.Remote}] {
				violations = append(violations, fmt.Errorf("%s: receive %s has no matching send from %s at %d", ev.Node, ev.ID, ev.Peer, ev.Remote))
			}
		}
		last[ev.Node] = ev.Clock
	}

	return errors.Join(violations...)
}

// Summary is the per-node tally of a trace.
type Summary struct {
	Local, Send, Receive int
	FinalClock           uint64
}

func (s Summary) Events() int { return s.Local + s.Send + s.Receive }

func Summarize(events []Event) map[string]Summary {
	out := make(map[string]Summary)
	for _, ev := range events {
		s := out[ev.Node]
		switch ev.Kind {
		case KindLocal:
			s.Local++
		case KindSend:
			s.Send++
		case KindReceive:
			s.Receive++
		default:
			continue
		}
		s.FinalClock = ev.Clock
		out[ev.Node] = s
	}
	return out
}
