package trace

// Predicate selects events, for polling a growing trace.
type Predicate func(Event) bool

// Sent matches a clock message from one node to another.
func Sent(from, to string) Predicate {
	return func(ev Event) bool {
		return ev.Kind == KindSend && ev.Node == from && ev.Peer == to
	}
}

// ReceivedFrom matches node merging a clock message from sender.
func ReceivedFrom(node, sender string) Predicate {
	return func(ev Event) bool {
		return ev.Kind == KindReceive && ev.Node == node && ev.Peer == sender
	}
}

// Entered matches node switching to state ("running", "terminated", ...).
func Entered(node, state string) Predicate {
	return func(ev Event) bool {
		return ev.Kind == KindState && ev.Node == node && ev.State == state
	}
}

// Finished returns the nodes that recorded a terminated state.
func Finished(events []Event) map[string]bool {
	out := make(map[string]bool)
	for _, ev := range events {
		if ev.Kind == KindState && ev.State == "terminated" {
			out[ev.Node] = true
		}
	}
	return out
}
