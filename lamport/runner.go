package lamport

import (
	"context"
	"fmt"
	"math/rand"

	"github.com/distcodep7/lamport/dsnet"
	"github.com/distcodep7/lamport/roster"
)

const (
	DefaultBudget          = 100
	DefaultSendProbability = 0.5
)

type EventKind int

const (
	EventLocal EventKind = iota
	EventSend
	EventReceive
)

func (k EventKind) String() string {
	switch k {
	case EventSend:
		return "send"
	case EventReceive:
		return "receive"
	default:
		return "local"
	}
}

// Outcome describes one counted event.
type Outcome struct {
	Kind   EventKind
	Peer   string // target of a send or origin of a receive
	Clock  uint64 // clock after the event; for a send, the timestamp sent
	Step   uint64 // local tick increment
	Remote uint64 // clock carried by a received message
	Err    error  // transport error of a send; the event still counts
}

// Runner chooses and executes the node's events and keeps the event budget.
// It owns no goroutine: the node loop calls Round on every timer tick and
// Receive for every clock message.
type Runner struct {
	selfID   string
	clock    *Clock
	dir      *roster.Directory
	net      dsnet.Messenger
	rng      *rand.Rand
	sendProb float64
	budget   int

	events int
	rounds int
}

type RunnerOptions struct {
	Budget          int     // defaults to DefaultBudget
	SendProbability float64 // defaults to DefaultSendProbability
	LocalOnly       bool    // never send; every round is a local event
}

func NewRunner(clock *Clock, dir *roster.Directory, net dsnet.Messenger, rng *rand.Rand, opts RunnerOptions) *Runner {
	if opts.Budget <= 0 {
		opts.Budget = DefaultBudget
	}
	switch {
	case opts.LocalOnly:
		opts.SendProbability = 0
	case opts.SendProbability <= 0:
		opts.SendProbability = DefaultSendProbability
	}
	return &Runner{
		selfID:   dir.Self().ID,
		clock:    clock,
		dir:      dir,
		net:      net,
		rng:      rng,
		sendProb: opts.SendProbability,
		budget:   opts.Budget,
	}
}

// Round runs one scheduler round: a send to a random eligible peer with the
// configured probability, otherwise (or when no peer is eligible) a local event.
func (r *Runner) Round(ctx context.Context) Outcome {
	eligible := r.dir.Eligible()

	var out Outcome
	if len(eligible) == 0 || r.rng.Float64() >= r.sendProb {
		out = r.local()
	} else {
		out = r.send(ctx, eligible)
	}

	r.rounds++
	r.count()
	return out
}

func (r *Runner) local() Outcome {
	step := r.clock.LocalTick()
	return Outcome{Kind: EventLocal, Clock: r.clock.Value(), Step: step}
}

func (r *Runner) send(ctx context.Context, eligible []roster.Peer) Outcome {
	peer, err := r.dir.RandomPeer(r.rng, eligible)
	if err != nil {
		return r.local()
	}

	ts := r.clock.SendTick()
	out := Outcome{Kind: EventSend, Peer: peer.ID, Clock: ts}
	if err := r.net.Send(ctx, peer.Addr(), dsnet.ClockFrame(r.selfID, ts).String()); err != nil {
		out.Err = err
	}
	return out
}

// Receive merges a clock message from sender and counts it as an event.
func (r *Runner) Receive(sender string, remote uint64) Outcome {
	v := r.clock.Observe(remote)
	r.count()
	return Outcome{Kind: EventReceive, Peer: sender, Clock: v, Remote: remote}
}

// ReceiveText is Receive for the payload of a clock frame. A payload that is
// not a valid clock leaves the clock and the event count untouched.
func (r *Runner) ReceiveText(sender, payload string) (Outcome, error) {
	remote, err := ParseRemote(payload)
	if err != nil {
		return Outcome{}, fmt.Errorf("%w from %s", err, sender)
	}
	return r.Receive(sender, remote), nil
}

func (r *Runner) count() {
	if r.events < r.budget {
		r.events++
	}
}

// Done reports whether the event budget is used up.
func (r *Runner) Done() bool { return r.events >= r.budget }

// Events counts self-initiated and received events, capped at the budget.
func (r *Runner) Events() int { return r.events }

// Rounds counts self-initiated events.
func (r *Runner) Rounds() int { return r.rounds }

func (r *Runner) Budget() int { return r.budget }

func (r *Runner) Clock() *Clock { return r.clock }
