// Package node runs one participant of the simulation: the start barrier, the
// Lamport event rounds and the done signal, driven by a single event loop.
package node

import (
	"context"
	"fmt"
	"math/rand"
	"sync/atomic"
	"time"

	"github.com/distcodep7/lamport/dsnet"
	errs "github.com/distcodep7/lamport/internal/errors"
	"github.com/distcodep7/lamport/lamport"
	"github.com/distcodep7/lamport/metrics"
	"github.com/distcodep7/lamport/roster"
	"github.com/distcodep7/lamport/trace"
)

const DefaultInterval = 200 * time.Millisecond

type Options struct {
	Budget          int
	Interval        time.Duration
	SendProbability float64
	LocalOnly       bool
	// BroadcastDone sends the done frame to every peer instead of only the
	// peer whose start completed the barrier.
	BroadcastDone bool
	Rand          *rand.Rand
	Logger        dsnet.Logger
	Recorder      trace.Recorder
}

// Node is the coordination state machine of one participant. All protocol
// state is touched only from the goroutine executing Run.
type Node struct {
	id       string
	dir      *roster.Directory
	listener dsnet.Listener
	net      dsnet.Messenger
	clock    *lamport.Clock
	runner   *lamport.Runner
	opts     Options
	logger   dsnet.Logger
	rec      trace.Recorder

	state   State
	started bool
	lastAck string
	timer   *time.Timer

	snapshot atomic.Pointer[Snapshot]
	ready    chan struct{}
}

// New wires a node. listener must already be bound to the node's roster
// address; net is used for every outgoing frame.
func New(dir *roster.Directory, listener dsnet.Listener, net dsnet.Messenger, opts Options) *Node {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.Rand == nil {
		opts.Rand = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	if opts.Logger == nil {
		opts.Logger = dsnet.NoOpLogger{}
	}
	if opts.Recorder == nil {
		opts.Recorder = trace.NopRecorder{}
	}

	clock := lamport.NewClock(opts.Rand)
	n := &Node{
		id:       dir.Self().ID,
		dir:      dir,
		listener: listener,
		net:      net,
		clock:    clock,
		runner: lamport.NewRunner(clock, dir, net, opts.Rand, lamport.RunnerOptions{
			Budget:          opts.Budget,
			SendProbability: opts.SendProbability,
			LocalOnly:       opts.LocalOnly,
		}),
		opts:   opts,
		logger: opts.Logger,
		rec:    opts.Recorder,
		ready:  make(chan struct{}),
	}
	n.publish()
	return n
}

func (n *Node) ID() string { return n.id }

// Ready is closed once the barrier is passed and rounds begin.
func (n *Node) Ready() <-chan struct{} { return n.ready }

// Snapshot returns the latest published progress.
func (n *Node) Snapshot() Snapshot { return *n.snapshot.Load() }

// Run executes the protocol until the event budget is used up or ctx is
// cancelled. The listener is closed before Run returns.
func (n *Node) Run(ctx context.Context) (Result, error) {
	defer n.stopTimer()

	for _, p := range n.dir.Peers() {
		n.sendFrame(ctx, p, dsnet.StartFrame(n.id))
	}
	n.setState(StateBarrierWait)

	if n.dir.AllReceived() {
		n.startRunning(ctx)
	}

	inbound := n.listener.Inbound()
	for n.state == StateBarrierWait || n.state == StateRunning {
		var tick <-chan time.Time
		if n.timer != nil {
			tick = n.timer.C
		}

		select {
		case <-ctx.Done():
			n.listener.Close()
			n.setState(StateTerminated)
			return n.result(), ctx.Err()

		case ev, ok := <-inbound:
			if !ok {
				n.setState(StateTerminated)
				return n.result(), fmt.Errorf("%s: listener closed: %w", n.id, errs.ErrClosed)
			}
			n.handleEvent(ctx, ev)

		case <-tick:
			n.round(ctx)
		}
		n.publish()
	}

	n.drain(ctx)
	return n.result(), nil
}

func (n *Node) handleEvent(ctx context.Context, ev dsnet.Event) {
	from := ev.Frame.From
	if from == n.id {
		n.drop("self", fmt.Errorf("%w: frame %q claims to come from this node", errs.ErrProtocol, ev.Frame))
		return
	}
	peer, err := n.dir.ByID(from)
	if err != nil {
		n.drop("unknown_sender", fmt.Errorf("%w: %v", errs.ErrProtocol, err))
		return
	}

	switch ev.Frame.Kind() {
	case dsnet.KindStart:
		n.onStart(ctx, peer)
	case dsnet.KindDone:
		n.onDone(peer)
	default:
		n.onClock(peer, ev.Frame)
	}
}

func (n *Node) onStart(ctx context.Context, peer roster.Peer) {
	if n.dir.Received(peer.ID) {
		metrics.FramesDropped.WithLabelValues(n.id, "duplicate_start").Inc()
		return
	}
	_ = n.dir.MarkReceived(peer.ID)
	n.sendFrame(ctx, peer, dsnet.StartFrame(n.id))
	n.lastAck = peer.ID

	n.logger.Printf("[%s] start %s", n.id, peer.ID)
	ev := trace.NewEvent(n.id, trace.KindStart)
	ev.Peer = peer.ID
	ev.Clock = n.clock.Value()
	n.rec.Record(ev)
	metrics.PeersReady.WithLabelValues(n.id).Set(float64(n.readyPeers()))

	if n.state == StateBarrierWait && n.dir.AllReceived() {
		n.startRunning(ctx)
	}
}

func (n *Node) onDone(peer roster.Peer) {
	_ = n.dir.MarkStopped(peer.ID)

	n.logger.Printf("[%s] done %s", n.id, peer.ID)
	ev := trace.NewEvent(n.id, trace.KindDone)
	ev.Peer = peer.ID
	ev.Clock = n.clock.Value()
	n.rec.Record(ev)
}

func (n *Node) onClock(peer roster.Peer, frame dsnet.Frame) {
	out, err := n.runner.ReceiveText(peer.ID, frame.Payload)
	if err != nil {
		n.drop("bad_clock", err)
		return
	}
	n.logger.Printf("[%s] r %s %d %d", n.id, peer.ID, out.Remote, out.Clock)
	n.recordOutcome(out)

	if n.state == StateRunning && n.runner.Done() {
		n.setState(StateDraining)
	}
}

func (n *Node) startRunning(ctx context.Context) {
	n.started = true
	n.setState(StateRunning)
	close(n.ready)

	if n.runner.Done() {
		n.setState(StateDraining)
		return
	}
	n.round(ctx)
}

// round runs one scheduler round and arms the timer for the next one.
func (n *Node) round(ctx context.Context) {
	out := n.runner.Round(ctx)
	switch out.Kind {
	case lamport.EventSend:
		n.logger.Printf("[%s] s %s %d", n.id, out.Peer, out.Clock)
		if out.Err != nil {
			metrics.SendErrors.WithLabelValues(n.id).Inc()
			n.logger.Printf("[%s] send to %s failed: %v", n.id, out.Peer, out.Err)
		}
	default:
		n.logger.Printf("[%s] l %d", n.id, out.Clock)
	}
	n.recordOutcome(out)

	if n.runner.Done() {
		n.setState(StateDraining)
		return
	}
	n.armTimer()
}

func (n *Node) drain(ctx context.Context) {
	n.stopTimer()

	var targets []roster.Peer
	switch {
	case n.opts.BroadcastDone:
		targets = n.dir.Peers()
	case n.lastAck != "":
		if p, err := n.dir.ByID(n.lastAck); err == nil {
			targets = append(targets, p)
		}
	}
	for _, p := range targets {
		n.sendFrame(ctx, p, dsnet.DoneFrame(n.id))
	}

	if err := n.listener.Close(); err != nil {
		n.logger.Printf("[%s] closing listener: %v", n.id, err)
	}
	n.setState(StateTerminated)
	n.logger.Printf("[%s] finished: clock %d after %d events", n.id, n.clock.Value(), n.runner.Events())
}

func (n *Node) sendFrame(ctx context.Context, p roster.Peer, f dsnet.Frame) {
	if err := n.net.Send(ctx, p.Addr(), f.String()); err != nil {
		metrics.SendErrors.WithLabelValues(n.id).Inc()
		n.logger.Printf("[%s] send %q to %s failed: %v", n.id, f.String(), p.ID, err)
	}
}

func (n *Node) recordOutcome(out lamport.Outcome) {
	var kind trace.Kind
	switch out.Kind {
	case lamport.EventSend:
		kind = trace.KindSend
	case lamport.EventReceive:
		kind = trace.KindReceive
	default:
		kind = trace.KindLocal
	}
	ev := trace.NewEvent(n.id, kind)
	ev.Peer = out.Peer
	ev.Clock = out.Clock
	ev.Remote = out.Remote
	n.rec.Record(ev)

	metrics.EventsTotal.WithLabelValues(n.id, out.Kind.String()).Inc()
	metrics.Clock.WithLabelValues(n.id).Set(float64(n.clock.Value()))
}

func (n *Node) drop(reason string, err error) {
	metrics.FramesDropped.WithLabelValues(n.id, reason).Inc()
	n.logger.Printf("[%s] dropped frame: %v", n.id, err)
}

func (n *Node) setState(s State) {
	if n.state == s {
		return
	}
	n.state = s
	metrics.State.WithLabelValues(n.id).Set(float64(s))

	ev := trace.NewEvent(n.id, trace.KindState)
	ev.State = s.String()
	ev.Clock = n.clock.Value()
	n.rec.Record(ev)
	n.publish()
}

func (n *Node) armTimer() {
	if n.timer == nil {
		n.timer = time.NewTimer(n.opts.Interval)
		return
	}
	n.timer.Reset(n.opts.Interval)
}

func (n *Node) stopTimer() {
	if n.timer != nil {
		n.timer.Stop()
		n.timer = nil
	}
}

func (n *Node) readyPeers() int {
	count := 0
	for _, p := range n.dir.Peers() {
		if n.dir.Received(p.ID) {
			count++
		}
	}
	return count
}

func (n *Node) publish() {
	peers := n.dir.Peers()
	s := &Snapshot{
		ID:      n.id,
		State:   n.state.String(),
		Ready:   n.started,
		Clock:   n.clock.Value(),
		Events:  n.runner.Events(),
		Rounds:  n.runner.Rounds(),
		Budget:  n.runner.Budget(),
		LastAck: n.lastAck,
		Peers:   make([]PeerStatus, 0, len(peers)),
	}
	for _, p := range peers {
		st, _ := n.dir.Status(p.ID)
		s.Peers = append(s.Peers, PeerStatus{
			ID:       p.ID,
			Addr:     p.Addr(),
			Received: st.Received,
			Stopped:  st.Stopped,
		})
	}
	n.snapshot.Store(s)
}

func (n *Node) result() Result {
	return Result{
		ID:     n.id,
		State:  n.state,
		Clock:  n.clock.Value(),
		Events: n.runner.Events(),
		Rounds: n.runner.Rounds(),
	}
}

// String is the one line summary printed when a node finishes.
func (r Result) String() string {
	return fmt.Sprintf("%s %s clock=%d events=%d rounds=%d", r.ID, r.State, r.Clock, r.Events, r.Rounds)
}
