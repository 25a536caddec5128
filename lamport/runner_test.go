package lamport

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/distcodep7/lamport/dsnet"
	errs "github.com/distcodep7/lamport/internal/errors"
	"github.com/distcodep7/lamport/roster"
)

// fakeMessenger captures sent payloads by address.
type fakeMessenger struct {
	mu   sync.Mutex
	sent map[string][]string
	err  error
}

func (f *fakeMessenger) Send(_ context.Context, addr, payload string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sent == nil {
		f.sent = make(map[string][]string)
	}
	f.sent[addr] = append(f.sent[addr], payload)
	return f.err
}

func testDir(t *testing.T) *roster.Directory {
	t.Helper()
	d, err := roster.New([]roster.Peer{
		{ID: "A", Host: "127.0.0.1", Port: 7001},
		{ID: "B", Host: "127.0.0.1", Port: 7002},
		{ID: "C", Host: "127.0.0.1", Port: 7003},
	}, "A")
	if err != nil {
		t.Fatalf("roster.New: %v", err)
	}
	return d
}

func TestRoundAllPeersStoppedIsLocal(t *testing.T) {
	dir := testDir(t)
	dir.MarkStopped("B")
	dir.MarkStopped("C")

	net := &fakeMessenger{}
	r := NewRunner(NewClock(newTestRNG()), dir, net, newTestRNG(), RunnerOptions{Budget: 1000})
	for i := 0; i < 1000; i++ {
		if out := r.Round(context.Background()); out.Kind != EventLocal {
			t.Fatalf("round %d: got %v with every peer stopped", i, out.Kind)
		}
	}
	if len(net.sent) != 0 {
		t.Fatalf("unexpected sends: %v", net.sent)
	}
}

func TestSendTargetsOnlyEligiblePeers(t *testing.T) {
	dir := testDir(t)
	dir.MarkStopped("C")

	net := &fakeMessenger{}
	r := NewRunner(NewClock(newTestRNG()), dir, net, newTestRNG(), RunnerOptions{Budget: 500})

	sends := 0
	for !r.Done() {
		out := r.Round(context.Background())
		if out.Kind != EventSend {
			continue
		}
		sends++
		if out.Peer != "B" {
			t.Fatalf("sent to %s which is stopped", out.Peer)
		}
		if out.Clock != r.Clock().Value() {
			t.Fatalf("send carried %d, clock is %d", out.Clock, r.Clock().Value())
		}
	}
	if sends == 0 {
		t.Fatalf("expected at least one send in 500 rounds")
	}
	if got := len(net.sent["127.0.0.1:7002"]); got != sends {
		t.Fatalf("messenger saw %d sends, runner reported %d", got, sends)
	}
	if len(net.sent["127.0.0.1:7003"]) != 0 {
		t.Fatalf("stopped peer C received frames")
	}
}

func TestSendFrameFormat(t *testing.T) {
	dir := testDir(t)
	net := &fakeMessenger{}
	r := NewRunner(NewClock(newTestRNG()), dir, net, newTestRNG(), RunnerOptions{SendProbability: 1, Budget: 1})

	out := r.Round(context.Background())
	if out.Kind != EventSend {
		t.Fatalf("expected a send with probability 1, got %v", out.Kind)
	}
	peer, _ := dir.ByID(out.Peer)
	payloads := net.sent[peer.Addr()]
	if len(payloads) != 1 || payloads[0] != "A 1" {
		t.Fatalf("payloads = %q, want [\"A 1\"]", payloads)
	}
}

func TestSendErrorStillCounts(t *testing.T) {
	dir := testDir(t)
	net := &fakeMessenger{err: errors.New("unreachable")}
	r := NewRunner(NewClock(newTestRNG()), dir, net, newTestRNG(), RunnerOptions{SendProbability: 1, Budget: 3})

	out := r.Round(context.Background())
	if out.Err == nil {
		t.Fatalf("expected send error in outcome")
	}
	if r.Events() != 1 {
		t.Fatalf("events = %d, want 1", r.Events())
	}
}

func TestLocalOnly(t *testing.T) {
	net := &fakeMessenger{}
	r := NewRunner(NewClock(newTestRNG()), testDir(t), net, newTestRNG(), RunnerOptions{LocalOnly: true, Budget: 50})
	for !r.Done() {
		if out := r.Round(context.Background()); out.Kind != EventLocal {
			t.Fatalf("LocalOnly runner produced %v", out.Kind)
		}
	}
	if r.Clock().Value() < 51 {
		t.Fatalf("clock %d after 50 local events", r.Clock().Value())
	}
}

func TestBudgetCountsReceivesAndCaps(t *testing.T) {
	r := NewRunner(NewClock(newTestRNG()), testDir(t), &fakeMessenger{}, newTestRNG(), RunnerOptions{Budget: 5})

	for i := 0; i < 3; i++ {
		out := r.Receive("B", uint64(10*i))
		if out.Kind != EventReceive || out.Peer != "B" {
			t.Fatalf("receive outcome = %+v", out)
		}
	}
	if r.Events() != 3 || r.Rounds() != 0 {
		t.Fatalf("events=%d rounds=%d", r.Events(), r.Rounds())
	}

	for i := 0; i < 5; i++ {
		r.Receive("C", 0)
	}
	if !r.Done() || r.Events() != 5 {
		t.Fatalf("events=%d, want capped at 5", r.Events())
	}
}

func TestReceiveTextRejectsBadPayload(t *testing.T) {
	r := NewRunner(NewClock(newTestRNG()), testDir(t), &fakeMessenger{}, newTestRNG(), RunnerOptions{Budget: 5})
	for _, payload := range []string{"soon", "18446744073709551615"} {
		if _, err := r.ReceiveText("B", payload); !errs.Is(err, errs.ErrProtocol) {
			t.Fatalf("ReceiveText(%q): expected ErrProtocol, got %v", payload, err)
		}
	}
	if r.Events() != 0 || r.Clock().Value() != 1 {
		t.Fatalf("rejected payloads changed state: events=%d clock=%d", r.Events(), r.Clock().Value())
	}

	out, err := r.ReceiveText("B", "41")
	if err != nil || out.Clock != 42 || out.Remote != 41 || r.Events() != 1 {
		t.Fatalf("ReceiveText(41) = %+v, %v", out, err)
	}
}

func TestDefaults(t *testing.T) {
	r := NewRunner(NewClock(newTestRNG()), testDir(t), &fakeMessenger{}, newTestRNG(), RunnerOptions{})
	if r.Budget() != DefaultBudget || r.sendProb != DefaultSendProbability {
		t.Fatalf("budget=%d sendProb=%v", r.Budget(), r.sendProb)
	}
}

var _ dsnet.Messenger = (*fakeMessenger)(nil)
