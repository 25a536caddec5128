package dsnet

import (
	"context"
	"math/rand"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	errs "github.com/distcodep7/lamport/internal/errors"
)

func recvWithin(t *testing.T, ch <-chan Event, d time.Duration) Event {
	t.Helper()
	select {
	case ev, ok := <-ch:
		if !ok {
			t.Fatalf("inbound closed")
		}
		return ev
	case <-time.After(d):
		t.Fatalf("no frame within %v", d)
	}
	return Event{}
}

func TestUDPSendReceive(t *testing.T) {
	lis, err := ListenUDP("127.0.0.1:0", nil)
	if err != nil {
		t.Fatalf("ListenUDP: %v", err)
	}
	defer lis.Close()

	var s UDPSender
	ctx := context.Background()

	// malformed datagrams never reach Inbound
	if err := s.Send(ctx, lis.Addr(), "garbage"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	// a three token frame longer than 1 KiB must not be cut down to two
	long := "B " + strings.Repeat("0", 2000) + " x"
	if err := s.Send(ctx, lis.Addr(), long); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if err := s.Send(ctx, lis.Addr(), "A 12"); err != nil {
		t.Fatalf("Send: %v", err)
	}

	ev := recvWithin(t, lis.Inbound(), 2*time.Second)
	if ev.Frame.From != "A" || ev.Frame.Payload != "12" {
		t.Fatalf("got frame %+v", ev.Frame)
	}
}

func TestUDPListenerCloseClosesInbound(t *testing.T) {
	lis, err := ListenUDP("127.0.0.1:0", nil)
	if err != nil {
		t.Fatalf("ListenUDP: %v", err)
	}
	if lis.Port() == 0 {
		t.Fatalf("expected a bound port")
	}
	lis.Close()
	lis.Close()

	select {
	case _, ok := <-lis.Inbound():
		if ok {
			t.Fatalf("expected closed channel")
		}
	case <-time.After(time.Second):
		t.Fatalf("inbound not closed")
	}
}

func TestUDPListenBusyPort(t *testing.T) {
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("ListenPacket: %v", err)
	}
	defer pc.Close()

	if _, err := ListenUDP(pc.LocalAddr().String(), nil); !errs.Is(err, errs.ErrTransport) {
		t.Fatalf("expected ErrTransport, got %v", err)
	}
}

func TestSwitchDeliveryAndPartition(t *testing.T) {
	sw := NewSwitch(nil)
	a, err := sw.Attach("a:1")
	if err != nil {
		t.Fatalf("Attach: %v", err)
	}
	b, err := sw.Attach("b:1")
	if err != nil {
		t.Fatalf("Attach: %v", err)
	}
	if _, err := sw.Attach("a:1"); err == nil {
		t.Fatalf("expected error attaching a taken address")
	}

	ctx := context.Background()
	if err := a.Send(ctx, "b:1", "A start"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	ev := recvWithin(t, b.Inbound(), time.Second)
	if ev.Frame.Kind() != KindStart || ev.Addr != "a:1" {
		t.Fatalf("got %+v", ev)
	}

	sw.CreatePartition([]string{"a:1"}, []string{"b:1"})
	a.Send(ctx, "b:1", "A 5")
	select {
	case ev := <-b.Inbound():
		t.Fatalf("partitioned frame delivered: %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}

	sw.UnblockCommunication("a:1", "b:1")
	a.Send(ctx, "b:1", "A 6")
	if ev := recvWithin(t, b.Inbound(), time.Second); ev.Frame.Payload != "6" {
		t.Fatalf("got %+v", ev)
	}

	if err := a.Send(ctx, "nowhere:1", "A 1"); !errs.Is(err, errs.ErrTransport) {
		t.Fatalf("expected ErrTransport, got %v", err)
	}

	b.Close()
	if err := a.Send(ctx, "b:1", "A 7"); !errs.Is(err, errs.ErrTransport) {
		t.Fatalf("send to closed endpoint: expected ErrTransport, got %v", err)
	}
}

type recordingMessenger struct {
	mu   sync.Mutex
	sent []string
}

func (r *recordingMessenger) Send(_ context.Context, _ string, payload string) error {
	r.mu.Lock()
	r.sent = append(r.sent, payload)
	r.mu.Unlock()
	return nil
}

func (r *recordingMessenger) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sent)
}

func TestFaultyProbabilities(t *testing.T) {
	tests := []struct {
		name   string
		cfg    FaultConfig
		want   int
		faults map[string]int
	}{
		{"no faults", FaultConfig{}, 1, map[string]int{}},
		{"always drop", FaultConfig{DropProb: 1}, 0, map[string]int{"drop": 1}},
		{"always dupe", FaultConfig{DupeProb: 1}, 2, map[string]int{"dupe": 1}},
		{"async dupe", FaultConfig{DupeProb: 1, AsyncDuplicate: true}, 2, map[string]int{"dupe": 1}},
		{"always reorder", FaultConfig{ReorderProb: 1, ReorderMinDelay: time.Millisecond, ReorderMaxDelay: 5 * time.Millisecond}, 1, map[string]int{"reorder": 1}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			next := &recordingMessenger{}
			f := NewFaulty(next, tc.cfg, rand.New(rand.NewSource(1)), nil)

			var mu sync.Mutex
			seen := map[string]int{}
			f.Observe(func(fault, _, _ string) {
				mu.Lock()
				seen[fault]++
				mu.Unlock()
			})

			if err := f.Send(context.Background(), "x:1", "A 3"); err != nil {
				t.Fatalf("Send: %v", err)
			}
			f.Wait()

			if got := next.count(); got != tc.want {
				t.Fatalf("delivered %d copies, want %d", got, tc.want)
			}
			mu.Lock()
			defer mu.Unlock()
			for k, v := range tc.faults {
				if seen[k] != v {
					t.Fatalf("fault %s seen %d times, want %d (all: %v)", k, seen[k], v, seen)
				}
			}
		})
	}
}

func TestFaultConfigValidate(t *testing.T) {
	if err := (FaultConfig{DropProb: 1.5}).Validate(); !errs.Is(err, errs.ErrConfig) {
		t.Fatalf("expected ErrConfig, got %v", err)
	}
	if err := (FaultConfig{ReorderMinDelay: 2, ReorderMaxDelay: 1}).Validate(); !errs.Is(err, errs.ErrConfig) {
		t.Fatalf("expected ErrConfig, got %v", err)
	}
	if err := (FaultConfig{DropProb: 0.1, ReorderMaxDelay: time.Second}).Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
