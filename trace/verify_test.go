package trace

import (
	"errors"
	"path/filepath"
	"strings"
	"testing"
)

func ev(node string, kind Kind, peer string, clock, remote uint64) Event {
	e := NewEvent(node, kind)
	e.Peer = peer
	e.Clock = clock
	e.Remote = remote
	return e
}

func TestVerify(t *testing.T) {
	tests := []struct {
		name    string
		events  []Event
		wantErr string
	}{
		{
			name: "valid exchange",
			events: []Event{
				ev("A", KindLocal, "", 3, 0),
				ev("A", KindSend, "B", 3, 0),
				ev("B", KindLocal, "", 2, 0),
				ev("B", KindReceive, "A", 4, 3),
				ev("A", KindStart, "B", 3, 0),
			},
		},
		{
			name: "local did not advance",
			events: []Event{
				ev("A", KindLocal, "", 3, 0),
				ev("A", KindLocal, "", 3, 0),
			},
			wantErr: "did not advance",
		},
		{
			name: "receive not above remote",
			events: []Event{
				ev("A", KindSend, "B", 9, 0),
				ev("B", KindReceive, "A", 9, 9),
			},
			wantErr: "not above remote",
		},
		{
			name: "receive without send",
			events: []Event{
				ev("A", KindLocal, "", 2, 0),
				ev("B", KindReceive, "A", 8, 7),
			},
			wantErr: "no matching send",
		},
		{
			name: "sender not in trace",
			events: []Event{
				ev("B", KindReceive, "A", 8, 7),
			},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := Verify(tc.events)
			if tc.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("expected error containing %q, got %v", tc.wantErr, err)
			}
		})
	}
}

func TestSummarize(t *testing.T) {
	sum := Summarize([]Event{
		ev("A", KindLocal, "", 3, 0),
		ev("A", KindSend, "B", 3, 0),
		ev("A", KindState, "", 3, 0),
		ev("A", KindReceive, "B", 10, 9),
	})
	a := sum["A"]
	if a.Local != 1 || a.Send != 1 || a.Receive != 1 || a.Events() != 3 || a.FinalClock != 10 {
		t.Fatalf("summary = %+v", a)
	}
}

func TestFileRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trace.jsonl")
	fr, err := OpenFile(path)
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	mem := &MemoryRecorder{}
	rec := Multi{fr, mem, NopRecorder{}}

	rec.Record(ev("A", KindLocal, "", 4, 0))
	rec.Record(ev("A", KindSend, "B", 4, 0))
	if err := fr.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	got, err := ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	want := mem.Events()
	if len(got) != len(want) {
		t.Fatalf("read %d events, recorded %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("event %d = %+v, want %+v", i, got[i], want[i])
		}
	}
	if got[0].ID == got[1].ID {
		t.Fatalf("event ids not unique")
	}
}

func TestReadFileMissing(t *testing.T) {
	if _, err := ReadFile(filepath.Join(t.TempDir(), "nope")); err == nil {
		t.Fatalf("expected error")
	}
}

func TestVerifyReportsEveryViolation(t *testing.T) {
	var joined interface{ Unwrap() []error }
	err := Verify([]Event{ev("A", KindLocal, "", 3, 0), ev("A", KindLocal, "", 2, 0), ev("A", KindLocal, "", 1, 0)})
	if !errors.As(err, &joined) || len(joined.Unwrap()) != 2 {
		t.Fatalf("expected two joined violations, got %v", err)
	}
}

func TestPredicates(t *testing.T) {
	send := ev("A", KindSend, "B", 4, 0)
	recv := ev("B", KindReceive, "A", 5, 4)
	state := NewEvent("B", KindState)
	state.State = "terminated"

	if !Sent("A", "B")(send) || Sent("B", "A")(send) {
		t.Fatalf("Sent mismatch")
	}
	if !ReceivedFrom("B", "A")(recv) || ReceivedFrom("A", "B")(recv) {
		t.Fatalf("ReceivedFrom mismatch")
	}
	if !Entered("B", "terminated")(state) || Entered("B", "running")(state) {
		t.Fatalf("Entered mismatch")
	}
	if f := Finished([]Event{send, recv, state}); len(f) != 1 || !f["B"] {
		t.Fatalf("Finished = %v", f)
	}
}
