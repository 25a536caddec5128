// Package trace records what each node did during a run so that runs can be
// inspected, shipped to a collector and checked against the clock condition.
package trace

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
)

type Kind string

const (
	KindLocal   Kind = "local"
	KindSend    Kind = "send"
	KindReceive Kind = "receive"
	KindStart   Kind = "start"
	KindDone    Kind = "done"
	KindState   Kind = "state"
)

// Event is one line of the trace file.
type Event struct {
	ID        string `json:"id"`
	Node      string `json:"node"`
	Kind      Kind   `json:"kind"`
	Peer      string `json:"peer,omitempty"`
	Clock     uint64 `json:"clock"`
	Remote    uint64 `json:"remote,omitempty"`
	State     string `json:"state,omitempty"`
	Timestamp int64  `json:"timestamp"` // wall clock, unix nanoseconds
}

func NewEvent(node string, kind Kind) Event {
	return Event{
		ID:        uuid.NewString(),
		Node:      node,
		Kind:      kind,
		Timestamp: time.Now().UnixNano(),
	}
}

// IsClockEvent reports whether the event is one of the counted clock events.
func (e Event) IsClockEvent() bool {
	return e.Kind == KindLocal || e.Kind == KindSend || e.Kind == KindReceive
}

type Recorder interface {
	Record(Event)
}

type NopRecorder struct{}

func (NopRecorder) Record(Event) {}

// Multi fans an event out to every recorder.
type Multi []Recorder

func (m Multi) Record(ev Event) {
	for _, r := range m {
		r.Record(ev)
	}
}

// MemoryRecorder keeps events in memory.
type MemoryRecorder struct {
	mu     sync.Mutex
	events []Event
}

func (m *MemoryRecorder) Record(ev Event) {
	m.mu.Lock()
	m.events = append(m.events, ev)
	m.mu.Unlock()
}

// Events returns a copy of everything recorded so far.
func (m *MemoryRecorder) Events() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Event, len(m.events))
	copy(out, m.events)
	return out
}

// FileRecorder appends events to a JSON lines file.
type FileRecorder struct {
	mu   sync.Mutex
	file *os.File
	enc  *json.Encoder
}

func OpenFile(path string) (*FileRecorder, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open trace file: %w", err)
	}
	return &FileRecorder{file: f, enc: json.NewEncoder(f)}, nil
}

func (r *FileRecorder) Record(ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_ = r.enc.Encode(ev)
}

func (r *FileRecorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.file.Close()
}

// ReadFile loads a JSON lines trace.
func ReadFile(path string) ([]Event, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var events []Event
	dec := json.NewDecoder(f)
	for dec.More() {
		var ev Event
		if err := dec.Decode(&ev); err != nil {
			return events, fmt.Errorf("decode trace: %w", err)
		}
		events = append(events, ev)
	}
	return events, nil
}
