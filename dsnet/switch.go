package dsnet

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	errs "github.com/distcodep7/lamport/internal/errors"
)

// Switch is an in-process datagram network. Endpoints attach under an address
// and exchange frames without touching the OS network stack. Links can be
// blocked to simulate partitions.
type Switch struct {
	mu      sync.Mutex
	ports   map[string]*Endpoint
	blocked map[string]map[string]bool
	logger  Logger
}

func NewSwitch(logger Logger) *Switch {
	if logger == nil {
		logger = NoOpLogger{}
	}
	return &Switch{
		ports:   make(map[string]*Endpoint),
		blocked: make(map[string]map[string]bool),
		logger:  logger,
	}
}

// Endpoint is one attached address. It is both the node's Listener and the
// Messenger it sends through.
type Endpoint struct {
	sw      *Switch
	addr    string
	inbound chan Event
	alive   atomic.Bool
	sendMu  sync.Mutex
	once    sync.Once
}

// Attach registers addr on the switch.
func (s *Switch) Attach(addr string) (*Endpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.ports[addr]; exists {
		return nil, fmt.Errorf("%w: address %s already attached", errs.ErrInvalidArgument, addr)
	}
	ep := &Endpoint{
		sw:      s,
		addr:    addr,
		inbound: make(chan Event, inboundBuffer),
	}
	ep.alive.Store(true)
	s.ports[addr] = ep
	return ep, nil
}

func (e *Endpoint) Inbound() <-chan Event { return e.inbound }

func (e *Endpoint) Addr() string { return e.addr }

// Close detaches the endpoint. Frames addressed to it afterwards are lost.
func (e *Endpoint) Close() error {
	e.once.Do(func() {
		e.sw.detach(e.addr)
		e.sendMu.Lock()
		e.alive.Store(false)
		close(e.inbound)
		e.sendMu.Unlock()
	})
	return nil
}

// Send routes payload to the endpoint attached at addr.
func (e *Endpoint) Send(ctx context.Context, addr string, payload string) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", errs.ErrTransport, err)
	}
	return e.sw.forward(e.addr, addr, payload)
}

func (e *Endpoint) deliver(ev Event) {
	e.sendMu.Lock()
	defer e.sendMu.Unlock()
	if !e.alive.Load() {
		return
	}
	select {
	case e.inbound <- ev:
	default:
		e.sw.logger.Printf("[NET] inbox of %s full, dropped frame from %s", e.addr, ev.Frame.From)
	}
}

func (s *Switch) detach(addr string) {
	s.mu.Lock()
	delete(s.ports, addr)
	s.mu.Unlock()
}

func (s *Switch) forward(from, to, payload string) error {
	s.mu.Lock()
	if s.blocked[from][to] {
		s.mu.Unlock()
		s.logger.Printf("[PARTITION] Dropped: %s -> %s", from, to)
		return nil
	}
	target, ok := s.ports[to]
	s.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: unknown destination %s", errs.ErrTransport, to)
	}

	frame, err := ParseFrame([]byte(payload))
	if err != nil {
		return nil
	}
	target.deliver(Event{Frame: frame, Addr: from, Received: time.Now()})
	return nil
}

func (s *Switch) BlockCommunication(from, to string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.blocked[from]; !exists {
		s.blocked[from] = make(map[string]bool)
	}
	s.blocked[from][to] = true
	s.logger.Printf("[PARTITION] Blocked: %s -> %s", from, to)
}

func (s *Switch) UnblockCommunication(from, to string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rules, exists := s.blocked[from]; exists {
		delete(rules, to)
		s.logger.Printf("[PARTITION] Unblocked: %s -> %s", from, to)
	}
}

// CreatePartition blocks every link between the two groups in both directions.
func (s *Switch) CreatePartition(group1, group2 []string) {
	for _, a := range group1 {
		for _, b := range group2 {
			s.BlockCommunication(a, b)
			s.BlockCommunication(b, a)
		}
	}
}
