// Package controller is the trace collector nodes report to over gRPC. It
// keeps every node's events, optionally persists them, and can check the
// collected run against the Lamport clock rules.
package controller

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	errs "github.com/distcodep7/lamport/internal/errors"
	"github.com/distcodep7/lamport/trace"
	"google.golang.org/grpc"
	emptypb "google.golang.org/protobuf/types/known/emptypb"
	structpb "google.golang.org/protobuf/types/known/structpb"
)

type ServerOptions struct {
	Logger Logger
	// TraceFile, when set, receives every event as a JSON line.
	TraceFile string
}

type Server struct {
	mu     sync.Mutex
	events []trace.Event
	nodes  map[string]int // node id -> number of open streams

	logger Logger
	disk   *diskWriter
}

func NewServer(opts ServerOptions) (*Server, error) {
	if opts.Logger == nil {
		opts.Logger = &NoOpLogger{}
	}
	s := &Server{
		nodes:  make(map[string]int),
		logger: opts.Logger,
	}
	if opts.TraceFile != "" {
		dw, err := startDiskWriter(opts.TraceFile, opts.Logger)
		if err != nil {
			return nil, err
		}
		s.disk = dw
	}
	return s, nil
}

func (s *Server) Stream(stream grpc.ServerStream) error {
	first := new(structpb.Struct)
	if err := stream.RecvMsg(first); err != nil {
		return err
	}
	var h hello
	if err := decodeStruct(first, &h); err != nil {
		return fmt.Errorf("%w: bad hello from collector client: %v", errs.ErrProtocol, err)
	}
	if h.Node == "" {
		return fmt.Errorf("%w: hello from collector client has no node id", errs.ErrProtocol)
	}

	s.register(h.Node)
	defer s.unregister(h.Node)

	for {
		msg := new(structpb.Struct)
		err := stream.RecvMsg(msg)
		if err == io.EOF {
			return stream.SendMsg(&emptypb.Empty{})
		}
		if err != nil {
			return err
		}

		var ev trace.Event
		if err := decodeStruct(msg, &ev); err != nil {
			s.logger.Printf("[CTRL] bad event from %s: %v", h.Node, err)
			continue
		}
		if ev.Node == "" {
			ev.Node = h.Node
		}
		s.Record(ev)
	}
}

// Record stores ev as if it had arrived on a stream.
func (s *Server) Record(ev trace.Event) {
	s.mu.Lock()
	s.events = append(s.events, ev)
	s.mu.Unlock()

	if s.disk != nil {
		s.disk.write(ev)
	}
	s.logger.Printf("[LOG] %s %s peer=%s clock=%d", ev.Node, ev.Kind, ev.Peer, ev.Clock)
}

func (s *Server) register(id string) {
	s.mu.Lock()
	s.nodes[id]++
	s.mu.Unlock()
	s.logger.Printf("[CTRL] Node Registered: %s", id)
}

func (s *Server) unregister(id string) {
	s.mu.Lock()
	if s.nodes[id]--; s.nodes[id] <= 0 {
		delete(s.nodes, id)
	}
	s.mu.Unlock()
	s.logger.Printf("[CTRL] Node Disconnected: %s", id)
}

// Connected returns the ids with an open stream.
func (s *Server) Connected() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.nodes))
	for id := range s.nodes {
		ids = append(ids, id)
	}
	return ids
}

// Events returns a copy of everything collected, in arrival order.
func (s *Server) Events() []trace.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]trace.Event, len(s.events))
	copy(out, s.events)
	return out
}

// Verify checks the collected events against the clock rules.
func (s *Server) Verify() error {
	return trace.Verify(s.Events())
}

// WaitFor polls the collected events until one matches pred or the timeout
// expires.
func (s *Server) WaitFor(ctx context.Context, timeout time.Duration, pred func(trace.Event) bool) (trace.Event, bool) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	scan := func() (trace.Event, bool) {
		for _, ev := range s.Events() {
			if pred(ev) {
				return ev, true
			}
		}
		return trace.Event{}, false
	}

	for {
		select {
		case <-ctx.Done():
			// last-chance scan
			return scan()
		case <-ticker.C:
			if ev, ok := scan(); ok {
				return ev, true
			}
		}
	}
}

// WaitFinished blocks until n distinct nodes have reported termination.
func (s *Server) WaitFinished(ctx context.Context, n int) error {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		if len(trace.Finished(s.Events())) >= n {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Close flushes the trace file, if any.
func (s *Server) Close() error {
	if s.disk != nil {
		return s.disk.close()
	}
	return nil
}

// Serve registers srv on a new gRPC server and serves lis until it stops.
func Serve(lis net.Listener, srv *Server) (*grpc.Server, <-chan error) {
	grpcServer := grpc.NewServer()
	Register(grpcServer, srv)

	errCh := make(chan error, 1)
	go func() {
		if err := grpcServer.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			errCh <- err
		}
		close(errCh)
	}()
	return grpcServer, errCh
}
