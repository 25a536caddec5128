// Package admin exposes a node's progress over HTTP: readiness, a JSON status
// snapshot, Prometheus metrics and a shutdown hook.
package admin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/distcodep7/lamport/metrics"
	"github.com/distcodep7/lamport/node"
)

// Snapshotter is implemented by *node.Node.
type Snapshotter interface {
	ID() string
	Snapshot() node.Snapshot
}

type Logger interface {
	Printf(format string, v ...interface{})
}

type Server struct {
	nodes    []Snapshotter
	shutdown context.CancelFunc
	logger   Logger
	srv      *http.Server
}

// NewServer serves the given nodes. shutdown, if not nil, is called by POST
// /shutdown.
func NewServer(nodes []Snapshotter, shutdown context.CancelFunc, logger Logger) *Server {
	s := &Server{nodes: nodes, shutdown: shutdown, logger: logger}

	mux := http.NewServeMux()
	mux.HandleFunc("/ready", s.Ready)
	mux.HandleFunc("/status", s.Status)
	mux.HandleFunc("/shutdown", s.Shutdown)
	mux.Handle("/metrics", metrics.Handler())
	s.srv = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	return s
}

func (s *Server) Handler() http.Handler { return s.srv.Handler }

// Ready answers 200 once every node has passed its start barrier.
func (s *Server) Ready(w http.ResponseWriter, _ *http.Request) {
	for _, n := range s.nodes {
		if !n.Snapshot().Ready {
			http.Error(w, fmt.Sprintf("%s not ready", n.ID()), http.StatusServiceUnavailable)
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	fmt.Fprintln(w, "Ready")
}

// Status writes the snapshots of all nodes, or of one with ?node=id.
func (s *Server) Status(w http.ResponseWriter, r *http.Request) {
	want := r.URL.Query().Get("node")
	out := make([]node.Snapshot, 0, len(s.nodes))
	for _, n := range s.nodes {
		if want == "" || n.ID() == want {
			out = append(out, n.Snapshot())
		}
	}
	if want != "" && len(out) == 0 {
		http.Error(w, fmt.Sprintf("unknown node %q", want), http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(out); err != nil {
		s.logger.Printf("[ADMIN] encode status: %v", err)
	}
}

func (s *Server) Shutdown(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "POST only", http.StatusMethodNotAllowed)
		return
	}
	if s.shutdown == nil {
		http.Error(w, "shutdown not supported", http.StatusNotImplemented)
		return
	}
	fmt.Fprintln(w, "Shutting down...")
	s.shutdown()
}

// ListenAndServe serves on addr until Close is called.
func (s *Server) ListenAndServe(addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("admin listen %s: %w", addr, err)
	}
	go func() {
		s.logger.Printf("[ADMIN] serving on %s", lis.Addr())
		if err := s.srv.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Printf("[ADMIN] server error: %v", err)
		}
	}()
	return nil
}

func (s *Server) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.srv.Shutdown(ctx)
}
