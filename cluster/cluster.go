// Package cluster runs every node of a roster inside one process, over real
// UDP sockets or an in-process switch.
package cluster

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/distcodep7/lamport/dsnet"
	"github.com/distcodep7/lamport/metrics"
	"github.com/distcodep7/lamport/node"
	"github.com/distcodep7/lamport/roster"
	"github.com/distcodep7/lamport/trace"
)

type Options struct {
	Node node.Options // Rand is ignored; each node gets its own stream
	// Seed 0 seeds from the wall clock. Node i uses Seed+i.
	Seed   int64
	Faults dsnet.FaultConfig
	// Switch routes traffic in memory instead of over UDP when set.
	Switch *dsnet.Switch
	Logger dsnet.Logger
	// Recorder returns the trace sink for a node id. May be nil.
	Recorder func(id string) trace.Recorder
}

type Cluster struct {
	nodes   []*node.Node
	faulty  []*dsnet.Faulty
	closers []dsnet.Listener
}

// New binds a listener for every peer before any node starts, so no start
// frame can reach a closed port.
func New(peers []roster.Peer, opts Options) (*Cluster, error) {
	if opts.Logger == nil {
		opts.Logger = dsnet.NoOpLogger{}
	}
	seed := opts.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	c := &Cluster{}
	for i, p := range peers {
		dir, err := roster.New(peers, p.ID)
		if err != nil {
			c.closeListeners()
			return nil, err
		}

		lis, out, err := c.bind(p, opts)
		if err != nil {
			c.closeListeners()
			return nil, fmt.Errorf("node %s: %w", p.ID, err)
		}
		c.closers = append(c.closers, lis)

		if opts.Faults.Enabled() {
			f := dsnet.NewFaulty(out, opts.Faults, rand.New(rand.NewSource(seed+int64(len(peers)+i))), opts.Logger)
			id := p.ID
			f.Observe(func(fault, _, _ string) {
				metrics.FaultsInjected.WithLabelValues(id, fault).Inc()
			})
			c.faulty = append(c.faulty, f)
			out = f
		}

		nopts := opts.Node
		nopts.Rand = rand.New(rand.NewSource(seed + int64(i)))
		nopts.Logger = opts.Logger
		if opts.Recorder != nil {
			nopts.Recorder = opts.Recorder(p.ID)
		}
		c.nodes = append(c.nodes, node.New(dir, lis, out, nopts))
	}
	return c, nil
}

func (c *Cluster) bind(p roster.Peer, opts Options) (dsnet.Listener, dsnet.Messenger, error) {
	if opts.Switch != nil {
		ep, err := opts.Switch.Attach(p.Addr())
		if err != nil {
			return nil, nil, err
		}
		return ep, ep, nil
	}
	lis, err := dsnet.ListenUDP(p.Addr(), opts.Logger)
	if err != nil {
		return nil, nil, err
	}
	return lis, dsnet.UDPSender{}, nil
}

func (c *Cluster) Nodes() []*node.Node { return c.nodes }

// Run starts every node and waits for all of them. Results are in roster
// order. The first node error cancels the others.
func (c *Cluster) Run(ctx context.Context) ([]node.Result, error) {
	results := make([]node.Result, len(c.nodes))
	g, ctx := errgroup.WithContext(ctx)
	for i, n := range c.nodes {
		g.Go(func() error {
			res, err := n.Run(ctx)
			results[i] = res
			if err != nil {
				return fmt.Errorf("node %s: %w", n.ID(), err)
			}
			return nil
		})
	}
	err := g.Wait()
	for _, f := range c.faulty {
		f.Wait()
	}
	return results, err
}

func (c *Cluster) closeListeners() {
	for _, l := range c.closers {
		l.Close()
	}
}

// Run builds a cluster for peers and runs it to completion.
func Run(ctx context.Context, peers []roster.Peer, opts Options) ([]node.Result, error) {
	c, err := New(peers, opts)
	if err != nil {
		return nil, err
	}
	return c.Run(ctx)
}
