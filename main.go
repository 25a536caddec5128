package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/distcodep7/lamport/admin"
	"github.com/distcodep7/lamport/cluster"
	"github.com/distcodep7/lamport/config"
	"github.com/distcodep7/lamport/controller"
	"github.com/distcodep7/lamport/dsnet"
	"github.com/distcodep7/lamport/metrics"
	"github.com/distcodep7/lamport/node"
	"github.com/distcodep7/lamport/roster"
	"github.com/distcodep7/lamport/trace"
)

type flags struct {
	settings  string
	metrics   string
	admin     string
	collector string
	trace     string
	seed      int64
	budget    int
	interval  time.Duration
	all       bool
}

func usage() {
	fmt.Fprintf(flag.CommandLine.Output(), "usage: %s [flags] <roster> <id>\n       %s [flags] -all <roster>\n", os.Args[0], os.Args[0])
	flag.PrintDefaults()
}

func main() {
	var f flags
	flag.StringVar(&f.settings, "settings", "", "Path to a TOML settings file")
	flag.StringVar(&f.metrics, "metrics", "", "Address to serve Prometheus metrics on")
	flag.StringVar(&f.admin, "admin", "", "Address to serve /ready, /status and /metrics on")
	flag.StringVar(&f.collector, "collector", "", "gRPC address of a trace collector")
	flag.StringVar(&f.trace, "trace", "", "Write trace events to this JSON lines file")
	flag.Int64Var(&f.seed, "seed", 0, "Random seed (0 uses the wall clock)")
	flag.IntVar(&f.budget, "budget", 0, "Events per node before finishing")
	flag.DurationVar(&f.interval, "interval", 0, "Delay between scheduler rounds")
	flag.BoolVar(&f.all, "all", false, "Run every roster node in this process")
	flag.Usage = usage
	flag.Parse()

	want := 2
	if f.all {
		want = 1
	}
	if flag.NArg() < want {
		usage()
		os.Exit(1)
	}

	settings, err := loadSettings(f)
	if err != nil {
		log.Fatal(err)
	}

	peers, err := roster.Load(flag.Arg(0))
	if err != nil {
		log.Fatal(err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if f.all {
		err = runAll(ctx, stop, peers, settings)
	} else {
		err = runOne(ctx, stop, peers, flag.Arg(1), settings)
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Fatal(err)
	}
}

// loadSettings layers defaults, the settings file, the environment and the
// flags that were set explicitly.
func loadSettings(f flags) (config.Settings, error) {
	s, err := config.Load(f.settings)
	if err != nil {
		return s, err
	}
	if err := config.LoadDotEnv(".env"); err != nil {
		return s, err
	}
	if err := s.ApplyEnv(os.Getenv); err != nil {
		return s, err
	}

	flag.Visit(func(fl *flag.Flag) {
		switch fl.Name {
		case "metrics":
			s.Observability.MetricsAddr = f.metrics
		case "admin":
			s.Observability.AdminAddr = f.admin
		case "collector":
			s.Observability.CollectorAddr = f.collector
		case "trace":
			s.Observability.TraceFile = f.trace
		case "seed":
			s.Node.Seed = f.seed
		case "budget":
			s.Node.EventBudget = f.budget
		case "interval":
			s.Node.Interval = f.interval
		}
	})
	return s, s.Validate()
}

func runOne(ctx context.Context, cancel context.CancelFunc, peers []roster.Peer, selfID string, s config.Settings) error {
	dir, err := roster.New(peers, selfID)
	if err != nil {
		return err
	}
	self := dir.Self()

	lis, err := dsnet.ListenUDP(fmt.Sprintf(":%d", self.Port), log.Default())
	if err != nil {
		return err
	}

	var out dsnet.Messenger = dsnet.UDPSender{}
	if s.FaultConfig().Enabled() {
		faulty := dsnet.NewFaulty(out, s.FaultConfig(), s.Rand(1), log.Default())
		faulty.Observe(func(fault, _, _ string) {
			metrics.FaultsInjected.WithLabelValues(self.ID, fault).Inc()
		})
		defer faulty.Wait()
		out = faulty
	}

	sinks, err := openSinks(s)
	if err != nil {
		lis.Close()
		return err
	}
	defer sinks.close()

	opts := s.NodeOptions()
	opts.Rand = s.Rand(0)
	opts.Logger = log.Default()
	opts.Recorder = sinks.recorder(ctx, self.ID)
	n := node.New(dir, lis, out, opts)

	stopServers, err := serve(s, []admin.Snapshotter{n}, cancel)
	if err != nil {
		lis.Close()
		return err
	}
	defer stopServers()

	res, err := n.Run(ctx)
	log.Println(res)
	return err
}

func runAll(ctx context.Context, cancel context.CancelFunc, peers []roster.Peer, s config.Settings) error {
	sinks, err := openSinks(s)
	if err != nil {
		return err
	}
	defer sinks.close()

	c, err := cluster.New(peers, cluster.Options{
		Node:     s.NodeOptions(),
		Seed:     s.Node.Seed,
		Faults:   s.FaultConfig(),
		Logger:   log.Default(),
		Recorder: func(id string) trace.Recorder { return sinks.recorder(ctx, id) },
	})
	if err != nil {
		return err
	}

	nodes := make([]admin.Snapshotter, 0, len(c.Nodes()))
	for _, n := range c.Nodes() {
		nodes = append(nodes, n)
	}
	stopServers, err := serve(s, nodes, cancel)
	if err != nil {
		return err
	}
	defer stopServers()

	results, err := c.Run(ctx)
	for _, r := range results {
		log.Println(r)
	}
	return err
}

// sinks owns the trace outputs shared by the nodes of this process.
type sinks struct {
	file      *trace.FileRecorder
	collector string
	reporters []*controller.Reporter
}

func openSinks(s config.Settings) (*sinks, error) {
	out := &sinks{collector: s.Observability.CollectorAddr}
	if path := s.Observability.TraceFile; path != "" {
		fr, err := trace.OpenFile(path)
		if err != nil {
			return nil, err
		}
		out.file = fr
	}
	return out, nil
}

func (k *sinks) recorder(ctx context.Context, id string) trace.Recorder {
	var m trace.Multi
	if k.file != nil {
		m = append(m, k.file)
	}
	if k.collector != "" {
		r, err := controller.Dial(ctx, k.collector, id, log.Default())
		if err != nil {
			log.Printf("[%s] collector unavailable: %v", id, err)
		} else {
			k.reporters = append(k.reporters, r)
			m = append(m, r)
		}
	}
	if len(m) == 0 {
		return trace.NopRecorder{}
	}
	return m
}

func (k *sinks) close() {
	for _, r := range k.reporters {
		if err := r.Close(); err != nil {
			log.Printf("closing collector stream: %v", err)
		}
	}
	if k.file != nil {
		k.file.Close()
	}
}

// serve starts the admin and metrics listeners that are configured.
func serve(s config.Settings, nodes []admin.Snapshotter, cancel context.CancelFunc) (func(), error) {
	var stops []func()
	stopAll := func() {
		for _, stop := range stops {
			stop()
		}
	}

	if addr := s.Observability.AdminAddr; addr != "" {
		srv := admin.NewServer(nodes, cancel, log.Default())
		if err := srv.ListenAndServe(addr); err != nil {
			return nil, err
		}
		stops = append(stops, func() { srv.Close() })
	}

	if addr := s.Observability.MetricsAddr; addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Printf("[METRICS] server error: %v", err)
			}
		}()
		stops = append(stops, func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			srv.Shutdown(ctx)
		})
	}
	return stopAll, nil
}
