package main

import (
	"context"
	"flag"
	"log"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/distcodep7/lamport/controller"
	"github.com/distcodep7/lamport/trace"
)

func main() {
	addr := flag.String("addr", ":50051", "Address to accept node streams on")
	traceFile := flag.String("trace", "trace_log.jsonl", "JSON lines file for collected events (empty disables)")
	verify := flag.Bool("verify", true, "Check the collected events against the clock rules on exit")
	nodes := flag.Int("nodes", 0, "Exit once this many nodes have finished (0 runs until interrupted)")
	flag.Parse()

	srv, err := controller.NewServer(controller.ServerOptions{
		Logger:    log.Default(),
		TraceFile: *traceFile,
	})
	if err != nil {
		log.Fatal(err)
	}

	lis, err := net.Listen("tcp", *addr)
	if err != nil {
		log.Fatal(err)
	}

	grpcServer, errCh := controller.Serve(lis, srv)
	log.Printf("Lamport trace collector ready on %s", lis.Addr())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	finished := make(chan struct{})
	if *nodes > 0 {
		go func() {
			if srv.WaitFinished(ctx, *nodes) == nil {
				close(finished)
			}
		}()
	}

	select {
	case <-finished:
		log.Printf("All %d nodes finished", *nodes)
	case <-ctx.Done():
		log.Println("Received termination signal, shutting down...")
	case err := <-errCh:
		if err != nil {
			log.Printf("serve: %v", err)
		}
	}
	grpcServer.GracefulStop()

	if err := srv.Close(); err != nil {
		log.Printf("closing trace file: %v", err)
	}

	if *verify {
		events := srv.Events()
		for id, sum := range trace.Summarize(events) {
			log.Printf("[CTRL] %s: %d local, %d send, %d receive, final clock %d",
				id, sum.Local, sum.Send, sum.Receive, sum.FinalClock)
		}
		if err := trace.Verify(events); err != nil {
			log.Printf("[CTRL] clock check failed:\n%v", err)
			os.Exit(1)
		}
		log.Printf("[CTRL] clock check passed for %d events", len(events))
	}
}
