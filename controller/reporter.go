package controller

import (
	"context"
	"fmt"
	"sync"

	"github.com/distcodep7/lamport/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	emptypb "google.golang.org/protobuf/types/known/emptypb"
)

const reportBuffer = 1024

// Reporter streams a node's trace events to a collector. It implements
// trace.Recorder; Record never blocks the caller.
type Reporter struct {
	nodeID string
	conn   *grpc.ClientConn
	stream grpc.ClientStream
	queue  chan trace.Event
	wg     sync.WaitGroup
	once   sync.Once
	logger Logger
}

// Dial connects to the collector at addr and opens the event stream for nodeID.
func Dial(ctx context.Context, addr, nodeID string, logger Logger) (*Reporter, error) {
	if logger == nil {
		logger = &NoOpLogger{}
	}
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to collector at %s: %w", addr, err)
	}

	stream, err := conn.NewStream(ctx, &ServiceDesc.Streams[0], streamPath)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open stream: %w", err)
	}

	msg, err := encodeStruct(hello{Node: nodeID})
	if err != nil {
		conn.Close()
		return nil, err
	}
	if err := stream.SendMsg(msg); err != nil {
		conn.Close()
		return nil, fmt.Errorf("hello failed: %w", err)
	}

	r := &Reporter{
		nodeID: nodeID,
		conn:   conn,
		stream: stream,
		queue:  make(chan trace.Event, reportBuffer),
		logger: logger,
	}
	r.wg.Add(1)
	go r.sendLoop()
	return r, nil
}

func (r *Reporter) Record(ev trace.Event) {
	select {
	case r.queue <- ev:
	default:
		r.logger.Printf("[%s] collector queue full, dropped event %s", r.nodeID, ev.ID)
	}
}

func (r *Reporter) sendLoop() {
	defer r.wg.Done()
	for ev := range r.queue {
		msg, err := encodeStruct(ev)
		if err != nil {
			r.logger.Printf("[%s] encode event: %v", r.nodeID, err)
			continue
		}
		if err := r.stream.SendMsg(msg); err != nil {
			r.logger.Printf("[%s] collector send failed: %v", r.nodeID, err)
			// drain so Record keeps returning immediately
			for range r.queue {
			}
			return
		}
	}
}

// Close sends the queued events, ends the stream and waits for the
// collector's acknowledgement. Record must not be called after Close.
func (r *Reporter) Close() error {
	var err error
	r.once.Do(func() {
		close(r.queue)
		r.wg.Wait()

		if cerr := r.stream.CloseSend(); cerr != nil {
			err = cerr
		} else if rerr := r.stream.RecvMsg(&emptypb.Empty{}); rerr != nil {
			err = rerr
		}
		if cerr := r.conn.Close(); err == nil {
			err = cerr
		}
	})
	return err
}
