package dsnet

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	errs "github.com/distcodep7/lamport/internal/errors"
)

// maxDatagram holds any UDP payload, so a frame is never cut short before
// parsing.
const maxDatagram = 64 * 1024

// UDPSender opens a socket per message, writes the payload and closes it.
type UDPSender struct {
	Timeout time.Duration
}

func (s UDPSender) Send(ctx context.Context, addr string, payload string) error {
	if s.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.Timeout)
		defer cancel()
	}

	var d net.Dialer
	conn, err := d.DialContext(ctx, "udp", addr)
	if err != nil {
		return fmt.Errorf("%w: dial %s: %v", errs.ErrTransport, addr, err)
	}
	defer conn.Close()

	if _, err := conn.Write([]byte(payload)); err != nil {
		return fmt.Errorf("%w: write %s: %v", errs.ErrTransport, addr, err)
	}
	return nil
}

// UDPListener reads datagrams from a bound socket and queues the well formed
// ones on Inbound. Malformed datagrams are dropped.
type UDPListener struct {
	conn    net.PacketConn
	inbound chan Event
	closeCh chan struct{}
	wg      sync.WaitGroup
	once    sync.Once
	logger  Logger
}

// ListenUDP binds addr ("host:port", port 0 picks a free port).
func ListenUDP(addr string, logger Logger) (*UDPListener, error) {
	conn, err := net.ListenPacket("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("%w: listen %s: %v", errs.ErrTransport, addr, err)
	}
	if logger == nil {
		logger = NoOpLogger{}
	}

	l := &UDPListener{
		conn:    conn,
		inbound: make(chan Event, inboundBuffer),
		closeCh: make(chan struct{}),
		logger:  logger,
	}

	l.wg.Add(1)
	go l.recvLoop()
	return l, nil
}

func (l *UDPListener) Inbound() <-chan Event { return l.inbound }

func (l *UDPListener) Addr() string { return l.conn.LocalAddr().String() }

// Port is the bound UDP port.
func (l *UDPListener) Port() int {
	if ua, ok := l.conn.LocalAddr().(*net.UDPAddr); ok {
		return ua.Port
	}
	return 0
}

func (l *UDPListener) Close() error {
	var err error
	l.once.Do(func() {
		close(l.closeCh)
		err = l.conn.Close()
		l.wg.Wait()
		close(l.inbound)
	})
	return err
}

func (l *UDPListener) recvLoop() {
	defer l.wg.Done()

	buf := make([]byte, maxDatagram)
	for {
		n, from, err := l.conn.ReadFrom(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			select {
			case <-l.closeCh:
				return
			default:
			}
			l.logger.Printf("[NET] receive error on %s: %v", l.Addr(), err)
			continue
		}

		if n == len(buf) {
			l.logger.Printf("[NET] dropping oversize datagram from %s", from)
			continue
		}
		frame, err := ParseFrame(buf[:n])
		if err != nil {
			continue
		}

		ev := Event{Frame: frame, Addr: from.String(), Received: time.Now()}
		select {
		case l.inbound <- ev:
		case <-l.closeCh:
			return
		}
	}
}
