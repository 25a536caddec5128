// Package roster holds the static list of nodes taking part in a run and the
// per-peer readiness and completion flags the coordination protocol tracks.
package roster

import (
	"bufio"
	"fmt"
	"io"
	"math/rand"
	"net"
	"os"
	"strconv"
	"strings"

	errs "github.com/distcodep7/lamport/internal/errors"
)

// Peer is one roster line: `id host port`.
type Peer struct {
	ID   string
	Host string
	Port int
}

// Addr returns host:port for dialing.
func (p Peer) Addr() string {
	return net.JoinHostPort(p.Host, strconv.Itoa(p.Port))
}

// Status is replaced as a whole on every update, never mutated in place.
type Status struct {
	Received bool // peer completed the start handshake
	Stopped  bool // peer announced it is done
}

// Parse reads roster records from r. Blank lines, lines without exactly three
// fields and lines whose port is not an integer are skipped.
func Parse(r io.Reader) ([]Peer, error) {
	var peers []Peer
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) != 3 {
			continue
		}
		port, err := strconv.Atoi(fields[2])
		if err != nil || port < 0 || port > 65535 {
			continue
		}
		peers = append(peers, Peer{ID: fields[0], Host: fields[1], Port: port})
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read roster: %w", err)
	}
	return peers, nil
}

// Load parses the roster file at path.
func Load(path string) ([]Peer, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: open roster %s: %v", errs.ErrConfig, path, err)
	}
	defer f.Close()
	return Parse(f)
}

// Directory is the roster seen from one node. It is owned by that node's event
// loop and is not safe for concurrent use.
type Directory struct {
	self   Peer
	all    []Peer
	peers  []Peer
	index  map[string]int
	status map[string]Status
}

// New builds the directory for selfID. The id must appear exactly once.
func New(all []Peer, selfID string) (*Directory, error) {
	d := &Directory{
		all:    append([]Peer(nil), all...),
		index:  make(map[string]int, len(all)),
		status: make(map[string]Status, len(all)),
	}

	found := false
	for i, p := range d.all {
		if _, dup := d.index[p.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate roster id %q", errs.ErrConfig, p.ID)
		}
		d.index[p.ID] = i
		d.status[p.ID] = Status{}

		if p.ID == selfID {
			d.self = p
			found = true
			continue
		}
		d.peers = append(d.peers, p)
	}
	if !found {
		return nil, fmt.Errorf("%w: no roster entry for %q", errs.ErrConfig, selfID)
	}
	return d, nil
}

func (d *Directory) Self() Peer { return d.self }

// Len is the number of roster entries including self.
func (d *Directory) Len() int { return len(d.all) }

// Peers returns every entry except self in file order.
func (d *Directory) Peers() []Peer {
	return append([]Peer(nil), d.peers...)
}

// ByID looks up any roster entry, self included.
func (d *Directory) ByID(id string) (Peer, error) {
	i, ok := d.index[id]
	if !ok {
		return Peer{}, fmt.Errorf("%w: peer %q", errs.ErrNotFound, id)
	}
	return d.all[i], nil
}

func (d *Directory) Status(id string) (Status, bool) {
	st, ok := d.status[id]
	return st, ok
}

func (d *Directory) Received(id string) bool { return d.status[id].Received }

func (d *Directory) Stopped(id string) bool { return d.status[id].Stopped }

// MarkReceived flags id as ready. Marking twice is a no-op.
func (d *Directory) MarkReceived(id string) error {
	st, ok := d.status[id]
	if !ok {
		return fmt.Errorf("%w: peer %q", errs.ErrNotFound, id)
	}
	d.status[id] = Status{Received: true, Stopped: st.Stopped}
	return nil
}

// MarkStopped flags id as done. Marking twice is a no-op.
func (d *Directory) MarkStopped(id string) error {
	st, ok := d.status[id]
	if !ok {
		return fmt.Errorf("%w: peer %q", errs.ErrNotFound, id)
	}
	d.status[id] = Status{Received: st.Received, Stopped: true}
	return nil
}

// AllReceived reports whether every peer except self has been marked
// received. True for a roster with no peers.
func (d *Directory) AllReceived() bool {
	for _, p := range d.peers {
		if !d.status[p.ID].Received {
			return false
		}
	}
	return true
}

// Eligible returns the peers that have not announced they are done.
func (d *Directory) Eligible() []Peer {
	out := make([]Peer, 0, len(d.peers))
	for _, p := range d.peers {
		if !d.status[p.ID].Stopped {
			out = append(out, p)
		}
	}
	return out
}

// RandomPeer picks uniformly from subset, which must not be empty.
func (d *Directory) RandomPeer(rng *rand.Rand, subset []Peer) (Peer, error) {
	if len(subset) == 0 {
		return Peer{}, fmt.Errorf("%w: empty peer subset", errs.ErrInvalidArgument)
	}
	return subset[rng.Intn(len(subset))], nil
}
