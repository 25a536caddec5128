package node

type State int32

const (
	StateInit State = iota
	StateBarrierWait
	StateRunning
	StateDraining
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateBarrierWait:
		return "barrier_wait"
	case StateRunning:
		return "running"
	case StateDraining:
		return "draining"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// PeerStatus is the view of one peer in a Snapshot.
type PeerStatus struct {
	ID       string `json:"id"`
	Addr     string `json:"addr"`
	Received bool   `json:"received"`
	Stopped  bool   `json:"stopped"`
}

// Snapshot is a copy of the node's progress, safe to read from any goroutine.
type Snapshot struct {
	ID      string       `json:"id"`
	State   string       `json:"state"`
	Ready   bool         `json:"ready"` // barrier passed
	Clock   uint64       `json:"clock"`
	Events  int          `json:"events"`
	Rounds  int          `json:"rounds"`
	Budget  int          `json:"budget"`
	LastAck string       `json:"last_ack,omitempty"`
	Peers   []PeerStatus `json:"peers"`
}

// Result is what Run returns once the node stops.
type Result struct {
	ID     string
	State  State
	Clock  uint64
	Events int
	Rounds int
}
