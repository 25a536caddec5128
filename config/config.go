// Package config loads node settings from a TOML file and the environment.
// Precedence is defaults, then the file, then the environment; command line
// flags are applied on top by the caller.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"math/rand"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"

	"github.com/distcodep7/lamport/dsnet"
	errs "github.com/distcodep7/lamport/internal/errors"
	"github.com/distcodep7/lamport/lamport"
	"github.com/distcodep7/lamport/node"
)

type NodeSettings struct {
	EventBudget     int           `toml:"event_budget"`
	Interval        time.Duration `toml:"interval"`
	SendProbability float64       `toml:"send_probability"`
	// LocalOnly disables sends; every round is a local event.
	LocalOnly     bool  `toml:"local_only"`
	Seed          int64 `toml:"seed"` // 0 seeds from the wall clock
	BroadcastDone bool  `toml:"broadcast_done"`
}

type FaultSettings struct {
	DropProb       float64       `toml:"drop_prob"`
	DupeProb       float64       `toml:"dupe_prob"`
	AsyncDuplicate bool          `toml:"async_duplicate"`
	ReorderProb    float64       `toml:"reorder_prob"`
	ReorderMin     time.Duration `toml:"reorder_min"`
	ReorderMax     time.Duration `toml:"reorder_max"`
}

type ObservabilitySettings struct {
	TraceFile     string `toml:"trace_file"`
	CollectorAddr string `toml:"collector_addr"`
	MetricsAddr   string `toml:"metrics_addr"`
	AdminAddr     string `toml:"admin_addr"`
}

type Settings struct {
	Node          NodeSettings          `toml:"node"`
	Faults        FaultSettings         `toml:"faults"`
	Observability ObservabilitySettings `toml:"observability"`
}

func Default() Settings {
	return Settings{
		Node: NodeSettings{
			EventBudget:     lamport.DefaultBudget,
			Interval:        node.DefaultInterval,
			SendProbability: lamport.DefaultSendProbability,
		},
	}
}

// Load reads path over the defaults. An empty path returns the defaults.
func Load(path string) (Settings, error) {
	s := Default()
	if path == "" {
		return s, nil
	}
	if _, err := toml.DecodeFile(path, &s); err != nil {
		return s, fmt.Errorf("%w: reading settings %s: %v", errs.ErrConfig, path, err)
	}
	return s, nil
}

// LoadDotEnv loads KEY=value pairs from the given files into the process
// environment. Missing files are ignored.
func LoadDotEnv(files ...string) error {
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: loading %s: %v", errs.ErrConfig, f, err)
		}
	}
	return nil
}

// ApplyEnv overrides settings from LAMPORT_* variables. getenv is usually
// os.Getenv; an empty value leaves the setting untouched.
func (s *Settings) ApplyEnv(getenv func(string) string) error {
	if v := getenv("LAMPORT_BUDGET"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%w: LAMPORT_BUDGET=%q: %v", errs.ErrConfig, v, err)
		}
		s.Node.EventBudget = n
	}
	if v := getenv("LAMPORT_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%w: LAMPORT_INTERVAL=%q: %v", errs.ErrConfig, v, err)
		}
		s.Node.Interval = d
	}
	if v := getenv("LAMPORT_SEED"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("%w: LAMPORT_SEED=%q: %v", errs.ErrConfig, v, err)
		}
		s.Node.Seed = n
	}
	if v := getenv("LAMPORT_SEND_PROBABILITY"); v != "" {
		p, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("%w: LAMPORT_SEND_PROBABILITY=%q: %v", errs.ErrConfig, v, err)
		}
		s.Node.SendProbability = p
	}

	strs := []struct {
		key string
		dst *string
	}{
		{"LAMPORT_COLLECTOR", &s.Observability.CollectorAddr},
		{"LAMPORT_METRICS", &s.Observability.MetricsAddr},
		{"LAMPORT_ADMIN", &s.Observability.AdminAddr},
		{"LAMPORT_TRACE", &s.Observability.TraceFile},
	}
	for _, e := range strs {
		if v := getenv(e.key); v != "" {
			*e.dst = v
		}
	}
	return nil
}

func (s Settings) Validate() error {
	if s.Node.EventBudget < 1 {
		return fmt.Errorf("%w: event_budget must be at least 1, got %d", errs.ErrConfig, s.Node.EventBudget)
	}
	if s.Node.Interval <= 0 {
		return fmt.Errorf("%w: interval must be positive, got %v", errs.ErrConfig, s.Node.Interval)
	}
	if p := s.Node.SendProbability; p < 0 || p > 1 {
		return fmt.Errorf("%w: send_probability %v outside [0,1]", errs.ErrConfig, p)
	}
	if s.Node.SendProbability == 0 && !s.Node.LocalOnly {
		return fmt.Errorf("%w: send_probability is 0; set local_only to disable sends", errs.ErrConfig)
	}
	return s.FaultConfig().Validate()
}

func (s Settings) FaultConfig() dsnet.FaultConfig {
	return dsnet.FaultConfig{
		DropProb:        s.Faults.DropProb,
		DupeProb:        s.Faults.DupeProb,
		AsyncDuplicate:  s.Faults.AsyncDuplicate,
		ReorderProb:     s.Faults.ReorderProb,
		ReorderMinDelay: s.Faults.ReorderMin,
		ReorderMaxDelay: s.Faults.ReorderMax,
	}
}

// Rand returns the generator for one node. Nodes sharing a process get
// distinct streams by passing their roster index as offset.
func (s Settings) Rand(offset int64) *rand.Rand {
	seed := s.Node.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return rand.New(rand.NewSource(seed + offset))
}

// NodeOptions converts the node section. The caller fills in Rand, Logger
// and Recorder.
func (s Settings) NodeOptions() node.Options {
	return node.Options{
		Budget:          s.Node.EventBudget,
		Interval:        s.Node.Interval,
		SendProbability: s.Node.SendProbability,
		LocalOnly:       s.Node.LocalOnly,
		BroadcastDone:   s.Node.BroadcastDone,
	}
}
