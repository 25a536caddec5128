package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	errs "github.com/distcodep7/lamport/internal/errors"
)

const settingsTOML = `
[node]
event_budget = 20
interval = "50ms"
send_probability = 0.25
seed = 7
broadcast_done = true

[faults]
drop_prob = 0.1
reorder_prob = 0.2
reorder_min = "5ms"
reorder_max = "20ms"

[observability]
trace_file = "run.jsonl"
admin_addr = ":8090"
`

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func TestDefaults(t *testing.T) {
	s, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if s.Node.EventBudget != 100 || s.Node.Interval != 200*time.Millisecond || s.Node.SendProbability != 0.5 {
		t.Fatalf("defaults = %+v", s.Node)
	}
	if s.FaultConfig().Enabled() {
		t.Fatalf("faults on by default")
	}
	if err := s.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestLoadTOML(t *testing.T) {
	s, err := Load(writeFile(t, "settings.toml", settingsTOML))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if s.Node.EventBudget != 20 || s.Node.Interval != 50*time.Millisecond || s.Node.Seed != 7 || !s.Node.BroadcastDone {
		t.Fatalf("node = %+v", s.Node)
	}
	fc := s.FaultConfig()
	if fc.DropProb != 0.1 || fc.ReorderMinDelay != 5*time.Millisecond || fc.ReorderMaxDelay != 20*time.Millisecond {
		t.Fatalf("faults = %+v", fc)
	}
	if s.Observability.TraceFile != "run.jsonl" || s.Observability.AdminAddr != ":8090" {
		t.Fatalf("observability = %+v", s.Observability)
	}

	opts := s.NodeOptions()
	if opts.Budget != 20 || opts.SendProbability != 0.25 || !opts.BroadcastDone {
		t.Fatalf("node options = %+v", opts)
	}
}

func TestLoadRejectsBadFile(t *testing.T) {
	if _, err := Load(writeFile(t, "bad.toml", "[node\nevent_budget = ")); !errs.Is(err, errs.ErrConfig) {
		t.Fatalf("expected ErrConfig, got %v", err)
	}
	if _, err := Load(filepath.Join(t.TempDir(), "missing.toml")); !errs.Is(err, errs.ErrConfig) {
		t.Fatalf("expected ErrConfig, got %v", err)
	}
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"LAMPORT_BUDGET":           "9",
		"LAMPORT_INTERVAL":         "1s",
		"LAMPORT_SEND_PROBABILITY": "1",
		"LAMPORT_COLLECTOR":        "localhost:50051",
	}
	s := Default()
	if err := s.ApplyEnv(func(k string) string { return env[k] }); err != nil {
		t.Fatalf("ApplyEnv: %v", err)
	}
	if s.Node.EventBudget != 9 || s.Node.Interval != time.Second || s.Node.SendProbability != 1 {
		t.Fatalf("node = %+v", s.Node)
	}
	if s.Observability.CollectorAddr != "localhost:50051" {
		t.Fatalf("collector = %q", s.Observability.CollectorAddr)
	}

	env = map[string]string{"LAMPORT_BUDGET": "lots"}
	if err := s.ApplyEnv(func(k string) string { return env[k] }); !errs.Is(err, errs.ErrConfig) {
		t.Fatalf("expected ErrConfig, got %v", err)
	}
}

func TestLoadDotEnv(t *testing.T) {
	path := writeFile(t, ".env", "LAMPORT_TEST_DOTENV=42\n")
	t.Cleanup(func() { os.Unsetenv("LAMPORT_TEST_DOTENV") })

	if err := LoadDotEnv(filepath.Join(t.TempDir(), "absent.env"), path); err != nil {
		t.Fatalf("LoadDotEnv: %v", err)
	}
	if got := os.Getenv("LAMPORT_TEST_DOTENV"); got != "42" {
		t.Fatalf("env = %q", got)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Settings)
	}{
		{"zero budget", func(s *Settings) { s.Node.EventBudget = 0 }},
		{"zero interval", func(s *Settings) { s.Node.Interval = 0 }},
		{"send probability above one", func(s *Settings) { s.Node.SendProbability = 1.2 }},
		{"zero send probability", func(s *Settings) { s.Node.SendProbability = 0 }},
		{"negative drop", func(s *Settings) { s.Faults.DropProb = -0.1 }},
		{"reorder window inverted", func(s *Settings) { s.Faults.ReorderMin = time.Second }},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			s := Default()
			tc.mutate(&s)
			if err := s.Validate(); !errs.Is(err, errs.ErrConfig) {
				t.Fatalf("expected ErrConfig, got %v", err)
			}
		})
	}
}

func TestLocalOnlyAllowsZeroSendProbability(t *testing.T) {
	s := Default()
	s.Node.LocalOnly = true
	s.Node.SendProbability = 0
	if err := s.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestRandSeeded(t *testing.T) {
	s := Default()
	s.Node.Seed = 3
	if s.Rand(0).Int63() != s.Rand(0).Int63() {
		t.Fatalf("same seed gave different streams")
	}
	if s.Rand(0).Int63() == s.Rand(1).Int63() {
		t.Fatalf("offsets gave the same stream")
	}
}
