package dsnet

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	errs "github.com/distcodep7/lamport/internal/errors"
)

// FaultConfig controls the misbehaviour injected on the send path.
type FaultConfig struct {
	DropProb        float64
	DupeProb        float64
	AsyncDuplicate  bool
	ReorderProb     float64
	ReorderMinDelay time.Duration
	ReorderMaxDelay time.Duration
}

// Enabled reports whether any fault has a non-zero probability.
func (c FaultConfig) Enabled() bool {
	return c.DropProb > 0 || c.DupeProb > 0 || c.ReorderProb > 0
}

func (c FaultConfig) Validate() error {
	for name, p := range map[string]float64{"drop": c.DropProb, "dupe": c.DupeProb, "reorder": c.ReorderProb} {
		if p < 0 || p > 1 {
			return fmt.Errorf("%w: %s probability %v outside [0,1]", errs.ErrConfig, name, p)
		}
	}
	if c.ReorderMinDelay > c.ReorderMaxDelay {
		return fmt.Errorf("%w: reorder min delay (%v) cannot be greater than max delay (%v)",
			errs.ErrConfig, c.ReorderMinDelay, c.ReorderMaxDelay)
	}
	return nil
}

// FaultObserver is told about every injected fault. May be nil.
type FaultObserver func(fault string, addr string, payload string)

// Faulty wraps a Messenger and drops, duplicates or delays outgoing payloads.
type Faulty struct {
	next     Messenger
	cfg      FaultConfig
	rng      *rand.Rand
	rngMu    sync.Mutex
	logger   Logger
	observer FaultObserver
	wg       sync.WaitGroup
}

func NewFaulty(next Messenger, cfg FaultConfig, rng *rand.Rand, logger Logger) *Faulty {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	if logger == nil {
		logger = NoOpLogger{}
	}
	return &Faulty{next: next, cfg: cfg, rng: rng, logger: logger}
}

// Observe registers fn to be called for every injected fault.
func (f *Faulty) Observe(fn FaultObserver) { f.observer = fn }

// probCheck returns true with probability p.
func (f *Faulty) probCheck(p float64) bool {
	f.rngMu.Lock()
	r := f.rng.Float64()
	f.rngMu.Unlock()
	return r < p
}

// randInt63n returns a non-negative pseudo-random int64 in [0,n).
func (f *Faulty) randInt63n(n int64) int64 {
	if n <= 0 {
		return 0
	}
	f.rngMu.Lock()
	v := f.rng.Int63n(n)
	f.rngMu.Unlock()
	return v
}

func (f *Faulty) notify(fault, addr, payload string) {
	if f.observer != nil {
		f.observer(fault, addr, payload)
	}
}

func (f *Faulty) Send(ctx context.Context, addr string, payload string) error {
	if f.probCheck(f.cfg.DropProb) {
		f.logger.Printf("[DROP] Dropped: %q -> %s", payload, addr)
		f.notify("drop", addr, payload)
		return nil
	}

	if f.probCheck(f.cfg.DupeProb) {
		if err := f.duplicate(ctx, addr, payload); err != nil {
			f.logger.Printf("[DUPE ERR] %v", err)
		}
	}

	if f.probCheck(f.cfg.ReorderProb) {
		f.reorder(addr, payload)
		return nil
	}

	return f.next.Send(ctx, addr, payload)
}

func (f *Faulty) duplicate(ctx context.Context, addr, payload string) error {
	f.notify("dupe", addr, payload)
	if f.cfg.AsyncDuplicate {
		f.wg.Add(1)
		go func() {
			defer f.wg.Done()
			if err := f.next.Send(context.Background(), addr, payload); err != nil {
				f.logger.Printf("[DUPE ERR] %v", err)
				return
			}
			f.logger.Printf("[DUPE] Duplicated: %q -> %s", payload, addr)
		}()
		return nil
	}

	if err := f.next.Send(ctx, addr, payload); err != nil {
		return err
	}
	f.logger.Printf("[DUPE] Duplicated: %q -> %s", payload, addr)
	return nil
}

// reorder delivers the payload later, after a random delay in
// [ReorderMinDelay, ReorderMaxDelay].
func (f *Faulty) reorder(addr, payload string) {
	d := f.cfg.ReorderMinDelay
	if span := f.cfg.ReorderMaxDelay - f.cfg.ReorderMinDelay; span > 0 {
		d += time.Duration(f.randInt63n(int64(span) + 1))
	}
	f.notify("reorder", addr, payload)

	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		f.logger.Printf("[REORD] Delaying: %q -> %s for %v", payload, addr, d)
		time.Sleep(d)
		if err := f.next.Send(context.Background(), addr, payload); err != nil {
			f.logger.Printf("[REORD ERR] failed send after delay: %v", err)
		}
	}()
}

// Wait blocks until every delayed or asynchronous send has been attempted.
func (f *Faulty) Wait() { f.wg.Wait() }
