// internal/guard/flood.go
//
// Flood-style redirect loop guard.
//
// Context
// -------
// Precise cycle detection over arbitrary redirect chains is not worth the
// bookkeeping; a rate cap gives the same practical protection with O(1)
// state per caller.  Each served redirect registers one event against the
// caller's identity.  A caller already holding Threshold events inside
// Window is declared to be looping and is refused until enough events age
// out; registered events are retained for Cooldown, so a hard loop keeps a
// caller parked for that long after it stops.
//
// Defaults (5 events / 15 s window / 60 s retention) are tunables, not a
// contract.
//
// Notes
// -----
// • Oxford commas, two spaces after periods.
// • Max line length 100 columns.
package guard

import (
	"sync"
	"time"
)

// Flood tuning defaults.
const (
	DefaultThreshold = 5
	DefaultWindow    = 15 * time.Second
	DefaultCooldown  = 60 * time.Second
	sweepInterval    = 5 * time.Minute
)

// Flood is an in-memory sliding-window event counter keyed by caller
// identity.  Safe for concurrent use.
type Flood struct {
	threshold int
	window    time.Duration
	cooldown  time.Duration

	mu     sync.Mutex
	events map[string][]time.Time // registration times, oldest first
	now    func() time.Time
	done   chan struct{}
}

// NewFlood builds a guard with the given tuning; zero values select the
// defaults.  A background sweeper reclaims expired callers; call Close when
// the guard is no longer needed.
func NewFlood(threshold int, window, cooldown time.Duration) *Flood {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	if window <= 0 {
		window = DefaultWindow
	}
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	f := &Flood{
		threshold: threshold,
		window:    window,
		cooldown:  cooldown,
		events:    make(map[string][]time.Time),
		now:       time.Now,
		done:      make(chan struct{}),
	}
	go f.sweepLoop()
	return f
}

// IsLoop reports whether caller has exceeded the redirect budget.  When the
// caller is still under budget the call registers one event, so check and
// registration are a single atomic step under the lock.
func (f *Flood) IsLoop(caller string) bool {
	now := f.now()

	f.mu.Lock()
	defer f.mu.Unlock()

	kept := f.prune(caller, now)

	inWindow := 0
	cutoff := now.Add(-f.window)
	for _, ts := range kept {
		if ts.After(cutoff) {
			inWindow++
		}
	}
	if inWindow >= f.threshold {
		return true
	}

	f.events[caller] = append(kept, now)
	return false
}

// Reset forgets a caller entirely.  Used by tests and operator tooling.
func (f *Flood) Reset(caller string) {
	f.mu.Lock()
	delete(f.events, caller)
	f.mu.Unlock()
}

// Close stops the background sweeper.
func (f *Flood) Close() {
	close(f.done)
}

// prune drops events older than the retention period.  Caller holds f.mu.
func (f *Flood) prune(caller string, now time.Time) []time.Time {
	evs := f.events[caller]
	expiry := now.Add(-f.cooldown)
	i := 0
	for i < len(evs) && !evs[i].After(expiry) {
		i++
	}
	kept := evs[i:]
	if len(kept) == 0 {
		delete(f.events, caller)
		return nil
	}
	return kept
}

func (f *Flood) sweepLoop() {
	t := time.NewTicker(sweepInterval)
	defer t.Stop()
	for {
		select {
		case <-f.done:
			return
		case <-t.C:
			now := f.now()
			f.mu.Lock()
			for caller := range f.events {
				if kept := f.prune(caller, now); kept != nil {
					f.events[caller] = kept
				}
			}
			f.mu.Unlock()
		}
	}
}
