// SPDX-License-Identifier: MPL-2.0

package governor

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/charmbracelet/log"
)

const (
	// DefaultInterval is the minimum time between unforced checks.
	DefaultInterval = 6 * time.Hour

	// KeyLastCheckAt holds the last attempted check as epoch milliseconds.
	KeyLastCheckAt = "last_check_at_ms"
	// KeyLastNotifiedVersion holds the highest version code surfaced to the user.
	KeyLastNotifiedVersion = "last_notified_version_code"
)

type (
	// State is the persisted governor state.
	State struct {
		// LastCheckAt is zero when no check was ever recorded.
		LastCheckAt             time.Time
		LastNotifiedVersionCode int64
		HasNotified             bool
	}

	// Governor throttles checks and de-duplicates notifications. It is safe for
	// concurrent use.
	Governor struct {
		store    Store
		interval time.Duration
		logger   *log.Logger

		mu    sync.Mutex
		state State
	}

	// Option configures a Governor.
	Option func(*Governor)
)

// WithInterval overrides DefaultInterval. Non-positive values are ignored.
func WithInterval(d time.Duration) Option {
	return func(g *Governor) {
		if d > 0 {
			g.interval = d
		}
	}
}

// WithLogger sets the logger used for unreadable state warnings.
func WithLogger(l *log.Logger) Option {
	return func(g *Governor) { g.logger = l }
}

// New creates a Governor and loads its state from store. Missing, unreadable
// or malformed values fall back to their defaults.
func New(store Store, opts ...Option) *Governor {
	g := &Governor{
		store:    store,
		interval: DefaultInterval,
		logger:   log.NewWithOptions(os.Stderr, log.Options{Prefix: "governor"}),
	}
	for _, opt := range opts {
		opt(g)
	}

	if ms, ok := g.readInt(KeyLastCheckAt); ok && ms > 0 {
		g.state.LastCheckAt = time.UnixMilli(ms)
	}
	if code, ok := g.readInt(KeyLastNotifiedVersion); ok {
		g.state.LastNotifiedVersionCode = code
		g.state.HasNotified = true
	}
	return g
}

func (g *Governor) readInt(key string) (int64, bool) {
	raw, ok, err := g.store.Get(key)
	if err != nil {
		g.logger.Warn("ignoring unreadable update state", "key", key, "error", err)
		return 0, false
	}
	if !ok {
		return 0, false
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		g.logger.Warn("ignoring malformed update state", "key", key, "value", raw)
		return 0, false
	}
	return n, true
}

// Interval returns the minimum time between unforced checks.
func (g *Governor) Interval() time.Duration { return g.interval }

// State returns a snapshot of the current state.
func (g *Governor) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// Due reports whether a check is allowed at now given state. A check is due
// when none was recorded or strictly more than interval has elapsed.
func Due(state State, now time.Time, interval time.Duration) bool {
	if state.LastCheckAt.IsZero() {
		return true
	}
	return now.Sub(state.LastCheckAt) > interval
}

// NextCheck returns when the next unforced check becomes due. The zero time
// means immediately.
func (g *Governor) NextCheck() time.Time {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.state.LastCheckAt.IsZero() {
		return time.Time{}
	}
	return g.state.LastCheckAt.Add(g.interval)
}

// ShouldCheck reports whether the endpoint may be polled at now.
func (g *Governor) ShouldCheck(now time.Time, force bool) bool {
	if force {
		return true
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return Due(g.state, now, g.interval)
}

// MarkChecked records an attempted check at now, whatever its outcome.
func (g *Governor) MarkChecked(now time.Time) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.state.LastCheckAt = time.UnixMilli(now.UnixMilli())
	if err := g.store.Set(KeyLastCheckAt, strconv.FormatInt(now.UnixMilli(), 10)); err != nil {
		return fmt.Errorf("recording last check: %w", err)
	}
	return nil
}

// ShouldNotify reports whether versionCode has not been surfaced yet.
func (g *Governor) ShouldNotify(versionCode int64) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return !g.state.HasNotified || g.state.LastNotifiedVersionCode < versionCode
}

// MarkNotified records that versionCode was surfaced. The stored value never
// decreases, so repeated or out-of-order calls are harmless.
func (g *Governor) MarkNotified(versionCode int64) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.state.HasNotified && g.state.LastNotifiedVersionCode >= versionCode {
		return nil
	}
	g.state.LastNotifiedVersionCode = versionCode
	g.state.HasNotified = true
	if err := g.store.Set(KeyLastNotifiedVersion, strconv.FormatInt(versionCode, 10)); err != nil {
		return fmt.Errorf("recording notified version: %w", err)
	}
	return nil
}

// Reset clears all persisted state. Stores implementing Clearer are wiped
// outright, which also recovers a store that can no longer be read.
func (g *Governor) Reset() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.state = State{}
	if c, ok := g.store.(Clearer); ok {
		return c.Clear()
	}
	return errors.Join(
		g.store.Delete(KeyLastCheckAt),
		g.store.Delete(KeyLastNotifiedVersion),
	)
}
