// SPDX-License-Identifier: MPL-2.0

package governor

import (
	"errors"
	"io"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/afero"

	"github.com/postmir/postmir-update/internal/testutil"
)

func quietLogger() *log.Logger { return log.New(io.Discard) }

func TestGovernor_ShouldCheck(t *testing.T) {
	t.Parallel()

	clock := testutil.NewFakeClock(time.Time{})
	g := New(&MemoryStore{}, WithLogger(quietLogger()))

	if !g.ShouldCheck(clock.Now(), false) {
		t.Fatal("first check should be allowed")
	}
	if err := g.MarkChecked(clock.Now()); err != nil {
		t.Fatalf("MarkChecked() error: %v", err)
	}
	if g.ShouldCheck(clock.Now(), false) {
		t.Error("check right after MarkChecked should be throttled")
	}

	clock.Advance(DefaultInterval)
	if g.ShouldCheck(clock.Now(), false) {
		t.Error("check at exactly the interval should still be throttled")
	}

	clock.Advance(time.Millisecond)
	if !g.ShouldCheck(clock.Now(), false) {
		t.Error("check after the interval should be allowed")
	}
}

func TestGovernor_ForceBypassesThrottle(t *testing.T) {
	t.Parallel()

	clock := testutil.NewFakeClock(time.Time{})
	g := New(&MemoryStore{}, WithLogger(quietLogger()))
	if err := g.MarkChecked(clock.Now()); err != nil {
		t.Fatal(err)
	}

	if !g.ShouldCheck(clock.Now(), true) {
		t.Error("forced check should always be allowed")
	}
}

func TestGovernor_CustomInterval(t *testing.T) {
	t.Parallel()

	clock := testutil.NewFakeClock(time.Time{})
	g := New(&MemoryStore{}, WithInterval(time.Minute), WithLogger(quietLogger()))
	if err := g.MarkChecked(clock.Now()); err != nil {
		t.Fatal(err)
	}

	clock.Advance(2 * time.Minute)
	if !g.ShouldCheck(clock.Now(), false) {
		t.Error("custom interval not honoured")
	}
	if g.Interval() != time.Minute {
		t.Errorf("Interval() = %v, want 1m", g.Interval())
	}
}

func TestGovernor_Notify(t *testing.T) {
	t.Parallel()

	g := New(&MemoryStore{}, WithLogger(quietLogger()))

	if !g.ShouldNotify(5) {
		t.Fatal("first notification should be allowed")
	}
	if err := g.MarkNotified(5); err != nil {
		t.Fatalf("MarkNotified() error: %v", err)
	}

	tests := []struct {
		code int64
		want bool
	}{
		{4, false},
		{5, false},
		{6, true},
	}
	for _, tt := range tests {
		if got := g.ShouldNotify(tt.code); got != tt.want {
			t.Errorf("ShouldNotify(%d) = %v, want %v", tt.code, got, tt.want)
		}
	}

	// Lower values never move the watermark back.
	if err := g.MarkNotified(3); err != nil {
		t.Fatal(err)
	}
	if st := g.State(); st.LastNotifiedVersionCode != 5 {
		t.Errorf("LastNotifiedVersionCode = %d, want 5", st.LastNotifiedVersionCode)
	}
}

func TestGovernor_PersistsAcrossInstances(t *testing.T) {
	t.Parallel()

	fs := afero.NewMemMapFs()
	clock := testutil.NewFakeClock(time.Time{})

	first := New(NewFileStore(fs, "/state/update.toml"), WithLogger(quietLogger()))
	if err := first.MarkChecked(clock.Now()); err != nil {
		t.Fatal(err)
	}
	if err := first.MarkNotified(5); err != nil {
		t.Fatal(err)
	}

	second := New(NewFileStore(fs, "/state/update.toml"), WithLogger(quietLogger()))
	if second.ShouldCheck(clock.Now(), false) {
		t.Error("restored governor should still throttle")
	}
	if second.ShouldNotify(5) {
		t.Error("restored governor should not re-notify version 5")
	}
	if !second.State().LastCheckAt.Equal(clock.Now()) {
		t.Errorf("LastCheckAt = %v, want %v", second.State().LastCheckAt, clock.Now())
	}
}

func TestGovernor_MalformedStateDefaults(t *testing.T) {
	t.Parallel()

	store := &MemoryStore{}
	_ = store.Set(KeyLastCheckAt, "yesterday")
	_ = store.Set(KeyLastNotifiedVersion, "v5")

	g := New(store, WithLogger(quietLogger()))
	if !g.ShouldCheck(time.Now(), false) {
		t.Error("malformed last check should be treated as never checked")
	}
	if !g.ShouldNotify(1) {
		t.Error("malformed notified version should be treated as never notified")
	}
}

type failingStore struct{ MemoryStore }

var errStoreDown = errors.New("store down")

func (*failingStore) Get(string) (string, bool, error) { return "", false, errStoreDown }
func (*failingStore) Set(string, string) error        { return errStoreDown }

func TestGovernor_StoreFailures(t *testing.T) {
	t.Parallel()

	g := New(&failingStore{}, WithLogger(quietLogger()))
	if !g.ShouldCheck(time.Now(), false) {
		t.Error("unreadable store should default to due")
	}
	if err := g.MarkChecked(time.Now()); !errors.Is(err, errStoreDown) {
		t.Errorf("MarkChecked() error = %v, want errStoreDown", err)
	}
	if err := g.MarkNotified(2); !errors.Is(err, errStoreDown) {
		t.Errorf("MarkNotified() error = %v, want errStoreDown", err)
	}
}

func TestGovernor_Reset(t *testing.T) {
	t.Parallel()

	store := &MemoryStore{}
	g := New(store, WithLogger(quietLogger()))
	_ = g.MarkChecked(time.Now())
	_ = g.MarkNotified(9)

	if err := g.Reset(); err != nil {
		t.Fatalf("Reset() error: %v", err)
	}
	if !g.ShouldCheck(time.Now(), false) || !g.ShouldNotify(1) {
		t.Error("Reset() did not clear state")
	}
	if _, ok, _ := store.Get(KeyLastCheckAt); ok {
		t.Error("Reset() left last check in the store")
	}
}

func TestGovernor_RecoversFromCorruptStateFile(t *testing.T) {
	t.Parallel()

	fs := afero.NewMemMapFs()
	if err := afero.WriteFile(fs, "/state/update.toml", []byte("values = [not toml"), 0o600); err != nil {
		t.Fatal(err)
	}
	open := func() *Governor {
		store := NewFileStore(fs, "/state/update.toml", WithStoreLogger(quietLogger()))
		return New(store, WithLogger(quietLogger()))
	}

	first := open()
	if !first.ShouldNotify(5) {
		t.Fatal("corrupt state should read as never notified")
	}
	if err := first.MarkNotified(5); err != nil {
		t.Fatalf("MarkNotified() error: %v", err)
	}
	if err := first.MarkChecked(time.Now()); err != nil {
		t.Fatalf("MarkChecked() error: %v", err)
	}

	second := open()
	if second.ShouldNotify(5) {
		t.Error("version 5 announced again after restart")
	}
	if second.ShouldCheck(time.Now(), false) {
		t.Error("check not throttled after restart")
	}
}

func TestGovernor_ResetRemovesCorruptStateFile(t *testing.T) {
	t.Parallel()

	fs := afero.NewMemMapFs()
	if err := afero.WriteFile(fs, "/state.toml", []byte("values = [not toml"), 0o600); err != nil {
		t.Fatal(err)
	}

	g := New(NewFileStore(fs, "/state.toml", WithStoreLogger(quietLogger())), WithLogger(quietLogger()))
	if err := g.Reset(); err != nil {
		t.Fatalf("Reset() error: %v", err)
	}
	if exists, _ := afero.Exists(fs, "/state.toml"); exists {
		t.Error("Reset() left the corrupt state file behind")
	}
}

func TestDue(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		name  string
		state State
		want  bool
	}{
		{"never checked", State{}, true},
		{"just checked", State{LastCheckAt: now}, false},
		{"five hours ago", State{LastCheckAt: now.Add(-5 * time.Hour)}, false},
		{"seven hours ago", State{LastCheckAt: now.Add(-7 * time.Hour)}, true},
	}
	for _, tt := range tests {
		if got := Due(tt.state, now, DefaultInterval); got != tt.want {
			t.Errorf("%s: Due() = %v, want %v", tt.name, got, tt.want)
		}
	}
}
