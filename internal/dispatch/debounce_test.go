package dispatch_test

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/songseungho-v/ai-clothes-sorter/internal/dispatch"
	"github.com/songseungho-v/ai-clothes-sorter/internal/types"
)

// fakeClock is a manually advanced clock for deterministic timing
// tests.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2025, 5, 29, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// fakePublisher records published commands and can be made to fail.
type fakePublisher struct {
	mu       sync.Mutex
	commands []types.Command
	err      error
}

func (p *fakePublisher) PublishCommand(_ string, cmd types.Command) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.commands = append(p.commands, cmd)
	return nil
}

func (p *fakePublisher) published() []types.Command {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]types.Command(nil), p.commands...)
}

const testCooldown = 500 * time.Millisecond

// TestDebouncerFirstDecisionNeverSuppressed validates that the very
// first decision publishes: last_command starts unset and the cooldown
// clock starts at epoch zero.
func TestDebouncerFirstDecisionNeverSuppressed(t *testing.T) {
	pub := &fakePublisher{}
	d := dispatch.NewDebouncer(pub, testCooldown, newFakeClock().Now)

	sent, err := d.MaybeSend("cam-1", types.CommandOn, false)
	if err != nil {
		t.Fatalf("MaybeSend() error: %v", err)
	}
	if !sent {
		t.Fatal("first decision was suppressed")
	}
	if got := d.LastCommand(); got != types.CommandOn {
		t.Errorf("LastCommand() = %q, want %q", got, types.CommandOn)
	}
}

// TestDebouncerDeduplicates validates the != check: repeating the same
// command publishes at most once until the command changes.
func TestDebouncerDeduplicates(t *testing.T) {
	clock := newFakeClock()
	pub := &fakePublisher{}
	d := dispatch.NewDebouncer(pub, testCooldown, clock.Now)

	for i := 0; i < 5; i++ {
		d.MaybeSend("cam-1", types.CommandOn, false)
		clock.Advance(time.Second) // cooldown never the limiting factor
	}

	if got := pub.published(); len(got) != 1 {
		t.Fatalf("published %v, want exactly one 'on'", got)
	}

	t.Logf("✅ repeated command published once")
}

// TestDebouncerCooldown validates the cooldown window: a changed
// command inside the window is suppressed, after the window it goes
// out.
func TestDebouncerCooldown(t *testing.T) {
	clock := newFakeClock()
	pub := &fakePublisher{}
	d := dispatch.NewDebouncer(pub, testCooldown, clock.Now)

	d.MaybeSend("cam-1", types.CommandOn, false)

	clock.Advance(100 * time.Millisecond)
	sent, _ := d.MaybeSend("cam-1", types.CommandOff, false)
	if sent {
		t.Fatal("command change published inside cooldown window")
	}

	clock.Advance(testCooldown)
	sent, _ = d.MaybeSend("cam-1", types.CommandOff, false)
	if !sent {
		t.Fatal("command change suppressed after cooldown elapsed")
	}

	want := []types.Command{types.CommandOn, types.CommandOff}
	got := pub.published()
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Errorf("published %v, want %v", got, want)
	}
}

// TestDebouncerForceBypassesCooldownOnly validates the safety
// transition semantics: force skips the cooldown but never the
// de-duplication.
func TestDebouncerForceBypassesCooldownOnly(t *testing.T) {
	clock := newFakeClock()
	pub := &fakePublisher{}
	d := dispatch.NewDebouncer(pub, testCooldown, clock.Now)

	d.MaybeSend("cam-1", types.CommandOn, false)

	// Inside the cooldown window, forced off goes out immediately.
	clock.Advance(50 * time.Millisecond)
	sent, _ := d.MaybeSend("cam-1", types.CommandOff, true)
	if !sent {
		t.Fatal("forced safety transition suppressed by cooldown")
	}

	// But a forced repeat of the same command is still deduplicated.
	sent, _ = d.MaybeSend("cam-1", types.CommandOff, true)
	if sent {
		t.Fatal("forced duplicate command was published")
	}
}

// TestDebouncerFailedPublishRetriesNaturally validates the error
// contract: a failed publish does not advance debouncer state, so the
// next cycle re-attempts without a dedicated retry loop.
func TestDebouncerFailedPublishRetriesNaturally(t *testing.T) {
	clock := newFakeClock()
	pub := &fakePublisher{err: errors.New("broker unreachable")}
	d := dispatch.NewDebouncer(pub, testCooldown, clock.Now)

	sent, err := d.MaybeSend("cam-1", types.CommandOn, false)
	if !sent || err == nil {
		t.Fatalf("MaybeSend() = (%v, %v), want attempted with error", sent, err)
	}
	if got := d.LastCommand(); got != types.CommandNone {
		t.Fatalf("LastCommand() advanced to %q after failed publish", got)
	}

	// Broker recovers: the same decision on the next cycle goes out.
	pub.err = nil
	sent, err = d.MaybeSend("cam-1", types.CommandOn, false)
	if !sent || err != nil {
		t.Fatalf("retry MaybeSend() = (%v, %v), want clean publish", sent, err)
	}
	if got := pub.published(); len(got) != 1 || got[0] != types.CommandOn {
		t.Errorf("published %v, want [on]", got)
	}

	t.Logf("✅ failed publish retried on next cycle")
}
