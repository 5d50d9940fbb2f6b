package dispatch

import (
	"time"

	"github.com/songseungho-v/ai-clothes-sorter/internal/types"
)

// Debouncer suppresses redundant or too-frequent command publishes for
// one device.
//
// A command is published only when it differs from the last published
// command AND the cooldown window has elapsed since the last publish.
// A forced send (the move_state safety transition) bypasses the
// cooldown but still respects the de-duplication check.
//
// On a failed publish neither the last command nor its timestamp is
// advanced, so the next decision cycle retries naturally. There is no
// dedicated retry loop.
//
// Not safe for concurrent use: a Debouncer is owned by its device's
// worker goroutine. LastCommand is the one read shared with snapshot
// assembly, which also happens on the worker goroutine.
type Debouncer struct {
	publisher types.CommandPublisher
	cooldown  time.Duration
	now       func() time.Time

	lastCommand types.Command
	lastSentAt  time.Time
}

// NewDebouncer creates a debouncer publishing through publisher with
// the given cooldown. now is the clock source; pass nil for time.Now.
func NewDebouncer(publisher types.CommandPublisher, cooldown time.Duration, now func() time.Time) *Debouncer {
	if now == nil {
		now = time.Now
	}
	return &Debouncer{
		publisher: publisher,
		cooldown:  cooldown,
		now:       now,
	}
}

// MaybeSend publishes cmd for deviceID if it passes the de-duplication
// and cooldown checks. force bypasses the cooldown (never the
// de-duplication). Returns whether a publish was attempted and any
// publish error.
func (d *Debouncer) MaybeSend(deviceID string, cmd types.Command, force bool) (bool, error) {
	if cmd == d.lastCommand {
		return false, nil
	}
	if !force && d.now().Sub(d.lastSentAt) < d.cooldown {
		return false, nil
	}

	if err := d.publisher.PublishCommand(deviceID, cmd); err != nil {
		// State deliberately not advanced: the next cycle re-attempts
		// because lastCommand still differs.
		return true, err
	}

	d.lastCommand = cmd
	d.lastSentAt = d.now()
	return true, nil
}

// LastCommand returns the last successfully published command, or
// CommandNone if nothing has been published yet.
func (d *Debouncer) LastCommand() types.Command {
	return d.lastCommand
}
