// Package dispatch implements the per-device decision core: a lazily
// populated device registry, one long-lived worker goroutine per
// device, bounded drop-oldest admission queues, command debouncing and
// the detect/proximity mode state machine.
//
// Core philosophy: "Drop frames, never queue. Latency > Completeness."
// A camera frame is a stale-data domain (an old undelivered frame is
// worthless once a newer one exists), so admission queues drop the
// oldest entry on overflow and the ingress path never blocks.
//
// Ownership model: each device's mutable state (queue consumption,
// last-command, last-save time, snapshot writes) is exclusive to that
// device's worker goroutine. The only cross-goroutine paths are
// registry creation, the mode field (mutex-protected, visible by the
// worker's next cycle) and snapshot reads (copy-on-read).
package dispatch
