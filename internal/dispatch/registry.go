package dispatch

import (
	"context"
	"errors"
	"sync"

	"github.com/songseungho-v/ai-clothes-sorter/internal/types"
)

// ErrUnknownDevice is returned for operations on a device that has
// never sent an event.
var ErrUnknownDevice = errors.New("unknown device")

// WorkerFactory builds the queue and worker for a newly seen device.
type WorkerFactory func(deviceID string) *Worker

// Registry maps device ids to their workers, creating lazily on first
// event. Creation is a single atomic check-and-create under one mutex:
// concurrent first arrivals for the same id can never start two
// workers.
//
// Contexts live for the process lifetime; nothing removes a device
// during normal operation.
type Registry struct {
	factory WorkerFactory

	mu      sync.Mutex
	workers map[string]*Worker

	ctx context.Context
	wg  sync.WaitGroup

	closed bool
}

// NewRegistry creates a registry. ctx bounds the lifetime of every
// worker the registry will ever start.
func NewRegistry(ctx context.Context, factory WorkerFactory) *Registry {
	return &Registry{
		factory: factory,
		workers: make(map[string]*Worker),
		ctx:     ctx,
	}
}

// GetOrCreate returns the worker for deviceID, creating and starting
// it on first arrival. Idempotent; the boolean reports whether this
// call performed the creation.
func (r *Registry) GetOrCreate(deviceID string) (*Worker, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if w, ok := r.workers[deviceID]; ok {
		return w, false
	}
	if r.closed {
		return nil, false
	}

	w := r.factory(deviceID)
	r.workers[deviceID] = w

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		w.Run(r.ctx)
	}()

	return w, true
}

// Dispatch admits an event for its device, creating the device context
// on first arrival. Never blocks (admission is drop-oldest).
func (r *Registry) Dispatch(ev *types.DeviceEvent) {
	w, _ := r.GetOrCreate(ev.DeviceID)
	if w == nil {
		return
	}
	w.queue.Enqueue(ev)
}

// Get returns the worker for deviceID, or ErrUnknownDevice.
func (r *Registry) Get(deviceID string) (*Worker, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.workers[deviceID]
	if !ok {
		return nil, ErrUnknownDevice
	}
	return w, nil
}

// Workers returns a snapshot of all registered workers.
func (r *Registry) Workers() []*Worker {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Worker, 0, len(r.workers))
	for _, w := range r.workers {
		out = append(out, w)
	}
	return out
}

// QueueDrops returns total admission drops across all devices.
func (r *Registry) QueueDrops() uint64 {
	var total uint64
	for _, w := range r.Workers() {
		total += w.queue.Drops()
	}
	return total
}

// Close stops accepting new devices, closes every queue and waits for
// the workers to drain and exit. Idempotent.
func (r *Registry) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	workers := make([]*Worker, 0, len(r.workers))
	for _, w := range r.workers {
		workers = append(workers, w)
	}
	r.mu.Unlock()

	for _, w := range workers {
		w.queue.Close()
	}
	r.wg.Wait()
}
