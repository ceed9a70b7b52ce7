package cache

import (
	"context"
	"sync"
)

// gate admits one caller at a time for a single fingerprint.
//
// sem is a one-slot semaphore. refs, epoch and failure are guarded by the
// owning registry's mutex. epoch counts finished flights; failure is the
// error of the most recent one, nil when it succeeded or must not be shared.
type gate struct {
	sem     chan struct{}
	refs    int
	epoch   uint64
	failure error
}

// acquire blocks until the gate is free or ctx is done.
func (g *gate) acquire(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case g.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (g *gate) release() { <-g.sem }

// registry maps fingerprints with callers in flight to their gates. A gate
// lives only while at least one caller holds a reference to it.
type registry struct {
	mu    sync.Mutex
	gates map[string]*gate
}

func newRegistry() *registry {
	return &registry{gates: make(map[string]*gate)}
}

// join returns the gate for key, creating it if needed, along with the epoch
// observed on arrival.
func (r *registry) join(key string) (*gate, uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	g, ok := r.gates[key]
	if !ok {
		g = &gate{sem: make(chan struct{}, 1)}
		r.gates[key] = g
	}
	g.refs++
	return g, g.epoch
}

// leave drops a reference and forgets the gate when nobody holds it.
func (r *registry) leave(key string, g *gate) {
	r.mu.Lock()
	defer r.mu.Unlock()
	g.refs--
	if g.refs == 0 && r.gates[key] == g {
		delete(r.gates, key)
	}
}

// settle records the end of a flight. failure is shared with callers that
// joined before this flight ended.
func (r *registry) settle(g *gate, failure error) {
	r.mu.Lock()
	g.epoch++
	g.failure = failure
	r.mu.Unlock()
}

// sharedFailure returns the failure a caller that joined at epoch should
// receive, or nil if it should compute itself.
func (r *registry) sharedFailure(g *gate, joined uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if g.epoch == joined {
		return nil
	}
	return g.failure
}

func (r *registry) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.gates)
}
