// Package session owns conversation session lifecycle: the per-session
// state machine, the process-wide registry, and the start/end/status
// operations the gateway exposes.
package session

import (
	"context"
	"fmt"
	"hash/fnv"
	"sync"
)

const shardCount = 16

// Registry is the process-wide map of live sessions, sharded to keep
// HTTP handlers and per-session goroutines from contending on one lock.
type Registry struct {
	shards [shardCount]registryShard
	wg     sync.WaitGroup
}

type registryShard struct {
	mu       sync.RWMutex
	machines map[string]*Machine
}

func NewRegistry() *Registry {
	r := &Registry{}
	for i := range r.shards {
		r.shards[i].machines = make(map[string]*Machine)
	}
	return r
}

func (r *Registry) shardFor(id string) *registryShard {
	h := fnv.New32a()
	h.Write([]byte(id))
	return &r.shards[h.Sum32()%shardCount]
}

// Get returns the live session machine for id.
func (r *Registry) Get(id string) (*Machine, bool) {
	s := r.shardFor(id)
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.machines[id]
	return m, ok
}

func (r *Registry) put(id string, m *Machine) error {
	s := r.shardFor(id)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.machines[id]; exists {
		return fmt.Errorf("session %s already registered", id)
	}
	s.machines[id] = m
	r.wg.Add(1)
	return nil
}

// remove deletes the entry if it still maps to m.
func (r *Registry) remove(id string, m *Machine) {
	s := r.shardFor(id)
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.machines[id]; ok && cur == m {
		delete(s.machines, id)
		r.wg.Done()
	}
}

func (r *Registry) Count() int {
	n := 0
	for i := range r.shards {
		r.shards[i].mu.RLock()
		n += len(r.shards[i].machines)
		r.shards[i].mu.RUnlock()
	}
	return n
}

// IDs returns the ids of all live sessions.
func (r *Registry) IDs() []string {
	var out []string
	for i := range r.shards {
		r.shards[i].mu.RLock()
		for id := range r.shards[i].machines {
			out = append(out, id)
		}
		r.shards[i].mu.RUnlock()
	}
	return out
}

// Wait blocks until every registered session has been removed or ctx
// expires, reporting whether the registry drained.
func (r *Registry) Wait(ctx context.Context) bool {
	done := make(chan struct{})
	go func() {
		defer close(done)
		r.wg.Wait()
	}()
	select {
	case <-done:
		return true
	case <-ctx.Done():
		return false
	}
}
