package server

import (
	"context"
	"sync"

	"github.com/me/ksched/internal/workload"
)

const defaultRetention = 16

type liveRun struct {
	session *workload.Session
	cancel  context.CancelFunc
}

// registry tracks the runs started by this server. Finished runs are kept
// for inspection until more than keep of them accumulate.
type registry struct {
	mu    sync.Mutex
	runs  map[string]*liveRun
	order []string // start order, oldest first
	keep  int
}

func newRegistry(keep int) *registry {
	return &registry{runs: make(map[string]*liveRun), keep: keep}
}

func (g *registry) add(sess *workload.Session, cancel context.CancelFunc) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.runs[sess.ID()] = &liveRun{session: sess, cancel: cancel}
	g.order = append(g.order, sess.ID())
	g.evict()
}

// evict drops the oldest finished runs beyond the retention limit.
func (g *registry) evict() {
	finished := 0
	for _, id := range g.order {
		if g.runs[id].session.Finished() {
			finished++
		}
	}
	kept := g.order[:0]
	for _, id := range g.order {
		if finished > g.keep && g.runs[id].session.Finished() {
			delete(g.runs, id)
			finished--
			continue
		}
		kept = append(kept, id)
	}
	g.order = kept
}

// prune applies the retention limit after a run finishes.
func (g *registry) prune() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.evict()
}

func (g *registry) get(id string) *liveRun {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.runs[id]
}

// latest returns the most recently started run, or nil.
func (g *registry) latest() *liveRun {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.order) == 0 {
		return nil
	}
	return g.runs[g.order[len(g.order)-1]]
}

func (g *registry) running() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	n := 0
	for _, lr := range g.runs {
		if !lr.session.Finished() {
			n++
		}
	}
	return n
}
