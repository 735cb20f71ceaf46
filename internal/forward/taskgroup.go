package forward

import (
	"context"
	"sync"
)

// TaskGroup is a structured-cancellation handle over a set of background
// tasks. It is a shared handle: tasks may close over the group to spawn
// further sub-tasks without owning it.
//
// Cancel() aborts every task belonging to the current generation and
// atomically swaps in a fresh, empty generation so the group is reusable:
// a Spawn call made after Cancel begins a new generation rather than
// failing.
type TaskGroup struct {
	mu     sync.Mutex
	parent context.Context
	ctx    context.Context
	cancel context.CancelFunc
}

func NewTaskGroup(parent context.Context) *TaskGroup {
	ctx, cancel := context.WithCancel(parent)
	return &TaskGroup{parent: parent, ctx: ctx, cancel: cancel}
}

// Spawn runs fn in a new goroutine, passing it the cancellation context of
// the group's current generation.
func (g *TaskGroup) Spawn(fn func(ctx context.Context)) {
	g.mu.Lock()
	ctx := g.ctx
	g.mu.Unlock()

	go fn(ctx)
}

// Cancel aborts every task in the current generation and replaces it with
// a fresh generation. It does not wait for spawned tasks to drain;
// callers that need quiescence must poll the relevant registries.
func (g *TaskGroup) Cancel() {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.cancel()
	g.ctx, g.cancel = context.WithCancel(g.parent)
}
