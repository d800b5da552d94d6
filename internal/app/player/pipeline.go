package player

import (
	"context"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/samber/lo"
)

// step is one engine call of a command.
type step struct {
	name string
	run  func(ctx context.Context) (*Info, error)
}

// command is a unit of work executed by the pipeline worker.
type command struct {
	name string
	// seq orders lifecycle commands; zero for parameter pushes and releases.
	seq uint64
	ctx context.Context
	// announce emits stateloading markers around each step.
	announce bool
	steps    []step
	// settle applies the results to player state and returns the outcome error.
	settle func(results []*Info, err error) error
	out    *Outcome
}

// pipeline executes commands one at a time in FIFO order. Enqueue never
// blocks, so it is safe to call with the player lock held.
type pipeline struct {
	mu      sync.Mutex
	pending []*command

	wake chan struct{}
	done chan struct{}
	// exited is closed once the worker has returned.
	exited chan struct{}

	onStep func(cmd *command, s step, dispatched bool)
}

func newPipeline(onStep func(cmd *command, s step, dispatched bool)) *pipeline {
	return &pipeline{
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
		exited: make(chan struct{}),
		onStep: onStep,
	}
}

func (q *pipeline) enqueue(cmd *command) {
	q.mu.Lock()
	q.pending = append(q.pending, cmd)
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *pipeline) next() (*command, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.pending) == 0 {
		return nil, false
	}
	cmd := q.pending[0]
	q.pending[0] = nil
	q.pending = q.pending[1:]
	return cmd, true
}

// run is the worker loop. It drains the queue once more after stop.
func (q *pipeline) run() {
	defer close(q.exited)
	for {
		q.drain()
		select {
		case <-q.wake:
		case <-q.done:
			q.drain()
			return
		}
	}
}

func (q *pipeline) drain() {
	for {
		cmd, ok := q.next()
		if !ok {
			return
		}
		q.execute(cmd)
	}
}

func (q *pipeline) stop() {
	close(q.done)
}

func (q *pipeline) execute(cmd *command) {
	results := make([]*Info, 0, len(cmd.steps))
	var err error
	for _, s := range cmd.steps {
		if ctxErr := cmd.ctx.Err(); ctxErr != nil {
			err = errors.Wrapf(ctxErr, "%s: %s", cmd.name, s.name)
			break
		}
		if cmd.announce && q.onStep != nil {
			q.onStep(cmd, s, false)
		}
		info, stepErr := s.run(cmd.ctx)
		if cmd.announce && q.onStep != nil {
			q.onStep(cmd, s, true)
		}
		if stepErr != nil {
			err = errors.Wrapf(stepErr, "%s: %s", cmd.name, s.name)
			break
		}
		results = append(results, info)
	}
	cmd.out.resolve(cmd.settle(results, err))
}

// latest returns the last non-empty snapshot among results.
func latest(results []*Info) *Info {
	infos := lo.Compact(results)
	if len(infos) == 0 {
		return nil
	}
	return infos[len(infos)-1]
}
