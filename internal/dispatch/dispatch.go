// Public domain.

// Package dispatch fans work fragments out to workers and collects their
// results.
//
// A dispatch cycle starts one worker per fragment.  Each worker hands its
// whole partial result back in one transfer on a channel of its own.  The
// dispatcher receives from the channels in worker order, 0, 1, 2 ..., and
// only then waits for the workers to finish, so a worker with a large
// result never waits on a dispatcher that is waiting on it.  A worker
// that fails fails the cycle; its siblings are cancelled and nothing is
// retried.
package dispatch

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/psat-ml/rbscore/internal/pipeline"
	"github.com/psat-ml/rbscore/internal/rblog"
)

// State is the phase of a dispatch cycle.
type State int

const (
	Idle State = iota
	Spawned
	Draining
	Joined
	Done
)

var stateNames = [...]string{"idle", "spawned", "draining", "joined", "done"}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("State(%d)", int(s))
	}
	return stateNames[s]
}

// Runner runs one fragment to completion.
type Runner interface {
	Run(ctx context.Context, worker int, ids []int64) (pipeline.Partial, error)
}

// RunnerFunc runs fragments in process.
type RunnerFunc func(ctx context.Context, worker int, ids []int64) (pipeline.Partial, error)

func (f RunnerFunc) Run(ctx context.Context, worker int, ids []int64) (pipeline.Partial, error) {
	return f(ctx, worker, ids)
}

// WorkerError is the failure of one worker, fatal to its cycle.
type WorkerError struct {
	Worker int
	Err    error
}

func (e *WorkerError) Error() string {
	return fmt.Sprintf("worker %d: %v", e.Worker, e.Err)
}

func (e *WorkerError) Unwrap() error { return e.Err }

// NewRunID returns an id for a dispatch cycle.
func NewRunID() string { return uuid.NewString() }

// Dispatcher runs dispatch cycles.
//
// Local, when set, handles a single fragment directly, without a worker.
// OnState, when set, is called at each state change.
type Dispatcher struct {
	Runner  Runner
	Local   func(ctx context.Context, ids []int64) (pipeline.Partial, error)
	Log     *rblog.Logger
	OnState func(State)
}

func (d *Dispatcher) state(s State) {
	if d.OnState != nil {
		d.OnState(s)
	}
}

func (d *Dispatcher) logger() *rblog.Logger {
	if d.Log == nil {
		return rblog.NoopLogger()
	}
	return d.Log
}

// Run runs one cycle over frags and returns the partial results joined
// in fragment order.
func (d *Dispatcher) Run(ctx context.Context, frags [][]int64) (pipeline.Partial, error) {
	d.state(Idle)
	switch {
	case len(frags) == 0:
		d.state(Done)
		return pipeline.Partial{}, nil
	case len(frags) == 1 && d.Local != nil:
		p, err := d.Local(ctx, frags[0])
		if err != nil {
			return p, err
		}
		d.state(Done)
		return p, nil
	}
	if d.Runner == nil {
		return pipeline.Partial{}, errors.New("dispatch: no runner")
	}
	log := d.logger()

	g, gctx := errgroup.WithContext(ctx)
	results := make([]chan pipeline.Partial, len(frags))
	for i, frag := range frags {
		i, frag := i, frag
		ch := make(chan pipeline.Partial)
		results[i] = ch
		g.Go(func() error {
			defer close(ch)
			p, err := d.Runner.Run(gctx, i, frag)
			if err != nil {
				return &WorkerError{Worker: i, Err: err}
			}
			select {
			case ch <- p:
				return nil
			case <-gctx.Done():
				return &WorkerError{Worker: i, Err: gctx.Err()}
			}
		})
	}
	d.state(Spawned)

	d.state(Draining)
	parts := make([]pipeline.Partial, 0, len(frags))
	drained := true
	for i, ch := range results {
		p, ok := <-ch
		if !ok {
			// the worker failed; its error comes from Wait
			log.LogDrain(ctx, i, 0, errors.New("no result"))
			drained = false
			break
		}
		log.LogDrain(ctx, i, len(p.Scores), nil)
		parts = append(parts, p)
	}

	err := g.Wait()
	d.state(Joined)
	if err == nil && !drained {
		err = errors.New("dispatch: worker ended without a result")
	}
	if err != nil {
		return pipeline.Partial{}, err
	}
	d.state(Done)
	return pipeline.Concat(parts...), nil
}
