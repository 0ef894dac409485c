// Public domain.

package dispatch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	xrand "golang.org/x/exp/rand"

	"github.com/psat-ml/rbscore/internal/pipeline"
	"github.com/psat-ml/rbscore/internal/score"
)

const workerEnv = "RBSCORE_DISPATCH_TEST_WORKER"

func TestMain(m *testing.M) {
	if os.Getenv(workerEnv) == "1" {
		if err := ServeWorker(context.Background(), os.Stdin, os.Stdout, scoreIDs); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		os.Exit(0)
	}
	os.Exit(m.Run())
}

// scoreIDs scores id n as n/100 and fails on id 13.
func scoreIDs(_ context.Context, job Job) (pipeline.Partial, error) {
	var p pipeline.Partial
	for _, id := range job.IDs {
		if id == 13 {
			return p, errors.New("unlucky candidate")
		}
		p.Scores = append(p.Scores, score.Result{Object: strconv.FormatInt(id, 10), Score: float64(id) / 100})
	}
	p.Stats.Objects = len(job.IDs)
	p.Stats.Scored = len(p.Scores)
	return p, nil
}

func inProcess() RunnerFunc {
	return func(ctx context.Context, worker int, ids []int64) (pipeline.Partial, error) {
		return scoreIDs(ctx, Job{Worker: worker, IDs: ids})
	}
}

func objects(p pipeline.Partial) []string {
	var s []string
	for _, r := range p.Scores {
		s = append(s, r.Object)
	}
	return s
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "draining", Draining.String())
	assert.Equal(t, "State(9)", State(9).String())
}

func TestRunStates(t *testing.T) {
	var states []State
	d := &Dispatcher{Runner: inProcess(), OnState: func(s State) { states = append(states, s) }}
	p, err := d.Run(context.Background(), [][]int64{{1, 4}, {2, 5}, {3}})
	require.NoError(t, err)
	assert.Equal(t, []State{Idle, Spawned, Draining, Joined, Done}, states)
	assert.Equal(t, []string{"1", "4", "2", "5", "3"}, objects(p))
	assert.Equal(t, 5, p.Stats.Objects)
}

func TestRunDrainOrderDeterministic(t *testing.T) {
	rnd := xrand.New(&xrand.PCGSource{})
	rnd.Seed(3)
	var mu sync.Mutex
	delay := func() time.Duration {
		mu.Lock()
		defer mu.Unlock()
		return time.Duration(rnd.Intn(3000)) * time.Microsecond
	}
	slow := RunnerFunc(func(ctx context.Context, worker int, ids []int64) (pipeline.Partial, error) {
		time.Sleep(delay())
		return scoreIDs(ctx, Job{IDs: ids})
	})
	frags := [][]int64{{1, 9}, {2, 8}, {3, 7}, {4, 6}, {5}}
	d := &Dispatcher{Runner: slow}
	first, err := d.Run(context.Background(), frags)
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		again, err := d.Run(context.Background(), frags)
		require.NoError(t, err)
		require.Equal(t, first, again)
	}
}

func TestRunLocal(t *testing.T) {
	var states []State
	called := false
	d := &Dispatcher{
		Runner: RunnerFunc(func(context.Context, int, []int64) (pipeline.Partial, error) {
			t.Fatal("runner used for a single fragment")
			return pipeline.Partial{}, nil
		}),
		Local: func(ctx context.Context, ids []int64) (pipeline.Partial, error) {
			called = true
			return scoreIDs(ctx, Job{IDs: ids})
		},
		OnState: func(s State) { states = append(states, s) },
	}
	p, err := d.Run(context.Background(), [][]int64{{7, 8}})
	require.NoError(t, err)
	assert.True(t, called)
	assert.Equal(t, []string{"7", "8"}, objects(p))
	assert.Equal(t, []State{Idle, Done}, states)

	p, err = d.Run(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, p.Scores)
}

func TestRunWorkerFailure(t *testing.T) {
	var states []State
	cancelled := make(chan struct{})
	r := RunnerFunc(func(ctx context.Context, worker int, ids []int64) (pipeline.Partial, error) {
		if worker == 0 {
			// blocks until the failure of worker 1 cancels it
			<-ctx.Done()
			close(cancelled)
			return pipeline.Partial{}, ctx.Err()
		}
		return scoreIDs(ctx, Job{IDs: ids})
	})
	d := &Dispatcher{Runner: r, OnState: func(s State) { states = append(states, s) }}
	_, err := d.Run(context.Background(), [][]int64{{1}, {13}, {3}})
	var we *WorkerError
	require.True(t, errors.As(err, &we))
	assert.Equal(t, 1, we.Worker)
	assert.ErrorContains(t, err, "unlucky")
	<-cancelled
	assert.Equal(t, []State{Idle, Spawned, Draining, Joined}, states)
}

func TestServeWorker(t *testing.T) {
	var in, out bytes.Buffer
	require.NoError(t, gobEncode(&in, Job{RunID: "r", Worker: 2, IDs: []int64{5, 6}}))
	require.NoError(t, ServeWorker(context.Background(), &in, &out, scoreIDs))
	var rep Reply
	require.NoError(t, gobDecode(&out, &rep))
	assert.Empty(t, rep.Err)
	assert.Equal(t, []string{"5", "6"}, objects(rep.Partial))

	in.Reset()
	out.Reset()
	require.NoError(t, gobEncode(&in, Job{IDs: []int64{13}}))
	assert.Error(t, ServeWorker(context.Background(), &in, &out, scoreIDs))
	require.NoError(t, gobDecode(&out, &rep))
	assert.Equal(t, "unlucky candidate", rep.Err)

	assert.Error(t, ServeWorker(context.Background(), bytes.NewReader(nil), &out, scoreIDs))
}

func TestProcessRunner(t *testing.T) {
	if testing.Short() {
		t.Skip("starts worker processes")
	}
	exe, err := os.Executable()
	require.NoError(t, err)
	r := &ProcessRunner{
		Path:    exe,
		Env:     []string{workerEnv + "=1"},
		RunID:   NewRunID(),
		LogFile: func(n int) string { return fmt.Sprintf("w%d.log", n) },
	}
	d := &Dispatcher{Runner: r}
	p, err := d.Run(context.Background(), [][]int64{{1, 3}, {2}})
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "3", "2"}, objects(p))
	assert.InDelta(t, 0.03, p.Scores[1].Score, 1e-12)

	_, err = d.Run(context.Background(), [][]int64{{1}, {13}})
	var we *WorkerError
	require.True(t, errors.As(err, &we))
	assert.ErrorContains(t, err, "unlucky candidate")
}
