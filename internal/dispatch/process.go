// Public domain.

package dispatch

import (
	"bytes"
	"context"
	"encoding/gob"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"

	"github.com/psat-ml/rbscore/internal/pipeline"
	"github.com/psat-ml/rbscore/internal/rbconf"
)

// WorkerFlag is the command line flag that starts a process as a worker.
const WorkerFlag = "-worker"

// Job is what a worker process receives on stdin.
type Job struct {
	RunID   string
	Worker  int
	IDs     []int64
	Config  rbconf.Config
	LogFile string
}

// Reply is what a worker process writes to stdout.
type Reply struct {
	Partial pipeline.Partial
	Err     string
}

// ProcessRunner runs each fragment in a fresh process: the executable
// started with Args and WorkerFlag, a gob Job on stdin and a gob Reply on
// stdout.  Killing the process is how a worker is cancelled.
type ProcessRunner struct {
	Path    string // empty means the running executable
	Args    []string
	Env     []string // added to the inherited environment
	RunID   string
	Config  rbconf.Config
	LogFile func(worker int) string
	Stderr  io.Writer
}

func (r *ProcessRunner) Run(ctx context.Context, worker int, ids []int64) (pipeline.Partial, error) {
	exe := r.Path
	if exe == "" {
		var err error
		if exe, err = os.Executable(); err != nil {
			return pipeline.Partial{}, err
		}
	}
	job := Job{RunID: r.RunID, Worker: worker, IDs: ids, Config: r.Config}
	if r.LogFile != nil {
		job.LogFile = r.LogFile(worker)
	}
	var in, out, errOut bytes.Buffer
	if err := gob.NewEncoder(&in).Encode(job); err != nil {
		return pipeline.Partial{}, err
	}

	args := append(append([]string{}, r.Args...), WorkerFlag)
	cmd := exec.CommandContext(ctx, exe, args...)
	cmd.Stdin = &in
	cmd.Stdout = &out
	cmd.Stderr = &errOut
	if r.Stderr != nil {
		cmd.Stderr = io.MultiWriter(&errOut, r.Stderr)
	}
	if len(r.Env) > 0 {
		cmd.Env = append(os.Environ(), r.Env...)
	}
	runErr := cmd.Run()

	var rep Reply
	decErr := gob.NewDecoder(&out).Decode(&rep)
	switch {
	case decErr == nil && rep.Err != "":
		return pipeline.Partial{}, errors.New(rep.Err)
	case runErr != nil:
		if msg := strings.TrimSpace(errOut.String()); msg != "" {
			return pipeline.Partial{}, fmt.Errorf("%w: %s", runErr, lastLine(msg))
		}
		return pipeline.Partial{}, runErr
	case decErr != nil:
		return pipeline.Partial{}, fmt.Errorf("reading worker reply: %w", decErr)
	}
	return rep.Partial, nil
}

func lastLine(s string) string {
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}

// ServeWorker is the worker side of ProcessRunner.  It reads one Job from
// r, runs it with fn and writes the Reply to w.  The error from fn is
// also returned so the process can exit non-zero.
func ServeWorker(ctx context.Context, r io.Reader, w io.Writer, fn func(context.Context, Job) (pipeline.Partial, error)) error {
	var job Job
	if err := gob.NewDecoder(r).Decode(&job); err != nil {
		return fmt.Errorf("reading job: %w", err)
	}
	p, err := fn(ctx, job)
	rep := Reply{Partial: p}
	if err != nil {
		rep = Reply{Err: err.Error()}
	}
	if encErr := gob.NewEncoder(w).Encode(rep); encErr != nil && err == nil {
		err = encErr
	}
	return err
}
