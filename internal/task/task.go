/*
Copyright 2025 The RBD-Backup Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package task

import (
	"context"
	"fmt"
	"time"

	"github.com/ceph/rbd-backup/internal/util"
)

// Status is the lifecycle state of a task.
type Status int

const (
	// StatusInitial marks a task that has not been dequeued yet.
	StatusInitial Status = iota
	// StatusRunning marks a task currently executing on a worker.
	StatusRunning
	// StatusComplete marks a task whose command exited with code 0.
	StatusComplete
	// StatusError marks a task whose command failed.
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusInitial:
		return "initial"
	case StatusRunning:
		return "running"
	case StatusComplete:
		return "complete"
	case StatusError:
		return "error"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// timeFormat renders task timestamps in result records.
const timeFormat = "2006-01-02 15:04:05"

// Result is the record a task leaves behind after execution. Once published
// to the finished queue it is read-only.
type Result struct {
	Kind           string
	ID             string
	Name           string
	WorkerLabel    string
	Status         Status
	Command        string
	Error          string
	InitTime       string
	StartTime      string
	CompleteTime   string
	ElapsedSeconds float64
}

// Task is one unit of work dispatched to a worker. Execute never panics and
// never returns before the task reached a terminal status; cancellation of
// ctx aborts the external command of the task.
type Task interface {
	Execute(ctx context.Context, workerLabel string) Result
	Name() string
	ID() string
	Status() Status
}

// base carries the lifecycle bookkeeping shared by all task variants. A task
// is mutated only by the worker that owns it between dequeue and publish.
type base struct {
	id   string
	name string
	kind string

	status   Status
	command  string
	stdout   string
	exitCode int
	errMsg   string

	workerLabel  string
	initTime     time.Time
	startTime    time.Time
	completeTime time.Time
}

func newBase(kind, id, name string) base {
	return base{
		id:       id,
		name:     name,
		kind:     kind,
		status:   StatusInitial,
		initTime: time.Now(),
	}
}

// Name returns the human label of the task.
func (b *base) Name() string {
	return b.name
}

// ID returns the task id; for the run's primary tasks this equals the
// image id the task acts on.
func (b *base) ID() string {
	return b.id
}

// Status returns the current lifecycle state.
func (b *base) Status() Status {
	return b.status
}

// Stdout returns the captured stdout of the last executed command.
func (b *base) Stdout() string {
	return b.stdout
}

// ExitCode returns the exit code of the last executed command.
func (b *base) ExitCode() int {
	return b.exitCode
}

func (b *base) start(workerLabel string) {
	b.workerLabel = workerLabel
	b.startTime = time.Now()
	b.status = StatusRunning
}

// runCommand executes one external command, capturing stdout and the exit
// code. The rendered command string accumulates when a task runs more than
// one command (unprotect before remove, create before protect).
func (b *base) runCommand(ctx context.Context, program string, args ...string) error {
	rendered := util.CommandString(program, args...)
	if b.command == "" {
		b.command = rendered
	} else {
		b.command += "; " + rendered
	}

	stdout, stderr, err := util.ExecCommandContext(ctx, program, args...)
	b.stdout = stdout
	b.exitCode = util.ExitCode(err)
	if err != nil {
		if stderr != "" {
			return fmt.Errorf("%s (stderr: %s)", err, stderr)
		}

		return err
	}

	return nil
}

// finish closes the lifecycle and builds the result record.
func (b *base) finish(err error) Result {
	b.completeTime = time.Now()
	if err != nil {
		b.status = StatusError
		b.errMsg = err.Error()
	} else {
		b.status = StatusComplete
	}

	return Result{
		Kind:           b.kind,
		ID:             b.id,
		Name:           b.name,
		WorkerLabel:    b.workerLabel,
		Status:         b.status,
		Command:        b.command,
		Error:          b.errMsg,
		InitTime:       b.initTime.Format(timeFormat),
		StartTime:      b.startTime.Format(timeFormat),
		CompleteTime:   b.completeTime.Format(timeFormat),
		ElapsedSeconds: b.elapsed(),
	}
}

// elapsed is the execution duration in seconds; 0 when the task never
// started or the clock stepped backwards.
func (b *base) elapsed() float64 {
	if b.startTime.IsZero() || b.completeTime.IsZero() {
		return 0
	}
	elapsed := b.completeTime.Sub(b.startTime).Seconds()
	if elapsed < 0 {
		return 0
	}

	return elapsed
}
