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

package worker

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/ceph/rbd-backup/internal/task"
	"github.com/ceph/rbd-backup/internal/util/log"
)

// Status is the state machine of one worker:
// READY -> WAIT -> RUN -> REST -> WAIT ..., terminating in STOP.
type Status int32

const (
	// StatusReady marks a worker that has not started its loop yet.
	StatusReady Status = iota
	// StatusWait marks a worker blocked on the task queue.
	StatusWait
	// StatusRun marks a worker executing a task.
	StatusRun
	// StatusRest marks a worker sleeping between tasks.
	StatusRest
	// StatusStop marks a worker that consumed the stop sentinel.
	StatusStop
)

func (s Status) String() string {
	switch s {
	case StatusReady:
		return "ready"
	case StatusWait:
		return "wait"
	case StatusRun:
		return "run"
	case StatusRest:
		return "rest"
	case StatusStop:
		return "stop"
	default:
		return fmt.Sprintf("status(%d)", int32(s))
	}
}

// Completed pairs a finished task with its result record.
type Completed struct {
	Task   task.Task
	Result task.Result
}

// worker consumes the task queue until it receives the nil stop sentinel.
// A worker never suspends inside Execute; its only blocking points are the
// queue receive and the external command wait.
type worker struct {
	label    string
	taskCh   <-chan task.Task
	doneCh   chan<- Completed
	restTime time.Duration

	status atomic.Int32
}

func newWorker(index int, taskCh <-chan task.Task, doneCh chan<- Completed, restTime time.Duration) *worker {
	w := &worker{
		label:    fmt.Sprintf("worker-%d", index),
		taskCh:   taskCh,
		doneCh:   doneCh,
		restTime: restTime,
	}
	w.status.Store(int32(StatusReady))

	return w
}

// Status returns the current state of the worker; safe to call from the
// orchestrator while the worker runs.
func (w *worker) Status() Status {
	return Status(w.status.Load())
}

func (w *worker) run(ctx context.Context) {
	for {
		w.status.Store(int32(StatusWait))
		t := <-w.taskCh

		// nil task is the stop sentinel
		if t == nil {
			w.status.Store(int32(StatusStop))
			log.DebugLogMsg("%s stopped running", w.label)

			return
		}

		w.status.Store(int32(StatusRun))
		log.DebugLogMsg("%s is executing task %s", w.label, t.Name())
		result := t.Execute(ctx, w.label)
		w.doneCh <- Completed{Task: t, Result: result}

		if w.restTime > 0 {
			w.status.Store(int32(StatusRest))
			time.Sleep(w.restTime)
		}
	}
}
