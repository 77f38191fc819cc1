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
	"time"

	"github.com/ceph/rbd-backup/internal/task"
	"github.com/ceph/rbd-backup/internal/util/log"
)

// DefaultRestTime is the pause a worker takes between two tasks.
const DefaultRestTime = 2 * time.Second

// Manager owns the task and finished queues and the pool of workers
// consuming them. The orchestrator submits all tasks of a pipeline stage and
// then drains exactly as many completions before planning the next stage.
type Manager struct {
	workerCount int
	restTime    time.Duration

	taskCh chan task.Task
	doneCh chan Completed

	workers []*worker
	cancel  context.CancelFunc
}

// NewManager sizes both queues to queueDepth; the depth must cover the
// largest stage plus the stop sentinels so submission never blocks the
// orchestrator while workers are publishing.
func NewManager(workerCount, queueDepth int, restTime time.Duration) *Manager {
	if queueDepth < workerCount {
		queueDepth = workerCount
	}

	return &Manager{
		workerCount: workerCount,
		restTime:    restTime,
		taskCh:      make(chan task.Task, queueDepth),
		doneCh:      make(chan Completed, queueDepth),
	}
}

// RunWorkers starts the worker goroutines.
func (m *Manager) RunWorkers() {
	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel

	for i := 0; i < m.workerCount; i++ {
		w := newWorker(i, m.taskCh, m.doneCh, m.restTime)
		m.workers = append(m.workers, w)
		go w.run(ctx)
	}

	log.DefaultLog("worker manager started %d workers", m.workerCount)
}

// WorkerCount returns the size of the pool.
func (m *Manager) WorkerCount() int {
	return m.workerCount
}

// AddTask enqueues one task.
func (m *Manager) AddTask(t task.Task) {
	m.taskCh <- t
	log.DebugLogMsg("added new task %s", t.Name())
}

// GetFinished blocks until the next completed task is published.
func (m *Manager) GetFinished() Completed {
	return <-m.doneCh
}

// StopWorkers enqueues one stop sentinel per worker; workers finish their
// current task first.
func (m *Manager) StopWorkers() {
	for i := 0; i < m.workerCount; i++ {
		m.taskCh <- nil
	}
}

// StopWorkersForce additionally aborts in-flight external commands.
func (m *Manager) StopWorkersForce() {
	if m.cancel != nil {
		m.cancel()
	}
	m.StopWorkers()
}

// WorkersStatus returns the status of every worker keyed by label.
func (m *Manager) WorkersStatus() map[string]Status {
	statuses := make(map[string]Status, len(m.workers))
	for _, w := range m.workers {
		statuses[w.label] = w.Status()
	}

	return statuses
}

// WaitStopped polls worker statuses once a second until every worker
// reached STOP or the countdown ran out. It returns false when workers are
// still running after the countdown; those are considered leaked and the
// caller exits anyway.
func (m *Manager) WaitStopped(countdown int) bool {
	for {
		running := 0
		for label, status := range m.WorkersStatus() {
			if status == StatusStop {
				continue
			}
			running++
			log.WarningLogMsg("%s is not stopped yet, status=%s", label, status)
		}

		if running == 0 {
			return true
		}

		countdown--
		if countdown <= 0 {
			log.WarningLogMsg("%d worker(s) still running, giving up on them", running)

			return false
		}
		time.Sleep(time.Second)
	}
}
