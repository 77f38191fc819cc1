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

package backup

import (
	"context"

	"github.com/ceph/rbd-backup/internal/task"
	"github.com/ceph/rbd-backup/internal/util/log"
	"github.com/ceph/rbd-backup/internal/worker"
)

// pruneSnapshots is stage 8: bound the per-image snapshot history to
// snapshot_retain_count. A retain count of zero purges every snapshot of
// the run's images instead. A failed removal stays in the list and is
// retried next run.
func (e *Engine) pruneSnapshots(ctx context.Context) error {
	log.UsefulLog(ctx, "(8) prune rbd snapshots")

	retain := e.conf.SnapshotRetainCount
	if retain == 0 {
		e.purgeSnapshots(ctx)
	} else {
		for _, img := range e.images {
			e.pruneImageSnapshots(ctx, img, retain)
		}
	}

	if err := e.store.WriteSnapshotMaintainList(e.snapList); err != nil {
		log.ErrorLog(ctx, "unable to persist snapshot maintain list: %v", err)
	}

	return nil
}

// purgeSnapshots removes every snapshot of every active image.
func (e *Engine) purgeSnapshots(ctx context.Context) {
	submitted := 0
	for _, img := range e.images {
		e.mgr.AddTask(task.NewSnapshotTask(
			e.clusterName, img.PoolName, img.ImageName, img.ImageID,
			task.SnapshotPurge, "", false))
		submitted++
	}

	e.drain(ctx, submitted, func(completed worker.Completed) {
		st, ok := completed.Task.(*task.SnapshotTask)
		if !ok {
			return
		}
		if completed.Result.Status == task.StatusComplete {
			delete(e.snapList, st.ID())
		}
	})
}

// pruneImageSnapshots trims the maintain list of one image. Only snapshots
// that still exist in the cluster are considered; the oldest excess ones
// are removed through worker tasks.
func (e *Engine) pruneImageSnapshots(ctx context.Context, img *ImageDescriptor, retain int) {
	pool, err := e.pool(img.PoolName)
	if err != nil {
		log.ErrorLog(ctx, "unable to prune snapshots of %s: %v", img, err)

		return
	}
	clusterSnaps, err := pool.SnapshotNames(img.ImageName)
	if err != nil {
		log.ErrorLog(ctx, "unable to prune snapshots of %s: %v", img, err)

		return
	}

	inCluster := make(map[string]bool, len(clusterSnaps))
	for _, name := range clusterSnaps {
		inCluster[name] = true
	}

	// order-preserving match of the maintain list against the cluster
	matched := []string{}
	for _, name := range e.snapList[img.ImageID] {
		if inCluster[name] {
			matched = append(matched, name)
		}
	}

	excess := len(matched) - retain
	if excess <= 0 {
		e.snapList[img.ImageID] = matched

		return
	}

	// one removal at a time: pop the oldest, commit on completion, keep a
	// failed one in place and move past it
	removed := map[string]bool{}
	for _, name := range matched[:excess] {
		e.mgr.AddTask(task.NewSnapshotTask(
			e.clusterName, img.PoolName, img.ImageName, img.ImageID,
			task.SnapshotRemove, name, false))
		e.drain(ctx, 1, func(completed worker.Completed) {
			st, ok := completed.Task.(*task.SnapshotTask)
			if !ok {
				return
			}
			if completed.Result.Status == task.StatusComplete {
				removed[st.SnapName] = true
			}
		})
	}

	// failed removals stay in the list and are retried next run
	survivors := []string{}
	for _, name := range matched {
		if !removed[name] {
			survivors = append(survivors, name)
		}
	}
	e.snapList[img.ImageID] = survivors

	log.UsefulLog(ctx, "pruned %d of %d snapshot(s) of %s, %d kept",
		len(removed), len(matched), img, len(survivors))
}

// pruneBackups is stage 9: bound the per-image circulation history to
// backup_retain_count by deleting the oldest full-backup directories. A
// failed deletion stays in the list and is retried next run.
func (e *Engine) pruneBackups(ctx context.Context) error {
	log.UsefulLog(ctx, "(9) prune backup files")

	retain := e.conf.BackupRetainCount
	for _, img := range e.images {
		list := e.circList[img.ImageID]
		excess := len(list) - retain
		if excess <= 0 {
			continue
		}

		survivors := []string{}
		for _, name := range list[:excess] {
			err := e.dir.Delete(e.clusterName, img.PoolName, img.ImageName, name)
			if err != nil {
				log.ErrorLog(ctx, "unable to delete backup %s of %s: %v", name, img, err)
				survivors = append(survivors, name)

				continue
			}
			log.UsefulLog(ctx, "deleted backup %s of %s", name, img)
		}
		e.circList[img.ImageID] = append(survivors, list[excess:]...)
	}

	if err := e.store.WriteBackupCirculationList(e.circList); err != nil {
		log.ErrorLog(ctx, "unable to persist backup circulation list: %v", err)
	}

	return nil
}
