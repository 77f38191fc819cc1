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
	"fmt"
	"path/filepath"

	"github.com/ceph/rbd-backup/internal/task"
	"github.com/ceph/rbd-backup/internal/util/log"
	"github.com/ceph/rbd-backup/internal/worker"
)

// runSnapshotStage covers stages 4 and 5: one CREATE task per image, all
// submitted, all drained. Images whose snapshot failed are excluded from
// every later stage of this run.
func (e *Engine) runSnapshotStage(ctx context.Context) error {
	planCtx := stageCtx(ctx, 4)
	log.UsefulLog(planCtx, "(4) initialize rbd snapshot tasks")

	byID := make(map[string]*ImageDescriptor, len(e.images))
	tasks := make([]*task.SnapshotTask, 0, len(e.images))
	for _, img := range e.images {
		byID[img.ImageID] = img
		// snapshot name stays empty so the name records the moment the
		// snapshot is actually taken in the cluster
		tasks = append(tasks, task.NewSnapshotTask(
			e.clusterName, img.PoolName, img.ImageName, img.ImageID,
			task.SnapshotCreate, "", e.conf.SnapshotProtect))
	}
	log.UsefulLog(planCtx, "created %d snapshot task(s)", len(tasks))

	execCtx := stageCtx(ctx, 5)
	log.UsefulLog(execCtx, "(5) start rbd snapshot tasks")

	submitted := 0
	for _, t := range tasks {
		e.mgr.AddTask(t)
		submitted++
	}

	failed := map[string]bool{}
	e.drain(execCtx, submitted, func(completed worker.Completed) {
		st, ok := completed.Task.(*task.SnapshotTask)
		if !ok {
			return
		}
		img := byID[st.ID()]
		if img == nil {
			return
		}
		if completed.Result.Status == task.StatusComplete {
			img.NewSnapshot = st.SnapName
			e.snapList[img.ImageID] = append(e.snapList[img.ImageID], st.SnapName)
		} else {
			failed[img.ImageID] = true
		}
	})

	if len(failed) > 0 {
		survivors := e.images[:0]
		for _, img := range e.images {
			if failed[img.ImageID] {
				log.WarningLog(execCtx, "%s is excluded from the rest of this run", img)

				continue
			}
			survivors = append(survivors, img)
		}
		e.images = survivors
	}

	if err := e.store.WriteSnapshotMaintainList(e.snapList); err != nil {
		log.ErrorLog(execCtx, "unable to persist snapshot maintain list: %v", err)
	}

	log.DefaultLog("%d snapshot task(s) submitted, %d completed, %d failed",
		submitted, submitted-len(failed), len(failed))

	return nil
}

// runExportStage covers stages 6 and 7: measure used sizes, compute
// destination paths, submit one export task per surviving image and drain
// them all. Failed full exports roll their circulation entry back so the
// next run demotes the image to a full backup again.
func (e *Engine) runExportStage(ctx context.Context) error {
	planCtx := stageCtx(ctx, 6)
	log.UsefulLog(planCtx, "(6) initialize rbd export tasks")

	for _, img := range e.images {
		pool, err := e.pool(img.PoolName)
		if err != nil {
			log.ErrorLog(planCtx, "unable to measure %s: %v", img, err)

			continue
		}
		// the measure task runs inline: the pool adapter is not safe for
		// concurrent use by workers
		mt := task.NewDiffMeasureTask(pool,
			img.PoolName, img.ImageName, img.ImageID, img.PrevSnapshot, img.NewSnapshot)
		result := mt.Execute(planCtx, "engine")
		if result.Status != task.StatusComplete {
			log.WarningLog(planCtx, "unable to measure used size of %s: %s", img, result.Error)

			continue
		}
		img.UsedSize = mt.UsedSize
		e.totalUsedBytes += mt.UsedSize
	}

	// exports run smallest (or largest) used size first
	e.sortImages(func(img *ImageDescriptor) int64 { return img.UsedSize })

	e.pendingFulls = map[string]string{}
	exports := make([]*task.ExportTask, 0, len(e.images))
	for _, img := range e.images {
		t, err := e.planExport(img)
		if err != nil {
			log.ErrorLog(planCtx, "unable to plan export of %s: %v", img, err)

			continue
		}
		exports = append(exports, t)
		log.UsefulLog(planCtx, "created export task %s -> %s", t.Name(), t.DestPath)
	}

	e.writeRunTotals(planCtx)

	execCtx := stageCtx(ctx, 7)
	log.UsefulLog(execCtx, "(7) start rbd export tasks")

	submitted := 0
	for _, t := range exports {
		e.mgr.AddTask(t)
		submitted++
	}

	completedCount := 0
	e.drain(execCtx, submitted, func(completed worker.Completed) {
		et, ok := completed.Task.(*task.ExportTask)
		if !ok {
			return
		}
		if completed.Result.Status == task.StatusComplete {
			completedCount++

			return
		}
		// the snapshot stays in the maintain list (it exists in the
		// cluster); only the circulation entry of a failed full export is
		// withdrawn
		if et.Mode == task.ExportFull {
			e.rollbackFullExport(execCtx, et.ID())
		}
	})

	if err := e.store.WriteBackupCirculationList(e.circList); err != nil {
		log.ErrorLog(execCtx, "unable to persist backup circulation list: %v", err)
	}

	log.DefaultLog("%d export task(s) submitted, %d completed, %d failed",
		submitted, completedCount, submitted-completedCount)

	return nil
}

// planExport computes the destination path of one image and builds its
// export task. Full backups open a new circulation entry named after the
// new snapshot; diffs land inside their anchoring full-backup directory.
func (e *Engine) planExport(img *ImageDescriptor) (*task.ExportTask, error) {
	if img.NewSnapshot == "" {
		return nil, fmt.Errorf("%s has no snapshot to export", img)
	}

	if img.Mode == ModeFull {
		dirPath, err := e.dir.Add(e.clusterName, img.PoolName, img.ImageName, img.NewSnapshot)
		if err != nil {
			return nil, err
		}
		e.circList[img.ImageID] = append(e.circList[img.ImageID], img.NewSnapshot)
		e.pendingFulls[img.ImageID] = img.NewSnapshot

		return task.NewExportTask(e.clusterName, img.PoolName, img.ImageName, img.ImageID,
			filepath.Join(dirPath, img.NewSnapshot), task.ExportFull, "", img.NewSnapshot), nil
	}

	destPath := filepath.Join(e.dir.Path(), e.clusterName, img.PoolName, img.ImageName,
		img.PrevFullBackup, fmt.Sprintf("%s_to_%s", img.PrevSnapshot, img.NewSnapshot))

	return task.NewExportTask(e.clusterName, img.PoolName, img.ImageName, img.ImageID,
		destPath, task.ExportDiff, img.PrevSnapshot, img.NewSnapshot), nil
}

// rollbackFullExport withdraws the circulation entry appended for a full
// export that did not complete.
func (e *Engine) rollbackFullExport(ctx context.Context, imageID string) {
	pending, ok := e.pendingFulls[imageID]
	if !ok {
		return
	}
	delete(e.pendingFulls, imageID)

	list := e.circList[imageID]
	if len(list) > 0 && list[len(list)-1] == pending {
		e.circList[imageID] = list[:len(list)-1]
		log.WarningLog(ctx, "withdrew circulation entry %s of image %s", pending, imageID)
	}
}
