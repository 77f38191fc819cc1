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
	"time"

	"github.com/ceph/rbd-backup/internal/backupdir"
	"github.com/ceph/rbd-backup/internal/cluster"
	"github.com/ceph/rbd-backup/internal/metadata"
	"github.com/ceph/rbd-backup/internal/task"
	"github.com/ceph/rbd-backup/internal/util"
	"github.com/ceph/rbd-backup/internal/util/log"
	"github.com/ceph/rbd-backup/internal/worker"

	"github.com/google/uuid"
)

// stopCountdown bounds how long finalize waits for workers, in seconds.
const stopCountdown = 5

// Engine drives the multi-stage backup pipeline of one cluster. A single
// goroutine runs the pipeline; only tasks handed to the worker pool execute
// concurrently.
type Engine struct {
	conf        *util.Config
	clusterName string
	conffile    string

	runID      string
	backupTime string

	conn  *cluster.ClusterConnection
	pools map[string]*cluster.Pool

	dir   *backupdir.Directory
	store *metadata.Store
	mgr   *worker.Manager

	backupType Mode
	images     []*ImageDescriptor

	snapList map[string][]string
	circList map[string][]string

	// circulation entries appended in the export-plan stage, committed or
	// rolled back per task result before the list is persisted
	pendingFulls map[string]string

	totalFullBytes int64
	totalUsedBytes int64
}

// NewEngine builds an engine for the named cluster. clusterName and
// conffile override the values of the config file when set.
func NewEngine(conf *util.Config, clusterName, conffile string) *Engine {
	if clusterName == "" {
		clusterName = conf.CephClusterName
	}
	if conffile == "" {
		conffile = conf.CephConffile
	}

	return &Engine{
		conf:        conf,
		clusterName: clusterName,
		conffile:    conffile,
		runID:       uuid.New().String(),
		backupTime:  time.Now().Format("2006-01-02 15:04:05"),
		pools:       map[string]*cluster.Pool{},
		snapList:    map[string][]string{},
		circList:    map[string][]string{},
	}
}

func stageCtx(ctx context.Context, stage int) context.Context {
	return context.WithValue(ctx, log.StageKey, stage)
}

// Run drives the pipeline. Finalize always runs, also when a stage failed.
// A nil return means the pipeline reached finalize; per-image failures are
// reported through logs and metadata only.
func (e *Engine) Run(ctx context.Context) (err error) {
	ctx = context.WithValue(ctx, log.RunKey, e.runID)
	log.DefaultLog("start rbd backup of cluster %s at %s (run %s)",
		e.clusterName, e.backupTime, e.runID)

	defer e.finalize(ctx)

	// S1
	if err = e.initializeBackupDirectory(stageCtx(ctx, 1)); err != nil {
		return fmt.Errorf("failed to initialize backup directory: %w", err)
	}

	// S2
	proceed, err := e.plan(stageCtx(ctx, 2))
	if err != nil {
		return fmt.Errorf("planning failed: %w", err)
	}
	if !proceed {
		return nil
	}

	// S3
	e.startWorkers(stageCtx(ctx, 3))

	// S4 + S5
	if err = e.runSnapshotStage(ctx); err != nil {
		return fmt.Errorf("snapshot stage failed: %w", err)
	}

	// S6 + S7
	if err = e.runExportStage(ctx); err != nil {
		return fmt.Errorf("export stage failed: %w", err)
	}

	// S8
	if err = e.pruneSnapshots(stageCtx(ctx, 8)); err != nil {
		return fmt.Errorf("snapshot prune failed: %w", err)
	}

	// S9
	if err = e.pruneBackups(stageCtx(ctx, 9)); err != nil {
		return fmt.Errorf("backup prune failed: %w", err)
	}

	return nil
}

// initializeBackupDirectory is stage 1: create <backup_path>/<cluster>,
// bring up the metadata store and record the initial run facts. Failure
// here is the only global fatal of the pipeline.
func (e *Engine) initializeBackupDirectory(ctx context.Context) error {
	log.DefaultLog("(1) initialize backup directory %s", e.conf.BackupPath)

	dir, err := backupdir.New(e.conf.BackupPath)
	if err != nil {
		return err
	}
	e.dir = dir

	clusterPath, err := dir.Add(e.clusterName)
	if err != nil {
		return err
	}

	e.store = metadata.NewStore(clusterPath, e.clusterName)
	if err = e.store.Initialize(metadata.AllDocuments...); err != nil {
		return err
	}

	conn, err := cluster.Connect(e.clusterName, e.conffile)
	if err != nil {
		return err
	}
	e.conn = conn

	fsid, err := conn.GetFSID()
	if err != nil {
		log.WarningLog(ctx, "unable to read cluster fsid: %v", err)
	}

	avail, err := dir.AvailableBytes(ctx)
	if err != nil {
		return err
	}
	used, err := dir.UsedBytes(ctx)
	if err != nil {
		log.WarningLog(ctx, "unable to measure backup directory usage: %v", err)
	}

	info := &metadata.BackupInfo{
		BackupTime:     e.backupTime,
		ClusterName:    e.clusterName,
		ClusterFSID:    fsid,
		AvailableBytes: avail,
		UsedBytes:      used,
	}
	if err = e.store.WriteBackupInfo(info); err != nil {
		return err
	}

	return nil
}

// pool returns the adapter for poolName, opening it on first use.
func (e *Engine) pool(poolName string) (*cluster.Pool, error) {
	if p, ok := e.pools[poolName]; ok {
		return p, nil
	}
	if e.conn == nil {
		return nil, fmt.Errorf("no cluster session to open pool %s", poolName)
	}

	p, err := e.conn.OpenPool(poolName)
	if err != nil {
		return nil, err
	}
	e.pools[poolName] = p

	return p, nil
}

// startWorkers is stage 3.
func (e *Engine) startWorkers(ctx context.Context) {
	log.UsefulLog(ctx, "(3) initialize %d backup workers", e.conf.WorkerCount)

	queueDepth := len(e.images) + e.conf.WorkerCount
	e.mgr = worker.NewManager(e.conf.WorkerCount, queueDepth, worker.DefaultRestTime)
	e.mgr.RunWorkers()
}

// drain collects exactly submitted completions from the finished queue and
// logs every result record. The callback decides per task what to commit.
func (e *Engine) drain(ctx context.Context, submitted int, handle func(worker.Completed)) {
	for i := 0; i < submitted; i++ {
		completed := e.mgr.GetFinished()
		result := completed.Result
		if result.Status == task.StatusComplete {
			log.UsefulLog(ctx, "%s completed on %s in %.1f seconds",
				result.Name, result.WorkerLabel, result.ElapsedSeconds)
		} else {
			log.WarningLog(ctx, "%s failed on %s: %s (command: %s)",
				result.Name, result.WorkerLabel, result.Error, result.Command)
		}
		handle(completed)
	}
}

// finalize is stage 10: stop the workers, close cluster sessions and
// optionally flush host caches. It runs regardless of how the pipeline
// ended.
func (e *Engine) finalize(ctx context.Context) {
	ctx = stageCtx(ctx, 10)
	log.UsefulLog(ctx, "(10) finalize rbd backup")

	if e.mgr != nil {
		e.mgr.StopWorkers()
		if !e.mgr.WaitStopped(stopCountdown) {
			log.WarningLog(ctx, "leaked workers left behind")
		}
	}

	for name, p := range e.pools {
		p.Close()
		delete(e.pools, name)
	}
	if e.conn != nil {
		e.conn.Destroy()
		e.conn = nil
	}

	if e.conf.CacheFlushEnabled {
		if err := util.DropHostCaches(e.conf.DropCacheLevel, e.conf.FlushFSBuffer); err != nil {
			log.WarningLog(ctx, "unable to drop host caches: %v", err)
		}
	}

	log.DefaultLog("rbd backup of cluster %s finished", e.clusterName)
}
