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
	"os"
	"path/filepath"
	"testing"

	"github.com/ceph/rbd-backup/internal/util"
	"github.com/ceph/rbd-backup/internal/worker"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubRBD puts a fake rbd executable at the front of PATH. Invocations
// whose arguments match failPattern exit non-zero.
func stubRBD(t *testing.T, failPattern string) {
	t.Helper()
	dir := t.TempDir()
	script := "#!/bin/sh\n"
	if failPattern != "" {
		script += fmt.Sprintf("case \"$*\" in\n  *%s*) exit 1;;\nesac\n", failPattern)
	}
	script += "exit 0\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "rbd"), []byte(script), 0o755))
	t.Setenv("PATH", dir+string(os.PathListSeparator)+os.Getenv("PATH"))
}

func startWorkers(t *testing.T, e *Engine, count int) {
	t.Helper()
	e.mgr = worker.NewManager(count, len(e.images)+count, 0)
	e.mgr.RunWorkers()
	t.Cleanup(func() {
		e.mgr.StopWorkers()
		e.mgr.WaitStopped(5)
	})
}

func testImage(imageName string, mode Mode) *ImageDescriptor {
	return &ImageDescriptor{
		ImageID:   ImageID("ceph", "rbd", imageName),
		PoolName:  "rbd",
		ImageName: imageName,
		FullSize:  10 << 20,
		Mode:      mode,
	}
}

func TestRunSnapshotStage(t *testing.T) {
	stubRBD(t, "")
	e := newTestEngine(t, &util.Config{WorkerCount: 2, SmallSizeFirst: "True"})
	e.images = []*ImageDescriptor{testImage("img1", ModeFull), testImage("img2", ModeFull)}
	startWorkers(t, e, 2)

	require.NoError(t, e.runSnapshotStage(context.TODO()))

	require.Len(t, e.images, 2)
	for _, img := range e.images {
		assert.NotEmpty(t, img.NewSnapshot)
		assert.Equal(t, []string{img.NewSnapshot}, e.snapList[img.ImageID])
	}

	persisted, err := e.store.ReadSnapshotMaintainList()
	require.NoError(t, err)
	assert.Equal(t, e.snapList, persisted)
}

// E5: a failing snapshot drops its image from the rest of the run and
// leaves no trace in the maintain list.
func TestRunSnapshotStageFailureIsolates(t *testing.T) {
	stubRBD(t, "img2")
	e := newTestEngine(t, &util.Config{WorkerCount: 2, SmallSizeFirst: "True"})
	e.images = []*ImageDescriptor{testImage("img1", ModeFull), testImage("img2", ModeFull)}
	startWorkers(t, e, 2)

	require.NoError(t, e.runSnapshotStage(context.TODO()))

	require.Len(t, e.images, 1)
	assert.Equal(t, "img1", e.images[0].ImageName)
	assert.NotContains(t, e.snapList, ImageID("ceph", "rbd", "img2"))
	assert.Contains(t, e.snapList, ImageID("ceph", "rbd", "img1"))
}

func TestPlanExportFull(t *testing.T) {
	e := newTestEngine(t, &util.Config{})
	e.pendingFulls = map[string]string{}

	img := testImage("img1", ModeFull)
	img.NewSnapshot = "2025_01_06_01_00_10"

	et, err := e.planExport(img)
	require.NoError(t, err)

	// P3: the destination opens a new directory named after to_snap
	wantDir := filepath.Join(e.dir.Path(), "ceph", "rbd", "img1", "2025_01_06_01_00_10")
	assert.Equal(t, filepath.Join(wantDir, "2025_01_06_01_00_10"), et.DestPath)
	assert.DirExists(t, wantDir)

	assert.Equal(t, []string{"2025_01_06_01_00_10"}, e.circList[img.ImageID])
	assert.Equal(t, "2025_01_06_01_00_10", e.pendingFulls[img.ImageID])
}

func TestPlanExportDiff(t *testing.T) {
	e := newTestEngine(t, &util.Config{})
	e.pendingFulls = map[string]string{}

	img := testImage("img1", ModeDiff)
	img.PrevSnapshot = "s1"
	img.PrevFullBackup = "s1"
	img.NewSnapshot = "s2"
	e.circList[img.ImageID] = []string{"s1"}

	et, err := e.planExport(img)
	require.NoError(t, err)

	// P4: the diff lands inside the anchoring circulation directory
	assert.Equal(t,
		filepath.Join(e.dir.Path(), "ceph", "rbd", "img1", "s1", "s1_to_s2"),
		et.DestPath)
	assert.Equal(t, "s1", et.FromSnap)
	assert.Equal(t, "s2", et.ToSnap)

	// diffs never open a circulation entry
	assert.Equal(t, []string{"s1"}, e.circList[img.ImageID])
	assert.Empty(t, e.pendingFulls)
}

func TestPlanExportWithoutSnapshot(t *testing.T) {
	e := newTestEngine(t, &util.Config{})
	e.pendingFulls = map[string]string{}

	_, err := e.planExport(testImage("img1", ModeFull))
	assert.Error(t, err)
}

func TestRunExportStage(t *testing.T) {
	stubRBD(t, "")
	e := newTestEngine(t, &util.Config{WorkerCount: 2, SmallSizeFirst: "True"})
	img := testImage("img1", ModeFull)
	img.NewSnapshot = "2025_01_06_01_00_10"
	e.images = []*ImageDescriptor{img}
	startWorkers(t, e, 2)

	require.NoError(t, e.runExportStage(context.TODO()))

	assert.Equal(t, []string{"2025_01_06_01_00_10"}, e.circList[img.ImageID])
	persisted, err := e.store.ReadBackupCirculationList()
	require.NoError(t, err)
	assert.Equal(t, e.circList, persisted)
}

// a failed full export withdraws its circulation entry so the next run
// demotes the image to a full backup again.
func TestRunExportStageRollsBackFailedFull(t *testing.T) {
	stubRBD(t, "img2")
	e := newTestEngine(t, &util.Config{WorkerCount: 2, SmallSizeFirst: "True"})
	img1 := testImage("img1", ModeFull)
	img1.NewSnapshot = "snap_a"
	img2 := testImage("img2", ModeFull)
	img2.NewSnapshot = "snap_b"
	e.images = []*ImageDescriptor{img1, img2}
	startWorkers(t, e, 2)

	require.NoError(t, e.runExportStage(context.TODO()))

	assert.Equal(t, []string{"snap_a"}, e.circList[img1.ImageID])
	assert.Empty(t, e.circList[img2.ImageID])

	persisted, err := e.store.ReadBackupCirculationList()
	require.NoError(t, err)
	assert.Equal(t, []string{"snap_a"}, persisted[img1.ImageID])
	assert.Empty(t, persisted[img2.ImageID])
}
