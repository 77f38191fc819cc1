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
	"testing"
	"time"

	"github.com/ceph/rbd-backup/internal/backupdir"
	"github.com/ceph/rbd-backup/internal/metadata"
	"github.com/ceph/rbd-backup/internal/util"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestEngine builds an engine over a temp backup directory without a
// cluster session.
func newTestEngine(t *testing.T, conf *util.Config) *Engine {
	t.Helper()

	dir, err := backupdir.New(t.TempDir())
	require.NoError(t, err)
	clusterPath, err := dir.Add("ceph")
	require.NoError(t, err)

	store := metadata.NewStore(clusterPath, "ceph")
	require.NoError(t, store.Initialize(metadata.AllDocuments...))

	return &Engine{
		conf:        conf,
		clusterName: "ceph",
		backupTime:  "2025-01-06 01:00:00",
		pools:       nil,
		dir:         dir,
		store:       store,
		snapList:    map[string][]string{},
		circList:    map[string][]string{},
	}
}

func TestIsoWeekday(t *testing.T) {
	t.Parallel()
	tests := []struct {
		date string
		want int
	}{
		{"2025-01-06", 1}, // Monday
		{"2025-01-08", 3}, // Wednesday
		{"2025-01-11", 6}, // Saturday
		{"2025-01-12", 7}, // Sunday
	}
	for _, tt := range tests {
		day, err := time.Parse("2006-01-02", tt.date)
		require.NoError(t, err)
		assert.Equal(t, tt.want, isoWeekday(day), tt.date)
	}
}

func TestSortImages(t *testing.T) {
	t.Parallel()
	images := func() []*ImageDescriptor {
		return []*ImageDescriptor{
			{ImageName: "mid", FullSize: 50},
			{ImageName: "big", FullSize: 100},
			{ImageName: "small", FullSize: 10},
		}
	}
	tests := []struct {
		name           string
		smallSizeFirst string
		want           []string
	}{
		{"ascending", "True", []string{"small", "mid", "big"}},
		{"descending", "False", []string{"big", "mid", "small"}},
		{"natural", "whatever", []string{"mid", "big", "small"}},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			e := &Engine{
				conf:   &util.Config{SmallSizeFirst: tt.smallSizeFirst},
				images: images(),
			}
			e.sortImages(func(img *ImageDescriptor) int64 { return img.FullSize })

			got := []string{}
			for _, img := range e.images {
				got = append(got, img.ImageName)
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCheckDiffAnchors(t *testing.T) {
	conf := &util.Config{}
	img := func() *ImageDescriptor {
		return &ImageDescriptor{
			ImageID:          ImageID("ceph", "rbd", "img1"),
			PoolName:         "rbd",
			ImageName:        "img1",
			ClusterSnapshots: []string{"s1", "s2"},
			Mode:             ModeDiff,
		}
	}

	t.Run("anchors intact", func(t *testing.T) {
		e := newTestEngine(t, conf)
		e.snapList[ImageID("ceph", "rbd", "img1")] = []string{"s1", "s2"}
		e.circList[ImageID("ceph", "rbd", "img1")] = []string{"s1"}
		_, err := e.dir.Add("ceph", "rbd", "img1", "s1")
		require.NoError(t, err)

		got := img()
		e.checkDiffAnchors(context.TODO(), got)
		assert.Equal(t, ModeDiff, got.Mode)
		assert.Equal(t, "s2", got.PrevSnapshot)
		assert.Equal(t, "s1", got.PrevFullBackup)
	})

	t.Run("no snapshot history demotes", func(t *testing.T) {
		e := newTestEngine(t, conf)
		e.circList[ImageID("ceph", "rbd", "img1")] = []string{"s1"}

		got := img()
		e.checkDiffAnchors(context.TODO(), got)
		assert.Equal(t, ModeFull, got.Mode)
		assert.Empty(t, got.PrevSnapshot)
	})

	t.Run("no circulation history demotes", func(t *testing.T) {
		e := newTestEngine(t, conf)
		e.snapList[ImageID("ceph", "rbd", "img1")] = []string{"s2"}

		got := img()
		e.checkDiffAnchors(context.TODO(), got)
		assert.Equal(t, ModeFull, got.Mode)
	})

	// E4: metadata lists a snapshot the cluster no longer has
	t.Run("snapshot gone from cluster demotes", func(t *testing.T) {
		e := newTestEngine(t, conf)
		e.snapList[ImageID("ceph", "rbd", "img1")] = []string{"gone"}
		e.circList[ImageID("ceph", "rbd", "img1")] = []string{"s1"}
		_, err := e.dir.Add("ceph", "rbd", "img1", "s1")
		require.NoError(t, err)

		got := img()
		e.checkDiffAnchors(context.TODO(), got)
		assert.Equal(t, ModeFull, got.Mode)
	})

	t.Run("full backup directory gone demotes", func(t *testing.T) {
		e := newTestEngine(t, conf)
		e.snapList[ImageID("ceph", "rbd", "img1")] = []string{"s2"}
		e.circList[ImageID("ceph", "rbd", "img1")] = []string{"missing_dir"}

		got := img()
		e.checkDiffAnchors(context.TODO(), got)
		assert.Equal(t, ModeFull, got.Mode)
	})
}

func TestWriteRunTotals(t *testing.T) {
	e := newTestEngine(t, &util.Config{})
	require.NoError(t, e.store.WriteBackupInfo(&metadata.BackupInfo{
		BackupTime:  e.backupTime,
		ClusterName: "ceph",
	}))

	e.images = []*ImageDescriptor{{}, {}}
	e.totalFullBytes = 1000
	e.totalUsedBytes = 100
	e.writeRunTotals(context.TODO())

	info, err := e.store.ReadBackupInfo()
	require.NoError(t, err)
	assert.Equal(t, 2, info.RBDCount)
	assert.Equal(t, int64(1000), info.TotalFullBytes)
	assert.Equal(t, int64(100), info.TotalUsedBytes)
}
