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

package backupdir

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	t.Parallel()

	// missing directory is created
	path := filepath.Join(t.TempDir(), "backup")
	d, err := New(path)
	require.NoError(t, err)
	assert.Equal(t, path, d.Path())
	fi, err := os.Stat(path)
	require.NoError(t, err)
	assert.True(t, fi.IsDir())

	// a regular file is rejected
	file := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o600))
	_, err = New(file)
	assert.Error(t, err)
}

func TestAdd(t *testing.T) {
	t.Parallel()
	d, err := New(t.TempDir())
	require.NoError(t, err)

	full, err := d.Add("ceph", "rbd", "img1")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(d.Path(), "ceph", "rbd", "img1"), full)
	assert.True(t, d.FindDir("ceph", "rbd", "img1"))

	// existing path is fine
	_, err = d.Add("ceph", "rbd", "img1")
	assert.NoError(t, err)
}

func TestListAndFind(t *testing.T) {
	t.Parallel()
	d, err := New(t.TempDir())
	require.NoError(t, err)

	_, err = d.Add("ceph", "rbd", "img1", "snap1")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(
		filepath.Join(d.Path(), "ceph", "rbd", "img1", "snap1", "snap1"), []byte("data"), 0o600))

	dirs, err := d.SubdirList("ceph", "rbd", "img1")
	require.NoError(t, err)
	assert.Equal(t, []string{"snap1"}, dirs)

	files, err := d.FileList("ceph", "rbd", "img1", "snap1")
	require.NoError(t, err)
	assert.Equal(t, []string{"snap1"}, files)

	count, err := d.FileCount("ceph", "rbd", "img1", "snap1")
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	assert.True(t, d.FindFile("ceph", "rbd", "img1", "snap1", "snap1"))
	assert.False(t, d.FindFile("ceph", "rbd", "img1", "snap1", "other"))
	assert.False(t, d.FindFile("ceph", "rbd", "img1", "snap1"))
}

func TestDelete(t *testing.T) {
	t.Parallel()
	d, err := New(t.TempDir())
	require.NoError(t, err)

	_, err = d.Add("ceph", "rbd", "img1", "snap1")
	require.NoError(t, err)

	require.NoError(t, d.Delete("ceph", "rbd", "img1", "snap1"))
	assert.False(t, d.FindDir("ceph", "rbd", "img1", "snap1"))

	// the root and paths escaping it are refused
	assert.Error(t, d.Delete())
	assert.Error(t, d.Delete(".."))
	assert.Error(t, d.Delete("..", "elsewhere"))
}

func TestSizes(t *testing.T) {
	t.Parallel()
	d, err := New(t.TempDir())
	require.NoError(t, err)

	avail, err := d.AvailableBytes(context.TODO())
	require.NoError(t, err)
	assert.Positive(t, avail)

	used, err := d.UsedBytes(context.TODO())
	require.NoError(t, err)
	assert.GreaterOrEqual(t, used, int64(0))
}
