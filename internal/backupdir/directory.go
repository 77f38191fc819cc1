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
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/ceph/rbd-backup/internal/util"
)

// Directory manages one local directory tree that exports are written to.
// It keeps no in-memory inventory; callers ask for fresh numbers when they
// need them. Orchestrator-only, like the metadata store.
type Directory struct {
	path string
}

// New verifies path is not a regular file and creates it when missing.
func New(path string) (*Directory, error) {
	fi, err := os.Stat(path)
	switch {
	case err == nil && !fi.IsDir():
		return nil, fmt.Errorf("backup path %s is a regular file", path)
	case os.IsNotExist(err):
		if err = os.MkdirAll(path, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create backup directory %s: %w", path, err)
		}
	case err != nil:
		return nil, fmt.Errorf("failed to stat backup directory %s: %w", path, err)
	}

	return &Directory{path: path}, nil
}

// Path returns the managed root.
func (d *Directory) Path() string {
	return d.path
}

// Add creates root/elems... when missing and returns its full path.
func (d *Directory) Add(elems ...string) (string, error) {
	full := filepath.Join(append([]string{d.path}, elems...)...)

	fi, err := os.Stat(full)
	switch {
	case err == nil && !fi.IsDir():
		return "", fmt.Errorf("%s exists and is a regular file", full)
	case os.IsNotExist(err):
		if err = os.MkdirAll(full, 0o755); err != nil {
			return "", fmt.Errorf("failed to create directory %s: %w", full, err)
		}
	case err != nil:
		return "", fmt.Errorf("failed to stat %s: %w", full, err)
	}

	return full, nil
}

// AvailableBytes asks df for the free space of the filesystem holding the
// directory.
func (d *Directory) AvailableBytes(ctx context.Context) (int64, error) {
	stdout, _, err := util.ExecCommand(ctx, "df", "-k", "--output=avail", d.path)
	if err != nil {
		return -1, fmt.Errorf("failed to get available bytes of %s: %w", d.path, err)
	}

	lines := strings.Fields(stdout)
	if len(lines) == 0 {
		return -1, fmt.Errorf("unexpected df output for %s: %q", d.path, stdout)
	}
	kb, err := strconv.ParseInt(lines[len(lines)-1], 10, 64)
	if err != nil {
		return -1, fmt.Errorf("unexpected df output for %s: %q", d.path, stdout)
	}

	return kb * 1024, nil
}

// UsedBytes asks du for the accumulated size of the directory.
func (d *Directory) UsedBytes(ctx context.Context) (int64, error) {
	stdout, _, err := util.ExecCommand(ctx, "du", "-sk", d.path)
	if err != nil {
		return -1, fmt.Errorf("failed to get used bytes of %s: %w", d.path, err)
	}

	fields := strings.Fields(stdout)
	if len(fields) == 0 {
		return -1, fmt.Errorf("unexpected du output for %s: %q", d.path, stdout)
	}
	kb, err := strconv.ParseInt(fields[0], 10, 64)
	if err != nil {
		return -1, fmt.Errorf("unexpected du output for %s: %q", d.path, stdout)
	}

	return kb * 1024, nil
}

// FileList returns the names of regular files under root/elems.
func (d *Directory) FileList(elems ...string) ([]string, error) {
	return d.list(false, elems...)
}

// SubdirList returns the names of sub-directories under root/elems.
func (d *Directory) SubdirList(elems ...string) ([]string, error) {
	return d.list(true, elems...)
}

// FileCount returns only the number of regular files under root/elems.
func (d *Directory) FileCount(elems ...string) (int, error) {
	files, err := d.FileList(elems...)
	if err != nil {
		return 0, err
	}

	return len(files), nil
}

func (d *Directory) list(dirs bool, elems ...string) ([]string, error) {
	full := filepath.Join(append([]string{d.path}, elems...)...)
	entries, err := os.ReadDir(full)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", full, err)
	}

	names := []string{}
	for _, entry := range entries {
		if entry.IsDir() == dirs {
			names = append(names, entry.Name())
		}
	}

	return names, nil
}

// Delete removes root/elems... recursively. The target must be strictly
// inside the managed root.
func (d *Directory) Delete(elems ...string) error {
	if len(elems) == 0 {
		return fmt.Errorf("refusing to delete backup root %s", d.path)
	}

	full := filepath.Join(append([]string{d.path}, elems...)...)
	rel, err := filepath.Rel(d.path, full)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return fmt.Errorf("refusing to delete %s outside backup root %s", full, d.path)
	}

	if err = os.RemoveAll(full); err != nil {
		return fmt.Errorf("failed to delete %s: %w", full, err)
	}

	return nil
}

// FindFile reports whether root/elems... exists and is a regular file.
func (d *Directory) FindFile(elems ...string) bool {
	full := filepath.Join(append([]string{d.path}, elems...)...)
	fi, err := os.Stat(full)

	return err == nil && fi.Mode().IsRegular()
}

// FindDir reports whether root/elems... exists and is a directory.
func (d *Directory) FindDir(elems ...string) bool {
	full := filepath.Join(append([]string{d.path}, elems...)...)
	fi, err := os.Stat(full)

	return err == nil && fi.IsDir()
}
