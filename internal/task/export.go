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
)

// ExportMode selects full or differential export.
type ExportMode int

const (
	// ExportFull exports the whole image at a snapshot.
	ExportFull ExportMode = iota
	// ExportDiff exports the byte difference between two snapshots.
	ExportDiff
)

func (m ExportMode) String() string {
	switch m {
	case ExportFull:
		return "full"
	case ExportDiff:
		return "diff"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// ExportTask writes a full or differential image export to a local file.
type ExportTask struct {
	base

	ClusterName string
	PoolName    string
	ImageName   string
	DestPath    string
	Mode        ExportMode
	FromSnap    string
	ToSnap      string
}

// NewExportTask builds an export task for the image identified by imageID.
func NewExportTask(clusterName, poolName, imageName, imageID, destPath string,
	mode ExportMode, fromSnap, toSnap string,
) *ExportTask {
	name := fmt.Sprintf("export_%s_%s_in_pool_%s", mode, imageName, poolName)

	return &ExportTask{
		base:        newBase("export", imageID, name),
		ClusterName: clusterName,
		PoolName:    poolName,
		ImageName:   imageName,
		DestPath:    destPath,
		Mode:        mode,
		FromSnap:    fromSnap,
		ToSnap:      toSnap,
	}
}

func (t *ExportTask) exportFull(ctx context.Context) error {
	if t.ToSnap == "" {
		return fmt.Errorf("full export of %s/%s has no snapshot", t.PoolName, t.ImageName)
	}

	return t.runCommand(ctx, "rbd", "export",
		"--cluster", t.ClusterName, "-p", t.PoolName,
		fmt.Sprintf("%s@%s", t.ImageName, t.ToSnap), t.DestPath)
}

func (t *ExportTask) exportDiff(ctx context.Context) error {
	if t.FromSnap == "" || t.ToSnap == "" {
		return fmt.Errorf("diff export of %s/%s needs both from (%q) and to (%q) snapshots",
			t.PoolName, t.ImageName, t.FromSnap, t.ToSnap)
	}

	return t.runCommand(ctx, "rbd", "export-diff",
		"--cluster", t.ClusterName, "-p", t.PoolName,
		fmt.Sprintf("%s@%s", t.ImageName, t.ToSnap),
		"--from-snap", t.FromSnap, t.DestPath)
}

// Execute runs the export and returns the result record.
func (t *ExportTask) Execute(ctx context.Context, workerLabel string) Result {
	t.start(workerLabel)

	var err error
	switch t.Mode {
	case ExportFull:
		err = t.exportFull(ctx)
	case ExportDiff:
		err = t.exportDiff(ctx)
	default:
		err = fmt.Errorf("unknown export mode %d", t.Mode)
	}

	return t.finish(err)
}
