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

// Measurer enumerates allocated extents between two snapshots of an image
// and sums their lengths. The cluster pool adapter implements it.
type Measurer interface {
	UsedBytes(imageName, snapName, fromSnap string) (int64, error)
}

// DiffMeasureTask measures the used size of an image between fromSnap and
// toSnap. The orchestrator executes it inline because the pool adapter is
// not safe for concurrent use; it still records task timings like any other
// task.
type DiffMeasureTask struct {
	base

	PoolName  string
	ImageName string
	FromSnap  string
	ToSnap    string

	measurer Measurer

	// UsedSize is valid once the task completed.
	UsedSize int64
}

// NewDiffMeasureTask builds a measurement task over the given pool adapter.
func NewDiffMeasureTask(measurer Measurer, poolName, imageName, imageID,
	fromSnap, toSnap string,
) *DiffMeasureTask {
	name := fmt.Sprintf("diff_measure_%s_in_pool_%s", imageName, poolName)

	return &DiffMeasureTask{
		base:      newBase("diff-measure", imageID, name),
		PoolName:  poolName,
		ImageName: imageName,
		FromSnap:  fromSnap,
		ToSnap:    toSnap,
		measurer:  measurer,
		UsedSize:  -1,
	}
}

// Execute measures and returns the result record.
func (t *DiffMeasureTask) Execute(_ context.Context, workerLabel string) Result {
	t.start(workerLabel)
	t.command = fmt.Sprintf("diff_iterate(%s/%s@%s, from=%s)",
		t.PoolName, t.ImageName, t.ToSnap, t.FromSnap)

	used, err := t.measurer.UsedBytes(t.ImageName, t.ToSnap, t.FromSnap)
	if err == nil {
		t.UsedSize = used
	}

	return t.finish(err)
}
