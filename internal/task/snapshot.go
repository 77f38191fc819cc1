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
	"time"
)

// SnapshotAction selects the operation a SnapshotTask performs.
type SnapshotAction int

const (
	// SnapshotCreate takes a new snapshot of the image.
	SnapshotCreate SnapshotAction = iota
	// SnapshotRemove removes one named snapshot.
	SnapshotRemove
	// SnapshotPurge removes every snapshot of the image.
	SnapshotPurge
)

func (a SnapshotAction) String() string {
	switch a {
	case SnapshotCreate:
		return "create"
	case SnapshotRemove:
		return "remove"
	case SnapshotPurge:
		return "purge"
	default:
		return fmt.Sprintf("action(%d)", int(a))
	}
}

// snapTimeFormat names created snapshots after the local time the CREATE
// command actually runs in the cluster.
const snapTimeFormat = "2006_01_02_15_04_05"

// SnapshotTask creates, removes or purges snapshots of one image.
type SnapshotTask struct {
	base

	ClusterName string
	PoolName    string
	ImageName   string
	Action      SnapshotAction
	SnapName    string
	Protect     bool
}

// NewSnapshotTask builds a snapshot task for the image identified by
// imageID. For SnapshotCreate an empty snapName is generated at execution
// time.
func NewSnapshotTask(clusterName, poolName, imageName, imageID string,
	action SnapshotAction, snapName string, protect bool,
) *SnapshotTask {
	name := fmt.Sprintf("snapshot_%s_%s_in_pool_%s", action, imageName, poolName)

	return &SnapshotTask{
		base:        newBase("snapshot", imageID, name),
		ClusterName: clusterName,
		PoolName:    poolName,
		ImageName:   imageName,
		Action:      action,
		SnapName:    snapName,
		Protect:     protect,
	}
}

func (t *SnapshotTask) imageSpec() string {
	return fmt.Sprintf("%s@%s", t.ImageName, t.SnapName)
}

func (t *SnapshotTask) create(ctx context.Context) error {
	if t.SnapName == "" {
		t.SnapName = time.Now().Format(snapTimeFormat)
	}

	err := t.runCommand(ctx, "rbd", "snap", "create",
		"--cluster", t.ClusterName, "-p", t.PoolName, t.imageSpec())
	if err != nil {
		return err
	}

	if t.Protect {
		return t.runCommand(ctx, "rbd", "snap", "protect",
			"--cluster", t.ClusterName, "-p", t.PoolName, t.imageSpec())
	}

	return nil
}

func (t *SnapshotTask) remove(ctx context.Context) error {
	if t.SnapName == "" {
		return fmt.Errorf("no snapshot name to remove from image %s/%s", t.PoolName, t.ImageName)
	}

	// unprotect is idempotent on an unprotected snapshot; failure here
	// surfaces through snap rm below
	_ = t.runCommand(ctx, "rbd", "snap", "unprotect",
		"--cluster", t.ClusterName, "-p", t.PoolName, t.imageSpec())

	return t.runCommand(ctx, "rbd", "snap", "rm",
		"--cluster", t.ClusterName, "-p", t.PoolName, t.imageSpec())
}

func (t *SnapshotTask) purge(ctx context.Context) error {
	return t.runCommand(ctx, "rbd", "snap", "purge",
		"--cluster", t.ClusterName, "-p", t.PoolName, t.ImageName)
}

// Execute runs the snapshot action and returns the result record.
func (t *SnapshotTask) Execute(ctx context.Context, workerLabel string) Result {
	t.start(workerLabel)

	var err error
	switch t.Action {
	case SnapshotCreate:
		err = t.create(ctx)
	case SnapshotRemove:
		err = t.remove(ctx)
	case SnapshotPurge:
		err = t.purge(ctx)
	default:
		err = fmt.Errorf("unknown snapshot action %d", t.Action)
	}

	return t.finish(err)
}
