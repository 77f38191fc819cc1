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
	"fmt"
	"strings"
)

// Mode is the backup mode chosen for an image this run.
type Mode int

const (
	// ModeFull exports the complete image.
	ModeFull Mode = iota
	// ModeDiff exports the difference since the previous snapshot.
	ModeDiff
)

func (m Mode) String() string {
	switch m {
	case ModeFull:
		return "full"
	case ModeDiff:
		return "diff"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// idSeparator joins the parts of an image id. Pool and image names are
// validated against a token pattern that cannot contain it.
const idSeparator = "|"

// ImageID derives the unique id of an image within a cluster.
func ImageID(clusterName, poolName, imageName string) string {
	return strings.Join([]string{clusterName, poolName, imageName}, idSeparator)
}

// ParseImageID splits an image id back into its parts.
func ParseImageID(id string) (clusterName, poolName, imageName string, err error) {
	parts := strings.Split(id, idSeparator)
	if len(parts) != 3 {
		return "", "", "", fmt.Errorf("malformed image id %q", id)
	}

	return parts[0], parts[1], parts[2], nil
}

// ImageDescriptor identifies one image to back up this run. It is built
// during planning, enriched by the snapshot and export stages and discarded
// at run end. Owned exclusively by the engine; tasks receive only the
// fields they need.
type ImageDescriptor struct {
	ImageID     string
	PoolName    string
	ImageName   string
	VolumeAlias string

	FullSize int64
	UsedSize int64
	Features uint64

	// snapshot names currently in the cluster, oldest first
	ClusterSnapshots []string

	Mode Mode

	// PrevSnapshot is the snapshot a diff starts from, PrevFullBackup the
	// full-backup directory it attaches to; both empty for a full backup.
	PrevSnapshot   string
	PrevFullBackup string

	// NewSnapshot is the snapshot created this run.
	NewSnapshot string
}

func (img *ImageDescriptor) String() string {
	return fmt.Sprintf("%s/%s", img.PoolName, img.ImageName)
}

func (img *ImageDescriptor) hasClusterSnapshot(snapName string) bool {
	for _, name := range img.ClusterSnapshots {
		if name == snapName {
			return true
		}
	}

	return false
}
