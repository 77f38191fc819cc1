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

package cluster

import (
	"errors"
	"fmt"

	"github.com/ceph/go-ceph/rados"
	librbd "github.com/ceph/go-ceph/rbd"
)

// ErrImageNotFound is returned when an image is not present in the pool.
var ErrImageNotFound = errors.New("image not found")

// Pool queries the images of one storage pool. It is used from the
// orchestrator only, never from workers.
type Pool struct {
	name        string
	clusterName string
	ioctx       *rados.IOContext
}

// Name returns the pool name.
func (p *Pool) Name() string {
	return p.name
}

// open returns the image, optionally at a snapshot. The caller closes it.
func (p *Pool) open(imageName, snapName string) (*librbd.Image, error) {
	image, err := librbd.OpenImage(p.ioctx, imageName, snapName)
	if err != nil {
		if errors.Is(err, librbd.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s/%s", ErrImageNotFound, p.name, imageName)
		}

		return nil, fmt.Errorf("failed to open image %s/%s: %w", p.name, imageName, err)
	}

	return image, nil
}

// ListImages returns the names of all images in the pool.
func (p *Pool) ListImages() ([]string, error) {
	names, err := librbd.GetImageNames(p.ioctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list images in pool %s: %w", p.name, err)
	}

	return names, nil
}

// ImageSize returns the provisioned size of the image in bytes.
func (p *Pool) ImageSize(imageName string) (int64, error) {
	image, err := p.open(imageName, librbd.NoSnapshot)
	if err != nil {
		return -1, err
	}
	defer image.Close()

	size, err := image.GetSize()
	if err != nil {
		return -1, fmt.Errorf("failed to get size of image %s/%s: %w", p.name, imageName, err)
	}

	return int64(size), nil
}

// ImageFeatures returns the feature bitset of the image.
func (p *Pool) ImageFeatures(imageName string) (uint64, error) {
	image, err := p.open(imageName, librbd.NoSnapshot)
	if err != nil {
		return 0, err
	}
	defer image.Close()

	features, err := image.GetFeatures()
	if err != nil {
		return 0, fmt.Errorf("failed to get features of image %s/%s: %w", p.name, imageName, err)
	}

	return features, nil
}

// SnapshotNames returns the snapshot names of the image, oldest first.
func (p *Pool) SnapshotNames(imageName string) ([]string, error) {
	image, err := p.open(imageName, librbd.NoSnapshot)
	if err != nil {
		return nil, err
	}
	defer image.Close()

	snaps, err := image.GetSnapshotNames()
	if err != nil {
		return nil, fmt.Errorf("failed to list snapshots of image %s/%s: %w", p.name, imageName, err)
	}

	names := make([]string, 0, len(snaps))
	for _, snap := range snaps {
		names = append(names, snap.Name)
	}

	return names, nil
}

// UsedBytes sums the allocated extents of the image between fromSnap and
// snapName. Empty snapName measures up to the image head, empty fromSnap
// from the image creation; both empty yields the full used size.
func (p *Pool) UsedBytes(imageName, snapName, fromSnap string) (int64, error) {
	openAt := librbd.NoSnapshot
	if snapName != "" {
		openAt = snapName
	}
	image, err := p.open(imageName, openAt)
	if err != nil {
		return -1, err
	}
	defer image.Close()

	size, err := image.GetSize()
	if err != nil {
		return -1, fmt.Errorf("failed to get size of image %s/%s: %w", p.name, imageName, err)
	}

	var used int64
	err = image.DiffIterate(librbd.DiffIterateConfig{
		SnapName: fromSnap,
		Offset:   0,
		Length:   size,
		Callback: func(_, length uint64, exists int, _ interface{}) int {
			if exists > 0 {
				used += int64(length)
			}

			return 0
		},
	})
	if err != nil {
		return -1, fmt.Errorf("failed to diff image %s/%s from snap %q: %w",
			p.name, imageName, fromSnap, err)
	}

	return used, nil
}

// Close destroys the IO context of the pool.
func (p *Pool) Close() {
	if p.ioctx != nil {
		p.ioctx.Destroy()
		p.ioctx = nil
	}
}
