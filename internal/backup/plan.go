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
	"sort"
	"time"

	"github.com/ceph/rbd-backup/internal/metadata"
	"github.com/ceph/rbd-backup/internal/util"
	"github.com/ceph/rbd-backup/internal/util/log"
)

// isoWeekday maps time.Weekday onto ISO numbering, 1 = Monday ... 7 = Sunday.
func isoWeekday(t time.Time) int {
	wd := int(t.Weekday())
	if wd == 0 {
		wd = 7
	}

	return wd
}

// inventoryEntry is one (pool, image) pair to consider for backup.
type inventoryEntry struct {
	poolName    string
	imageName   string
	volumeAlias string
}

// plan is stage 2: choose the backup mode for today, build the per-image
// descriptor list, verify disk space and persist the plan. A false return
// without error means there is nothing to do today.
func (e *Engine) plan(ctx context.Context) (bool, error) {
	log.UsefulLog(ctx, "(2) plan backup")

	weekday := isoWeekday(time.Now())
	switch {
	case e.conf.FullWeekdays[weekday]:
		e.backupType = ModeFull
		log.DefaultLog("today (weekday %d) is a full backup day", weekday)
	case e.conf.IncrWeekdays[weekday]:
		e.backupType = ModeDiff
		log.DefaultLog("today (weekday %d) is an incremental backup day", weekday)
	default:
		log.DefaultLog("no backup triggered on weekday %d", weekday)

		return false, nil
	}

	var err error
	if e.snapList, err = e.store.ReadSnapshotMaintainList(); err != nil {
		return false, err
	}
	if e.circList, err = e.store.ReadBackupCirculationList(); err != nil {
		return false, err
	}

	// without global history every incremental would be unanchored
	if e.backupType == ModeDiff && (len(e.snapList) == 0 || len(e.circList) == 0) {
		log.WarningLog(ctx, "no snapshot or backup history found, overriding backup type to full")
		e.backupType = ModeFull
	}

	entries, err := e.readInventory(ctx)
	if err != nil {
		return false, err
	}

	for _, entry := range entries {
		img := e.buildDescriptor(ctx, entry)
		if img == nil {
			continue
		}
		e.images = append(e.images, img)
		e.totalFullBytes += img.FullSize
	}

	if len(e.images) == 0 {
		log.DefaultLog("no rbd image to backup")

		return false, nil
	}

	avail, err := e.dir.AvailableBytes(ctx)
	if err != nil {
		return false, err
	}
	if e.totalFullBytes > avail {
		e.writeRunTotals(ctx)

		return false, fmt.Errorf(
			"not enough space for backup: need %d bytes, %d bytes available (%d bytes short)",
			e.totalFullBytes, avail, e.totalFullBytes-avail)
	}

	e.sortImages(func(img *ImageDescriptor) int64 { return img.FullSize })

	infos := make([]metadata.RBDInfo, 0, len(e.images))
	for _, img := range e.images {
		infos = append(infos, metadata.RBDInfo{
			ImageID:     img.ImageID,
			PoolName:    img.PoolName,
			ImageName:   img.ImageName,
			VolumeAlias: img.VolumeAlias,
			FullSize:    img.FullSize,
			UsedSize:    img.UsedSize,
			Features:    img.Features,
			BackupMode:  img.Mode.String(),
		})
	}
	if err = e.store.WriteRBDInfoList(infos); err != nil {
		log.ErrorLog(ctx, "unable to persist rbd info list: %v", err)
	}
	e.writeRunTotals(ctx)

	log.DefaultLog("planned %d rbd image(s), total full size %d bytes",
		len(e.images), e.totalFullBytes)

	return true, nil
}

// readInventory resolves the images to back up, either from the static
// inventory file or through the OpenStack volume mapping.
func (e *Engine) readInventory(ctx context.Context) ([]inventoryEntry, error) {
	entries := []inventoryEntry{}

	if e.conf.MappingEnabled {
		mapping, err := util.ReadOpenStackMapping(
			e.conf.OpenStackYamlFilepath, e.conf.OpenStackSectionName)
		if err != nil {
			return nil, err
		}
		log.UsefulLog(ctx, "mapping %d openstack volume(s) into pool %s",
			len(mapping.Volumes), e.conf.OpenStackPoolName)

		names := make([]string, 0, len(mapping.Volumes))
		for name := range mapping.Volumes {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			entries = append(entries, inventoryEntry{
				poolName:    e.conf.OpenStackPoolName,
				imageName:   mapping.Volumes[name],
				volumeAlias: name,
			})
		}

		return entries, nil
	}

	inventory, err := util.ReadInventory(
		e.conf.BackupYamlFilepath, e.conf.BackupYamlSectionName)
	if err != nil {
		return nil, err
	}

	poolNames := make([]string, 0, len(inventory))
	for poolName := range inventory {
		poolNames = append(poolNames, poolName)
	}
	sort.Strings(poolNames)
	for _, poolName := range poolNames {
		for _, imageName := range inventory[poolName] {
			entries = append(entries, inventoryEntry{
				poolName:  poolName,
				imageName: imageName,
			})
		}
	}

	return entries, nil
}

// buildDescriptor queries the cluster for one inventory entry. A nil
// return excludes the image from this run.
func (e *Engine) buildDescriptor(ctx context.Context, entry inventoryEntry) *ImageDescriptor {
	if err := util.ValidateName("pool", entry.poolName); err != nil {
		log.ErrorLog(ctx, "skipping inventory entry: %v", err)

		return nil
	}
	if err := util.ValidateName("image", entry.imageName); err != nil {
		log.ErrorLog(ctx, "skipping inventory entry: %v", err)

		return nil
	}

	pool, err := e.pool(entry.poolName)
	if err != nil {
		log.ErrorLog(ctx, "skipping %s/%s: %v", entry.poolName, entry.imageName, err)

		return nil
	}

	fullSize, err := pool.ImageSize(entry.imageName)
	if err != nil {
		log.ErrorLog(ctx, "skipping %s/%s: %v", entry.poolName, entry.imageName, err)

		return nil
	}
	snaps, err := pool.SnapshotNames(entry.imageName)
	if err != nil {
		log.ErrorLog(ctx, "skipping %s/%s: %v", entry.poolName, entry.imageName, err)

		return nil
	}
	features, err := pool.ImageFeatures(entry.imageName)
	if err != nil {
		log.WarningLog(ctx, "unable to read features of %s/%s: %v",
			entry.poolName, entry.imageName, err)
	}

	img := &ImageDescriptor{
		ImageID:          ImageID(e.clusterName, entry.poolName, entry.imageName),
		PoolName:         entry.poolName,
		ImageName:        entry.imageName,
		VolumeAlias:      entry.volumeAlias,
		FullSize:         fullSize,
		Features:         features,
		ClusterSnapshots: snaps,
		Mode:             e.backupType,
	}

	if img.Mode == ModeDiff {
		e.checkDiffAnchors(ctx, img)
	}

	return img
}

// checkDiffAnchors verifies that the image still has the previous snapshot
// in the cluster and the previous full backup on disk; on any mismatch the
// image demotes to a full backup.
func (e *Engine) checkDiffAnchors(ctx context.Context, img *ImageDescriptor) {
	snaps := e.snapList[img.ImageID]
	if len(snaps) == 0 {
		log.WarningLog(ctx, "%s has no snapshot history, falling back to full backup", img)
		img.Mode = ModeFull

		return
	}
	prevSnap := snaps[len(snaps)-1]

	fulls := e.circList[img.ImageID]
	if len(fulls) == 0 {
		log.WarningLog(ctx, "%s has no full backup on record, falling back to full backup", img)
		img.Mode = ModeFull

		return
	}
	prevFull := fulls[len(fulls)-1]

	if !img.hasClusterSnapshot(prevSnap) {
		log.WarningLog(ctx, "snapshot %s of %s is gone from the cluster, falling back to full backup",
			prevSnap, img)
		img.Mode = ModeFull

		return
	}

	if !e.dir.FindDir(e.clusterName, img.PoolName, img.ImageName, prevFull) {
		log.WarningLog(ctx, "full backup directory %s of %s is gone, falling back to full backup",
			prevFull, img)
		img.Mode = ModeFull

		return
	}

	img.PrevSnapshot = prevSnap
	img.PrevFullBackup = prevFull
}

// sortImages orders the active descriptors by the keyed size following the
// tri-value small-size-first policy.
func (e *Engine) sortImages(key func(*ImageDescriptor) int64) {
	switch e.conf.SortOrder() {
	case util.OrderAscending:
		sort.SliceStable(e.images, func(i, j int) bool {
			return key(e.images[i]) < key(e.images[j])
		})
	case util.OrderDescending:
		sort.SliceStable(e.images, func(i, j int) bool {
			return key(e.images[i]) > key(e.images[j])
		})
	case util.OrderNatural:
	}
}

// writeRunTotals refreshes the planning totals of the backup_info document.
func (e *Engine) writeRunTotals(ctx context.Context) {
	info, err := e.store.ReadBackupInfo()
	if err != nil {
		log.ErrorLog(ctx, "unable to read backup info: %v", err)
		info = &metadata.BackupInfo{
			BackupTime:  e.backupTime,
			ClusterName: e.clusterName,
		}
	}

	info.RBDCount = len(e.images)
	info.TotalFullBytes = e.totalFullBytes
	info.TotalUsedBytes = e.totalUsedBytes
	if err = e.store.WriteBackupInfo(info); err != nil {
		log.ErrorLog(ctx, "unable to persist backup info: %v", err)
	}
}
