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

package metadata

import "errors"

// Names of the metadata documents kept per cluster.
const (
	// DocBackupInfo holds the facts of the most recent run.
	DocBackupInfo = "meta.backup_info"
	// DocRBDInfoList holds the last known per-image descriptors.
	DocRBDInfoList = "meta.rbd_info_list"
	// DocSnapshotMaintainList maps image id to the snapshot names still
	// believed to exist in the cluster, newest last.
	DocSnapshotMaintainList = "meta.rbd_snapshot_maintain_list"
	// DocBackupCirculationList maps image id to the full-backup directory
	// names still present on disk, oldest first.
	DocBackupCirculationList = "meta.rbd_backup_circulation_list"
)

// AllDocuments lists every document the engine maintains.
var AllDocuments = []string{
	DocBackupInfo,
	DocRBDInfoList,
	DocSnapshotMaintainList,
	DocBackupCirculationList,
}

// BackupInfo is the content of DocBackupInfo.
type BackupInfo struct {
	BackupTime     string `yaml:"backup_time"`
	ClusterName    string `yaml:"cluster_name"`
	ClusterFSID    string `yaml:"cluster_fsid"`
	AvailableBytes int64  `yaml:"backup_dir_avail_bytes"`
	UsedBytes      int64  `yaml:"backup_dir_used_bytes"`

	// filled after planning
	RBDCount       int   `yaml:"total_rbd_count,omitempty"`
	TotalFullBytes int64 `yaml:"total_full_bytes,omitempty"`
	TotalUsedBytes int64 `yaml:"total_used_bytes,omitempty"`
}

// RBDInfo is the persisted form of one image descriptor, kept in
// DocRBDInfoList as an advisory snapshot of the plan.
type RBDInfo struct {
	ImageID     string `yaml:"image_id"`
	PoolName    string `yaml:"pool_name"`
	ImageName   string `yaml:"rbd_name"`
	VolumeAlias string `yaml:"volume_name,omitempty"`
	FullSize    int64  `yaml:"rbd_full_size"`
	UsedSize    int64  `yaml:"rbd_used_size"`
	Features    uint64 `yaml:"features"`
	BackupMode  string `yaml:"backup_mode"`
}

// ReadBackupInfo loads DocBackupInfo; ErrNoHistory when absent.
func (s *Store) ReadBackupInfo() (*BackupInfo, error) {
	info := &BackupInfo{}
	if err := s.Read(DocBackupInfo, info); err != nil {
		return nil, err
	}

	return info, nil
}

// WriteBackupInfo replaces DocBackupInfo.
func (s *Store) WriteBackupInfo(info *BackupInfo) error {
	return s.Write(DocBackupInfo, info, true)
}

// WriteRBDInfoList replaces DocRBDInfoList.
func (s *Store) WriteRBDInfoList(infos []RBDInfo) error {
	return s.Write(DocRBDInfoList, map[string][]RBDInfo{"rbd_list": infos}, true)
}

// ReadSnapshotMaintainList loads DocSnapshotMaintainList; a missing or
// empty document yields an empty map, never an error, so first runs see
// "no history".
func (s *Store) ReadSnapshotMaintainList() (map[string][]string, error) {
	return s.readListMap(DocSnapshotMaintainList)
}

// WriteSnapshotMaintainList replaces DocSnapshotMaintainList.
func (s *Store) WriteSnapshotMaintainList(list map[string][]string) error {
	return s.Write(DocSnapshotMaintainList, list, true)
}

// ReadBackupCirculationList loads DocBackupCirculationList; a missing or
// empty document yields an empty map.
func (s *Store) ReadBackupCirculationList() (map[string][]string, error) {
	return s.readListMap(DocBackupCirculationList)
}

// WriteBackupCirculationList replaces DocBackupCirculationList.
func (s *Store) WriteBackupCirculationList(list map[string][]string) error {
	return s.Write(DocBackupCirculationList, list, true)
}

func (s *Store) readListMap(docName string) (map[string][]string, error) {
	list := map[string][]string{}
	err := s.Read(docName, &list)
	if err != nil && !errors.Is(err, ErrNoHistory) {
		return nil, err
	}
	if list == nil {
		list = map[string][]string{}
	}

	return list, nil
}
