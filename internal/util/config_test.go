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

package util

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const baseConfig = `[ceph]
log_file = rbd_backup.log
log_path = /var/log/rbd_backup
log_level = 2
log_max_bytes = 20971520
log_format_type = 0
log_backup_count = 5
log_delay = False

ceph_conffile = /etc/ceph/ceph.conf
ceph_cluster_name = ceph

backup_path = /mnt/backup
backup_retain_count = 2
backup_yaml_filepath = /etc/rbd_backup/backup_list.yaml
backup_yaml_section_name = rbd_backup_list
backup_concurrent_worker_count = 4
backup_small_size_first = True
backup_full_weekday = 6,7
backup_incr_weekday = 1,2,3,4,5

snapshot_retain_count = 2
snapshot_protect = False
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "backup.conf")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	return path
}

func TestNewConfig(t *testing.T) {
	t.Parallel()
	conf, err := NewConfig(writeConfig(t, baseConfig), "ceph")
	require.NoError(t, err)

	assert.Equal(t, "rbd_backup.log", conf.LogFile)
	assert.Equal(t, int64(20971520), conf.LogMaxBytes)
	assert.Equal(t, "ceph", conf.CephClusterName)
	assert.Equal(t, "/mnt/backup", conf.BackupPath)
	assert.Equal(t, 2, conf.BackupRetainCount)
	assert.Equal(t, 4, conf.WorkerCount)
	assert.Equal(t, 2, conf.SnapshotRetainCount)
	assert.False(t, conf.SnapshotProtect)
	assert.Equal(t, map[int]bool{6: true, 7: true}, conf.FullWeekdays)
	assert.Equal(t, map[int]bool{1: true, 2: true, 3: true, 4: true, 5: true},
		conf.IncrWeekdays)

	// optional groups absent
	assert.False(t, conf.MonitorEnabled)
	assert.False(t, conf.CacheFlushEnabled)
	assert.False(t, conf.MappingEnabled)
}

func TestNewConfigErrors(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		mutate  func(string) string
		section string
	}{
		{
			name:    "missing section",
			mutate:  func(c string) string { return c },
			section: "other",
		},
		{
			name: "missing required option",
			mutate: func(c string) string {
				return removeLine(c, "backup_path")
			},
			section: "ceph",
		},
		{
			name: "relative log path",
			mutate: func(c string) string {
				return replaceLine(c, "log_path", "log_path = logs")
			},
			section: "ceph",
		},
		{
			name: "weekday out of range",
			mutate: func(c string) string {
				return replaceLine(c, "backup_full_weekday", "backup_full_weekday = 0,8")
			},
			section: "ceph",
		},
		{
			name: "zero retain count",
			mutate: func(c string) string {
				return replaceLine(c, "backup_retain_count", "backup_retain_count = 0")
			},
			section: "ceph",
		},
		{
			name: "zero workers",
			mutate: func(c string) string {
				return replaceLine(c, "backup_concurrent_worker_count",
					"backup_concurrent_worker_count = 0")
			},
			section: "ceph",
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := NewConfig(writeConfig(t, tt.mutate(baseConfig)), tt.section)
			assert.Error(t, err)
		})
	}
}

func TestNewConfigOptionalSections(t *testing.T) {
	t.Parallel()
	content := baseConfig + `
monitor_interval = 5
monitor_record_path = /var/log/rbd_backup/monitor
monitor_network_io = True
monitor_disk_io = True
monitor_memory_io = False

drop_cache_level = 1
flush_file_system_buffer = True

openstack_enable_mapping = True
openstack_yaml_filepath = /etc/rbd_backup/openstack.yaml
openstack_section_name = openstack
openstack_distribution = helion
openstack_pool_name = volumes
`
	conf, err := NewConfig(writeConfig(t, content), "ceph")
	require.NoError(t, err)

	assert.True(t, conf.MonitorEnabled)
	assert.Equal(t, 5, conf.MonitorInterval)
	assert.True(t, conf.MonitorNetworkIO)
	assert.False(t, conf.MonitorMemoryIO)

	assert.True(t, conf.CacheFlushEnabled)
	assert.Equal(t, 1, conf.DropCacheLevel)
	assert.True(t, conf.FlushFSBuffer)

	assert.True(t, conf.MappingEnabled)
	assert.Equal(t, "volumes", conf.OpenStackPoolName)
}

func TestSortOrder(t *testing.T) {
	t.Parallel()
	tests := []struct {
		value string
		want  SortOrder
	}{
		{"True", OrderAscending},
		{"False", OrderDescending},
		{"true", OrderNatural},
		{"anything", OrderNatural},
		{"", OrderNatural},
	}
	for _, tt := range tests {
		conf := &Config{SmallSizeFirst: tt.value}
		if got := conf.SortOrder(); got != tt.want {
			t.Errorf("SortOrder(%q) = %v, want %v", tt.value, got, tt.want)
		}
	}
}

func TestParseWeekdays(t *testing.T) {
	t.Parallel()
	days, err := ParseWeekdays("1, 3,7")
	require.NoError(t, err)
	assert.Equal(t, map[int]bool{1: true, 3: true, 7: true}, days)

	_, err = ParseWeekdays("monday")
	assert.Error(t, err)
}

func removeLine(content, prefix string) string {
	return replaceLine(content, prefix, "")
}

func replaceLine(content, prefix, replacement string) string {
	out := []string{}
	for _, line := range strings.Split(content, "\n") {
		if strings.HasPrefix(line, prefix) {
			if replacement != "" {
				out = append(out, replacement)
			}

			continue
		}
		out = append(out, line)
	}

	return strings.Join(out, "\n")
}
