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
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/ceph/rbd-backup/internal/util/log"

	"gopkg.in/ini.v1"
	"k8s.io/klog/v2"
)

// SortOrder is the tri-value of backup_small_size_first.
type SortOrder int

const (
	// OrderAscending sorts the backup list small size first.
	OrderAscending SortOrder = iota
	// OrderDescending sorts the backup list large size first.
	OrderDescending
	// OrderNatural keeps the backup list in inventory order.
	OrderNatural
)

// Config holds all recognised options of the backup configuration file.
type Config struct {
	// logging
	LogFile        string
	LogPath        string
	LogLevel       int
	LogMaxBytes    int64
	LogFormatType  int
	LogBackupCount int
	LogDelay       bool

	// ceph cluster
	CephConffile    string
	CephClusterName string

	// backup
	BackupPath            string
	BackupRetainCount     int
	BackupYamlFilepath    string
	BackupYamlSectionName string
	WorkerCount           int
	SmallSizeFirst        string
	FullWeekdays          map[int]bool
	IncrWeekdays          map[int]bool

	// snapshot
	SnapshotRetainCount int
	SnapshotProtect     bool

	// monitor (optional)
	MonitorEnabled   bool
	MonitorInterval  int
	MonitorRecord    string
	MonitorNetworkIO bool
	MonitorDiskIO    bool
	MonitorMemoryIO  bool

	// cache (optional)
	CacheFlushEnabled bool
	DropCacheLevel    int
	FlushFSBuffer     bool

	// openstack mapping (optional)
	MappingEnabled        bool
	OpenStackYamlFilepath string
	OpenStackSectionName  string
	OpenStackDistribution string
	OpenStackPoolName     string
}

// NewConfig parses the INI file at path and reads the named section into a
// Config. Required sections missing an option fail; the monitor, cache and
// openstack groups are optional and leave their Enabled flag unset when
// incomplete.
func NewConfig(path, sectionName string) (*Config, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("backup config file not found: %w", err)
	}

	file, err := ini.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read backup config file %s: %w", path, err)
	}

	section, err := file.GetSection(sectionName)
	if err != nil {
		return nil, fmt.Errorf("config section %q not found in %s: %w", sectionName, path, err)
	}

	conf := &Config{}
	if err = conf.readLogSection(section); err != nil {
		return nil, err
	}
	if err = conf.readCephSection(section); err != nil {
		return nil, err
	}
	if err = conf.readBackupSection(section); err != nil {
		return nil, err
	}
	if err = conf.readSnapshotSection(section); err != nil {
		return nil, err
	}
	conf.readMonitorSection(section)
	conf.readCacheSection(section)
	conf.readOpenStackSection(section)

	return conf, nil
}

func getOption(section *ini.Section, name string) (string, error) {
	if !section.HasKey(name) {
		return "", fmt.Errorf("missing option %q in section %q", name, section.Name())
	}

	return section.Key(name).String(), nil
}

func getIntOption(section *ini.Section, name string) (int, error) {
	value, err := getOption(section, name)
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("option %q is not an integer: %w", name, err)
	}

	return n, nil
}

func getBoolOption(section *ini.Section, name string) (bool, error) {
	value, err := getOption(section, name)
	if err != nil {
		return false, err
	}

	return strings.EqualFold(value, "true"), nil
}

func (conf *Config) readLogSection(section *ini.Section) error {
	var err error
	if conf.LogFile, err = getOption(section, "log_file"); err != nil {
		return err
	}
	if conf.LogPath, err = getOption(section, "log_path"); err != nil {
		return err
	}
	if !filepath.IsAbs(conf.LogPath) {
		return fmt.Errorf("log_path (%q) is not an absolute path", conf.LogPath)
	}
	if conf.LogLevel, err = getIntOption(section, "log_level"); err != nil {
		return err
	}
	maxBytes, err := getIntOption(section, "log_max_bytes")
	if err != nil {
		return err
	}
	conf.LogMaxBytes = int64(maxBytes)
	if conf.LogFormatType, err = getIntOption(section, "log_format_type"); err != nil {
		return err
	}
	if conf.LogFormatType < 0 || conf.LogFormatType > 3 {
		return fmt.Errorf("log_format_type (%d) out of range 0-3", conf.LogFormatType)
	}
	if conf.LogBackupCount, err = getIntOption(section, "log_backup_count"); err != nil {
		return err
	}
	conf.LogDelay, err = getBoolOption(section, "log_delay")

	return err
}

func (conf *Config) readCephSection(section *ini.Section) error {
	var err error
	if conf.CephConffile, err = getOption(section, "ceph_conffile"); err != nil {
		return err
	}
	conf.CephClusterName, err = getOption(section, "ceph_cluster_name")

	return err
}

func (conf *Config) readBackupSection(section *ini.Section) error {
	var err error
	if conf.BackupPath, err = getOption(section, "backup_path"); err != nil {
		return err
	}
	if conf.BackupRetainCount, err = getIntOption(section, "backup_retain_count"); err != nil {
		return err
	}
	if conf.BackupRetainCount < 1 {
		return fmt.Errorf("backup_retain_count (%d) must be at least 1", conf.BackupRetainCount)
	}
	if conf.BackupYamlFilepath, err = getOption(section, "backup_yaml_filepath"); err != nil {
		return err
	}
	if conf.BackupYamlSectionName, err = getOption(section, "backup_yaml_section_name"); err != nil {
		return err
	}
	if conf.WorkerCount, err = getIntOption(section, "backup_concurrent_worker_count"); err != nil {
		return err
	}
	if conf.WorkerCount < 1 {
		return fmt.Errorf("backup_concurrent_worker_count (%d) must be at least 1", conf.WorkerCount)
	}
	if conf.SmallSizeFirst, err = getOption(section, "backup_small_size_first"); err != nil {
		return err
	}
	full, err := getOption(section, "backup_full_weekday")
	if err != nil {
		return err
	}
	if conf.FullWeekdays, err = ParseWeekdays(full); err != nil {
		return fmt.Errorf("backup_full_weekday: %w", err)
	}
	incr, err := getOption(section, "backup_incr_weekday")
	if err != nil {
		return err
	}
	if conf.IncrWeekdays, err = ParseWeekdays(incr); err != nil {
		return fmt.Errorf("backup_incr_weekday: %w", err)
	}

	return nil
}

func (conf *Config) readSnapshotSection(section *ini.Section) error {
	var err error
	if conf.SnapshotRetainCount, err = getIntOption(section, "snapshot_retain_count"); err != nil {
		return err
	}
	if conf.SnapshotRetainCount < 0 {
		return fmt.Errorf("snapshot_retain_count (%d) must not be negative", conf.SnapshotRetainCount)
	}
	conf.SnapshotProtect, err = getBoolOption(section, "snapshot_protect")

	return err
}

func (conf *Config) readMonitorSection(section *ini.Section) {
	var err error
	if conf.MonitorInterval, err = getIntOption(section, "monitor_interval"); err != nil {
		return
	}
	if conf.MonitorRecord, err = getOption(section, "monitor_record_path"); err != nil {
		return
	}
	if conf.MonitorNetworkIO, err = getBoolOption(section, "monitor_network_io"); err != nil {
		return
	}
	if conf.MonitorDiskIO, err = getBoolOption(section, "monitor_disk_io"); err != nil {
		return
	}
	if conf.MonitorMemoryIO, err = getBoolOption(section, "monitor_memory_io"); err != nil {
		return
	}
	conf.MonitorEnabled = true
}

func (conf *Config) readCacheSection(section *ini.Section) {
	var err error
	if conf.DropCacheLevel, err = getIntOption(section, "drop_cache_level"); err != nil {
		return
	}
	if conf.DropCacheLevel < 1 || conf.DropCacheLevel > 3 {
		return
	}
	if conf.FlushFSBuffer, err = getBoolOption(section, "flush_file_system_buffer"); err != nil {
		return
	}
	conf.CacheFlushEnabled = true
}

func (conf *Config) readOpenStackSection(section *ini.Section) {
	enable, err := getOption(section, "openstack_enable_mapping")
	if err != nil || !strings.EqualFold(enable, "true") {
		return
	}
	if conf.OpenStackYamlFilepath, err = getOption(section, "openstack_yaml_filepath"); err != nil {
		return
	}
	if conf.OpenStackSectionName, err = getOption(section, "openstack_section_name"); err != nil {
		return
	}
	if conf.OpenStackDistribution, err = getOption(section, "openstack_distribution"); err != nil {
		return
	}
	if conf.OpenStackPoolName, err = getOption(section, "openstack_pool_name"); err != nil {
		return
	}
	conf.MappingEnabled = true
}

// ParseWeekdays parses a comma-separated list of ISO weekday numbers
// (1 = Monday ... 7 = Sunday) into a set.
func ParseWeekdays(value string) (map[int]bool, error) {
	days := map[int]bool{}
	for _, field := range strings.Split(value, ",") {
		field = strings.TrimSpace(field)
		if field == "" {
			continue
		}
		day, err := strconv.Atoi(field)
		if err != nil {
			return nil, fmt.Errorf("weekday %q is not a number: %w", field, err)
		}
		if day < 1 || day > 7 {
			return nil, fmt.Errorf("weekday %d out of range 1-7", day)
		}
		days[day] = true
	}

	return days, nil
}

// SortOrder maps the tri-value backup_small_size_first option: "True" sorts
// ascending, "False" descending, anything else keeps natural order.
func (conf *Config) SortOrder() SortOrder {
	switch conf.SmallSizeFirst {
	case "True":
		return OrderAscending
	case "False":
		return OrderDescending
	default:
		return OrderNatural
	}
}

// ApplyLogging rotates the previous log file if it outgrew log_max_bytes and
// points klog at the configured log file. Must run before the first log call.
func (conf *Config) ApplyLogging() error {
	if err := os.MkdirAll(conf.LogPath, 0o755); err != nil {
		return fmt.Errorf("failed to create log directory %s: %w", conf.LogPath, err)
	}

	logFile := filepath.Join(conf.LogPath, conf.LogFile)
	if err := log.RotateLogFile(logFile, conf.LogMaxBytes, conf.LogBackupCount); err != nil {
		return fmt.Errorf("failed to rotate log file %s: %w", logFile, err)
	}

	fs := flag.NewFlagSet("klog", flag.ContinueOnError)
	klog.InitFlags(fs)
	settings := map[string]string{
		"logtostderr":       "false",
		"alsologtostderr":   "false",
		"log_file":          logFile,
		"log_file_max_size": strconv.FormatInt(maxMegabytes(conf.LogMaxBytes), 10),
		"v":                 strconv.Itoa(conf.LogLevel),
	}
	// format types 2 and 3 drop the klog header decoration
	if conf.LogFormatType >= 2 {
		settings["skip_headers"] = "true"
	}
	for name, value := range settings {
		if err := fs.Set(name, value); err != nil {
			return fmt.Errorf("failed to set log flag %s: %w", name, err)
		}
	}

	return nil
}

func maxMegabytes(maxBytes int64) int64 {
	mb := maxBytes / (1024 * 1024)
	if mb < 1 {
		mb = 1
	}

	return mb
}
