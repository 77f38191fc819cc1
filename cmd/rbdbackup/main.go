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

package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/ceph/rbd-backup/internal/backup"
	"github.com/ceph/rbd-backup/internal/monitor"
	"github.com/ceph/rbd-backup/internal/util"
	"github.com/ceph/rbd-backup/internal/util/log"

	"k8s.io/klog/v2"
)

const (
	defaultConfigFile    = "./Config/backup.conf"
	defaultConfigSection = "ceph"
)

var (
	backupConfigFile    string
	backupConfigSection string
	cephConffile        string
	cephClusterName     string
)

func init() {
	flag.StringVar(&backupConfigFile, "backup_config_file", defaultConfigFile,
		"path of the backup configuration file")
	flag.StringVar(&backupConfigSection, "backup_config_section", defaultConfigSection,
		"section of the backup configuration file to use")
	flag.StringVar(&cephConffile, "ceph_conffile", "",
		"ceph configuration file, overrides the config file value")
	flag.StringVar(&cephClusterName, "ceph_cluster_name", "",
		"ceph cluster name, overrides the config file value")
	flag.Parse()
}

// run returns the process exit code: non-zero only for errors before the
// pipeline starts (configuration or logging). Per-image failures are
// reported through logs and metadata, not the exit code.
func run() int {
	conf, err := util.NewConfig(backupConfigFile, backupConfigSection)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error, unable to read backup config: %v\n", err)

		return 1
	}

	if err = conf.ApplyLogging(); err != nil {
		fmt.Fprintf(os.Stderr, "Error, unable to initialize logging: %v\n", err)

		return 1
	}
	defer klog.Flush()

	log.DefaultLog("rbd backup starting, config %s section %s",
		backupConfigFile, backupConfigSection)

	if conf.MonitorEnabled {
		mon := monitor.New(conf.MonitorInterval, conf.MonitorRecord,
			conf.MonitorNetworkIO, conf.MonitorDiskIO, conf.MonitorMemoryIO)
		if err = mon.Start(); err != nil {
			log.WarningLogMsg("monitor not started: %v", err)
		} else {
			defer mon.Stop()
		}
	}

	engine := backup.NewEngine(conf, cephClusterName, cephConffile)
	if err = engine.Run(context.Background()); err != nil {
		log.ErrorLogMsg("rbd backup pipeline stopped: %v", err)
	}

	return 0
}

func main() {
	os.Exit(run())
}
