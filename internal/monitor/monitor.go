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

package monitor

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ceph/rbd-backup/internal/util/log"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	networkRxBytes = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "rbd_backup",
		Name:      "network_rx_bytes",
		Help:      "Bytes received on all interfaces since boot",
	})
	networkTxBytes = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "rbd_backup",
		Name:      "network_tx_bytes",
		Help:      "Bytes transmitted on all interfaces since boot",
	})
	diskReadBytes = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "rbd_backup",
		Name:      "disk_read_bytes",
		Help:      "Bytes read from all block devices since boot",
	})
	diskWriteBytes = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "rbd_backup",
		Name:      "disk_write_bytes",
		Help:      "Bytes written to all block devices since boot",
	})
	memAvailableBytes = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "rbd_backup",
		Name:      "memory_available_bytes",
		Help:      "MemAvailable of the host",
	})
)

// Monitor samples host I/O counters at a fixed interval while a backup run
// is active. It runs out-of-band of the task pipeline and never touches
// backup state; sampling failures only log.
type Monitor struct {
	interval   time.Duration
	recordPath string

	networkIO bool
	diskIO    bool
	memoryIO  bool

	record *os.File
	stopCh chan struct{}
	doneCh chan struct{}
}

// New builds a monitor writing its records below recordPath.
func New(intervalSeconds int, recordPath string, networkIO, diskIO, memoryIO bool) *Monitor {
	if intervalSeconds < 1 {
		intervalSeconds = 1
	}

	return &Monitor{
		interval:   time.Duration(intervalSeconds) * time.Second,
		recordPath: recordPath,
		networkIO:  networkIO,
		diskIO:     diskIO,
		memoryIO:   memoryIO,
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
	}
}

// Start registers the gauges, opens the record file and begins sampling.
func (m *Monitor) Start() error {
	if err := os.MkdirAll(m.recordPath, 0o755); err != nil {
		return fmt.Errorf("failed to create monitor record directory: %w", err)
	}

	name := fmt.Sprintf("io_record_%s.log", time.Now().Format("2006_01_02_15_04_05"))
	record, err := os.OpenFile(strings.Join([]string{m.recordPath, name}, "/"),
		os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open monitor record file: %w", err)
	}
	m.record = record

	for _, gauge := range []prometheus.Gauge{
		networkRxBytes, networkTxBytes, diskReadBytes, diskWriteBytes, memAvailableBytes,
	} {
		if err = prometheus.Register(gauge); err != nil {
			are := prometheus.AlreadyRegisteredError{}
			if !errors.As(err, &are) {
				return fmt.Errorf("failed to register monitor gauge: %w", err)
			}
		}
	}

	go m.loop()

	return nil
}

// Stop ends sampling and closes the record file.
func (m *Monitor) Stop() {
	close(m.stopCh)
	<-m.doneCh
	if m.record != nil {
		m.record.Close()
	}
}

func (m *Monitor) loop() {
	defer close(m.doneCh)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.sample()
		}
	}
}

func (m *Monitor) sample() {
	fields := []string{time.Now().Format("2006-01-02 15:04:05")}

	if m.networkIO {
		rx, tx, err := sampleNetwork()
		if err != nil {
			log.WarningLogMsg("network sample failed: %v", err)
		} else {
			networkRxBytes.Set(float64(rx))
			networkTxBytes.Set(float64(tx))
			fields = append(fields, fmt.Sprintf("net_rx=%d net_tx=%d", rx, tx))
		}
	}
	if m.diskIO {
		read, written, err := sampleDisk()
		if err != nil {
			log.WarningLogMsg("disk sample failed: %v", err)
		} else {
			diskReadBytes.Set(float64(read))
			diskWriteBytes.Set(float64(written))
			fields = append(fields, fmt.Sprintf("disk_read=%d disk_write=%d", read, written))
		}
	}
	if m.memoryIO {
		avail, err := sampleMemory()
		if err != nil {
			log.WarningLogMsg("memory sample failed: %v", err)
		} else {
			memAvailableBytes.Set(float64(avail))
			fields = append(fields, fmt.Sprintf("mem_available=%d", avail))
		}
	}

	if m.record != nil {
		if _, err := fmt.Fprintln(m.record, strings.Join(fields, " ")); err != nil {
			log.WarningLogMsg("unable to append monitor record: %v", err)
		}
	}
}

// sampleNetwork sums the receive and transmit byte counters of every
// interface in /proc/net/dev except loopback.
func sampleNetwork() (rx, tx int64, err error) {
	content, err := os.ReadFile("/proc/net/dev")
	if err != nil {
		return 0, 0, err
	}

	for _, line := range strings.Split(string(content), "\n") {
		name, counters, found := strings.Cut(line, ":")
		if !found || strings.TrimSpace(name) == "lo" {
			continue
		}
		fields := strings.Fields(counters)
		if len(fields) < 9 {
			continue
		}
		ifRx, _ := strconv.ParseInt(fields[0], 10, 64)
		ifTx, _ := strconv.ParseInt(fields[8], 10, 64)
		rx += ifRx
		tx += ifTx
	}

	return rx, tx, nil
}

// sampleDisk sums the sector counters of the whole-disk rows in
// /proc/diskstats. Sectors are 512 bytes regardless of the device block
// size.
func sampleDisk() (read, written int64, err error) {
	content, err := os.ReadFile("/proc/diskstats")
	if err != nil {
		return 0, 0, err
	}

	for _, line := range strings.Split(string(content), "\n") {
		fields := strings.Fields(line)
		if len(fields) < 10 {
			continue
		}
		name := fields[2]
		if strings.HasPrefix(name, "loop") || strings.HasPrefix(name, "ram") {
			continue
		}
		// skip partition rows, they would double the whole-disk numbers
		if strings.HasPrefix(name, "nvme") {
			if strings.Contains(name[4:], "p") {
				continue
			}
		} else if name[len(name)-1] >= '0' && name[len(name)-1] <= '9' {
			continue
		}
		sectorsRead, _ := strconv.ParseInt(fields[5], 10, 64)
		sectorsWritten, _ := strconv.ParseInt(fields[9], 10, 64)
		read += sectorsRead * 512
		written += sectorsWritten * 512
	}

	return read, written, nil
}

// sampleMemory reads MemAvailable from /proc/meminfo in bytes.
func sampleMemory() (int64, error) {
	content, err := os.ReadFile("/proc/meminfo")
	if err != nil {
		return 0, err
	}

	for _, line := range strings.Split(string(content), "\n") {
		if !strings.HasPrefix(line, "MemAvailable:") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			break
		}
		kb, err := strconv.ParseInt(fields[1], 10, 64)
		if err != nil {
			return 0, err
		}

		return kb * 1024, nil
	}

	return 0, errors.New("MemAvailable not found in /proc/meminfo")
}
