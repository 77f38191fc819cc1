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
	"fmt"
	"os"
	"strconv"

	"golang.org/x/sys/unix"
)

const dropCachesPath = "/proc/sys/vm/drop_caches"

// DropHostCaches asks the kernel to drop the page cache at the requested
// level (1 = pagecache, 2 = dentries and inodes, 3 = both); with
// flushBuffers set it also flushes dirty pages before and after. Needs
// root; callers treat failure as advisory.
func DropHostCaches(level int, flushBuffers bool) error {
	if level < 1 || level > 3 {
		return fmt.Errorf("drop cache level (%d) out of range 1-3", level)
	}

	if flushBuffers {
		unix.Sync()
	}

	err := os.WriteFile(dropCachesPath, []byte(strconv.Itoa(level)), 0o200)
	if err != nil {
		return fmt.Errorf("failed to drop host caches: %w", err)
	}

	if flushBuffers {
		unix.Sync()
	}

	return nil
}
