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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeYaml(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "inventory.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	return path
}

func TestReadInventory(t *testing.T) {
	t.Parallel()
	path := writeYaml(t, `rbd_backup_list:
  rbd:
    - vm-disk-1
    - vm-disk-2
  volumes:
    - volume-0001
`)

	inventory, err := ReadInventory(path, "rbd_backup_list")
	require.NoError(t, err)
	assert.Equal(t, map[string][]string{
		"rbd":     {"vm-disk-1", "vm-disk-2"},
		"volumes": {"volume-0001"},
	}, inventory)

	_, err = ReadInventory(path, "no_such_section")
	assert.Error(t, err)

	_, err = ReadInventory(filepath.Join(t.TempDir(), "missing.yaml"), "rbd_backup_list")
	assert.Error(t, err)
}

func TestReadOpenStackMapping(t *testing.T) {
	t.Parallel()
	path := writeYaml(t, `openstack:
  distribution: helion
  volumes:
    database-volume: 0c4a8b1a-8a79-4a92-b3b9-6a713a3d22e1
    web-volume: 2b8e9e6e-1dcb-4f52-9c5d-7e6c1b2f9a44
`)

	mapping, err := ReadOpenStackMapping(path, "openstack")
	require.NoError(t, err)
	assert.Equal(t, "helion", mapping.Distribution)
	assert.Len(t, mapping.Volumes, 2)
	assert.Equal(t, "0c4a8b1a-8a79-4a92-b3b9-6a713a3d22e1", mapping.Volumes["database-volume"])

	_, err = ReadOpenStackMapping(path, "missing")
	assert.Error(t, err)
}

func TestReadOpenStackMappingEmptyVolumes(t *testing.T) {
	t.Parallel()
	path := writeYaml(t, `openstack:
  distribution: helion
  volumes: {}
`)

	_, err := ReadOpenStackMapping(path, "openstack")
	assert.Error(t, err)
}
