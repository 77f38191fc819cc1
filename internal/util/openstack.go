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

	"gopkg.in/yaml.v3"
)

// OpenStackMapping translates volume-management names to the image ids used
// inside the cluster pool. The mapping file is maintained by the deployment
// tooling; the distribution field only selects which tooling wrote it.
type OpenStackMapping struct {
	Distribution string            `yaml:"distribution,omitempty"`
	Volumes      map[string]string `yaml:"volumes"`
}

// ReadOpenStackMapping loads the named section of the OpenStack volume
// mapping file. The section holds a volumes map of volume name to image id.
func ReadOpenStackMapping(path, sectionName string) (*OpenStackMapping, error) {
	content, err := os.ReadFile(path) // #nosec:G304, path comes from the config file.
	if err != nil {
		return nil, fmt.Errorf("failed to read openstack mapping %s: %w", path, err)
	}

	sections := map[string]*OpenStackMapping{}
	if err = yaml.Unmarshal(content, &sections); err != nil {
		return nil, fmt.Errorf("failed to parse openstack mapping %s: %w", path, err)
	}

	mapping, ok := sections[sectionName]
	if !ok || mapping == nil {
		return nil, fmt.Errorf("section %q not found in openstack mapping %s", sectionName, path)
	}
	if len(mapping.Volumes) == 0 {
		return nil, fmt.Errorf("section %q of %s maps no volumes", sectionName, path)
	}

	return mapping, nil
}
