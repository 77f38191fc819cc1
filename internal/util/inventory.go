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

// ReadInventory loads the static backup inventory from the YAML file at
// path and returns the pool to image-names mapping stored under the named
// top-level section.
func ReadInventory(path, sectionName string) (map[string][]string, error) {
	content, err := os.ReadFile(path) // #nosec:G304, path comes from the config file.
	if err != nil {
		return nil, fmt.Errorf("failed to read backup inventory %s: %w", path, err)
	}

	sections := map[string]map[string][]string{}
	if err = yaml.Unmarshal(content, &sections); err != nil {
		return nil, fmt.Errorf("failed to parse backup inventory %s: %w", path, err)
	}

	inventory, ok := sections[sectionName]
	if !ok {
		return nil, fmt.Errorf("section %q not found in backup inventory %s", sectionName, path)
	}

	return inventory, nil
}
