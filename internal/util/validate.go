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
	"regexp"
)

// image, pool and snapshot names end up as argv tokens of external rbd
// commands; restrict them to a conservative token shape.
var namePattern = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)

// ValidateName rejects names that are empty or contain whitespace or shell
// metacharacters.
func ValidateName(kind, name string) error {
	if name == "" {
		return fmt.Errorf("%s name is empty", kind)
	}
	if !namePattern.MatchString(name) {
		return fmt.Errorf("%s name (%q) contains characters outside [A-Za-z0-9._-]", kind, name)
	}

	return nil
}
