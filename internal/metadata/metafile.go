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

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// ErrNoHistory is returned when a document is missing or empty. Callers
// treat it as "no history": every image demotes to a full backup.
var ErrNoHistory = errors.New("no metadata history")

// Store reads and writes the named metadata documents of one cluster,
// each serialized as YAML in <dir>/<clusterName>.<docName>. Only the
// orchestrator touches the store, from a single goroutine; writes are
// atomic at document granularity so a crash leaves either the previous or
// the new content, never a torn file.
type Store struct {
	dir         string
	clusterName string
}

// NewStore creates a store rooted at dir for the named cluster.
func NewStore(dir, clusterName string) *Store {
	return &Store{dir: dir, clusterName: clusterName}
}

// Initialize makes sure every named document file exists.
func (s *Store) Initialize(docNames ...string) error {
	for _, docName := range docNames {
		path := s.path(docName)
		_, err := os.Stat(path)
		if err == nil {
			continue
		}
		if !os.IsNotExist(err) {
			return fmt.Errorf("failed to stat metadata document %s: %w", path, err)
		}
		if err = s.writeAtomic(path, nil); err != nil {
			return err
		}
	}

	return nil
}

func (s *Store) path(docName string) string {
	return filepath.Join(s.dir, fmt.Sprintf("%s.%s", s.clusterName, docName))
}

// Read unmarshals the whole document into out. Missing or empty documents
// return ErrNoHistory.
func (s *Store) Read(docName string, out interface{}) error {
	content, err := os.ReadFile(s.path(docName)) // #nosec:G304, path is store-owned.
	if os.IsNotExist(err) {
		return ErrNoHistory
	}
	if err != nil {
		return fmt.Errorf("failed to read metadata document %s: %w", docName, err)
	}
	if len(content) == 0 {
		return ErrNoHistory
	}

	if err = yaml.Unmarshal(content, out); err != nil {
		return fmt.Errorf("failed to parse metadata document %s: %w", docName, err)
	}

	return nil
}

// ReadSection decodes one top-level key of the document into out.
// ErrNoHistory is returned when the document or the key is absent.
func (s *Store) ReadSection(docName, section string, out interface{}) error {
	sections := map[string]yaml.Node{}
	if err := s.Read(docName, &sections); err != nil {
		return err
	}

	node, ok := sections[section]
	if !ok {
		return ErrNoHistory
	}
	if err := node.Decode(out); err != nil {
		return fmt.Errorf("failed to decode section %q of document %s: %w", section, docName, err)
	}

	return nil
}

// Write replaces the document with value when overwrite is set; otherwise
// the top-level keys of value are merged over the existing content.
func (s *Store) Write(docName string, value interface{}, overwrite bool) error {
	if !overwrite {
		merged := map[string]yaml.Node{}
		if err := s.Read(docName, &merged); err != nil && !errors.Is(err, ErrNoHistory) {
			return err
		}

		updates := map[string]yaml.Node{}
		content, err := yaml.Marshal(value)
		if err != nil {
			return fmt.Errorf("failed to serialize update for document %s: %w", docName, err)
		}
		if err = yaml.Unmarshal(content, &updates); err != nil {
			return fmt.Errorf("merge write into document %s needs a mapping value: %w", docName, err)
		}
		for key, node := range updates {
			merged[key] = node
		}
		value = merged
	}

	content, err := yaml.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to serialize metadata document %s: %w", docName, err)
	}

	return s.writeAtomic(s.path(docName), content)
}

// Update rewrites a single top-level key of the document.
func (s *Store) Update(docName, section string, value interface{}) error {
	return s.Write(docName, map[string]interface{}{section: value}, false)
}

// Clear truncates the document to empty.
func (s *Store) Clear(docName string) error {
	return s.writeAtomic(s.path(docName), nil)
}

// writeAtomic writes content to a temp file next to path and renames it
// into place.
func (s *Store) writeAtomic(path string, content []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file for %s: %w", path, err)
	}
	tmpName := tmp.Name()

	_, err = tmp.Write(content)
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(tmpName)

		return fmt.Errorf("failed to write temp file for %s: %w", path, err)
	}

	if err = os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)

		return fmt.Errorf("failed to replace metadata document %s: %w", path, err)
	}

	return nil
}
