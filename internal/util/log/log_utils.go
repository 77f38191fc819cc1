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

package log

import (
	"compress/gzip"
	"fmt"
	"os"
	"strings"
)

// GzipLogFile convert and replace log file from text format to gzip
// compressed format.
func GzipLogFile(pathToFile string) error {
	// Get all the bytes from the file.
	content, err := os.ReadFile(pathToFile) // #nosec:G304, file inclusion via variable.
	if err != nil {
		return err
	}

	// Replace .log extension with .gz extension.
	newExt := strings.ReplaceAll(pathToFile, ".log", ".gz")

	// Open file for writing.
	gf, err := os.OpenFile(newExt, os.O_CREATE|os.O_RDWR|os.O_TRUNC, 0o644) // #nosec:G304,G302, file inclusion & perms
	if err != nil {
		return err
	}
	defer gf.Close() // #nosec:G307, error on close is not critical here

	// Write compressed data.
	w := gzip.NewWriter(gf)
	defer w.Close()
	if _, err = w.Write(content); err != nil {
		os.Remove(newExt) // #nosec:G104, not important error to handle

		return err
	}

	return os.Remove(pathToFile)
}

// RotateLogFile compresses pathToFile into a numbered backup when its size
// reached maxBytes, shifting older backups up and deleting those beyond
// backupCount. A zero maxBytes or backupCount disables rotation.
func RotateLogFile(pathToFile string, maxBytes int64, backupCount int) error {
	if maxBytes == 0 || backupCount == 0 {
		return nil
	}

	fi, err := os.Stat(pathToFile)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	if fi.Size() < maxBytes {
		return nil
	}

	// drop the oldest backup, shift the rest up by one
	oldest := backupName(pathToFile, backupCount)
	if _, err = os.Stat(oldest); err == nil {
		if err = os.Remove(oldest); err != nil {
			return err
		}
	}
	for i := backupCount - 1; i >= 1; i-- {
		name := backupName(pathToFile, i)
		if _, err = os.Stat(name); err != nil {
			continue
		}
		if err = os.Rename(name, backupName(pathToFile, i+1)); err != nil {
			return err
		}
	}

	// GzipLogFile only recognises the .log extension; rotate other
	// names uncompressed.
	if !strings.HasSuffix(pathToFile, ".log") {
		return os.Rename(pathToFile, backupName(pathToFile, 1))
	}

	if err = GzipLogFile(pathToFile); err != nil {
		return err
	}

	compressed := strings.ReplaceAll(pathToFile, ".log", ".gz")

	return os.Rename(compressed, backupName(pathToFile, 1))
}

func backupName(pathToFile string, n int) string {
	if !strings.HasSuffix(pathToFile, ".log") {
		return fmt.Sprintf("%s.%d", pathToFile, n)
	}

	return fmt.Sprintf("%s.%d.gz", strings.TrimSuffix(pathToFile, ".log"), n)
}
