// Copyright 2019 Google Inc. All rights reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package stack

import (
	"os"
	"path/filepath"
	"strings"
)

// manifestName is the well-known manifest filename.
const manifestName = "tables.list"

func (st *Stack) manifestPath() string {
	return filepath.Join(st.dir, manifestName)
}

func (st *Stack) manifestLockPath() string {
	return st.manifestPath() + ".lock"
}

func (st *Stack) tablePath(basename string) string {
	return filepath.Join(st.dir, basename)
}

func (st *Stack) tableLockPath(basename string) string {
	return st.tablePath(basename) + ".lock"
}

// readManifest parses tables.list: newline-delimited basenames, a
// trailing empty line ignored. A missing file reads as an empty
// manifest (a fresh, never-written stack).
func readManifest(path string) ([]string, error) {
	body, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	lines := strings.Split(string(body), "\n")
	var names []string
	for _, l := range lines {
		if l != "" {
			names = append(names, l)
		}
	}
	return names, nil
}

// serializeManifest renders names back into the on-disk line format.
func serializeManifest(names []string) []byte {
	if len(names) == 0 {
		return nil
	}
	return []byte(strings.Join(names, "\n") + "\n")
}

// writeManifestLocked stages body into the already-held manifest lock,
// fsyncs it, applies the configured permissions, and renames it over
// tables.list. Rename failure leaves the lock in place for the caller
// to Release and surfaces the error.
func writeManifestLocked(lock *fileLock, dest string, body []byte, perm os.FileMode) error {
	if err := lock.Write(body); err != nil {
		return err
	}
	if err := lock.f.Sync(); err != nil {
		return err
	}
	if err := lock.f.Chmod(perm); err != nil {
		return err
	}
	return lock.CommitRename(dest)
}
