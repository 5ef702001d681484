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

	"github.com/reftablekit/reftable/table"
	"go.uber.org/zap"
)

// Clean removes table files in the stack's directory that are not
// referenced by the current manifest and have no live .lock file.
// Intended to run once after startup to reclaim debris from a crashed
// compaction; it never force-breaks a lock, so a table some other
// process might still be turning into a manifest entry is left alone.
func (st *Stack) Clean() error {
	names, err := readManifest(st.manifestPath())
	if err != nil {
		return err
	}
	live := make(map[string]bool, len(names))
	for _, n := range names {
		live[n] = true
	}

	entries, err := os.ReadDir(st.dir)
	if err != nil {
		return err
	}

	removed := 0
	for _, e := range entries {
		name := e.Name()
		if !table.HasSuffix(name) {
			continue
		}
		if live[name] {
			continue
		}
		lockPath := filepath.Join(st.dir, name+".lock")
		if _, err := os.Stat(lockPath); err == nil {
			// Another process may still be finishing a write or
			// compaction that will reference this file.
			continue
		} else if !os.IsNotExist(err) {
			return err
		}
		if err := os.Remove(filepath.Join(st.dir, name)); err != nil && !os.IsNotExist(err) {
			return err
		}
		removed++
	}

	st.log.Debug("clean", zap.String("dir", st.dir), zap.Int("removed", removed))
	return nil
}
