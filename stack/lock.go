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

import "os"

// fileLock is an exclusive-create lock file, spec.md §4.C: "Exclusive
// creation (create-if-not-exists) of a .lock sibling serves as the
// lock." It generalizes the teacher's ad-hoc os.OpenFile(O_EXCL|O_CREATE)
// calls scattered through add/compactRange into one scoped type whose
// Release is safe to call from any exit path, including defer.
type fileLock struct {
	path     string
	f        *os.File
	released bool
}

// tryLock attempts to acquire path exclusively. It returns (nil, false,
// nil) on contention rather than an error, so callers decide whether
// contention is fatal (explicit compaction) or tolerable (auto-compact).
func tryLock(path string, perm os.FileMode) (*fileLock, bool, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, perm)
	if os.IsExist(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return &fileLock{path: path, f: f}, true, nil
}

// Write stores body in the lock file without releasing it, used by the
// manifest lock to stage the new manifest body before the commit rename.
func (l *fileLock) Write(body []byte) error {
	_, err := l.f.Write(body)
	return err
}

// CommitRename finishes the lock's life as a manifest by renaming it
// over dest; a successful rename releases the lock implicitly (spec.md
// §4.B: "Successful rename releases the lock implicitly").
func (l *fileLock) CommitRename(dest string) error {
	if err := l.f.Close(); err != nil {
		return err
	}
	if err := os.Rename(l.path, dest); err != nil {
		return err
	}
	l.released = true
	return nil
}

// Release removes the lock file. Safe to call multiple times and after
// CommitRename (a no-op in that case). Every exit path — success, error,
// or abandonment — must call this exactly once before returning.
func (l *fileLock) Release() {
	if l == nil || l.released {
		return
	}
	l.released = true
	if l.f != nil {
		l.f.Close()
	}
	os.Remove(l.path)
}
