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

// Package table implements the immutable, sorted on-disk table file that
// backs one entry of a reftable stack's manifest, plus the reader and
// merged-view machinery used to assemble the stack's logical key-value
// view out of many such files.
//
// The stack only ever sees Writer, Reader and MergedView through these
// narrow interfaces; the on-disk record and codec details stay internal
// to this package.
package table

import (
	"fmt"

	"github.com/google/uuid"
)

const (
	magic      = "RfTb"
	formatVers = 1
	// footerSize is the fixed trailer: min(8) + max(8) + refCount(8) +
	// logOffset(8) + logCount(8) + crc32(4).
	footerSize = 8 + 8 + 8 + 8 + 8 + 4
	headerSize = 4 + 1 + 1 + 2 // magic + version + hash_id + reserved
)

// Suffix is the filename suffix every committed table file carries.
const Suffix = ".ref"

// tempSuffix marks a table still being staged under os.CreateTemp,
// deliberately distinct from Suffix: clean() only ever considers files
// ending in Suffix an orphan candidate, so a table mid-Add or
// mid-compaction (visible on disk between os.CreateTemp and its final
// rename to Suffix) can never be mistaken for one, lock file or not.
const tempSuffix = ".tmp"

// NewBasename formats the hex update-index interval and a random
// suffix that makes the name unique across concurrent writers:
// hex-encoded <min>-<max>-<random>.ref.
func NewBasename(min, max uint64) string {
	return fmt.Sprintf("%012x-%012x-%s%s", min, max, uuid.New().String(), Suffix)
}

// TempPattern returns an os.CreateTemp pattern for a table staged under
// the [min, max] interval. The "*" os.CreateTemp fills in with a random
// string, and the whole name carries tempSuffix rather than Suffix so
// clean() never treats a file still being staged as an orphan.
func TempPattern(min, max uint64) string {
	return fmt.Sprintf("%012x-%012x-*%s", min, max, tempSuffix)
}

// HasSuffix reports whether name has the table file shape clean() looks
// for.
func HasSuffix(name string) bool {
	return len(name) > len(Suffix) && name[len(name)-len(Suffix):] == Suffix
}

// ErrFormat is returned when a table's header disagrees with the
// hash id the caller expected, or the file is structurally invalid.
type ErrFormat struct {
	Reason string
}

func (e *ErrFormat) Error() string { return "table: format error: " + e.Reason }
