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

// Package record defines the ref and log record types stored in a
// reftable table, independent of how a table is laid out on disk.
package record

import "fmt"

// HashID identifies the object-name digest used by a stack. The on-disk
// format of every table in a stack is tied to one HashID; opening a stack
// with a mismatching id is a format error (see stack.Format).
type HashID byte

const (
	// SHA1 object names, 20 bytes.
	SHA1 HashID = 1
	// SHA256 object names, 32 bytes.
	SHA256 HashID = 2
)

// Size returns the object id length in bytes for this hash id, or 0 if
// the id is not recognized.
func (h HashID) Size() int {
	switch h {
	case SHA1:
		return 20
	case SHA256:
		return 32
	default:
		return 0
	}
}

func (h HashID) String() string {
	switch h {
	case SHA1:
		return "sha1"
	case SHA256:
		return "sha256"
	default:
		return fmt.Sprintf("hash-id(%d)", byte(h))
	}
}

// ObjectID is a raw object name, its length fixed by the stack's HashID.
type ObjectID []byte

// RefValueKind tags the variant held by a RefRecord.
type RefValueKind byte

const (
	// RefValueDeletion marks the ref as deleted: a tombstone shadowing
	// any value for the same name in older tables.
	RefValueDeletion RefValueKind = iota
	// RefValueSymref stores a symbolic reference target name.
	RefValueSymref
	// RefValueHash1 stores a single object id (an ordinary ref).
	RefValueHash1
	// RefValueHash2 stores an object id plus the id it peels to (an
	// annotated tag).
	RefValueHash2
)

// RefRecord is one binding of a refname to a value at a given
// update index.
type RefRecord struct {
	RefName     string
	UpdateIndex uint64
	Kind        RefValueKind
	Symref      string
	Value       ObjectID
	Target      ObjectID
}

// IsTombstone reports whether this record shadows (deletes) an older
// value rather than introducing a live one.
func (r *RefRecord) IsTombstone() bool {
	return r.Kind == RefValueDeletion
}

// Tombstone builds a deletion record for name at the given update index.
func Tombstone(name string, updateIndex uint64) RefRecord {
	return RefRecord{RefName: name, UpdateIndex: updateIndex, Kind: RefValueDeletion}
}

// LogValueKind tags the variant held by a LogRecord.
type LogValueKind byte

const (
	// LogValueDeletion marks the log entry as deleted.
	LogValueDeletion LogValueKind = iota
	// LogValueUpdate carries a populated reflog entry.
	LogValueUpdate
)

// LogRecord is one reflog entry for a ref, keyed by (RefName,
// UpdateIndex) in descending update-index order within the merged view.
type LogRecord struct {
	RefName     string
	UpdateIndex uint64
	Kind        LogValueKind

	Old     ObjectID
	New     ObjectID
	Name    string
	Email   string
	Time    int64 // seconds since epoch
	TZOffset int32 // minutes east of UTC
	Message string
}

// IsTombstone reports whether this record deletes a log entry.
func (l *LogRecord) IsTombstone() bool {
	return l.Kind == LogValueDeletion
}

// NormalizeMessage applies the log-message normalization rules of the
// stack's exact_log_message option: append a trailing newline unless
// one is already present, and reject an embedded non-trailing newline.
func NormalizeMessage(msg string, exact bool) (string, error) {
	if exact {
		return msg, nil
	}
	if msg == "" {
		return "\n", nil
	}
	for i := 0; i < len(msg)-1; i++ {
		if msg[i] == '\n' {
			return "", fmt.Errorf("record: log message contains embedded newline")
		}
	}
	if msg[len(msg)-1] != '\n' {
		return msg + "\n", nil
	}
	return msg, nil
}
