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

// Package stack implements the transactional stack of immutable
// reference tables described by this repository's specification: the
// component that owns the ordered manifest of table files, coordinates
// concurrent multi-process writers via filesystem locks, commits new
// tables atomically, reloads the view when another process has advanced
// it, chooses which tables to compact, performs the merge safely under
// contention, and cleans up orphaned files after unclean shutdown.
//
// It is a direct generalization of hanwen-flow-reftable's Stack: same
// tables.list manifest, same .lock-file protocol, same geometric
// compaction heuristic, widened to support multiple hash ids, log
// expiry, asymmetric auto-compaction lock tolerance, and a long-form
// Addition transaction alongside the one-shot Add.
package stack

import (
	"errors"
	"os"

	"github.com/reftablekit/reftable/record"
	"github.com/reftablekit/reftable/table"
	"go.uber.org/zap"
)

// Stack is an auto-compacting stack of reftables backed by a directory.
type Stack struct {
	dir  string
	opts Options

	readers []*table.Reader
	merged  *table.MergedView

	nextUpdateIndex uint64

	Stats CompactionStats

	log *zap.Logger
}

// Open returns a stack handle over dir, creating it if absent and
// loading whatever manifest already exists there.
func Open(dir string, opts Options) (*Stack, error) {
	if opts.HashID == 0 {
		opts.HashID = record.SHA1
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	st := &Stack{
		dir:  dir,
		opts: opts,
		log:  opts.logger(),
	}

	if err := st.reload(); err != nil {
		return nil, err
	}
	return st, nil
}

// Dir returns the stack's backing directory.
func (st *Stack) Dir() string { return st.dir }

// Close releases every open reader. The stack handle must not be used
// afterward.
func (st *Stack) Close() error {
	var firstErr error
	for _, r := range st.readers {
		if err := r.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	st.readers = nil
	st.merged = nil
	return firstErr
}

// Merged returns the current merged view. Only valid until the next
// write on this handle, since a write may trigger a reload that
// replaces readers out from under it.
func (st *Stack) Merged() *table.MergedView { return st.merged }

// NextUpdateIndex returns the update index at which the next Add's
// records must start, spec.md §6.
func (st *Stack) NextUpdateIndex() uint64 { return st.nextUpdateIndex }

// CompactionStats returns the counters accumulated so far.
func (st *Stack) CompactionStats() CompactionStats { return st.Stats }

// TableNames returns the manifest's current table basenames, oldest
// first.
func (st *Stack) TableNames() []string { return st.readerNames() }

// readerNames returns the manifest order's open readers' basenames.
func (st *Stack) readerNames() []string {
	names := make([]string, len(st.readers))
	for i, r := range st.readers {
		names[i] = r.Name()
	}
	return names
}

// upToDate reports whether the in-memory readers still reflect the
// on-disk manifest, spec.md §4.E step 1 / §5's optimistic-concurrency
// framing.
func (st *Stack) upToDate() (bool, error) {
	names, err := readManifest(st.manifestPath())
	if err != nil {
		return false, err
	}
	cur := st.readerNames()
	if len(names) != len(cur) {
		return false, nil
	}
	for i := range names {
		if names[i] != cur[i] {
			return false, nil
		}
	}
	return true, nil
}

// reload re-aligns the in-memory readers with the on-disk manifest
// (spec.md §4.D). Readers whose basename survives in the new manifest
// are reused; readers for basenames that disappeared are closed only
// after the new slice has been built and fully opened, so a reader that
// is still referenced never closes out from under a caller holding the
// old Merged view transiently — though callers must still treat Merged()
// as invalid across a reload, per its doc comment.
func (st *Stack) reload() error {
	names, err := readManifest(st.manifestPath())
	if err != nil {
		return err
	}

	cur := make(map[string]*table.Reader, len(st.readers))
	for _, r := range st.readers {
		cur[r.Name()] = r
	}

	newReaders := make([]*table.Reader, 0, len(names))
	var freshlyOpened []*table.Reader
	for _, name := range names {
		if r, found := cur[name]; found {
			newReaders = append(newReaders, r)
			continue
		}
		r, err := table.NewReader(st.tablePath(name), st.opts.HashID)
		if err != nil {
			// Undo the opens made so far this call; the old reader
			// set remains authoritative on failure.
			for _, fr := range freshlyOpened {
				fr.Close()
			}
			var fe *table.ErrFormat
			if errors.As(err, &fe) {
				return Format.Wrap(err)
			}
			return err
		}
		newReaders = append(newReaders, r)
		freshlyOpened = append(freshlyOpened, r)
	}

	// Close readers that no longer belong to the manifest. Never
	// close one that was carried over into newReaders.
	kept := make(map[string]bool, len(newReaders))
	for _, r := range newReaders {
		kept[r.Name()] = true
	}
	for _, r := range st.readers {
		if !kept[r.Name()] {
			r.Close()
		}
	}

	st.readers = newReaders
	st.merged = table.NewMergedView(newReaders)

	var next uint64
	for _, r := range newReaders {
		if r.MaxUpdateIndex()+1 > next {
			next = r.MaxUpdateIndex() + 1
		}
	}
	st.nextUpdateIndex = next

	st.log.Debug("reload", zap.String("dir", st.dir), zap.Int("tables", len(newReaders)), zap.Uint64("next_update_index", next))
	return nil
}

// Reload re-aligns the stack with whatever manifest is currently on
// disk. Exposed so callers can recover from OutdatedError.
func (st *Stack) Reload() error { return st.reload() }

// ReadRef returns the latest live value bound to name, or ErrNotFound.
func (st *Stack) ReadRef(name string) (record.RefRecord, error) {
	it := st.merged.SeekRef(name)
	rec, ok := it.Next()
	if !ok || rec.RefName != name {
		return record.RefRecord{}, ErrNotFound
	}
	if rec.IsTombstone() {
		return record.RefRecord{}, ErrNotFound
	}
	return rec, nil
}

// ReadLog returns the most recent log entry for name, or ErrNotFound.
func (st *Stack) ReadLog(name string) (record.LogRecord, error) {
	it := st.merged.SeekLog(name)
	rec, ok := it.Next()
	if !ok || rec.RefName != name {
		return record.LogRecord{}, ErrNotFound
	}
	if rec.IsTombstone() {
		return record.LogRecord{}, ErrNotFound
	}
	return rec, nil
}

// tableSizes returns the on-disk size of each table, oldest first, used
// by the compaction planner.
func (st *Stack) tableSizes() []uint64 {
	sizes := make([]uint64, len(st.readers))
	for i, r := range st.readers {
		sizes[i] = uint64(r.Size())
	}
	return sizes
}
