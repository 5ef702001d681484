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

	"github.com/reftablekit/reftable/table"
	"go.uber.org/zap"
)

// suggestCompactionSegment picks the widest run of adjacent tables worth
// merging, given oldest-first sizes and a compaction factor.
//
// It scans from the newest table backward, growing a running segment
// sum. A table joins the segment to its right as long as it is not at
// least factor times larger than that segment's accumulated size;
// otherwise it dominates what follows and starts a new segment of its
// own. Among the resulting segments, the longest one (if any spans two
// or more tables) is returned as a half-open [start, end) range;
// start == end means nothing is worth compacting.
func suggestCompactionSegment(sizes []uint64, factor int) (start, end int) {
	n := len(sizes)
	if n == 0 {
		return 0, 0
	}
	f := uint64(factor)

	bestStart, bestEnd := 0, 0
	i := n - 1
	for i >= 0 {
		segEnd := i + 1
		sum := sizes[i]
		j := i
		for j > 0 && sizes[j-1] < f*sum {
			j--
			sum += sizes[j]
		}
		if segEnd-j > bestEnd-bestStart {
			bestStart, bestEnd = j, segEnd
		}
		i = j - 1
	}

	if bestEnd-bestStart < 2 {
		return 0, 0
	}
	return bestStart, bestEnd
}

// lockMode controls whether compactRange fails outright or narrows the
// range on a table-lock conflict.
type lockMode int

const (
	lockModeExplicit lockMode = iota
	lockModeAuto
)

// CompactAll merges the entire stack into as few tables as the format
// allows. A table-lock conflict anywhere in range is fatal: explicit
// compaction does not narrow its scope.
func (st *Stack) CompactAll(expiry *LogExpiry) error {
	if len(st.readers) == 0 {
		return nil
	}
	return st.compactRangeStats(0, len(st.readers)-1, expiry, lockModeExplicit)
}

// AutoCompact runs the planner and, if it suggests a segment, compacts
// it with auto-compaction's lock-tolerance semantics. Never returns an
// error for lock contention: a locked manifest, or a segment in which no
// run of two or more tables can be locked, yields nil with no change and
// is not counted in Stats.Failures. Other errors are counted there and
// returned.
func (st *Stack) AutoCompact() error {
	sizes := st.tableSizes()
	start, end := suggestCompactionSegment(sizes, st.opts.compactionFactor())
	if start >= end {
		return nil
	}
	return st.compactRangeStats(start, end-1, nil, lockModeAuto)
}

func (st *Stack) compactRangeStats(first, last int, expiry *LogExpiry, mode lockMode) error {
	st.Stats.Attempts++
	err := st.compactRange(first, last, expiry, mode)
	if err != nil {
		st.Stats.Failures++
	}
	return err
}

// compactRange merges readers[first..last] into one table and rewrites
// the manifest accordingly. first/last are inclusive indices into the
// current reader set.
func (st *Stack) compactRange(first, last int, expiry *LogExpiry, mode lockMode) error {
	// A single table is only rewritten when there is log expiry to apply.
	if first > last || (first == last && expiry == nil) {
		return nil
	}

	manifestLock, ok, err := tryLock(st.manifestLockPath(), st.opts.permissions())
	if err != nil {
		return err
	}
	if !ok {
		if mode == lockModeExplicit {
			return Lock.New("manifest is locked by another writer")
		}
		return nil
	}
	defer manifestLock.Release()

	if upToDate, err := st.upToDate(); err != nil {
		return err
	} else if !upToDate {
		return Outdated.New("manifest changed since this stack was last reloaded")
	}

	tableLocks, lockedFirst, lockedLast, err := st.lockTableRange(first, last, mode)
	if err != nil {
		return err
	}
	defer func() {
		for _, l := range tableLocks {
			l.Release()
		}
	}()
	if len(tableLocks) == 0 {
		// Auto-compaction narrowed the range away to nothing usable;
		// report success with no change (spec.md §4.G step 2).
		return nil
	}
	first, last = lockedFirst, lockedLast

	tmp, err := os.CreateTemp(st.dir, table.TempPattern(st.readers[first].MinUpdateIndex(), st.readers[last].MaxUpdateIndex()))
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	defer func() {
		if tmpPath != "" {
			os.Remove(tmpPath)
		}
	}()

	entries, err := st.writeCompacted(tmp, first, last, expiry)
	if err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	names := make([]string, 0, len(st.readers)-(last-first))
	for i := 0; i < first; i++ {
		names = append(names, st.readers[i].Name())
	}

	var destPath string
	if entries > 0 {
		min := st.readers[first].MinUpdateIndex()
		max := st.readers[last].MaxUpdateIndex()
		dest := table.NewBasename(min, max)
		destPath = st.tablePath(dest)
		if err := os.Chmod(tmpPath, st.opts.permissions()); err != nil {
			return err
		}
		if err := os.Rename(tmpPath, destPath); err != nil {
			return err
		}
		tmpPath = ""
		names = append(names, dest)
	}
	for i := last + 1; i < len(st.readers); i++ {
		names = append(names, st.readers[i].Name())
	}

	oldTablePaths := make([]string, 0, last-first+1)
	for i := first; i <= last; i++ {
		oldTablePaths = append(oldTablePaths, st.tablePath(st.readers[i].Name()))
	}

	body := serializeManifest(names)
	if err := writeManifestLocked(manifestLock, st.manifestPath(), body, st.opts.permissions()); err != nil {
		if destPath != "" {
			os.Remove(destPath)
		}
		return err
	}

	for _, p := range oldTablePaths {
		os.Remove(p)
	}

	st.Stats.EntriesWritten += uint64(entries)
	if fi, err := os.Stat(destPath); err == nil {
		st.Stats.Bytes += uint64(fi.Size())
	}

	st.log.Info("compacted", zap.Int("first", first), zap.Int("last", last), zap.Uint64("entries", uint64(entries)))
	return st.reload()
}

// lockTableRange acquires per-table locks for [first, last]. Under
// explicit compaction, any failure releases everything acquired and
// fails the whole call. Under auto-compaction, a failure shrinks the
// range: the largest doable sub-range (prefix before the failure, else
// suffix after it) of length >= 2 is retried; if none exists, returns an
// empty (lockedFirst >= lockedLast) range with no error.
func (st *Stack) lockTableRange(first, last int, mode lockMode) ([]*fileLock, int, int, error) {
	locks, failedAt, err := st.tryLockRange(first, last)
	if err != nil {
		for _, l := range locks {
			l.Release()
		}
		return nil, 0, 0, err
	}
	if failedAt < 0 {
		return locks, first, last, nil
	}

	for _, l := range locks {
		l.Release()
	}
	if mode == lockModeExplicit {
		return nil, 0, 0, Lock.New("table %d is locked by another process", failedAt)
	}

	// Prefer the largest doable sub-range of length >= 2: the prefix
	// before the conflict, or the suffix after it.
	prefixLen := failedAt - first
	suffixLen := last - failedAt

	tryPrefix := func() ([]*fileLock, int, int, bool, error) {
		if prefixLen < 2 {
			return nil, 0, 0, false, nil
		}
		sub, subFailed, err := st.tryLockRange(first, failedAt-1)
		if err != nil {
			for _, l := range sub {
				l.Release()
			}
			return nil, 0, 0, false, err
		}
		if subFailed < 0 {
			return sub, first, failedAt - 1, true, nil
		}
		for _, l := range sub {
			l.Release()
		}
		return nil, 0, 0, false, nil
	}
	trySuffix := func() ([]*fileLock, int, int, bool, error) {
		if suffixLen < 2 {
			return nil, 0, 0, false, nil
		}
		sub, subFailed, err := st.tryLockRange(failedAt+1, last)
		if err != nil {
			for _, l := range sub {
				l.Release()
			}
			return nil, 0, 0, false, err
		}
		if subFailed < 0 {
			return sub, failedAt + 1, last, true, nil
		}
		for _, l := range sub {
			l.Release()
		}
		return nil, 0, 0, false, nil
	}

	first1, second1 := tryPrefix, trySuffix
	if suffixLen > prefixLen {
		first1, second1 = trySuffix, tryPrefix
	}

	if locks, lo, hi, ok, err := first1(); err != nil {
		return nil, 0, 0, err
	} else if ok {
		return locks, lo, hi, nil
	}
	if locks, lo, hi, ok, err := second1(); err != nil {
		return nil, 0, 0, err
	} else if ok {
		return locks, lo, hi, nil
	}
	return nil, 0, 0, nil
}

// tryLockRange attempts to lock every table in [first, last], stopping
// at the first conflict. failedAt is the conflicting index, or -1 if
// every lock in range was acquired.
func (st *Stack) tryLockRange(first, last int) ([]*fileLock, int, error) {
	var locks []*fileLock
	for i := first; i <= last; i++ {
		l, ok, err := tryLock(st.tableLockPath(st.readers[i].Name()), st.opts.permissions())
		if err != nil {
			return locks, -1, err
		}
		if !ok {
			return locks, i, nil
		}
		locks = append(locks, l)
	}
	return locks, -1, nil
}

// writeCompacted merges readers[first..last] into w, applying the
// tombstone-and-expiry rules, and returns the number of records
// written.
func (st *Stack) writeCompacted(w *os.File, first, last int, expiry *LogExpiry) (int, error) {
	wr, err := table.NewWriter(w, table.WriterConfig{HashID: st.opts.HashID})
	if err != nil {
		return 0, err
	}
	if err := wr.SetLimits(st.readers[first].MinUpdateIndex(), st.readers[last].MaxUpdateIndex()); err != nil {
		return 0, err
	}

	sub := make([]*table.Reader, 0, last-first+1)
	for i := first; i <= last; i++ {
		sub = append(sub, st.readers[i])
	}
	merged := table.NewMergedView(sub)

	count := 0

	refIt := merged.SeekRef("")
	for {
		rec, ok := refIt.Next()
		if !ok {
			break
		}
		if first == 0 && rec.IsTombstone() {
			// No older table exists for this tombstone to shadow.
			continue
		}
		if err := wr.AddRef(&rec); err != nil {
			return 0, err
		}
		count++
	}

	logIt := merged.SeekLog("")
	for {
		rec, ok := logIt.Next()
		if !ok {
			break
		}
		if first == 0 && rec.IsTombstone() {
			continue
		}
		if expiry.dropsRecord(&rec) {
			continue
		}
		if err := wr.AddLog(&rec); err != nil {
			return 0, err
		}
		count++
	}

	if count == 0 {
		return 0, nil
	}
	if err := wr.Close(); err != nil {
		return 0, err
	}
	return count, nil
}
