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
	"fmt"
	"os"

	"github.com/reftablekit/reftable/record"
	"github.com/reftablekit/reftable/table"
	"go.uber.org/zap"
)

// Addition is a long-form transaction: the Writer handle design note 9
// asks for, replacing the teacher's callback-with-opaque-state shape
// with an object whose lifetime is explicit. Add(st, cb) is built on top
// of it for the common one-shot case.
type Addition struct {
	st   *Stack
	lock *fileLock

	min, max  uint64
	haveLimit bool

	tmpFile *os.File
	tmpPath string
	wr      *table.Writer

	done bool
}

// NewAddition begins a transaction: acquires the manifest lock and
// verifies the stack's readers are current (spec.md §4.E step 1).
func NewAddition(st *Stack) (*Addition, error) {
	lock, ok, err := tryLock(st.manifestLockPath(), st.opts.permissions())
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, Outdated.New("manifest is locked by another writer")
	}

	if upToDate, err := st.upToDate(); err != nil {
		lock.Release()
		return nil, err
	} else if !upToDate {
		lock.Release()
		return nil, Outdated.New("manifest changed since this stack was last reloaded")
	}

	min := st.NextUpdateIndex()
	tmp, err := os.CreateTemp(st.dir, table.TempPattern(min, min))
	if err != nil {
		lock.Release()
		return nil, err
	}

	wr, err := table.NewWriter(tmp, table.WriterConfig{HashID: st.opts.HashID})
	if err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		lock.Release()
		return nil, err
	}
	if err := wr.SetLimits(min, min); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		lock.Release()
		return nil, err
	}

	return &Addition{
		st:      st,
		lock:    lock,
		min:     min,
		max:     min,
		haveLimit: true,
		tmpFile: tmp,
		tmpPath: tmp.Name(),
		wr:      wr,
	}, nil
}

// MinUpdateIndex returns the floor established when the addition began.
func (a *Addition) MinUpdateIndex() uint64 { return a.min }

// SetUpdateIndex raises the ceiling of this addition's update-index
// interval. The floor is fixed by NewAddition. An idx below the floor or
// below the current max, or an idx equal to the current max once a
// record has been staged, is a contract violation; an idx equal to the
// current max before anything is staged is a no-op (spec.md §4.E.2: "the callback must
// not decrease the update_index; the second add within one addition with
// equal or lower index fails with ApiError").
func (a *Addition) SetUpdateIndex(idx uint64) error {
	if a.done {
		return fmt.Errorf("reftable: addition already finished")
	}
	if idx < a.min {
		return API.New("update_index %d is below the addition's floor %d", idx, a.min)
	}
	if idx < a.max {
		return API.New("update_index %d is lower than previously set max %d", idx, a.max)
	}
	if idx == a.max && a.wr.EntryCount() > 0 {
		return API.New("update_index %d does not increase beyond current max %d", idx, a.max)
	}
	if idx == a.max {
		// No-op: the ceiling already sits here and nothing has been
		// written yet, so there is nothing for the writer to widen.
		return nil
	}
	if err := a.wr.SetLimits(a.min, idx); err != nil {
		return API.Wrap(err)
	}
	a.max = idx
	return nil
}

// AddRef stages a ref record at the addition's current update index
// (or an explicitly requested one via SetUpdateIndex beforehand). A zero
// UpdateIndex on rec is filled in with the addition's current max.
func (a *Addition) AddRef(rec record.RefRecord) error {
	if a.done {
		return fmt.Errorf("reftable: addition already finished")
	}
	if rec.UpdateIndex == 0 {
		rec.UpdateIndex = a.max
	}
	if err := a.wr.AddRef(&rec); err != nil {
		return API.Wrap(err)
	}
	return nil
}

// AddLog stages a log record, normalizing its message per the stack's
// ExactLogMessage option (spec.md §4.E.i).
func (a *Addition) AddLog(rec record.LogRecord) error {
	if a.done {
		return fmt.Errorf("reftable: addition already finished")
	}
	if rec.UpdateIndex == 0 {
		rec.UpdateIndex = a.max
	}
	if rec.Kind == record.LogValueUpdate {
		msg, err := record.NormalizeMessage(rec.Message, a.st.opts.ExactLogMessage)
		if err != nil {
			return API.Wrap(err)
		}
		rec.Message = msg
	}
	if err := a.wr.AddLog(&rec); err != nil {
		return API.Wrap(err)
	}
	return nil
}

// Abandon discards the staged table and releases the manifest lock
// without committing. Safe to call after Commit (a no-op then), and
// required on every error path a caller takes instead of Commit (design
// note: "the Addition object's destruction must delete its manifest
// lock and staged table file if commit was not reached").
func (a *Addition) Abandon() {
	if a.done {
		return
	}
	a.done = true
	if a.tmpFile != nil {
		a.tmpFile.Close()
	}
	if a.tmpPath != "" {
		os.Remove(a.tmpPath)
	}
	a.lock.Release()
}

// Commit finalizes the transaction: finishes the writer, discards it as
// a no-op if it wrote nothing, otherwise installs the new table and
// rewrites the manifest (spec.md §4.E steps 3-4).
func (a *Addition) Commit() error {
	if a.done {
		return fmt.Errorf("reftable: addition already finished")
	}
	defer a.Abandon()

	names := a.st.readerNames()

	if a.wr.EntryCount() == 0 {
		// Empty callback: commit becomes a no-op that leaves the
		// manifest untouched (spec.md §4.E.3), used as a probe.
		return nil
	}

	if err := a.wr.Close(); err != nil {
		return err
	}
	if err := a.tmpFile.Close(); err != nil {
		return err
	}
	if a.wr.MinUpdateIndex() < a.min {
		return API.New("writer produced a table below the addition's floor")
	}

	dest := table.NewBasename(a.wr.MinUpdateIndex(), a.wr.MaxUpdateIndex())
	destPath := a.st.tablePath(dest)
	if err := os.Chmod(a.tmpPath, a.st.opts.permissions()); err != nil {
		return err
	}
	if err := os.Rename(a.tmpPath, destPath); err != nil {
		return err
	}
	a.tmpPath = ""

	names = append(names, dest)
	body := serializeManifest(names)

	if err := writeManifestLocked(a.lock, a.st.manifestPath(), body, a.st.opts.permissions()); err != nil {
		os.Remove(destPath)
		return err
	}

	a.st.log.Debug("commit", zap.String("table", dest), zap.Uint64("min", a.wr.MinUpdateIndex()), zap.Uint64("max", a.wr.MaxUpdateIndex()))
	return a.st.reload()
}

// Add is the one-shot transaction entry point, spec.md §6's add(st, cb).
// It builds an Addition, runs cb against it, and commits. On success it
// reloads and, unless DisableAutoCompact is set, runs a best-effort
// AutoCompact whose own failures never escape to the caller (spec.md
// §4.E step 5, §7).
func (st *Stack) Add(cb func(a *Addition) error) error {
	a, err := NewAddition(st)
	if err != nil {
		return err
	}

	if err := cb(a); err != nil {
		a.Abandon()
		return err
	}

	if err := a.Commit(); err != nil {
		return err
	}

	if !st.opts.DisableAutoCompact {
		if err := st.AutoCompact(); err != nil {
			st.log.Warn("auto-compact failed", zap.Error(err))
		}
	}
	return nil
}
