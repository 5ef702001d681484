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
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/reftablekit/reftable/record"
	"github.com/reftablekit/reftable/table"
)

func openTestStack(t *testing.T, dir string, opts Options) *Stack {
	t.Helper()
	st, err := Open(dir, opts)
	require.NoError(t, err)
	return st
}

func TestAddAndReadRef(t *testing.T) {
	dir := t.TempDir()
	st := openTestStack(t, dir, Options{DefaultPermissions: 0644})
	defer st.Close()

	err := st.Add(func(a *Addition) error {
		return a.AddRef(record.RefRecord{
			RefName: "HEAD",
			Kind:    record.RefValueSymref,
			Symref:  "refs/heads/master",
		})
	})
	require.NoError(t, err)

	rec, err := st.ReadRef("HEAD")
	require.NoError(t, err)
	require.Equal(t, record.RefValueSymref, rec.Kind)
	require.Equal(t, "refs/heads/master", rec.Symref)

	info, err := os.Stat(filepath.Join(dir, "tables.list"))
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0644), info.Mode().Perm())

	names := st.TableNames()
	require.Len(t, names, 1)
	tinfo, err := os.Stat(filepath.Join(dir, names[0]))
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0644), tinfo.Mode().Perm())
}

func TestAutoCompactCollapsesManyAdds(t *testing.T) {
	dir := t.TempDir()
	st := openTestStack(t, dir, Options{})
	defer st.Close()

	for i := 0; i < 20; i++ {
		disable := i < 19
		st.opts.DisableAutoCompact = disable
		err := st.Add(func(a *Addition) error {
			return a.AddRef(record.RefRecord{
				RefName: fmt.Sprintf("refs/heads/b%02d", i),
				Kind:    record.RefValueHash1,
				Value:   make([]byte, record.SHA1.Size()),
			})
		})
		require.NoError(t, err)
	}

	require.Len(t, st.TableNames(), 1)
}

func TestNextUpdateIndexMonotonic(t *testing.T) {
	dir := t.TempDir()
	st := openTestStack(t, dir, Options{DisableAutoCompact: true})
	defer st.Close()

	before := st.NextUpdateIndex()
	err := st.Add(func(a *Addition) error {
		return a.AddRef(record.RefRecord{RefName: "refs/heads/a", Kind: record.RefValueHash1, Value: make([]byte, 20)})
	})
	require.NoError(t, err)
	after := st.NextUpdateIndex()
	require.GreaterOrEqual(t, after, before)

	r := st.readers[len(st.readers)-1]
	require.GreaterOrEqual(t, r.MinUpdateIndex(), before)
	require.LessOrEqual(t, r.MaxUpdateIndex(), after-1)
}

func TestTombstoneShadowsOlderValue(t *testing.T) {
	dir := t.TempDir()
	st := openTestStack(t, dir, Options{DisableAutoCompact: true})
	defer st.Close()

	require.NoError(t, st.Add(func(a *Addition) error {
		return a.AddRef(record.RefRecord{RefName: "refs/heads/a", Kind: record.RefValueHash1, Value: make([]byte, 20)})
	}))
	require.NoError(t, st.Add(func(a *Addition) error {
		return a.AddRef(record.Tombstone("refs/heads/a", 0))
	}))

	_, err := st.ReadRef("refs/heads/a")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestEmptyAddIsNoOp(t *testing.T) {
	dir := t.TempDir()
	st := openTestStack(t, dir, Options{})
	defer st.Close()

	err := st.Add(func(a *Addition) error { return nil })
	require.NoError(t, err)
	require.Empty(t, st.TableNames())
}

func TestSecondAddWithinTransactionNonIncreasingIndexFails(t *testing.T) {
	dir := t.TempDir()
	st := openTestStack(t, dir, Options{})
	defer st.Close()

	a, err := NewAddition(st)
	require.NoError(t, err)
	defer a.Abandon()

	require.NoError(t, a.SetUpdateIndex(a.MinUpdateIndex()+5))
	require.NoError(t, a.AddRef(record.RefRecord{RefName: "refs/heads/a", Kind: record.RefValueHash1, Value: make([]byte, 20)}))

	err = a.SetUpdateIndex(a.MinUpdateIndex() + 5)
	require.Error(t, err)
	require.True(t, API.Has(err))
}

func TestOutdatedThenReloadSucceeds(t *testing.T) {
	dir := t.TempDir()
	st1 := openTestStack(t, dir, Options{DisableAutoCompact: true})
	defer st1.Close()
	st2 := openTestStack(t, dir, Options{DisableAutoCompact: true})
	defer st2.Close()

	require.NoError(t, st1.Add(func(a *Addition) error {
		return a.AddRef(record.RefRecord{RefName: "refs/heads/a", Kind: record.RefValueHash1, Value: make([]byte, 20)})
	}))

	err := st2.Add(func(a *Addition) error {
		return a.AddRef(record.RefRecord{RefName: "refs/heads/b", Kind: record.RefValueHash1, Value: make([]byte, 20)})
	})
	require.Error(t, err)
	require.True(t, Outdated.Has(err))

	require.NoError(t, st2.Reload())
	err = st2.Add(func(a *Addition) error {
		return a.AddRef(record.RefRecord{RefName: "refs/heads/b", Kind: record.RefValueHash1, Value: make([]byte, 20)})
	})
	require.NoError(t, err)
}

func TestLogMessageNormalization(t *testing.T) {
	dir := t.TempDir()
	st := openTestStack(t, dir, Options{DisableAutoCompact: true})
	defer st.Close()

	err := st.Add(func(a *Addition) error {
		return a.AddLog(record.LogRecord{
			RefName: "refs/heads/a",
			Kind:    record.LogValueUpdate,
			Old:     make([]byte, 20), New: make([]byte, 20),
			Message: "one\ntwo",
		})
	})
	require.Error(t, err)
	require.True(t, API.Has(err))

	require.NoError(t, st.Add(func(a *Addition) error {
		return a.AddLog(record.LogRecord{
			RefName: "refs/heads/a",
			Kind:    record.LogValueUpdate,
			Old:     make([]byte, 20), New: make([]byte, 20),
			Message: "one",
		})
	}))
	rec, err := st.ReadLog("refs/heads/a")
	require.NoError(t, err)
	require.Equal(t, "one\n", rec.Message)
}

func TestSuggestCompactionSegment(t *testing.T) {
	start, end := suggestCompactionSegment([]uint64{512, 64, 17, 16, 9, 9, 9, 16, 2, 16}, 2)
	require.Equal(t, 1, start)
	require.Equal(t, 10, end)

	start, end = suggestCompactionSegment([]uint64{64, 32, 16, 8, 4, 2}, 2)
	require.Equal(t, 0, start)
	require.Equal(t, 0, end)
}

func TestCompactAllAppliesLogExpiry(t *testing.T) {
	dir := t.TempDir()
	st := openTestStack(t, dir, Options{DisableAutoCompact: true})
	defer st.Close()

	for i := 1; i <= 20; i++ {
		i := i
		require.NoError(t, st.Add(func(a *Addition) error {
			return a.AddLog(record.LogRecord{
				RefName: fmt.Sprintf("branch%02d", i),
				Kind:    record.LogValueUpdate,
				Old:     make([]byte, 20), New: make([]byte, 20),
				Time:    int64(i),
				Message: "m",
			})
		}))
	}

	require.NoError(t, st.CompactAll(&LogExpiry{Time: 10}))
	_, err := st.ReadLog("branch09")
	require.ErrorIs(t, err, ErrNotFound)
	_, err = st.ReadLog("branch11")
	require.NoError(t, err)

	require.NoError(t, st.CompactAll(&LogExpiry{MinUpdateIndex: 15}))
	_, err = st.ReadLog("branch14")
	require.ErrorIs(t, err, ErrNotFound)
	_, err = st.ReadLog("branch16")
	require.NoError(t, err)
}

func TestCompactAllFailsOnExternalTableLock(t *testing.T) {
	dir := t.TempDir()
	st := openTestStack(t, dir, Options{DisableAutoCompact: true})
	defer st.Close()

	for i := 0; i < 3; i++ {
		i := i
		require.NoError(t, st.Add(func(a *Addition) error {
			return a.AddRef(record.RefRecord{
				RefName: fmt.Sprintf("refs/heads/b%02d", i),
				Kind:    record.RefValueHash1,
				Value:   make([]byte, 20),
			})
		}))
	}
	require.Len(t, st.TableNames(), 3)

	lockPath := filepath.Join(dir, st.TableNames()[1]+".lock")
	f, err := os.Create(lockPath)
	require.NoError(t, err)
	f.Close()

	err = st.CompactAll(nil)
	require.Error(t, err)
	require.True(t, Lock.Has(err))
	require.Len(t, st.TableNames(), 3)
	require.Equal(t, 1, st.Stats.Failures)
}

func TestAutoCompactNarrowsAroundLockedTable(t *testing.T) {
	dir := t.TempDir()
	st := openTestStack(t, dir, Options{DisableAutoCompact: true, CompactionFactor: 1000000})
	defer st.Close()

	for i := 0; i < 4; i++ {
		i := i
		require.NoError(t, st.Add(func(a *Addition) error {
			return a.AddRef(record.RefRecord{
				RefName: fmt.Sprintf("refs/heads/b%02d", i),
				Kind:    record.RefValueHash1,
				Value:   make([]byte, 20),
			})
		}))
	}
	require.Len(t, st.TableNames(), 4)

	lockPath := filepath.Join(dir, st.TableNames()[0]+".lock")
	f, err := os.Create(lockPath)
	require.NoError(t, err)
	f.Close()

	err = st.compactRangeStats(0, 3, nil, lockModeAuto)
	require.NoError(t, err)
	require.Equal(t, 0, st.Stats.Failures)
	require.Len(t, st.TableNames(), 2)
}

func TestCleanRemovesOrphanedTables(t *testing.T) {
	dir := t.TempDir()
	st := openTestStack(t, dir, Options{DisableAutoCompact: true})

	require.NoError(t, st.Add(func(a *Addition) error {
		return a.AddRef(record.RefRecord{RefName: "refs/heads/a", Kind: record.RefValueHash1, Value: make([]byte, 20)})
	}))
	require.NoError(t, st.Close())

	orphan := filepath.Join(dir, "000000000099-000000000099-orphan.ref")
	require.NoError(t, os.WriteFile(orphan, []byte("garbage"), 0644))

	st2 := openTestStack(t, dir, Options{DisableAutoCompact: true})
	defer st2.Close()
	require.NoError(t, st2.Clean())

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 2) // tables.list + one live table
}

func TestCleanLeavesLockedOrphanAlone(t *testing.T) {
	dir := t.TempDir()
	st := openTestStack(t, dir, Options{})
	defer st.Close()

	orphan := filepath.Join(dir, "000000000099-000000000099-orphan.ref")
	require.NoError(t, os.WriteFile(orphan, []byte("garbage"), 0644))
	require.NoError(t, os.WriteFile(orphan+".lock", nil, 0644))

	require.NoError(t, st.Clean())
	_, err := os.Stat(orphan)
	require.NoError(t, err)
}

func TestOpenRejectsHashMismatch(t *testing.T) {
	dir := t.TempDir()
	st := openTestStack(t, dir, Options{HashID: record.SHA1, DisableAutoCompact: true})
	require.NoError(t, st.Add(func(a *Addition) error {
		return a.AddRef(record.RefRecord{RefName: "refs/heads/a", Kind: record.RefValueHash1, Value: make([]byte, 20)})
	}))
	require.NoError(t, st.Close())

	_, err := Open(dir, Options{HashID: record.SHA256})
	require.Error(t, err)
	require.True(t, Format.Has(err))
}

func TestCleanNeverTouchesStagedTempFiles(t *testing.T) {
	dir := t.TempDir()
	st := openTestStack(t, dir, Options{})
	defer st.Close()

	tmp, err := os.CreateTemp(dir, table.TempPattern(0, 0))
	require.NoError(t, err)
	tmp.Close()

	require.NoError(t, st.Clean())

	_, err = os.Stat(tmp.Name())
	require.NoError(t, err, "an in-flight staging file must never be reaped by Clean")
}
