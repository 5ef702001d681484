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

package table

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/reftablekit/reftable/record"
)

func writeTable(t *testing.T, path string, min, max uint64, refs []record.RefRecord, logs []record.LogRecord) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	wr, err := NewWriter(f, WriterConfig{HashID: record.SHA1})
	require.NoError(t, err)
	require.NoError(t, wr.SetLimits(min, max))
	for i := range refs {
		require.NoError(t, wr.AddRef(&refs[i]))
	}
	for i := range logs {
		require.NoError(t, wr.AddLog(&logs[i]))
	}
	require.NoError(t, wr.Close())
}

func TestWriterReaderRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.ref")

	refs := []record.RefRecord{
		{RefName: "refs/heads/main", UpdateIndex: 3, Kind: record.RefValueHash1, Value: make([]byte, 20)},
		{RefName: "HEAD", UpdateIndex: 3, Kind: record.RefValueSymref, Symref: "refs/heads/main"},
	}
	logs := []record.LogRecord{
		{RefName: "refs/heads/main", UpdateIndex: 3, Kind: record.LogValueUpdate,
			Old: make([]byte, 20), New: make([]byte, 20), Name: "a", Email: "a@b.c", Time: 100, Message: "commit\n"},
	}
	writeTable(t, path, 1, 3, refs, logs)

	r, err := NewReader(path, record.SHA1)
	require.NoError(t, err)
	defer r.Close()

	require.Equal(t, uint64(1), r.MinUpdateIndex())
	require.Equal(t, uint64(3), r.MaxUpdateIndex())
	require.Equal(t, 2, r.RefLen())
	require.Equal(t, 1, r.LogLen())

	idx := r.SeekRef("HEAD")
	require.Equal(t, "HEAD", r.RefAt(idx).RefName)
}

func TestReaderRejectsHashMismatch(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.ref")
	writeTable(t, path, 1, 1, nil, nil)

	_, err := NewReader(path, record.SHA256)
	require.Error(t, err)
	var fe *ErrFormat
	require.ErrorAs(t, err, &fe)
}

func TestReaderRejectsCorruption(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.ref")
	writeTable(t, path, 1, 1, []record.RefRecord{
		{RefName: "refs/heads/a", UpdateIndex: 1, Kind: record.RefValueHash1, Value: make([]byte, 20)},
	}, nil)

	body, err := os.ReadFile(path)
	require.NoError(t, err)
	body[len(body)-1] ^= 0xff
	require.NoError(t, os.WriteFile(path, body, 0644))

	_, err = NewReader(path, record.SHA1)
	require.Error(t, err)
}

func TestMergedViewNewestWins(t *testing.T) {
	dir := t.TempDir()
	oldPath := filepath.Join(dir, "old.ref")
	newPath := filepath.Join(dir, "new.ref")

	writeTable(t, oldPath, 1, 1, []record.RefRecord{
		{RefName: "refs/heads/a", UpdateIndex: 1, Kind: record.RefValueHash1, Value: make([]byte, 20)},
	}, nil)
	newVal := make([]byte, 20)
	newVal[0] = 1
	writeTable(t, newPath, 2, 2, []record.RefRecord{
		{RefName: "refs/heads/a", UpdateIndex: 2, Kind: record.RefValueHash1, Value: newVal},
	}, nil)

	oldR, err := NewReader(oldPath, record.SHA1)
	require.NoError(t, err)
	defer oldR.Close()
	newR, err := NewReader(newPath, record.SHA1)
	require.NoError(t, err)
	defer newR.Close()

	mv := NewMergedView([]*Reader{oldR, newR})
	it := mv.SeekRef("")
	rec, ok := it.Next()
	require.True(t, ok)
	require.Equal(t, newVal, []byte(rec.Value))

	_, ok = it.Next()
	require.False(t, ok)
}

func TestNewBasenameShapeAndUniqueness(t *testing.T) {
	a := NewBasename(1, 2)
	b := NewBasename(1, 2)
	require.NotEqual(t, a, b)
	require.True(t, HasSuffix(a))
	require.Contains(t, a, "000000000001-000000000002-")
}
