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
	"bytes"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"sort"

	"github.com/reftablekit/reftable/record"
)

// Reader opens one immutable table file and exposes seek/iterate access
// to its sorted ref and log records. A Reader owns the underlying open
// file handle, read via ReadAt and never truncated or rewritten.
type Reader struct {
	file   *os.File
	name   string
	size   int64
	hashID record.HashID

	minUpdateIndex uint64
	maxUpdateIndex uint64

	refs []record.RefRecord
	logs []record.LogRecord
}

// NewReader opens path, validates its header against hashID, and loads
// its sorted record sections into memory.
//
// Table files in this format are small and opened once per process
// working set; loading fully avoids a block index.
func NewReader(path string, hashID record.HashID) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	stat, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}

	r := &Reader{file: f, name: filepathBase(path), size: stat.Size()}
	if err := r.load(hashID); err != nil {
		f.Close()
		return nil, err
	}
	return r, nil
}

func filepathBase(path string) string {
	i := len(path) - 1
	for i >= 0 && path[i] != '/' {
		i--
	}
	return path[i+1:]
}

// Name returns the table's basename, used as the manifest's identity key.
func (r *Reader) Name() string { return r.name }

// Size returns the file size in bytes (used for compaction planning).
func (r *Reader) Size() int64 { return r.size }

// MinUpdateIndex returns the table footer's lower bound.
func (r *Reader) MinUpdateIndex() uint64 { return r.minUpdateIndex }

// MaxUpdateIndex returns the table footer's upper bound.
func (r *Reader) MaxUpdateIndex() uint64 { return r.maxUpdateIndex }

// Close releases the underlying file handle. Safe to call once the
// table's manifest entry has been replaced; POSIX keeps the inode alive
// for any reader that still holds it open even after unlink.
func (r *Reader) Close() error {
	if r.file == nil {
		return nil
	}
	err := r.file.Close()
	r.file = nil
	return err
}

func (r *Reader) load(hashID record.HashID) error {
	if r.size < int64(headerSize+footerSize) {
		return &ErrFormat{Reason: fmt.Sprintf("%s: too small to be a table", r.name)}
	}
	body := make([]byte, r.size)
	if _, err := r.file.ReadAt(body, 0); err != nil && err != io.EOF {
		return err
	}

	if string(body[0:4]) != magic {
		return &ErrFormat{Reason: fmt.Sprintf("%s: bad magic", r.name)}
	}
	if body[4] != formatVers {
		return &ErrFormat{Reason: fmt.Sprintf("%s: unsupported version %d", r.name, body[4])}
	}
	fileHashID := record.HashID(body[5])
	if fileHashID != hashID {
		return &ErrFormat{Reason: fmt.Sprintf("%s: hash id %s does not match stack hash id %s", r.name, fileHashID, hashID)}
	}
	r.hashID = fileHashID

	footer := body[len(body)-footerSize:]
	gotCRC := binary.BigEndian.Uint32(footer[footerSize-4:])
	wantCRC := crc32.ChecksumIEEE(body[:len(body)-4])
	if gotCRC != wantCRC {
		return &ErrFormat{Reason: fmt.Sprintf("%s: checksum mismatch", r.name)}
	}

	r.minUpdateIndex = binary.BigEndian.Uint64(footer[0:8])
	r.maxUpdateIndex = binary.BigEndian.Uint64(footer[8:16])
	refCount := binary.BigEndian.Uint64(footer[16:24])
	logOffset := binary.BigEndian.Uint64(footer[24:32])
	logCount := binary.BigEndian.Uint64(footer[32:40])

	br := bytes.NewReader(body[headerSize:])
	for i := uint64(0); i < refCount; i++ {
		rec, err := readRefRecord(br, r.hashID)
		if err != nil {
			return &ErrFormat{Reason: fmt.Sprintf("%s: %v", r.name, err)}
		}
		r.refs = append(r.refs, rec)
	}

	logBody := bytes.NewReader(body[logOffset:])
	for i := uint64(0); i < logCount; i++ {
		rec, err := readLogRecord(logBody, r.hashID)
		if err != nil {
			return &ErrFormat{Reason: fmt.Sprintf("%s: %v", r.name, err)}
		}
		r.logs = append(r.logs, rec)
	}
	return nil
}

func getString(r *bytes.Reader) (string, error) {
	var lenBuf [2]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return "", err
	}
	n := binary.BigEndian.Uint16(lenBuf[:])
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}

func getBytes(r *bytes.Reader) ([]byte, error) {
	var lenBuf [2]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint16(lenBuf[:])
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

func readRefRecord(r *bytes.Reader, hashID record.HashID) (record.RefRecord, error) {
	var rec record.RefRecord
	kindByte, err := r.ReadByte()
	if err != nil {
		return rec, err
	}
	rec.Kind = record.RefValueKind(kindByte)

	var idxBuf [8]byte
	if _, err := io.ReadFull(r, idxBuf[:]); err != nil {
		return rec, err
	}
	rec.UpdateIndex = binary.BigEndian.Uint64(idxBuf[:])

	rec.RefName, err = getString(r)
	if err != nil {
		return rec, err
	}

	switch rec.Kind {
	case record.RefValueDeletion:
	case record.RefValueSymref:
		rec.Symref, err = getString(r)
	case record.RefValueHash1:
		rec.Value = make([]byte, hashID.Size())
		_, err = io.ReadFull(r, rec.Value)
	case record.RefValueHash2:
		rec.Value = make([]byte, hashID.Size())
		if _, err = io.ReadFull(r, rec.Value); err == nil {
			rec.Target = make([]byte, hashID.Size())
			_, err = io.ReadFull(r, rec.Target)
		}
	default:
		err = fmt.Errorf("unknown ref value kind %d", rec.Kind)
	}
	return rec, err
}

func readLogRecord(r *bytes.Reader, hashID record.HashID) (record.LogRecord, error) {
	var rec record.LogRecord
	kindByte, err := r.ReadByte()
	if err != nil {
		return rec, err
	}
	rec.Kind = record.LogValueKind(kindByte)

	rec.RefName, err = getString(r)
	if err != nil {
		return rec, err
	}
	var idxBuf [8]byte
	if _, err := io.ReadFull(r, idxBuf[:]); err != nil {
		return rec, err
	}
	rec.UpdateIndex = binary.BigEndian.Uint64(idxBuf[:])

	if rec.Kind == record.LogValueDeletion {
		return rec, nil
	}

	rec.Old = make([]byte, hashID.Size())
	if _, err := io.ReadFull(r, rec.Old); err != nil {
		return rec, err
	}
	rec.New = make([]byte, hashID.Size())
	if _, err := io.ReadFull(r, rec.New); err != nil {
		return rec, err
	}
	if rec.Name, err = getString(r); err != nil {
		return rec, err
	}
	if rec.Email, err = getString(r); err != nil {
		return rec, err
	}
	var tbuf [8]byte
	if _, err := io.ReadFull(r, tbuf[:]); err != nil {
		return rec, err
	}
	rec.Time = int64(binary.BigEndian.Uint64(tbuf[:]))
	var tzbuf [4]byte
	if _, err := io.ReadFull(r, tzbuf[:]); err != nil {
		return rec, err
	}
	rec.TZOffset = int32(binary.BigEndian.Uint32(tzbuf[:]))
	msg, err := getBytes(r)
	if err != nil {
		return rec, err
	}
	rec.Message = string(msg)
	return rec, nil
}

// SeekRef returns the index of the first ref record with RefName >= name
// (sorted order), for use by MergedView.
func (r *Reader) SeekRef(name string) int {
	return sort.Search(len(r.refs), func(i int) bool { return r.refs[i].RefName >= name })
}

// RefAt returns the i'th ref record in sorted order.
func (r *Reader) RefAt(i int) record.RefRecord { return r.refs[i] }

// RefLen returns the number of ref records in the table.
func (r *Reader) RefLen() int { return len(r.refs) }

// SeekLog returns the index of the first log record with RefName >= name
// (ties broken by descending update index), for use by MergedView.
func (r *Reader) SeekLog(name string) int {
	return sort.Search(len(r.logs), func(i int) bool { return r.logs[i].RefName >= name })
}

// LogAt returns the i'th log record in sorted order.
func (r *Reader) LogAt(i int) record.LogRecord { return r.logs[i] }

// LogLen returns the number of log records in the table.
func (r *Reader) LogLen() int { return len(r.logs) }
