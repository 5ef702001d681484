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
	"bufio"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"sort"

	"github.com/reftablekit/reftable/record"
)

// WriterConfig mirrors the subset of stack.Options a table writer needs
// to know about, without the table package importing the stack package.
type WriterConfig struct {
	HashID record.HashID
}

// Writer accumulates ref and log records in memory and flushes a sorted,
// checksummed table file to w on Close. Records may be added in any
// order; Writer sorts them before writing.
type Writer struct {
	w      io.Writer
	cfg    WriterConfig
	closed bool

	haveLimits bool
	min, max   uint64

	refs []record.RefRecord
	logs []record.LogRecord
}

// NewWriter returns a writer that will serialize to w using cfg.
func NewWriter(w io.Writer, cfg WriterConfig) (*Writer, error) {
	if cfg.HashID != record.SHA1 && cfg.HashID != record.SHA256 {
		return nil, &ErrFormat{Reason: fmt.Sprintf("unknown hash id %d", cfg.HashID)}
	}
	return &Writer{w: w, cfg: cfg}, nil
}

// SetLimits establishes the [min, max] update_index interval every
// record in this table must fall within. It may be called again to
// widen the interval; a later call whose max is equal to or lower than
// the current max is rejected as a contract violation.
func (wr *Writer) SetLimits(min, max uint64) error {
	if wr.haveLimits && max <= wr.max {
		return fmt.Errorf("table: SetLimits(%d, %d) does not increase max beyond %d", min, max, wr.max)
	}
	wr.min, wr.max = min, max
	wr.haveLimits = true
	return nil
}

// MinUpdateIndex returns the lower bound passed to SetLimits.
func (wr *Writer) MinUpdateIndex() uint64 { return wr.min }

// MaxUpdateIndex returns the upper bound passed to SetLimits.
func (wr *Writer) MaxUpdateIndex() uint64 { return wr.max }

// AddRef stages a ref record. Its UpdateIndex must lie within the
// writer's configured limits.
func (wr *Writer) AddRef(rec *record.RefRecord) error {
	if !wr.haveLimits {
		return fmt.Errorf("table: AddRef before SetLimits")
	}
	if rec.UpdateIndex < wr.min || rec.UpdateIndex > wr.max {
		return fmt.Errorf("table: ref %q update_index %d outside [%d,%d]", rec.RefName, rec.UpdateIndex, wr.min, wr.max)
	}
	wr.refs = append(wr.refs, *rec)
	return nil
}

// AddLog stages a log record, subject to the same limits as AddRef.
func (wr *Writer) AddLog(rec *record.LogRecord) error {
	if !wr.haveLimits {
		return fmt.Errorf("table: AddLog before SetLimits")
	}
	if rec.UpdateIndex < wr.min || rec.UpdateIndex > wr.max {
		return fmt.Errorf("table: log %q update_index %d outside [%d,%d]", rec.RefName, rec.UpdateIndex, wr.min, wr.max)
	}
	wr.logs = append(wr.logs, *rec)
	return nil
}

// EntryCount returns how many ref and log records have been staged so
// far, used by the caller to detect the empty-table no-op case.
func (wr *Writer) EntryCount() int { return len(wr.refs) + len(wr.logs) }

// Close sorts and flushes the staged records, then writes the footer.
// It does not close the underlying io.Writer.
func (wr *Writer) Close() error {
	if wr.closed {
		return nil
	}
	wr.closed = true

	sort.SliceStable(wr.refs, func(i, j int) bool { return wr.refs[i].RefName < wr.refs[j].RefName })
	sort.SliceStable(wr.logs, func(i, j int) bool {
		if wr.logs[i].RefName != wr.logs[j].RefName {
			return wr.logs[i].RefName < wr.logs[j].RefName
		}
		// Newest first within a refname.
		return wr.logs[i].UpdateIndex > wr.logs[j].UpdateIndex
	})

	buf := &crcWriter{w: bufio.NewWriter(wr.w), crc: crc32.NewIEEE()}

	writeHeader(buf, wr.cfg.HashID)
	for i := range wr.refs {
		if err := writeRefRecord(buf, &wr.refs[i], wr.cfg.HashID); err != nil {
			return err
		}
	}
	logOffset := buf.n
	for i := range wr.logs {
		if err := writeLogRecord(buf, &wr.logs[i], wr.cfg.HashID); err != nil {
			return err
		}
	}

	footer := make([]byte, footerSize-4)
	binary.BigEndian.PutUint64(footer[0:8], wr.min)
	binary.BigEndian.PutUint64(footer[8:16], wr.max)
	binary.BigEndian.PutUint64(footer[16:24], uint64(len(wr.refs)))
	binary.BigEndian.PutUint64(footer[24:32], logOffset)
	binary.BigEndian.PutUint64(footer[32:40], uint64(len(wr.logs)))
	if _, err := buf.Write(footer); err != nil {
		return err
	}
	sum := buf.crc.Sum32()
	var sumBuf [4]byte
	binary.BigEndian.PutUint32(sumBuf[:], sum)
	if _, err := buf.w.Write(sumBuf[:]); err != nil {
		return err
	}
	return buf.w.Flush()
}

// crcWriter tees every write through a running CRC32 and tracks the
// number of bytes written so the footer can record the log section
// offset.
type crcWriter struct {
	w   *bufio.Writer
	crc hashWriter
	n   uint64
}

type hashWriter interface {
	Write(p []byte) (int, error)
	Sum32() uint32
}

func (c *crcWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.crc.Write(p[:n])
	c.n += uint64(n)
	return n, err
}

func writeHeader(w io.Writer, hashID record.HashID) {
	hdr := make([]byte, headerSize)
	copy(hdr[0:4], magic)
	hdr[4] = formatVers
	hdr[5] = byte(hashID)
	w.Write(hdr)
}

func putString(w io.Writer, s string) {
	var lenBuf [2]byte
	binary.BigEndian.PutUint16(lenBuf[:], uint16(len(s)))
	w.Write(lenBuf[:])
	io.WriteString(w, s)
}

func putBytes(w io.Writer, b []byte) {
	var lenBuf [2]byte
	binary.BigEndian.PutUint16(lenBuf[:], uint16(len(b)))
	w.Write(lenBuf[:])
	w.Write(b)
}

func writeRefRecord(w io.Writer, rec *record.RefRecord, hashID record.HashID) error {
	w.Write([]byte{byte(rec.Kind)})
	var idxBuf [8]byte
	binary.BigEndian.PutUint64(idxBuf[:], rec.UpdateIndex)
	w.Write(idxBuf[:])
	putString(w, rec.RefName)

	switch rec.Kind {
	case record.RefValueDeletion:
	case record.RefValueSymref:
		putString(w, rec.Symref)
	case record.RefValueHash1:
		if len(rec.Value) != hashID.Size() {
			return fmt.Errorf("table: ref %q value has wrong hash size", rec.RefName)
		}
		w.Write(rec.Value)
	case record.RefValueHash2:
		if len(rec.Value) != hashID.Size() || len(rec.Target) != hashID.Size() {
			return fmt.Errorf("table: ref %q value/target has wrong hash size", rec.RefName)
		}
		w.Write(rec.Value)
		w.Write(rec.Target)
	default:
		return fmt.Errorf("table: ref %q has unknown value kind %d", rec.RefName, rec.Kind)
	}
	return nil
}

func writeLogRecord(w io.Writer, rec *record.LogRecord, hashID record.HashID) error {
	w.Write([]byte{byte(rec.Kind)})
	putString(w, rec.RefName)
	var idxBuf [8]byte
	binary.BigEndian.PutUint64(idxBuf[:], rec.UpdateIndex)
	w.Write(idxBuf[:])

	if rec.Kind == record.LogValueDeletion {
		return nil
	}

	if len(rec.Old) != hashID.Size() || len(rec.New) != hashID.Size() {
		return fmt.Errorf("table: log %q old/new has wrong hash size", rec.RefName)
	}
	w.Write(rec.Old)
	w.Write(rec.New)
	putString(w, rec.Name)
	putString(w, rec.Email)

	var tbuf [8]byte
	binary.BigEndian.PutUint64(tbuf[:], uint64(rec.Time))
	w.Write(tbuf[:])
	var tzbuf [4]byte
	binary.BigEndian.PutUint32(tzbuf[:], uint32(rec.TZOffset))
	w.Write(tzbuf[:])
	putBytes(w, []byte(rec.Message))
	return nil
}
