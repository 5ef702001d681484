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

import "github.com/reftablekit/reftable/record"

// MergedView fans N table readers into one ordered sequence. Readers
// are supplied oldest-first, matching stack order; on a name collision
// the reader with the highest index (the newest table) wins.
type MergedView struct {
	readers []*Reader
}

// NewMergedView builds a view over readers, given oldest-first.
func NewMergedView(readers []*Reader) *MergedView {
	cp := make([]*Reader, len(readers))
	copy(cp, readers)
	return &MergedView{readers: cp}
}

// refCursor tracks one reader's position within its sorted ref slice.
type refCursor struct {
	r   *Reader
	idx int
	pos int // index into the stack (for newest-wins tie-break)
}

// RefIterator yields the merged, de-duplicated ref sequence starting at
// a seek point, newest table wins on collisions.
type RefIterator struct {
	cursors []*refCursor
}

// SeekRef returns an iterator over records with RefName >= name.
func (m *MergedView) SeekRef(name string) *RefIterator {
	it := &RefIterator{}
	for pos, r := range m.readers {
		c := &refCursor{r: r, idx: r.SeekRef(name), pos: pos}
		it.cursors = append(it.cursors, c)
	}
	return it
}

func (c *refCursor) valid() bool { return c.idx < c.r.RefLen() }
func (c *refCursor) name() string { return c.r.RefAt(c.idx).RefName }

// Next advances the merged iterator, returning the next live-or-tombstone
// record and true, or ok=false at the end.
func (it *RefIterator) Next() (record.RefRecord, bool) {
	for {
		var minName string
		found := false
		for _, c := range it.cursors {
			if !c.valid() {
				continue
			}
			if !found || c.name() < minName {
				minName = c.name()
				found = true
			}
		}
		if !found {
			return record.RefRecord{}, false
		}

		// Among cursors positioned at minName, the one from the
		// highest stack position (newest table) wins.
		var winner *refCursor
		for _, c := range it.cursors {
			if !c.valid() || c.name() != minName {
				continue
			}
			if winner == nil || c.pos > winner.pos {
				winner = c
			}
		}
		result := winner.r.RefAt(winner.idx)

		for _, c := range it.cursors {
			if c.valid() && c.name() == minName {
				c.idx++
			}
		}
		return result, true
	}
}

type logCursor struct {
	r   *Reader
	idx int
	pos int
}

// LogIterator yields the merged log sequence starting at a seek point,
// ordered by refname then descending update index.
type LogIterator struct {
	cursors []*logCursor
}

// SeekLog returns an iterator over log records with RefName >= name, in
// (refname asc, update_index desc) order; callers that want the latest
// entry for a name simply take the first result.
func (m *MergedView) SeekLog(name string) *LogIterator {
	it := &LogIterator{}
	for pos, r := range m.readers {
		c := &logCursor{r: r, idx: r.SeekLog(name), pos: pos}
		it.cursors = append(it.cursors, c)
	}
	return it
}

func (c *logCursor) valid() bool { return c.idx < c.r.LogLen() }
func (c *logCursor) rec() record.LogRecord { return c.r.LogAt(c.idx) }

// Next returns the next record in (refname asc, update_index desc) order
// across all readers. Log entries never collide across tables because
// update-index intervals are disjoint (invariant 1), so no dedup is
// needed here, only a merge.
func (it *LogIterator) Next() (record.LogRecord, bool) {
	var winner *logCursor
	for _, c := range it.cursors {
		if !c.valid() {
			continue
		}
		if winner == nil {
			winner = c
			continue
		}
		a, b := c.rec(), winner.rec()
		if a.RefName < b.RefName || (a.RefName == b.RefName && a.UpdateIndex > b.UpdateIndex) {
			winner = c
		} else if a.RefName == b.RefName && a.UpdateIndex == b.UpdateIndex && c.pos > winner.pos {
			winner = c
		}
	}
	if winner == nil {
		return record.LogRecord{}, false
	}
	result := winner.rec()
	winner.idx++
	return result, true
}
