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

	"github.com/reftablekit/reftable/record"
	"go.uber.org/zap"
)

// Options are the stack's write options.
type Options struct {
	// DefaultPermissions is the POSIX mode applied (after umask, via
	// an explicit chmod) to every table and manifest file the stack
	// writes. Zero means 0644.
	DefaultPermissions os.FileMode

	// HashID identifies the object-name digest in use. Opening a
	// stack whose on-disk tables carry a different hash id fails with
	// a Format error.
	HashID record.HashID

	// DisableAutoCompact suppresses the best-effort compaction that
	// otherwise runs after every successful Add.
	DisableAutoCompact bool

	// ExactLogMessage disables trailing-newline normalization and
	// embedded-newline rejection on log messages.
	ExactLogMessage bool

	// CompactionFactor is the geometric ratio the compaction planner
	// uses; zero defaults to 2.
	CompactionFactor int

	// Logger receives structured diagnostics (reload, commit, compact,
	// clean and auto-compact failure events; lock acquisition and
	// release are not logged). A nil Logger defaults to zap.NewNop(), so call sites
	// never need to nil-check it.
	Logger *zap.Logger
}

func (o *Options) permissions() os.FileMode {
	if o.DefaultPermissions == 0 {
		return 0644
	}
	return o.DefaultPermissions
}

func (o *Options) logger() *zap.Logger {
	if o.Logger == nil {
		return zap.NewNop()
	}
	return o.Logger
}

func (o *Options) compactionFactor() int {
	if o.CompactionFactor <= 1 {
		return 2
	}
	return o.CompactionFactor
}

// LogExpiry bounds which log entries survive a compaction. An entry
// strictly below either bound is dropped.
type LogExpiry struct {
	// Time is the lower-bound wall-clock, seconds since epoch. Zero
	// means "no time bound".
	Time int64
	// MinUpdateIndex is the lower-bound update index. Zero means "no
	// index bound".
	MinUpdateIndex uint64
}

func (e *LogExpiry) dropsRecord(rec *record.LogRecord) bool {
	if e == nil {
		return false
	}
	if e.Time != 0 && rec.Time < e.Time {
		return true
	}
	if e.MinUpdateIndex != 0 && rec.UpdateIndex < e.MinUpdateIndex {
		return true
	}
	return false
}
