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
	"errors"

	"github.com/zeebo/errs"
)

// Error categories, spec.md §6/§7. Modeled as zeebo/errs classes (the
// idiom storj-storj uses throughout for typed, wrappable sentinels) so
// callers can test with errors.Is/errs.Is while the underlying cause
// (a syscall error, a corrupt footer) is preserved as the wrapped error.
var (
	// Outdated is returned by Add/NewAddition when the in-memory
	// readers no longer reflect the on-disk manifest; the caller must
	// Reload and retry.
	Outdated = errs.Class("reftable: outdated")

	// Lock is returned on lock contention for an explicit compaction
	// request (compact_all); auto-compaction never surfaces this
	// class to its caller (spec.md §7).
	Lock = errs.Class("reftable: lock")

	// API marks a contract violation by the caller: a non-monotonic
	// update_index, a second SetLimits within one addition with an
	// equal or lower bound, or an invalid log message.
	API = errs.Class("reftable: api")

	// Format marks a stack or table whose on-disk shape disagrees
	// with what the caller asked to open (hash id mismatch, corrupt
	// footer, bad magic).
	Format = errs.Class("reftable: format")
)

// ErrNotFound is returned by ReadRef/ReadLog when no live record exists
// for the requested name. It is a plain sentinel (not an errs.Class) so
// it composes simply with errors.Is at call sites, matching spec.md's
// framing of NotFound as "a positive-one sentinel from read ops" rather
// than a wrapped failure.
var ErrNotFound = errors.New("reftable: not found")

// ErrEmptyTable names the case of a writer callback that produced zero
// records. Addition.Commit does not return it: an addition with no
// records commits as a successful no-op (spec.md §4.E.3), and no
// function in this package returns this value.
var ErrEmptyTable = errors.New("reftable: empty table")
