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

package main

import (
	"fmt"

	"github.com/reftablekit/reftable/record"
	rstack "github.com/reftablekit/reftable/stack"
)

func parseHashID(s string) (record.HashID, error) {
	switch s {
	case "sha1", "":
		return record.SHA1, nil
	case "sha256":
		return record.SHA256, nil
	default:
		return 0, fmt.Errorf("unknown hash id %q", s)
	}
}

func openStack() (*rstack.Stack, error) {
	hashID, err := parseHashID(flagHashID)
	if err != nil {
		return nil, err
	}
	return rstack.Open(flagDir, rstack.Options{
		HashID: hashID,
		Logger: newLogger(),
	})
}
