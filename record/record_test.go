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

package record

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNormalizeMessage(t *testing.T) {
	out, err := NormalizeMessage("one", false)
	require.NoError(t, err)
	require.Equal(t, "one\n", out)

	out, err = NormalizeMessage("two\n", false)
	require.NoError(t, err)
	require.Equal(t, "two\n", out)

	_, err = NormalizeMessage("one\ntwo", false)
	require.Error(t, err)

	out, err = NormalizeMessage("one\ntwo", true)
	require.NoError(t, err)
	require.Equal(t, "one\ntwo", out)

	out, err = NormalizeMessage("", false)
	require.NoError(t, err)
	require.Equal(t, "\n", out)
}

func TestHashIDSize(t *testing.T) {
	require.Equal(t, 20, SHA1.Size())
	require.Equal(t, 32, SHA256.Size())
}
