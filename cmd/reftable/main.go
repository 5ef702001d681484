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

// Command reftable is a thin driver over package stack: the "thin
// CLI/driver code" spec.md §1 calls out of the core's scope, present
// here only because the ambient stack carries a CLI layer regardless
// (SPEC_FULL.md), built with spf13/cobra as storj-storj's cmd/ tree
// does throughout.
package main

import (
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var (
	flagDir      string
	flagHashID   string
	flagVerbose  bool
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "reftable",
		Short:         "inspect and mutate a reftable stack directory",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&flagDir, "dir", ".", "stack directory")
	root.PersistentFlags().StringVar(&flagHashID, "hash", "sha1", "hash id: sha1 or sha256")
	root.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "enable debug logging")

	root.AddCommand(
		newReadRefCmd(),
		newReadLogCmd(),
		newAddRefCmd(),
		newAddSymrefCmd(),
		newDeleteRefCmd(),
		newCompactCmd(),
		newCleanCmd(),
		newStatsCmd(),
		newListCmd(),
	)
	return root
}

func newLogger() *zap.Logger {
	if flagVerbose {
		l, _ := zap.NewDevelopment()
		return l
	}
	return zap.NewNop()
}
