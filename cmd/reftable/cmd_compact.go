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

	"github.com/spf13/cobra"

	rstack "github.com/reftablekit/reftable/stack"
)

func newCompactCmd() *cobra.Command {
	var expireTime int64
	var expireIndex uint64
	cmd := &cobra.Command{
		Use:   "compact",
		Short: "merge the entire stack into as few tables as possible",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openStack()
			if err != nil {
				return err
			}
			defer st.Close()

			var expiry *rstack.LogExpiry
			if expireTime != 0 || expireIndex != 0 {
				expiry = &rstack.LogExpiry{Time: expireTime, MinUpdateIndex: expireIndex}
			}
			if err := st.CompactAll(expiry); err != nil {
				return err
			}
			fmt.Println("compaction complete")
			return nil
		},
	}
	cmd.Flags().Int64Var(&expireTime, "expire-time", 0, "drop log entries older than this unix time")
	cmd.Flags().Uint64Var(&expireIndex, "expire-index", 0, "drop log entries below this update index")
	return cmd
}

func newCleanCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clean",
		Short: "remove unreferenced, unlocked table files",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openStack()
			if err != nil {
				return err
			}
			defer st.Close()
			return st.Clean()
		},
	}
}

func newStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "print compaction counters",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openStack()
			if err != nil {
				return err
			}
			defer st.Close()

			s := st.CompactionStats()
			fmt.Printf("attempts=%d failures=%d entries_written=%d bytes=%d\n",
				s.Attempts, s.Failures, s.EntriesWritten, s.Bytes)
			return nil
		},
	}
}

func newListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "print the manifest's table basenames, oldest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openStack()
			if err != nil {
				return err
			}
			defer st.Close()

			for _, name := range st.TableNames() {
				fmt.Println(name)
			}
			fmt.Printf("next_update_index=%d\n", st.NextUpdateIndex())
			return nil
		},
	}
}
