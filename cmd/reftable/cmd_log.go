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
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	rstack "github.com/reftablekit/reftable/stack"
)

func newReadLogCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "read-log NAME",
		Short: "print the most recent reflog entry for a ref",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openStack()
			if err != nil {
				return err
			}
			defer st.Close()

			rec, err := st.ReadLog(args[0])
			if errors.Is(err, rstack.ErrNotFound) {
				return fmt.Errorf("%s: not found", args[0])
			}
			if err != nil {
				return err
			}

			fmt.Printf("%s %s %s <%s> %s\n\t%s", rec.RefName,
				hex.EncodeToString(rec.Old), hex.EncodeToString(rec.New), rec.Email,
				time.Unix(rec.Time, 0).UTC(), rec.Message)
			return nil
		},
	}
}
