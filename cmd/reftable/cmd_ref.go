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

	"github.com/spf13/cobra"

	"github.com/reftablekit/reftable/record"
	rstack "github.com/reftablekit/reftable/stack"
)

func newReadRefCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "read-ref NAME",
		Short: "print the live value bound to a ref name",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openStack()
			if err != nil {
				return err
			}
			defer st.Close()

			rec, err := st.ReadRef(args[0])
			if errors.Is(err, rstack.ErrNotFound) {
				return fmt.Errorf("%s: not found", args[0])
			}
			if err != nil {
				return err
			}

			switch rec.Kind {
			case record.RefValueSymref:
				fmt.Printf("%s -> %s\n", rec.RefName, rec.Symref)
			case record.RefValueHash1:
				fmt.Printf("%s %s\n", rec.RefName, hex.EncodeToString(rec.Value))
			case record.RefValueHash2:
				fmt.Printf("%s %s (peeled %s)\n", rec.RefName, hex.EncodeToString(rec.Value), hex.EncodeToString(rec.Target))
			}
			return nil
		},
	}
}

func newAddRefCmd() *cobra.Command {
	var value string
	cmd := &cobra.Command{
		Use:   "add-ref NAME",
		Short: "write a single hash-valued ref",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openStack()
			if err != nil {
				return err
			}
			defer st.Close()

			val, err := hex.DecodeString(value)
			if err != nil {
				return fmt.Errorf("--value must be hex: %w", err)
			}

			return st.Add(func(a *rstack.Addition) error {
				return a.AddRef(record.RefRecord{
					RefName: args[0],
					Kind:    record.RefValueHash1,
					Value:   val,
				})
			})
		},
	}
	cmd.Flags().StringVar(&value, "value", "", "hex-encoded object id")
	cmd.MarkFlagRequired("value")
	return cmd
}

func newAddSymrefCmd() *cobra.Command {
	var target string
	cmd := &cobra.Command{
		Use:   "add-symref NAME",
		Short: "write a symbolic ref pointing at another ref",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openStack()
			if err != nil {
				return err
			}
			defer st.Close()

			return st.Add(func(a *rstack.Addition) error {
				return a.AddRef(record.RefRecord{
					RefName: args[0],
					Kind:    record.RefValueSymref,
					Symref:  target,
				})
			})
		},
	}
	cmd.Flags().StringVar(&target, "target", "", "name of the ref this symref resolves to")
	cmd.MarkFlagRequired("target")
	return cmd
}

func newDeleteRefCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete-ref NAME",
		Short: "write a tombstone for a ref name",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openStack()
			if err != nil {
				return err
			}
			defer st.Close()

			return st.Add(func(a *rstack.Addition) error {
				return a.AddRef(record.Tombstone(args[0], 0))
			})
		},
	}
}
