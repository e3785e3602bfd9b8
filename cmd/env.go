// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/coldlocker/pkg/envstore"
)

var (
	envFile       string
	envRegionSize int
)

var envCmd = &cobra.Command{
	Use:   "env",
	Short: "Inspect and edit a controller's persistent environment file",
	Long: `Read and change the variables kept in the controller's environment file.

The file holds a main and a backup copy. Opening it repairs whichever copy
is damaged or older, exactly as the controller does at startup.

Stop the controller before changing the file; it keeps its own copy in
memory and overwrites the file on its next save.`,
}

func init() {
	envCmd.PersistentFlags().StringVarP(&envFile, "file", "f", os.Getenv("COLDLOCKER_ENV_PATH"), "Environment file")
	envCmd.PersistentFlags().IntVar(&envRegionSize, "region-size", envstore.DefaultRegionSize, "Bytes per copy")

	envCmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List every variable",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				store, err := openEnvStore()
				if err != nil {
					return err
				}
				for _, e := range store.All() {
					fmt.Printf("%s=%s\n", e.Name, e.Value)
				}
				return nil
			},
		},
		&cobra.Command{
			Use:   "get <name>",
			Short: "Print one variable",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				store, err := openEnvStore()
				if err != nil {
					return err
				}
				v, ok := store.Get(args[0])
				if !ok {
					return fmt.Errorf("%w: %s", envstore.ErrNotFound, args[0])
				}
				fmt.Println(v)
				return nil
			},
		},
		&cobra.Command{
			Use:   "set <name> <value>",
			Short: "Set a variable",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				store, err := openEnvStore()
				if err != nil {
					return err
				}
				return store.Set(args[0], args[1])
			},
		},
		&cobra.Command{
			Use:   "delete <name>",
			Short: "Delete a variable",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				store, err := openEnvStore()
				if err != nil {
					return err
				}
				return store.Delete(args[0])
			},
		},
		&cobra.Command{
			Use:   "clear",
			Short: "Delete every variable",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				store, err := openEnvStore()
				if err != nil {
					return err
				}
				return store.Clear()
			},
		},
		&cobra.Command{
			Use:   "info",
			Short: "Show the save counter and free space",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				store, err := openEnvStore()
				if err != nil {
					return err
				}
				fmt.Printf("File:      %s\n", envFile)
				fmt.Printf("Counter:   %d\n", store.Counter())
				fmt.Printf("Variables: %d\n", len(store.All()))
				fmt.Printf("Free:      %d bytes\n", store.Free())
				return nil
			},
		},
	)
	rootCmd.AddCommand(envCmd)
}

// openEnvStore opens the file and reports any repair done while loading
func openEnvStore() (*envstore.Store, error) {
	if envFile == "" {
		return nil, errors.New("--file is required (or set COLDLOCKER_ENV_PATH)")
	}
	backend, err := envstore.NewFileBackend(envFile, envRegionSize)
	if err != nil {
		return nil, err
	}
	store, recovery, err := envstore.Open(backend)
	if err != nil {
		return nil, err
	}
	if recovery != envstore.RecoveryNone {
		fmt.Fprintf(os.Stderr, "env: %s\n", recovery)
	}
	return store, nil
}
