// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad
//
// Coldlocker - refrigerated locker controller
//
// Runs the locker controller and provides host-side tools for querying it
// and analyzing its serial link.

package main

import (
	"os"

	"github.com/Thermoquad/coldlocker/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
