// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad
//
// twestage - TWELITE serial console and firmware programmer

package main

import (
	"os"

	"github.com/Thermoquad/twestage/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
