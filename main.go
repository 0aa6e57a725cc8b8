// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad
//
// Watchdog - bpacket protocol tool
//
// A CLI tool for decoding, sending and relaying the bpacket frames exchanged
// by the nodes of a Watchdog camera trap.

package main

import (
	"os"

	"github.com/Thermoquad/watchdog/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
