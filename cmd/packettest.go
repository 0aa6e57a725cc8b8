// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var (
	packetTestTimeout int
)

var packetTestCmd = &cobra.Command{
	Use:   "packet_test",
	Short: "Test connection by waiting for a valid bpacket frame",
	Long: `Wait for a valid bpacket frame on the connection until timeout.

This command connects to a serial port or WebSocket and waits for any valid
frame. It ignores invalid bytes and waits for a complete frame with valid
fields and stop bytes.

Exit codes:
  0 - Packet received before timeout
  1 - Timeout reached without receiving a valid packet
  2 - Connection error`,
	RunE: runPacketTest,
}

func init() {
	rootCmd.AddCommand(packetTestCmd)
	packetTestCmd.Flags().IntVar(&packetTestTimeout, "timeout", 10, "Timeout in seconds to wait for a packet")
}

func runPacketTest(cmd *cobra.Command, args []string) error {
	conn, connInfo, err := OpenConnection()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}
	defer conn.Close()

	fmt.Printf("Watchdog - Packet Test\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Timeout: %d seconds\n", packetTestTimeout)
	fmt.Printf("Waiting for valid bpacket frame...\n\n")

	events := streamPackets(cmd.Context(), conn)
	timeout := time.After(time.Duration(packetTestTimeout) * time.Second)
	decodeErrors := 0

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				fmt.Fprintf(os.Stderr, "Connection closed\n")
				os.Exit(2)
			}
			if ev.readErr != nil {
				fmt.Fprintf(os.Stderr, "Read error: %v\n", ev.readErr)
				os.Exit(2)
			}
			if ev.decodeErr != nil {
				decodeErrors++
				continue
			}

			packet := ev.packet
			if decodeErrors > 0 {
				fmt.Printf("(skipped %d decode errors before sync)\n", decodeErrors)
			}
			fmt.Printf("SUCCESS: Received valid packet\n")
			fmt.Printf("  Request: %s (0x%02X)\n", packet.Request(), packet.Request().Byte())
			fmt.Printf("  Route: %s -> %s\n", packet.Sender(), packet.Receiver())
			fmt.Printf("  Code: %s\n", packet.Code())
			fmt.Printf("  Length: %d bytes\n", packet.Length())
			os.Exit(0)

		case <-timeout:
			fmt.Fprintf(os.Stderr, "TIMEOUT: No valid packet received within %d seconds\n", packetTestTimeout)
			os.Exit(1)

		case <-cmd.Context().Done():
			return cmd.Context().Err()
		}
	}
}
