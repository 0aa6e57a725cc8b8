// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/watchdog/pkg/bpacket"
)

var (
	discoveryTimeout int
	discoveryFrom    string
	discoveryStatus  bool
)

var discoveryCmd = &cobra.Command{
	Use:   "discovery",
	Short: "Find which nodes answer on the connection",
	Long: `Ping every node except the sender and report which ones answer.

Nodes behind a relay answer too: from MAPLE, the ESP32 is reached through the
STM32. With --status each responder is also asked for its STATUS text.

Examples:
  # Find nodes from the host side of the STM32
  watchdog discovery --port /dev/ttyUSB0

  # Pretend to be the ESP32
  watchdog discovery --port /dev/ttyUSB1 --from esp32

Exit codes:
  0 - Discovery successful (at least one node found)
  1 - Discovery failed (no node answered)
  2 - Connection error`,
	RunE: runDiscovery,
}

func init() {
	rootCmd.AddCommand(discoveryCmd)
	discoveryCmd.Flags().IntVar(&discoveryTimeout, "timeout", 2, "Timeout in seconds per node")
	discoveryCmd.Flags().StringVar(&discoveryFrom, "from", "maple", "Sender node")
	discoveryCmd.Flags().BoolVar(&discoveryStatus, "status", false, "Ask each responder for its STATUS")
}

// discoveredNode is one node that answered a ping
type discoveredNode struct {
	address bpacket.Address
	rtt     time.Duration
	status  string
}

func runDiscovery(cmd *cobra.Command, args []string) error {
	from, err := bpacket.LookupAddress(discoveryFrom)
	if err != nil {
		return err
	}

	conn, connInfo, err := OpenConnection()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}
	defer conn.Close()

	fmt.Printf("Watchdog - Node Discovery\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Sender: %s\n", from)
	fmt.Printf("Timeout: %d seconds per node\n\n", discoveryTimeout)

	ctx := cmd.Context()
	events := streamPackets(ctx, conn)
	timeout := time.Duration(discoveryTimeout) * time.Second
	nodes := make([]discoveredNode, 0, len(bpacket.Addresses))

	for _, to := range bpacket.Addresses {
		if to == from {
			continue
		}

		req, err := bpacket.NewPingRequest(to, from)
		if err != nil {
			return err
		}

		fmt.Printf("PING %s... ", to)
		start := time.Now()
		if _, err := conn.Write(bpacket.MustEncode(req)); err != nil {
			fmt.Printf("SEND FAILED: %v\n", err)
			os.Exit(2)
		}

		reply, err := waitForReply(ctx, events, req, timeout)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			fmt.Printf("no answer (%v)\n", err)
			continue
		}

		node := discoveredNode{address: to, rtt: time.Since(start)}
		fmt.Printf("%s in %v\n", reply.Code(), node.rtt.Round(time.Millisecond))

		if discoveryStatus {
			statusReq, err := bpacket.NewStatusRequest(to, from)
			if err != nil {
				return err
			}
			if _, err := conn.Write(bpacket.MustEncode(statusReq)); err == nil {
				if status, err := waitForReply(ctx, events, statusReq, timeout); err == nil {
					node.status = status.Text()
				}
			}
		}
		nodes = append(nodes, node)
	}

	fmt.Printf("\n--- Discovery results ---\n")
	if len(nodes) == 0 {
		fmt.Printf("No nodes found\n")
		os.Exit(1)
	}

	fmt.Printf("Found %d node(s):\n", len(nodes))
	for _, n := range nodes {
		fmt.Printf("  %-6s (0x%02X) rtt=%v\n", n.address, n.address.Byte(), n.rtt.Round(time.Millisecond))
		if n.status != "" {
			fmt.Printf("         %s\n", n.status)
		}
	}
	return nil
}
