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
	pingTimeout int
	pingCount   int
	pingTo      string
	pingFrom    string
)

var pingCmd = &cobra.Command{
	Use:   "ping",
	Short: "Send PING to a node and wait for its reply",
	Long: `Send EXECUTE-coded PING packets and wait for the SUCCESS-coded reply.

By default the packets go from MAPLE to the STM32, which answers locally. Pings
addressed to the ESP32 travel through the STM32 relay and check both links.

This is useful for verifying:
  - The connection is established
  - The receiver decodes frames from this link
  - A relay node diverts frames in both directions

Exit codes:
  0 - All pings successful
  1 - One or more pings failed/timed out
  2 - Connection error`,
	RunE: runPing,
}

func init() {
	rootCmd.AddCommand(pingCmd)
	pingCmd.Flags().IntVar(&pingTimeout, "timeout", 5, "Timeout in seconds for each ping")
	pingCmd.Flags().IntVar(&pingCount, "count", 3, "Number of pings to send")
	pingCmd.Flags().StringVar(&pingTo, "to", "stm32", "Receiver node")
	pingCmd.Flags().StringVar(&pingFrom, "from", "maple", "Sender node")
}

func runPing(cmd *cobra.Command, args []string) error {
	to, err := bpacket.LookupAddress(pingTo)
	if err != nil {
		return err
	}
	from, err := bpacket.LookupAddress(pingFrom)
	if err != nil {
		return err
	}
	if pingCount < 1 {
		return fmt.Errorf("--count must be at least 1")
	}

	conn, connInfo, err := OpenConnection()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}
	defer conn.Close()

	fmt.Printf("Watchdog - Ping\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Route: %s -> %s\n", from, to)
	fmt.Printf("Timeout: %d seconds per ping\n", pingTimeout)
	fmt.Printf("Count: %d pings\n\n", pingCount)

	ctx := cmd.Context()
	events := streamPackets(ctx, conn)
	timeout := time.Duration(pingTimeout) * time.Second
	successCount := 0
	failCount := 0

	for i := 1; i <= pingCount; i++ {
		fmt.Printf("Ping %d/%d: ", i, pingCount)

		req, err := bpacket.NewPingRequest(to, from)
		if err != nil {
			return err
		}

		startTime := time.Now()
		if _, err := conn.Write(bpacket.MustEncode(req)); err != nil {
			fmt.Printf("SEND FAILED: %v\n", err)
			failCount++
			continue
		}

		reply, err := waitForReply(ctx, events, req, timeout)
		switch {
		case err == nil && reply.Code() == bpacket.CodeSuccess:
			rtt := time.Since(startTime)
			fmt.Printf("PONG from %s, rtt=%v\n", reply.Sender(), rtt.Round(time.Millisecond))
			successCount++

		case err == nil:
			fmt.Printf("%s from %s %s\n", reply.Code(), reply.Sender(), reply.Text())
			failCount++

		case ctx.Err() != nil:
			return ctx.Err()

		default:
			fmt.Printf("FAILED: %v\n", err)
			failCount++
		}

		// Small delay between pings
		if i < pingCount {
			time.Sleep(100 * time.Millisecond)
		}
	}

	fmt.Printf("\n--- Ping statistics ---\n")
	fmt.Printf("%d pings sent, %d responses received, %.0f%% packet loss\n",
		pingCount, successCount, float64(failCount)/float64(pingCount)*100)

	if failCount > 0 {
		os.Exit(1)
	}
	return nil
}
