// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"errors"
	"fmt"
	"io"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/Thermoquad/watchdog/pkg/bpacket"
)

var rawLogHex bool

var rawLogCmd = &cobra.Command{
	Use:   "raw_log",
	Short: "Display raw packet log in human-readable format",
	Long: `Continuously decode and display bpacket frames as they arrive.

Each packet is shown with timestamp, request, route, code and data. MESSAGE
packets are shown as text. Decode errors are shown with the byte and field
that broke the frame.

Supports both serial and WebSocket connections.`,
	RunE: runRawLog,
}

func init() {
	rootCmd.AddCommand(rawLogCmd)
	rawLogCmd.Flags().BoolVar(&rawLogHex, "hex", false, "Also print every frame as wire bytes")
}

func runRawLog(cmd *cobra.Command, args []string) error {
	conn, connInfo, err := OpenConnection()
	if err != nil {
		return err
	}
	defer conn.Close()

	fmt.Printf("Watchdog - Raw Packet Log\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Press Ctrl+C to exit\n\n")

	for ev := range streamPackets(cmd.Context(), conn) {
		switch {
		case ev.readErr != nil:
			if errors.Is(ev.readErr, io.EOF) || errors.Is(ev.readErr, ErrConnectionClosed) {
				log.Info().Msg("connection closed")
				return nil
			}
			return fmt.Errorf("read: %w", ev.readErr)

		case ev.decodeErr != nil:
			fmt.Printf("[ERROR] %s\n", bpacket.FormatDecodeError(ev.decodeErr))

		case ev.packet != nil:
			fmt.Print(bpacket.FormatPacket(ev.packet))
			if rawLogHex {
				fmt.Printf("  Frame: %s\n", bpacket.FormatHex(bpacket.MustEncode(ev.packet), 16, "         "))
			}
		}
	}
	return cmd.Context().Err()
}
