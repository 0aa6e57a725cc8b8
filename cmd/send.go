// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/watchdog/pkg/bpacket"
)

var (
	sendTo      string
	sendFrom    string
	sendRequest string
	sendCode    string
	sendText    string
	sendHex     string
	sendWait    time.Duration
	sendDryRun  bool
)

var sendCmd = &cobra.Command{
	Use:   "send",
	Short: "Build a packet from flags and write it",
	Long: `Build one bpacket frame and write it to the connection.

Data is given either as text (--text) or as hex bytes (--hex "0A 1B 2C").
Request and code names are case-insensitive and accept dashes or
underscores (take-photo, TAKE_PHOTO).

With --wait the command keeps reading until the reply arrives or the wait
expires. With --dry-run the frame is printed and nothing is opened.

Examples:
  watchdog send --port /dev/ttyUSB0 --to stm32 --request take_photo
  watchdog send --port /dev/ttyUSB0 --to esp32 --request message --code debug --text "hello"
  watchdog send --dry-run --to stm32 --request set_datetime --hex "18 0A 0E 0C 00 00"`,
	RunE: runSend,
}

func init() {
	rootCmd.AddCommand(sendCmd)
	sendCmd.Flags().StringVar(&sendTo, "to", "stm32", "Receiver node")
	sendCmd.Flags().StringVar(&sendFrom, "from", "maple", "Sender node")
	sendCmd.Flags().StringVarP(&sendRequest, "request", "r", "ping", "Request name")
	sendCmd.Flags().StringVar(&sendCode, "code", "execute", "Code name")
	sendCmd.Flags().StringVarP(&sendText, "text", "t", "", "Data as text")
	sendCmd.Flags().StringVar(&sendHex, "hex", "", "Data as hex bytes")
	sendCmd.Flags().DurationVarP(&sendWait, "wait", "w", 0, "Wait this long for a reply")
	sendCmd.Flags().BoolVar(&sendDryRun, "dry-run", false, "Print the frame without sending it")
	sendCmd.MarkFlagsMutuallyExclusive("text", "hex")
}

// buildPacket resolves the packet described by names and data flags
func buildPacket(to, from, request, code, text, hexData string) (*bpacket.Packet, error) {
	receiver, err := bpacket.LookupAddress(to)
	if err != nil {
		return nil, fmt.Errorf("--to: %w", err)
	}
	sender, err := bpacket.LookupAddress(from)
	if err != nil {
		return nil, fmt.Errorf("--from: %w", err)
	}
	req, err := bpacket.LookupRequest(request)
	if err != nil {
		return nil, fmt.Errorf("--request: %w", err)
	}
	c, err := bpacket.LookupCode(code)
	if err != nil {
		return nil, fmt.Errorf("--code: %w", err)
	}

	var data []byte
	switch {
	case text != "" && hexData != "":
		return nil, errors.New("--text and --hex are mutually exclusive")
	case text != "":
		data = []byte(text)
	case hexData != "":
		data, err = parseHexData(hexData)
		if err != nil {
			return nil, err
		}
	}

	return bpacket.NewPacket(receiver, sender, req, c, data)
}

func runSend(cmd *cobra.Command, args []string) error {
	packet, err := buildPacket(sendTo, sendFrom, sendRequest, sendCode, sendText, sendHex)
	if err != nil {
		return err
	}
	frame, err := bpacket.Encode(packet)
	if err != nil {
		return err
	}

	fmt.Print(bpacket.FormatPacket(packet))
	fmt.Printf("  Frame: %s\n", bpacket.FormatHex(frame, 16, "         "))
	if sendDryRun {
		return nil
	}

	conn, connInfo, err := OpenConnection()
	if err != nil {
		return err
	}
	defer conn.Close()

	ctx := cmd.Context()
	var events <-chan streamEvent
	if sendWait > 0 {
		events = streamPackets(ctx, conn)
	}

	if _, err := conn.Write(frame); err != nil {
		return fmt.Errorf("send on %s: %w", connInfo, err)
	}
	fmt.Printf("Sent %d bytes on %s\n", len(frame), connInfo)

	if sendWait <= 0 {
		return nil
	}

	reply, err := waitForReply(ctx, events, packet, sendWait)
	if err != nil {
		return err
	}
	fmt.Printf("\nReply:\n")
	fmt.Print(bpacket.FormatPacket(reply))
	return nil
}
