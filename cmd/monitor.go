// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/Thermoquad/watchdog/pkg/bpacket"
)

var (
	monitorShowAll       bool
	monitorStatsInterval int
	monitorTUI           bool
	monitorTo            string
	monitorFrom          string
	monitorCode          string
)

var monitorCmd = &cobra.Command{
	Use:     "monitor",
	Aliases: []string{"error_detection"},
	Short:   "Monitor traffic, detect errors and send messages",
	Long: `Track decode errors and protocol anomalies with statistics.

This command decodes every frame and detects:
  - Framing errors (bad start or stop bytes)
  - Field errors (unknown receiver, sender, request or code)
  - Anomalies (self-addressed packets, invalid MESSAGE text, unusual codes)
  - Statistics and trends (packet rate, error rate, success rate)

MESSAGE packets are always shown. Use --show-all to display every packet.

In the terminal UI, text typed at the prompt is sent as a MESSAGE packet to
the --to node. Use --tui=false for a plain text log with periodic statistics.`,
	RunE: runMonitor,
}

func init() {
	rootCmd.AddCommand(monitorCmd)
	monitorCmd.Flags().BoolVar(&monitorShowAll, "show-all", false, "Show all packets (not just errors and messages)")
	monitorCmd.Flags().IntVar(&monitorStatsInterval, "stats-interval", 10, "Statistics update interval (seconds, text mode)")
	monitorCmd.Flags().BoolVar(&monitorTUI, "tui", true, "Use terminal UI (false for text mode)")
	monitorCmd.Flags().StringVar(&monitorTo, "to", "stm32", "Receiver of typed messages")
	monitorCmd.Flags().StringVar(&monitorFrom, "from", "maple", "Sender of typed messages")
	monitorCmd.Flags().StringVar(&monitorCode, "code", "debug", "Code of typed messages")
}

func runMonitor(cmd *cobra.Command, args []string) error {
	to, err := bpacket.LookupAddress(monitorTo)
	if err != nil {
		return err
	}
	from, err := bpacket.LookupAddress(monitorFrom)
	if err != nil {
		return err
	}
	code, err := bpacket.LookupCode(monitorCode)
	if err != nil {
		return err
	}

	conn, connInfo, err := OpenConnection()
	if err != nil {
		return err
	}
	defer conn.Close()

	if monitorTUI {
		return runMonitorTUI(cmd.Context(), conn, connInfo, to, from, code)
	}

	fmt.Printf("Watchdog - Monitor\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Statistics interval: %d seconds\n", monitorStatsInterval)
	if monitorShowAll {
		fmt.Printf("Mode: All packets\n")
	} else {
		fmt.Printf("Mode: Errors and messages\n")
	}
	fmt.Printf("Press Ctrl+C to exit\n\n")

	ctx := cmd.Context()
	statsEvery := time.Duration(monitorStatsInterval) * time.Second
	return runMonitorText(ctx, streamPackets(ctx, conn), os.Stdout, monitorShowAll, statsEvery)
}

func runMonitorTUI(ctx context.Context, conn Connection, connInfo string, to, from bpacket.Address, code bpacket.Code) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	m := initialMonitorModel(conn, connInfo, to, from, code, monitorShowAll)
	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx))

	go batchEvents(ctx, streamPackets(ctx, conn), 50*time.Millisecond, p.Send)

	if _, err := p.Run(); err != nil && ctx.Err() == nil {
		return fmt.Errorf("TUI error: %w", err)
	}
	return nil
}

// runMonitorText prints errors, messages and periodic statistics to out
// until the stream ends or ctx is done
func runMonitorText(ctx context.Context, events <-chan streamEvent, out io.Writer, showAll bool, statsEvery time.Duration) error {
	stats := bpacket.NewStatistics()

	// Sync tracking, decode errors before the first valid packet are ignored
	synchronized := false
	skipped := 0

	var tick <-chan time.Time
	if statsEvery > 0 {
		ticker := time.NewTicker(statsEvery)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			fmt.Fprintln(out)
			fmt.Fprint(out, stats.String())
			return nil

		case <-tick:
			fmt.Fprintln(out)
			fmt.Fprint(out, stats.String())
			fmt.Fprintln(out)

		case ev, ok := <-events:
			if !ok {
				fmt.Fprint(out, stats.String())
				return nil
			}

			switch {
			case ev.readErr != nil:
				fmt.Fprint(out, stats.String())
				if errors.Is(ev.readErr, io.EOF) || errors.Is(ev.readErr, ErrConnectionClosed) {
					return nil
				}
				return fmt.Errorf("read: %w", ev.readErr)

			case ev.decodeErr != nil:
				if !synchronized {
					skipped++
					continue
				}
				stats.Update(nil, ev.decodeErr, nil)
				printDecodeError(out, ev.decodeErr)

			case ev.packet != nil:
				packet := ev.packet
				if !synchronized {
					synchronized = true
					if skipped > 0 {
						fmt.Fprintf(out, "[SYNC] Synchronized after skipping %d decode errors\n\n", skipped)
					} else {
						fmt.Fprintf(out, "[SYNC] Synchronized\n\n")
					}
				}

				anomalies := bpacket.ValidatePacket(packet)
				stats.Update(packet, nil, anomalies)

				switch {
				case len(anomalies) > 0:
					printValidationErrors(out, packet, anomalies)
				case packet.Request() == bpacket.RequestMessage:
					printMessage(out, packet)
				case showAll:
					fmt.Fprint(out, bpacket.FormatPacket(packet))
				}
			}
		}
	}
}

// printDecodeError prints a decode error in highlighted format
func printDecodeError(out io.Writer, err error) {
	timestamp := time.Now().Format("15:04:05.000")
	fmt.Fprintf(out, "[%s] \033[1;31mDECODE ERROR:\033[0m %s\n", timestamp, bpacket.FormatDecodeError(err))
	fmt.Fprintf(out, "  >>> FRAME DROPPED <<<\n\n")
}

// printMessage prints a MESSAGE packet, errors in red
func printMessage(out io.Writer, packet *bpacket.Packet) {
	timestamp := packet.Timestamp().Format("15:04:05.000")
	color := "1;32"
	if packet.Code() == bpacket.CodeError {
		color = "1;31"
	}
	fmt.Fprintf(out, "[%s] \033[%smMESSAGE %s->%s (%s):\033[0m %s\n\n",
		timestamp, color, packet.Sender(), packet.Receiver(), packet.Code(), packet.Text())
}

// printValidationErrors prints validation errors for a packet
func printValidationErrors(out io.Writer, packet *bpacket.Packet, anomalies []bpacket.ValidationError) {
	timestamp := packet.Timestamp().Format("15:04:05.000")

	fmt.Fprintf(out, "[%s] \033[1;33mANOMALY:\033[0m %s (0x%02X) %s->%s\n",
		timestamp, packet.Request(), packet.Request().Byte(), packet.Sender(), packet.Receiver())

	for i, err := range anomalies {
		switch err.Type {
		case bpacket.AnomalyInvalidText:
			fmt.Fprintf(out, "  Issue %d: \033[1;31m%s\033[0m\n", i+1, err.Message)
			fmt.Fprintf(out, "    Data: %s\n", bpacket.FormatHex(packet.Data(), 16, "          "))

		case bpacket.AnomalySelfAddressed, bpacket.AnomalyHostCommand:
			fmt.Fprintf(out, "  Issue %d: \033[1;31m%s\033[0m\n", i+1, err.Message)

		default:
			fmt.Fprintf(out, "  Issue %d: \033[1;33m%s\033[0m\n", i+1, err.Message)
		}
	}

	fmt.Fprintf(out, "  Code: %s, Length: %d\n\n", packet.Code(), packet.Length())
}
