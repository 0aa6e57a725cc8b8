// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/watchdog/internal/capture"
	"github.com/Thermoquad/watchdog/pkg/bpacket"
)

var (
	captureOutput   string
	captureDuration time.Duration
	captureChannel  string
	captureQuiet    bool

	replayChannel string
	replayErrors  bool
)

var captureCmd = &cobra.Command{
	Use:   "capture",
	Short: "Record decoded frames to a capture file",
	Long: `Decode frames from the connection and record every valid packet to a
CBOR capture file, with the time it was received.

The capture can be printed later with the replay command. Decode errors are
counted and shown but not recorded.`,
	RunE: runCapture,
}

var replayCmd = &cobra.Command{
	Use:   "replay FILE",
	Short: "Print the frames of a capture file",
	Long: `Feed every frame of a capture file through a fresh decoder per channel
and print the packets, as raw_log would have shown them live.`,
	Args: cobra.ExactArgs(1),
	RunE: runReplay,
}

func init() {
	rootCmd.AddCommand(captureCmd)
	captureCmd.Flags().StringVarP(&captureOutput, "output", "o", "watchdog.cbor", "Capture file")
	captureCmd.Flags().DurationVarP(&captureDuration, "duration", "d", 0, "Stop after this long (0 runs until Ctrl+C)")
	captureCmd.Flags().StringVar(&captureChannel, "channel", "uart", "Channel name stored with each record")
	captureCmd.Flags().BoolVarP(&captureQuiet, "quiet", "q", false, "Do not print packets while recording")

	rootCmd.AddCommand(replayCmd)
	replayCmd.Flags().StringVar(&replayChannel, "channel", "", "Only show records of this channel")
	replayCmd.Flags().BoolVar(&replayErrors, "errors", true, "Show decode errors")
}

func runCapture(cmd *cobra.Command, args []string) error {
	conn, connInfo, err := OpenConnection()
	if err != nil {
		return err
	}
	defer conn.Close()

	f, err := os.Create(captureOutput)
	if err != nil {
		return err
	}
	defer f.Close()

	w, err := capture.NewWriter(f, "")
	if err != nil {
		return err
	}

	fmt.Printf("Watchdog - Capture\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Output: %s\n", captureOutput)
	fmt.Printf("Press Ctrl+C to stop\n\n")

	ctx := cmd.Context()
	if captureDuration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, captureDuration)
		defer cancel()
	}

	var out io.Writer = os.Stdout
	if captureQuiet {
		out = nil
	}
	stats := bpacket.NewStatistics()
	err = recordStream(ctx, streamPackets(ctx, conn), w, stats, out)

	fmt.Printf("\n%d records written to %s\n", w.Count(), captureOutput)
	fmt.Print(stats.String())
	return err
}

// recordStream writes every packet of events to w until the stream ends or
// ctx is done. Packets and errors are echoed to out unless it is nil.
func recordStream(ctx context.Context, events <-chan streamEvent, w *capture.Writer, stats *bpacket.Statistics, out io.Writer) error {
	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-events:
			if !ok {
				return nil
			}
			switch {
			case ev.readErr != nil:
				if errors.Is(ev.readErr, io.EOF) || errors.Is(ev.readErr, ErrConnectionClosed) {
					return nil
				}
				return fmt.Errorf("read: %w", ev.readErr)

			case ev.decodeErr != nil:
				stats.Update(nil, ev.decodeErr, nil)
				if out != nil {
					fmt.Fprintf(out, "[ERROR] %s\n", bpacket.FormatDecodeError(ev.decodeErr))
				}

			case ev.packet != nil:
				stats.Update(ev.packet, nil, bpacket.ValidatePacket(ev.packet))
				if err := w.WritePacket(captureChannel, ev.packet); err != nil {
					return err
				}
				if out != nil {
					fmt.Fprint(out, bpacket.FormatPacket(ev.packet))
				}
			}
		}
	}
}

func runReplay(cmd *cobra.Command, args []string) error {
	f, err := os.Open(args[0])
	if err != nil {
		return err
	}
	defer f.Close()

	r, err := capture.NewReader(f)
	if err != nil {
		return err
	}

	h := r.Header()
	fmt.Printf("Watchdog - Replay\n")
	fmt.Printf("File: %s (started %s", args[0], h.Started.Format(time.RFC3339))
	if h.Node != "" {
		fmt.Printf(", node %s", h.Node)
	}
	fmt.Printf(")\n\n")

	return replayCapture(r, os.Stdout, replayChannel, replayErrors)
}

// replayCapture prints the events of r to out
func replayCapture(r *capture.Reader, out io.Writer, channel string, showErrors bool) error {
	var packets, forwarded, decodeErrors int

	err := capture.Replay(r, func(ev capture.Event) error {
		if channel != "" && ev.Record.Channel != channel {
			return nil
		}

		prefix := ev.Record.Channel + " @ " + ev.Record.Time.Local().Format("15:04:05.000")
		if ev.Record.Forwarded {
			prefix += " fwd"
		}

		switch {
		case ev.Err != nil:
			decodeErrors++
			if showErrors {
				fmt.Fprintf(out, "<%s> [ERROR] %s\n", prefix, bpacket.FormatDecodeError(ev.Err))
			}
		case ev.Packet != nil:
			packets++
			if ev.Record.Forwarded {
				forwarded++
			}
			fmt.Fprintf(out, "<%s> %s", prefix, bpacket.FormatPacket(ev.Packet))
		}
		return nil
	})
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "\n%d packets (%d forwarded), %d decode errors\n", packets, forwarded, decodeErrors)
	return nil
}
