// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/Thermoquad/watchdog/internal/capture"
	"github.com/Thermoquad/watchdog/internal/config"
	"github.com/Thermoquad/watchdog/internal/relay"
)

var (
	relayCapture string
	relayCheck   bool
)

var relayCmd = &cobra.Command{
	Use:   "relay",
	Short: "Run a relay node from a config file",
	Long: `Run a node that answers its own packets and diverts all others.

The node and its channels are described by a TOML file (--config):

  node = "stm32"
  report_errors = true
  idle_reset = "500ms"

  [channels.camera]
  port = "/dev/ttyUSB0"
  address = "esp32"

  [channels.host]
  url = "ws://bridge.local/watchdog"
  address = "maple"

Frames addressed to the node are answered (PING, STATUS, HELP, MESSAGE).
Frames addressed elsewhere are copied byte for byte to the channel that
reaches their receiver. A per-channel summary is printed on exit.`,
	RunE: runRelay,
}

func init() {
	rootCmd.AddCommand(relayCmd)
	relayCmd.Flags().StringVar(&relayCapture, "capture", "", "Record local and diverted frames to this file")
	relayCmd.Flags().BoolVar(&relayCheck, "check", false, "Validate the config and exit")
}

func runRelay(cmd *cobra.Command, args []string) error {
	if configPath == "" {
		return errors.New("--config is required")
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	fmt.Print(describeConfig(cfg))
	if relayCheck {
		return nil
	}

	ports := make(map[string]io.ReadWriter, len(cfg.Channels))
	var closers []io.Closer
	defer func() {
		for _, c := range closers {
			c.Close()
		}
	}()

	for _, ch := range cfg.Channels {
		conn, err := OpenChannel(ch)
		if err != nil {
			return fmt.Errorf("channel %s: %w", ch.Name, err)
		}
		closers = append(closers, conn)
		ports[ch.Name] = conn
		log.Info().
			Str("channel", ch.Name).
			Str("peer", ch.Peer.String()).
			Str(ch.Transport(), ch.Endpoint()).
			Msg("channel open")
	}

	opts := []relay.Option{relay.WithLogger(log.Logger)}
	if relayCapture != "" {
		f, err := os.Create(relayCapture)
		if err != nil {
			return err
		}
		closers = append(closers, f)
		w, err := capture.NewWriter(f, cfg.Node.String())
		if err != nil {
			return err
		}
		opts = append(opts, relay.WithCapture(w))
	}

	node, err := relay.NewNode(cfg, ports, opts...)
	if err != nil {
		return err
	}

	runErr := node.Run(cmd.Context())

	fmt.Println()
	fmt.Print(node.Summary())

	if runErr != nil && cmd.Context().Err() == nil {
		return runErr
	}
	return nil
}

// describeConfig renders the channels of cfg one per line
func describeConfig(cfg config.Config) string {
	var b strings.Builder
	fmt.Fprintf(&b, "node %s, %d channel(s)\n", cfg.Node, len(cfg.Channels))
	for _, ch := range cfg.Channels {
		fmt.Fprintf(&b, "  %-10s %-9s %s -> %s\n", ch.Name, ch.Transport(), ch.Endpoint(), ch.Peer)
	}
	return b.String()
}
