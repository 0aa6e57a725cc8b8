// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package config loads the TOML file describing a relay node and its
// physical channels.
package config

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/Thermoquad/watchdog/pkg/bpacket"
)

// Defaults
const (
	DefaultBaud      = 115200
	DefaultIdleReset = 500 * time.Millisecond
)

// ErrInvalidConfig is wrapped by every validation failure
var ErrInvalidConfig = errors.New("invalid config")

// Config is the runtime configuration of a relay node
type Config struct {
	Node         bpacket.Address
	Baud         int
	QueueSize    int
	ReportErrors bool
	IdleReset    time.Duration
	Channels     []Channel
}

// Channel is one physical link and the peer node reached through it
type Channel struct {
	Name     string
	Port     string
	URL      string
	Username string
	Baud     int
	Peer     bpacket.Address
}

// Transport returns "serial" or "websocket"
func (c Channel) Transport() string {
	if c.URL != "" {
		return "websocket"
	}
	return "serial"
}

// Endpoint returns the port or URL of the channel
func (c Channel) Endpoint() string {
	if c.URL != "" {
		return c.URL
	}
	return c.Port
}

// config.toml key mapping
type fileConfig struct {
	Node         string                 `toml:"node"`
	Baud         int                    `toml:"baud"`
	QueueSize    int                    `toml:"queue_size"`
	ReportErrors bool                   `toml:"report_errors"`
	IdleReset    string                 `toml:"idle_reset"`
	Channels     map[string]fileChannel `toml:"channels"`
}

type fileChannel struct {
	Port     string `toml:"port"`
	URL      string `toml:"url"`
	Username string `toml:"username"`
	Baud     int    `toml:"baud"`
	Address  string `toml:"address"`
}

// Default returns the configuration of an STM32 relay with no channels
func Default() Config {
	return Config{
		Node:      bpacket.AddressStm32,
		Baud:      DefaultBaud,
		QueueSize: bpacket.DefaultQueueSize,
		IdleReset: DefaultIdleReset,
	}
}

// Load reads path and overlays it on Default
func Load(path string) (Config, error) {
	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return Config{}, fmt.Errorf("load config: %w", err)
	}
	return fromFile(raw, meta)
}

// Parse decodes TOML text and overlays it on Default
func Parse(text string) (Config, error) {
	var raw fileConfig
	meta, err := toml.Decode(text, &raw)
	if err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	return fromFile(raw, meta)
}

func fromFile(raw fileConfig, meta toml.MetaData) (Config, error) {
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return Config{}, fmt.Errorf("%w: unknown key %q", ErrInvalidConfig, undecoded[0].String())
	}

	cfg := Default()
	if meta.IsDefined("node") {
		node, err := bpacket.LookupAddress(strings.TrimSpace(raw.Node))
		if err != nil {
			return Config{}, fmt.Errorf("%w: node: %w", ErrInvalidConfig, err)
		}
		cfg.Node = node
	}
	if meta.IsDefined("baud") {
		cfg.Baud = raw.Baud
	}
	if meta.IsDefined("queue_size") {
		cfg.QueueSize = raw.QueueSize
	}
	if meta.IsDefined("report_errors") {
		cfg.ReportErrors = raw.ReportErrors
	}
	if meta.IsDefined("idle_reset") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.IdleReset))
		if err != nil {
			return Config{}, fmt.Errorf("%w: idle_reset: %w", ErrInvalidConfig, err)
		}
		cfg.IdleReset = d
	}

	names := make([]string, 0, len(raw.Channels))
	for name := range raw.Channels {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		fc := raw.Channels[name]
		ch := Channel{
			Name:     name,
			Port:     strings.TrimSpace(fc.Port),
			URL:      strings.TrimSpace(fc.URL),
			Username: strings.TrimSpace(fc.Username),
			Baud:     cfg.Baud,
		}
		if meta.IsDefined("channels", name, "baud") {
			ch.Baud = fc.Baud
		}
		peer, err := bpacket.LookupAddress(strings.TrimSpace(fc.Address))
		if err != nil {
			return Config{}, fmt.Errorf("%w: channel %q address: %w", ErrInvalidConfig, name, err)
		}
		ch.Peer = peer
		cfg.Channels = append(cfg.Channels, ch)
	}

	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints
func Validate(cfg Config) error {
	if !cfg.Node.Valid() {
		return fmt.Errorf("%w: node %s", ErrInvalidConfig, cfg.Node)
	}
	if cfg.Baud <= 0 {
		return fmt.Errorf("%w: baud must be positive, got %d", ErrInvalidConfig, cfg.Baud)
	}
	if cfg.QueueSize < 0 {
		return fmt.Errorf("%w: queue_size must not be negative, got %d", ErrInvalidConfig, cfg.QueueSize)
	}
	if cfg.IdleReset < 0 {
		return fmt.Errorf("%w: idle_reset must not be negative, got %s", ErrInvalidConfig, cfg.IdleReset)
	}
	if len(cfg.Channels) == 0 {
		return fmt.Errorf("%w: at least one channel is required", ErrInvalidConfig)
	}

	peers := make(map[bpacket.Address]string, len(cfg.Channels))
	for _, ch := range cfg.Channels {
		if (ch.Port == "") == (ch.URL == "") {
			return fmt.Errorf("%w: channel %q needs exactly one of port or url", ErrInvalidConfig, ch.Name)
		}
		if ch.Baud <= 0 {
			return fmt.Errorf("%w: channel %q baud must be positive, got %d", ErrInvalidConfig, ch.Name, ch.Baud)
		}
		if ch.Peer == cfg.Node {
			return fmt.Errorf("%w: channel %q reaches the local node %s", ErrInvalidConfig, ch.Name, ch.Peer)
		}
		if other, dup := peers[ch.Peer]; dup {
			return fmt.Errorf("%w: channels %q and %q both reach %s", ErrInvalidConfig, other, ch.Name, ch.Peer)
		}
		peers[ch.Peer] = ch.Name
	}
	return nil
}

// ChannelFor returns the channel that reaches peer
func (c Config) ChannelFor(peer bpacket.Address) (Channel, bool) {
	for _, ch := range c.Channels {
		if ch.Peer == peer {
			return ch, true
		}
	}
	return Channel{}, false
}
