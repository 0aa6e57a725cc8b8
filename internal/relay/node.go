// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package relay runs a watchdog node that sits between two others: it
// answers packets addressed to itself and diverts everything else onto the
// channel that reaches the receiver.
package relay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/Thermoquad/watchdog/internal/capture"
	"github.com/Thermoquad/watchdog/internal/config"
	"github.com/Thermoquad/watchdog/pkg/bpacket"
)

const reportQueueSize = 16

// ErrUnsupportedRequest is reported back to senders of requests the node does not handle
var ErrUnsupportedRequest = errors.New("unsupported request")

// Node is a relay node built from a config.Config
type Node struct {
	local        bpacket.Address
	channels     []*Channel
	links        map[bpacket.Address]*Link
	reportErrors bool
	reports      chan error
	started      time.Time
	log          zerolog.Logger
}

// Option configures a Node
type Option func(*nodeOptions)

type nodeOptions struct {
	logger  zerolog.Logger
	capture *capture.Writer
}

// WithLogger sets the node logger
func WithLogger(l zerolog.Logger) Option {
	return func(o *nodeOptions) { o.logger = l }
}

// WithCapture records every local and diverted frame to w
func WithCapture(w *capture.Writer) Option {
	return func(o *nodeOptions) { o.capture = w }
}

// NewNode creates a node for cfg. ports maps each configured channel name to
// its open connection.
func NewNode(cfg config.Config, ports map[string]io.ReadWriter, opts ...Option) (*Node, error) {
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}
	o := nodeOptions{logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(&o)
	}

	n := &Node{
		local:        cfg.Node,
		links:        make(map[bpacket.Address]*Link, len(cfg.Channels)),
		reportErrors: cfg.ReportErrors,
		reports:      make(chan error, reportQueueSize),
		started:      time.Now(),
		log:          o.logger.With().Str("node", cfg.Node.String()).Logger(),
	}

	for _, ch := range cfg.Channels {
		port, ok := ports[ch.Name]
		if !ok || port == nil {
			return nil, fmt.Errorf("channel %q: no connection", ch.Name)
		}
		n.links[ch.Peer] = NewLink(ch.Name, port)
	}

	for _, ch := range cfg.Channels {
		c := NewChannel(ch.Name, ch.Peer, ports[ch.Name], n.links[ch.Peer], ChannelOptions{
			Local:     cfg.Node,
			Routes:    n.links,
			QueueSize: cfg.QueueSize,
			IdleReset: cfg.IdleReset,
			Capture:   o.capture,
			OnError:   n.channelError,
			Logger:    n.log,
		})
		n.channels = append(n.channels, c)
	}
	return n, nil
}

// Local returns the node address
func (n *Node) Local() bpacket.Address {
	return n.local
}

// Channels returns the node channels in config order
func (n *Node) Channels() []*Channel {
	return n.channels
}

// Run runs every channel and its dispatcher until ctx is done or a channel
// stops. A channel stopping cancels the others; its error, if any, is returned.
func (n *Node) Run(parent context.Context) error {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	var wg sync.WaitGroup
	errc := make(chan error, len(n.channels))

	for _, c := range n.channels {
		wg.Go(func() {
			defer cancel()
			if err := c.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				errc <- fmt.Errorf("channel %s: %w", c.Name(), err)
			}
		})
		wg.Go(func() { n.dispatch(ctx, c) })
	}
	wg.Go(func() { n.reportLoop(ctx) })

	n.log.Info().Int("channels", len(n.channels)).Msg("relay running")
	wg.Wait()

	select {
	case err := <-errc:
		return err
	default:
		return parent.Err()
	}
}

// dispatch handles the local packets received on c
func (n *Node) dispatch(ctx context.Context, c *Channel) {
	for {
		p, err := c.Queue().Wait(ctx)
		if err != nil {
			return
		}
		n.Handle(p)
	}
}

// Handle acts on one packet addressed to the node
func (n *Node) Handle(p *bpacket.Packet) {
	logger := n.log.With().
		Str("request", p.Request().String()).
		Str("from", p.Sender().String()).
		Str("code", p.Code().String()).
		Logger()

	if p.Code() != bpacket.CodeExecute {
		if p.Request() == bpacket.RequestMessage {
			logger.Info().Str("text", p.Text()).Msg("message")
			return
		}
		logger.Debug().Int("len", p.Length()).Msg("response")
		return
	}

	var reply *bpacket.Packet
	var err error
	switch p.Request() {
	case bpacket.RequestPing:
		reply, err = bpacket.NewResponse(p, bpacket.CodeSuccess, nil)
	case bpacket.RequestStatus:
		reply, err = bpacket.NewResponse(p, bpacket.CodeSuccess, []byte(truncate(n.Status(), bpacket.MaxDataSize)))
	case bpacket.RequestHelp:
		reply, err = bpacket.NewResponse(p, bpacket.CodeSuccess, []byte("PING STATUS MESSAGE HELP"))
	case bpacket.RequestMessage:
		logger.Info().Str("text", p.Text()).Msg("message")
		return
	default:
		logger.Warn().Msg("unsupported request")
		reply, err = bpacket.NewDiagnosticPacket(p.Sender(), n.local,
			fmt.Errorf("%w %s (0x%02X)", ErrUnsupportedRequest, p.Request(), p.Request().Byte()))
	}
	if err != nil {
		logger.Error().Err(err).Msg("build reply")
		return
	}
	n.send(reply)
}

// Send writes p to the channel that reaches its receiver
func (n *Node) Send(p *bpacket.Packet) error {
	link, ok := n.links[p.Receiver()]
	if !ok {
		return fmt.Errorf("%w %s", bpacket.ErrNoRoute, p.Receiver())
	}
	return link.WritePacket(p)
}

func (n *Node) send(p *bpacket.Packet) {
	if err := n.Send(p); err != nil {
		n.log.Warn().Err(err).Str("to", p.Receiver().String()).Str("request", p.Request().String()).Msg("send failed")
	}
}

// Status summarizes uptime and per-channel counters in one line of text
func (n *Node) Status() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s up %s", n.local, time.Since(n.started).Truncate(time.Second))
	for _, c := range n.channels {
		s := c.Stats()
		fmt.Fprintf(&b, "; %s: %d pkt %d fwd %d err %d drop", c.Name(), s.ValidPackets+s.Anomalies, s.ForwardedFrames, s.Errors(), s.DroppedPackets)
	}
	return b.String()
}

// channelError is called from a channel goroutine for every decode error
func (n *Node) channelError(c *Channel, err error) {
	if !n.reportErrors || errors.Is(err, bpacket.ErrForwardFailed) {
		return
	}
	select {
	case n.reports <- fmt.Errorf("%s: %w", c.Name(), err):
	default:
		// Reporter is behind; the error is still counted and logged
	}
}

// reportLoop sends queued decode errors to Maple as diagnostic messages
func (n *Node) reportLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case err := <-n.reports:
			if _, ok := n.links[bpacket.AddressMaple]; !ok || n.local == bpacket.AddressMaple {
				continue
			}
			p, buildErr := bpacket.NewDiagnosticPacket(bpacket.AddressMaple, n.local, err)
			if buildErr != nil {
				continue
			}
			n.send(p)
		}
	}
}

// Summary returns the statistics of every channel, sorted by channel name
func (n *Node) Summary() string {
	channels := append([]*Channel(nil), n.channels...)
	sort.Slice(channels, func(i, j int) bool { return channels[i].Name() < channels[j].Name() })

	var b strings.Builder
	for _, c := range channels {
		s := c.Stats()
		fmt.Fprintf(&b, "[%s -> %s]\n%s", c.Name(), c.Peer(), s.String())
	}
	return b.String()
}

func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n]
	}
	return s
}
