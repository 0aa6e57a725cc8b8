// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package relay

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/rs/zerolog"

	"github.com/Thermoquad/watchdog/internal/capture"
	"github.com/Thermoquad/watchdog/internal/syncutil"
	"github.com/Thermoquad/watchdog/pkg/bpacket"
)

const readChunkSize = 256

// Channel is one physical link of a node: a byte source feeding a Router,
// and the Link its peer is reached through.
//
// Run owns the router. Completed local packets are handed to the node
// through the channel's queue.
type Channel struct {
	name string
	peer bpacket.Address
	src  io.Reader
	link *Link

	router     *bpacket.Router
	forwarders []*forwarder
	queue      *bpacket.Queue

	statsMu syncutil.Mutex
	stats   *bpacket.Statistics

	idleReset time.Duration
	capture   *capture.Writer
	onError   func(*Channel, error)
	log       zerolog.Logger
}

// ChannelOptions configures a standalone Channel
type ChannelOptions struct {
	Local     bpacket.Address
	Routes    map[bpacket.Address]*Link
	QueueSize int
	IdleReset time.Duration
	Capture   *capture.Writer
	OnError   func(*Channel, error)
	Logger    zerolog.Logger
}

// NewChannel creates a channel reading from src whose peer is reached via link
func NewChannel(name string, peer bpacket.Address, src io.Reader, link *Link, opts ChannelOptions) *Channel {
	c := &Channel{
		name:      name,
		peer:      peer,
		src:       src,
		link:      link,
		queue:     bpacket.NewQueue(opts.QueueSize),
		stats:     bpacket.NewStatistics(),
		idleReset: opts.IdleReset,
		capture:   opts.Capture,
		onError:   opts.OnError,
		log:       opts.Logger.With().Str("channel", name).Logger(),
	}

	routes := make(map[bpacket.Address]io.Writer, len(opts.Routes))
	for addr, l := range opts.Routes {
		f := &forwarder{link: l, record: opts.Capture != nil}
		c.forwarders = append(c.forwarders, f)
		routes[addr] = f
	}
	c.router = bpacket.NewRouter(opts.Local, routes)
	return c
}

// Name returns the channel name
func (c *Channel) Name() string {
	return c.name
}

// Peer returns the address of the node at the other end of the channel
func (c *Channel) Peer() bpacket.Address {
	return c.peer
}

// Link returns the outbound side of the channel
func (c *Channel) Link() *Link {
	return c.link
}

// Queue returns the queue of local packets received on the channel
func (c *Channel) Queue() *bpacket.Queue {
	return c.queue
}

// Stats returns a snapshot of the channel statistics
func (c *Channel) Stats() bpacket.Statistics {
	c.statsMu.Lock()
	defer c.statsMu.Unlock()
	s := *c.stats
	s.ErrorsByCode = make(map[bpacket.ErrorCode]uint64, len(c.stats.ErrorsByCode))
	for k, v := range c.stats.ErrorsByCode {
		s.ErrorsByCode[k] = v
	}
	return s
}

// Run reads from the channel until ctx is done or the source fails.
// A source reaching io.EOF ends Run without error.
func (c *Channel) Run(ctx context.Context) error {
	chunks := make(chan []byte)
	readErr := make(chan error, 1)
	go c.readLoop(ctx, chunks, readErr)

	defer c.releaseForwarders()

	idle := time.NewTimer(time.Hour)
	idle.Stop()
	defer idle.Stop()

	c.log.Debug().Str("peer", c.peer.String()).Dur("idle_reset", c.idleReset).Msg("channel running")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case err := <-readErr:
			if errors.Is(err, io.EOF) {
				c.log.Info().Msg("channel closed")
				return nil
			}
			return err

		case chunk := <-chunks:
			c.Feed(chunk)
			if c.idleReset > 0 && c.router.InFrame() {
				idle.Reset(c.idleReset)
			}

		case <-idle.C:
			if c.router.InFrame() {
				c.log.Debug().Bool("diverting", c.router.Diverting()).Msg("idle reset of stalled frame")
				c.router.Reset()
				c.releaseForwarders()
			}
		}
	}
}

func (c *Channel) readLoop(ctx context.Context, chunks chan<- []byte, readErr chan<- error) {
	for {
		buf := make([]byte, readChunkSize)
		n, err := c.src.Read(buf)
		if n > 0 {
			select {
			case chunks <- buf[:n]:
			case <-ctx.Done():
				return
			}
		}
		if err != nil {
			readErr <- err
			return
		}
	}
}

// Feed routes bytes as if they had been read from the channel.
// It must only be called from the goroutine that owns the channel.
func (c *Channel) Feed(data []byte) {
	for _, b := range data {
		p, forwarded, err := c.router.RouteByte(b)

		if !c.router.Diverting() {
			frame := c.releaseForwarders()
			if forwarded && c.capture != nil && frame != nil {
				c.record(capture.Record{Time: time.Now(), Channel: c.name, Frame: frame, Forwarded: true})
			}
		}
		if forwarded {
			c.statsMu.Lock()
			c.stats.Forwarded()
			c.statsMu.Unlock()
		}
		if err != nil {
			c.handleError(err)
		}
		if p != nil {
			c.deliver(p)
		}
	}
}

func (c *Channel) deliver(p *bpacket.Packet) {
	anomalies := bpacket.ValidatePacket(p)

	c.statsMu.Lock()
	c.stats.Update(p, nil, anomalies)
	c.statsMu.Unlock()

	for _, a := range anomalies {
		c.log.Debug().Str("request", p.Request().String()).Msg(a.Message)
	}
	if c.capture != nil {
		if err := c.capture.WritePacket(c.name, p); err != nil {
			c.log.Warn().Err(err).Msg("capture failed")
		}
	}

	if !c.queue.Push(p) {
		c.statsMu.Lock()
		c.stats.Dropped()
		c.statsMu.Unlock()
		c.log.Warn().Str("request", p.Request().String()).Msg("queue full, packet dropped")
	}
}

func (c *Channel) handleError(err error) {
	c.statsMu.Lock()
	c.stats.Update(nil, err, nil)
	c.statsMu.Unlock()

	ev := c.log.Warn().Err(err).Str("code", bpacket.ErrorCodeOf(err).String())
	var de *bpacket.DecodeError
	if errors.As(err, &de) {
		ev = ev.Str("role", de.Role.String()).Int("offset", de.Offset)
	}
	ev.Msg("decode error")

	if c.onError != nil {
		c.onError(c, err)
	}
}

func (c *Channel) record(rec capture.Record) {
	if err := c.capture.Write(rec); err != nil {
		c.log.Warn().Err(err).Msg("capture failed")
	}
}

// releaseForwarders ends any diversion in progress and returns its bytes
func (c *Channel) releaseForwarders() []byte {
	var frame []byte
	for _, f := range c.forwarders {
		if b := f.release(); b != nil {
			frame = b
		}
	}
	return frame
}
