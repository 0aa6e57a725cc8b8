// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package relay

import (
	"fmt"
	"io"
	"sync/atomic"

	"github.com/Thermoquad/watchdog/internal/syncutil"
	"github.com/Thermoquad/watchdog/pkg/bpacket"
)

// Link is the outbound half of a channel. Whole frames written by the node
// and frames diverted byte by byte from other channels are serialized on it
// so two frames never interleave on the wire.
type Link struct {
	name   string
	w      io.Writer
	mu     syncutil.Mutex
	frames atomic.Uint64
	bytes  atomic.Uint64
}

// NewLink wraps w as the outbound side of the channel called name
func NewLink(name string, w io.Writer) *Link {
	return &Link{name: name, w: w}
}

// Name returns the channel name
func (l *Link) Name() string {
	return l.name
}

// WriteFrame writes one complete frame
func (l *Link) WriteFrame(frame []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	n, err := l.w.Write(frame)
	l.bytes.Add(uint64(n))
	if err != nil {
		return fmt.Errorf("write %s: %w", l.name, err)
	}
	l.frames.Add(1)
	return nil
}

// WritePacket encodes p and writes it as one frame
func (l *Link) WritePacket(p *bpacket.Packet) error {
	frame, err := bpacket.Encode(p)
	if err != nil {
		return err
	}
	return l.WriteFrame(frame)
}

// Frames returns the number of whole frames written by the node
func (l *Link) Frames() uint64 {
	return l.frames.Load()
}

// Bytes returns the number of bytes written, diverted traffic included
func (l *Link) Bytes() uint64 {
	return l.bytes.Load()
}

// forwarder is the io.Writer a Router diverts into. It takes the link lock
// on the first byte of a frame and keeps it until release is called at the
// end of the diversion.
type forwarder struct {
	link    *Link
	held    bool
	record  bool
	pending []byte // Bytes of the current frame, kept when record is set
}

func (f *forwarder) Write(b []byte) (int, error) {
	if !f.held {
		f.link.mu.Lock()
		f.held = true
	}
	if f.record {
		f.pending = append(f.pending, b...)
	}
	n, err := f.link.w.Write(b)
	f.link.bytes.Add(uint64(n))
	return n, err
}

// release ends the current diversion and returns the bytes it carried
func (f *forwarder) release() []byte {
	if !f.held {
		return nil
	}
	f.held = false
	f.link.mu.Unlock()
	frame := f.pending
	f.pending = nil
	return frame
}
