// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package bpacket

import (
	"fmt"
	"io"
)

// RouterStats counts what a Router did with the bytes it was fed
type RouterStats struct {
	LocalPackets    uint64
	ForwardedFrames uint64
	ForwardedBytes  uint64
	DiscardedFrames uint64 // Frames for a receiver with no route
	Errors          uint64
}

// Router wraps a Decoder for a node that sits between two others.
//
// As soon as the RECEIVER byte of a frame is known, a frame addressed to a
// different node is diverted: the bytes already consumed are re-emitted on the
// route for that receiver and every following byte of the frame, stop marker
// included, is written there unmodified. Diverted frames never touch the local
// packet buffer. Frames addressed to the local node decode exactly as with a
// plain Decoder.
//
// Fields after the receiver are not validated while diverting so that request
// codes unknown to this node still pass through; only LENGTH is tracked.
//
// A Router is not safe for concurrent use.
type Router struct {
	local  Address
	routes map[Address]io.Writer
	dec    Decoder

	diverting   bool
	sink        io.Writer // nil while discarding an unroutable frame
	divertRole  Role
	divertLen   int
	divertIndex int
	writeFailed bool
	scratch     [3]byte

	stats RouterStats
}

// NewRouter creates a router for the node at address local.
// routes maps each remote receiver to the writer of the channel that reaches it.
func NewRouter(local Address, routes map[Address]io.Writer) *Router {
	r := &Router{
		local:  local,
		routes: make(map[Address]io.Writer, len(routes)),
		dec:    Decoder{role: RoleStartHi},
	}
	for a, w := range routes {
		if w != nil {
			r.routes[a] = w
		}
	}
	return r
}

// Local returns the address of the node the router decodes for
func (r *Router) Local() Address {
	return r.local
}

// Stats returns a snapshot of the router's counters
func (r *Router) Stats() RouterStats {
	return r.stats
}

// Diverting reports whether the current frame is being forwarded
func (r *Router) Diverting() bool {
	return r.diverting
}

// InFrame reports whether a local or diverted frame is in progress
func (r *Router) InFrame() bool {
	return r.diverting || r.dec.InFrame()
}

// Synced reports whether the router is not currently skipping garbage
func (r *Router) Synced() bool {
	return r.dec.Synced()
}

// RawBytes returns the bytes of the local frame currently being decoded
func (r *Router) RawBytes() []byte {
	return r.dec.RawBytes()
}

// Reset abandons the current frame, local or diverted.
// A receiver downstream of an abandoned diversion resynchronizes on its own.
func (r *Router) Reset() {
	r.dec.Reset()
	r.endDivert()
}

// RouteByte processes one inbound byte.
// Returns a packet when a local frame completes. forwarded is true on the
// byte that finishes a diverted frame. Errors are reported per event and
// never stop the router.
func (r *Router) RouteByte(b byte) (p *Packet, forwarded bool, err error) {
	if r.diverting {
		forwarded, err = r.divertByte(b)
	} else if r.dec.role == RoleReceiver && Address(b).Valid() && Address(b) != r.local {
		err = r.startDivert(Address(b), b)
	} else {
		p, err = r.dec.DecodeByte(b)
		if p != nil {
			r.stats.LocalPackets++
		}
	}
	if err != nil {
		r.stats.Errors++
	}
	return p, forwarded, err
}

// startDivert switches the current frame to divert mode on its RECEIVER byte
func (r *Router) startDivert(receiver Address, b byte) error {
	offset := r.dec.rawLen
	r.dec.Reset()

	r.diverting = true
	r.divertRole = RoleSender
	r.divertLen = 0
	r.divertIndex = 0
	r.writeFailed = false
	r.sink = r.routes[receiver]

	if r.sink == nil {
		r.stats.DiscardedFrames++
		return newDecodeError(fmt.Errorf("%w %s", ErrNoRoute, receiver), RoleReceiver, b, offset)
	}
	r.scratch = [3]byte{StartByteHi, StartByteLo, b}
	return r.forward(r.scratch[:])
}

// divertByte forwards one byte of a diverted frame while tracking its length
func (r *Router) divertByte(b byte) (bool, error) {
	switch r.divertRole {
	case RoleSender, RoleRequest, RoleCode:
		r.divertRole++
	case RoleLength:
		r.divertLen = int(b)
		if r.divertLen == 0 {
			r.divertRole = RoleStopHi
		} else {
			r.divertRole = RoleData
		}
	case RoleData:
		r.divertIndex++
		if r.divertIndex == r.divertLen {
			r.divertRole = RoleStopHi
		}
	case RoleStopHi:
		if b != StopByteHi {
			return false, r.abortDivert(RoleStopHi, b)
		}
		r.divertRole = RoleStopLo
	case RoleStopLo:
		if b != StopByteLo {
			return false, r.abortDivert(RoleStopLo, b)
		}
		err := r.forwardByte(b)
		if r.sink != nil {
			r.stats.ForwardedFrames++
		}
		forwarded := r.sink != nil
		r.endDivert()
		return forwarded, err
	}
	return false, r.forwardByte(b)
}

// abortDivert ends a diversion whose stop marker did not arrive where LENGTH
// said it would. The byte is not forwarded; it may start the next frame.
func (r *Router) abortDivert(role Role, b byte) error {
	offset := HeaderSize + r.divertLen
	if role == RoleStopLo {
		offset++
	}
	r.endDivert()
	r.dec.resync(b)
	return newDecodeError(ErrInvalidStopByte, role, b, offset)
}

func (r *Router) endDivert() {
	r.diverting = false
	r.sink = nil
	r.divertRole = RoleStartHi
	r.divertLen = 0
	r.divertIndex = 0
	r.writeFailed = false
}

func (r *Router) forwardByte(b byte) error {
	r.scratch[0] = b
	return r.forward(r.scratch[:1])
}

// forward writes bs to the current sink. Only the first failure of a frame
// is reported.
func (r *Router) forward(bs []byte) error {
	if r.sink == nil {
		return nil
	}
	n, err := r.sink.Write(bs)
	r.stats.ForwardedBytes += uint64(n)
	if err != nil && !r.writeFailed {
		r.writeFailed = true
		return fmt.Errorf("%w: %w", ErrForwardFailed, err)
	}
	return nil
}
