// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package bpacket

import (
	"fmt"
	"time"
)

// Role is the part of a frame the decoder expects the next byte to be
type Role uint8

// Byte roles in wire order. RoleData repeats LENGTH times and is skipped
// entirely when LENGTH is zero.
const (
	RoleStartHi Role = iota
	RoleStartLo
	RoleReceiver
	RoleSender
	RoleRequest
	RoleCode
	RoleLength
	RoleData
	RoleStopHi
	RoleStopLo
)

var roleNames = [...]string{
	RoleStartHi:  "START_HI",
	RoleStartLo:  "START_LO",
	RoleReceiver: "RECEIVER",
	RoleSender:   "SENDER",
	RoleRequest:  "REQUEST",
	RoleCode:     "CODE",
	RoleLength:   "LENGTH",
	RoleData:     "DATA",
	RoleStopHi:   "STOP_HI",
	RoleStopLo:   "STOP_LO",
}

func (r Role) String() string {
	if int(r) < len(roleNames) {
		return roleNames[r]
	}
	return fmt.Sprintf("ROLE(%d)", uint8(r))
}

// Decoder implements the bpacket streaming decoder state machine.
//
// Framing relies on the declared LENGTH rather than on scanning for the stop
// marker, so data bytes equal to a marker need no escaping. A packet is
// returned as soon as its last data byte arrives; the stop marker that follows
// is checked afterwards and a mismatch is reported as ErrInvalidStopByte.
//
// A Decoder is not safe for concurrent use. Each physical channel owns one.
type Decoder struct {
	role      Role
	packet    Packet // In-progress packet
	dataIndex int
	raw       [MaxFrameSize]byte
	rawLen    int
	hunting   bool // Desync already reported, waiting silently for START_HI
}

// NewDecoder creates a new protocol decoder
func NewDecoder() *Decoder {
	return &Decoder{role: RoleStartHi}
}

// Reset abandons any in-progress frame and waits for the next START_HI.
// Callers use it to implement an idle timeout.
func (d *Decoder) Reset() {
	d.role = RoleStartHi
	d.dataIndex = 0
	d.rawLen = 0
	d.hunting = false
}

// Role returns the role expected for the next byte
func (d *Decoder) Role() Role {
	return d.role
}

// InFrame reports whether a frame has been started but not finished
func (d *Decoder) InFrame() bool {
	return d.role != RoleStartHi
}

// Synced reports whether the decoder is not currently skipping garbage
func (d *Decoder) Synced() bool {
	return !d.hunting
}

// RawBytes returns the bytes of the frame currently or most recently being
// decoded. The slice is only valid until the next call to DecodeByte.
func (d *Decoder) RawBytes() []byte {
	return d.raw[:d.rawLen]
}

// DecodeByte processes a single byte through the decoder state machine.
// Returns a completed packet, or nil if the packet is incomplete.
// Returns a *DecodeError if the byte cannot be accepted; the decoder has
// already resynchronized when that happens.
func (d *Decoder) DecodeByte(b byte) (*Packet, error) {
	switch d.role {
	case RoleStartHi:
		if b != StartByteHi {
			if d.hunting {
				return nil, nil
			}
			d.hunting = true
			return nil, newDecodeError(ErrInvalidStartByte, RoleStartHi, b, 0)
		}
		d.begin(b)
		return nil, nil

	case RoleStartLo:
		if b != StartByteLo {
			return nil, d.fail(ErrInvalidStartByte, b)
		}
		d.push(b)
		d.role = RoleReceiver
		return nil, nil

	case RoleReceiver:
		a, err := ParseAddress(b)
		if err != nil {
			return nil, d.fail(ErrInvalidReceiver, b)
		}
		d.packet.receiver = a
		d.push(b)
		d.role = RoleSender
		return nil, nil

	case RoleSender:
		a, err := ParseAddress(b)
		if err != nil {
			return nil, d.fail(ErrInvalidSender, b)
		}
		d.packet.sender = a
		d.push(b)
		d.role = RoleRequest
		return nil, nil

	case RoleRequest:
		r, err := ParseRequest(b)
		if err != nil {
			return nil, d.fail(ErrInvalidRequest, b)
		}
		d.packet.request = r
		d.push(b)
		d.role = RoleCode
		return nil, nil

	case RoleCode:
		c, err := ParseCode(b)
		if err != nil {
			return nil, d.fail(ErrInvalidCode, b)
		}
		d.packet.code = c
		d.push(b)
		d.role = RoleLength
		return nil, nil

	case RoleLength:
		d.packet.length = b
		d.push(b)
		if b == 0 {
			return d.complete(), nil
		}
		d.role = RoleData
		return nil, nil

	case RoleData:
		d.packet.data[d.dataIndex] = b
		d.dataIndex++
		d.push(b)
		if d.dataIndex == int(d.packet.length) {
			return d.complete(), nil
		}
		return nil, nil

	case RoleStopHi:
		if b != StopByteHi {
			return nil, d.fail(ErrInvalidStopByte, b)
		}
		d.push(b)
		d.role = RoleStopLo
		return nil, nil

	case RoleStopLo:
		if b != StopByteLo {
			return nil, d.fail(ErrInvalidStopByte, b)
		}
		d.push(b)
		d.role = RoleStartHi
		return nil, nil

	default:
		d.Reset()
		return nil, fmt.Errorf("bpacket: invalid decoder role %d", d.role)
	}
}

// begin starts a new frame with its START_HI byte
func (d *Decoder) begin(b byte) {
	d.packet = Packet{}
	d.dataIndex = 0
	d.rawLen = 0
	d.hunting = false
	d.push(b)
	d.role = RoleStartLo
}

func (d *Decoder) push(b byte) {
	if d.rawLen < len(d.raw) {
		d.raw[d.rawLen] = b
		d.rawLen++
	}
}

// complete hands the assembled packet to the caller and moves on to the stop marker
func (d *Decoder) complete() *Packet {
	p := d.packet
	p.timestamp = time.Now()
	d.dataIndex = 0
	d.role = RoleStopHi
	return &p
}

// fail reports b as unacceptable for the current role and resynchronizes.
// The failing byte is re-examined as a START_HI candidate.
func (d *Decoder) fail(sentinel error, b byte) error {
	err := newDecodeError(sentinel, d.role, b, d.rawLen)
	d.resync(b)
	return err
}

// resync drops the current frame and lets b begin the next one if it can
func (d *Decoder) resync(b byte) {
	d.Reset()
	if b == StartByteHi {
		d.begin(b)
		return
	}
	d.hunting = true
}
