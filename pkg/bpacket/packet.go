// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package bpacket

import (
	"bytes"
	"fmt"
	"time"
)

// Packet represents a decoded bpacket frame
type Packet struct {
	receiver  Address
	sender    Address
	request   Request
	code      Code
	data      [MaxDataSize]byte
	length    uint8
	errorCode ErrorCode // Local only, never transmitted
	timestamp time.Time
}

// NewPacket creates a packet after validating every field.
// Data longer than MaxDataSize is rejected, not truncated.
func NewPacket(receiver, sender Address, request Request, code Code, data []byte) (*Packet, error) {
	if !receiver.Valid() {
		return nil, fmt.Errorf("%w: %s", ErrInvalidReceiver, receiver)
	}
	if !sender.Valid() {
		return nil, fmt.Errorf("%w: %s", ErrInvalidSender, sender)
	}
	if !request.Valid() {
		return nil, fmt.Errorf("%w: 0x%02X", ErrInvalidRequest, uint8(request))
	}
	if !code.Valid() {
		return nil, fmt.Errorf("%w: %s", ErrInvalidCode, code)
	}
	if len(data) > MaxDataSize {
		return nil, fmt.Errorf("%w: %d bytes (max %d)", ErrDataTooLarge, len(data), MaxDataSize)
	}

	p := &Packet{
		receiver:  receiver,
		sender:    sender,
		request:   request,
		code:      code,
		length:    uint8(len(data)),
		timestamp: time.Now(),
	}
	copy(p.data[:], data)
	return p, nil
}

// MustNewPacket is NewPacket for arguments known to be valid.
// Panics on validation error.
func MustNewPacket(receiver, sender Address, request Request, code Code, data []byte) *Packet {
	p, err := NewPacket(receiver, sender, request, code, data)
	if err != nil {
		panic(fmt.Sprintf("bpacket: %v", err))
	}
	return p
}

// Receiver returns the destination node
func (p *Packet) Receiver() Address {
	return p.receiver
}

// Sender returns the originating node
func (p *Packet) Sender() Address {
	return p.sender
}

// Request returns the packet's opcode
func (p *Packet) Request() Request {
	return p.request
}

// Code returns the packet's execution context
func (p *Packet) Code() Code {
	return p.code
}

// Length returns the number of data bytes
func (p *Packet) Length() int {
	return int(p.length)
}

// Data returns the payload. The slice aliases the packet.
func (p *Packet) Data() []byte {
	return p.data[:p.length]
}

// Text returns the payload as a string, as carried by Message packets
func (p *Packet) Text() string {
	return string(p.data[:p.length])
}

// ErrorCode returns the local diagnostic attached to the packet
func (p *Packet) ErrorCode() ErrorCode {
	return p.errorCode
}

// SetErrorCode attaches a local diagnostic to the packet
func (p *Packet) SetErrorCode(e ErrorCode) {
	p.errorCode = e
}

// Timestamp returns when the packet was built or decoded
func (p *Packet) Timestamp() time.Time {
	return p.timestamp
}

// FrameSize returns the wire size of the packet
func (p *Packet) FrameSize() int {
	return FrameSize(int(p.length))
}

// Equal reports whether p and o carry the same wire fields.
// Timestamps and local error codes are ignored.
func (p *Packet) Equal(o *Packet) bool {
	if p == nil || o == nil {
		return p == o
	}
	return p.receiver == o.receiver &&
		p.sender == o.sender &&
		p.request == o.request &&
		p.code == o.code &&
		bytes.Equal(p.Data(), o.Data())
}

// IsReplyTo reports whether p answers req: addresses swapped, same request,
// and a response code
func (p *Packet) IsReplyTo(req *Packet) bool {
	return p.request == req.request &&
		p.receiver == req.sender &&
		p.sender == req.receiver &&
		p.code.IsResponse()
}

func (p *Packet) String() string {
	return fmt.Sprintf("%s %s->%s %s len=%d", p.request, p.sender, p.receiver, p.code, p.length)
}
