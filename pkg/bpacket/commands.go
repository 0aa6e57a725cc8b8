// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package bpacket

import "fmt"

// Builder functions for the packets every node exchanges regardless of its
// application: pings, status queries and human-readable messages.

// NewMessagePacket creates a MESSAGE packet carrying msg as text.
// Returns ErrDataTooLarge if msg exceeds MaxDataSize bytes.
func NewMessagePacket(receiver, sender Address, code Code, msg string) (*Packet, error) {
	return NewPacket(receiver, sender, RequestMessage, code, []byte(msg))
}

// NewDiagnosticPacket wraps err as an ERROR-coded MESSAGE packet so it can be
// shown on a node with a display. The text is truncated to fit one frame.
// The packet's local error code is set from err.
func NewDiagnosticPacket(receiver, sender Address, err error) (*Packet, error) {
	msg := err.Error()
	if len(msg) > MaxDataSize {
		msg = msg[:MaxDataSize]
	}
	p, buildErr := NewMessagePacket(receiver, sender, CodeError, msg)
	if buildErr != nil {
		return nil, buildErr
	}
	p.SetErrorCode(ErrorCodeOf(err))
	return p, nil
}

// NewPingRequest creates an EXECUTE-coded PING packet.
// The receiver answers with a SUCCESS-coded PING.
func NewPingRequest(receiver, sender Address) (*Packet, error) {
	return NewPacket(receiver, sender, RequestPing, CodeExecute, nil)
}

// NewStatusRequest creates an EXECUTE-coded STATUS packet
func NewStatusRequest(receiver, sender Address) (*Packet, error) {
	return NewPacket(receiver, sender, RequestStatus, CodeExecute, nil)
}

// NewResponse creates the reply to req: addresses swapped, same request.
// code must be a response code (SUCCESS, ERROR or IN_PROGRESS).
func NewResponse(req *Packet, code Code, data []byte) (*Packet, error) {
	if !code.IsResponse() {
		return nil, fmt.Errorf("%w: %s is not a response code", ErrInvalidCode, code)
	}
	return NewPacket(req.sender, req.receiver, req.request, code, data)
}
