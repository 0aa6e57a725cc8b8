// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package bpacket

import (
	"fmt"
	"time"
)

// Encode encodes a Packet to wire format
func Encode(p *Packet) ([]byte, error) {
	return AppendFrame(make([]byte, 0, p.FrameSize()), p)
}

// AppendFrame appends the wire form of p to dst and returns the extended slice
func AppendFrame(dst []byte, p *Packet) ([]byte, error) {
	if int(p.length) > MaxDataSize {
		return dst, fmt.Errorf("%w: %d bytes (max %d)", ErrDataTooLarge, p.length, MaxDataSize)
	}
	dst = append(dst,
		StartByteHi,
		StartByteLo,
		p.receiver.Byte(),
		p.sender.Byte(),
		p.request.Byte(),
		p.code.Byte(),
		p.length,
	)
	dst = append(dst, p.Data()...)
	dst = append(dst, StopByteHi, StopByteLo)
	return dst, nil
}

// EncodeFromValues validates the fields and returns the frame in one step
func EncodeFromValues(receiver, sender Address, request Request, code Code, data []byte) ([]byte, error) {
	p, err := NewPacket(receiver, sender, request, code, data)
	if err != nil {
		return nil, err
	}
	return Encode(p)
}

// MustEncode encodes p.
// Panics on encoding error (use Encode for error handling).
func MustEncode(p *Packet) []byte {
	frame, err := Encode(p)
	if err != nil {
		panic(fmt.Sprintf("bpacket: encode error: %v", err))
	}
	return frame
}

// Decode decodes exactly one already-delimited frame.
// Fields are checked in wire order and the first failure is returned as a
// *DecodeError; no partial packet is ever returned.
func Decode(frame []byte) (*Packet, error) {
	if len(frame) < 2 {
		return nil, fmt.Errorf("%w: %d bytes (min %d)", ErrInvalidPacketSize, len(frame), OverheadSize)
	}
	if frame[offsetStartHi] != StartByteHi {
		return nil, newDecodeError(ErrInvalidStartByte, RoleStartHi, frame[offsetStartHi], offsetStartHi)
	}
	if frame[offsetStartLo] != StartByteLo {
		return nil, newDecodeError(ErrInvalidStartByte, RoleStartLo, frame[offsetStartLo], offsetStartLo)
	}
	if len(frame) < OverheadSize {
		return nil, fmt.Errorf("%w: %d bytes (min %d)", ErrInvalidPacketSize, len(frame), OverheadSize)
	}

	p := &Packet{}
	var err error
	if p.receiver, err = ParseAddress(frame[offsetReceiver]); err != nil {
		return nil, newDecodeError(ErrInvalidReceiver, RoleReceiver, frame[offsetReceiver], offsetReceiver)
	}
	if p.sender, err = ParseAddress(frame[offsetSender]); err != nil {
		return nil, newDecodeError(ErrInvalidSender, RoleSender, frame[offsetSender], offsetSender)
	}
	if p.request, err = ParseRequest(frame[offsetRequest]); err != nil {
		return nil, newDecodeError(ErrInvalidRequest, RoleRequest, frame[offsetRequest], offsetRequest)
	}
	if p.code, err = ParseCode(frame[offsetCode]); err != nil {
		return nil, newDecodeError(ErrInvalidCode, RoleCode, frame[offsetCode], offsetCode)
	}

	length := frame[offsetLength]
	if int(length) != len(frame)-OverheadSize {
		return nil, newDecodeError(ErrInvalidData, RoleLength, length, offsetLength)
	}
	p.length = length
	copy(p.data[:], frame[offsetData:offsetData+int(length)])

	stop := offsetData + int(length)
	if frame[stop] != StopByteHi {
		return nil, newDecodeError(ErrInvalidStopByte, RoleStopHi, frame[stop], stop)
	}
	if frame[stop+1] != StopByteLo {
		return nil, newDecodeError(ErrInvalidStopByte, RoleStopLo, frame[stop+1], stop+1)
	}

	p.timestamp = time.Now()
	return p, nil
}
