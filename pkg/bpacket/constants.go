// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package bpacket implements the bpacket framed binary protocol spoken between
// the Watchdog camera-trap nodes: the STM32 controller, the ESP32-CAM
// peripheral and the Maple desktop host.
//
// Wire format (one frame per packet):
//
//	[START_HI][START_LO][RECEIVER][SENDER][REQUEST][CODE][LENGTH][DATA...][STOP_HI][STOP_LO]
//
// LENGTH counts DATA bytes only. The package provides the one-shot codec
// (Encode/Decode), a byte-at-a-time streaming Decoder, and a Router that
// diverts frames addressed to other nodes onto a different channel.
package bpacket

// Protocol framing bytes
const (
	StartByteHi = 0xA5
	StartByteLo = 0x5A
	StopByteHi  = 0xC3
	StopByteLo  = 0x3C
)

// Frame size limits
const (
	HeaderSize   = 7 // start(2) + receiver + sender + request + code + length
	TrailerSize  = 2 // stop(2)
	OverheadSize = HeaderSize + TrailerSize
	MaxDataSize  = 255
	MaxFrameSize = OverheadSize + MaxDataSize
)

// Header field offsets
const (
	offsetStartHi  = 0
	offsetStartLo  = 1
	offsetReceiver = 2
	offsetSender   = 3
	offsetRequest  = 4
	offsetCode     = 5
	offsetLength   = 6
	offsetData     = 7
)

// FrameSize returns the number of wire bytes of a frame carrying n data bytes.
func FrameSize(n int) int {
	return OverheadSize + n
}
