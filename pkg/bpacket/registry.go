// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package bpacket

import (
	"fmt"
	"strings"
)

// Address identifies a Watchdog node as a receiver or sender
type Address uint8

// Node addresses
const (
	AddressStm32 Address = 0x01
	AddressEsp32 Address = 0x02
	AddressMaple Address = 0x03
)

// Addresses lists every valid node address in wire order
var Addresses = []Address{AddressStm32, AddressEsp32, AddressMaple}

// ParseAddress validates a wire byte as an Address
func ParseAddress(b byte) (Address, error) {
	a := Address(b)
	if !a.Valid() {
		return 0, fmt.Errorf("%w: 0x%02X", ErrInvalidAddress, b)
	}
	return a, nil
}

// Valid reports whether a is one of the known node addresses
func (a Address) Valid() bool {
	switch a {
	case AddressStm32, AddressEsp32, AddressMaple:
		return true
	}
	return false
}

// Byte returns the wire byte for a
func (a Address) Byte() byte {
	return byte(a)
}

func (a Address) String() string {
	switch a {
	case AddressStm32:
		return "STM32"
	case AddressEsp32:
		return "ESP32"
	case AddressMaple:
		return "MAPLE"
	default:
		return fmt.Sprintf("ADDRESS(0x%02X)", uint8(a))
	}
}

// LookupAddress resolves a node name ("stm32", "esp32", "maple") to an Address
func LookupAddress(name string) (Address, error) {
	for _, a := range Addresses {
		if strings.EqualFold(name, a.String()) {
			return a, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidAddress, name)
}

// Request is the opcode of a packet.
// Values are part of the wire format and must never be renumbered.
type Request uint8

// Generic requests 0x01-0x0F
const (
	RequestHelp    Request = 0x01
	RequestPing    Request = 0x02
	RequestStatus  Request = 0x03
	RequestMessage Request = 0x04
)

// Watchdog requests 0x10 and up
const (
	RequestListDirectory       Request = 0x10
	RequestCopyFile            Request = 0x11
	RequestDeleteFile          Request = 0x12
	RequestTakePhoto           Request = 0x13
	RequestWriteToFile         Request = 0x14
	RequestRecordData          Request = 0x15
	RequestLedRedOn            Request = 0x16
	RequestLedRedOff           Request = 0x17
	RequestCameraView          Request = 0x18
	RequestGetDatetime         Request = 0x19
	RequestSetDatetime         Request = 0x1A
	RequestGetWatchdogSettings Request = 0x1B
	RequestSetWatchdogSettings Request = 0x1C
	RequestGetTemperature      Request = 0x1D
	RequestStreamImage         Request = 0x1E
	RequestEsp32On             Request = 0x1F
	RequestEsp32Off            Request = 0x20
	RequestGetRtcAlarm         Request = 0x21
	RequestGetCameraSettings   Request = 0x22
	RequestSetCameraSettings   Request = 0x23
)

var requestNames = map[Request]string{
	RequestHelp:                "HELP",
	RequestPing:                "PING",
	RequestStatus:              "STATUS",
	RequestMessage:             "MESSAGE",
	RequestListDirectory:       "LIST_DIRECTORY",
	RequestCopyFile:            "COPY_FILE",
	RequestDeleteFile:          "DELETE_FILE",
	RequestTakePhoto:           "TAKE_PHOTO",
	RequestWriteToFile:         "WRITE_TO_FILE",
	RequestRecordData:          "RECORD_DATA",
	RequestLedRedOn:            "LED_RED_ON",
	RequestLedRedOff:           "LED_RED_OFF",
	RequestCameraView:          "CAMERA_VIEW",
	RequestGetDatetime:         "GET_DATETIME",
	RequestSetDatetime:         "SET_DATETIME",
	RequestGetWatchdogSettings: "GET_WATCHDOG_SETTINGS",
	RequestSetWatchdogSettings: "SET_WATCHDOG_SETTINGS",
	RequestGetTemperature:      "GET_TEMPERATURE",
	RequestStreamImage:         "STREAM_IMAGE",
	RequestEsp32On:             "ESP32_ON",
	RequestEsp32Off:            "ESP32_OFF",
	RequestGetRtcAlarm:         "GET_RTC_ALARM",
	RequestGetCameraSettings:   "GET_CAMERA_SETTINGS",
	RequestSetCameraSettings:   "SET_CAMERA_SETTINGS",
}

// ParseRequest validates a wire byte as a Request
func ParseRequest(b byte) (Request, error) {
	r := Request(b)
	if !r.Valid() {
		return 0, fmt.Errorf("%w: 0x%02X", ErrInvalidRequest, b)
	}
	return r, nil
}

// Valid reports whether r is a recognized request
func (r Request) Valid() bool {
	_, ok := requestNames[r]
	return ok
}

// Byte returns the wire byte for r
func (r Request) Byte() byte {
	return byte(r)
}

func (r Request) String() string {
	if name, ok := requestNames[r]; ok {
		return name
	}
	return "UNKNOWN"
}

// LookupRequest resolves a request name such as "ping" or "take_photo"
func LookupRequest(name string) (Request, error) {
	want := strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(name), "-", "_"))
	for r, n := range requestNames {
		if n == want {
			return r, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidRequest, name)
}

// Code gives a request its execution context: a command to perform or a
// response reporting the outcome of an earlier command
type Code uint8

// Code values
const (
	CodeError      Code = 0x00
	CodeSuccess    Code = 0x01
	CodeInProgress Code = 0x02
	CodeUnknown    Code = 0x03
	CodeExecute    Code = 0x04
	CodeTodo       Code = 0x05
	CodeDebug      Code = 0x06
)

var codeNames = [...]string{
	CodeError:      "ERROR",
	CodeSuccess:    "SUCCESS",
	CodeInProgress: "IN_PROGRESS",
	CodeUnknown:    "UNKNOWN",
	CodeExecute:    "EXECUTE",
	CodeTodo:       "TODO",
	CodeDebug:      "DEBUG",
}

// ParseCode validates a wire byte as a Code
func ParseCode(b byte) (Code, error) {
	c := Code(b)
	if !c.Valid() {
		return 0, fmt.Errorf("%w: 0x%02X", ErrInvalidCode, b)
	}
	return c, nil
}

// Valid reports whether c is a known code
func (c Code) Valid() bool {
	return int(c) < len(codeNames)
}

// Byte returns the wire byte for c
func (c Code) Byte() byte {
	return byte(c)
}

// IsResponse reports whether c marks a reply to a previously issued request
func (c Code) IsResponse() bool {
	return c == CodeSuccess || c == CodeError || c == CodeInProgress
}

func (c Code) String() string {
	if c.Valid() {
		return codeNames[c]
	}
	return fmt.Sprintf("CODE(0x%02X)", uint8(c))
}

// LookupCode resolves a code name such as "execute" or "in_progress"
func LookupCode(name string) (Code, error) {
	want := strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(name), "-", "_"))
	for i, n := range codeNames {
		if n == want {
			return Code(i), nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidCode, name)
}
