// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package bpacket

import (
	"errors"
	"fmt"
)

// ErrorCode is the diagnostic taxonomy attached to packets that fail
// construction or validation. Values are stable.
type ErrorCode uint8

// Error code values
const (
	ErrorNone                    ErrorCode = 0x00
	ErrorInvalidSender           ErrorCode = 0x01
	ErrorInvalidReceiver         ErrorCode = 0x02
	ErrorInvalidRequest          ErrorCode = 0x03
	ErrorInvalidCode             ErrorCode = 0x04
	ErrorInvalidData             ErrorCode = 0x05
	ErrorInvalidStartByte        ErrorCode = 0x06
	ErrorInvalidStartTime        ErrorCode = 0x07
	ErrorInvalidEndTime          ErrorCode = 0x08
	ErrorInvalidIntervalTime     ErrorCode = 0x09
	ErrorInvalidDate             ErrorCode = 0x0A
	ErrorInvalidYear             ErrorCode = 0x0B
	ErrorInvalidPacketSize       ErrorCode = 0x0C
	ErrorInvalidCameraResolution ErrorCode = 0x0D
	ErrorInvalidStopByte         ErrorCode = 0x0E
	ErrorDataTooLarge            ErrorCode = 0x0F
	ErrorNoRoute                 ErrorCode = 0x10
	ErrorForwardFailed           ErrorCode = 0x11
)

var errorCodeNames = [...]string{
	ErrorNone:                    "NONE",
	ErrorInvalidSender:           "INVALID_SENDER",
	ErrorInvalidReceiver:         "INVALID_RECEIVER",
	ErrorInvalidRequest:          "INVALID_REQUEST",
	ErrorInvalidCode:             "INVALID_CODE",
	ErrorInvalidData:             "INVALID_DATA",
	ErrorInvalidStartByte:        "INVALID_START_BYTE",
	ErrorInvalidStartTime:        "INVALID_START_TIME",
	ErrorInvalidEndTime:          "INVALID_END_TIME",
	ErrorInvalidIntervalTime:     "INVALID_INTERVAL_TIME",
	ErrorInvalidDate:             "INVALID_DATE",
	ErrorInvalidYear:             "INVALID_YEAR",
	ErrorInvalidPacketSize:       "INVALID_PACKET_SIZE",
	ErrorInvalidCameraResolution: "INVALID_CAMERA_RESOLUTION",
	ErrorInvalidStopByte:         "INVALID_STOP_BYTE",
	ErrorDataTooLarge:            "DATA_TOO_LARGE",
	ErrorNoRoute:                 "NO_ROUTE",
	ErrorForwardFailed:           "FORWARD_FAILED",
}

// ParseErrorCode validates a byte as an ErrorCode
func ParseErrorCode(b byte) (ErrorCode, error) {
	e := ErrorCode(b)
	if !e.Valid() {
		return 0, fmt.Errorf("bpacket: invalid error code 0x%02X", b)
	}
	return e, nil
}

// Valid reports whether e is a known error code
func (e ErrorCode) Valid() bool {
	return int(e) < len(errorCodeNames)
}

// Byte returns the byte value of e
func (e ErrorCode) Byte() byte {
	return byte(e)
}

func (e ErrorCode) String() string {
	if e.Valid() {
		return errorCodeNames[e]
	}
	return fmt.Sprintf("ERROR_CODE(0x%02X)", uint8(e))
}

// Protocol errors
var (
	ErrInvalidStartByte  = errors.New("bpacket: invalid start byte")
	ErrInvalidStopByte   = errors.New("bpacket: invalid stop byte")
	ErrInvalidAddress    = errors.New("bpacket: invalid address")
	ErrInvalidReceiver   = errors.New("bpacket: invalid receiver")
	ErrInvalidSender     = errors.New("bpacket: invalid sender")
	ErrInvalidRequest    = errors.New("bpacket: invalid request")
	ErrInvalidCode       = errors.New("bpacket: invalid code")
	ErrInvalidData       = errors.New("bpacket: declared length does not match data")
	ErrInvalidPacketSize = errors.New("bpacket: invalid packet size")
	ErrDataTooLarge      = errors.New("bpacket: data too large")
)

// Routing errors
var (
	ErrNoRoute       = errors.New("bpacket: no route to receiver")
	ErrForwardFailed = errors.New("bpacket: forward failed")
)

var sentinelCodes = []struct {
	err  error
	code ErrorCode
}{
	{ErrInvalidStartByte, ErrorInvalidStartByte},
	{ErrInvalidStopByte, ErrorInvalidStopByte},
	{ErrInvalidReceiver, ErrorInvalidReceiver},
	{ErrInvalidSender, ErrorInvalidSender},
	{ErrInvalidRequest, ErrorInvalidRequest},
	{ErrInvalidCode, ErrorInvalidCode},
	{ErrInvalidData, ErrorInvalidData},
	{ErrInvalidPacketSize, ErrorInvalidPacketSize},
	{ErrDataTooLarge, ErrorDataTooLarge},
	{ErrNoRoute, ErrorNoRoute},
	{ErrForwardFailed, ErrorForwardFailed},
}

// DecodeError describes a byte that could not be accepted while decoding a frame
type DecodeError struct {
	Err    error     // One of the protocol sentinel errors
	Code   ErrorCode // Diagnostic code for Err
	Role   Role      // Byte role that was expected
	Value  byte      // Offending byte
	Offset int       // Offset of the byte within its frame
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("%v: got 0x%02X as %s at offset %d", e.Err, e.Value, e.Role, e.Offset)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

func newDecodeError(err error, role Role, value byte, offset int) *DecodeError {
	return &DecodeError{
		Err:    err,
		Code:   codeForSentinel(err),
		Role:   role,
		Value:  value,
		Offset: offset,
	}
}

func codeForSentinel(err error) ErrorCode {
	for _, s := range sentinelCodes {
		if errors.Is(err, s.err) {
			return s.code
		}
	}
	return ErrorNone
}

// ErrorCodeOf maps an error returned by this package to its ErrorCode.
// Returns ErrorNone for nil and for errors from outside the package.
func ErrorCodeOf(err error) ErrorCode {
	if err == nil {
		return ErrorNone
	}
	var de *DecodeError
	if errors.As(err, &de) {
		return de.Code
	}
	return codeForSentinel(err)
}

// IsFramingError reports whether err means the stream lost frame alignment
func IsFramingError(err error) bool {
	return errors.Is(err, ErrInvalidStartByte) || errors.Is(err, ErrInvalidStopByte)
}
