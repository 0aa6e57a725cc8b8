// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package bpacket

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// FormatPacket formats a packet into a human-readable string
func FormatPacket(p *Packet) string {
	timestamp := p.timestamp.Format("15:04:05.000")

	result := fmt.Sprintf("[%s] %s (0x%02X) %s->%s code=%s len=%d\n",
		timestamp, p.request, p.request.Byte(), p.sender, p.receiver, p.code, p.length)

	if p.errorCode != ErrorNone {
		result += fmt.Sprintf("  Error code: %s\n", p.errorCode)
	}
	if p.length > 0 {
		result += FormatData(p.request, p.Data())
	}

	return result
}

// FormatData formats packet data based on the request type
func FormatData(request Request, data []byte) string {
	if request == RequestMessage && utf8.Valid(data) {
		return fmt.Sprintf("  Text: %q\n", string(data))
	}
	return "  Data: " + FormatHex(data, 16, "        ") + "\n"
}

// FormatHex renders data as hex bytes, perLine bytes to a line, continuation
// lines prefixed with indent
func FormatHex(data []byte, perLine int, indent string) string {
	var b strings.Builder
	for i, v := range data {
		if i > 0 {
			if perLine > 0 && i%perLine == 0 {
				b.WriteString("\n")
				b.WriteString(indent)
			} else {
				b.WriteString(" ")
			}
		}
		fmt.Fprintf(&b, "%02X", v)
	}
	return b.String()
}

// FormatDecodeError formats a decode error with the offending byte, if known
func FormatDecodeError(err error) string {
	code := ErrorCodeOf(err)
	if code == ErrorNone {
		return err.Error()
	}
	return fmt.Sprintf("%s: %v", code, err)
}
