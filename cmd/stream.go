// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/Thermoquad/watchdog/pkg/bpacket"
)

// errReplyTimeout is returned when no reply arrives in time
var errReplyTimeout = errors.New("no reply")

// streamEvent is one result of decoding a connection: a packet, a decode
// error, or the read error that ended the stream
type streamEvent struct {
	packet    *bpacket.Packet
	decodeErr error
	readErr   error
}

// streamPackets decodes r on its own goroutine. The channel is closed after
// the read error that ends the stream, or when ctx is done.
func streamPackets(ctx context.Context, r io.Reader) <-chan streamEvent {
	events := make(chan streamEvent, 64)

	go func() {
		defer close(events)

		send := func(ev streamEvent) bool {
			select {
			case events <- ev:
				return true
			case <-ctx.Done():
				return false
			}
		}

		decoder := bpacket.NewDecoder()
		buf := make([]byte, 256)
		for {
			n, err := r.Read(buf)
			for _, b := range buf[:n] {
				packet, decodeErr := decoder.DecodeByte(b)
				if decodeErr != nil && !send(streamEvent{decodeErr: decodeErr}) {
					return
				}
				if packet != nil && !send(streamEvent{packet: packet}) {
					return
				}
			}
			if err != nil {
				send(streamEvent{readErr: err})
				return
			}
		}
	}()

	return events
}

// waitForReply consumes events until a reply to req arrives. Other packets
// and decode errors are skipped.
func waitForReply(ctx context.Context, events <-chan streamEvent, req *bpacket.Packet, timeout time.Duration) (*bpacket.Packet, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return nil, ErrConnectionClosed
			}
			if ev.readErr != nil {
				return nil, ev.readErr
			}
			if ev.packet != nil && ev.packet.IsReplyTo(req) {
				return ev.packet, nil
			}

		case <-timer.C:
			return nil, fmt.Errorf("%w within %v", errReplyTimeout, timeout)

		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// parseHexData parses data bytes written as hex, with optional spaces,
// colons or a 0x prefix ("0A 1B", "0a:1b", "0x0a1b")
func parseHexData(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	s = strings.NewReplacer(" ", "", ":", "", "\t", "").Replace(s)
	data, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid hex data: %w", err)
	}
	return data, nil
}
