// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Thermoquad/watchdog/internal/capture"
	"github.com/Thermoquad/watchdog/internal/config"
	"github.com/Thermoquad/watchdog/pkg/bpacket"
)

func pingFrame(t *testing.T) (*bpacket.Packet, []byte) {
	t.Helper()
	p, err := bpacket.NewPingRequest(bpacket.AddressStm32, bpacket.AddressMaple)
	require.NoError(t, err)
	return p, bpacket.MustEncode(p)
}

func collect(events <-chan streamEvent) []streamEvent {
	var out []streamEvent
	for ev := range events {
		out = append(out, ev)
	}
	return out
}

func TestParseHexData(t *testing.T) {
	tests := []struct {
		in   string
		want []byte
	}{
		{"", []byte{}},
		{"0a1b", []byte{0x0A, 0x1B}},
		{"0A 1B 2C", []byte{0x0A, 0x1B, 0x2C}},
		{"0a:1b", []byte{0x0A, 0x1B}},
		{"0x0a1b", []byte{0x0A, 0x1B}},
		{"  ff\t00 ", []byte{0xFF, 0x00}},
	}
	for _, tt := range tests {
		got, err := parseHexData(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}

	_, err := parseHexData("abc")
	assert.Error(t, err)
	_, err = parseHexData("zz")
	assert.Error(t, err)
}

func TestBuildPacket(t *testing.T) {
	p, err := buildPacket("esp32", "maple", "take-photo", "execute", "", "")
	require.NoError(t, err)
	assert.Equal(t, bpacket.AddressEsp32, p.Receiver())
	assert.Equal(t, bpacket.AddressMaple, p.Sender())
	assert.Equal(t, bpacket.RequestTakePhoto, p.Request())
	assert.Equal(t, bpacket.CodeExecute, p.Code())
	assert.Zero(t, p.Length())

	p, err = buildPacket("STM32", "MAPLE", "message", "debug", "hello", "")
	require.NoError(t, err)
	assert.Equal(t, "hello", p.Text())

	p, err = buildPacket("stm32", "maple", "set_datetime", "execute", "", "18 0A 0E")
	require.NoError(t, err)
	assert.Equal(t, []byte{0x18, 0x0A, 0x0E}, p.Data())
}

func TestBuildPacket_Errors(t *testing.T) {
	tests := []struct {
		name                             string
		to, from, request, code, text, x string
		want                             error
	}{
		{"bad receiver", "camera", "maple", "ping", "execute", "", "", bpacket.ErrInvalidAddress},
		{"bad sender", "stm32", "host", "ping", "execute", "", "", bpacket.ErrInvalidAddress},
		{"bad request", "stm32", "maple", "reboot", "execute", "", "", bpacket.ErrInvalidRequest},
		{"bad code", "stm32", "maple", "ping", "maybe", "", "", bpacket.ErrInvalidCode},
		{"too large", "stm32", "maple", "message", "debug", strings.Repeat("x", bpacket.MaxDataSize+1), "", bpacket.ErrDataTooLarge},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := buildPacket(tt.to, tt.from, tt.request, tt.code, tt.text, tt.x)
			assert.ErrorIs(t, err, tt.want)
		})
	}

	_, err := buildPacket("stm32", "maple", "message", "debug", "hi", "00")
	assert.Error(t, err)
}

func TestStreamPackets(t *testing.T) {
	p, frame := pingFrame(t)
	stream := append([]byte{0x00, 0x11}, frame...)

	events := collect(streamPackets(context.Background(), bytes.NewReader(stream)))
	require.Len(t, events, 3)

	assert.ErrorIs(t, events[0].decodeErr, bpacket.ErrInvalidStartByte)
	require.NotNil(t, events[1].packet)
	assert.True(t, events[1].packet.Equal(p))
	assert.ErrorIs(t, events[2].readErr, io.EOF)
}

func TestStreamPackets_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	r, w := io.Pipe()
	defer w.Close()

	events := streamPackets(ctx, r)
	_, frame := pingFrame(t)
	go func() {
		for i := 0; i < 200; i++ {
			if _, err := w.Write(frame); err != nil {
				return
			}
		}
	}()

	<-events
	cancel()
	w.CloseWithError(errors.New("done"))

	for range events {
	}
}

func TestWaitForReply(t *testing.T) {
	req, _ := pingFrame(t)
	reply, err := bpacket.NewResponse(req, bpacket.CodeSuccess, nil)
	require.NoError(t, err)
	other := bpacket.MustNewPacket(bpacket.AddressMaple, bpacket.AddressEsp32, bpacket.RequestMessage, bpacket.CodeDebug, []byte("hi"))

	events := make(chan streamEvent, 4)
	events <- streamEvent{packet: other}
	events <- streamEvent{decodeErr: bpacket.ErrInvalidStopByte}
	events <- streamEvent{packet: req}
	events <- streamEvent{packet: reply}

	got, err := waitForReply(context.Background(), events, req, time.Second)
	require.NoError(t, err)
	assert.True(t, got.Equal(reply))
}

func TestWaitForReply_Timeout(t *testing.T) {
	req, _ := pingFrame(t)
	_, err := waitForReply(context.Background(), make(chan streamEvent), req, 10*time.Millisecond)
	assert.ErrorIs(t, err, errReplyTimeout)
}

func TestWaitForReply_StreamEnds(t *testing.T) {
	req, _ := pingFrame(t)

	events := make(chan streamEvent, 1)
	events <- streamEvent{readErr: io.EOF}
	_, err := waitForReply(context.Background(), events, req, time.Second)
	assert.ErrorIs(t, err, io.EOF)

	closed := make(chan streamEvent)
	close(closed)
	_, err = waitForReply(context.Background(), closed, req, time.Second)
	assert.ErrorIs(t, err, ErrConnectionClosed)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = waitForReply(ctx, make(chan streamEvent), req, time.Second)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRecordAndReplay(t *testing.T) {
	p, frame := pingFrame(t)
	bad := append([]byte(nil), frame...)
	bad[2] = 0x77
	stream := append(append(append([]byte(nil), frame...), bad...), frame...)

	var file bytes.Buffer
	w, err := capture.NewWriter(&file, "")
	require.NoError(t, err)

	stats := bpacket.NewStatistics()
	var echo bytes.Buffer
	err = recordStream(context.Background(), streamPackets(context.Background(), bytes.NewReader(stream)), w, stats, &echo)
	require.NoError(t, err)

	assert.Equal(t, 2, w.Count())
	assert.Equal(t, uint64(2), stats.ValidPackets)
	assert.Equal(t, uint64(1), stats.FieldErrors)
	assert.Contains(t, echo.String(), "[ERROR]")
	assert.Contains(t, echo.String(), "PING")

	r, err := capture.NewReader(&file)
	require.NoError(t, err)

	var out bytes.Buffer
	require.NoError(t, replayCapture(r, &out, "", true))
	assert.Equal(t, 2, strings.Count(out.String(), "<uart @ "))
	assert.Contains(t, out.String(), p.Request().String())
	assert.Contains(t, out.String(), "2 packets (0 forwarded), 0 decode errors")
}

func TestReplayCapture_ChannelFilter(t *testing.T) {
	var file bytes.Buffer
	w, err := capture.NewWriter(&file, "STM32")
	require.NoError(t, err)

	p, _ := pingFrame(t)
	require.NoError(t, w.WritePacket("camera", p))
	require.NoError(t, w.WritePacket("host", p))
	require.NoError(t, w.WritePacket("host", p))

	r, err := capture.NewReader(&file)
	require.NoError(t, err)

	var out bytes.Buffer
	require.NoError(t, replayCapture(r, &out, "host", false))
	assert.NotContains(t, out.String(), "<camera")
	assert.Contains(t, out.String(), "2 packets")
}

func TestRunMonitorText(t *testing.T) {
	msg := bpacket.MustNewPacket(bpacket.AddressMaple, bpacket.AddressStm32, bpacket.RequestMessage, bpacket.CodeError, []byte("sd card missing"))
	self := bpacket.MustNewPacket(bpacket.AddressEsp32, bpacket.AddressEsp32, bpacket.RequestPing, bpacket.CodeExecute, nil)
	_, ping := pingFrame(t)

	var stream []byte
	stream = append(stream, 0xFF, 0xFF)
	stream = append(stream, bpacket.MustEncode(msg)...)
	stream = append(stream, 0x00)
	stream = append(stream, bpacket.MustEncode(self)...)
	stream = append(stream, ping...)

	var out bytes.Buffer
	err := runMonitorText(context.Background(), streamPackets(context.Background(), bytes.NewReader(stream)), &out, false, 0)
	require.NoError(t, err)

	text := out.String()
	assert.Contains(t, text, "Synchronized after skipping 1 decode errors")
	assert.Contains(t, text, "MESSAGE STM32->MAPLE (ERROR):")
	assert.Contains(t, text, "sd card missing")
	assert.Contains(t, text, "DECODE ERROR:")
	assert.Contains(t, text, "ANOMALY:")
	assert.NotContains(t, text, "code=EXECUTE", "valid pings are only shown with show-all")
	assert.Contains(t, text, "=== Statistics")
}

func TestRunMonitorText_ShowAll(t *testing.T) {
	_, ping := pingFrame(t)

	var out bytes.Buffer
	err := runMonitorText(context.Background(), streamPackets(context.Background(), bytes.NewReader(ping)), &out, true, 0)
	require.NoError(t, err)
	assert.Contains(t, out.String(), "PING (0x02) MAPLE->STM32 code=EXECUTE")
}

func TestFormatUptime(t *testing.T) {
	tests := []struct {
		ms   uint64
		want string
	}{
		{0, "0 seconds"},
		{1000, "1 second"},
		{59_000, "59 seconds"},
		{60_000, "1 minute"},
		{61_000, "1 minute and 1 second"},
		{3_661_000, "1 hour, 1 minute, and 1 second"},
		{2 * 86_400_000, "2 days"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, formatUptime(tt.ms), tt.ms)
	}
}

func TestDescribeConfig(t *testing.T) {
	cfg, err := config.Parse(`
node = "stm32"

[channels.camera]
port = "/dev/ttyUSB0"
address = "esp32"

[channels.host]
url = "ws://bridge.local/watchdog"
address = "maple"
`)
	require.NoError(t, err)

	text := describeConfig(cfg)
	assert.Contains(t, text, "node STM32, 2 channel(s)")
	assert.Contains(t, text, "/dev/ttyUSB0 -> ESP32")
	assert.Contains(t, text, "ws://bridge.local/watchdog -> MAPLE")
}
