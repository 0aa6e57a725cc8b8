// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package relay

import (
	"bytes"
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Thermoquad/watchdog/internal/capture"
	"github.com/Thermoquad/watchdog/internal/config"
	"github.com/Thermoquad/watchdog/pkg/bpacket"
)

// syncBuffer is a bytes.Buffer safe for the concurrent writes of a node
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]byte(nil), b.buf.Bytes()...)
}

// fakePort reads what the test writes into in and collects what the node writes
type fakePort struct {
	io.Reader
	in  *io.PipeWriter
	out *syncBuffer
}

func newFakePort() *fakePort {
	r, w := io.Pipe()
	return &fakePort{Reader: r, in: w, out: &syncBuffer{}}
}

func (p *fakePort) Write(b []byte) (int, error) {
	return p.out.Write(b)
}

func testConfig(reportErrors bool) config.Config {
	cfg := config.Default()
	cfg.ReportErrors = reportErrors
	cfg.IdleReset = 20 * time.Millisecond
	cfg.Channels = []config.Channel{
		{Name: "camera", Port: "/dev/ttyUSB0", Baud: config.DefaultBaud, Peer: bpacket.AddressEsp32},
		{Name: "host", Port: "/dev/ttyACM0", Baud: config.DefaultBaud, Peer: bpacket.AddressMaple},
	}
	return cfg
}

func newTestNode(t *testing.T, reportErrors bool, opts ...Option) (*Node, *fakePort, *fakePort) {
	t.Helper()
	camera, host := newFakePort(), newFakePort()
	n, err := NewNode(testConfig(reportErrors), map[string]io.ReadWriter{
		"camera": camera,
		"host":   host,
	}, opts...)
	require.NoError(t, err)
	return n, camera, host
}

// decodeAll decodes every complete frame written to a port
func decodeAll(data []byte) []*bpacket.Packet {
	d := bpacket.NewDecoder()
	var packets []*bpacket.Packet
	for _, b := range data {
		if p, _ := d.DecodeByte(b); p != nil {
			packets = append(packets, p)
		}
	}
	return packets
}

// ============================================================
// Construction
// ============================================================

func TestNewNode_MissingPort(t *testing.T) {
	_, err := NewNode(testConfig(false), map[string]io.ReadWriter{"camera": newFakePort()})
	assert.ErrorContains(t, err, `channel "host"`)
}

func TestNewNode_InvalidConfig(t *testing.T) {
	cfg := testConfig(false)
	cfg.Channels = nil
	_, err := NewNode(cfg, nil)
	assert.ErrorIs(t, err, config.ErrInvalidConfig)
}

// ============================================================
// Diversion
// ============================================================

func TestChannel_DivertsToPeerLink(t *testing.T) {
	n, camera, host := newTestNode(t, false)
	cameraCh := n.Channels()[0]

	frame := bpacket.MustEncode(bpacket.MustNewPacket(bpacket.AddressMaple, bpacket.AddressEsp32,
		bpacket.RequestTakePhoto, bpacket.CodeSuccess, []byte("IMG_0007.JPG")))
	cameraCh.Feed(frame)

	assert.Equal(t, frame, host.out.Bytes())
	assert.Empty(t, camera.out.Bytes())
	assert.Equal(t, 0, cameraCh.Queue().Len())

	stats := cameraCh.Stats()
	assert.Equal(t, uint64(1), stats.ForwardedFrames)
	assert.Equal(t, uint64(len(frame)), n.links[bpacket.AddressMaple].Bytes())
}

func TestChannel_LocalPacketQueued(t *testing.T) {
	n, camera, host := newTestNode(t, false)
	hostCh := n.Channels()[1]

	p := bpacket.MustNewPacket(bpacket.AddressStm32, bpacket.AddressMaple, bpacket.RequestEsp32On, bpacket.CodeExecute, nil)
	hostCh.Feed(bpacket.MustEncode(p))

	got, ok := hostCh.Queue().Pop()
	require.True(t, ok)
	assert.True(t, got.Equal(p))
	assert.Empty(t, camera.out.Bytes())
	assert.Empty(t, host.out.Bytes())
	assert.Equal(t, uint64(1), hostCh.Stats().ValidPackets)
}

func TestChannel_DivertedFrameNotInterleaved(t *testing.T) {
	n, _, host := newTestNode(t, false)
	cameraCh := n.Channels()[0]

	frame := bpacket.MustEncode(bpacket.MustNewPacket(bpacket.AddressMaple, bpacket.AddressEsp32,
		bpacket.RequestStreamImage, bpacket.CodeInProgress, bytes.Repeat([]byte{0xAB}, 200)))
	reply := bpacket.MustNewPacket(bpacket.AddressMaple, bpacket.AddressStm32, bpacket.RequestPing, bpacket.CodeSuccess, nil)

	// Start the diversion, then write a frame from the node while it is open
	cameraCh.Feed(frame[:50])
	sent := make(chan error, 1)
	go func() { sent <- n.Send(reply) }()

	select {
	case <-sent:
		t.Fatal("node frame was written in the middle of a diverted frame")
	case <-time.After(20 * time.Millisecond):
	}

	cameraCh.Feed(frame[50:])
	require.NoError(t, <-sent)

	want := append(append([]byte(nil), frame...), bpacket.MustEncode(reply)...)
	assert.Equal(t, want, host.out.Bytes())
}

func TestChannel_DecodeErrorCounted(t *testing.T) {
	n, _, _ := newTestNode(t, false)
	cameraCh := n.Channels()[0]

	cameraCh.Feed([]byte{0x00, 0x01, 0x02})

	stats := cameraCh.Stats()
	assert.Equal(t, uint64(1), stats.FramingErrors)
	assert.Equal(t, uint64(1), stats.ErrorsByCode[bpacket.ErrorInvalidStartByte])
}

// ============================================================
// Local Request Handling
// ============================================================

func TestNode_HandlePing(t *testing.T) {
	n, camera, host := newTestNode(t, false)

	ping, err := bpacket.NewPingRequest(bpacket.AddressStm32, bpacket.AddressMaple)
	require.NoError(t, err)
	n.Handle(ping)

	packets := decodeAll(host.out.Bytes())
	require.Len(t, packets, 1)
	assert.True(t, packets[0].IsReplyTo(ping))
	assert.Equal(t, bpacket.CodeSuccess, packets[0].Code())
	assert.Equal(t, 0, packets[0].Length())
	assert.Empty(t, camera.out.Bytes())
}

func TestNode_HandleStatus(t *testing.T) {
	n, _, host := newTestNode(t, false)
	n.Channels()[0].Feed([]byte{0x00})

	status, err := bpacket.NewStatusRequest(bpacket.AddressStm32, bpacket.AddressMaple)
	require.NoError(t, err)
	n.Handle(status)

	packets := decodeAll(host.out.Bytes())
	require.Len(t, packets, 1)
	assert.Equal(t, bpacket.RequestStatus, packets[0].Request())
	assert.Contains(t, packets[0].Text(), "STM32 up")
	assert.Contains(t, packets[0].Text(), "camera: 0 pkt 0 fwd 1 err")
	assert.Contains(t, packets[0].Text(), "host:")
}

func TestNode_HandleUnsupported(t *testing.T) {
	n, camera, _ := newTestNode(t, false)

	req := bpacket.MustNewPacket(bpacket.AddressStm32, bpacket.AddressEsp32, bpacket.RequestListDirectory, bpacket.CodeExecute, nil)
	n.Handle(req)

	packets := decodeAll(camera.out.Bytes())
	require.Len(t, packets, 1)
	assert.Equal(t, bpacket.RequestMessage, packets[0].Request())
	assert.Equal(t, bpacket.CodeError, packets[0].Code())
	assert.Equal(t, bpacket.AddressEsp32, packets[0].Receiver())
	assert.Contains(t, packets[0].Text(), "unsupported request LIST_DIRECTORY")
}

func TestNode_HandleMessageAndResponses(t *testing.T) {
	n, camera, host := newTestNode(t, false)

	n.Handle(bpacket.MustNewPacket(bpacket.AddressStm32, bpacket.AddressMaple, bpacket.RequestMessage, bpacket.CodeExecute, []byte("hello")))
	n.Handle(bpacket.MustNewPacket(bpacket.AddressStm32, bpacket.AddressEsp32, bpacket.RequestTakePhoto, bpacket.CodeSuccess, nil))

	assert.Empty(t, camera.out.Bytes())
	assert.Empty(t, host.out.Bytes())
}

func TestNode_SendNoRoute(t *testing.T) {
	n, _, _ := newTestNode(t, false)
	p := bpacket.MustNewPacket(bpacket.AddressStm32, bpacket.AddressMaple, bpacket.RequestPing, bpacket.CodeSuccess, nil)
	assert.ErrorIs(t, n.Send(p), bpacket.ErrNoRoute)
}

// ============================================================
// Running Node
// ============================================================

func TestNode_RunAnswersPing(t *testing.T) {
	n, camera, host := newTestNode(t, false)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- n.Run(ctx) }()

	ping, err := bpacket.NewPingRequest(bpacket.AddressStm32, bpacket.AddressMaple)
	require.NoError(t, err)
	_, err = host.in.Write(bpacket.MustEncode(ping))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return len(decodeAll(host.out.Bytes())) == 1
	}, time.Second, 5*time.Millisecond)

	// Forwarding runs concurrently with local handling
	frame := bpacket.MustEncode(bpacket.MustNewPacket(bpacket.AddressEsp32, bpacket.AddressMaple,
		bpacket.RequestCameraView, bpacket.CodeExecute, nil))
	_, err = host.in.Write(frame)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return bytes.Equal(camera.out.Bytes(), frame)
	}, time.Second, 5*time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestNode_RunReportsErrors(t *testing.T) {
	n, camera, host := newTestNode(t, true)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go n.Run(ctx)

	_, err := camera.in.Write([]byte{0x13, 0x37})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return len(decodeAll(host.out.Bytes())) == 1
	}, time.Second, 5*time.Millisecond)

	p := decodeAll(host.out.Bytes())[0]
	assert.Equal(t, bpacket.CodeError, p.Code())
	assert.Equal(t, bpacket.AddressMaple, p.Receiver())
	assert.Contains(t, p.Text(), "camera: bpacket: invalid start byte")
}

func TestNode_RunIdleReset(t *testing.T) {
	n, _, host := newTestNode(t, false)
	hostCh := n.Channels()[1]

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hostCh.Run(ctx)

	// Part of a frame whose declared length would otherwise swallow the next one
	stalled := bpacket.MustEncode(bpacket.MustNewPacket(bpacket.AddressStm32, bpacket.AddressMaple,
		bpacket.RequestWriteToFile, bpacket.CodeExecute, bytes.Repeat([]byte{0x01}, 100)))
	_, err := host.in.Write(stalled[:20])
	require.NoError(t, err)

	time.Sleep(80 * time.Millisecond)

	p := bpacket.MustNewPacket(bpacket.AddressStm32, bpacket.AddressMaple, bpacket.RequestMessage, bpacket.CodeDebug, []byte("complete"))
	_, err = host.in.Write(bpacket.MustEncode(p))
	require.NoError(t, err)

	waitCtx, waitCancel := context.WithTimeout(ctx, time.Second)
	defer waitCancel()
	got, err := hostCh.Queue().Wait(waitCtx)
	require.NoError(t, err)
	assert.True(t, got.Equal(p))
}

func TestNode_RunEndsOnEOF(t *testing.T) {
	n, camera, _ := newTestNode(t, false)
	require.NoError(t, camera.in.Close())

	done := make(chan error, 1)
	go func() { done <- n.Run(context.Background()) }()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("node did not stop after its channel closed")
	}
}

func TestNode_CaptureRecordsTraffic(t *testing.T) {
	var buf bytes.Buffer
	w, err := capture.NewWriter(&buf, "STM32")
	require.NoError(t, err)

	n, _, _ := newTestNode(t, false, WithCapture(w))
	local := bpacket.MustNewPacket(bpacket.AddressStm32, bpacket.AddressEsp32, bpacket.RequestGetTemperature, bpacket.CodeSuccess, []byte{21})
	diverted := bpacket.MustEncode(bpacket.MustNewPacket(bpacket.AddressMaple, bpacket.AddressEsp32, bpacket.RequestMessage, bpacket.CodeDebug, []byte("hi")))

	cameraCh := n.Channels()[0]
	cameraCh.Feed(bpacket.MustEncode(local))
	cameraCh.Feed(diverted)

	r, err := capture.NewReader(&buf)
	require.NoError(t, err)

	first, err := r.Next()
	require.NoError(t, err)
	assert.False(t, first.Forwarded)
	assert.Equal(t, bpacket.MustEncode(local), first.Frame)

	second, err := r.Next()
	require.NoError(t, err)
	assert.True(t, second.Forwarded)
	assert.Equal(t, "camera", second.Channel)
	assert.Equal(t, diverted, second.Frame)
}
