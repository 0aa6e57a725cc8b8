// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"bytes"
	"context"
	"io"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Thermoquad/watchdog/pkg/bpacket"
)

func newTestMonitor(w io.Writer) monitorModel {
	return initialMonitorModel(w, "test", bpacket.AddressStm32, bpacket.AddressMaple, bpacket.CodeDebug, false)
}

func TestMonitorModel_Synchronization(t *testing.T) {
	m := newTestMonitor(io.Discard)
	_, ping := pingFrame(t)

	events := collect(streamPackets(context.Background(), bytes.NewReader(append([]byte{0x00}, ping...))))
	for _, ev := range events {
		m.processEvent(ev)
	}

	assert.True(t, m.synchronized)
	assert.Equal(t, 1, m.skipped)
	assert.Zero(t, m.stats.Errors(), "errors before sync are not counted")
	assert.Equal(t, uint64(1), m.stats.ValidPackets)
	assert.Contains(t, m.lastSeen, bpacket.AddressMaple)
	assert.True(t, m.closed, "EOF closes the connection")

	require.Len(t, m.eventLog, 2)
	assert.Equal(t, "Synchronized after skipping 1 decode errors", m.eventLog[0].message)
	assert.True(t, m.eventLog[1].isError)
}

func TestMonitorModel_MessagesAndErrors(t *testing.T) {
	m := newTestMonitor(io.Discard)
	msg := bpacket.MustNewPacket(bpacket.AddressMaple, bpacket.AddressEsp32, bpacket.RequestMessage, bpacket.CodeError, []byte("no camera"))

	m.processEvent(streamEvent{packet: msg})
	m.processEvent(streamEvent{decodeErr: bpacket.ErrInvalidStopByte})
	m.processEvent(streamEvent{packet: bpacket.MustNewPacket(bpacket.AddressMaple, bpacket.AddressStm32, bpacket.RequestPing, bpacket.CodeSuccess, nil)})

	require.Len(t, m.eventLog, 3, "valid pings are only logged with show-all")
	assert.Equal(t, "ESP32 (ERROR): no camera", m.eventLog[1].message)
	assert.True(t, m.eventLog[1].isError)
	assert.Contains(t, m.eventLog[2].message, "DECODE ERROR")
	assert.Equal(t, uint64(1), m.stats.FramingErrors)
}

func TestMonitorModel_LogIsBounded(t *testing.T) {
	m := newTestMonitor(io.Discard)
	m.maxLogEntries = 5
	for i := 0; i < 12; i++ {
		m.addLogEntry("entry", false)
	}
	assert.Len(t, m.eventLog, 5)
}

func TestMonitorModel_EnterSendsMessage(t *testing.T) {
	var wire bytes.Buffer
	m := newTestMonitor(&wire)
	m.input.SetValue("  arm the trap ")

	next, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	require.NotNil(t, cmd)
	assert.Empty(t, next.(monitorModel).input.Value())

	sent, ok := cmd().(monitorSentMsg)
	require.True(t, ok)
	require.NoError(t, sent.err)

	want := bpacket.MustNewPacket(bpacket.AddressStm32, bpacket.AddressMaple, bpacket.RequestMessage, bpacket.CodeDebug, []byte("arm the trap"))
	assert.Equal(t, bpacket.MustEncode(want), wire.Bytes())

	after, _ := next.Update(sent)
	log := after.(monitorModel).eventLog
	require.NotEmpty(t, log)
	assert.Equal(t, "-> STM32: arm the trap", log[len(log)-1].message)
}

func TestMonitorModel_EnterIgnoredWhenClosed(t *testing.T) {
	var wire bytes.Buffer
	m := newTestMonitor(&wire)
	m.closed = true
	m.input.SetValue("hello")

	next, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	assert.Nil(t, cmd)
	assert.Empty(t, wire.Bytes())
	assert.True(t, next.(monitorModel).eventLog[0].isError)
}

func TestMonitorModel_Quit(t *testing.T) {
	m := newTestMonitor(io.Discard)
	next, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEsc})
	require.NotNil(t, cmd)
	assert.True(t, next.(monitorModel).quitting)
	assert.Equal(t, "Shutting down...\n", next.View())
}

func TestMonitorModel_View(t *testing.T) {
	m := newTestMonitor(io.Discard)
	assert.Contains(t, m.View(), "Waiting for synchronization")
	assert.Contains(t, m.View(), "(no events yet)")

	m.processEvent(streamEvent{packet: bpacket.MustNewPacket(bpacket.AddressMaple, bpacket.AddressStm32, bpacket.RequestPing, bpacket.CodeSuccess, nil)})
	view := m.View()
	assert.Contains(t, view, "Synchronized")
	assert.Contains(t, view, "Heard from")
	assert.Contains(t, view, "STM32")
}

func TestBatchEvents(t *testing.T) {
	events := make(chan streamEvent, 8)
	for i := 0; i < 5; i++ {
		events <- streamEvent{decodeErr: bpacket.ErrInvalidStartByte}
	}
	close(events)

	var got []streamEvent
	batchEvents(context.Background(), events, time.Hour, func(msg tea.Msg) {
		got = append(got, msg.(monitorBatchMsg).events...)
	})
	assert.Len(t, got, 5)
}
