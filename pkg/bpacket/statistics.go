// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package bpacket

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Statistics tracks packet statistics and error rates for one channel.
// It is not safe for concurrent use; the channel's reader owns it.
type Statistics struct {
	StartTime      time.Time
	LastUpdateTime time.Time

	// Counters
	TotalFrames     uint64 // Local packets + forwarded frames + decode errors
	ValidPackets    uint64
	ForwardedFrames uint64
	FramingErrors   uint64 // Start/stop marker mismatches
	FieldErrors     uint64 // Receiver/sender/request/code rejected
	RoutingErrors   uint64
	Anomalies       uint64
	DroppedPackets  uint64
	ErrorsByCode    map[ErrorCode]uint64

	// Rates (calculated)
	PacketRate float64 // packets/sec
	ErrorRate  float64 // errors/sec
}

// NewStatistics creates a new statistics tracker
func NewStatistics() *Statistics {
	now := time.Now()
	return &Statistics{
		StartTime:      now,
		LastUpdateTime: now,
		ErrorsByCode:   make(map[ErrorCode]uint64),
	}
}

// Update records one decoder event: a local packet with its validation
// errors, or a decode error
func (s *Statistics) Update(packet *Packet, decodeErr error, validationErrors []ValidationError) {
	s.LastUpdateTime = time.Now()

	if decodeErr != nil {
		s.TotalFrames++
		s.ErrorsByCode[ErrorCodeOf(decodeErr)]++
		switch {
		case IsFramingError(decodeErr):
			s.FramingErrors++
		case errors.Is(decodeErr, ErrNoRoute), errors.Is(decodeErr, ErrForwardFailed):
			s.RoutingErrors++
		default:
			s.FieldErrors++
		}
		return
	}

	if packet == nil {
		return
	}
	s.TotalFrames++
	if len(validationErrors) > 0 {
		s.Anomalies += uint64(len(validationErrors))
	} else {
		s.ValidPackets++
	}
}

// Forwarded records a frame diverted to another channel
func (s *Statistics) Forwarded() {
	s.TotalFrames++
	s.ForwardedFrames++
	s.LastUpdateTime = time.Now()
}

// Dropped records a local packet lost because the application queue was full
func (s *Statistics) Dropped() {
	s.DroppedPackets++
}

// Errors returns the total number of decode errors
func (s *Statistics) Errors() uint64 {
	return s.FramingErrors + s.FieldErrors + s.RoutingErrors
}

// CalculateRates calculates packet and error rates
func (s *Statistics) CalculateRates() {
	elapsed := time.Since(s.StartTime).Seconds()
	if elapsed > 0 {
		s.PacketRate = float64(s.ValidPackets+s.ForwardedFrames) / elapsed
		s.ErrorRate = float64(s.Errors()) / elapsed
	}
}

// String returns a formatted statistics summary
func (s *Statistics) String() string {
	s.CalculateRates()

	percent := func(n uint64) float64 {
		if s.TotalFrames == 0 {
			return 0
		}
		return float64(n) * 100.0 / float64(s.TotalFrames)
	}

	elapsed := time.Since(s.StartTime)

	var b strings.Builder
	fmt.Fprintf(&b, "=== Statistics (%.0f seconds) ===\n", elapsed.Seconds())
	fmt.Fprintf(&b, "Total Frames:    %8d\n", s.TotalFrames)
	fmt.Fprintf(&b, "Valid Packets:   %8d (%.1f%%)\n", s.ValidPackets, percent(s.ValidPackets))

	if s.ForwardedFrames > 0 {
		fmt.Fprintf(&b, "Forwarded:       %8d (%.1f%%)\n", s.ForwardedFrames, percent(s.ForwardedFrames))
	}
	if s.FramingErrors > 0 {
		fmt.Fprintf(&b, "Framing Errors:  %8d (%.1f%%)\n", s.FramingErrors, percent(s.FramingErrors))
	}
	if s.FieldErrors > 0 {
		fmt.Fprintf(&b, "Field Errors:    %8d (%.1f%%)\n", s.FieldErrors, percent(s.FieldErrors))
	}
	if s.RoutingErrors > 0 {
		fmt.Fprintf(&b, "Routing Errors:  %8d (%.1f%%)\n", s.RoutingErrors, percent(s.RoutingErrors))
	}
	if len(s.ErrorsByCode) > 0 {
		codes := make([]ErrorCode, 0, len(s.ErrorsByCode))
		for c := range s.ErrorsByCode {
			codes = append(codes, c)
		}
		sort.Slice(codes, func(i, j int) bool { return codes[i] < codes[j] })
		for _, c := range codes {
			fmt.Fprintf(&b, "  %-22s %5d\n", c.String()+":", s.ErrorsByCode[c])
		}
	}
	if s.Anomalies > 0 {
		fmt.Fprintf(&b, "Anomalies:       %8d\n", s.Anomalies)
	}
	if s.DroppedPackets > 0 {
		fmt.Fprintf(&b, "Dropped:         %8d\n", s.DroppedPackets)
	}

	fmt.Fprintf(&b, "Packet Rate:     %8.1f pkts/sec\n", s.PacketRate)
	fmt.Fprintf(&b, "Error Rate:      %8.1f errors/sec\n", s.ErrorRate)
	b.WriteString("================================\n")

	return b.String()
}

// Reset resets all statistics counters
func (s *Statistics) Reset() {
	*s = *NewStatistics()
}
