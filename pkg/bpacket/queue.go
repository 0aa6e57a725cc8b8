// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package bpacket

import (
	"context"

	"github.com/Thermoquad/watchdog/internal/syncutil"
)

// DefaultQueueSize is the capacity used when NewQueue is given a size < 1
const DefaultQueueSize = 32

// Queue is a bounded FIFO of completed packets handed from the goroutine
// feeding a decoder to the goroutine running application logic.
// Push never blocks: when the queue is full the packet is dropped and counted.
type Queue struct {
	mu      syncutil.Mutex
	buf     []*Packet
	head    int
	size    int
	dropped uint64
	ready   chan struct{}
}

// NewQueue creates a queue holding at most size packets
func NewQueue(size int) *Queue {
	if size < 1 {
		size = DefaultQueueSize
	}
	return &Queue{
		buf:   make([]*Packet, size),
		ready: make(chan struct{}, 1),
	}
}

// Push appends p. Returns false if the queue was full and p was dropped.
func (q *Queue) Push(p *Packet) bool {
	q.mu.Lock()
	if q.size == len(q.buf) {
		q.dropped++
		q.mu.Unlock()
		return false
	}
	q.buf[(q.head+q.size)%len(q.buf)] = p
	q.size++
	q.mu.Unlock()

	select {
	case q.ready <- struct{}{}:
	default:
	}
	return true
}

// Pop removes and returns the oldest packet, if any
func (q *Queue) Pop() (*Packet, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.size == 0 {
		return nil, false
	}
	p := q.buf[q.head]
	q.buf[q.head] = nil
	q.head = (q.head + 1) % len(q.buf)
	q.size--
	return p, true
}

// Wait blocks until a packet is available or ctx is done
func (q *Queue) Wait(ctx context.Context) (*Packet, error) {
	for {
		if p, ok := q.Pop(); ok {
			return p, nil
		}
		select {
		case <-q.ready:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Len returns the number of queued packets
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.size
}

// Cap returns the queue capacity
func (q *Queue) Cap() int {
	return len(q.buf)
}

// Dropped returns how many packets were dropped because the queue was full
func (q *Queue) Dropped() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}
