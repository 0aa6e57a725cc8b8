// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package bpacket

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func queuedPacket(i int) *Packet {
	return MustNewPacket(AddressStm32, AddressMaple, RequestMessage, CodeDebug, []byte{byte(i)})
}

func TestQueue_FIFO(t *testing.T) {
	q := NewQueue(4)
	for i := 0; i < 4; i++ {
		if !q.Push(queuedPacket(i)) {
			t.Fatalf("push %d rejected", i)
		}
	}
	if q.Len() != 4 {
		t.Fatalf("Len() = %d, want 4", q.Len())
	}
	for i := 0; i < 4; i++ {
		p, ok := q.Pop()
		if !ok {
			t.Fatalf("pop %d: queue empty", i)
		}
		if p.Data()[0] != byte(i) {
			t.Errorf("pop %d returned packet %d", i, p.Data()[0])
		}
	}
	if _, ok := q.Pop(); ok {
		t.Error("queue should be empty")
	}
}

func TestQueue_DropsWhenFull(t *testing.T) {
	q := NewQueue(2)
	q.Push(queuedPacket(0))
	q.Push(queuedPacket(1))

	if q.Push(queuedPacket(2)) {
		t.Error("push into a full queue should fail")
	}
	if q.Dropped() != 1 {
		t.Errorf("Dropped() = %d, want 1", q.Dropped())
	}

	// The oldest packets are kept
	p, _ := q.Pop()
	if p.Data()[0] != 0 {
		t.Errorf("expected packet 0, got %d", p.Data()[0])
	}
}

func TestQueue_WrapAround(t *testing.T) {
	q := NewQueue(3)
	for round := 0; round < 5; round++ {
		q.Push(queuedPacket(round * 2))
		q.Push(queuedPacket(round*2 + 1))
		for i := 0; i < 2; i++ {
			p, ok := q.Pop()
			if !ok || p.Data()[0] != byte(round*2+i) {
				t.Fatalf("round %d pop %d: got %v", round, i, p)
			}
		}
	}
}

func TestQueue_DefaultSize(t *testing.T) {
	if NewQueue(0).Cap() != DefaultQueueSize {
		t.Errorf("Cap() = %d, want %d", NewQueue(0).Cap(), DefaultQueueSize)
	}
}

func TestQueue_Wait(t *testing.T) {
	q := NewQueue(4)

	go func() {
		time.Sleep(10 * time.Millisecond)
		q.Push(queuedPacket(7))
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	p, err := q.Wait(ctx)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if p.Data()[0] != 7 {
		t.Errorf("got packet %d, want 7", p.Data()[0])
	}
}

func TestQueue_WaitCancelled(t *testing.T) {
	q := NewQueue(4)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	if _, err := q.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected DeadlineExceeded, got %v", err)
	}
}

func TestQueue_ConcurrentProducerConsumer(t *testing.T) {
	const total = 500
	q := NewQueue(total)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < total; i++ {
			q.Push(queuedPacket(i))
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	for i := 0; i < total; i++ {
		p, err := q.Wait(ctx)
		if err != nil {
			t.Fatalf("Wait %d: %v", i, err)
		}
		if p.Data()[0] != byte(i) {
			t.Fatalf("packet %d out of order: got %d", i, p.Data()[0])
		}
	}
	wg.Wait()

	if q.Dropped() != 0 {
		t.Errorf("Dropped() = %d, want 0", q.Dropped())
	}
}
