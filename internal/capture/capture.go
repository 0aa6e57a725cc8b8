// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package capture records bpacket traffic to a CBOR stream and plays it back.
//
// A capture is a CBOR sequence: one Header item followed by any number of
// Record items. Frames are stored exactly as they crossed the wire.
package capture

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/Thermoquad/watchdog/internal/syncutil"
	"github.com/Thermoquad/watchdog/pkg/bpacket"
)

// Format identifies capture files
const (
	Magic   = "watchdog-capture"
	Version = 1
)

// ErrBadHeader is returned when a stream does not start with a capture header
var ErrBadHeader = errors.New("capture: bad header")

// Header is the first item of every capture
type Header struct {
	Magic   string    `cbor:"1,keyasint"`
	Version uint      `cbor:"2,keyasint"`
	Started time.Time `cbor:"3,keyasint"`
	Node    string    `cbor:"4,keyasint,omitempty"`
}

// Record is one captured frame
type Record struct {
	Time      time.Time `cbor:"1,keyasint"`
	Channel   string    `cbor:"2,keyasint"`
	Frame     []byte    `cbor:"3,keyasint"`
	Forwarded bool      `cbor:"4,keyasint,omitempty"`
}

var encMode = func() cbor.EncMode {
	em, err := cbor.EncOptions{Time: cbor.TimeRFC3339Nano}.EncMode()
	if err != nil {
		panic(fmt.Sprintf("capture: cbor enc mode: %v", err))
	}
	return em
}()

// Writer appends records to a capture stream. It is safe for concurrent use
// by the goroutines of several channels.
type Writer struct {
	mu    syncutil.Mutex
	enc   *cbor.Encoder
	count int
}

// NewWriter writes the capture header to w and returns a Writer for it
func NewWriter(w io.Writer, node string) (*Writer, error) {
	enc := encMode.NewEncoder(w)
	hdr := Header{Magic: Magic, Version: Version, Started: time.Now().UTC(), Node: node}
	if err := enc.Encode(hdr); err != nil {
		return nil, fmt.Errorf("capture: write header: %w", err)
	}
	return &Writer{enc: enc}, nil
}

// Write appends rec
func (w *Writer) Write(rec Record) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.enc.Encode(rec); err != nil {
		return fmt.Errorf("capture: write record: %w", err)
	}
	w.count++
	return nil
}

// WritePacket encodes p and appends it as a local frame on channel
func (w *Writer) WritePacket(channel string, p *bpacket.Packet) error {
	frame, err := bpacket.Encode(p)
	if err != nil {
		return err
	}
	return w.Write(Record{Time: p.Timestamp(), Channel: channel, Frame: frame})
}

// Count returns the number of records written
func (w *Writer) Count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.count
}

// Reader reads records from a capture stream
type Reader struct {
	dec    *cbor.Decoder
	header Header
}

// NewReader reads and checks the capture header from r
func NewReader(r io.Reader) (*Reader, error) {
	dec := cbor.NewDecoder(r)
	var hdr Header
	if err := dec.Decode(&hdr); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: empty stream", ErrBadHeader)
		}
		return nil, fmt.Errorf("%w: %w", ErrBadHeader, err)
	}
	if hdr.Magic != Magic {
		return nil, fmt.Errorf("%w: magic %q", ErrBadHeader, hdr.Magic)
	}
	if hdr.Version != Version {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrBadHeader, hdr.Version)
	}
	return &Reader{dec: dec, header: hdr}, nil
}

// Header returns the capture header
func (r *Reader) Header() Header {
	return r.header
}

// Next returns the next record, or io.EOF at the end of the capture
func (r *Reader) Next() (Record, error) {
	var rec Record
	if err := r.dec.Decode(&rec); err != nil {
		if errors.Is(err, io.EOF) {
			return Record{}, io.EOF
		}
		return Record{}, fmt.Errorf("capture: read record: %w", err)
	}
	return rec, nil
}

// Event is one decoder result produced while replaying a record
type Event struct {
	Record Record
	Packet *bpacket.Packet
	Err    error
}

// Replay streams every recorded frame through a fresh Decoder per channel
// and calls fn for each packet or decode error. Replay stops at the end of
// the capture or on the first error returned by fn.
func Replay(r *Reader, fn func(Event) error) error {
	decoders := make(map[string]*bpacket.Decoder)
	for {
		rec, err := r.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}

		d, ok := decoders[rec.Channel]
		if !ok {
			d = bpacket.NewDecoder()
			decoders[rec.Channel] = d
		}
		for _, b := range rec.Frame {
			p, decErr := d.DecodeByte(b)
			if p == nil && decErr == nil {
				continue
			}
			if err := fn(Event{Record: rec, Packet: p, Err: decErr}); err != nil {
				return err
			}
		}
	}
}
