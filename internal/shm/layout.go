/*
 *
 * Copyright 2025 ItJustWorksTM
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 *
 */

package shm

import (
	"errors"
	"sync/atomic"
	"unsafe"
)

// Memory layout constants
const (
	// Magic bytes identifying a channel page
	PageMagic = "FASTIPC\x00"

	// Current page layout version
	PageVersion = uint32(1)

	// Page header size (aligned to 64 bytes)
	PageHeaderSize = 64

	// Slot header size (aligned to 64 bytes)
	SlotHeaderSize = 64

	// Number of slots in the sample bank. Equals the bit width of the
	// occupancy word; one bit per slot.
	NumSlots = 64
)

var (
	// ErrBadMagic indicates the mapping does not start with a channel page.
	ErrBadMagic = errors.New("shm: bad page magic")

	// ErrBadVersion indicates a page written by an incompatible layout version.
	ErrBadVersion = errors.New("shm: unsupported page version")
)

// pageHeader is the channel page header. Field offsets are fixed; the
// struct is only ever overlaid on a mapping shared between processes, so
// every field is explicitly sized and padded.
type pageHeader struct {
	magic             [8]byte  // 0x00: "FASTIPC\0"
	version           uint32   // 0x08: layout version
	pad               uint32   // 0x0C: padding
	maxPayloadSize    uint64   // 0x10: payload bytes per slot, immutable
	nextSeqID         uint64   // 0x18: sequence id source (atomic)
	occupancy         uint64   // 0x20: slot-in-use hint bitmap (atomic)
	latestSampleIndex uint64   // 0x28: most recently published slot (atomic)
	reserved          [16]byte // 0x30-0x3F: reserved/padding to 64B
}

// slotHeader precedes each slot's payload in the sample bank.
type slotHeader struct {
	refCount   uint64   // 0x00: active holders incl. the latest hold (atomic)
	sequenceID uint64   // 0x08: assigned at prepare time
	size       uint64   // 0x10: valid payload length, informational
	timestamp  int64    // 0x18: wall clock at submit, unix nanoseconds
	reserved   [32]byte // 0x20-0x3F: reserved/padding to 64B
}

// SampleSize returns the stride of one slot in the bank: the slot header
// plus the payload, rounded up so every slot header stays 8-byte aligned
// (64-bit atomics fault on unaligned addresses on arm64).
func SampleSize(maxPayloadSize uint64) uint64 {
	return (SlotHeaderSize + maxPayloadSize + 7) &^ 7
}

// TotalSize returns the byte size of a channel segment for the given
// payload size: the page header followed by the 64-slot bank.
func TotalSize(maxPayloadSize uint64) uint64 {
	return PageHeaderSize + NumSlots*SampleSize(maxPayloadSize)
}

// Page is a view over a mapped channel page. It holds no state of its
// own beyond the mapping base; all channel state lives in shared memory.
type Page struct {
	base        unsafe.Pointer
	payloadSize uintptr
	sampleSize  uintptr
}

// Slot is a view over one slot of a page's sample bank.
type Slot struct {
	hdr   *slotHeader
	index uint64
	page  *Page
}

// InitPage writes a fresh channel page into mem: sequence ids start at 1,
// slot 0 is the default latest with its occupancy bit set and the implicit
// latest hold already counted, and every other slot header field is zeroed.
// len(mem) must be at least TotalSize(maxPayloadSize).
func InitPage(mem []byte, maxPayloadSize uint64) *Page {
	clear(mem[:TotalSize(maxPayloadSize)])

	h := (*pageHeader)(unsafe.Pointer(&mem[0]))
	copy(h.magic[:], PageMagic)
	h.version = PageVersion
	h.maxPayloadSize = maxPayloadSize
	atomic.StoreUint64(&h.nextSeqID, 1)
	atomic.StoreUint64(&h.occupancy, 1<<0)
	atomic.StoreUint64(&h.latestSampleIndex, 0)

	p := &Page{
		base:        unsafe.Pointer(&mem[0]),
		payloadSize: uintptr(maxPayloadSize),
		sampleSize:  uintptr(SampleSize(maxPayloadSize)),
	}

	// Slot 0 carries the implicit latest hold from birth, so the first
	// submit's drop of the previous latest cannot underflow it.
	atomic.StoreUint64(&p.Slot(0).hdr.refCount, 1)

	return p
}

// PageFromBytes returns a view over an already initialised page,
// validating magic and version.
func PageFromBytes(mem []byte) (*Page, error) {
	if len(mem) < PageHeaderSize {
		return nil, ErrBadMagic
	}
	h := (*pageHeader)(unsafe.Pointer(&mem[0]))
	if string(h.magic[:]) != PageMagic {
		return nil, ErrBadMagic
	}
	if h.version != PageVersion {
		return nil, ErrBadVersion
	}

	return &Page{
		base:        unsafe.Pointer(&mem[0]),
		payloadSize: uintptr(h.maxPayloadSize),
		sampleSize:  uintptr(SampleSize(h.maxPayloadSize)),
	}, nil
}

func (p *Page) header() *pageHeader { return (*pageHeader)(p.base) }

// MaxPayloadSize returns the per-slot payload size. Immutable after creation.
func (p *Page) MaxPayloadSize() uint64 {
	return p.header().maxPayloadSize
}

// NextSeqID returns the current value of the sequence id counter.
func (p *Page) NextSeqID() uint64 {
	return atomic.LoadUint64(&p.header().nextSeqID)
}

// Occupancy returns the current occupancy hint bitmap.
func (p *Page) Occupancy() uint64 {
	return atomic.LoadUint64(&p.header().occupancy)
}

// LatestSampleIndex returns the index of the most recently published slot.
func (p *Page) LatestSampleIndex() uint64 {
	return atomic.LoadUint64(&p.header().latestSampleIndex)
}

// Slot returns the view over slot index. index must be < NumSlots.
func (p *Page) Slot(index uint64) Slot {
	off := PageHeaderSize + uintptr(index)*p.sampleSize

	return Slot{
		hdr:   (*slotHeader)(unsafe.Add(p.base, off)),
		index: index,
		page:  p,
	}
}

// Index returns the slot's position in the bank.
func (s Slot) Index() uint64 {
	return s.index
}

// RefCount returns the slot's current holder count.
func (s Slot) RefCount() uint64 {
	return atomic.LoadUint64(&s.hdr.refCount)
}

// SequenceID returns the sequence id assigned at prepare time. Only
// meaningful while the slot is held.
func (s Slot) SequenceID() uint64 {
	return atomic.LoadUint64(&s.hdr.sequenceID)
}

func (s Slot) setSequenceID(id uint64) {
	atomic.StoreUint64(&s.hdr.sequenceID, id)
}

// Size returns the valid payload length recorded by the writer.
func (s Slot) Size() uint64 {
	return atomic.LoadUint64(&s.hdr.size)
}

// SetSize records the valid payload length. Only the current owner may
// call this, between prepare and submit.
func (s Slot) SetSize(n uint64) {
	atomic.StoreUint64(&s.hdr.size, n)
}

// Timestamp returns the submit wall-clock time in unix nanoseconds.
func (s Slot) Timestamp() int64 {
	return atomic.LoadInt64(&s.hdr.timestamp)
}

func (s Slot) setTimestamp(ns int64) {
	atomic.StoreInt64(&s.hdr.timestamp, ns)
}

// Payload returns the slot's inline payload region, MaxPayloadSize bytes
// long. Writable only by the current owner between prepare and submit;
// read-only for readers between acquire and release.
func (s Slot) Payload() []byte {
	if s.page.payloadSize == 0 {
		return nil
	}

	data := (*byte)(unsafe.Add(unsafe.Pointer(s.hdr), SlotHeaderSize))

	return unsafe.Slice(data, s.page.payloadSize)
}
