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
	"sync/atomic"
	"testing"
	"unsafe"
)

// newTestPage allocates an 8-byte-aligned in-process buffer sized like a
// channel segment and initialises a fresh page in it. Tests that don't
// need a real mapping run the channel algorithms against it directly.
func newTestPage(tb testing.TB, maxPayloadSize uint64) *Page {
	tb.Helper()

	words := make([]uint64, TotalSize(maxPayloadSize)/8)
	mem := unsafe.Slice((*byte)(unsafe.Pointer(&words[0])), len(words)*8)

	return InitPage(mem, maxPayloadSize)
}

// setOccupancy overwrites the occupancy bitmap, bypassing the channel
// algorithms, to stage stale-hint scenarios.
func setOccupancy(p *Page, bits uint64) {
	atomic.StoreUint64(&p.header().occupancy, bits)
}

// setRefCount overwrites a slot's holder count, bypassing the channel
// algorithms.
func setRefCount(p *Page, index, count uint64) {
	s := p.Slot(index)
	atomic.StoreUint64(&s.hdr.refCount, count)
}
