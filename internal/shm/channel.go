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
	"math/bits"
	"runtime"
	"sync/atomic"
	"time"
)

// The channel is a lock-free exchange over the page's 64 slots. Three
// mechanisms cooperate: latestSampleIndex is the published value,
// per-slot refCount is the exact liveness, and the occupancy bitmap is a
// fast selection hint. The hint may be stale towards "in use" but never
// towards "free" while a holder exists; compare-and-swap on refCount is
// the authoritative reservation.

// HasNewData reports whether the latest published sample carries a
// sequence id greater than sequenceID. No side effects.
func HasNewData(p *Page, sequenceID uint64) bool {
	index := p.LatestSampleIndex()
	sample := p.Slot(index)

	return sample.SequenceID() > sequenceID
}

// Acquire returns the slot currently designated latest, holding it for
// the caller. It never blocks and never fails; between the index load and
// the hold the slot may cease to be latest, in which case the caller
// observes a coherent but not newest sample.
func Acquire(p *Page) Slot {
	index := p.LatestSampleIndex()
	sample := p.Slot(index)

	// Bump up sample refcount.
	atomic.AddUint64(&sample.hdr.refCount, 1)

	// Hint that the sample is being used.
	atomic.OrUint64(&p.header().occupancy, 1<<index)

	return sample
}

// Release returns a slot obtained from Acquire. The caller must not touch
// the slot afterwards.
func Release(p *Page, sample Slot) {
	// Bump down refcount.
	count := atomic.AddUint64(&sample.hdr.refCount, ^uint64(0))

	// If refcount is zero, hint that the sample is not being used.
	if count == 0 {
		xorOccupancy(p, 1<<sample.index)
	}
}

// xorOccupancy atomically toggles mask in the page's occupancy hint.
func xorOccupancy(p *Page, mask uint64) {
	occupancy := &p.header().occupancy
	for {
		old := atomic.LoadUint64(occupancy)
		if atomic.CompareAndSwapUint64(occupancy, old, old^mask) {
			return
		}
	}
}

// Prepare reserves a free slot for the caller to fill and assigns its
// sequence id. It spins (with scheduler yields) while all 64 slots are
// held, so its worst-case latency is non-deterministic.
func Prepare(p *Page) Slot {
	for ; ; runtime.Gosched() {
		// Read occupancy hints.
		occupancy := p.Occupancy()
		if ^occupancy == 0 {
			// Everything is occupied, which is very unlikely.
			continue
		}

		for index := uint64(bits.TrailingZeros64(^occupancy)); index < NumSlots; index = uint64(bits.TrailingZeros64(^occupancy)) {
			sample := p.Slot(index)
			if !atomic.CompareAndSwapUint64(&sample.hdr.refCount, 0, 1) {
				// The hint for this sample was racy; don't revisit it
				// in this pass.
				occupancy |= 1 << index
				continue
			}

			// The sample is ours now.
			atomic.OrUint64(&p.header().occupancy, 1<<index)

			// Bump the seq id now but do not stamp,
			// thus making writer races visible from logs.
			sample.setSequenceID(atomic.AddUint64(&p.header().nextSeqID, 1) - 1)

			// A recycled slot must not carry its previous sample's size.
			sample.SetSize(0)

			return sample
		}
		// Everything is occupied and all hints were racy,
		// which is very much unlikely.
	}
}

// Submit publishes a slot obtained from Prepare as the new latest sample
// and drops the previous latest sample's implicit hold. The caller must
// not touch the slot afterwards.
func Submit(p *Page, sample Slot) {
	// Timestamp the sample.
	sample.setTimestamp(time.Now().UnixNano())

	// Update latest sample index.
	previousIndex := atomic.SwapUint64(&p.header().latestSampleIndex, sample.index)

	// Bump down previous sample's refcount.
	previousSample := p.Slot(previousIndex)
	count := atomic.AddUint64(&previousSample.hdr.refCount, ^uint64(0))

	// If refcount is zero, hint that the previous latest sample is not
	// being used.
	if count == 0 {
		xorOccupancy(p, 1<<previousIndex)
	}
}
