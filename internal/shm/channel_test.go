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
	"testing"
	"time"
)

func TestFirstAcquireReturnsZeroSample(t *testing.T) {
	p := newTestPage(t, 4)

	s := Acquire(p)
	if s.Index() != 0 {
		t.Fatalf("first acquire returned slot %d, want 0", s.Index())
	}
	if s.SequenceID() != 0 {
		t.Fatalf("first acquire sequence id = %d, want 0", s.SequenceID())
	}
	if got := s.RefCount(); got != 2 {
		t.Fatalf("held slot 0 refcount = %d, want 2 (latest hold + reader)", got)
	}

	Release(p, s)
	if got := p.Slot(0).RefCount(); got != 1 {
		t.Fatalf("released slot 0 refcount = %d, want 1", got)
	}
	// The latest hold keeps the hint set.
	if got := p.Occupancy(); got != 1 {
		t.Fatalf("occupancy = %#x, want bit 0 only", got)
	}
}

func TestPrepareSubmitPublishes(t *testing.T) {
	p := newTestPage(t, 4)

	s := Prepare(p)
	if s.Index() != 1 {
		t.Fatalf("prepare picked slot %d, want 1 (slot 0 is hinted)", s.Index())
	}
	if s.SequenceID() != 1 {
		t.Fatalf("prepare sequence id = %d, want 1", s.SequenceID())
	}
	if got := s.RefCount(); got != 1 {
		t.Fatalf("prepared slot refcount = %d, want 1", got)
	}
	if p.Occupancy()&(1<<1) == 0 {
		t.Fatal("prepared slot's occupancy bit not set")
	}

	copy(s.Payload(), []byte{5, 0, 0, 0})
	s.SetSize(4)

	before := time.Now().UnixNano()
	Submit(p, s)
	after := time.Now().UnixNano()

	if got := p.LatestSampleIndex(); got != 1 {
		t.Fatalf("latest sample index = %d, want 1", got)
	}
	// The previous latest lost its implicit hold and its hint.
	if got := p.Slot(0).RefCount(); got != 0 {
		t.Fatalf("old latest refcount = %d, want 0", got)
	}
	if got := p.Occupancy(); got != 1<<1 {
		t.Fatalf("occupancy = %#x, want bit 1 only", got)
	}

	got := Acquire(p)
	defer Release(p, got)
	if got.SequenceID() != 1 {
		t.Fatalf("acquired sequence id = %d, want 1", got.SequenceID())
	}
	if got.Size() != 4 {
		t.Fatalf("acquired size = %d, want 4", got.Size())
	}
	if got.Payload()[0] != 5 {
		t.Fatalf("acquired payload = %v", got.Payload())
	}
	if ts := got.Timestamp(); ts < before || ts > after {
		t.Fatalf("timestamp %d outside [%d, %d]", ts, before, after)
	}
}

func TestPrepareRecyclesFreedSlots(t *testing.T) {
	p := newTestPage(t, 0)

	// A long run of prepare/submit must keep finding free slots: retired
	// latests are recycled, hints get cleared.
	last := uint64(0)
	for i := 0; i < 1000; i++ {
		s := Prepare(p)
		if s.SequenceID() != last+1 {
			t.Fatalf("iteration %d: sequence id = %d, want %d", i, s.SequenceID(), last+1)
		}
		last = s.SequenceID()
		Submit(p, s)
	}

	if got := p.Slot(p.LatestSampleIndex()).SequenceID(); got != last {
		t.Fatalf("latest sequence id = %d, want %d", got, last)
	}
}

func TestOverwriteVisibility(t *testing.T) {
	p := newTestPage(t, 1)

	for _, b := range []byte{0x10, 0x20, 0x30} {
		s := Prepare(p)
		s.Payload()[0] = b
		s.SetSize(1)
		Submit(p, s)
	}

	s := Acquire(p)
	defer Release(p, s)
	if s.SequenceID() != 3 {
		t.Fatalf("sequence id = %d, want 3", s.SequenceID())
	}
	if s.Payload()[0] != 0x30 {
		t.Fatalf("payload = %#x, want 0x30", s.Payload()[0])
	}
}

func TestHasNewData(t *testing.T) {
	p := newTestPage(t, 0)

	if HasNewData(p, 0) {
		t.Fatal("fresh channel reports new data")
	}

	s := Prepare(p)
	// Not yet submitted: latest still points at the zero sample.
	if HasNewData(p, 0) {
		t.Fatal("unsubmitted sample reported as new")
	}
	Submit(p, s)

	if !HasNewData(p, 0) {
		t.Fatal("submitted sample not reported as new")
	}
	if HasNewData(p, 1) {
		t.Fatal("own sequence id reported as new")
	}
}

func TestReaderHoldOutlivesLatest(t *testing.T) {
	p := newTestPage(t, 0)

	held := Acquire(p) // slot 0, refcount 2

	s := Prepare(p)
	Submit(p, s)

	// The displaced latest lost only the implicit hold; the reader's hold
	// and the hint survive.
	if got := p.Slot(0).RefCount(); got != 1 {
		t.Fatalf("held old-latest refcount = %d, want 1", got)
	}
	if p.Occupancy()&1 == 0 {
		t.Fatal("held slot's occupancy bit cleared")
	}

	Release(p, held)
	if got := p.Slot(0).RefCount(); got != 0 {
		t.Fatalf("released slot refcount = %d, want 0", got)
	}
	if p.Occupancy()&1 != 0 {
		t.Fatal("last release left the occupancy hint set")
	}
}

func TestPrepareSkipsStaleHint(t *testing.T) {
	p := newTestPage(t, 0)

	// Every bit set except slot 5's, but slot 5 is actually held: the
	// hint is a false negative staged by hand, prepare must lose the CAS
	// and spin.
	setRefCount(p, 5, 1)
	setOccupancy(p, ^uint64(0)&^(1<<5))

	got := make(chan Slot, 1)
	go func() { got <- Prepare(p) }()

	select {
	case s := <-got:
		t.Fatalf("prepare returned slot %d while every slot was held or hinted", s.Index())
	case <-time.After(50 * time.Millisecond):
	}

	// Free slot 9: refcount already 0, clear its hint.
	setOccupancy(p, ^uint64(0)&^(1<<5)&^(1<<9))

	select {
	case s := <-got:
		if s.Index() != 9 {
			t.Fatalf("prepare picked slot %d, want 9", s.Index())
		}
		if s.SequenceID() != 1 {
			t.Fatalf("sequence id = %d, want 1", s.SequenceID())
		}
	case <-time.After(5 * time.Second):
		t.Fatal("prepare did not proceed after a slot was freed")
	}
}

func TestPrepareBlocksWhileBankFull(t *testing.T) {
	p := newTestPage(t, 0)

	for i := uint64(0); i < NumSlots; i++ {
		setRefCount(p, i, 1)
	}
	setOccupancy(p, ^uint64(0))

	got := make(chan Slot, 1)
	go func() { got <- Prepare(p) }()

	select {
	case s := <-got:
		t.Fatalf("prepare returned slot %d while bank full", s.Index())
	case <-time.After(50 * time.Millisecond):
	}

	// Release slot 3.
	setRefCount(p, 3, 0)
	setOccupancy(p, ^uint64(0)&^(1<<3))

	select {
	case s := <-got:
		if s.Index() != 3 {
			t.Fatalf("prepare picked slot %d, want 3", s.Index())
		}
	case <-time.After(5 * time.Second):
		t.Fatal("prepare did not proceed after a slot was released")
	}
}

func TestZeroPayloadChannel(t *testing.T) {
	p := newTestPage(t, 0)

	// A zero-payload channel is a pure sequence/timestamp exchange.
	for want := uint64(1); want <= 10; want++ {
		s := Prepare(p)
		if s.SequenceID() != want {
			t.Fatalf("sequence id = %d, want %d", s.SequenceID(), want)
		}
		Submit(p, s)

		r := Acquire(p)
		if r.SequenceID() != want {
			t.Fatalf("acquired sequence id = %d, want %d", r.SequenceID(), want)
		}
		if len(r.Payload()) != 0 {
			t.Fatalf("zero-payload sample exposes %d bytes", len(r.Payload()))
		}
		Release(p, r)
	}
}
