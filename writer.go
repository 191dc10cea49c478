//go:build linux && (amd64 || arm64)

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

package fastipc

import (
	"github.com/ItJustWorksTM/fastipc/internal/shm"
)

// Writer is the publishing end of a channel. It owns one mapping of the
// channel segment; samples prepared on it borrow that mapping and must be
// submitted back to the same Writer before it is closed.
//
// A Writer must not be copied. Multiple Writers on one channel are
// allowed; their sequence ids interleave in prepare order.
type Writer struct {
	mem  []byte
	page *shm.Page
}

// WriteSample is an exclusively-owned borrow of one channel slot, valid
// between Prepare and Submit.
type WriteSample struct {
	slot shm.Slot
}

// SequenceID returns the sequence id assigned to this sample at Prepare.
func (s WriteSample) SequenceID() uint64 {
	return s.slot.SequenceID()
}

// Payload returns the writable payload region of the sample.
func (s WriteSample) Payload() []byte {
	return s.slot.Payload()
}

// SetSize records how many payload bytes are valid. Informational for
// readers; defaults to 0.
func (s WriteSample) SetSize(n uint64) {
	s.slot.SetSize(n)
}

// NewWriter opens the named channel for writing via the tower at
// DefaultSocketPath. maxPayloadSize must match the channel's agreed
// payload size; the first endpoint on a topic fixes it, and a mismatch
// returns ErrPayloadSizeMismatch.
func NewWriter(channelName string, maxPayloadSize uint64) (*Writer, error) {
	return NewWriterAt(DefaultSocketPath, channelName, maxPayloadSize)
}

// NewWriterAt is NewWriter against a tower bound to a non-default path.
func NewWriterAt(socketPath, channelName string, maxPayloadSize uint64) (*Writer, error) {
	mem, page, err := open(socketPath, shm.RequesterWriter, channelName, maxPayloadSize)
	if err != nil {
		return nil, err
	}

	return &Writer{mem: mem, page: page}, nil
}

// Prepare reserves a free slot for filling and assigns its sequence id.
// It spins with scheduler yields while all 64 slots are simultaneously
// held, so its worst-case execution time is non-deterministic.
func (w *Writer) Prepare() WriteSample {
	return WriteSample{slot: shm.Prepare(w.page)}
}

// Submit timestamps the sample and publishes it as the channel's latest.
// The sample must have come from Prepare on this Writer and must not be
// used afterwards.
func (w *Writer) Submit(sample WriteSample) {
	shm.Submit(w.page, sample.slot)
}

// Close unmaps the channel segment. Outstanding samples become invalid.
// Close is idempotent; the tower's copy of the segment is untouched.
func (w *Writer) Close() error {
	if w.mem == nil {
		return nil
	}

	err := shm.Unmap(w.mem)
	w.mem = nil
	w.page = nil

	return err
}
