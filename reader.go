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
	"time"

	"github.com/ItJustWorksTM/fastipc/internal/shm"
)

// Reader is the subscribing end of a channel. It owns one mapping of the
// channel segment; samples acquired from it borrow that mapping and must
// be released back to the same Reader before it is closed.
//
// A Reader must not be copied. All methods are safe to call from one
// goroutine at a time; distinct Readers of the same channel may run
// concurrently, in the same process or not.
type Reader struct {
	mem  []byte
	page *shm.Page
}

// ReadSample is a read-only borrow of one channel slot.
type ReadSample struct {
	slot shm.Slot
}

// SequenceID returns the sample's sequence id. A never-written channel
// exposes the zero sample with sequence id 0.
func (s ReadSample) SequenceID() uint64 {
	return s.slot.SequenceID()
}

// Timestamp returns the wall-clock time stamped when the sample was
// submitted.
func (s ReadSample) Timestamp() time.Time {
	return time.Unix(0, s.slot.Timestamp())
}

// Size returns the valid payload length recorded by the writer. It is
// informational; Payload always exposes the full slot region.
func (s ReadSample) Size() uint64 {
	return s.slot.Size()
}

// Payload returns the sample's payload region. The caller must treat it
// as read-only and must not retain it past Release.
func (s ReadSample) Payload() []byte {
	return s.slot.Payload()
}

// NewReader opens the named channel for reading via the tower at
// DefaultSocketPath. maxPayloadSize must match the channel's agreed
// payload size; the first endpoint on a topic fixes it, and a mismatch
// returns ErrPayloadSizeMismatch.
func NewReader(channelName string, maxPayloadSize uint64) (*Reader, error) {
	return NewReaderAt(DefaultSocketPath, channelName, maxPayloadSize)
}

// NewReaderAt is NewReader against a tower bound to a non-default path.
func NewReaderAt(socketPath, channelName string, maxPayloadSize uint64) (*Reader, error) {
	mem, page, err := open(socketPath, shm.RequesterReader, channelName, maxPayloadSize)
	if err != nil {
		return nil, err
	}

	return &Reader{mem: mem, page: page}, nil
}

// HasNewData reports whether the latest published sample has a sequence
// id greater than sequenceID. No side effects; clients poll it to
// implement their own timeouts.
func (r *Reader) HasNewData(sequenceID uint64) bool {
	return shm.HasNewData(r.page, sequenceID)
}

// Acquire returns the latest published sample, holding its slot until
// Release. It never blocks; concurrent submits may displace "latest"
// while Acquire runs, in which case it returns a coherent but slightly
// older sample.
func (r *Reader) Acquire() ReadSample {
	return ReadSample{slot: shm.Acquire(r.page)}
}

// Release returns a sample to the channel. The sample must have come from
// Acquire on this Reader and must not be used afterwards.
func (r *Reader) Release(sample ReadSample) {
	shm.Release(r.page, sample.slot)
}

// Close unmaps the channel segment. Outstanding samples become invalid.
// Close is idempotent; the tower's copy of the segment is untouched.
func (r *Reader) Close() error {
	if r.mem == nil {
		return nil
	}

	err := shm.Unmap(r.mem)
	r.mem = nil
	r.page = nil

	return err
}
