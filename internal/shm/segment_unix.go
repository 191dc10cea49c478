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

package shm

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// Segment is a live, mapped channel segment owned by the tower. The file
// descriptor stays open for the tower's lifetime so the segment survives
// client churn.
type Segment struct {
	FD   int
	Size uint64
	Mem  []byte
	Page *Page
}

// CreateSegment creates an anonymous memfd-backed segment sized for the
// given payload size, maps it, and initialises a fresh channel page in it.
// name is only a debugging label on the memfd.
func CreateSegment(name string, maxPayloadSize uint64) (*Segment, error) {
	fd, err := unix.MemfdCreate(name, unix.MFD_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("failed to create memfd: %w", err)
	}

	// Ensure cleanup on error
	cleanup := func() {
		unix.Close(fd)
	}

	totalSize := TotalSize(maxPayloadSize)
	if err := unix.Ftruncate(fd, int64(totalSize)); err != nil {
		cleanup()
		return nil, fmt.Errorf("failed to truncate channel memory: %w", err)
	}

	mem, err := unix.Mmap(fd, 0, int(totalSize), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		cleanup()
		return nil, fmt.Errorf("failed to mmap channel memory: %w", err)
	}

	page := InitPage(mem, maxPayloadSize)

	return &Segment{
		FD:   fd,
		Size: totalSize,
		Mem:  mem,
		Page: page,
	}, nil
}

// MapSegment maps an existing channel segment received over a handshake
// and validates the page found in it. The caller keeps ownership of fd
// and may close it once the mapping exists.
func MapSegment(fd int, totalSize uint64) ([]byte, *Page, error) {
	mem, err := unix.Mmap(fd, 0, int(totalSize), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to mmap channel memory: %w", err)
	}

	page, err := PageFromBytes(mem)
	if err != nil {
		unix.Munmap(mem)
		return nil, nil, err
	}

	return mem, page, nil
}

// Unmap releases a mapping obtained from CreateSegment or MapSegment.
func Unmap(mem []byte) error {
	return unix.Munmap(mem)
}

// Close unmaps the segment and closes its file descriptor.
func (s *Segment) Close() error {
	err := Unmap(s.Mem)
	if cerr := unix.Close(s.FD); err == nil {
		err = cerr
	}
	s.Mem = nil
	s.Page = nil

	return err
}
