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

// Package fastipc is a low-latency, single-host publish/subscribe fabric
// over shared memory. A tower process arbitrates per-topic segments and
// hands their file descriptors to clients over a local socket; Readers
// and Writers then exchange typed samples through a lock-free multi-slot
// bank embedded in the segment, with the tower never on the data path.
//
// Writers publish the latest value; readers opportunistically observe
// some recent sample with bounded, non-blocking operations. There is no
// queueing, no backpressure, and no delivery guarantee beyond
// "a reader sees some recent sample".
package fastipc

import (
	"errors"
	"fmt"
	"net"

	"golang.org/x/sys/unix"

	"github.com/ItJustWorksTM/fastipc/internal/shm"
)

// DefaultSocketPath is the well-known path of the tower's socket.
const DefaultSocketPath = shm.DefaultSocketPath

// ErrPayloadSizeMismatch is returned when a channel already exists with a
// different payload size than the endpoint expects. The first endpoint
// connecting to a topic fixes its payload size; all later endpoints must
// agree.
var ErrPayloadSizeMismatch = errors.New("fastipc: channel payload size mismatch")

// connect performs the tower handshake: one request packet out, one reply
// packet back carrying the segment size and, in ancillary data, the
// segment file descriptor. The returned mapping is live; the handshake
// socket and the descriptor are closed before returning.
func connect(socketPath string, request shm.ClientRequest) ([]byte, *shm.Page, error) {
	packet, err := request.Encode()
	if err != nil {
		return nil, nil, err
	}

	addr := &net.UnixAddr{Name: socketPath, Net: "unixpacket"}
	conn, err := net.DialUnix("unixpacket", nil, addr)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to tower: %w", err)
	}
	defer conn.Close()

	if _, err := conn.Write(packet); err != nil {
		return nil, nil, fmt.Errorf("failed to write to tower: %w", err)
	}

	body := make([]byte, shm.ReplySize)
	oob := make([]byte, unix.CmsgSpace(4))
	n, oobn, _, _, err := conn.ReadMsgUnix(body, oob)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to receive reply from tower: %w", err)
	}

	totalSize, err := shm.DecodeReply(body[:n])
	if err != nil {
		return nil, nil, fmt.Errorf("failed to decode tower reply: %w", err)
	}

	fd, err := parseSegmentFD(oob[:oobn])
	if err != nil {
		return nil, nil, err
	}

	mem, page, err := shm.MapSegment(fd, totalSize)
	unix.Close(fd)
	if err != nil {
		return nil, nil, err
	}

	return mem, page, nil
}

// parseSegmentFD extracts the single SCM_RIGHTS descriptor from the
// reply's ancillary data.
func parseSegmentFD(oob []byte) (int, error) {
	scms, err := unix.ParseSocketControlMessage(oob)
	if err != nil {
		return -1, fmt.Errorf("failed to parse tower reply control message: %w", err)
	}
	if len(scms) != 1 {
		return -1, fmt.Errorf("expected one control message in tower reply, got %d", len(scms))
	}

	fds, err := unix.ParseUnixRights(&scms[0])
	if err != nil {
		return -1, fmt.Errorf("failed to parse tower reply rights: %w", err)
	}
	if len(fds) != 1 {
		return -1, fmt.Errorf("expected one descriptor in tower reply, got %d", len(fds))
	}

	return fds[0], nil
}

// open runs the handshake and validates the agreed payload size.
func open(socketPath string, requester shm.RequesterType, channelName string, maxPayloadSize uint64) ([]byte, *shm.Page, error) {
	mem, page, err := connect(socketPath, shm.ClientRequest{
		Type:           requester,
		MaxPayloadSize: maxPayloadSize,
		TopicName:      channelName,
	})
	if err != nil {
		return nil, nil, err
	}

	if got := page.MaxPayloadSize(); got != maxPayloadSize {
		shm.Unmap(mem)
		return nil, nil, fmt.Errorf("%w: channel %q has %d, requested %d",
			ErrPayloadSizeMismatch, channelName, got, maxPayloadSize)
	}

	return mem, page, nil
}
