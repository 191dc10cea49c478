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

// Package tower implements the fastipc broker: a local stream-packet
// socket on which each accepted connection performs a single handshake,
// receiving a topic request and replying with the topic segment's file
// descriptor. The tower arbitrates segment creation and is never on the
// sample data path.
package tower

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/ItJustWorksTM/fastipc/internal/shm"
)

// DefaultSocketPath is the well-known socket path clients connect to.
const DefaultSocketPath = shm.DefaultSocketPath

// listenQueueSize is the accept backlog requested from the kernel.
const listenQueueSize = 128

// handshakeBufSize bounds one request packet: the fixed fields plus a
// maximum-length topic name, rounded up.
const handshakeBufSize = 512

// Tower owns the topic table and the authoritative descriptor of every
// live channel segment. Segments persist until the tower exits; clients
// detaching are not tracked.
type Tower struct {
	ln  *net.UnixListener
	log *zap.Logger

	mu       sync.Mutex
	channels map[string]*shm.Segment

	shutdown atomic.Bool
}

// Create binds and listens on a local stream-packet socket at path,
// unlinking any stale socket file left by a previous run.
func Create(path string, log *zap.Logger) (*Tower, error) {
	if log == nil {
		log = zap.NewNop()
	}

	// A stale socket file from a crashed tower would fail the bind.
	if err := unix.Unlink(path); err != nil && !errors.Is(err, unix.ENOENT) {
		return nil, fmt.Errorf("failed to unlink stale socket %q: %w", path, err)
	}

	addr := &net.UnixAddr{Name: path, Net: "unixpacket"}
	ln, err := net.ListenUnix("unixpacket", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on tower socket %q: %w", path, err)
	}

	if err := setListenBacklog(ln); err != nil {
		ln.Close()
		return nil, err
	}

	return &Tower{
		ln:       ln,
		log:      log,
		channels: make(map[string]*shm.Segment),
	}, nil
}

// setListenBacklog re-issues listen(2) with the tower's backlog; the net
// package already listened with its own default.
func setListenBacklog(ln *net.UnixListener) error {
	raw, err := ln.SyscallConn()
	if err != nil {
		return fmt.Errorf("failed to access tower socket: %w", err)
	}

	var lerr error
	if err := raw.Control(func(fd uintptr) {
		lerr = unix.Listen(int(fd), listenQueueSize)
	}); err != nil {
		return fmt.Errorf("failed to access tower socket: %w", err)
	}
	if lerr != nil {
		return fmt.Errorf("failed to listen on tower socket: %w", lerr)
	}

	return nil
}

// Run accepts and serves handshakes until Shutdown. Aborted connections
// are skipped; handshake failures close only the offending connection.
// Any other accept error is fatal and returned.
func (t *Tower) Run() error {
	for {
		conn, err := t.ln.AcceptUnix()
		if err != nil {
			// The half-closed post-Shutdown accept surfaces as EINVAL;
			// a closed listener as net.ErrClosed.
			if t.shutdown.Load() && (errors.Is(err, unix.EINVAL) || errors.Is(err, net.ErrClosed)) {
				return nil
			}
			if errors.Is(err, unix.ECONNABORTED) {
				continue
			}

			return fmt.Errorf("failed to accept incoming connection: %w", err)
		}

		t.serve(conn)
	}
}

// Shutdown half-closes the listening socket to unblock a Run blocked in
// accept. It does not release the socket; Close does.
func (t *Tower) Shutdown() error {
	t.shutdown.Store(true)

	raw, err := t.ln.SyscallConn()
	if err != nil {
		return fmt.Errorf("failed to access tower socket: %w", err)
	}

	var serr error
	if err := raw.Control(func(fd uintptr) {
		serr = unix.Shutdown(int(fd), unix.SHUT_RD)
	}); err != nil {
		return fmt.Errorf("failed to access tower socket: %w", err)
	}
	if serr != nil {
		return fmt.Errorf("failed to shutdown tower socket: %w", serr)
	}

	return nil
}

// Close releases the listening socket and every channel segment. Clients
// holding mappings keep them until they unmap; new handshakes fail.
func (t *Tower) Close() error {
	err := t.ln.Close()

	t.mu.Lock()
	defer t.mu.Unlock()
	for topic, seg := range t.channels {
		if cerr := seg.Close(); err == nil {
			err = cerr
		}
		delete(t.channels, topic)
		channelsGauge.Dec()
	}

	return err
}

// serve performs one handshake: read the single request packet, look up
// or create the topic's channel, reply with the segment size and file
// descriptor. Malformed requests get no reply.
func (t *Tower) serve(conn *net.UnixConn) {
	defer conn.Close()

	buf := make([]byte, handshakeBufSize)
	n, err := conn.Read(buf)
	if err != nil {
		handshakeErrors.WithLabelValues("read").Inc()
		t.log.Warn("failed to read from client", zap.Error(err))
		return
	}

	request, err := shm.DecodeClientRequest(buf[:n])
	if err != nil {
		handshakeErrors.WithLabelValues("decode").Inc()
		t.log.Warn("malformed client request", zap.Error(err), zap.Int("bytes", n))
		return
	}

	t.log.Info("handshake",
		zap.Stringer("requester", request.Type),
		zap.String("topic", request.TopicName),
		zap.Uint64("max_payload_size", request.MaxPayloadSize))

	seg, err := t.channel(request)
	if err != nil {
		handshakeErrors.WithLabelValues("segment").Inc()
		t.log.Error("failed to create channel segment",
			zap.String("topic", request.TopicName), zap.Error(err))
		return
	}

	rights := unix.UnixRights(seg.FD)
	if _, _, err := conn.WriteMsgUnix(shm.EncodeReply(seg.Size), rights, nil); err != nil {
		handshakeErrors.WithLabelValues("reply").Inc()
		t.log.Warn("failed to send reply to client", zap.Error(err))
		return
	}

	handshakesTotal.WithLabelValues(request.Type.String()).Inc()
}

// channel returns the topic's segment, creating it on first request. The
// first requester fixes the payload size; later requesters get the
// existing segment and validate the size on their side.
func (t *Tower) channel(request shm.ClientRequest) (*shm.Segment, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if seg, ok := t.channels[request.TopicName]; ok {
		return seg, nil
	}

	seg, err := shm.CreateSegment(request.TopicName, request.MaxPayloadSize)
	if err != nil {
		return nil, err
	}

	t.channels[request.TopicName] = seg
	channelsGauge.Inc()
	t.log.Info("channel created",
		zap.String("topic", request.TopicName),
		zap.Uint64("total_size", seg.Size))

	return seg, nil
}

// SocketPath returns the filesystem path the tower is bound to.
func (t *Tower) SocketPath() string {
	return t.ln.Addr().String()
}
