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
	"encoding/binary"
	"errors"
	"fmt"
)

// DefaultSocketPath is the well-known path the tower binds its local
// stream-packet socket to.
const DefaultSocketPath = "fastipcd"

// RequesterType identifies which end of a channel a client wants.
type RequesterType uint8

const (
	RequesterReader RequesterType = 0
	RequesterWriter RequesterType = 1
)

// String implements fmt.Stringer.
func (t RequesterType) String() string {
	switch t {
	case RequesterReader:
		return "reader"
	case RequesterWriter:
		return "writer"
	default:
		return fmt.Sprintf("requester(%d)", uint8(t))
	}
}

// Client request wire layout. One request per handshake packet, in one
// direction; the reply travels as an 8-byte total size with the segment
// file descriptor in ancillary data.
//
//	offset  size  field
//	0       1     requester type: 0 reader, 1 writer
//	1       8     max payload size, little-endian uint64
//	9       1     topic name length
//	10      n     topic name bytes
const (
	requestTypeOff    = 0
	requestPayloadOff = 1
	requestNameLenOff = 9
	requestNameOff    = 10

	// RequestMinSize is the smallest valid request packet: all fixed
	// fields plus an empty topic name.
	RequestMinSize = requestNameOff

	// MaxTopicNameLen bounds the topic name; its length travels in one byte.
	MaxTopicNameLen = 255

	// ReplySize is the byte size of the reply packet's main payload.
	ReplySize = 8
)

var (
	// ErrShortPacket indicates a request packet below the minimum size or
	// truncated mid-field.
	ErrShortPacket = errors.New("shm: short request packet")

	// ErrBadRequesterType indicates a requester type outside {0, 1}.
	ErrBadRequesterType = errors.New("shm: bad requester type")

	// ErrTopicNameTooLong indicates a topic name longer than MaxTopicNameLen.
	ErrTopicNameTooLong = errors.New("shm: topic name too long")
)

// ClientRequest is the decoded form of the handshake request.
type ClientRequest struct {
	Type           RequesterType
	MaxPayloadSize uint64
	TopicName      string
}

// Encode serialises the request into a fresh packet buffer.
func (r *ClientRequest) Encode() ([]byte, error) {
	if r.Type != RequesterReader && r.Type != RequesterWriter {
		return nil, ErrBadRequesterType
	}
	if len(r.TopicName) > MaxTopicNameLen {
		return nil, ErrTopicNameTooLong
	}

	buf := make([]byte, RequestMinSize+len(r.TopicName))
	buf[requestTypeOff] = byte(r.Type)
	binary.LittleEndian.PutUint64(buf[requestPayloadOff:], r.MaxPayloadSize)
	buf[requestNameLenOff] = byte(len(r.TopicName))
	copy(buf[requestNameOff:], r.TopicName)

	return buf, nil
}

// DecodeClientRequest parses one request packet. Trailing bytes beyond
// the declared topic name are ignored; a name length pointing past the
// end of the packet is an error.
func DecodeClientRequest(buf []byte) (ClientRequest, error) {
	if len(buf) < RequestMinSize {
		return ClientRequest{}, ErrShortPacket
	}

	requesterType := RequesterType(buf[requestTypeOff])
	if requesterType != RequesterReader && requesterType != RequesterWriter {
		return ClientRequest{}, ErrBadRequesterType
	}

	nameLen := int(buf[requestNameLenOff])
	if len(buf) < requestNameOff+nameLen {
		return ClientRequest{}, ErrShortPacket
	}

	return ClientRequest{
		Type:           requesterType,
		MaxPayloadSize: binary.LittleEndian.Uint64(buf[requestPayloadOff:]),
		TopicName:      string(buf[requestNameOff : requestNameOff+nameLen]),
	}, nil
}

// EncodeReply serialises the reply's main payload: the segment total size.
func EncodeReply(totalSize uint64) []byte {
	buf := make([]byte, ReplySize)
	binary.LittleEndian.PutUint64(buf, totalSize)

	return buf
}

// DecodeReply parses the reply's main payload.
func DecodeReply(buf []byte) (uint64, error) {
	if len(buf) < ReplySize {
		return 0, ErrShortPacket
	}

	return binary.LittleEndian.Uint64(buf), nil
}
