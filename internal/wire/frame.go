// Package wire implements the fixed-header framing protocol that every
// AsyncComm connection speaks: a constant-size header describing the
// payload that follows, marshaled field-by-field the way the rest of this
// codebase avoids reflection-based (de)serialization on the hot path.
package wire

import (
	"encoding/binary"
	"fmt"
)

// HeaderLen is the on-the-wire size of Header in bytes.
const HeaderLen = 32

// Flag bits carried in Header.Flags.
const (
	FlagRequest  uint8 = 1 << 0
	FlagResponse uint8 = 1 << 1
	FlagUrgent   uint8 = 1 << 2
	FlagIgnore   uint8 = 1 << 3 // response may be dropped by the sender
	FlagError    uint8 = 1 << 4 // response payload is a codec.ErrorPayload, not a normal reply
)

// Version is the only header layout this package knows how to marshal.
const Version uint8 = 1

// Header is the fixed preamble of every frame exchanged between client and
// range server. Every field is little-endian on the wire.
type Header struct {
	Version         uint8
	HeaderLen       uint8
	Flags           uint8
	_               uint8 // padding, always zero
	HeaderChecksum  uint32
	ID              uint32
	GroupID         uint32
	TotalLen        uint32
	TimeoutMs       uint32
	PayloadChecksum uint32
	Command         uint16
	_               uint16 // padding, always zero
}

// IsRequest, IsResponse, IsUrgent report the corresponding flag bits.
func (h *Header) IsRequest() bool  { return h.Flags&FlagRequest != 0 }
func (h *Header) IsResponse() bool { return h.Flags&FlagResponse != 0 }
func (h *Header) IsUrgent() bool   { return h.Flags&FlagUrgent != 0 }
func (h *Header) IsError() bool    { return h.Flags&FlagError != 0 }

// Marshal writes the header to a HeaderLen-byte buffer with HeaderChecksum
// computed and filled in. The payload checksum and total length must
// already be set by the caller.
func (h *Header) Marshal() []byte {
	buf := make([]byte, HeaderLen)
	h.marshalInto(buf)
	binary.LittleEndian.PutUint32(buf[8:12], 0) // zero checksum field before summing
	h.HeaderChecksum = checksum32(buf)
	binary.LittleEndian.PutUint32(buf[8:12], h.HeaderChecksum)
	return buf
}

func (h *Header) marshalInto(buf []byte) {
	buf[0] = h.Version
	buf[1] = h.HeaderLen
	buf[2] = h.Flags
	buf[3] = 0
	binary.LittleEndian.PutUint32(buf[4:8], 0) // placeholder, overwritten by Marshal
	binary.LittleEndian.PutUint32(buf[8:12], h.HeaderChecksum)
	binary.LittleEndian.PutUint32(buf[12:16], h.ID)
	binary.LittleEndian.PutUint32(buf[16:20], h.GroupID)
	binary.LittleEndian.PutUint32(buf[20:24], h.TotalLen)
	binary.LittleEndian.PutUint32(buf[24:28], h.TimeoutMs)
	binary.LittleEndian.PutUint16(buf[28:30], h.Command)
	binary.LittleEndian.PutUint16(buf[30:32], 0)
}

// Unmarshal parses a HeaderLen-byte buffer into h and verifies the header
// checksum. It returns ErrHeaderChecksum if the buffer was corrupted in
// transit.
func Unmarshal(buf []byte) (*Header, error) {
	if len(buf) < HeaderLen {
		return nil, fmt.Errorf("wire: short header (%d bytes)", len(buf))
	}
	h := &Header{
		Version:   buf[0],
		HeaderLen: buf[1],
		Flags:     buf[2],
		ID:        binary.LittleEndian.Uint32(buf[12:16]),
		GroupID:   binary.LittleEndian.Uint32(buf[16:20]),
		TotalLen:  binary.LittleEndian.Uint32(buf[20:24]),
		TimeoutMs: binary.LittleEndian.Uint32(buf[24:28]),
		Command:   binary.LittleEndian.Uint16(buf[28:30]),
	}
	h.HeaderChecksum = binary.LittleEndian.Uint32(buf[8:12])
	if h.Version != Version {
		return nil, fmt.Errorf("wire: unsupported header version %d", h.Version)
	}

	check := make([]byte, HeaderLen)
	copy(check, buf[:HeaderLen])
	binary.LittleEndian.PutUint32(check[8:12], 0)
	if checksum32(check) != h.HeaderChecksum {
		return nil, ErrHeaderChecksum
	}
	return h, nil
}

// ErrHeaderChecksum is returned by Unmarshal when the header's checksum
// field does not match the bytes that follow it.
var ErrHeaderChecksum = fmt.Errorf("wire: header checksum mismatch")

// checksum32 computes a 32-bit one's-complement running sum over buf, the
// same family of checksum the original commit-log block trailers use,
// folding carries back in so the result always fits 32 bits.
func checksum32(buf []byte) uint32 {
	var sum uint64
	for i := 0; i+4 <= len(buf); i += 4 {
		sum += uint64(binary.LittleEndian.Uint32(buf[i : i+4]))
	}
	for i := len(buf) - len(buf)%4; i < len(buf); i++ {
		sum += uint64(buf[i])
	}
	for sum>>32 != 0 {
		sum = (sum & 0xffffffff) + (sum >> 32)
	}
	return ^uint32(sum)
}

// ChecksumPayload computes the payload checksum stored in Header.PayloadChecksum.
func ChecksumPayload(payload []byte) uint32 {
	return checksum32(payload)
}

// Frame is a fully decoded header plus its payload bytes.
type Frame struct {
	Header  Header
	Payload []byte
}

// NewRequest builds a request frame with checksums computed and TotalLen set.
func NewRequest(id, groupID uint32, command uint16, timeoutMs uint32, urgent bool, payload []byte) *Frame {
	flags := FlagRequest
	if urgent {
		flags |= FlagUrgent
	}
	h := Header{
		Version:         Version,
		HeaderLen:       HeaderLen,
		Flags:           flags,
		ID:              id,
		GroupID:         groupID,
		TotalLen:        uint32(HeaderLen + len(payload)),
		TimeoutMs:       timeoutMs,
		PayloadChecksum: ChecksumPayload(payload),
		Command:         command,
	}
	return &Frame{Header: h, Payload: payload}
}

// NewResponse mirrors NewRequest for the reply leg, carrying an error code
// packed into the low 32 bits of the payload by convention (see the codec
// package for the full response envelope).
func NewResponse(id, groupID uint32, command uint16, payload []byte) *Frame {
	h := Header{
		Version:         Version,
		HeaderLen:       HeaderLen,
		Flags:           FlagResponse,
		ID:              id,
		GroupID:         groupID,
		TotalLen:        uint32(HeaderLen + len(payload)),
		PayloadChecksum: ChecksumPayload(payload),
		Command:         command,
	}
	return &Frame{Header: h, Payload: payload}
}

// NewErrorResponse mirrors NewResponse but sets FlagError so the receiver
// decodes payload as a codec.ErrorPayload instead of the command's normal
// reply shape.
func NewErrorResponse(id, groupID uint32, command uint16, payload []byte) *Frame {
	h := Header{
		Version:         Version,
		HeaderLen:       HeaderLen,
		Flags:           FlagResponse | FlagError,
		ID:              id,
		GroupID:         groupID,
		TotalLen:        uint32(HeaderLen + len(payload)),
		PayloadChecksum: ChecksumPayload(payload),
		Command:         command,
	}
	return &Frame{Header: h, Payload: payload}
}

// Marshal serializes the full frame (header + payload) into one buffer.
func (f *Frame) Marshal() []byte {
	hb := f.Header.Marshal()
	out := make([]byte, 0, len(hb)+len(f.Payload))
	out = append(out, hb...)
	out = append(out, f.Payload...)
	return out
}

// VerifyPayload reports whether f.Payload matches the header's stored checksum.
func (f *Frame) VerifyPayload() bool {
	return ChecksumPayload(f.Payload) == f.Header.PayloadChecksum
}
