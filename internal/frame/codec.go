// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package frame

import (
	"encoding/binary"
	"fmt"
)

// HeaderSize is the fixed 6-byte frame header: 4-byte stream-id + 2-byte
// type/flags word.
const HeaderSize = 6

// Encode serializes f into its wire representation (header + body). Encode
// never fails: callers are expected to have constructed a well-formed
// Frame; malformed input is only ever observed on the decode side.
func Encode(f *Frame) []byte {
	body := encodeBody(f)
	buf := make([]byte, HeaderSize+len(body))
	putHeader(buf, f.StreamID, f.Type, f.Flags)
	copy(buf[HeaderSize:], body)
	return buf
}

func putHeader(buf []byte, sid StreamID, t Type, fl Flags) {
	binary.BigEndian.PutUint32(buf[0:4], uint32(sid)&uint32(maxStreamID))
	word := uint16(t&0x3F)<<10 | uint16(fl&flagsMask)
	binary.BigEndian.PutUint16(buf[4:6], word)
}

// EncodeHeader renders just the 6-byte frame header, for callers (the
// fragmenter) that build the body separately.
func EncodeHeader(sid StreamID, t Type, fl Flags) []byte {
	buf := make([]byte, HeaderSize)
	putHeader(buf, sid, t, fl)
	return buf
}

// EncodeBody renders f's body alone (no header), the same bytes Encode
// places after the header. Exported for internal/fragment, which needs to
// split the raw body independent of per-chunk headers.
func EncodeBody(f *Frame) []byte { return encodeBody(f) }

func encodeBody(f *Frame) []byte {
	switch f.Type {
	case TypeSetup:
		return encodeSetup(f)
	case TypeLease:
		return encodeLease(f)
	case TypeKeepalive:
		return encodeKeepalive(f)
	case TypeRequestResponse, TypeRequestFNF:
		return encodePayload(f.Payload, f.Flags)
	case TypeRequestStream, TypeRequestChannel:
		b := make([]byte, 4)
		binary.BigEndian.PutUint32(b, f.InitialRequestN)
		return append(b, encodePayload(f.Payload, f.Flags)...)
	case TypeRequestN:
		b := make([]byte, 4)
		binary.BigEndian.PutUint32(b, f.RequestN)
		return b
	case TypeCancel:
		return nil
	case TypePayload:
		return encodePayload(f.Payload, f.Flags)
	case TypeError:
		b := make([]byte, 4, 4+len(f.Payload.Data))
		binary.BigEndian.PutUint32(b, uint32(f.ErrorCode))
		return append(b, f.Payload.Data...)
	case TypeMetadataPush:
		return f.Payload.Metadata
	default:
		return nil
	}
}

func encodeSetup(f *Frame) []byte {
	s := f.Setup
	if s == nil {
		s = &SetupInfo{}
	}
	buf := make([]byte, 12, 32)
	binary.BigEndian.PutUint16(buf[0:2], s.MajorVersion)
	binary.BigEndian.PutUint16(buf[2:4], s.MinorVersion)
	binary.BigEndian.PutUint32(buf[4:8], s.KeepaliveInterval)
	binary.BigEndian.PutUint32(buf[8:12], s.MaxLifetime)
	buf = append(buf, byte(len(s.MetadataMimeType)))
	buf = append(buf, []byte(s.MetadataMimeType)...)
	buf = append(buf, byte(len(s.DataMimeType)))
	buf = append(buf, []byte(s.DataMimeType)...)
	buf = append(buf, encodePayload(f.Payload, f.Flags)...)
	return buf
}

func encodeLease(f *Frame) []byte {
	buf := make([]byte, 8, 8+len(f.Payload.Metadata))
	binary.BigEndian.PutUint32(buf[0:4], f.LeaseTTLMillis)
	binary.BigEndian.PutUint32(buf[4:8], f.LeaseNumRequests)
	if f.Flags.Has(FlagMetadata) {
		buf = append(buf, f.Payload.Metadata...)
	}
	return buf
}

func encodeKeepalive(f *Frame) []byte {
	buf := make([]byte, 8, 8+len(f.Payload.Data))
	binary.BigEndian.PutUint64(buf[0:8], f.KeepaliveLastPos)
	buf = append(buf, f.Payload.Data...)
	return buf
}

// encodePayload lays out an optional 3-byte-length-prefixed metadata block
// followed by the data bytes, matching the length-prefix convention the
// transport framing itself uses.
func encodePayload(p Payload, fl Flags) []byte {
	if !fl.Has(FlagMetadata) {
		return p.Data
	}
	buf := make([]byte, 3, 3+len(p.Metadata)+len(p.Data))
	putUint24(buf, uint32(len(p.Metadata)))
	buf = append(buf, p.Metadata...)
	buf = append(buf, p.Data...)
	return buf
}

// RawFrame is a header plus its still-undecoded body bytes: the shape seen
// at the transport boundary, before the joiner (internal/fragment) has
// reassembled a FOLLOWS chain into one logical body. Decoding a RawFrame's
// body is only valid once it represents a complete logical frame — for a
// chain of fragments that means after concatenation of every chunk up to
// and including the first one without FlagFollows.
type RawFrame struct {
	StreamID StreamID
	Type     Type
	Flags    Flags
	Body     []byte
}

// ParseHeader validates and extracts the 6-byte header plus raw body bytes.
// It performs only header-level validation (known type, stream-id 0
// legality) — it does not interpret the body, so it is safe to call on an
// individual fragment of a FOLLOWS chain.
func ParseHeader(b []byte) (RawFrame, error) {
	if len(b) < HeaderSize {
		return RawFrame{}, fmt.Errorf("%w: header truncated (%d bytes)", ErrMalformed, len(b))
	}
	sid := StreamID(binary.BigEndian.Uint32(b[0:4]) & uint32(maxStreamID))
	word := binary.BigEndian.Uint16(b[4:6])
	t := Type(word >> 10)
	fl := Flags(word) & flagsMask
	body := b[HeaderSize:]

	if t == TypeResume || t == TypeResumeOK {
		return RawFrame{}, ErrUnimplemented
	}
	if !knownType(t) {
		return RawFrame{}, fmt.Errorf("%w: unknown frame type 0x%02x", ErrMalformed, uint8(t))
	}
	if sid == 0 && !connectionLevel(t) {
		return RawFrame{}, fmt.Errorf("%w: stream-id 0 invalid for %s", ErrMalformed, t)
	}
	if sid != 0 && t == TypeSetup {
		return RawFrame{}, fmt.Errorf("%w: SETUP must use stream-id 0", ErrMalformed)
	}
	return RawFrame{StreamID: sid, Type: t, Flags: fl, Body: body}, nil
}

// DecodeBody interprets a RawFrame's body according to its Type. raw must
// represent a complete logical frame (the fully reassembled body when raw
// was the product of a FOLLOWS chain); calling it on a mid-chain fragment
// produces undefined results, which is why internal/fragment's Joiner
// never does so.
func DecodeBody(raw RawFrame) (*Frame, error) {
	f := &Frame{StreamID: raw.StreamID, Type: raw.Type, Flags: raw.Flags}
	body := raw.Body
	var err error
	switch raw.Type {
	case TypeSetup:
		err = decodeSetup(f, body)
	case TypeLease:
		err = decodeLease(f, body)
	case TypeKeepalive:
		err = decodeKeepalive(f, body)
	case TypeRequestResponse, TypeRequestFNF:
		f.Payload, err = decodePayload(body, raw.Flags)
	case TypeRequestStream, TypeRequestChannel:
		err = decodeRequestManyInitial(f, body)
	case TypeRequestN:
		err = decodeRequestN(f, body)
	case TypeCancel:
		// no body
	case TypePayload:
		err = decodePayloadFrame(f, body)
	case TypeError:
		err = decodeError(f, body)
	case TypeMetadataPush:
		f.Payload = Payload{Metadata: body}
	}
	if err != nil {
		return nil, err
	}
	return f, nil
}

// Decode parses a single, non-fragmented wire frame (header + complete
// body, no length prefix) in one step. It returns ErrMalformed for a
// truncated header/body, an unknown type, a missing required flag, or an
// illegal field value; ErrUnimplemented for a known-but-unhandled
// RESUME/RESUME_OK frame. Callers that must handle fragmentation use
// ParseHeader + internal/fragment.Joiner + DecodeBody instead.
func Decode(b []byte) (*Frame, error) {
	raw, err := ParseHeader(b)
	if err != nil {
		return nil, err
	}
	return DecodeBody(raw)
}

func connectionLevel(t Type) bool {
	switch t {
	case TypeSetup, TypeLease, TypeKeepalive, TypeMetadataPush, TypeError:
		return true
	default:
		return false
	}
}

func decodeSetup(f *Frame, body []byte) error {
	if len(body) < 12 {
		return fmt.Errorf("%w: SETUP truncated", ErrMalformed)
	}
	s := &SetupInfo{
		MajorVersion:      binary.BigEndian.Uint16(body[0:2]),
		MinorVersion:      binary.BigEndian.Uint16(body[2:4]),
		KeepaliveInterval: binary.BigEndian.Uint32(body[4:8]),
		MaxLifetime:       binary.BigEndian.Uint32(body[8:12]),
	}
	rest := body[12:]
	mimeMeta, rest, err := readLenPrefixedString(rest)
	if err != nil {
		return fmt.Errorf("%w: SETUP metadata mime: %v", ErrMalformed, err)
	}
	s.MetadataMimeType = mimeMeta
	mimeData, rest, err := readLenPrefixedString(rest)
	if err != nil {
		return fmt.Errorf("%w: SETUP data mime: %v", ErrMalformed, err)
	}
	s.DataMimeType = mimeData
	f.Setup = s
	payload, err := decodePayload(rest, f.Flags)
	if err != nil {
		return err
	}
	f.Payload = payload
	return nil
}

func readLenPrefixedString(b []byte) (string, []byte, error) {
	if len(b) < 1 {
		return "", nil, fmt.Errorf("truncated length byte")
	}
	n := int(b[0])
	if len(b) < 1+n {
		return "", nil, fmt.Errorf("truncated string (want %d bytes)", n)
	}
	return string(b[1 : 1+n]), b[1+n:], nil
}

func decodeLease(f *Frame, body []byte) error {
	if len(body) < 8 {
		return fmt.Errorf("%w: LEASE truncated", ErrMalformed)
	}
	f.LeaseTTLMillis = binary.BigEndian.Uint32(body[0:4])
	f.LeaseNumRequests = binary.BigEndian.Uint32(body[4:8])
	if f.Flags.Has(FlagMetadata) {
		f.Payload.Metadata = body[8:]
	}
	return nil
}

func decodeKeepalive(f *Frame, body []byte) error {
	if len(body) < 8 {
		return fmt.Errorf("%w: KEEPALIVE truncated", ErrMalformed)
	}
	f.KeepaliveLastPos = binary.BigEndian.Uint64(body[0:8])
	f.Payload.Data = body[8:]
	return nil
}

func decodeRequestManyInitial(f *Frame, body []byte) error {
	if len(body) < 4 {
		return fmt.Errorf("%w: %s truncated", ErrMalformed, f.Type)
	}
	n := binary.BigEndian.Uint32(body[0:4])
	if n == 0 {
		return fmt.Errorf("%w: initial request-N of 0 is illegal", ErrMalformed)
	}
	f.InitialRequestN = n
	payload, err := decodePayload(body[4:], f.Flags)
	if err != nil {
		return err
	}
	f.Payload = payload
	return nil
}

func decodeRequestN(f *Frame, body []byte) error {
	if len(body) < 4 {
		return fmt.Errorf("%w: REQUEST_N truncated", ErrMalformed)
	}
	n := binary.BigEndian.Uint32(body[0:4])
	if n == 0 {
		return fmt.Errorf("%w: REQUEST_N of 0 is illegal", ErrMalformed)
	}
	f.RequestN = n
	return nil
}

func decodePayloadFrame(f *Frame, body []byte) error {
	if !f.Flags.Has(FlagNext) && !f.Flags.Has(FlagComplete) {
		return fmt.Errorf("%w: PAYLOAD missing both NEXT and COMPLETE", ErrMalformed)
	}
	payload, err := decodePayload(body, f.Flags)
	if err != nil {
		return err
	}
	f.Payload = payload
	return nil
}

func decodeError(f *Frame, body []byte) error {
	if len(body) < 4 {
		return fmt.Errorf("%w: ERROR truncated", ErrMalformed)
	}
	f.ErrorCode = ErrorCode(binary.BigEndian.Uint32(body[0:4]))
	f.Payload = Payload{Data: body[4:]}
	return nil
}

func decodePayload(body []byte, fl Flags) (Payload, error) {
	if !fl.Has(FlagMetadata) {
		return Payload{Data: body}, nil
	}
	if len(body) < 3 {
		return Payload{}, fmt.Errorf("%w: truncated metadata length", ErrMalformed)
	}
	mlen := getUint24(body)
	if len(body) < 3+int(mlen) {
		return Payload{}, fmt.Errorf("%w: truncated metadata (want %d bytes)", ErrMalformed, mlen)
	}
	meta := body[3 : 3+mlen]
	if meta == nil {
		meta = []byte{}
	}
	data := body[3+mlen:]
	return Payload{Metadata: meta, Data: data}, nil
}

func putUint24(buf []byte, v uint32) {
	buf[0] = byte(v >> 16)
	buf[1] = byte(v >> 8)
	buf[2] = byte(v)
}

func getUint24(b []byte) uint32 {
	return uint32(b[0])<<16 | uint32(b[1])<<8 | uint32(b[2])
}
