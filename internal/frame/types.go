// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package frame implements the RSocket wire frame codec: the sixteen frame
// variants, their shared header (stream-id, type, flags), and the
// length-prefixed framing used on stream transports.
package frame

import "fmt"

// Type identifies one of the RSocket frame variants. Only the low 6 bits
// are significant on the wire.
type Type uint8

// Frame type codes, carried over unchanged from the RSocket v1.0 wire
// format.
const (
	TypeReserved         Type = 0x00
	TypeSetup            Type = 0x01
	TypeLease            Type = 0x02
	TypeKeepalive        Type = 0x03
	TypeRequestResponse  Type = 0x04
	TypeRequestFNF       Type = 0x05
	TypeRequestStream    Type = 0x06
	TypeRequestChannel   Type = 0x07
	TypeRequestN         Type = 0x08
	TypeCancel           Type = 0x09
	TypePayload          Type = 0x0A
	TypeError            Type = 0x0B
	TypeMetadataPush     Type = 0x0C
	TypeResume           Type = 0x0D
	TypeResumeOK         Type = 0x0E
	TypeExt              Type = 0x3F
	typeMax              Type = 0x3F
)

func (t Type) String() string {
	switch t {
	case TypeSetup:
		return "SETUP"
	case TypeLease:
		return "LEASE"
	case TypeKeepalive:
		return "KEEPALIVE"
	case TypeRequestResponse:
		return "REQUEST_RESPONSE"
	case TypeRequestFNF:
		return "REQUEST_FNF"
	case TypeRequestStream:
		return "REQUEST_STREAM"
	case TypeRequestChannel:
		return "REQUEST_CHANNEL"
	case TypeRequestN:
		return "REQUEST_N"
	case TypeCancel:
		return "CANCEL"
	case TypePayload:
		return "PAYLOAD"
	case TypeError:
		return "ERROR"
	case TypeMetadataPush:
		return "METADATA_PUSH"
	case TypeResume:
		return "RESUME"
	case TypeResumeOK:
		return "RESUME_OK"
	case TypeExt:
		return "EXT"
	default:
		return fmt.Sprintf("UNKNOWN(0x%02x)", uint8(t))
	}
}

// knownType reports whether t is an assigned wire type. RESUME and
// RESUME_OK are assigned but not implemented: ParseHeader rejects them with
// ErrUnimplemented (not ErrMalformed) before this check, and the duplex
// read loop treats that as a connection error.
func knownType(t Type) bool {
	return t <= TypeMetadataPush && t != TypeReserved || t == TypeResume || t == TypeResumeOK
}

// Flags are the 10 bits following the frame type. Bit meaning is
// type-dependent; the same bit position is reused across types the way the
// RSocket wire format does, since type and flags are always interpreted
// together.
type Flags uint16

const (
	FlagIgnore  Flags = 1 << 9 // unknown frame may be ignored rather than failing the connection
	FlagMetadata Flags = 1 << 8 // payload/body carries a metadata block
	FlagFollows Flags = 1 << 7 // fragment: continued by a following frame
	FlagComplete Flags = 1 << 6 // stream terminates after this frame
	FlagNext    Flags = 1 << 5 // payload carries data (PAYLOAD NEXT)
	FlagRespond Flags = 1 << 7 // KEEPALIVE only: peer should echo this frame back
	FlagLease   Flags = 1 << 6 // SETUP only: client supports LEASE
	FlagResumeEnable Flags = 1 << 7 // SETUP only: client requests RESUME support (always rejected)
)

const flagsMask Flags = 0x3FF

func (f Flags) Has(bit Flags) bool { return f&bit != 0 }

// StreamID is the 31-bit frame header identifier. 0 is reserved for
// connection-level frames.
type StreamID uint32

const maxStreamID StreamID = 0x7FFFFFFF

// Payload is a data/metadata pair. Metadata is distinguished from "absent"
// by a nil slice; an empty-but-present metadata block is represented as a
// non-nil zero-length slice.
type Payload struct {
	Metadata []byte // nil means absent, non-nil-empty means present-and-empty
	Data     []byte
}

// HasMetadata reports whether this payload carries a metadata block.
func (p Payload) HasMetadata() bool { return p.Metadata != nil }

// Frame is the decoded, logical representation of one wire frame (after
// any fragment-chain reassembly by the joiner).
type Frame struct {
	StreamID StreamID
	Type     Type
	Flags    Flags
	Payload  Payload // valid for REQUEST_*, PAYLOAD, METADATA_PUSH

	// Type-specific fields. Only the field(s) relevant to Type are set.
	InitialRequestN  uint32 // REQUEST_STREAM, REQUEST_CHANNEL
	RequestN         uint32 // REQUEST_N
	ErrorCode        ErrorCode // ERROR
	KeepaliveLastPos uint64    // KEEPALIVE
	LeaseTTLMillis   uint32    // LEASE
	LeaseNumRequests uint32    // LEASE
	Setup            *SetupInfo
}

// SetupInfo carries the SETUP frame's connection-parameters.
type SetupInfo struct {
	MajorVersion      uint16
	MinorVersion      uint16
	KeepaliveInterval uint32 // milliseconds
	MaxLifetime       uint32 // milliseconds
	MetadataMimeType  string
	DataMimeType      string
}

// ErrorCode is the subset of RSocket ERROR frame codes this runtime knows
// about.
type ErrorCode uint32

const (
	ErrorCodeInvalidSetup     ErrorCode = 0x00000001
	ErrorCodeUnsupportedSetup ErrorCode = 0x00000002
	ErrorCodeRejectedSetup    ErrorCode = 0x00000003
	ErrorCodeRejectedResume   ErrorCode = 0x00000004
	ErrorCodeConnectionError  ErrorCode = 0x00000101
	ErrorCodeConnectionClose  ErrorCode = 0x00000102
	ErrorCodeApplicationError ErrorCode = 0x00000201
	ErrorCodeRejected         ErrorCode = 0x00000202
	ErrorCodeCanceled         ErrorCode = 0x00000203
	ErrorCodeInvalid          ErrorCode = 0x00000204
)

func (c ErrorCode) String() string {
	switch c {
	case ErrorCodeInvalidSetup:
		return "INVALID_SETUP"
	case ErrorCodeUnsupportedSetup:
		return "UNSUPPORTED_SETUP"
	case ErrorCodeRejectedSetup:
		return "REJECTED_SETUP"
	case ErrorCodeRejectedResume:
		return "REJECTED_RESUME"
	case ErrorCodeConnectionError:
		return "CONNECTION_ERROR"
	case ErrorCodeConnectionClose:
		return "CONNECTION_CLOSE"
	case ErrorCodeApplicationError:
		return "APPLICATION_ERROR"
	case ErrorCodeRejected:
		return "REJECTED"
	case ErrorCodeCanceled:
		return "CANCELED"
	case ErrorCodeInvalid:
		return "INVALID"
	default:
		return fmt.Sprintf("ERROR(0x%08x)", uint32(c))
	}
}
