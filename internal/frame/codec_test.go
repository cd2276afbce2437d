// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package frame

import (
	"bytes"
	"errors"
	"testing"
)

func TestRequestResponse_RoundTrip(t *testing.T) {
	tests := []struct {
		name     string
		metadata []byte
		data     []byte
	}{
		{"no metadata", nil, []byte("hello")},
		{"empty metadata", []byte{}, []byte("hello")},
		{"with metadata", []byte("route"), []byte("hello")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := &Frame{
				StreamID: 1,
				Type:     TypeRequestResponse,
				Payload:  Payload{Metadata: tt.metadata, Data: tt.data},
			}
			if tt.metadata != nil {
				f.Flags |= FlagMetadata
			}

			got, err := Decode(Encode(f))
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}
			if got.StreamID != f.StreamID || got.Type != f.Type {
				t.Fatalf("header mismatch: %+v", got)
			}
			if !bytes.Equal(got.Payload.Data, tt.data) {
				t.Errorf("data mismatch: got %q want %q", got.Payload.Data, tt.data)
			}
			if tt.metadata == nil {
				if got.Payload.HasMetadata() {
					t.Errorf("expected absent metadata, got %v", got.Payload.Metadata)
				}
			} else {
				if !got.Payload.HasMetadata() || !bytes.Equal(got.Payload.Metadata, tt.metadata) {
					t.Errorf("metadata mismatch: got %v want %v", got.Payload.Metadata, tt.metadata)
				}
			}
		})
	}
}

func TestSetup_RoundTrip(t *testing.T) {
	f := &Frame{
		StreamID: 0,
		Type:     TypeSetup,
		Flags:    FlagMetadata,
		Setup: &SetupInfo{
			MajorVersion:      1,
			MinorVersion:      0,
			KeepaliveInterval: 20000,
			MaxLifetime:       90000,
			MetadataMimeType:  "application/json",
			DataMimeType:      "application/octet-stream",
		},
		Payload: Payload{Metadata: []byte("m"), Data: []byte("setup-payload")},
	}

	got, err := Decode(Encode(f))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got.Setup == nil {
		t.Fatal("expected Setup to be populated")
	}
	if got.Setup.MetadataMimeType != "application/json" || got.Setup.DataMimeType != "application/octet-stream" {
		t.Errorf("mime types mismatch: %+v", got.Setup)
	}
	if got.Setup.KeepaliveInterval != 20000 || got.Setup.MaxLifetime != 90000 {
		t.Errorf("timing mismatch: %+v", got.Setup)
	}
	if string(got.Payload.Data) != "setup-payload" {
		t.Errorf("setup payload mismatch: %q", got.Payload.Data)
	}
}

func TestRequestN_ZeroIsMalformed(t *testing.T) {
	f := &Frame{StreamID: 3, Type: TypeRequestN, RequestN: 0}
	_, err := Decode(Encode(f))
	if !errors.Is(err, ErrMalformed) {
		t.Fatalf("expected ErrMalformed, got %v", err)
	}
}

func TestRequestStream_InitialZeroIsMalformed(t *testing.T) {
	f := &Frame{StreamID: 3, Type: TypeRequestStream, InitialRequestN: 0}
	_, err := Decode(Encode(f))
	if !errors.Is(err, ErrMalformed) {
		t.Fatalf("expected ErrMalformed, got %v", err)
	}
}

func TestPayload_RequiresNextOrComplete(t *testing.T) {
	buf := Encode(&Frame{StreamID: 5, Type: TypePayload, Flags: FlagNext, Payload: Payload{Data: []byte("x")}})
	// Strip the NEXT flag after encoding to simulate an illegal wire frame.
	buf[5] &^= byte(FlagNext)
	_, err := Decode(buf)
	if !errors.Is(err, ErrMalformed) {
		t.Fatalf("expected ErrMalformed, got %v", err)
	}
}

func TestDecode_UnknownType(t *testing.T) {
	buf := Encode(&Frame{StreamID: 1, Type: TypeCancel})
	// Corrupt the type field to an unused code.
	word := uint16(buf[4])<<8 | uint16(buf[5])
	word = (word &^ (0x3F << 10)) | (0x20 << 10)
	buf[4] = byte(word >> 8)
	buf[5] = byte(word)

	_, err := Decode(buf)
	if !errors.Is(err, ErrMalformed) {
		t.Fatalf("expected ErrMalformed for unknown type, got %v", err)
	}
}

func TestDecode_ResumeIsUnimplemented(t *testing.T) {
	buf := Encode(&Frame{StreamID: 0, Type: TypeResume})
	_, err := Decode(buf)
	if !errors.Is(err, ErrUnimplemented) {
		t.Fatalf("expected ErrUnimplemented, got %v", err)
	}
}

func TestStreamCodec_RoundTrip(t *testing.T) {
	var buf bytes.Buffer
	w := NewStreamWriter(&buf)
	frames := []*Frame{
		{StreamID: 0, Type: TypeKeepalive, Flags: FlagRespond, KeepaliveLastPos: 42},
		{StreamID: 1, Type: TypeRequestResponse, Payload: Payload{Data: []byte("ping")}},
		{StreamID: 1, Type: TypePayload, Flags: FlagNext | FlagComplete, Payload: Payload{Data: []byte("pong")}},
	}
	for _, f := range frames {
		if err := w.WriteFrame(f); err != nil {
			t.Fatalf("WriteFrame: %v", err)
		}
	}

	r := NewStreamReader(&buf, 0)
	for i, want := range frames {
		got, err := r.ReadFrame()
		if err != nil {
			t.Fatalf("ReadFrame[%d]: %v", i, err)
		}
		if got.Type != want.Type || got.StreamID != want.StreamID {
			t.Fatalf("frame[%d] mismatch: got %+v want %+v", i, got, want)
		}
	}
}

func TestDecode_HeaderTruncated(t *testing.T) {
	_, err := Decode([]byte{0, 1, 2})
	if !errors.Is(err, ErrMalformed) {
		t.Fatalf("expected ErrMalformed, got %v", err)
	}
}
