// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package fragment splits oversize payload-bearing frames to a configured
// MTU and reassembles fragment chains back into logical frames. Fragments
// of one logical frame are guaranteed to arrive in order on an ordered
// transport, so reassembly never has to track an out-of-order case.
package fragment

import (
	"errors"
	"fmt"

	"github.com/nishisan-dev/rsocket-go/internal/frame"
)

// MinMTU is the floor below which fragmentation cannot make progress: a
// full header plus a handful of payload bytes. Starting the runtime with a
// smaller MTU is a configuration error.
const MinMTU = frame.HeaderSize + 8

// ErrMTUTooSmall is returned by Fragment (and by builder validation) when
// the configured MTU cannot fit a header plus minimal payload.
var ErrMTUTooSmall = errors.New("fragment: mtu below minimum frame size")

// Fragment splits f's wire encoding into a chain of independent wire-ready
// byte buffers (header + body chunk each), such that every buffer is at
// most mtu bytes. All but the last set FlagFollows. mtu == 0 disables
// fragmentation: Fragment returns the single unfragmented wire frame
// regardless of size.
//
// Header fields (stream-id, type) are repeated on every chunk; only the
// first chunk's body bytes happen to contain f's type-specific header
// fields (initial-request-N, SETUP parameters, ...) because those are
// encoded once at the front of the full body and simply land in whichever
// chunk the byte-splitting puts them in.
func Fragment(f *frame.Frame, mtu int) ([][]byte, error) {
	body := frame.EncodeBody(f)

	if mtu == 0 {
		return [][]byte{append(frame.EncodeHeader(f.StreamID, f.Type, f.Flags), body...)}, nil
	}
	if mtu < MinMTU {
		return nil, fmt.Errorf("%w: mtu=%d, minimum=%d", ErrMTUTooSmall, mtu, MinMTU)
	}

	chunkBody := mtu - frame.HeaderSize
	if len(body) <= chunkBody {
		return [][]byte{append(frame.EncodeHeader(f.StreamID, f.Type, f.Flags), body...)}, nil
	}

	var chunks [][]byte
	for off := 0; off < len(body); off += chunkBody {
		end := off + chunkBody
		last := end >= len(body)
		if last {
			end = len(body)
		}
		fl := f.Flags
		if !last {
			fl |= frame.FlagFollows
		}
		wire := append(frame.EncodeHeader(f.StreamID, f.Type, fl), body[off:end]...)
		chunks = append(chunks, wire)
	}
	// A zero-length body (e.g. CANCEL) never needs a second
	// chunk, but guard against an empty loop for a zero-length body that
	// still exceeded chunkBody == 0 in pathological configs.
	if len(chunks) == 0 {
		chunks = [][]byte{append(frame.EncodeHeader(f.StreamID, f.Type, f.Flags), body...)}
	}
	return chunks, nil
}
