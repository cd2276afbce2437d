// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package frame

import "errors"

// Erros do codec. ErrMalformed wraps the specific defect via fmt.Errorf
// elsewhere in this package; callers should match with errors.Is.
var (
	// ErrMalformed means the frame bytes violate the wire format: a truncated
	// header, an unknown frame type, a missing required flag, or an illegal
	// field value (e.g. request-N == 0).
	ErrMalformed = errors.New("frame: malformed")

	// ErrUnimplemented means the frame type is a known wire value this
	// runtime does not handle (RESUME, RESUME_OK). Callers treat this as a
	// connection-level protocol error, not a codec failure.
	ErrUnimplemented = errors.New("frame: unimplemented frame type")

	// ErrTooLong means the frame (or its length prefix, on a stream
	// transport) exceeds the configured limit.
	ErrTooLong = errors.New("frame: exceeds size limit")
)
