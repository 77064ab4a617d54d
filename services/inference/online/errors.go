// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package online

import "errors"

var (
	// ErrParse is returned for a malformed action line.
	ErrParse = errors.New("online: cannot parse action")

	// ErrFrameTooLarge is returned when a frame's declared length
	// exceeds the wire limit.
	ErrFrameTooLarge = errors.New("online: frame exceeds size limit")

	// ErrBadFrame is returned for a frame that does not decode to a
	// known message shape.
	ErrBadFrame = errors.New("online: malformed frame")

	// ErrNoHandshake is returned when the server does not open with a
	// ModelInformation message.
	ErrNoHandshake = errors.New("online: expected model information handshake")

	// ErrSessionClosed is returned for submissions after Stop or Exit.
	ErrSessionClosed = errors.New("online: session is closed")
)
