// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package online

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
)

// maxFrameSize bounds a single frame. Rule text and predicate
// listings are small; anything past this is a broken peer.
const maxFrameSize = 1 << 20

// WriteFrame writes one envelope as a length-prefixed JSON frame:
// a big-endian uint32 payload length followed by the payload.
func WriteFrame(w io.Writer, env *Envelope) error {
	payload, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encoding frame: %w", err)
	}
	if len(payload) > maxFrameSize {
		return fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, len(payload))
	}

	var header [4]byte
	binary.BigEndian.PutUint32(header[:], uint32(len(payload)))

	if _, err := w.Write(header[:]); err != nil {
		return err
	}
	_, err = w.Write(payload)
	return err
}

// ReadFrame reads one length-prefixed envelope. io.EOF passes through
// untouched so callers can tell a clean close from a torn frame.
func ReadFrame(r io.Reader) (*Envelope, error) {
	var header [4]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, err
	}

	length := binary.BigEndian.Uint32(header[:])
	if length > maxFrameSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, length)
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadFrame, err)
	}

	var env Envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadFrame, err)
	}

	switch env.Type {
	case MessageModelInfo:
		if env.Model == nil {
			return nil, fmt.Errorf("%w: model-info frame without model", ErrBadFrame)
		}
	case MessageAction:
		if env.Action == nil {
			return nil, fmt.Errorf("%w: action frame without action", ErrBadFrame)
		}
	case MessageResponse:
		if env.Response == nil {
			return nil, fmt.Errorf("%w: response frame without response", ErrBadFrame)
		}
	default:
		return nil, fmt.Errorf("%w: unknown type %d", ErrBadFrame, env.Type)
	}

	return &env, nil
}
