// Copyright 2021 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package heerrors defines the error kinds shared by the aggregation client and server.
//
// Each kind has a stable wire name so that an error reported by the server can be rebuilt
// with the same type on the client side.
package heerrors

import (
	"errors"
	"fmt"
)

// Wire names of the error kinds.
const (
	KindValidation   = "validation"
	KindEmptySession = "empty_session"
	KindEngine       = "engine"
	KindTransport    = "transport"
	KindInternal     = "internal"
)

// ValidationError reports a malformed or missing request field, or an empty input where a non-empty one is required.
type ValidationError struct {
	Field string
	Msg   string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation error: " + e.Msg
	}
	return fmt.Sprintf("validation error: %s: %s", e.Field, e.Msg)
}

// Validationf creates a ValidationError for the given field.
func Validationf(field, format string, args ...interface{}) error {
	return &ValidationError{Field: field, Msg: fmt.Sprintf(format, args...)}
}

// EmptySessionError is returned when a fold is requested on a session without any stored chunk.
type EmptySessionError struct {
	Session string
}

func (e *EmptySessionError) Error() string {
	return fmt.Sprintf("session %q has no stored chunks", e.Session)
}

// EngineError wraps an opaque failure of the homomorphic engine.
type EngineError struct {
	Op  string
	Err error
}

func (e *EngineError) Error() string {
	return fmt.Sprintf("engine %s: %v", e.Op, e.Err)
}

func (e *EngineError) Unwrap() error { return e.Err }

// Engine wraps err as an EngineError for operation op. A nil err yields nil, and an
// EngineError is returned unchanged.
func Engine(op string, err error) error {
	if err == nil {
		return nil
	}
	var ee *EngineError
	if errors.As(err, &ee) {
		return err
	}
	return &EngineError{Op: op, Err: err}
}

// TransportError reports a failed request between the client and the aggregation server.
//
// Index is the chunk index for uploads, or -1 for requests that are not tied to a chunk.
type TransportError struct {
	Index int
	Err   error
}

func (e *TransportError) Error() string {
	if e.Index < 0 {
		return fmt.Sprintf("transport: %v", e.Err)
	}
	return fmt.Sprintf("transport: chunk %d: %v", e.Index, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Kind returns the wire name of the error kind of err.
func Kind(err error) string {
	var (
		ve *ValidationError
		se *EmptySessionError
		ee *EngineError
		te *TransportError
	)
	switch {
	case errors.As(err, &ve):
		return KindValidation
	case errors.As(err, &se):
		return KindEmptySession
	case errors.As(err, &ee):
		return KindEngine
	case errors.As(err, &te):
		return KindTransport
	}
	return KindInternal
}

// FromKind rebuilds a typed error from a wire kind and message.
func FromKind(kind, msg, session string) error {
	switch kind {
	case KindValidation:
		return &ValidationError{Msg: msg}
	case KindEmptySession:
		return &EmptySessionError{Session: session}
	case KindEngine:
		return &EngineError{Op: "remote", Err: errors.New(msg)}
	}
	return errors.New(msg)
}
