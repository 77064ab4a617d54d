// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package online implements the live-mutation protocol: a server
// owning the model and term store, and clients that submit actions
// over a persistent framed connection while optimization runs.
package online

import (
	"fmt"

	"github.com/google/uuid"
)

// QueryMissing is the sentinel value answered for an atom that has
// never existed.
const QueryMissing float32 = -1.0

// ActionKind tags the closed set of client actions. Dispatch is a
// switch over this tag, nothing more dynamic.
type ActionKind uint8

const (
	KindAddAtom ActionKind = iota + 1
	KindDeleteAtom
	KindObserveAtom
	KindUpdateAtom
	KindAddRule
	KindQueryAtom
	KindSync
	KindStop
	KindExit
	KindWriteInferred
)

var kindNames = map[ActionKind]string{
	KindAddAtom:       "AddAtom",
	KindDeleteAtom:    "DeleteAtom",
	KindObserveAtom:   "ObserveAtom",
	KindUpdateAtom:    "UpdateAtom",
	KindAddRule:       "AddRule",
	KindQueryAtom:     "QueryAtom",
	KindSync:          "Sync",
	KindStop:          "Stop",
	KindExit:          "Exit",
	KindWriteInferred: "WriteInferredPredicates",
}

func (k ActionKind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("ActionKind(%d)", uint8(k))
}

// Terminal reports whether the action ends the client session.
func (k ActionKind) Terminal() bool {
	return k == KindStop || k == KindExit
}

// Action is one client request. ID correlates the eventual responses
// back to the submitting connection. Which payload fields are
// meaningful depends on Kind.
type Action struct {
	ID   uuid.UUID  `json:"id"`
	Kind ActionKind `json:"kind"`

	Predicate string   `json:"predicate,omitempty"`
	Arguments []string `json:"arguments,omitempty"`
	Value     float32  `json:"value,omitempty"`

	// ReadPartition picks Observed over RandomVariable on AddAtom.
	ReadPartition bool `json:"readPartition,omitempty"`

	// RuleText carries the rule source for AddRule.
	RuleText string `json:"ruleText,omitempty"`

	// OutputPath carries the optional path for WriteInferredPredicates.
	OutputPath string `json:"outputPath,omitempty"`
}

func (a *Action) String() string {
	switch a.Kind {
	case KindAddRule:
		return fmt.Sprintf("%s %q", a.Kind, a.RuleText)
	case KindSync, KindStop, KindExit, KindWriteInferred:
		return a.Kind.String()
	default:
		return fmt.Sprintf("%s %s%v", a.Kind, a.Predicate, a.Arguments)
	}
}

// ResponseKind tags server replies.
type ResponseKind uint8

const (
	// ResponseStatus acknowledges an action, success or failure.
	ResponseStatus ResponseKind = iota + 1

	// ResponseQuery carries an atom value for QueryAtom.
	ResponseQuery
)

// Response is one server reply, routed by the correlated action ID.
type Response struct {
	ID   uuid.UUID    `json:"id"`
	Kind ResponseKind `json:"kind"`

	Success bool    `json:"success"`
	Message string  `json:"message,omitempty"`
	Value   float32 `json:"value,omitempty"`

	// Terminal marks the last response for this ID; routing for the
	// ID is released once it is sent.
	Terminal bool `json:"terminal"`
}

// PredicateInfo is one entry of the handshake's predicate listing.
type PredicateInfo struct {
	Name  string `json:"name"`
	Arity int    `json:"arity"`
}

// ModelInformation is the handshake the server sends on connect,
// before accepting any action.
type ModelInformation struct {
	Predicates []PredicateInfo `json:"predicates"`
}

// Arity resolves a predicate's arity from the handshake listing.
func (m *ModelInformation) Arity(name string) (int, bool) {
	for _, p := range m.Predicates {
		if p.Name == name {
			return p.Arity, true
		}
	}
	return 0, false
}

// MessageType discriminates envelope payloads on the wire.
type MessageType uint8

const (
	MessageModelInfo MessageType = iota + 1
	MessageAction
	MessageResponse
)

// Envelope is the one frame shape both sides exchange: a type tag and
// exactly one payload pointer set.
type Envelope struct {
	Type     MessageType       `json:"type"`
	Model    *ModelInformation `json:"model,omitempty"`
	Action   *Action           `json:"action,omitempty"`
	Response *Response         `json:"response,omitempty"`
}
