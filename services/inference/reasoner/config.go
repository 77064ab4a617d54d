// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package reasoner

import (
	"fmt"
	"strings"
)

// Extension selects the per-coordinate step-size adaptation.
type Extension int

const (
	ExtensionNone Extension = iota
	ExtensionAdaGrad
	ExtensionAdam
)

func (e Extension) String() string {
	switch e {
	case ExtensionNone:
		return "NONE"
	case ExtensionAdaGrad:
		return "ADAGRAD"
	case ExtensionAdam:
		return "ADAM"
	}
	return fmt.Sprintf("Extension(%d)", int(e))
}

// ParseExtension maps a config string to an Extension.
func ParseExtension(s string) (Extension, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "", "NONE", "SGD":
		return ExtensionNone, nil
	case "ADAGRAD":
		return ExtensionAdaGrad, nil
	case "ADAM":
		return ExtensionAdam, nil
	}
	return ExtensionNone, fmt.Errorf("%w: %q", ErrUnknownExtension, s)
}

// Schedule selects the learning-rate decay.
type Schedule int

const (
	ScheduleConstant Schedule = iota
	ScheduleStepDecay
)

func (s Schedule) String() string {
	switch s {
	case ScheduleConstant:
		return "CONSTANT"
	case ScheduleStepDecay:
		return "STEPDECAY"
	}
	return fmt.Sprintf("Schedule(%d)", int(s))
}

// ParseSchedule maps a config string to a Schedule.
func ParseSchedule(s string) (Schedule, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "", "CONSTANT":
		return ScheduleConstant, nil
	case "STEPDECAY", "STEP_DECAY":
		return ScheduleStepDecay, nil
	}
	return ScheduleConstant, fmt.Errorf("%w: %q", ErrUnknownSchedule, s)
}

// Config tunes one optimization run.
type Config struct {
	// MaxIterations bounds the sweep count. Must be positive.
	MaxIterations int

	// BaseRate is the un-decayed learning rate.
	BaseRate float32

	// DecayExponent controls step decay: rate / iteration^exponent.
	DecayExponent float32

	Extension Extension
	Schedule  Schedule

	// Coordinate applies each term's step immediately after computing
	// it; otherwise a full gradient vector accumulates and applies
	// once per iteration.
	Coordinate bool

	// RunFullIterations disables every early break.
	RunFullIterations bool

	// ObjectiveBreak stops when the normalized objective moves less
	// than Tolerance between iterations.
	ObjectiveBreak bool
	Tolerance      float32

	// MovementBreak stops when total variable movement in an
	// iteration falls under MovementThreshold.
	MovementBreak     bool
	MovementThreshold float32

	// Epsilon guards the adaptive-rate divisions.
	Epsilon float32

	// Adam moment decay factors.
	Beta1 float32
	Beta2 float32
}

// DefaultConfig mirrors the defaults the batch CLI ships with.
func DefaultConfig() Config {
	return Config{
		MaxIterations:     200,
		BaseRate:          1.0,
		DecayExponent:     1.0,
		Extension:         ExtensionNone,
		Schedule:          ScheduleStepDecay,
		Coordinate:        true,
		ObjectiveBreak:    true,
		Tolerance:         1e-5,
		MovementBreak:     false,
		MovementThreshold: 1e-5,
		Epsilon:           1e-8,
		Beta1:             0.9,
		Beta2:             0.999,
	}
}

func (c Config) validate() error {
	if c.MaxIterations <= 0 {
		return fmt.Errorf("%w: max iterations %d", ErrBadConfig, c.MaxIterations)
	}
	if c.BaseRate <= 0 {
		return fmt.Errorf("%w: base rate %v", ErrBadConfig, c.BaseRate)
	}
	if c.Extension < ExtensionNone || c.Extension > ExtensionAdam {
		return fmt.Errorf("%w: %v", ErrUnknownExtension, int(c.Extension))
	}
	if c.Schedule < ScheduleConstant || c.Schedule > ScheduleStepDecay {
		return fmt.Errorf("%w: %v", ErrUnknownSchedule, int(c.Schedule))
	}
	return nil
}
