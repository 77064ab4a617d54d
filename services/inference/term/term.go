// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package term

import (
	"encoding/binary"
	"fmt"
	"math"
	"strings"

	"github.com/AleutianAI/softlogic/services/inference/model"
	"github.com/AleutianAI/softlogic/services/inference/rule"
)

const (
	flagSquared = 1 << 0
	flagHinge   = 1 << 1
)

// plane is one hyperplane flattened to variable-index form.
type plane struct {
	constant        float32
	coefficients    []float32
	variableIndexes []int32
}

// ObjectiveTerm is the optimizer's unit of work.
//
// A term wraps one or more flattened hyperplanes (multiple only for
// max-of-linear potentials), the owning rule's table index, and the
// squared/hinge shape flags. The structural fields are immutable once
// built; the only mutable field is the volatile lastValue scalar,
// refreshed every optimization pass and rewritten in the volatile page
// block.
type ObjectiveTerm struct {
	ruleIndex int32
	weight    float32
	squared   bool
	hinge     bool
	planes    []plane

	// lastValue is the term's most recent objective contribution.
	// Volatile: serialized separately from the fixed fields.
	lastValue float32
}

// newObjectiveTerm flattens hyperplanes against the variable index.
func newObjectiveTerm(index *VariableIndex, ruleIndex int, weight float32,
	hinge bool, squared bool, hyperplanes []*Hyperplane) *ObjectiveTerm {

	term := &ObjectiveTerm{
		ruleIndex: int32(ruleIndex),
		weight:    weight,
		squared:   squared,
		hinge:     hinge,
		planes:    make([]plane, 0, len(hyperplanes)),
	}

	for _, hyperplane := range hyperplanes {
		p := plane{
			constant:        hyperplane.Constant(),
			coefficients:    make([]float32, hyperplane.Size()),
			variableIndexes: make([]int32, hyperplane.Size()),
		}
		for i := 0; i < hyperplane.Size(); i++ {
			p.coefficients[i] = hyperplane.Coefficient(i)
			p.variableIndexes[i] = int32(index.CreateOrGet(hyperplane.Variable(i)))
		}
		term.planes = append(term.planes, p)
	}

	return term
}

// Size returns the number of variable references across all planes.
func (t *ObjectiveTerm) Size() int {
	size := 0
	for _, p := range t.planes {
		size += len(p.coefficients)
	}
	return size
}

// RuleIndex returns the owning rule's table index.
func (t *ObjectiveTerm) RuleIndex() int {
	return int(t.ruleIndex)
}

// Weight returns the owning rule's weight as captured at build time.
func (t *ObjectiveTerm) Weight() float32 {
	return t.weight
}

// IsHinge reports whether the potential is max(0, ·) shaped.
func (t *ObjectiveTerm) IsHinge() bool {
	return t.hinge
}

// IsSquared reports whether the potential is squared.
func (t *ObjectiveTerm) IsSquared() bool {
	return t.squared
}

// LastValue returns the volatile cached contribution.
func (t *ObjectiveTerm) LastValue() float32 {
	return t.lastValue
}

// SetLastValue overwrites the volatile cached contribution.
func (t *ObjectiveTerm) SetLastValue(v float32) {
	t.lastValue = v
}

// VariableIndexes returns the variable slots referenced by plane p.
func (t *ObjectiveTerm) VariableIndexes(p int) []int32 {
	return t.planes[p].variableIndexes
}

// Planes returns the number of hyperplanes in the term.
func (t *ObjectiveTerm) Planes() int {
	return len(t.planes)
}

// References reports whether the term references the given slot.
func (t *ObjectiveTerm) References(slot int) bool {
	for _, p := range t.planes {
		for _, idx := range p.variableIndexes {
			if int(idx) == slot {
				return true
			}
		}
	}
	return false
}

// inner computes the potential's inner value: the single plane's dot,
// or the max over planes for max-of-linear terms. The second return is
// the active (argmax) plane.
func (t *ObjectiveTerm) inner(values []float32) (float32, int) {
	best := t.planes[0].dot(values)
	bestPlane := 0
	for i := 1; i < len(t.planes); i++ {
		if d := t.planes[i].dot(values); d > best {
			best = d
			bestPlane = i
		}
	}
	return best, bestPlane
}

func (p *plane) dot(values []float32) float32 {
	var value float32
	for i, c := range p.coefficients {
		value += c * values[p.variableIndexes[i]]
	}
	return value - p.constant
}

// Evaluate returns the term's current contribution to the objective:
//
//	weight * inner                for linear terms
//	weight * max(0, inner)        for hinge terms
//	weight * inner^2              for squared terms
//	weight * max(0, inner)^2      for squared hinge terms
func (t *ObjectiveTerm) Evaluate(values []float32) float32 {
	inner, _ := t.inner(values)

	if t.hinge && inner < 0.0 {
		inner = 0.0
	}
	if t.squared {
		inner = inner * inner
	}
	return t.weight * inner
}

// partial computes the term's partial derivative with respect to the
// variable at position i of the active plane, given the precomputed
// inner value. Zero when a hinge is non-binding.
func (t *ObjectiveTerm) partial(activePlane, i int, inner float32) float32 {
	if t.hinge && inner <= 0.0 {
		return 0.0
	}
	if t.squared {
		return t.weight * 2.0 * inner * t.planes[activePlane].coefficients[i]
	}
	return t.weight * t.planes[activePlane].coefficients[i]
}

// AccumulateGradient adds the term's gradient contribution into the
// per-variable buffer, skipping observed atoms. The buffer is widened
// when the term references a slot past its end, which happens when the
// online store introduced variables mid-run; the possibly-reallocated
// buffer is returned.
func (t *ObjectiveTerm) AccumulateGradient(values []float32, atoms []*model.GroundAtom, gradient []float32) []float32 {
	inner, activePlane := t.inner(values)
	p := &t.planes[activePlane]

	for i, idx := range p.variableIndexes {
		if atoms[idx] != nil && atoms[idx].IsObserved() {
			continue
		}

		if int(idx) >= len(gradient) {
			grown := make([]float32, (int(idx)+1)*2)
			copy(grown, gradient)
			gradient = grown
		}
		gradient[idx] += t.partial(activePlane, i, inner)
	}

	return gradient
}

// Minimize nudges the term's variables down its own gradient with a
// flat step size and returns the total movement.
func (t *ObjectiveTerm) Minimize(stepSize float32, index *VariableIndex) float32 {
	return t.MinimizeWith(index, func(_ int, gradient float32) float32 {
		return gradient * stepSize
	})
}

// MinimizeWith nudges the term's variables down its own gradient,
// asking the step function for the per-variable step given the slot
// and partial gradient. Coordinate mode: the inner value is recomputed
// after every variable update so each step sees the latest values.
func (t *ObjectiveTerm) MinimizeWith(index *VariableIndex, step func(slot int, gradient float32) float32) float32 {
	var movement float32
	values := index.Values()
	atoms := index.Atoms()

	for planeIdx := range t.planes {
		p := &t.planes[planeIdx]
		for i, idx := range p.variableIndexes {
			if atoms[idx] != nil && atoms[idx].IsObserved() {
				continue
			}

			inner, activePlane := t.inner(values)
			if activePlane != planeIdx {
				continue
			}

			gradient := t.partial(activePlane, i, inner)
			if gradient == 0.0 {
				continue
			}

			newValue := clamp01(values[idx] - step(int(idx), gradient))
			movement += float32(math.Abs(float64(newValue - values[idx])))
			values[idx] = newValue
		}
	}

	return movement
}

// =============================================================================
// Binary codec (fixed / volatile blocks)
// =============================================================================

// FixedSize returns the byte length of the term's fixed-block encoding.
func (t *ObjectiveTerm) FixedSize() int {
	// flags + ruleIndex + planeCount
	size := 1 + 4 + 1
	for _, p := range t.planes {
		// constant + count + count*(coefficient + variableIndex)
		size += 4 + 2 + len(p.coefficients)*(4+4)
	}
	return size
}

// VolatileSize returns the byte length of the volatile-block encoding.
func (t *ObjectiveTerm) VolatileSize() int {
	return 4 // lastValue
}

// EncodeFixed appends the structural fields to buf and returns the
// extended slice. Variable indexes are written in store indexing; the
// owning rule is written as its table index, so decoding needs only
// the explicit rule table, never ambient state.
func (t *ObjectiveTerm) EncodeFixed(buf []byte) []byte {
	var flags byte
	if t.squared {
		flags |= flagSquared
	}
	if t.hinge {
		flags |= flagHinge
	}

	buf = append(buf, flags)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(t.ruleIndex))
	buf = append(buf, byte(len(t.planes)))

	for _, p := range t.planes {
		buf = binary.LittleEndian.AppendUint32(buf, math.Float32bits(p.constant))
		buf = binary.LittleEndian.AppendUint16(buf, uint16(len(p.coefficients)))
		for i := range p.coefficients {
			buf = binary.LittleEndian.AppendUint32(buf, math.Float32bits(p.coefficients[i]))
			buf = binary.LittleEndian.AppendUint32(buf, uint32(p.variableIndexes[i]))
		}
	}

	return buf
}

// DecodeFixed reads the structural fields from data starting at off,
// resolving the weight through the rule table. The term's existing
// plane storage is reused when large enough, so a pooled term can be
// refilled without reallocation.
//
// Outputs:
//
//	int - The offset just past the decoded term.
//	error - ErrTruncatedTerm on short data, or a rule-table miss.
func (t *ObjectiveTerm) DecodeFixed(data []byte, off int, rules *rule.Table) (int, error) {
	if off+6 > len(data) {
		return off, ErrTruncatedTerm
	}

	flags := data[off]
	t.squared = flags&flagSquared != 0
	t.hinge = flags&flagHinge != 0
	off++

	t.ruleIndex = int32(binary.LittleEndian.Uint32(data[off:]))
	off += 4

	owner, err := rules.Get(int(t.ruleIndex))
	if err != nil {
		return off, err
	}
	t.weight = owner.Weight

	planeCount := int(data[off])
	off++

	if cap(t.planes) >= planeCount {
		t.planes = t.planes[:planeCount]
	} else {
		t.planes = make([]plane, planeCount)
	}

	for pi := 0; pi < planeCount; pi++ {
		if off+6 > len(data) {
			return off, ErrTruncatedTerm
		}

		p := &t.planes[pi]
		p.constant = math.Float32frombits(binary.LittleEndian.Uint32(data[off:]))
		off += 4

		count := int(binary.LittleEndian.Uint16(data[off:]))
		off += 2

		if off+count*8 > len(data) {
			return off, ErrTruncatedTerm
		}

		if cap(p.coefficients) >= count {
			p.coefficients = p.coefficients[:count]
			p.variableIndexes = p.variableIndexes[:count]
		} else {
			p.coefficients = make([]float32, count)
			p.variableIndexes = make([]int32, count)
		}

		for i := 0; i < count; i++ {
			p.coefficients[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[off:]))
			off += 4
			p.variableIndexes[i] = int32(binary.LittleEndian.Uint32(data[off:]))
			off += 4
		}
	}

	return off, nil
}

// EncodeVolatile appends the per-iteration mutable fields to buf.
func (t *ObjectiveTerm) EncodeVolatile(buf []byte) []byte {
	return binary.LittleEndian.AppendUint32(buf, math.Float32bits(t.lastValue))
}

// DecodeVolatile reads the per-iteration mutable fields.
func (t *ObjectiveTerm) DecodeVolatile(data []byte, off int) (int, error) {
	if off+4 > len(data) {
		return off, ErrTruncatedTerm
	}

	t.lastValue = math.Float32frombits(binary.LittleEndian.Uint32(data[off:]))
	return off + 4, nil
}

// String renders the term's shape for logging.
func (t *ObjectiveTerm) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%g * ", t.weight)

	opening := "("
	if t.hinge {
		opening = "max(0.0, "
	}

	for pi, p := range t.planes {
		if pi > 0 {
			sb.WriteString(" , ")
		}
		sb.WriteString(opening)
		for i := range p.coefficients {
			if i > 0 {
				sb.WriteString(" + ")
			}
			fmt.Fprintf(&sb, "%g*<v%d>", p.coefficients[i], p.variableIndexes[i])
		}
		fmt.Fprintf(&sb, " - %g)", p.constant)
	}

	if t.squared {
		sb.WriteString(" ^2")
	}
	return sb.String()
}

func clamp01(v float32) float32 {
	if v < 0.0 {
		return 0.0
	}
	if v > 1.0 {
		return 1.0
	}
	return v
}
