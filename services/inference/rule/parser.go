// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package rule

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

// Parse parses one rule from its textual form.
//
// Description:
//
//	The accepted syntax is a weighted disjunction of literals:
//
//	    <weight> : [!]Pred(T, ...) | [!]Pred(T, ...) ... [^2]
//
//	An argument term starting with an uppercase letter is a variable;
//	anything else (including single-quoted strings) is a constant.
//	A trailing "^2" squares the potential. "~" is accepted as an
//	alternative negation marker.
//
//	This is deliberately a small subset of a full rule grammar: enough
//	to drive the online AddRule path. A trailing "." (hard constraint)
//	parses but produces an unweighted rule that streaming stores reject.
//
// Inputs:
//
//	text - One rule, e.g. "10.0: !Friends(A, B) | Similar(A, B) ^2".
//
// Outputs:
//
//	*Rule - The parsed rule with Text set to the trimmed input.
//	error - Wraps ErrParse on malformed input.
func Parse(text string) (*Rule, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil, fmt.Errorf("%w: empty rule text", ErrParse)
	}

	p := &parser{input: trimmed}
	rule, err := p.parseRule()
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrParse, trimmed, err)
	}

	rule.Text = trimmed
	return rule, nil
}

type parser struct {
	input string
	pos   int
}

func (p *parser) parseRule() (*Rule, error) {
	rule := &Rule{}

	// Optional "<weight> :" prefix.
	mark := p.pos
	if weight, ok := p.tryNumber(); ok && p.tryByte(':') {
		rule.Weight = weight
		rule.Weighted = true
	} else {
		p.pos = mark
	}

	for {
		literal, err := p.parseLiteral()
		if err != nil {
			return nil, err
		}
		rule.Literals = append(rule.Literals, literal)

		if !p.tryByte('|') {
			break
		}
	}

	p.skipSpace()
	if strings.HasPrefix(p.input[p.pos:], "^2") {
		rule.Squared = true
		p.pos += 2
	} else if p.tryByte('.') {
		rule.Weighted = false
	}

	p.skipSpace()
	if p.pos != len(p.input) {
		return nil, fmt.Errorf("unexpected trailing input at offset %d", p.pos)
	}
	if !rule.Weighted && rule.Squared {
		return nil, fmt.Errorf("hard constraints cannot be squared")
	}

	return rule, nil
}

func (p *parser) parseLiteral() (Literal, error) {
	var literal Literal

	p.skipSpace()
	if p.tryByte('!') || p.tryByte('~') {
		literal.Negated = true
	}

	name, ok := p.tryIdentifier()
	if !ok {
		return literal, fmt.Errorf("expected predicate name at offset %d", p.pos)
	}
	literal.Predicate = name

	if !p.tryByte('(') {
		return literal, fmt.Errorf("expected '(' after %q", name)
	}

	for {
		term, err := p.parseTerm()
		if err != nil {
			return literal, err
		}
		literal.Terms = append(literal.Terms, term)

		if p.tryByte(',') {
			continue
		}
		if p.tryByte(')') {
			return literal, nil
		}
		return literal, fmt.Errorf("expected ',' or ')' at offset %d", p.pos)
	}
}

func (p *parser) parseTerm() (string, error) {
	p.skipSpace()

	// Quoted constant.
	if p.pos < len(p.input) && (p.input[p.pos] == '\'' || p.input[p.pos] == '"') {
		quote := p.input[p.pos]
		end := strings.IndexByte(p.input[p.pos+1:], quote)
		if end < 0 {
			return "", fmt.Errorf("unterminated string at offset %d", p.pos)
		}
		// Keep the quotes: they are what distinguishes the constant
		// 'Alice' from the variable Alice.
		term := "'" + p.input[p.pos+1:p.pos+1+end] + "'"
		p.pos += end + 2
		return term, nil
	}

	if term, ok := p.tryIdentifier(); ok {
		return term, nil
	}
	return "", fmt.Errorf("expected argument term at offset %d", p.pos)
}

func (p *parser) skipSpace() {
	for p.pos < len(p.input) && (p.input[p.pos] == ' ' || p.input[p.pos] == '\t') {
		p.pos++
	}
}

func (p *parser) tryByte(b byte) bool {
	p.skipSpace()
	if p.pos < len(p.input) && p.input[p.pos] == b {
		p.pos++
		return true
	}
	return false
}

func (p *parser) tryIdentifier() (string, bool) {
	p.skipSpace()
	start := p.pos
	for p.pos < len(p.input) {
		r := rune(p.input[p.pos])
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' {
			p.pos++
			continue
		}
		break
	}
	if p.pos == start {
		return "", false
	}
	return p.input[start:p.pos], true
}

func (p *parser) tryNumber() (float32, bool) {
	p.skipSpace()
	start := p.pos
	for p.pos < len(p.input) {
		b := p.input[p.pos]
		if (b >= '0' && b <= '9') || b == '.' || b == '-' || b == '+' || b == 'e' || b == 'E' {
			p.pos++
			continue
		}
		break
	}
	if p.pos == start {
		return 0, false
	}

	value, err := strconv.ParseFloat(p.input[start:p.pos], 32)
	if err != nil {
		p.pos = start
		return 0, false
	}
	return float32(value), true
}
