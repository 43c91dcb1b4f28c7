// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package normalize rewrites LaTeX math delimiters in streamed model output
// into the dollar-sign form markdown renderers understand.
//
// Output arrives in arbitrary fragments, so a Normalizer keeps code and math
// state across calls and withholds a trailing partial delimiter until the
// next fragment decides what it is. Concatenating the results of any
// fragmentation of a string, followed by Flush, yields the same output as
// normalizing the whole string at once.
//
// Inside fenced or inline code nothing is rewritten.
package normalize

import "strings"

type mathPhase int

const (
	mathNone mathPhase = iota
	mathInline
	mathDisplay
)

// fenceRun is the backtick run length that opens or closes a fence.
const fenceRun = 3

// Normalizer holds the state for one stream channel. It is not safe for
// concurrent use.
type Normalizer struct {
	inFence      bool
	inInlineCode bool
	math         mathPhase
	carry        string
}

// New returns a Normalizer in the initial state.
func New() *Normalizer {
	return &Normalizer{}
}

// Normalize rewrites \( \) \[ \] outside code into $ and $$ and returns the
// text that is safe to emit now.
func (n *Normalizer) Normalize(chunk string) string {
	s := n.carry + chunk
	n.carry = ""
	if s == "" {
		return ""
	}

	var out strings.Builder
	out.Grow(len(s))

	i := 0
	for i < len(s) {
		c := s[i]

		if c == '\\' {
			if i+1 == len(s) {
				n.carry = s[i:]
				break
			}
			switch next := s[i+1]; next {
			case '\\':
				out.WriteString(s[i : i+2])
				i += 2
			case '`':
				// An escaped backtick run never toggles code state.
				j := runEnd(s, i+1)
				if j == len(s) {
					n.carry = s[i:]
					i = len(s)
					continue
				}
				out.WriteString(s[i:j])
				i = j
			case '(', ')', '[', ']':
				if rep, ok := n.rewriteMath(next); ok {
					out.WriteString(rep)
				} else {
					out.WriteString(s[i : i+2])
				}
				i += 2
			default:
				out.WriteByte(c)
				i++
			}
			continue
		}

		if c == '`' {
			j := runEnd(s, i)
			run := j - i
			// A trailing run may continue in the next fragment.
			if j == len(s) {
				n.carry = s[i:]
				break
			}
			n.toggleCode(run)
			out.WriteString(s[i:j])
			i = j
			continue
		}

		out.WriteByte(c)
		i++
	}

	return out.String()
}

// Flush returns any withheld text and clears it. A withheld backtick run
// still counts toward code state, so normalizing may continue afterwards.
func (n *Normalizer) Flush() string {
	c := n.carry
	n.carry = ""
	if c != "" && c[0] == '`' {
		n.toggleCode(len(c))
	}
	return c
}

// Reset returns the normalizer to its initial state.
func (n *Normalizer) Reset() {
	*n = Normalizer{}
}

// InCode reports whether the normalizer is inside fenced or inline code.
func (n *Normalizer) InCode() bool {
	return n.inFence || n.inInlineCode
}

func (n *Normalizer) toggleCode(run int) {
	if run >= fenceRun {
		if !n.inInlineCode {
			n.inFence = !n.inFence
		}
		return
	}
	if n.inFence {
		return
	}
	for k := 0; k < run; k++ {
		n.inInlineCode = !n.inInlineCode
	}
}

// rewriteMath maps the delimiter following a backslash to its dollar form
// when it is valid for the current math phase.
func (n *Normalizer) rewriteMath(delim byte) (string, bool) {
	if n.InCode() {
		return "", false
	}
	switch {
	case delim == '(' && n.math == mathNone:
		n.math = mathInline
		return "$", true
	case delim == ')' && n.math == mathInline:
		n.math = mathNone
		return "$", true
	case delim == '[' && n.math == mathNone:
		n.math = mathDisplay
		return "$$", true
	case delim == ']' && n.math == mathDisplay:
		n.math = mathNone
		return "$$", true
	}
	return "", false
}

func runEnd(s string, i int) int {
	for i < len(s) && s[i] == '`' {
		i++
	}
	return i
}

// String normalizes a complete string in one call.
func String(s string) string {
	n := New()
	return n.Normalize(s) + n.Flush()
}
