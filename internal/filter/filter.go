// Copyright 2025 James Ross
package filter

import (
	"bytes"
	"regexp"
)

// Kind tags the outcome of applying a Spec to an item.
type Kind int

const (
	// Pass means the item matched (or no filter is configured) and should
	// be sent unchanged.
	Pass Kind = iota
	// Rewritten means the item matched and replace rewrote the haystack
	// portion; Data carries the rewritten item.
	Rewritten
	// Drop means the haystack did not match; the item must not be sent.
	Drop
)

// Result is the outcome of Apply.
type Result struct {
	Kind Kind
	Data []byte
}

// Sent reports whether the result should be forwarded to the destination.
func (r Result) Sent() bool { return r.Kind == Pass || r.Kind == Rewritten }

// Spec is a filter specification: a regex matched against a prefix of the
// item (the haystack), optionally truncated at the first occurrence of
// Until, with an optional substitution applied within that haystack.
type Spec struct {
	Regex   *regexp.Regexp
	Until   []byte
	Limit   int
	Replace []byte
	HasRepl bool
}

// Apply filters data through spec. When spec is nil every item passes
// unchanged, matching the "absent filter" rule in the data model.
func Apply(spec *Spec, data []byte) Result {
	if spec == nil || spec.Regex == nil {
		return Result{Kind: Pass, Data: data}
	}

	slice := data
	if spec.Limit > 0 && spec.Limit < len(data) {
		slice = data[:spec.Limit]
	}

	haystack := slice
	if len(spec.Until) > 0 {
		if idx := bytes.Index(slice, spec.Until); idx >= 0 {
			haystack = slice[:idx]
		}
	}

	loc := spec.Regex.FindIndex(haystack)
	if loc == nil {
		return Result{Kind: Drop}
	}

	if !spec.HasRepl {
		return Result{Kind: Pass, Data: data}
	}

	// Only the leftmost match is substituted, matching the original
	// source's single-replace semantics; any later occurrence of the
	// pattern within the haystack is left untouched.
	out := make([]byte, 0, len(data)-(loc[1]-loc[0])+len(spec.Replace))
	out = append(out, haystack[:loc[0]]...)
	out = append(out, spec.Replace...)
	out = append(out, haystack[loc[1]:]...)
	out = append(out, data[len(haystack):]...)
	return Result{Kind: Rewritten, Data: out}
}
