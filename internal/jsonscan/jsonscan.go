// Package jsonscan pulls the first balanced JSON value out of model output
// that may be wrapped in prose or markdown fences.
package jsonscan

import (
	"encoding/json"
	"strings"
	"unicode/utf8"
)

// Shape restricts which opening bracket starts a candidate.
type Shape int

const (
	Any Shape = iota
	Object
	Array
)

type Reason string

const (
	ReasonEmpty = Reason("empty response")
	// ReasonNoJSON means no opening bracket was found (prose only).
	ReasonNoJSON = Reason("no json value")
	// ReasonUnbalanced means the text ended inside a value, usually a truncated response.
	ReasonUnbalanced = Reason("unbalanced json")
	// ReasonMismatched means a closing bracket did not match its opener.
	ReasonMismatched = Reason("mismatched brackets")
	// ReasonInvalid means the balanced value failed to parse.
	ReasonInvalid = Reason("invalid json")
)

const excerptRunes = 240

// Result is either a JSON value or a failure reason with an excerpt of the
// raw text around the failure.
type Result struct {
	JSON    json.RawMessage
	Reason  Reason
	Excerpt string
}

func (r Result) OK() bool { return r.Reason == "" && len(r.JSON) > 0 }

// Extract scans text for the first balanced value of the requested shape.
// String literals and escapes are tracked so brackets inside strings are
// ignored.
func Extract(text string, shape Shape) Result {
	if strings.TrimSpace(text) == "" {
		return Result{Reason: ReasonEmpty}
	}

	start := indexOpen(text, shape)
	if start < 0 {
		return Result{Reason: ReasonNoJSON, Excerpt: head(text)}
	}

	var (
		stack    []byte
		inString bool
		escaped  bool
	)
	for i := start; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}

		switch c {
		case '"':
			inString = true
		case '{', '[':
			stack = append(stack, c)
		case '}', ']':
			if len(stack) == 0 || !matches(stack[len(stack)-1], c) {
				return Result{Reason: ReasonMismatched, Excerpt: around(text, i)}
			}
			stack = stack[:len(stack)-1]
			if len(stack) == 0 {
				candidate := text[start : i+1]
				if !json.Valid([]byte(candidate)) {
					return Result{Reason: ReasonInvalid, Excerpt: head(candidate)}
				}
				return Result{JSON: json.RawMessage(candidate)}
			}
		}
	}
	return Result{Reason: ReasonUnbalanced, Excerpt: tail(text)}
}

func indexOpen(text string, shape Shape) int {
	switch shape {
	case Object:
		return strings.IndexByte(text, '{')
	case Array:
		return strings.IndexByte(text, '[')
	default:
		return strings.IndexAny(text, "{[")
	}
}

func matches(open, close byte) bool {
	return (open == '{' && close == '}') || (open == '[' && close == ']')
}

func head(s string) string {
	if utf8.RuneCountInString(s) <= excerptRunes {
		return s
	}
	n := 0
	for i := range s {
		if n == excerptRunes {
			return s[:i] + "…"
		}
		n++
	}
	return s
}

func tail(s string) string {
	count := utf8.RuneCountInString(s)
	if count <= excerptRunes {
		return s
	}
	skip := count - excerptRunes
	n := 0
	for i := range s {
		if n == skip {
			return "…" + s[i:]
		}
		n++
	}
	return s
}

func around(s string, pos int) string {
	from := pos - excerptRunes/2
	if from < 0 {
		from = 0
	}
	to := pos + excerptRunes/2
	if to > len(s) {
		to = len(s)
	}
	for from > 0 && !utf8.RuneStart(s[from]) {
		from--
	}
	for to < len(s) && !utf8.RuneStart(s[to]) {
		to++
	}
	return s[from:to]
}
