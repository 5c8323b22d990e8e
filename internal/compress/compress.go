// Package compress turns raw retrieval candidates into compact, labeled
// blocks: threshold filtering, boilerplate removal and per-chunk truncation.
package compress

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"brief-engine/internal/models"
)

var (
	sentenceEnd  = regexp.MustCompile(`[.!?]\s+`)
	numericOnly  = regexp.MustCompile(`^[\d\s.,:;%$€£()/+\-#*]+$`)
	navigational = regexp.MustCompile(`(?i)^(page\s+\d+(\s+of\s+\d+)?|table of contents|back to top|return to top|continued( on next page)?|next page|previous page|click here\b.*|skip to (main )?content|home|menu|see (attachment|section|page)\s+[\w.\-]+)\.?$`)
)

const maxHeaderWords = 12

// Filter drops candidates scoring below min. Retrieval order is kept.
func Filter(cands []models.RetrievedCandidate, min float64) []models.RetrievedCandidate {
	out := make([]models.RetrievedCandidate, 0, len(cands))
	for _, c := range cands {
		if c.Score < min {
			continue
		}
		out = append(out, c)
	}
	return out
}

// Text keeps whole informative sentences of raw until limit characters are
// used. When nothing survives it falls back to a hard truncation of raw, so a
// non-empty input with a positive limit never yields an empty string.
func Text(raw string, limit int) string {
	if limit <= 0 || raw == "" {
		return ""
	}

	var b strings.Builder
	used := 0
	for _, s := range splitSentences(raw) {
		if isBoilerplate(s) {
			continue
		}
		n := utf8.RuneCountInString(s)
		sep := 0
		if used > 0 {
			sep = 1
		}
		if used+sep+n > limit {
			break
		}
		if sep == 1 {
			b.WriteByte(' ')
		}
		b.WriteString(s)
		used += sep + n
	}
	if used > 0 {
		return b.String()
	}

	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		trimmed = raw
	}
	return Truncate(trimmed, limit)
}

// Truncate cuts s to at most limit characters.
func Truncate(s string, limit int) string {
	if limit <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	n := 0
	for i := range s {
		if n == limit {
			return s[:i]
		}
		n++
	}
	return s
}

// Chunks compresses every candidate with an equal share of budget, never
// less than minPerChunk characters each.
func Chunks(cands []models.RetrievedCandidate, budget, minPerChunk int) []models.CompressedChunk {
	if len(cands) == 0 || budget <= 0 {
		return nil
	}
	per := budget / len(cands)
	if per < minPerChunk {
		per = minPerChunk
	}

	out := make([]models.CompressedChunk, 0, len(cands))
	for i, c := range cands {
		text := Text(c.Text, per)
		if text == "" {
			continue
		}
		out = append(out, models.CompressedChunk{
			Index:      i + 1,
			SourceID:   c.SourceID,
			Score:      c.Score,
			Text:       text,
			Provenance: c.Provenance,
		})
	}
	return out
}

// FormatBlocks renders one labeled block per chunk in the given order.
func FormatBlocks(chunks []models.CompressedChunk) string {
	var b strings.Builder
	for i, c := range chunks {
		if i > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "[#%d score=%.2f", c.Index, c.Score)
		if c.Provenance.FileName != "" {
			fmt.Fprintf(&b, " file=%s", c.Provenance.FileName)
		}
		b.WriteString("] ")
		b.WriteString(c.Text)
	}
	return b.String()
}

func splitSentences(text string) []string {
	var out []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		start := 0
		for _, m := range sentenceEnd.FindAllStringIndex(line, -1) {
			if s := strings.TrimSpace(line[start : m[0]+1]); s != "" {
				out = append(out, s)
			}
			start = m[1]
		}
		if rest := strings.TrimSpace(line[start:]); rest != "" {
			out = append(out, rest)
		}
	}
	return out
}

func isBoilerplate(s string) bool {
	if numericOnly.MatchString(s) {
		return true
	}
	if navigational.MatchString(s) {
		return true
	}
	return isHeader(s)
}

// isHeader matches short lines without lower-case letters, e.g.
// "SECTION L - INSTRUCTIONS TO OFFERORS".
func isHeader(s string) bool {
	upper := 0
	for _, r := range s {
		if unicode.IsLower(r) {
			return false
		}
		if unicode.IsUpper(r) {
			upper++
		}
	}
	return upper >= 2 && len(strings.Fields(s)) <= maxHeaderWords
}
