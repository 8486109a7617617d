// Package chunk divides extracted page text into synthesis-sized units.
//
// Speech engines degrade on very long inputs and waste process spawns on
// very short ones, so page text is re-cut into chunks bounded by a
// configured [min, max] character window. Boundaries prefer sentence
// ends, then word gaps; a word is cut mid-token only when no boundary at
// all exists inside the window.
package chunk

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Splitter holds validated chunk bounds. Splitting is deterministic:
// the same text and bounds always produce the same chunk sequence,
// which cached audio keys rely on.
type Splitter struct {
	min int
	max int
}

// NewSplitter validates bounds once so Split never fails at runtime.
func NewSplitter(min, max int) (*Splitter, error) {
	if min < 1 {
		return nil, fmt.Errorf("chunk min size %d: must be at least 1", min)
	}
	if max <= min {
		return nil, fmt.Errorf("chunk bounds %d/%d: max must be greater than min", min, max)
	}

	return &Splitter{min: min, max: max}, nil
}

// token is one whitespace-delimited word plus whether it closes a
// sentence or paragraph.
type token struct {
	text         string
	endsSentence bool
}

// Split returns the ordered chunks of one page. Every chunk is at most
// max characters; every chunk except the last is at least min
// characters. Empty or whitespace-only text yields no chunks.
func (s *Splitter) Split(text string) []string {
	tokens := tokenize(text)
	if len(tokens) == 0 {
		return nil
	}

	acc := accumulator{min: s.min, max: s.max}
	for _, tok := range tokens {
		acc.add(tok)
	}
	acc.flush()

	return acc.chunks
}

// accumulator greedily packs tokens into the current chunk and emits
// at the best available boundary on overflow.
type accumulator struct {
	min    int
	max    int
	chunks []string

	words      []string
	length     int // rune length of joined words
	lastEnd    int // words index just past the latest sentence end
	lastEndLen int // rune length of the prefix ending there
}

func (a *accumulator) add(tok token) {
	word := tok.text
	for {
		wordLen := utf8.RuneCountInString(word)
		sep := 0
		if a.length > 0 {
			sep = 1
		}

		if a.length+sep+wordLen <= a.max {
			a.words = append(a.words, word)
			a.length += sep + wordLen
			if tok.endsSentence {
				a.lastEnd = len(a.words)
				a.lastEndLen = a.length
			}
			return
		}

		// The word overflows the window. Emit at the latest sentence
		// end when that still satisfies the minimum, else at the word
		// boundary, else cut the word itself.
		switch {
		case a.lastEndLen >= a.min:
			a.emit(a.lastEnd)
		case a.length >= a.min:
			a.emit(len(a.words))
		default:
			capacity := a.max - a.length - sep
			runes := []rune(word)
			a.words = append(a.words, string(runes[:capacity]))
			a.emit(len(a.words))
			word = string(runes[capacity:])
		}
	}
}

// emit appends the first n accumulated words as one chunk and keeps
// the remainder as the start of the next chunk.
func (a *accumulator) emit(n int) {
	a.chunks = append(a.chunks, strings.Join(a.words[:n], " "))

	rest := a.words[n:]
	a.words = append([]string(nil), rest...)
	a.length = 0
	for i, w := range a.words {
		if i > 0 {
			a.length++
		}
		a.length += utf8.RuneCountInString(w)
	}
	// Words carried over sit after the last sentence end by
	// construction, so the marker resets.
	a.lastEnd = 0
	a.lastEndLen = 0
}

func (a *accumulator) flush() {
	if len(a.words) > 0 {
		a.emit(len(a.words))
	}
}

// tokenize splits text into words, marking sentence terminators and
// paragraph breaks as preferred chunk boundaries.
func tokenize(text string) []token {
	var tokens []token

	paragraphs := splitParagraphs(text)
	for _, para := range paragraphs {
		words := strings.Fields(para)
		for i, w := range words {
			tokens = append(tokens, token{
				text:         w,
				endsSentence: i == len(words)-1 || endsSentence(w),
			})
		}
	}

	return tokens
}

// splitParagraphs breaks text on blank lines, dropping empty sections.
func splitParagraphs(text string) []string {
	normalized := strings.ReplaceAll(text, "\r\n", "\n")
	parts := strings.Split(normalized, "\n\n")

	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if strings.TrimSpace(p) != "" {
			out = append(out, p)
		}
	}
	return out
}

// endsSentence reports whether a word closes a sentence, allowing for
// a trailing quote or bracket after the terminator.
func endsSentence(word string) bool {
	runes := []rune(word)
	for i := len(runes) - 1; i >= 0; i-- {
		r := runes[i]
		switch {
		case r == '.' || r == '!' || r == '?':
			return true
		case r == '"' || r == '\'' || r == ')' || r == ']' || r == '”' || r == '’':
			continue
		case unicode.IsSpace(r):
			continue
		default:
			return false
		}
	}
	return false
}
