package chunk

import (
	"strings"
	"testing"
	"unicode/utf8"
)

// mustSplitter builds a splitter or fails the test.
func mustSplitter(t *testing.T, min, max int) *Splitter {
	t.Helper()
	s, err := NewSplitter(min, max)
	if err != nil {
		t.Fatalf("NewSplitter(%d, %d): %v", min, max, err)
	}
	return s
}

// words flattens chunk output back into its word sequence.
func words(chunks []string) []string {
	var out []string
	for _, c := range chunks {
		out = append(out, strings.Fields(c)...)
	}
	return out
}

// TestNewSplitterRejectsBadBounds verifies bound validation.
func TestNewSplitterRejectsBadBounds(t *testing.T) {
	if _, err := NewSplitter(0, 100); err == nil {
		t.Fatal("expected error for zero min")
	}
	if _, err := NewSplitter(100, 100); err == nil {
		t.Fatal("expected error for min == max")
	}
	if _, err := NewSplitter(200, 100); err == nil {
		t.Fatal("expected error for min > max")
	}
}

// TestSplitEmptyText verifies blank pages yield no chunks.
func TestSplitEmptyText(t *testing.T) {
	s := mustSplitter(t, 100, 1000)
	for _, text := range []string{"", "   ", "\n\n\t \n"} {
		if got := s.Split(text); got != nil {
			t.Fatalf("Split(%q) = %v, want nil", text, got)
		}
	}
}

// TestSplitShortTextSingleChunk verifies text under max stays whole.
func TestSplitShortTextSingleChunk(t *testing.T) {
	s := mustSplitter(t, 100, 1000)
	got := s.Split("A short page. Nothing to cut here.")
	if len(got) != 1 {
		t.Fatalf("chunks = %d, want 1", len(got))
	}
	if got[0] != "A short page. Nothing to cut here." {
		t.Fatalf("chunk = %q", got[0])
	}
}

// TestSplitRespectsBounds checks the size window over varied sentences
// and that the word sequence survives chunking intact.
func TestSplitRespectsBounds(t *testing.T) {
	var b strings.Builder
	for i := 0; i < 60; i++ {
		b.WriteString("The quick brown fox jumps over the lazy dog near the riverbank today. ")
		if i%7 == 0 {
			b.WriteString("Short one! ")
		}
	}
	text := b.String()

	s := mustSplitter(t, 100, 300)
	chunks := s.Split(text)
	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(chunks))
	}

	for i, c := range chunks {
		n := utf8.RuneCountInString(c)
		if n > 300 {
			t.Fatalf("chunk %d length %d exceeds max", i, n)
		}
		if i < len(chunks)-1 && n < 100 {
			t.Fatalf("chunk %d length %d below min", i, n)
		}
	}

	want := strings.Fields(text)
	got := words(chunks)
	if len(got) != len(want) {
		t.Fatalf("word count = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("word %d = %q, want %q", i, got[i], want[i])
		}
	}
}

// TestSplitPrefersSentenceBoundaries checks that chunks break at
// sentence ends whenever one is available inside the window.
func TestSplitPrefersSentenceBoundaries(t *testing.T) {
	sentence := "Every one of these sentences is close to eighty characters long in total size."
	text := strings.Repeat(sentence+" ", 12)

	s := mustSplitter(t, 100, 200)
	chunks := s.Split(text)
	if len(chunks) < 3 {
		t.Fatalf("expected several chunks, got %d", len(chunks))
	}

	for i, c := range chunks {
		if !strings.HasSuffix(c, ".") {
			t.Fatalf("chunk %d does not end at a sentence boundary: %q", i, c)
		}
	}
}

// TestSplitBreaksAtParagraphs checks paragraph ends act as boundaries
// even without sentence terminators.
func TestSplitBreaksAtParagraphs(t *testing.T) {
	para1 := strings.Repeat("alpha beta gamma delta epsilon zeta ", 4) // ~144 chars, no terminator
	para2 := strings.Repeat("one two three four five six seven ", 4)
	text := strings.TrimSpace(para1) + "\n\n" + strings.TrimSpace(para2)

	s := mustSplitter(t, 100, 200)
	chunks := s.Split(text)
	if len(chunks) < 2 {
		t.Fatalf("expected paragraph break to split, got %d chunks", len(chunks))
	}
	if chunks[0] != strings.Join(strings.Fields(para1), " ") {
		t.Fatalf("first chunk = %q, want first paragraph", chunks[0])
	}
}

// TestSplitHardCutsUnbrokenToken verifies mid-word cuts happen only for
// tokens longer than the window allows.
func TestSplitHardCutsUnbrokenToken(t *testing.T) {
	token := strings.Repeat("x", 2500)

	s := mustSplitter(t, 100, 1000)
	chunks := s.Split(token)
	if len(chunks) != 3 {
		t.Fatalf("chunks = %d, want 3", len(chunks))
	}
	if len(chunks[0]) != 1000 || len(chunks[1]) != 1000 || len(chunks[2]) != 500 {
		t.Fatalf("chunk sizes = %d/%d/%d", len(chunks[0]), len(chunks[1]), len(chunks[2]))
	}
	if strings.Join(chunks, "") != token {
		t.Fatal("token content not preserved across hard cuts")
	}
}

// TestSplitWordBoundariesWithoutSentences checks terminator-free text
// still breaks between words, never inside them.
func TestSplitWordBoundariesWithoutSentences(t *testing.T) {
	text := strings.TrimSpace(strings.Repeat("lorem ipsum dolor sit amet consectetur ", 20))

	s := mustSplitter(t, 100, 250)
	chunks := s.Split(text)

	want := strings.Fields(text)
	got := words(chunks)
	if len(got) != len(want) {
		t.Fatalf("word count = %d, want %d (a word was split)", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("word %d = %q, want %q", i, got[i], want[i])
		}
	}
}

// TestSplitDeterministic verifies identical input yields identical
// chunks; cache keys depend on stable chunk indexes.
func TestSplitDeterministic(t *testing.T) {
	text := strings.Repeat("Stable chunking keeps cache keys valid across runs. ", 30)
	s := mustSplitter(t, 100, 400)

	first := s.Split(text)
	second := s.Split(text)
	if len(first) != len(second) {
		t.Fatalf("chunk counts differ: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i] != second[i] {
			t.Fatalf("chunk %d differs between runs", i)
		}
	}
}
