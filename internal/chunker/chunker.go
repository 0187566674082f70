// Package chunker splits extracted document text into bounded, overlapping
// segments suitable for embedding.
package chunker

import (
	"strings"
	"unicode/utf8"
)

const (
	// DefaultMaxChars is the character budget for a chunk before overlap is added.
	DefaultMaxChars = 1200

	// DefaultOverlap is the number of trailing characters of the previous chunk
	// prepended to the next one.
	DefaultOverlap = 150
)

// Chunker splits text paragraph by paragraph.
// Lengths are counted in characters (runes), not bytes.
type Chunker struct {
	maxChars int
	overlap  int
}

// NewChunker creates a chunker. Non-positive maxChars falls back to
// DefaultMaxChars; a negative overlap disables overlap.
func NewChunker(maxChars, overlap int) *Chunker {
	if maxChars <= 0 {
		maxChars = DefaultMaxChars
	}
	if overlap < 0 {
		overlap = 0
	}
	return &Chunker{
		maxChars: maxChars,
		overlap:  overlap,
	}
}

// Chunk splits text using the chunker's configured budget and overlap.
func (c *Chunker) Chunk(text string) []string {
	return Split(text, c.maxChars, c.overlap)
}

// Split breaks text into non-empty trimmed paragraphs (one per line) and
// greedily packs them, newline-joined, into chunks of at most maxChars
// characters. A paragraph that alone exceeds maxChars is kept whole as an
// oversized chunk. When more than one chunk results and overlap > 0, every
// chunk after the first is prefixed with the last overlap characters of its
// predecessor.
func Split(text string, maxChars, overlap int) []string {
	var chunks []string
	cur := ""
	curLen := 0

	for _, line := range strings.Split(text, "\n") {
		p := strings.TrimSpace(line)
		if p == "" {
			continue
		}
		pLen := utf8.RuneCountInString(p)

		if curLen+pLen+1 <= maxChars {
			if cur == "" {
				cur = p
				curLen = pLen
			} else {
				cur = cur + "\n" + p
				curLen += pLen + 1
			}
			continue
		}

		if cur != "" {
			chunks = append(chunks, cur)
		}
		cur = p
		curLen = pLen
	}

	if cur != "" {
		chunks = append(chunks, cur)
	}

	if overlap <= 0 || len(chunks) < 2 {
		return chunks
	}

	overlapped := make([]string, len(chunks))
	overlapped[0] = chunks[0]
	for i := 1; i < len(chunks); i++ {
		prefix := tail(chunks[i-1], overlap)
		overlapped[i] = strings.TrimSpace(prefix + "\n" + chunks[i])
	}
	return overlapped
}

// tail returns the last n characters of s, or s itself when it is not longer
// than n.
func tail(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[len(runes)-n:])
}
