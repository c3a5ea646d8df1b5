package orchestrator

import "strings"

// sentenceChunker accumulates streamed deltas and releases sentence-like
// chunks so synthesis can start before the completion finishes.
// Split points are '.', '?', '!' and newlines, retaining punctuation.
type sentenceChunker struct {
	b strings.Builder
}

// Add appends a delta and returns any sentences completed by it.
func (c *sentenceChunker) Add(delta string) []string {
	var out []string
	for _, r := range delta {
		switch r {
		case '.', '!', '?':
			c.b.WriteRune(r)
			if chunk := strings.TrimSpace(c.b.String()); chunk != "" {
				out = append(out, chunk)
			}
			c.b.Reset()
		case '\n', '\r':
			if chunk := strings.TrimSpace(c.b.String()); chunk != "" {
				out = append(out, chunk)
			}
			c.b.Reset()
		default:
			c.b.WriteRune(r)
		}
	}
	return out
}

// Flush returns the trailing partial sentence, if any.
func (c *sentenceChunker) Flush() string {
	tail := strings.TrimSpace(c.b.String())
	c.b.Reset()
	return tail
}
