package text

import (
	"errors"
	"fmt"
	"iter"
)

const (
	DefaultChunkSize    = 1000
	DefaultChunkOverlap = 200
)

var ErrInvalidWindow = errors.New("invalid chunk window")

// Window is one chunk of the source text. Start and End are character
// (rune) offsets into the text, End exclusive.
type Window struct {
	Index   int
	Start   int
	End     int
	Content string
}

// Chunker splits text into fixed-size windows that overlap by Overlap
// characters. Output depends only on the text and the two parameters.
type Chunker struct {
	size    int
	overlap int
}

func NewChunker(size, overlap int) (Chunker, error) {
	if size <= 0 {
		return Chunker{}, fmt.Errorf("%w: size %d must be positive", ErrInvalidWindow, size)
	}
	if overlap < 0 || overlap >= size {
		return Chunker{}, fmt.Errorf("%w: overlap %d must be in [0, %d)", ErrInvalidWindow, overlap, size)
	}
	return Chunker{size: size, overlap: overlap}, nil
}

func (c Chunker) Size() int    { return c.size }
func (c Chunker) Overlap() int { return c.overlap }

// Chunks yields the windows of text in order. Every window starts
// Size-Overlap characters after the previous one; the last may be shorter
// than Size. Ranging over the sequence again restarts from the beginning.
func (c Chunker) Chunks(text string) iter.Seq[Window] {
	return func(yield func(Window) bool) {
		runes := []rune(text)
		n := len(runes)
		if n == 0 {
			return
		}
		stride := c.size - c.overlap
		for i, start := 0, 0; ; i, start = i+1, start+stride {
			end := min(start+c.size, n)
			w := Window{Index: i, Start: start, End: end, Content: string(runes[start:end])}
			if !yield(w) || end == n {
				return
			}
		}
	}
}

// Split collects Chunks into a slice.
func (c Chunker) Split(text string) []Window {
	var out []Window
	for w := range c.Chunks(text) {
		out = append(out, w)
	}
	return out
}
