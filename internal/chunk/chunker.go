// Package chunk splits extracted page text into overlapping fragments sized
// for embedding.
package chunk

import (
	"errors"
	"fmt"

	"github.com/sitesage/sitesage/internal/hash/sha256"
)

// ErrInvalidConfig indicates a chunking configuration that cannot make
// forward progress.
var ErrInvalidConfig = errors.New("chunk: overlap must be non-negative and smaller than size")

// Fragment is one window of a page's text. Ordinals start at zero and run in
// document order; PrevID and NextID link neighboring fragments.
type Fragment struct {
	ID      string
	URL     string
	Ordinal int
	Text    string
	PrevID  string
	NextID  string
}

// Chunker produces fixed-size rune windows with a fixed overlap.
type Chunker struct {
	size    int
	overlap int
}

// New creates a Chunker. size must be positive and overlap must satisfy
// 0 <= overlap < size, otherwise ErrInvalidConfig is returned.
func New(size, overlap int) (*Chunker, error) {
	if size <= 0 || overlap < 0 || overlap >= size {
		return nil, fmt.Errorf("%w (size=%d overlap=%d)", ErrInvalidConfig, size, overlap)
	}
	return &Chunker{size: size, overlap: overlap}, nil
}

// Split windows text into fragments for the page at url. Splitting operates
// on runes so multi-byte characters are never cut. Text no longer than the
// window produces exactly one fragment; otherwise each fragment shares
// exactly overlap runes with its predecessor and every rune of the input
// appears in at least one fragment.
func (c *Chunker) Split(url, text string) []Fragment {
	runes := []rune(text)
	step := c.size - c.overlap

	var frags []Fragment
	for start := 0; ; start += step {
		end := start + c.size
		if end > len(runes) {
			end = len(runes)
		}
		frags = append(frags, Fragment{
			ID:      FragmentID(url, len(frags)),
			URL:     url,
			Ordinal: len(frags),
			Text:    string(runes[start:end]),
		})
		if end == len(runes) {
			break
		}
	}
	for i := range frags {
		if i > 0 {
			frags[i].PrevID = frags[i-1].ID
		}
		if i < len(frags)-1 {
			frags[i].NextID = frags[i+1].ID
		}
	}
	return frags
}

// Size returns the window size in runes.
func (c *Chunker) Size() int { return c.size }

// Overlap returns the window overlap in runes.
func (c *Chunker) Overlap() int { return c.overlap }

// FragmentID derives the stable identifier for a fragment: the digest of the
// page URL and ordinal. Re-indexing the same page yields the same IDs.
func FragmentID(url string, ordinal int) string {
	return sha256.SumParts(url, fmt.Sprintf("%d", ordinal))
}

// Reassemble concatenates fragments back into the original text by dropping
// the first overlap runes of every fragment after the first.
func Reassemble(frags []Fragment, overlap int) string {
	var out []rune
	for i, f := range frags {
		runes := []rune(f.Text)
		if i > 0 {
			if overlap > len(runes) {
				continue
			}
			runes = runes[overlap:]
		}
		out = append(out, runes...)
	}
	return string(out)
}
