package chunker

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/dshills/docsync-mcp/pkg/types"
)

const (
	// DefaultChunkSize is the target chunk length in bytes
	DefaultChunkSize = 3072

	// DefaultChunkOverlap is the number of bytes repeated at the start of the next chunk
	DefaultChunkOverlap = 200

	// MinChunkSize keeps chunks from degenerating into single words
	MinChunkSize = 64
)

// ErrInvalidConfig is returned for impossible size/overlap combinations
var ErrInvalidConfig = errors.New("invalid chunker configuration")

// boundaries in order of preference; a cut lands just after the separator
var boundaries = []string{"\n\n", "\n", ". ", "? ", "! ", " "}

// Chunker splits document content into fixed-size, optionally overlapping chunks
type Chunker struct {
	size    int
	overlap int
}

// New creates a Chunker. size <= 0 selects DefaultChunkSize; overlap < 0 selects DefaultChunkOverlap.
func New(size, overlap int) (*Chunker, error) {
	if size <= 0 {
		size = DefaultChunkSize
	}
	if overlap < 0 {
		overlap = DefaultChunkOverlap
	}
	if size < MinChunkSize {
		return nil, fmt.Errorf("%w: size %d below minimum %d", ErrInvalidConfig, size, MinChunkSize)
	}
	if overlap >= size/2 {
		return nil, fmt.Errorf("%w: overlap %d must be less than half of size %d", ErrInvalidConfig, overlap, size)
	}
	return &Chunker{size: size, overlap: overlap}, nil
}

// Size returns the configured chunk size
func (c *Chunker) Size() int {
	return c.size
}

// Overlap returns the configured overlap
func (c *Chunker) Overlap() int {
	return c.overlap
}

// Split divides content into chunks indexed from 0. Whitespace-only content
// yields no chunks. Cuts never split a UTF-8 sequence and prefer paragraph,
// line, sentence and word boundaries found in the second half of the window.
func (c *Chunker) Split(content string) []types.Chunk {
	if strings.TrimSpace(content) == "" {
		return nil
	}

	n := len(content)
	chunks := make([]types.Chunk, 0, n/c.size+1)
	start := 0
	for start < n {
		end := start + c.size
		if end >= n {
			end = n
		} else {
			end = c.cutPoint(content, start, end)
		}

		piece := content[start:end]
		if strings.TrimSpace(piece) != "" {
			chunk := types.Chunk{
				Index:   len(chunks),
				Content: piece,
				Start:   start,
				End:     end,
			}
			chunk.ComputeTokenCount()
			chunk.ComputeContentHash()
			chunks = append(chunks, chunk)
		}

		if end == n {
			break
		}

		next := end - c.overlap
		for next < end && !utf8.RuneStart(content[next]) {
			next++
		}
		if next <= start {
			next = end
		}
		start = next
	}

	return chunks
}

// cutPoint picks the end of the chunk starting at start with hard limit end
func (c *Chunker) cutPoint(content string, start, end int) int {
	floor := start + c.size/2
	window := content[floor:end]
	for _, sep := range boundaries {
		if i := strings.LastIndex(window, sep); i >= 0 {
			return floor + i + len(sep)
		}
	}

	for end > start+1 && !utf8.RuneStart(content[end]) {
		end--
	}
	return end
}
