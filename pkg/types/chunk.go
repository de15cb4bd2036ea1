package types

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
)

// Chunk is a contiguous slice of a document's content sent to the embedder
type Chunk struct {
	Index       int
	Content     string
	Start       int // byte offset into the document content
	End         int // exclusive
	TokenCount  int
	ContentHash string
}

// Validate checks the chunk bounds and content
func (c *Chunk) Validate() error {
	if c.Content == "" {
		return errors.New("chunk content cannot be empty")
	}

	if c.Index < 0 {
		return errors.New("chunk index must be non-negative")
	}

	if c.Start < 0 || c.End <= c.Start {
		return errors.New("chunk bounds are invalid")
	}

	return nil
}

// ComputeTokenCount estimates the number of tokens in the chunk
// Uses a simple heuristic: characters / 4
func (c *Chunk) ComputeTokenCount() int {
	c.TokenCount = len(c.Content) / 4
	return c.TokenCount
}

// ComputeContentHash computes the SHA-256 hash of the chunk content
func (c *Chunk) ComputeContentHash() {
	h := sha256.Sum256([]byte(c.Content))
	c.ContentHash = hex.EncodeToString(h[:])
}
