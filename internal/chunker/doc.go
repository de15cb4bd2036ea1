// Package chunker divides document text into chunks for embedding.
//
// Chunks have a fixed target size in bytes and may overlap so that a sentence
// cut at a chunk edge still appears whole in one of the two neighbours.
//
// # Basic Usage
//
//	c, err := chunker.New(3072, 200)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	for _, chunk := range c.Split(doc.Content) {
//	    fmt.Printf("chunk %d: bytes %d-%d, ~%d tokens\n",
//	        chunk.Index, chunk.Start, chunk.End, chunk.TokenCount)
//	}
//
// # Cut Points
//
// When a chunk has to end before the document does, the cut is placed just
// after the last boundary found in the second half of the window, trying in
// order:
//   - a blank line (paragraph break)
//   - a line break
//   - a sentence end (". ", "? ", "! ")
//   - a space
//
// Without any boundary the cut falls on the window edge, moved back to the
// nearest UTF-8 rune start so multi-byte characters are never split.
//
// # Determinism
//
// Split is a pure function of its input and configuration. Re-chunking the
// same content produces identical chunk indexes, offsets and hashes, which
// keeps vector record keys stable across syncs.
//
// Token counts use a simple heuristic (chars/4). For more accuracy, use a
// proper tokenizer library.
package chunker
