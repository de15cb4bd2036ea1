// Package embedder generates vector embeddings for document chunks.
//
// Hosted providers (OpenAI, Jina AI, Nebius) share the OpenAI-compatible
// /v1/embeddings request shape and are served by HTTPProvider. LocalProvider
// derives a deterministic unit vector from the text hash and needs no network.
//
// # Basic Usage
//
//	emb, err := embedder.New(embedder.Config{Provider: "openai", CacheSize: 10000})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer emb.Close()
//
//	vecs, err := emb.EmbedBatch(ctx, []string{chunk1.Content, chunk2.Content})
//
// Batches are limited to MaxBatchSize texts. Callers split larger inputs.
//
// # Caching
//
// When CacheSize is positive, vectors are cached in an LRU keyed by the
// SHA-256 of model and text. Batch calls send only cache misses upstream.
//
// # Errors
//
// Non-2xx responses are returned as *APIError. Its Temporary method reports
// true for 429 and 5xx so retry classifiers can tell transient failures from
// permanent ones. Providers never retry on their own.
package embedder
