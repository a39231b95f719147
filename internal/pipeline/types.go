// Package pipeline defines the domain types shared across the ingestion
// stages and the coordinator that drives them.
package pipeline

import "fmt"

// SourceDocument is a raw object fetched from the object store. It is
// transient: created on fetch, discarded after parsing.
type SourceDocument struct {
	Key     string
	Content []byte
	Size    int64
}

// Chunk is one page or section of extracted text, ordered within its source
// document. Indices are contiguous starting at 0.
type Chunk struct {
	Index int
	Text  string
}

// OutboundMessage is the broker-bound form of a Chunk. RoutingKey is unique
// per (document, chunk) pair, which lets downstream consumers deduplicate
// redeliveries.
type OutboundMessage struct {
	RoutingKey string
	Value      []byte
}

// RoutingKey derives the deterministic broker key for a chunk of a document.
func RoutingKey(documentKey string, index int) string {
	return fmt.Sprintf("%s_chunk_%d", documentKey, index)
}
