package model

import (
	"maps"
	"slices"
	"time"
)

// EntryID identifies a memory entry. IDs grow monotonically within a store
// and are never reused, even after the store is cleared.
type EntryID int64

// MemoryEntry is a piece of text remembered by the similarity store
type MemoryEntry struct {
	ID        EntryID        `json:"id"`
	Text      string         `json:"text"`
	Embedding []float32      `json:"embedding"`
	Metadata  map[string]any `json:"metadata"`
	CreatedAt time.Time      `json:"created_at"`
}

// Copy returns a deep copy of the entry (metadata is copied one level deep)
func (e *MemoryEntry) Copy() *MemoryEntry {
	c := *e
	c.Embedding = slices.Clone(e.Embedding)
	c.Metadata = maps.Clone(e.Metadata)
	return &c
}

// ScoredEntry is a search hit with its cosine similarity to the query
type ScoredEntry struct {
	Entry *MemoryEntry `json:"entry"`
	Score float64      `json:"score"`
}

// MemoryStats describes the size of a similarity store
type MemoryStats struct {
	TotalEntries int   `json:"total_entries"`
	Dimension    int   `json:"dimension"`
	StorageBytes int64 `json:"storage_bytes"`
}
