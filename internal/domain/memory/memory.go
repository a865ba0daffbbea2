// Package memory implements the Memory Contract (C12): a durable,
// per-user/session store of free-text memories retrievable by semantic
// similarity (spec §3 supplements the distilled spec's "external,
// interface-only" Memory Contract with concrete /v1/memory/* endpoints).
// Grounded on the teacher's own memory manager/vector-store split; the
// gateway adds a gorm+sqlite-backed VectorStore
// (internal/infrastructure/persistence.SQLiteVectorStore) for the
// memory.enabled=true case; InMemoryVectorStore here is a non-persistent
// VectorStore with no database behind it.
package memory

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MemoryEntry is one stored memory (spec §3).
type MemoryEntry struct {
	ID        string
	Content   string
	Embedding []float32
	Metadata  map[string]interface{}
	Score     float32 // similarity score, populated on Search results only
	CreatedAt time.Time
	UpdatedAt time.Time
	SessionID string
	UserID    string
}

// VectorStore persists and retrieves MemoryEntry records by similarity.
type VectorStore interface {
	Insert(ctx context.Context, entry *MemoryEntry) error
	Search(ctx context.Context, query []float32, topK int, filter *SearchFilter) ([]*MemoryEntry, error)
	Delete(ctx context.Context, id string) error
	Update(ctx context.Context, entry *MemoryEntry) error
	GetBySession(ctx context.Context, sessionID string) ([]*MemoryEntry, error)
}

// SearchFilter narrows a Search call.
type SearchFilter struct {
	UserID    string
	SessionID string
	MinScore  float32
	TimeRange *TimeRange
}

// TimeRange bounds a search or compaction pass by creation time.
type TimeRange struct {
	Start time.Time
	End   time.Time
}

// EmbeddingProvider generates embedding vectors for memory content and
// queries. internal/infrastructure/embedding.OllamaEmbedder is the
// production implementation; SimpleEmbedder below is a dependency-free
// fallback.
type EmbeddingProvider interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
}

// Manager is the use-case layer over a VectorStore + EmbeddingProvider
// pair, backing the /v1/memory/upsert|search|list|compact handlers.
type Manager struct {
	store    VectorStore
	embedder EmbeddingProvider
	mu       sync.RWMutex
}

func NewManager(store VectorStore, embedder EmbeddingProvider) *Manager {
	return &Manager{store: store, embedder: embedder}
}

// Remember embeds content and stores it, extracting user_id/session_id
// from metadata if present.
func (m *Manager) Remember(ctx context.Context, content string, metadata map[string]interface{}) (*MemoryEntry, error) {
	embedding, err := m.embedder.Embed(ctx, content)
	if err != nil {
		return nil, fmt.Errorf("failed to generate embedding: %w", err)
	}

	entry := &MemoryEntry{
		ID:        generateID(content),
		Content:   content,
		Embedding: embedding,
		Metadata:  metadata,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	if userID, ok := metadata["user_id"].(string); ok {
		entry.UserID = userID
	}
	if sessionID, ok := metadata["session_id"].(string); ok {
		entry.SessionID = sessionID
	}

	if err := m.store.Insert(ctx, entry); err != nil {
		return nil, fmt.Errorf("failed to store memory: %w", err)
	}
	return entry, nil
}

// Recall embeds query and returns the topK most similar stored memories.
func (m *Manager) Recall(ctx context.Context, query string, topK int, filter *SearchFilter) ([]*MemoryEntry, error) {
	queryEmbed, err := m.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}
	return m.store.Search(ctx, queryEmbed, topK, filter)
}

// Forget deletes a memory by id.
func (m *Manager) Forget(ctx context.Context, id string) error {
	return m.store.Delete(ctx, id)
}

// Compact deletes every memory in sessionID older than maxAge, returning
// the count removed (spec §3 supplemented feature: POST /v1/memory/compact).
func (m *Manager) Compact(ctx context.Context, sessionID string, maxAge time.Duration) (int, error) {
	entries, err := m.store.GetBySession(ctx, sessionID)
	if err != nil {
		return 0, err
	}
	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for _, e := range entries {
		if e.CreatedAt.Before(cutoff) {
			if err := m.store.Delete(ctx, e.ID); err != nil {
				return removed, err
			}
			removed++
		}
	}
	return removed, nil
}

func generateID(content string) string {
	hash := sha256.Sum256([]byte(content + time.Now().String()))
	return hex.EncodeToString(hash[:16])
}

// InMemoryVectorStore is a dependency-free, non-persistent VectorStore
// (used by tests). The application wires SQLiteVectorStore whenever
// memory.enabled=true and never falls back to this store.
type InMemoryVectorStore struct {
	mu      sync.RWMutex
	entries map[string]*MemoryEntry
}

func NewInMemoryVectorStore() *InMemoryVectorStore {
	return &InMemoryVectorStore{entries: make(map[string]*MemoryEntry)}
}

func (s *InMemoryVectorStore) Insert(ctx context.Context, entry *MemoryEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[entry.ID] = entry
	return nil
}

func (s *InMemoryVectorStore) Search(ctx context.Context, query []float32, topK int, filter *SearchFilter) ([]*MemoryEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	type scored struct {
		entry *MemoryEntry
		score float32
	}
	var candidates []scored
	for _, entry := range s.entries {
		if filter != nil {
			if filter.UserID != "" && entry.UserID != filter.UserID {
				continue
			}
			if filter.SessionID != "" && entry.SessionID != filter.SessionID {
				continue
			}
			if filter.TimeRange != nil {
				if entry.CreatedAt.Before(filter.TimeRange.Start) || entry.CreatedAt.After(filter.TimeRange.End) {
					continue
				}
			}
		}
		score := CosineSimilarity(query, entry.Embedding)
		if filter != nil && score < filter.MinScore {
			continue
		}
		candidates = append(candidates, scored{entry: entry, score: score})
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].score > candidates[j].score })
	if len(candidates) > topK && topK > 0 {
		candidates = candidates[:topK]
	}
	results := make([]*MemoryEntry, len(candidates))
	for i, c := range candidates {
		entryCopy := *c.entry
		entryCopy.Score = c.score
		results[i] = &entryCopy
	}
	return results, nil
}

func (s *InMemoryVectorStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, id)
	return nil
}

func (s *InMemoryVectorStore) Update(ctx context.Context, entry *MemoryEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.entries[entry.ID]; !exists {
		return fmt.Errorf("memory not found: %s", entry.ID)
	}
	entry.UpdatedAt = time.Now()
	s.entries[entry.ID] = entry
	return nil
}

func (s *InMemoryVectorStore) GetBySession(ctx context.Context, sessionID string) ([]*MemoryEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var results []*MemoryEntry
	for _, entry := range s.entries {
		if entry.SessionID == sessionID {
			results = append(results, entry)
		}
	}
	return results, nil
}

// CosineSimilarity is shared by every VectorStore implementation
// (in-memory and gorm-backed alike) so ranking behaves identically
// regardless of backend.
func CosineSimilarity(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dotProduct, normA, normB float32
	for i := range a {
		dotProduct += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dotProduct / (sqrt32(normA) * sqrt32(normB))
}

func sqrt32(x float32) float32 {
	if x <= 0 {
		return 0
	}
	z := x
	for i := 0; i < 10; i++ {
		z = (z + x/z) / 2
	}
	return z
}

// SimpleEmbedder is a dependency-free EmbeddingProvider (hash-based bag
// of characters, L2-normalized) used when no Ollama-style embeddings
// backend is configured.
type SimpleEmbedder struct {
	dimension int
}

func NewSimpleEmbedder(dimension int) *SimpleEmbedder {
	return &SimpleEmbedder{dimension: dimension}
}

func (e *SimpleEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	embedding := make([]float32, e.dimension)
	for _, word := range splitFields(text) {
		for i, char := range word {
			idx := (int(char) + i) % e.dimension
			embedding[idx] += 1.0
		}
	}
	var norm float32
	for _, v := range embedding {
		norm += v * v
	}
	if norm > 0 {
		norm = sqrt32(norm)
		for i := range embedding {
			embedding[i] /= norm
		}
	}
	return embedding, nil
}

func (e *SimpleEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	results := make([][]float32, len(texts))
	for i, text := range texts {
		emb, err := e.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		results[i] = emb
	}
	return results, nil
}

func (e *SimpleEmbedder) Dimension() int { return e.dimension }

func splitFields(text string) []string {
	var fields []string
	var cur []rune
	for _, r := range text {
		if r == ' ' || r == '\t' || r == '\n' {
			if len(cur) > 0 {
				fields = append(fields, string(cur))
				cur = nil
			}
			continue
		}
		cur = append(cur, r)
	}
	if len(cur) > 0 {
		fields = append(fields, string(cur))
	}
	return fields
}
