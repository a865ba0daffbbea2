package persistence

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"gorm.io/gorm"

	"github.com/ngoclaw/ai-gateway/internal/domain/memory"
)

// memoryRow is the gorm row shape for a memory.MemoryEntry. Embedding and
// Metadata are stored as JSON text columns — sqlite has no native vector
// type, and at the gateway's scale a full table scan plus in-process
// cosine similarity (same algorithm as memory.InMemoryVectorStore) is
// simple and fast enough.
type memoryRow struct {
	ID         string `gorm:"primaryKey"`
	Content    string
	Embedding  string `gorm:"type:text"`
	Metadata   string `gorm:"type:text"`
	SessionID  string `gorm:"index"`
	UserID     string `gorm:"index"`
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// SQLiteVectorStore is the durable memory.VectorStore implementation,
// backing /v1/memory/* once config.MemoryConfig.Enabled is true.
type SQLiteVectorStore struct {
	db *gorm.DB
}

func NewSQLiteVectorStore(db *gorm.DB) *SQLiteVectorStore {
	return &SQLiteVectorStore{db: db}
}

var _ memory.VectorStore = (*SQLiteVectorStore)(nil)

func toRow(e *memory.MemoryEntry) (*memoryRow, error) {
	emb, err := json.Marshal(e.Embedding)
	if err != nil {
		return nil, err
	}
	meta, err := json.Marshal(e.Metadata)
	if err != nil {
		return nil, err
	}
	return &memoryRow{
		ID:        e.ID,
		Content:   e.Content,
		Embedding: string(emb),
		Metadata:  string(meta),
		SessionID: e.SessionID,
		UserID:    e.UserID,
		CreatedAt: e.CreatedAt,
		UpdatedAt: e.UpdatedAt,
	}, nil
}

func fromRow(r *memoryRow) (*memory.MemoryEntry, error) {
	var emb []float32
	if err := json.Unmarshal([]byte(r.Embedding), &emb); err != nil {
		return nil, err
	}
	var meta map[string]interface{}
	if r.Metadata != "" {
		if err := json.Unmarshal([]byte(r.Metadata), &meta); err != nil {
			return nil, err
		}
	}
	return &memory.MemoryEntry{
		ID:        r.ID,
		Content:   r.Content,
		Embedding: emb,
		Metadata:  meta,
		SessionID: r.SessionID,
		UserID:    r.UserID,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}, nil
}

func (s *SQLiteVectorStore) Insert(ctx context.Context, entry *memory.MemoryEntry) error {
	row, err := toRow(entry)
	if err != nil {
		return err
	}
	return s.db.WithContext(ctx).Create(row).Error
}

func (s *SQLiteVectorStore) Update(ctx context.Context, entry *memory.MemoryEntry) error {
	entry.UpdatedAt = time.Now()
	row, err := toRow(entry)
	if err != nil {
		return err
	}
	res := s.db.WithContext(ctx).Model(&memoryRow{}).Where("id = ?", entry.ID).Updates(row)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("memory entry not found: %s", entry.ID)
	}
	return nil
}

func (s *SQLiteVectorStore) Delete(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Delete(&memoryRow{}, "id = ?", id).Error
}

func (s *SQLiteVectorStore) GetBySession(ctx context.Context, sessionID string) ([]*memory.MemoryEntry, error) {
	var rows []memoryRow
	if err := s.db.WithContext(ctx).Where("session_id = ?", sessionID).Find(&rows).Error; err != nil {
		return nil, err
	}
	return s.decodeAll(rows)
}

// Search loads every candidate row matching the filter's SQL-expressible
// fields (user, session, time range) and ranks by cosine similarity in
// process, same algorithm as memory.InMemoryVectorStore.Search.
func (s *SQLiteVectorStore) Search(ctx context.Context, query []float32, topK int, filter *memory.SearchFilter) ([]*memory.MemoryEntry, error) {
	q := s.db.WithContext(ctx).Model(&memoryRow{})
	if filter != nil {
		if filter.UserID != "" {
			q = q.Where("user_id = ?", filter.UserID)
		}
		if filter.SessionID != "" {
			q = q.Where("session_id = ?", filter.SessionID)
		}
		if filter.TimeRange != nil {
			q = q.Where("created_at >= ? AND created_at <= ?", filter.TimeRange.Start, filter.TimeRange.End)
		}
	}
	var rows []memoryRow
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	entries, err := s.decodeAll(rows)
	if err != nil {
		return nil, err
	}

	type scored struct {
		entry *memory.MemoryEntry
		score float32
	}
	candidates := make([]scored, 0, len(entries))
	for _, e := range entries {
		score := memory.CosineSimilarity(query, e.Embedding)
		if filter != nil && score < filter.MinScore {
			continue
		}
		e.Score = score
		candidates = append(candidates, scored{entry: e, score: score})
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].score > candidates[j].score })
	if len(candidates) > topK && topK > 0 {
		candidates = candidates[:topK]
	}
	out := make([]*memory.MemoryEntry, len(candidates))
	for i, c := range candidates {
		out[i] = c.entry
	}
	return out, nil
}

func (s *SQLiteVectorStore) decodeAll(rows []memoryRow) ([]*memory.MemoryEntry, error) {
	out := make([]*memory.MemoryEntry, 0, len(rows))
	for i := range rows {
		e, err := fromRow(&rows[i])
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}
