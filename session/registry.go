package session

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrRecordNotFound is returned by RecordStore.Get for unknown session ids.
var ErrRecordNotFound = errors.New("session record not found")

// Record is the durable-enough trace of an upload: which fund the session
// indexed and which providers built it. The chat handshake uses it to recover
// the fund name when the client does not resend one.
type Record struct {
	ID                string    `json:"id"`
	FundName          string    `json:"fundName"`
	LLMProvider       string    `json:"llmProvider"`
	EmbeddingProvider string    `json:"embeddingProvider"`
	Documents         int       `json:"documents"`
	CreatedAt         time.Time `json:"createdAt"`
}

// RecordStore keeps session records. Implementations must be safe for
// concurrent use.
type RecordStore interface {
	Put(ctx context.Context, record Record) error
	Get(ctx context.Context, id string) (Record, error)
	Delete(ctx context.Context, id string) error
	Close() error
}

// MemoryRecordStore keeps records in a process-local map.
type MemoryRecordStore struct {
	mu      sync.RWMutex
	records map[string]Record
}

func NewMemoryRecordStore() *MemoryRecordStore {
	return &MemoryRecordStore{records: make(map[string]Record)}
}

func (s *MemoryRecordStore) Put(ctx context.Context, record Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now()
	}
	s.records[record.ID] = record
	return nil
}

func (s *MemoryRecordStore) Get(ctx context.Context, id string) (Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	record, ok := s.records[id]
	if !ok {
		return Record{}, ErrRecordNotFound
	}
	return record, nil
}

func (s *MemoryRecordStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.records, id)
	return nil
}

func (s *MemoryRecordStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.records = nil
	return nil
}

var _ RecordStore = (*MemoryRecordStore)(nil)
