package idmap

import (
	"context"
	"sort"
	"sync"
)

// Store хранит соответствия ключей и записи о вложениях после завершения выполнения
type Store interface {
	// SaveMappings сохраняет соответствия, повторный SourceID заменяет прежний
	SaveMappings(ctx context.Context, mappings []Mapping) error

	// LoadTable возвращает все соответствия таблицы: sourceID -> targetID
	LoadTable(ctx context.Context, executionID, table string) (map[string]string, error)

	// CountMappings возвращает количество соответствий таблицы
	CountMappings(ctx context.Context, executionID, table string) (int, error)

	SaveAttachment(ctx context.Context, rec AttachmentRecord) error
	Attachments(ctx context.Context, executionID string) ([]AttachmentRecord, error)
}

type tableKey struct {
	execution, table string
}

// MemoryStore - Store в памяти процесса
type MemoryStore struct {
	mu          sync.RWMutex
	mappings    map[tableKey]map[string]Mapping
	attachments map[string][]AttachmentRecord
}

// NewMemoryStore создает пустое хранилище
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		mappings:    make(map[tableKey]map[string]Mapping),
		attachments: make(map[string][]AttachmentRecord),
	}
}

func (m *MemoryStore) SaveMappings(_ context.Context, mappings []Mapping) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, mp := range mappings {
		k := tableKey{mp.ExecutionID, mp.Table}
		if m.mappings[k] == nil {
			m.mappings[k] = make(map[string]Mapping)
		}
		m.mappings[k][mp.SourceID] = mp
	}
	return nil
}

func (m *MemoryStore) LoadTable(_ context.Context, executionID, table string) (map[string]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rows := m.mappings[tableKey{executionID, table}]
	out := make(map[string]string, len(rows))
	for src, mp := range rows {
		out[src] = mp.TargetID
	}
	return out, nil
}

func (m *MemoryStore) CountMappings(_ context.Context, executionID, table string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.mappings[tableKey{executionID, table}]), nil
}

func (m *MemoryStore) SaveAttachment(_ context.Context, rec AttachmentRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attachments[rec.ExecutionID] = append(m.attachments[rec.ExecutionID], rec)
	return nil
}

func (m *MemoryStore) Attachments(_ context.Context, executionID string) ([]AttachmentRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := append([]AttachmentRecord(nil), m.attachments[executionID]...)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].DocumentID != out[j].DocumentID {
			return out[i].DocumentID < out[j].DocumentID
		}
		return out[i].AttachmentName < out[j].AttachmentName
	})
	return out, nil
}
