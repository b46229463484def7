package idmap

import (
	"context"
	"fmt"
	"sync"
)

// Tracker ведет соответствия ключей одного выполнения.
//
// Соответствия таблицы копятся в буфере, пока идет транзакция загрузки,
// и попадают в Store только после Commit. Откат таблицы сбрасывает буфер
// через Discard, поэтому в Store нет ключей неподтвержденных строк.
type Tracker struct {
	store       Store
	executionID string

	mu      sync.Mutex
	pending map[string]map[string]Mapping
	cache   map[string]map[string]string
}

// NewTracker создает трекер выполнения executionID
func NewTracker(store Store, executionID string) *Tracker {
	return &Tracker{
		store:       store,
		executionID: executionID,
		pending:     make(map[string]map[string]Mapping),
		cache:       make(map[string]map[string]string),
	}
}

// ExecutionID возвращает идентификатор выполнения
func (t *Tracker) ExecutionID() string {
	return t.executionID
}

// Record добавляет соответствие в буфер таблицы
func (t *Tracker) Record(table, sourceColumn, sourceID, targetColumn, targetID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.pending[table] == nil {
		t.pending[table] = make(map[string]Mapping)
	}
	t.pending[table][sourceID] = Mapping{
		ExecutionID:    t.executionID,
		Table:          table,
		SourceID:       sourceID,
		SourceIDColumn: sourceColumn,
		TargetID:       targetID,
		TargetIDColumn: targetColumn,
	}
}

// Pending возвращает количество неподтвержденных соответствий таблицы
func (t *Tracker) Pending(table string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending[table])
}

// Commit переносит буфер таблицы в Store
func (t *Tracker) Commit(ctx context.Context, table string) (int, error) {
	t.mu.Lock()
	buf := t.pending[table]
	delete(t.pending, table)
	t.mu.Unlock()

	if len(buf) == 0 {
		return 0, nil
	}

	mappings := make([]Mapping, 0, len(buf))
	for _, m := range buf {
		mappings = append(mappings, m)
	}
	if err := t.store.SaveMappings(ctx, mappings); err != nil {
		return 0, fmt.Errorf("failed to commit id mappings of %s: %w", table, err)
	}

	t.mu.Lock()
	if c, ok := t.cache[table]; ok {
		for _, m := range mappings {
			c[m.SourceID] = m.TargetID
		}
	}
	t.mu.Unlock()
	return len(mappings), nil
}

// Discard сбрасывает буфер таблицы после отката
func (t *Tracker) Discard(table string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.pending, table)
}

// Resolve возвращает ключ цели для ключа источника подтвержденной таблицы
func (t *Tracker) Resolve(ctx context.Context, table, sourceID string) (string, bool, error) {
	m, err := t.table(ctx, table)
	if err != nil {
		return "", false, err
	}
	id, ok := m[sourceID]
	return id, ok, nil
}

// Preload загружает соответствия таблицы в кэш заранее, чтобы Resolve
// не обращался к Store, пока открыта транзакция загрузки
func (t *Tracker) Preload(ctx context.Context, table string) error {
	_, err := t.table(ctx, table)
	return err
}

func (t *Tracker) table(ctx context.Context, table string) (map[string]string, error) {
	t.mu.Lock()
	m, ok := t.cache[table]
	t.mu.Unlock()
	if ok {
		return m, nil
	}

	m, err := t.store.LoadTable(ctx, t.executionID, table)
	if err != nil {
		return nil, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if cached, ok := t.cache[table]; ok {
		return cached, nil
	}
	t.cache[table] = m
	return m, nil
}

// Count возвращает количество подтвержденных соответствий таблицы
func (t *Tracker) Count(ctx context.Context, table string) (int, error) {
	return t.store.CountMappings(ctx, t.executionID, table)
}

// RecordAttachment сохраняет запись о вложении
func (t *Tracker) RecordAttachment(ctx context.Context, rec AttachmentRecord) error {
	rec.ExecutionID = t.executionID
	return t.store.SaveAttachment(ctx, rec)
}

// Attachments возвращает записи о вложениях выполнения
func (t *Tracker) Attachments(ctx context.Context) ([]AttachmentRecord, error) {
	return t.store.Attachments(ctx, t.executionID)
}
