package retry

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"
)

// DLQEntry - единица работы, от которой отказались после всех попыток
type DLQEntry struct {
	ID        string         `json:"id"`
	Timestamp time.Time      `json:"timestamp"`
	Unit      string         `json:"unit"`
	Attempts  int            `json:"attempts"`
	LastError string         `json:"lastError"`
	Data      map[string]any `json:"data,omitempty"`
}

// DLQ - журнал пропущенных батчей и вложений.
// При пустом пути записи хранятся только в памяти.
type DLQ struct {
	mu      sync.RWMutex
	path    string
	maxSize int
	entries []DLQEntry
	counter int
}

// NewDLQ создает журнал, подгружая существующий файл
func NewDLQ(path string, maxSize int) (*DLQ, error) {
	d := &DLQ{path: path, maxSize: maxSize}
	if path == "" {
		return d, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return d, nil
		}
		return nil, fmt.Errorf("failed to read DLQ file: %w", err)
	}
	if err := json.Unmarshal(data, &d.entries); err != nil {
		return nil, fmt.Errorf("failed to unmarshal DLQ: %w", err)
	}
	return d, nil
}

// Add добавляет запись и сохраняет журнал
func (d *DLQ) Add(entry DLQEntry) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.counter++
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}
	entry.ID = fmt.Sprintf("dlq-%d-%d", entry.Timestamp.Unix(), d.counter)
	d.entries = append(d.entries, entry)

	if d.maxSize > 0 && len(d.entries) > d.maxSize {
		d.entries = d.entries[len(d.entries)-d.maxSize:]
	}
	return d.saveLocked()
}

// Entries возвращает копию записей
func (d *DLQ) Entries() []DLQEntry {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make([]DLQEntry, len(d.entries))
	copy(out, d.entries)
	return out
}

// Size возвращает количество записей
func (d *DLQ) Size() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.entries)
}

func (d *DLQ) saveLocked() error {
	if d.path == "" {
		return nil
	}
	data, err := json.MarshalIndent(d.entries, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal DLQ: %w", err)
	}
	if err := os.WriteFile(d.path, data, 0644); err != nil {
		return fmt.Errorf("failed to write DLQ file: %w", err)
	}
	return nil
}
