package gcp

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
)

// MemoryStore is a JSONStore held in process memory. It stores the encoded
// bytes so readers never alias the writer's values.
type MemoryStore struct {
	mu      sync.RWMutex
	objects map[string][]byte
	writes  int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{objects: map[string][]byte{}}
}

func memoryKey(bucket, key string) string { return bucket + "/" + key }

func (m *MemoryStore) DownloadJSON(ctx context.Context, bucket, key string, out any) error {
	m.mu.RLock()
	raw, ok := m.objects[memoryKey(bucket, key)]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("mem://%s/%s: %w", bucket, key, ErrObjectNotFound)
	}
	return json.Unmarshal(raw, out)
}

func (m *MemoryStore) UploadJSON(ctx context.Context, bucket, key string, v any, upsert bool) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	k := memoryKey(bucket, key)
	if _, exists := m.objects[k]; exists && !upsert {
		return fmt.Errorf("mem://%s/%s: %w", bucket, key, ErrObjectExists)
	}
	m.objects[k] = raw
	m.writes++
	return nil
}

// Raw returns the stored bytes for a key.
func (m *MemoryStore) Raw(bucket, key string) ([]byte, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	raw, ok := m.objects[memoryKey(bucket, key)]
	return raw, ok
}

// Writes counts successful uploads.
func (m *MemoryStore) Writes() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.writes
}

func (m *MemoryStore) Keys() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.objects))
	for k := range m.objects {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
