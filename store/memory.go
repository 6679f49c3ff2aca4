package store

import (
	"context"
	"sync"

	dicomweb "gitlab.com/medical-research/dicomweb"
	"gitlab.com/medical-research/dicomweb/dicom"
)

// MemoryBlobs is an in-memory BlobStore.
type MemoryBlobs struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewMemoryBlobs creates a new in-memory blob store.
func NewMemoryBlobs() *MemoryBlobs {
	return &MemoryBlobs{data: make(map[string][]byte)}
}

func (m *MemoryBlobs) PutBlob(ctx context.Context, key string, data []byte) error {
	buf := make([]byte, len(data))
	copy(buf, data)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = buf
	return nil
}

func (m *MemoryBlobs) GetBlob(ctx context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	data, ok := m.data[key]
	if !ok {
		return nil, dicomweb.Errorf(dicomweb.ENOTFOUND, "blob not found: %s", key)
	}
	return data, nil
}

// MemoryIndex is an in-memory Index.
type MemoryIndex struct {
	mu       sync.RWMutex
	children map[dicomweb.ResourceLevel]map[string][]*dicomweb.InstanceRecord
}

// NewMemoryIndex creates a new in-memory index.
func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{children: make(map[dicomweb.ResourceLevel]map[string][]*dicomweb.InstanceRecord)}
}

func (m *MemoryIndex) AddInstance(ctx context.Context, rec *dicomweb.InstanceRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	ids := dicom.IDs(rec)
	if _, ok := m.children[dicomweb.LevelInstance][ids[dicomweb.LevelInstance]]; ok {
		return nil
	}

	for level, id := range ids {
		byID := m.children[level]
		if byID == nil {
			byID = make(map[string][]*dicomweb.InstanceRecord)
			m.children[level] = byID
		}
		byID[id] = append(byID[id], rec)
	}
	return nil
}

func (m *MemoryIndex) Exists(ctx context.Context, level dicomweb.ResourceLevel, id string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.children[level][id]
	return ok, nil
}

func (m *MemoryIndex) Instances(ctx context.Context, level dicomweb.ResourceLevel, id string) ([]*dicomweb.InstanceRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	records := m.children[level][id]
	out := make([]*dicomweb.InstanceRecord, len(records))
	copy(out, records)
	return out, nil
}
