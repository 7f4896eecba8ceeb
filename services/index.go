package services

import (
	"context"
	"fmt"
	"sync"

	dcmerrors "github.com/caio-sobreiro/dcmstream/errors"
	"github.com/caio-sobreiro/dcmstream/interfaces"
)

// MemoryIndex is an InstanceStore kept in memory.
type MemoryIndex struct {
	mu        sync.RWMutex
	instances map[string]*interfaces.Instance
	order     []string
}

// NewMemoryIndex creates an empty index.
func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{instances: make(map[string]*interfaces.Instance)}
}

func (m *MemoryIndex) Put(ctx context.Context, inst *interfaces.Instance) error {
	if inst.SOPInstanceUID == "" {
		return fmt.Errorf("failed to index instance: %w", dcmerrors.ErrInvalidMessage)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.instances[inst.SOPInstanceUID]; !ok {
		m.order = append(m.order, inst.SOPInstanceUID)
	}
	m.instances[inst.SOPInstanceUID] = inst
	return nil
}

func (m *MemoryIndex) Get(ctx context.Context, sopInstanceUID string) (*interfaces.Instance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	inst, ok := m.instances[sopInstanceUID]
	if !ok {
		return nil, fmt.Errorf("%s: %w", sopInstanceUID, dcmerrors.ErrInstanceNotFound)
	}
	return inst, nil
}

// Walk visits a snapshot, so fn may call Put.
func (m *MemoryIndex) Walk(ctx context.Context, fn func(*interfaces.Instance) error) error {
	m.mu.RLock()
	snapshot := make([]*interfaces.Instance, 0, len(m.order))
	for _, uid := range m.order {
		snapshot = append(snapshot, m.instances[uid])
	}
	m.mu.RUnlock()

	for _, inst := range snapshot {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(inst); err != nil {
			return err
		}
	}
	return nil
}

func (m *MemoryIndex) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.instances)
}
