package tenants

import (
	"context"
	"sync"
)

// MemoryDirectory is an in-memory Directory for tests and local runs.
type MemoryDirectory struct {
	mu      sync.RWMutex
	byID    map[string]Tenant
	numbers map[string]string
}

func NewMemoryDirectory(ts ...Tenant) *MemoryDirectory {
	d := &MemoryDirectory{byID: map[string]Tenant{}, numbers: map[string]string{}}
	for _, t := range ts {
		d.Put(t)
	}
	return d
}

// Put inserts or replaces a tenant.
func (d *MemoryDirectory) Put(t Tenant) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if old, ok := d.byID[t.ID]; ok && old.AssignedNumber != "" {
		delete(d.numbers, NormalizeNumber(old.AssignedNumber))
	}
	d.byID[t.ID] = t
	if t.AssignedNumber != "" {
		d.numbers[NormalizeNumber(t.AssignedNumber)] = t.ID
	}
}

func (d *MemoryDirectory) ByAssignedNumber(ctx context.Context, number string) (Tenant, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	id, ok := d.numbers[NormalizeNumber(number)]
	if !ok {
		return Tenant{}, ErrTenantNotFound
	}
	return d.byID[id], nil
}

func (d *MemoryDirectory) Get(ctx context.Context, id string) (Tenant, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	t, ok := d.byID[id]
	if !ok {
		return Tenant{}, ErrTenantNotFound
	}
	return t, nil
}
