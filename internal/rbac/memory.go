package rbac

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore is an in-process GrantStore.
type MemoryStore struct {
	mu     sync.RWMutex
	grants map[string]map[Role]Grant
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{grants: make(map[string]map[Role]Grant)}
}

func (m *MemoryStore) GrantRole(_ context.Context, grant Grant) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	byRole, ok := m.grants[grant.Actor]
	if !ok {
		byRole = make(map[Role]Grant)
		m.grants[grant.Actor] = byRole
	}
	if _, exists := byRole[grant.Role]; exists {
		return nil
	}
	byRole[grant.Role] = grant
	return nil
}

func (m *MemoryStore) RevokeRole(_ context.Context, actor string, role Role) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if byRole, ok := m.grants[actor]; ok {
		delete(byRole, role)
		if len(byRole) == 0 {
			delete(m.grants, actor)
		}
	}
	return nil
}

func (m *MemoryStore) HasRole(_ context.Context, actor string, role Role) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.grants[actor][role]
	return ok, nil
}

func (m *MemoryStore) ListRoles(_ context.Context, actor string) ([]Role, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	roles := make([]Role, 0, len(m.grants[actor]))
	for role := range m.grants[actor] {
		roles = append(roles, role)
	}
	sort.Slice(roles, func(i, j int) bool { return roles[i] < roles[j] })
	return roles, nil
}

// Grants returns the stored grant record, if any.
func (m *MemoryStore) Grants(actor string) []Grant {
	m.mu.RLock()
	defer m.mu.RUnlock()
	items := make([]Grant, 0, len(m.grants[actor]))
	for _, grant := range m.grants[actor] {
		items = append(items, grant)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Role < items[j].Role })
	return items
}
