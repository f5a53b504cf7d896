package workflow

import (
	"context"
	"sort"
	"sync"
)

// Repository persists shipments. Update is the transactional boundary:
// fn receives a private copy and the result is committed only if fn returns
// nil. Implementations must serialize Update calls for the same id.
type Repository interface {
	Create(ctx context.Context, shipment Shipment) error
	Get(ctx context.Context, id string) (Shipment, error)
	Update(ctx context.Context, id string, fn func(*Shipment) error) (Shipment, error)
	List(ctx context.Context) ([]Summary, error)
}

// MemoryRepository keeps shipments in process memory.
type MemoryRepository struct {
	mu        sync.RWMutex
	shipments map[string]Shipment
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{shipments: make(map[string]Shipment)}
}

func (m *MemoryRepository) Create(_ context.Context, shipment Shipment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.shipments[shipment.ID]; exists {
		return ShipmentExists(shipment.ID)
	}
	stored := shipment.Clone()
	stored.Version = 1
	m.shipments[shipment.ID] = stored
	return nil
}

func (m *MemoryRepository) Get(_ context.Context, id string) (Shipment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	shipment, ok := m.shipments[id]
	if !ok {
		return Shipment{}, ShipmentNotFound(id)
	}
	return shipment.Clone(), nil
}

func (m *MemoryRepository) Update(_ context.Context, id string, fn func(*Shipment) error) (Shipment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.shipments[id]
	if !ok {
		return Shipment{}, ShipmentNotFound(id)
	}
	working := current.Clone()
	if err := fn(&working); err != nil {
		return Shipment{}, err
	}
	working.Version = current.Version + 1
	m.shipments[id] = working
	return working.Clone(), nil
}

func (m *MemoryRepository) List(_ context.Context) ([]Summary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	items := make([]Summary, 0, len(m.shipments))
	for _, shipment := range m.shipments {
		items = append(items, shipment.Summary())
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].ID < items[j].ID
		}
		return items[i].CreatedAt.Before(items[j].CreatedAt)
	})
	return items, nil
}
