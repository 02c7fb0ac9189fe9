package storage

import (
	"slices"
	"strings"
	"sync"

	"github.com/google/btree"

	"github.com/fiam/ec2core/pkg/ec2core/types"
)

const btreeDegree = 32

type memoryStorage struct {
	mu           sync.RWMutex
	closed       bool
	instances    *btree.BTreeG[*types.Instance]
	reservations map[string]*types.Reservation
}

func NewMemoryStorage() Storage {
	return &memoryStorage{
		instances: btree.NewG(btreeDegree, func(a, b *types.Instance) bool {
			return a.ID < b.ID
		}),
		reservations: make(map[string]*types.Reservation),
	}
}

func (s *memoryStorage) checkOpen(op string) error {
	if s.closed {
		return unavailable(op, errClosed)
	}
	return nil
}

func (s *memoryStorage) CreateInstance(instance *types.Instance) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen("creating instance"); err != nil {
		return err
	}
	if _, ok := s.instances.Get(&types.Instance{ID: instance.ID}); ok {
		return ErrDuplicatedResource{ID: instance.ID}
	}
	s.instances.ReplaceOrInsert(instance.Clone())
	return nil
}

func (s *memoryStorage) UpdateInstances(instances []*types.Instance) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen("updating instances"); err != nil {
		return err
	}
	for _, instance := range instances {
		if _, ok := s.instances.Get(&types.Instance{ID: instance.ID}); !ok {
			return ErrResourceNotFound{ID: instance.ID}
		}
	}
	for _, instance := range instances {
		s.instances.ReplaceOrInsert(instance.Clone())
	}
	return nil
}

func (s *memoryStorage) Instance(id string) (*types.Instance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen("reading instance"); err != nil {
		return nil, err
	}
	instance, ok := s.instances.Get(&types.Instance{ID: id})
	if !ok {
		return nil, ErrResourceNotFound{ID: id}
	}
	return instance.Clone(), nil
}

func (s *memoryStorage) Instances() ([]*types.Instance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen("listing instances"); err != nil {
		return nil, err
	}
	instances := make([]*types.Instance, 0, s.instances.Len())
	s.instances.Ascend(func(instance *types.Instance) bool {
		instances = append(instances, instance.Clone())
		return true
	})
	return instances, nil
}

func (s *memoryStorage) RemoveInstance(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen("removing instance"); err != nil {
		return err
	}
	if _, ok := s.instances.Delete(&types.Instance{ID: id}); !ok {
		return ErrResourceNotFound{ID: id}
	}
	return nil
}

func (s *memoryStorage) CreateReservation(reservation *types.Reservation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen("creating reservation"); err != nil {
		return err
	}
	if _, ok := s.reservations[reservation.ID]; ok {
		return ErrDuplicatedResource{ID: reservation.ID}
	}
	s.reservations[reservation.ID] = reservation.Clone()
	return nil
}

func (s *memoryStorage) Reservation(id string) (*types.Reservation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen("reading reservation"); err != nil {
		return nil, err
	}
	r, ok := s.reservations[id]
	if !ok {
		return nil, ErrResourceNotFound{ID: id}
	}
	return r.Clone(), nil
}

func (s *memoryStorage) Reservations() ([]*types.Reservation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen("listing reservations"); err != nil {
		return nil, err
	}
	reservations := make([]*types.Reservation, 0, len(s.reservations))
	for _, r := range s.reservations {
		reservations = append(reservations, r.Clone())
	}
	slices.SortFunc(reservations, func(a, b *types.Reservation) int { return strings.Compare(a.ID, b.ID) })
	return reservations, nil
}

func (s *memoryStorage) RemoveReservation(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen("removing reservation"); err != nil {
		return err
	}
	if _, ok := s.reservations[id]; !ok {
		return ErrResourceNotFound{ID: id}
	}
	delete(s.reservations, id)
	return nil
}

func (s *memoryStorage) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
