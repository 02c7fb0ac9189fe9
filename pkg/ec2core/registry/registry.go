// Package registry is the authoritative, concurrency-safe map from
// instance id to instance record.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/fiam/ec2core/pkg/ec2core/api"
	"github.com/fiam/ec2core/pkg/ec2core/storage"
	"github.com/fiam/ec2core/pkg/ec2core/types"
)

// Mutator changes an instance in place. Returning an error discards
// every change made by the mutator.
type Mutator func(instance *types.Instance) error

// BatchMutator receives all the instances of a batch at once, so it can
// validate them all before changing any.
type BatchMutator func(instances []*types.Instance) error

type Registry struct {
	store storage.Storage
	locks *keyedMutex
}

func New(store storage.Storage) *Registry {
	return &Registry{
		store: store,
		locks: newKeyedMutex(),
	}
}

func translateError(err error, ids ...string) error {
	if err == nil {
		return nil
	}
	var notFound storage.ErrResourceNotFound
	if errors.As(err, &notFound) {
		if len(ids) == 0 {
			ids = []string{notFound.ID}
		}
		return api.InstanceNotFoundError(ids...)
	}
	if errors.Is(err, storage.ErrUnavailable) {
		return api.InfrastructureError(err)
	}
	return err
}

// Put inserts a new record
func (r *Registry) Put(ctx context.Context, instance *types.Instance) error {
	r.locks.Lock(instance.ID)
	defer r.locks.Unlock(instance.ID)
	if err := r.store.CreateInstance(instance); err != nil {
		return translateError(fmt.Errorf("storing instance %s: %w", instance.ID, err))
	}
	api.Logger(ctx).Debug("registered instance", slog.String("instance_id", instance.ID))
	return nil
}

// Get returns a copy of the record with the given id
func (r *Registry) Get(ctx context.Context, id string) (*types.Instance, error) {
	instance, err := r.store.Instance(id)
	if err != nil {
		return nil, translateError(err, id)
	}
	return instance, nil
}

// List returns copies of the records matching pred, ordered by id. A nil
// pred matches every record.
func (r *Registry) List(ctx context.Context, pred func(*types.Instance) bool) ([]*types.Instance, error) {
	instances, err := r.store.Instances()
	if err != nil {
		return nil, translateError(err)
	}
	if pred == nil {
		return instances, nil
	}
	out := instances[:0]
	for _, instance := range instances {
		if pred(instance) {
			out = append(out, instance)
		}
	}
	return out, nil
}

// Update applies mutate to the record with the given id under its lock
// and returns the committed record.
func (r *Registry) Update(ctx context.Context, id string, mutate Mutator) (*types.Instance, error) {
	updated, err := r.UpdateMany(ctx, []string{id}, func(instances []*types.Instance) error {
		return mutate(instances[0])
	})
	if err != nil {
		return nil, err
	}
	return updated[0], nil
}

// UpdateMany locks every record in ids, passes copies of them (in the
// order given) to mutate and commits all of them in a single write. If
// any id is unknown or mutate fails, nothing changes.
func (r *Registry) UpdateMany(ctx context.Context, ids []string, mutate BatchMutator) ([]*types.Instance, error) {
	unlock := r.locks.LockAll(ids)
	defer unlock()

	instances := make([]*types.Instance, 0, len(ids))
	var missing []string
	seen := make(map[string]*types.Instance, len(ids))
	for _, id := range ids {
		if instance, ok := seen[id]; ok {
			instances = append(instances, instance)
			continue
		}
		instance, err := r.store.Instance(id)
		if err != nil {
			var notFound storage.ErrResourceNotFound
			if errors.As(err, &notFound) {
				missing = append(missing, id)
				continue
			}
			return nil, translateError(err)
		}
		seen[id] = instance
		instances = append(instances, instance)
	}
	if len(missing) > 0 {
		return nil, api.InstanceNotFoundError(missing...)
	}

	before := make(map[string]int64, len(seen))
	for id, instance := range seen {
		before[id] = instance.Revision
	}
	if err := mutate(instances); err != nil {
		return nil, err
	}

	changed := make([]*types.Instance, 0, len(seen))
	for id, instance := range seen {
		instance.Revision = before[id] + 1
		changed = append(changed, instance)
	}
	if err := r.store.UpdateInstances(changed); err != nil {
		return nil, translateError(fmt.Errorf("committing update: %w", err))
	}
	out := make([]*types.Instance, len(instances))
	for i, instance := range instances {
		out[i] = instance.Clone()
	}
	return out, nil
}

// Remove deletes the record with the given id
func (r *Registry) Remove(ctx context.Context, id string) error {
	r.locks.Lock(id)
	defer r.locks.Unlock(id)
	if err := r.store.RemoveInstance(id); err != nil {
		return translateError(err, id)
	}
	api.Logger(ctx).Debug("removed instance", slog.String("instance_id", id))
	return nil
}

func (r *Registry) PutReservation(ctx context.Context, reservation *types.Reservation) error {
	if err := r.store.CreateReservation(reservation); err != nil {
		return translateError(fmt.Errorf("storing reservation %s: %w", reservation.ID, err))
	}
	return nil
}

func (r *Registry) Reservation(ctx context.Context, id string) (*types.Reservation, error) {
	reservation, err := r.store.Reservation(id)
	if err != nil {
		var notFound storage.ErrResourceNotFound
		if errors.As(err, &notFound) {
			return nil, fmt.Errorf("reservation %s: %w", id, err)
		}
		return nil, translateError(err)
	}
	return reservation, nil
}

// Reservations returns every stored reservation ordered by id
func (r *Registry) Reservations(ctx context.Context) ([]*types.Reservation, error) {
	reservations, err := r.store.Reservations()
	if err != nil {
		return nil, translateError(err)
	}
	return reservations, nil
}

func (r *Registry) RemoveReservation(ctx context.Context, id string) error {
	if err := r.store.RemoveReservation(id); err != nil {
		var notFound storage.ErrResourceNotFound
		if errors.As(err, &notFound) {
			return nil
		}
		return translateError(err)
	}
	return nil
}
