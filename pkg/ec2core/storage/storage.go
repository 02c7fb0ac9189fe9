package storage

import (
	"errors"
	"fmt"

	"github.com/fiam/ec2core/pkg/ec2core/types"
)

// ErrUnavailable is wrapped by every error caused by the backing store
// itself rather than by the data it holds.
var ErrUnavailable = errors.New("storage unavailable")

var errClosed = errors.New("storage is closed")

type ErrResourceNotFound struct {
	ID string
}

func (e ErrResourceNotFound) Error() string {
	return fmt.Sprintf("resource %s not found", e.ID)
}

type ErrDuplicatedResource struct {
	ID string
}

func (e ErrDuplicatedResource) Error() string {
	return fmt.Sprintf("resource %s already exists", e.ID)
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrUnavailable, err)
}

// Storage persists instance and reservation records. Implementations
// store copies: callers never share memory with the store.
type Storage interface {
	CreateInstance(instance *types.Instance) error
	// UpdateInstances replaces the given existing records in a single
	// atomic write. If any of them does not exist, nothing is written.
	UpdateInstances(instances []*types.Instance) error
	Instance(id string) (*types.Instance, error)
	// Instances returns every stored instance ordered by id
	Instances() ([]*types.Instance, error)
	RemoveInstance(id string) error

	CreateReservation(reservation *types.Reservation) error
	Reservation(id string) (*types.Reservation, error)
	// Reservations returns every stored reservation ordered by id
	Reservations() ([]*types.Reservation, error)
	RemoveReservation(id string) error

	Close() error
}
