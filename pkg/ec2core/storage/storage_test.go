package storage

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fiam/ec2core/pkg/ec2core/types"
)

func storages(t *testing.T) map[string]func(t *testing.T) Storage {
	t.Helper()
	return map[string]func(t *testing.T) Storage{
		"memory": func(t *testing.T) Storage {
			return NewMemoryStorage()
		},
		"bolt": func(t *testing.T) Storage {
			s, err := NewBoltStorage(filepath.Join(t.TempDir(), "ec2core.db"))
			require.NoError(t, err)
			return s
		},
	}
}

func testInstance(id string) *types.Instance {
	return &types.Instance{
		ID:             id,
		ReservationID:  "r-1",
		ImageID:        "ami-1",
		InstanceType:   "t3.micro",
		State:          types.InstanceStatePending,
		LaunchTime:     time.Date(2026, 2, 15, 0, 0, 0, 0, time.UTC),
		SecurityGroups: []types.SecurityGroup{{ID: "sg-1", Name: "default"}},
	}
}

func TestStorageInstances(t *testing.T) {
	t.Parallel()

	for name, newStorage := range storages(t) {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			s := newStorage(t)
			t.Cleanup(func() { _ = s.Close() })

			require.NoError(t, s.CreateInstance(testInstance("i-2")))
			require.NoError(t, s.CreateInstance(testInstance("i-1")))

			err := s.CreateInstance(testInstance("i-1"))
			assert.ErrorAs(t, err, &ErrDuplicatedResource{})

			got, err := s.Instance("i-1")
			require.NoError(t, err)
			assert.Equal(t, testInstance("i-1"), got)

			_, err = s.Instance("i-3")
			assert.ErrorAs(t, err, &ErrResourceNotFound{})

			all, err := s.Instances()
			require.NoError(t, err)
			require.Len(t, all, 2)
			assert.Equal(t, "i-1", all[0].ID)
			assert.Equal(t, "i-2", all[1].ID)

			require.NoError(t, s.RemoveInstance("i-2"))
			assert.ErrorAs(t, s.RemoveInstance("i-2"), &ErrResourceNotFound{})
		})
	}
}

func TestStorageUpdateInstancesIsAtomic(t *testing.T) {
	t.Parallel()

	for name, newStorage := range storages(t) {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			s := newStorage(t)
			t.Cleanup(func() { _ = s.Close() })

			require.NoError(t, s.CreateInstance(testInstance("i-1")))

			updated := testInstance("i-1")
			updated.State = types.InstanceStateRunning
			err := s.UpdateInstances([]*types.Instance{updated, testInstance("i-missing")})
			assert.ErrorAs(t, err, &ErrResourceNotFound{})

			got, err := s.Instance("i-1")
			require.NoError(t, err)
			assert.Equal(t, types.InstanceStatePending, got.State)

			require.NoError(t, s.UpdateInstances([]*types.Instance{updated}))
			got, err = s.Instance("i-1")
			require.NoError(t, err)
			assert.Equal(t, types.InstanceStateRunning, got.State)
		})
	}
}

func TestStorageReturnsCopies(t *testing.T) {
	t.Parallel()

	for name, newStorage := range storages(t) {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			s := newStorage(t)
			t.Cleanup(func() { _ = s.Close() })

			instance := testInstance("i-1")
			require.NoError(t, s.CreateInstance(instance))
			instance.State = types.InstanceStateTerminated

			got, err := s.Instance("i-1")
			require.NoError(t, err)
			got.SecurityGroups[0].ID = "sg-2"

			again, err := s.Instance("i-1")
			require.NoError(t, err)
			assert.Equal(t, types.InstanceStatePending, again.State)
			assert.Equal(t, "sg-1", again.SecurityGroups[0].ID)
		})
	}
}

func TestStorageReservations(t *testing.T) {
	t.Parallel()

	for name, newStorage := range storages(t) {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			s := newStorage(t)
			t.Cleanup(func() { _ = s.Close() })

			r := &types.Reservation{ID: "r-1", OwnerID: "123456789012", InstanceIDs: []string{"i-1", "i-2"}}
			require.NoError(t, s.CreateReservation(r))
			assert.ErrorAs(t, s.CreateReservation(r), &ErrDuplicatedResource{})

			got, err := s.Reservation("r-1")
			require.NoError(t, err)
			assert.Equal(t, r.InstanceIDs, got.InstanceIDs)

			tokened := &types.Reservation{
				ID:          "r-0",
				ClientToken: "token",
				Params:      types.LaunchParams{ImageID: "ami-1", InstanceType: "t3.micro", MinCount: 1, MaxCount: 2},
			}
			require.NoError(t, s.CreateReservation(tokened))
			all, err := s.Reservations()
			require.NoError(t, err)
			require.Len(t, all, 2)
			assert.Equal(t, "r-0", all[0].ID)
			assert.Equal(t, tokened.Params, all[0].Params)
			assert.Equal(t, "r-1", all[1].ID)

			require.NoError(t, s.RemoveReservation("r-1"))
			_, err = s.Reservation("r-1")
			assert.ErrorAs(t, err, &ErrResourceNotFound{})
		})
	}
}

func TestStorageUnavailableAfterClose(t *testing.T) {
	t.Parallel()

	for name, newStorage := range storages(t) {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			s := newStorage(t)
			require.NoError(t, s.Close())

			_, err := s.Instance("i-1")
			require.ErrorIs(t, err, ErrUnavailable)
			require.ErrorIs(t, s.CreateInstance(testInstance("i-1")), ErrUnavailable)
		})
	}
}

func TestBoltStoragePersists(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "ec2core.db")
	s, err := NewBoltStorage(path)
	require.NoError(t, err)
	require.NoError(t, s.CreateInstance(testInstance("i-1")))
	require.NoError(t, s.Close())

	s, err = NewBoltStorage(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	got, err := s.Instance("i-1")
	require.NoError(t, err)
	assert.Equal(t, "ami-1", got.ImageID)
}
