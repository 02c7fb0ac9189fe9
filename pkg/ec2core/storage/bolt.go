package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.etcd.io/bbolt"

	"github.com/fiam/ec2core/pkg/ec2core/types"
)

var (
	bucketInstances    = []byte("instances")
	bucketReservations = []byte("reservations")
)

const boltOpenTimeout = 5 * time.Second

type boltStorage struct {
	db *bbolt.DB
}

// NewBoltStorage opens (creating it if needed) a bbolt database at path.
// Records are stored as JSON, one bucket per resource type.
func NewBoltStorage(path string) (Storage, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: boltOpenTimeout})
	if err != nil {
		return nil, unavailable(fmt.Sprintf("opening database %s", path), err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		for _, bucket := range [][]byte{bucketInstances, bucketReservations} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("creating bucket %s: %w", bucket, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, errors.Join(unavailable("initializing database", err), db.Close())
	}
	return &boltStorage{db: db}, nil
}

// wrap classifies an error returned from a transaction: record level
// errors pass through, everything else is a store failure.
func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	var notFound ErrResourceNotFound
	var duplicated ErrDuplicatedResource
	if errors.As(err, &notFound) || errors.As(err, &duplicated) {
		return err
	}
	return unavailable(op, err)
}

func putJSON(bucket *bbolt.Bucket, id string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", id, err)
	}
	return bucket.Put([]byte(id), data)
}

func (s *boltStorage) CreateInstance(instance *types.Instance) error {
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketInstances)
		if b.Get([]byte(instance.ID)) != nil {
			return ErrDuplicatedResource{ID: instance.ID}
		}
		return putJSON(b, instance.ID, instance)
	})
	return wrap("creating instance", err)
}

func (s *boltStorage) UpdateInstances(instances []*types.Instance) error {
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketInstances)
		for _, instance := range instances {
			if b.Get([]byte(instance.ID)) == nil {
				return ErrResourceNotFound{ID: instance.ID}
			}
			if err := putJSON(b, instance.ID, instance); err != nil {
				return err
			}
		}
		return nil
	})
	return wrap("updating instances", err)
}

func (s *boltStorage) Instance(id string) (*types.Instance, error) {
	var instance types.Instance
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketInstances).Get([]byte(id))
		if data == nil {
			return ErrResourceNotFound{ID: id}
		}
		return json.Unmarshal(data, &instance)
	})
	if err != nil {
		return nil, wrap("reading instance", err)
	}
	return &instance, nil
}

func (s *boltStorage) Instances() ([]*types.Instance, error) {
	var instances []*types.Instance
	// bbolt iterates keys in byte order, which is id order
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketInstances).ForEach(func(k, v []byte) error {
			var instance types.Instance
			if err := json.Unmarshal(v, &instance); err != nil {
				return fmt.Errorf("decoding instance %s: %w", k, err)
			}
			instances = append(instances, &instance)
			return nil
		})
	})
	if err != nil {
		return nil, wrap("listing instances", err)
	}
	return instances, nil
}

func (s *boltStorage) RemoveInstance(id string) error {
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketInstances)
		if b.Get([]byte(id)) == nil {
			return ErrResourceNotFound{ID: id}
		}
		return b.Delete([]byte(id))
	})
	return wrap("removing instance", err)
}

func (s *boltStorage) CreateReservation(reservation *types.Reservation) error {
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketReservations)
		if b.Get([]byte(reservation.ID)) != nil {
			return ErrDuplicatedResource{ID: reservation.ID}
		}
		return putJSON(b, reservation.ID, reservation)
	})
	return wrap("creating reservation", err)
}

func (s *boltStorage) Reservation(id string) (*types.Reservation, error) {
	var reservation types.Reservation
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketReservations).Get([]byte(id))
		if data == nil {
			return ErrResourceNotFound{ID: id}
		}
		return json.Unmarshal(data, &reservation)
	})
	if err != nil {
		return nil, wrap("reading reservation", err)
	}
	return &reservation, nil
}

func (s *boltStorage) Reservations() ([]*types.Reservation, error) {
	var reservations []*types.Reservation
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketReservations).ForEach(func(k, v []byte) error {
			var reservation types.Reservation
			if err := json.Unmarshal(v, &reservation); err != nil {
				return fmt.Errorf("decoding reservation %s: %w", k, err)
			}
			reservations = append(reservations, &reservation)
			return nil
		})
	})
	if err != nil {
		return nil, wrap("listing reservations", err)
	}
	return reservations, nil
}

func (s *boltStorage) RemoveReservation(id string) error {
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketReservations)
		if b.Get([]byte(id)) == nil {
			return ErrResourceNotFound{ID: id}
		}
		return b.Delete([]byte(id))
	})
	return wrap("removing reservation", err)
}

func (s *boltStorage) Close() error {
	return s.db.Close()
}
