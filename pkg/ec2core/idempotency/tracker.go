// Package idempotency maps client tokens to the outcome of the create
// request that first used them.
package idempotency

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/fiam/ec2core/pkg/ec2core/api"
)

const DefaultRetention = 24 * time.Hour

// Params are the request parameters a replay must repeat exactly
type Params struct {
	ImageID          string
	InstanceType     string
	AvailabilityZone string
	MinCount         int
	MaxCount         int
}

// Entry is the committed outcome of a create request
type Entry struct {
	Token         string
	Params        Params
	ReservationID string
	InstanceIDs   []string
	CommittedAt   time.Time
}

// Result is returned by Reserve. When Existing is false the caller owns
// the token and must either Commit or Release it.
type Result struct {
	Existing bool
	Entry    Entry
}

type entry struct {
	params        Params
	done          chan struct{}
	committed     bool
	reservationID string
	instanceIDs   []string
	committedAt   time.Time
}

type Tracker struct {
	mu        sync.Mutex
	entries   map[string]*entry
	retention time.Duration
	now       func() time.Time
}

type Option func(t *Tracker)

// WithRetention sets how long a committed token is remembered
func WithRetention(d time.Duration) Option {
	return func(t *Tracker) {
		t.retention = d
	}
}

// WithClock replaces the time source
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) {
		t.now = now
	}
}

func New(opts ...Option) *Tracker {
	t := &Tracker{
		entries:   make(map[string]*entry),
		retention: DefaultRetention,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *Tracker) expired(e *entry) bool {
	return e.committed && t.now().Sub(e.committedAt) >= t.retention
}

// Reserve claims token for a new create request or returns the outcome
// of the request that already used it. If a request with the same token
// is still in flight, Reserve waits for it to commit or release.
func (t *Tracker) Reserve(ctx context.Context, token string, params Params) (Result, error) {
	if token == "" {
		return Result{}, nil
	}
	for {
		t.mu.Lock()
		e, ok := t.entries[token]
		if ok && t.expired(e) {
			delete(t.entries, token)
			ok = false
		}
		if !ok {
			t.entries[token] = &entry{
				params: params,
				done:   make(chan struct{}),
			}
			t.mu.Unlock()
			return Result{}, nil
		}
		if e.params != params {
			t.mu.Unlock()
			return Result{}, api.IdempotentParameterMismatchError(token)
		}
		if e.committed {
			res := Result{
				Existing: true,
				Entry: Entry{
					Token:         token,
					Params:        e.params,
					ReservationID: e.reservationID,
					InstanceIDs:   slices.Clone(e.instanceIDs),
					CommittedAt:   e.committedAt,
				},
			}
			t.mu.Unlock()
			return res, nil
		}
		done := e.done
		t.mu.Unlock()

		select {
		case <-done:
		case <-ctx.Done():
			return Result{}, ctx.Err()
		}
	}
}

// Commit records the outcome for a token obtained from Reserve
func (t *Tracker) Commit(token string, reservationID string, instanceIDs []string) {
	if token == "" {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[token]
	if !ok || e.committed {
		return
	}
	e.committed = true
	e.reservationID = reservationID
	e.instanceIDs = slices.Clone(instanceIDs)
	e.committedAt = t.now()
	close(e.done)
}

// Restore records a committed entry loaded from persistent storage.
// Entries already past the retention window and tokens already tracked
// are ignored. It reports whether the entry was recorded.
func (t *Tracker) Restore(e Entry) bool {
	if e.Token == "" {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.entries[e.Token]; ok {
		return false
	}
	restored := &entry{
		params:        e.Params,
		done:          make(chan struct{}),
		committed:     true,
		reservationID: e.ReservationID,
		instanceIDs:   slices.Clone(e.InstanceIDs),
		committedAt:   e.CommittedAt,
	}
	close(restored.done)
	if t.expired(restored) {
		return false
	}
	t.entries[e.Token] = restored
	return true
}

// Release forgets a token whose create request failed, so it can be
// reused by a later request.
func (t *Tracker) Release(token string) {
	if token == "" {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[token]
	if !ok || e.committed {
		return
	}
	delete(t.entries, token)
	close(e.done)
}

// Purge drops committed tokens older than the retention window and
// returns how many were removed.
func (t *Tracker) Purge() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	removed := 0
	for token, e := range t.entries {
		if t.expired(e) {
			delete(t.entries, token)
			removed++
		}
	}
	return removed
}

// Len returns the number of tracked tokens, pending ones included
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}
