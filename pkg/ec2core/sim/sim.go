// Package sim implements an in-process compute backend. Instances exist
// only as timers that report completed transitions after the delays set
// by the transition profile.
package sim

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/fiam/ec2core/pkg/ec2core/executor"
	"github.com/fiam/ec2core/pkg/ec2core/profile"
)

const eventBuffer = 256

var _ executor.Executor = (*Executor)(nil)

type instance struct {
	spec    executor.InstanceSpec
	console strings.Builder
	// generation invalidates timers armed for earlier transitions
	generation int
}

type Executor struct {
	profile *profile.Profile
	now     func() time.Time

	mu        sync.Mutex
	instances map[string]*instance
	closed    bool
	timers    sync.WaitGroup
	events    chan executor.Event
	done      chan struct{}
}

type Option func(e *Executor)

// WithProfile sets the transition profile used for delays and failures
func WithProfile(p *profile.Profile) Option {
	return func(e *Executor) {
		e.profile = p
	}
}

func WithClock(now func() time.Time) Option {
	return func(e *Executor) {
		e.now = now
	}
}

func New(opts ...Option) *Executor {
	e := &Executor{
		now:       time.Now,
		instances: make(map[string]*instance),
		events:    make(chan executor.Event, eventBuffer),
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Executor) Events() <-chan executor.Event {
	return e.events
}

func (e *Executor) matchInput(action string, spec executor.InstanceSpec) profile.MatchInput {
	return profile.MatchInput{
		Action:       action,
		InstanceType: spec.InstanceType,
		ImageID:      spec.ImageID,
	}
}

func (e *Executor) CreateInstances(ctx context.Context, req executor.CreateInstancesRequest) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return errors.New("executor is closed")
	}
	for _, spec := range req.Instances {
		if _, ok := e.instances[spec.InstanceID]; ok {
			return fmt.Errorf("instance %s already exists", spec.InstanceID)
		}
	}
	for _, spec := range req.Instances {
		inst := &instance{spec: spec}
		e.instances[spec.InstanceID] = inst
		in := e.matchInput("RunInstances", spec)
		kind := executor.EventRunning
		var err error
		if e.profile.FailBoot(in) {
			kind = executor.EventFailed
			err = errors.New("instance failed to boot")
		}
		e.bootLocked(inst, in, kind, err)
	}
	return nil
}

func (e *Executor) Adopt(ctx context.Context, req executor.CreateInstancesRequest) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return errors.New("executor is closed")
	}
	for _, spec := range req.Instances {
		if _, ok := e.instances[spec.InstanceID]; !ok {
			e.instances[spec.InstanceID] = &instance{spec: spec}
		}
	}
	return nil
}

func (e *Executor) bootLocked(inst *instance, in profile.MatchInput, kind executor.EventKind, err error) {
	fmt.Fprintf(&inst.console, "[%s] booting %s (%s)\n", e.now().UTC().Format(time.RFC3339), inst.spec.InstanceID, inst.spec.ImageID)
	e.scheduleLocked(inst, e.profile.Delay(profile.PhaseBoot, in), executor.Event{
		InstanceID: inst.spec.InstanceID,
		Kind:       kind,
		PrivateIP:  inst.spec.PrivateIP,
		Err:        err,
	})
}

func (e *Executor) StartInstances(ctx context.Context, req executor.StartInstancesRequest) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	instances, err := e.lookupLocked(req.InstanceIDs)
	if err != nil {
		return err
	}
	for _, inst := range instances {
		e.bootLocked(inst, e.matchInput("StartInstances", inst.spec), executor.EventRunning, nil)
	}
	return nil
}

func (e *Executor) StopInstances(ctx context.Context, req executor.StopInstancesRequest) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	instances, err := e.lookupLocked(req.InstanceIDs)
	if err != nil {
		return err
	}
	for _, inst := range instances {
		delay := e.profile.Delay(profile.PhaseStop, e.matchInput("StopInstances", inst.spec))
		if req.Force {
			delay = 0
		}
		fmt.Fprintf(&inst.console, "[%s] stopping %s\n", e.now().UTC().Format(time.RFC3339), inst.spec.InstanceID)
		e.scheduleLocked(inst, delay, executor.Event{InstanceID: inst.spec.InstanceID, Kind: executor.EventStopped})
	}
	return nil
}

func (e *Executor) TerminateInstances(ctx context.Context, req executor.TerminateInstancesRequest) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	instances, err := e.lookupLocked(req.InstanceIDs)
	if err != nil {
		return err
	}
	for _, inst := range instances {
		delay := e.profile.Delay(profile.PhaseShutdown, e.matchInput("TerminateInstances", inst.spec))
		fmt.Fprintf(&inst.console, "[%s] shutting down %s\n", e.now().UTC().Format(time.RFC3339), inst.spec.InstanceID)
		e.scheduleLocked(inst, delay, executor.Event{InstanceID: inst.spec.InstanceID, Kind: executor.EventTerminated})
	}
	return nil
}

func (e *Executor) ConsoleOutput(ctx context.Context, instanceID string) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	inst, ok := e.instances[instanceID]
	if !ok {
		return "", fmt.Errorf("%w: %s", executor.ErrUnknownInstance, instanceID)
	}
	return inst.console.String(), nil
}

func (e *Executor) lookupLocked(ids []string) ([]*instance, error) {
	if e.closed {
		return nil, errors.New("executor is closed")
	}
	instances := make([]*instance, 0, len(ids))
	for _, id := range ids {
		inst, ok := e.instances[id]
		if !ok {
			return nil, fmt.Errorf("%w: %s", executor.ErrUnknownInstance, id)
		}
		instances = append(instances, inst)
	}
	return instances, nil
}

// scheduleLocked arms a timer that emits ev after delay, unless a later
// transition supersedes it first
func (e *Executor) scheduleLocked(inst *instance, delay time.Duration, ev executor.Event) {
	inst.generation++
	generation := inst.generation
	e.timers.Add(1)
	go func() {
		defer e.timers.Done()
		if delay > 0 {
			timer := time.NewTimer(delay)
			defer timer.Stop()
			select {
			case <-timer.C:
			case <-e.done:
				return
			}
		}
		e.mu.Lock()
		if inst.generation != generation || e.closed {
			e.mu.Unlock()
			return
		}
		if ev.Kind == executor.EventTerminated || ev.Kind == executor.EventFailed {
			delete(e.instances, ev.InstanceID)
		}
		e.mu.Unlock()

		ev.Time = e.now()
		select {
		case e.events <- ev:
		case <-e.done:
		}
	}()
}

// Close stops every pending timer and closes the event channel
func (e *Executor) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	close(e.done)
	e.mu.Unlock()
	e.timers.Wait()
	close(e.events)
	return nil
}
