// Package executor defines the contract between the lifecycle controller
// and the compute backend that actually runs instances.
package executor

import (
	"context"
	"errors"
	"time"
)

var ErrUnknownInstance = errors.New("unknown instance")

type EventKind int

const (
	EventRunning EventKind = iota + 1
	EventStopped
	EventTerminated
	EventFailed
)

func (k EventKind) String() string {
	switch k {
	case EventRunning:
		return "running"
	case EventStopped:
		return "stopped"
	case EventTerminated:
		return "terminated"
	case EventFailed:
		return "failed"
	}
	return "unknown"
}

// Event reports that the backend finished a transition it previously
// accepted. Events arrive in no particular order.
type Event struct {
	InstanceID string
	Kind       EventKind
	// PrivateIP is the address the backend assigned, when it assigns
	// its own
	PrivateIP string
	Time      time.Time
	Err       error
}

type InstanceSpec struct {
	InstanceID   string
	ImageID      string
	ImageRef     string
	InstanceType string
	KeyName      string
	UserData     string
	PrivateIP    string
}

type CreateInstancesRequest struct {
	Instances []InstanceSpec
}

type StartInstancesRequest struct {
	InstanceIDs []string
}

type StopInstancesRequest struct {
	InstanceIDs []string
	Force       bool
}

type TerminateInstancesRequest struct {
	InstanceIDs []string
}

// Executor calls return once the backend accepted the request. Completion
// is reported asynchronously through Events.
type Executor interface {
	CreateInstances(ctx context.Context, req CreateInstancesRequest) error
	// Adopt makes the backend aware of instances created by a previous
	// process without reporting any transition for them
	Adopt(ctx context.Context, req CreateInstancesRequest) error
	StartInstances(ctx context.Context, req StartInstancesRequest) error
	StopInstances(ctx context.Context, req StopInstancesRequest) error
	TerminateInstances(ctx context.Context, req TerminateInstancesRequest) error
	ConsoleOutput(ctx context.Context, instanceID string) (string, error)
	Events() <-chan Event
	Close() error
}
