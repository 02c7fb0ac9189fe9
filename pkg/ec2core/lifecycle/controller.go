// Package lifecycle drives instances through their state machine. It
// validates every request against the current records, commits the
// accepted transitions to the registry and applies the completion events
// reported by the compute backend.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/fiam/ec2core/pkg/ec2core/config"
	"github.com/fiam/ec2core/pkg/ec2core/executor"
	"github.com/fiam/ec2core/pkg/ec2core/idempotency"
	"github.com/fiam/ec2core/pkg/ec2core/metrics"
	"github.com/fiam/ec2core/pkg/ec2core/registry"
	"github.com/fiam/ec2core/pkg/ec2core/types"
)

const (
	DefaultTerminatedRetention = time.Hour
	DefaultReaperInterval      = 30 * time.Second
)

// Catalog resolves the images and security groups instances refer to
type Catalog interface {
	Image(id string) (config.Image, bool)
	SecurityGroup(id string) (types.SecurityGroup, bool)
	SecurityGroupByName(name string) (types.SecurityGroup, bool)
}

// Settings are the static parameters of a controller
type Settings struct {
	Region              string
	OwnerID             string
	AvailabilityZones   []string
	DefaultInstanceType string
	Capacity            config.Capacity
	PrivateCIDR         string
	// PublicCIDR is optional. Without it instances get no public address.
	PublicCIDR string
}

type Controller struct {
	registry *registry.Registry
	tracker  *idempotency.Tracker
	catalog  Catalog
	exe      executor.Executor
	metrics  *metrics.Metrics
	logger   *slog.Logger
	now      func() time.Time

	settings            Settings
	capacity            *capacityPool
	private             *addressPool
	public              *addressPool
	terminatedRetention time.Duration
	reaperInterval      time.Duration
}

type Option func(c *Controller)

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Controller) {
		c.metrics = m
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Controller) {
		c.logger = logger
	}
}

func WithClock(now func() time.Time) Option {
	return func(c *Controller) {
		c.now = now
	}
}

// WithTerminatedRetention sets how long terminated instances stay
// describable. Zero removes them as soon as they terminate.
func WithTerminatedRetention(d time.Duration) Option {
	return func(c *Controller) {
		c.terminatedRetention = d
	}
}

func WithReaperInterval(d time.Duration) Option {
	return func(c *Controller) {
		c.reaperInterval = d
	}
}

func New(settings Settings, reg *registry.Registry, tracker *idempotency.Tracker, catalog Catalog, exe executor.Executor, opts ...Option) (*Controller, error) {
	if len(settings.AvailabilityZones) == 0 {
		return nil, errors.New("at least one availability zone is required")
	}
	private, err := newAddressPool(settings.PrivateCIDR)
	if err != nil {
		return nil, fmt.Errorf("private address pool: %w", err)
	}
	var public *addressPool
	if settings.PublicCIDR != "" {
		public, err = newAddressPool(settings.PublicCIDR)
		if err != nil {
			return nil, fmt.Errorf("public address pool: %w", err)
		}
	}
	c := &Controller{
		registry:            reg,
		tracker:             tracker,
		catalog:             catalog,
		exe:                 exe,
		logger:              slog.Default(),
		now:                 time.Now,
		settings:            settings,
		capacity:            newCapacityPool(settings.Capacity.Total, settings.Capacity.PerType),
		private:             private,
		public:              public,
		terminatedRetention: DefaultTerminatedRetention,
		reaperInterval:      DefaultReaperInterval,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// transitions lists the states each state may move to
var transitions = map[types.InstanceStateName][]types.InstanceStateName{
	types.InstanceStatePending:      {types.InstanceStateRunning, types.InstanceStateShuttingDown, types.InstanceStateTerminated},
	types.InstanceStateRunning:      {types.InstanceStateStopping, types.InstanceStateShuttingDown},
	types.InstanceStateStopping:     {types.InstanceStateStopped, types.InstanceStateShuttingDown},
	types.InstanceStateStopped:      {types.InstanceStatePending, types.InstanceStateShuttingDown},
	types.InstanceStateShuttingDown: {types.InstanceStateTerminated},
}

func canTransition(from types.InstanceStateName, to types.InstanceStateName) bool {
	return slices.Contains(transitions[from], to)
}

// setState moves instance to state. Callers record the transition with
// recordTransitions once the change is committed.
func (c *Controller) setState(instance *types.Instance, state types.InstanceStateName) {
	instance.State = state
}

// recordTransitions counts the committed changes that moved an instance
func (c *Controller) recordTransitions(ctx context.Context, changes []StateChange) {
	for _, change := range changes {
		if change.PreviousState != change.CurrentState {
			c.metrics.Transition(ctx, string(change.PreviousState), string(change.CurrentState))
		}
	}
}

// StateChange is the previous and current state of an instance affected
// by a start, stop or terminate request
type StateChange struct {
	InstanceID    string
	PreviousState types.InstanceStateName
	CurrentState  types.InstanceStateName
}

func userInitiatedReason(t time.Time) string {
	return fmt.Sprintf("User initiated (%s)", t.UTC().Format("2006-01-02 15:04:05 GMT"))
}

func uniqueIDs(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}
