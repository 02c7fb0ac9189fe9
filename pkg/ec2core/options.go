package ec2core

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/fiam/ec2core/pkg/ec2core/config"
	"github.com/fiam/ec2core/pkg/ec2core/docker"
	"github.com/fiam/ec2core/pkg/ec2core/executor"
	"github.com/fiam/ec2core/pkg/ec2core/metrics"
	"github.com/fiam/ec2core/pkg/ec2core/storage"
)

type options struct {
	Config *config.Config
	// Region, Backend, InstanceNetwork and ExitResourceMode override the
	// corresponding Config fields when set
	Region           string
	Backend          string
	InstanceNetwork  string
	ExitResourceMode docker.ExitResourceMode
	Logger           *slog.Logger
	Executor         executor.Executor
	Storage          storage.Storage
	Metrics          *metrics.Metrics
}

func defaultOptions() options {
	return options{
		Config: config.Default(),
		Logger: slog.Default(),
	}
}

type Option func(opt *options)

// WithConfig replaces the default configuration
func WithConfig(cfg *config.Config) Option {
	return func(opt *options) {
		opt.Config = cfg
	}
}

// WithRegion overrides the configured region. Availability zones outside
// the region are replaced by its a, b and c zones.
func WithRegion(region string) Option {
	return func(opt *options) {
		opt.Region = region
	}
}

// WithBackend selects the compute backend, either config.BackendSim or
// config.BackendDocker
func WithBackend(backend string) Option {
	return func(opt *options) {
		opt.Backend = backend
	}
}

// WithInstanceNetwork sets the docker network instance containers join.
// When empty, the current container network is detected (when running in
// Docker) and otherwise Docker's default bridge network is used.
func WithInstanceNetwork(name string) Option {
	return func(opt *options) {
		opt.InstanceNetwork = name
	}
}

// WithExitResourceMode sets what happens to docker containers on shutdown
func WithExitResourceMode(mode docker.ExitResourceMode) Option {
	return func(opt *options) {
		opt.ExitResourceMode = mode
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(opt *options) {
		opt.Logger = logger
	}
}

// WithExecutor uses exe instead of building the configured backend. The
// server takes ownership of exe and closes it on shutdown.
func WithExecutor(exe executor.Executor) Option {
	return func(opt *options) {
		opt.Executor = exe
	}
}

// WithStorage uses store instead of the configured storage backend. The
// server closes it on shutdown.
func WithStorage(store storage.Storage) Option {
	return func(opt *options) {
		opt.Storage = store
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(opt *options) {
		opt.Metrics = m
	}
}

// effectiveConfig returns a validated copy of the configuration with the
// overrides applied
func (o options) effectiveConfig() (*config.Config, error) {
	cfg := *o.Config
	cfg.AvailabilityZones = append([]string(nil), o.Config.AvailabilityZones...)
	if region := strings.TrimSpace(o.Region); region != "" && region != cfg.Region {
		cfg.Region = region
		zones := cfg.AvailabilityZones[:0]
		for _, zone := range cfg.AvailabilityZones {
			if strings.HasPrefix(zone, region) {
				zones = append(zones, zone)
			}
		}
		if len(zones) == 0 {
			zones = []string{region + "a", region + "b", region + "c"}
		}
		cfg.AvailabilityZones = zones
	}
	if o.Backend != "" {
		cfg.Backend = o.Backend
	}
	if o.InstanceNetwork != "" {
		cfg.Docker.Network = o.InstanceNetwork
	}
	if o.ExitResourceMode != "" {
		cfg.Docker.ExitResourceMode = string(o.ExitResourceMode)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}
