// Package docker runs each instance as a Docker container.
package docker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/docker/errdefs"
	"github.com/docker/docker/pkg/stdcopy"
	"golang.org/x/sync/errgroup"

	"github.com/fiam/ec2core/pkg/ec2core/executor"
)

const (
	eventBuffer = 256
	// maxParallelOps bounds concurrent calls to the Docker daemon
	maxParallelOps = 8
)

type ExitResourceMode string

const (
	ExitResourceModeCleanup ExitResourceMode = "cleanup"
	ExitResourceModeKeep    ExitResourceMode = "keep"
	ExitResourceModeAssert  ExitResourceMode = "assert"
)

func ParseExitResourceMode(raw string) (ExitResourceMode, error) {
	mode := ExitResourceMode(strings.ToLower(strings.TrimSpace(raw)))
	switch mode {
	case ExitResourceModeCleanup, ExitResourceModeKeep, ExitResourceModeAssert:
		return mode, nil
	case "":
		return ExitResourceModeCleanup, nil
	}
	return "", fmt.Errorf("invalid exit resource mode %q", raw)
}

var _ executor.Executor = (*Executor)(nil)

type Executor struct {
	cli      *client.Client
	logger   *slog.Logger
	network  string
	exitMode ExitResourceMode

	events chan executor.Event
	ops    sync.WaitGroup
	done   chan struct{}
	once   sync.Once
}

type Option func(e *Executor)

// WithNetwork attaches every container to the given network instead of
// the daemon default
func WithNetwork(name string) Option {
	return func(e *Executor) {
		e.network = name
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(e *Executor) {
		e.logger = logger
	}
}

// WithExitResourceMode sets what Close does with the containers it owns
func WithExitResourceMode(mode ExitResourceMode) Option {
	return func(e *Executor) {
		e.exitMode = mode
	}
}

func NewExecutor(ctx context.Context, opts ...Option) (*Executor, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("creating Docker client: %w", err)
	}

	pingContext, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if _, err := cli.Ping(pingContext); err != nil {
		return nil, errors.Join(fmt.Errorf("pinging Docker daemon: %w", err), cli.Close())
	}
	e := &Executor{
		cli:      cli,
		logger:   slog.Default(),
		exitMode: ExitResourceModeCleanup,
		events:   make(chan executor.Event, eventBuffer),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

func (e *Executor) Events() <-chan executor.Event {
	return e.events
}

// CreateInstances pulls the images and creates one container per
// instance. Containers are started in the background; each reports
// EventRunning with its address once started.
func (e *Executor) CreateInstances(ctx context.Context, req executor.CreateInstancesRequest) error {
	refs := make([]string, 0, len(req.Instances))
	for _, spec := range req.Instances {
		if !slices.Contains(refs, spec.ImageRef) {
			refs = append(refs, spec.ImageRef)
		}
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxParallelOps)
	for _, ref := range refs {
		g.Go(func() error {
			return e.pullImage(gctx, ref)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	ids := make([]string, len(req.Instances))
	g, gctx = errgroup.WithContext(ctx)
	g.SetLimit(maxParallelOps)
	for i, spec := range req.Instances {
		g.Go(func() error {
			id, err := e.createContainer(gctx, spec)
			ids[i] = id
			return err
		})
	}
	if err := g.Wait(); err != nil {
		var cleanupErr error
		for _, id := range ids {
			if id == "" {
				continue
			}
			if err := e.cli.ContainerRemove(context.WithoutCancel(ctx), id, container.RemoveOptions{Force: true}); err != nil && !errdefs.IsNotFound(err) {
				cleanupErr = errors.Join(cleanupErr, err)
			}
		}
		return errors.Join(err, cleanupErr)
	}

	for _, spec := range req.Instances {
		e.background(spec.InstanceID, func(ctx context.Context) executor.Event {
			return e.start(ctx, spec.InstanceID)
		})
	}
	return nil
}

// Adopt recreates the containers of instances whose container is gone.
// Recreated containers are not started.
func (e *Executor) Adopt(ctx context.Context, req executor.CreateInstancesRequest) error {
	var adoptErr error
	for _, spec := range req.Instances {
		_, err := e.cli.ContainerInspect(ctx, containerName(spec.InstanceID))
		if err == nil {
			continue
		}
		if !errdefs.IsNotFound(err) {
			adoptErr = errors.Join(adoptErr, fmt.Errorf("retrieving container for %s: %w", spec.InstanceID, err))
			continue
		}
		if err := e.pullImage(ctx, spec.ImageRef); err != nil {
			adoptErr = errors.Join(adoptErr, err)
			continue
		}
		if _, err := e.createContainer(ctx, spec); err != nil {
			adoptErr = errors.Join(adoptErr, err)
		}
	}
	return adoptErr
}

func (e *Executor) createContainer(ctx context.Context, spec executor.InstanceSpec) (string, error) {
	containerConfig := &container.Config{
		Image:    spec.ImageRef,
		Hostname: spec.InstanceID,
		Labels: map[string]string{
			LabelEnabled:      "true",
			LabelInstanceID:   spec.InstanceID,
			LabelImageID:      spec.ImageID,
			LabelInstanceType: spec.InstanceType,
			LabelKeyName:      spec.KeyName,
		},
	}
	if spec.UserData != "" {
		containerConfig.Env = append(containerConfig.Env, "EC2CORE_USER_DATA="+spec.UserData)
	}
	hostConfig := &container.HostConfig{}
	networkingConfig := &network.NetworkingConfig{}
	if e.network != "" {
		hostConfig.NetworkMode = container.NetworkMode(e.network)
		networkingConfig.EndpointsConfig = map[string]*network.EndpointSettings{
			e.network: {},
		}
	}
	cont, err := e.cli.ContainerCreate(ctx, containerConfig, hostConfig, networkingConfig, nil, containerName(spec.InstanceID))
	if err != nil {
		return "", fmt.Errorf("creating container for %s: %w", spec.InstanceID, err)
	}
	return cont.ID, nil
}

func (e *Executor) start(ctx context.Context, instanceID string) executor.Event {
	name := containerName(instanceID)
	if err := e.cli.ContainerStart(ctx, name, container.StartOptions{}); err != nil {
		return failed(instanceID, fmt.Errorf("starting container: %w", err))
	}
	info, err := e.cli.ContainerInspect(ctx, name)
	if err != nil {
		return failed(instanceID, fmt.Errorf("inspecting container: %w", err))
	}
	return executor.Event{
		InstanceID: instanceID,
		Kind:       executor.EventRunning,
		PrivateIP:  containerIP(info, e.network),
	}
}

func failed(instanceID string, err error) executor.Event {
	return executor.Event{InstanceID: instanceID, Kind: executor.EventFailed, Err: err}
}

func (e *Executor) StartInstances(ctx context.Context, req executor.StartInstancesRequest) error {
	if _, err := e.findContainers(ctx, req.InstanceIDs); err != nil {
		return err
	}
	for _, id := range req.InstanceIDs {
		e.background(id, func(ctx context.Context) executor.Event {
			return e.start(ctx, id)
		})
	}
	return nil
}

func (e *Executor) StopInstances(ctx context.Context, req executor.StopInstancesRequest) error {
	if _, err := e.findContainers(ctx, req.InstanceIDs); err != nil {
		return err
	}
	var timeout *int
	if req.Force {
		zero := 0
		timeout = &zero
	}
	for _, id := range req.InstanceIDs {
		e.background(id, func(ctx context.Context) executor.Event {
			if err := e.cli.ContainerStop(ctx, containerName(id), container.StopOptions{Timeout: timeout}); err != nil {
				return failed(id, fmt.Errorf("stopping container: %w", err))
			}
			return executor.Event{InstanceID: id, Kind: executor.EventStopped}
		})
	}
	return nil
}

func (e *Executor) TerminateInstances(ctx context.Context, req executor.TerminateInstancesRequest) error {
	if _, err := e.findContainers(ctx, req.InstanceIDs); err != nil {
		return err
	}
	for _, id := range req.InstanceIDs {
		e.background(id, func(ctx context.Context) executor.Event {
			err := e.cli.ContainerRemove(ctx, containerName(id), container.RemoveOptions{Force: true})
			if err != nil && !errdefs.IsNotFound(err) {
				return failed(id, fmt.Errorf("removing container: %w", err))
			}
			return executor.Event{InstanceID: id, Kind: executor.EventTerminated}
		})
	}
	return nil
}

func (e *Executor) ConsoleOutput(ctx context.Context, instanceID string) (string, error) {
	logs, err := e.cli.ContainerLogs(ctx, containerName(instanceID), container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Timestamps: true,
	})
	if err != nil {
		if errdefs.IsNotFound(err) {
			return "", fmt.Errorf("%w: %s", executor.ErrUnknownInstance, instanceID)
		}
		return "", fmt.Errorf("retrieving logs for %s: %w", instanceID, err)
	}
	defer logs.Close()
	var out bytes.Buffer
	if _, err := stdcopy.StdCopy(&out, &out, logs); err != nil {
		return "", fmt.Errorf("reading logs for %s: %w", instanceID, err)
	}
	return out.String(), nil
}

// background runs op detached from the request and publishes its event
func (e *Executor) background(instanceID string, op func(ctx context.Context) executor.Event) {
	e.ops.Add(1)
	go func() {
		defer e.ops.Done()
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go func() {
			select {
			case <-e.done:
				cancel()
			case <-ctx.Done():
			}
		}()
		ev := op(ctx)
		ev.Time = time.Now()
		if ev.Err != nil {
			e.logger.Warn("container operation failed", slog.String("instance_id", instanceID), slog.Any("error", ev.Err))
		}
		select {
		case e.events <- ev:
		case <-e.done:
		}
	}()
}

func (e *Executor) pullImage(ctx context.Context, imageName string) error {
	e.logger.Debug("pulling image", slog.String("name", imageName))
	pullProgress, err := e.cli.ImagePull(ctx, imageName, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("starting pull for %s: %w", imageName, err)
	}
	if _, err := io.Copy(io.Discard, pullProgress); err != nil {
		pullProgress.Close()
		return fmt.Errorf("pulling %s: %w", imageName, err)
	}
	if err := pullProgress.Close(); err != nil {
		return fmt.Errorf("finalizing pull for %s: %w", imageName, err)
	}
	return nil
}

func (e *Executor) findContainers(ctx context.Context, instanceIDs []string) ([]container.InspectResponse, error) {
	containers := make([]container.InspectResponse, 0, len(instanceIDs))
	// Validate all the instances first
	for _, id := range instanceIDs {
		info, err := e.cli.ContainerInspect(ctx, containerName(id))
		if err != nil {
			if errdefs.IsNotFound(err) {
				return nil, fmt.Errorf("%w: %s", executor.ErrUnknownInstance, id)
			}
			return nil, fmt.Errorf("retrieving container for %s: %w", id, err)
		}
		if !isManagedContainer(info) {
			return nil, fmt.Errorf("%w: %s", executor.ErrUnknownInstance, id)
		}
		containers = append(containers, info)
	}
	return containers, nil
}

func (e *Executor) ownedContainers(ctx context.Context) ([]container.Summary, error) {
	return e.cli.ContainerList(ctx, container.ListOptions{
		All:     true,
		Filters: filters.NewArgs(filters.Arg("label", LabelEnabled+"=true")),
	})
}

// Close waits for in-flight operations and then handles the remaining
// containers according to the exit resource mode
func (e *Executor) Close() error {
	var closeErr error
	e.once.Do(func() {
		close(e.done)
		e.ops.Wait()
		close(e.events)

		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		closeErr = e.exit(ctx)
		closeErr = errors.Join(closeErr, e.cli.Close())
	})
	return closeErr
}

func (e *Executor) exit(ctx context.Context) error {
	if e.exitMode == ExitResourceModeKeep {
		return nil
	}
	containers, err := e.ownedContainers(ctx)
	if err != nil {
		return fmt.Errorf("listing owned containers: %w", err)
	}
	if e.exitMode == ExitResourceModeAssert {
		if len(containers) == 0 {
			return nil
		}
		names := make([]string, 0, len(containers))
		for _, c := range containers {
			names = append(names, c.Labels[LabelInstanceID])
		}
		return fmt.Errorf("owned containers left on exit: [%s]", strings.Join(names, ","))
	}
	var cleanupErr error
	for _, c := range containers {
		if err := e.cli.ContainerRemove(ctx, c.ID, container.RemoveOptions{Force: true}); err != nil && !errdefs.IsNotFound(err) {
			cleanupErr = errors.Join(cleanupErr, fmt.Errorf("removing container %s: %w", c.ID, err))
		}
	}
	if cleanupErr == nil {
		e.logger.Info("removed owned containers", slog.Int("count", len(containers)))
	}
	return cleanupErr
}

// preferredContainerNetwork picks the network whose address identifies
// the container: the first user-defined network in name order, falling
// back to bridge. host and none carry no address.
func preferredContainerNetwork(names []string, excluded string) string {
	candidates := make([]string, 0, len(names))
	hasBridge := false
	for _, name := range names {
		switch name {
		case "host", "none", excluded:
			continue
		case "bridge":
			hasBridge = true
			continue
		}
		candidates = append(candidates, name)
	}
	if len(candidates) > 0 {
		slices.Sort(candidates)
		return candidates[0]
	}
	if hasBridge {
		return "bridge"
	}
	return ""
}

func containerIP(info container.InspectResponse, preferred string) string {
	if info.NetworkSettings == nil {
		return ""
	}
	networks := info.NetworkSettings.Networks
	if settings, ok := networks[preferred]; ok && settings != nil && settings.IPAddress != "" {
		return settings.IPAddress
	}
	names := make([]string, 0, len(networks))
	for name := range networks {
		names = append(names, name)
	}
	selected := preferredContainerNetwork(names, "")
	if settings, ok := networks[selected]; ok && settings != nil {
		return settings.IPAddress
	}
	return ""
}
