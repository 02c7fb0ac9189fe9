package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/fiam/ec2core/pkg/ec2core/api"
	"github.com/fiam/ec2core/pkg/ec2core/executor"
	"github.com/fiam/ec2core/pkg/ec2core/idempotency"
	"github.com/fiam/ec2core/pkg/ec2core/types"
)

var errStaleEvent = errors.New("stale event")

// Run applies backend events and periodically purges expired records
// until ctx is cancelled or the backend closes its event channel.
func (c *Controller) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	runCtx, stop := context.WithCancel(gctx)
	defer stop()
	g.Go(func() error {
		defer stop()
		for {
			select {
			case <-runCtx.Done():
				return nil
			case ev, ok := <-c.exe.Events():
				if !ok {
					return nil
				}
				c.HandleEvent(runCtx, ev)
			}
		}
	})
	g.Go(func() error {
		ticker := time.NewTicker(c.reaperInterval)
		defer ticker.Stop()
		for {
			select {
			case <-runCtx.Done():
				return nil
			case <-ticker.C:
				c.Reap(runCtx)
			}
		}
	})
	return g.Wait()
}

// release lists what a committed transition gave back
type release struct {
	addresses    []string
	public       []string
	capacityType string
	terminated   bool
}

// HandleEvent applies a single backend event. Events that do not match
// the state the instance is waiting in are dropped.
func (c *Controller) HandleEvent(ctx context.Context, ev executor.Event) {
	logger := c.logger.With(slog.String("instance_id", ev.InstanceID), slog.String("event", ev.Kind.String()))
	var rel release
	var allocated string
	var from, to types.InstanceStateName
	_, err := c.registry.Update(ctx, ev.InstanceID, func(instance *types.Instance) error {
		rel = release{}
		from = instance.State
		switch ev.Kind {
		case executor.EventRunning:
			if instance.State != types.InstanceStatePending {
				return errStaleEvent
			}
			if ev.PrivateIP != "" && ev.PrivateIP != instance.PrivateIP {
				rel.addresses = append(rel.addresses, instance.PrivateIP)
				instance.PrivateIP = ev.PrivateIP
				instance.PrivateDNSName = privateDNSName(c.settings.Region, ev.PrivateIP)
			}
			if c.public != nil && instance.PublicIP == "" && allocated == "" {
				addr, err := c.public.Allocate()
				if err != nil {
					logger.Warn("no public address available", slog.Any("error", err))
				} else {
					allocated = addr
				}
			}
			if allocated != "" {
				instance.PublicIP = allocated
				instance.PublicDNSName = publicDNSName(c.settings.Region, allocated)
			}
			to = types.InstanceStateRunning
		case executor.EventStopped:
			if instance.State != types.InstanceStateStopping {
				return errStaleEvent
			}
			rel.public = append(rel.public, instance.PublicIP)
			instance.PublicIP = ""
			instance.PublicDNSName = ""
			to = types.InstanceStateStopped
		case executor.EventTerminated:
			if instance.State != types.InstanceStateShuttingDown {
				return errStaleEvent
			}
			c.terminate(instance, &rel)
			to = types.InstanceStateTerminated
		case executor.EventFailed:
			if instance.State != types.InstanceStatePending && instance.State != types.InstanceStateShuttingDown {
				logger.Warn("backend operation failed", slog.Any("error", ev.Err))
				return errStaleEvent
			}
			c.terminate(instance, &rel)
			message := "Server.InternalError: Internal error on launch"
			if ev.Err != nil {
				message = "Server.InternalError: " + ev.Err.Error()
			}
			instance.StateReason = &types.StateReason{Code: "Server.InternalError", Message: message}
			instance.StateTransitionReason = fmt.Sprintf("Server.InternalError (%s)", c.now().UTC().Format("2006-01-02 15:04:05 GMT"))
			to = types.InstanceStateTerminated
		default:
			return fmt.Errorf("unknown event kind %d", ev.Kind)
		}
		if !canTransition(instance.State, to) {
			return errStaleEvent
		}
		c.setState(instance, to)
		return nil
	})
	if err != nil {
		if allocated != "" {
			c.public.Release(allocated)
		}
		switch {
		case errors.Is(err, errStaleEvent):
			logger.Debug("dropping stale event")
		case api.IsCode(err, api.ErrorCodeInstanceNotFound):
			logger.Debug("dropping event for unknown instance")
		default:
			logger.Error("applying event", slog.Any("error", err))
		}
		return
	}
	c.metrics.Transition(ctx, string(from), string(to))
	c.private.Release(rel.addresses...)
	if c.public != nil {
		c.public.Release(rel.public...)
	}
	if rel.terminated {
		c.capacity.Release(rel.capacityType, 1)
		c.metrics.InstancesChanged(ctx, -1)
		if c.terminatedRetention == 0 {
			c.purge(ctx, ev.InstanceID)
		}
	}
	logger.Debug("instance transitioned", slog.String("from", string(from)), slog.String("to", string(to)))
}

// terminate clears everything a terminated instance gives back
func (c *Controller) terminate(instance *types.Instance, rel *release) {
	rel.terminated = true
	rel.capacityType = instance.InstanceType
	rel.addresses = append(rel.addresses, instance.PrivateIP)
	rel.public = append(rel.public, instance.PublicIP)
	now := c.now().UTC()
	instance.TerminatedAt = &now
	instance.PrivateIP = ""
	instance.PrivateDNSName = ""
	instance.PublicIP = ""
	instance.PublicDNSName = ""
	kept := instance.BlockDeviceMappings[:0]
	for _, m := range instance.BlockDeviceMappings {
		if m.DeleteOnTermination {
			continue
		}
		m.Status = types.AttachmentStatusDetached
		kept = append(kept, m)
	}
	instance.BlockDeviceMappings = kept
}

// purge removes a terminated instance and, once it has no instances
// left, its reservation
func (c *Controller) purge(ctx context.Context, instanceID string) {
	instance, err := c.registry.Get(ctx, instanceID)
	if err != nil {
		return
	}
	if err := c.registry.Remove(ctx, instanceID); err != nil {
		c.logger.Warn("purging terminated instance", slog.String("instance_id", instanceID), slog.Any("error", err))
		return
	}
	remaining, err := c.registry.List(ctx, func(other *types.Instance) bool {
		return other.ReservationID == instance.ReservationID
	})
	if err == nil && len(remaining) == 0 {
		if err := c.registry.RemoveReservation(ctx, instance.ReservationID); err != nil {
			c.logger.Warn("purging reservation", slog.String("reservation_id", instance.ReservationID), slog.Any("error", err))
		}
	}
}

// Reap removes terminated instances older than the retention window and
// expired client tokens. It returns the number of instances removed.
func (c *Controller) Reap(ctx context.Context) int {
	tokens := c.tracker.Purge()
	now := c.now()
	expired, err := c.registry.List(ctx, func(instance *types.Instance) bool {
		return instance.State == types.InstanceStateTerminated &&
			instance.TerminatedAt != nil &&
			now.Sub(*instance.TerminatedAt) >= c.terminatedRetention
	})
	if err != nil {
		c.logger.Warn("listing terminated instances", slog.Any("error", err))
		return 0
	}
	for _, instance := range expired {
		c.purge(ctx, instance.ID)
	}
	if len(expired) > 0 || tokens > 0 {
		c.logger.Debug("reaped expired records", slog.Int("instances", len(expired)), slog.Int("client_tokens", tokens))
	}
	return len(expired)
}

// restoreTokens binds the client tokens of stored reservations to them
// again, so retries after a restart replay instead of launching anew.
func (c *Controller) restoreTokens(ctx context.Context) error {
	reservations, err := c.registry.Reservations(ctx)
	if err != nil {
		return err
	}
	restored := 0
	for _, r := range reservations {
		if r.ClientToken == "" {
			continue
		}
		if c.tracker.Restore(idempotency.Entry{
			Token:         r.ClientToken,
			Params:        idempotency.Params(r.Params),
			ReservationID: r.ID,
			InstanceIDs:   r.InstanceIDs,
			CommittedAt:   r.CreatedAt,
		}) {
			restored++
		}
	}
	if restored > 0 {
		c.logger.Info("restored client tokens", slog.Int("count", restored))
	}
	return nil
}

// Restore reclaims the addresses and capacity of the instances found in
// the registry, hands them to the backend and resumes the transitions
// that were in flight.
func (c *Controller) Restore(ctx context.Context) error {
	if err := c.restoreTokens(ctx); err != nil {
		return err
	}
	instances, err := c.registry.List(ctx, func(instance *types.Instance) bool {
		return instance.State != types.InstanceStateTerminated
	})
	if err != nil {
		return err
	}
	if len(instances) == 0 {
		return nil
	}
	specs := make([]executor.InstanceSpec, 0, len(instances))
	resume := make(map[types.InstanceStateName][]string)
	for _, instance := range instances {
		c.private.Reserve(instance.PrivateIP)
		if c.public != nil && instance.PublicIP != "" {
			c.public.Reserve(instance.PublicIP)
		}
		c.capacity.Reserve(instance.InstanceType, 1)
		image, _ := c.catalog.Image(instance.ImageID)
		specs = append(specs, instanceSpec(instance, image))
		resume[instance.State] = append(resume[instance.State], instance.ID)
	}
	c.metrics.InstancesChanged(ctx, int64(len(instances)))
	if err := c.exe.Adopt(ctx, executor.CreateInstancesRequest{Instances: specs}); err != nil {
		return fmt.Errorf("adopting instances: %w", err)
	}
	var resumeErr error
	if ids := resume[types.InstanceStatePending]; len(ids) > 0 {
		resumeErr = errors.Join(resumeErr, c.exe.StartInstances(ctx, executor.StartInstancesRequest{InstanceIDs: ids}))
	}
	if ids := resume[types.InstanceStateStopping]; len(ids) > 0 {
		resumeErr = errors.Join(resumeErr, c.exe.StopInstances(ctx, executor.StopInstancesRequest{InstanceIDs: ids}))
	}
	if ids := resume[types.InstanceStateShuttingDown]; len(ids) > 0 {
		resumeErr = errors.Join(resumeErr, c.exe.TerminateInstances(ctx, executor.TerminateInstancesRequest{InstanceIDs: ids}))
	}
	if resumeErr != nil {
		return fmt.Errorf("resuming transitions: %w", resumeErr)
	}
	c.logger.Info("restored instances", slog.Int("count", len(instances)))
	return nil
}
