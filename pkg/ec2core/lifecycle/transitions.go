package lifecycle

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/fiam/ec2core/pkg/ec2core/api"
	"github.com/fiam/ec2core/pkg/ec2core/executor"
	"github.com/fiam/ec2core/pkg/ec2core/types"
)

// Start moves stopped instances to pending. Instances already pending or
// running are left alone.
func (c *Controller) Start(ctx context.Context, ids []string) ([]StateChange, error) {
	ids = uniqueIDs(ids)
	var changes []StateChange
	var started []string
	_, err := c.registry.UpdateMany(ctx, ids, func(instances []*types.Instance) error {
		for _, instance := range instances {
			switch instance.State {
			case types.InstanceStateStopped, types.InstanceStatePending, types.InstanceStateRunning:
			default:
				return api.IncorrectInstanceStateError(instance.ID, "started")
			}
		}
		changes = make([]StateChange, 0, len(instances))
		started = started[:0]
		for _, instance := range instances {
			change := StateChange{InstanceID: instance.ID, PreviousState: instance.State}
			if instance.State == types.InstanceStateStopped {
				c.setState(instance, types.InstanceStatePending)
				instance.StateTransitionReason = ""
				instance.StateReason = nil
				started = append(started, instance.ID)
			}
			change.CurrentState = instance.State
			changes = append(changes, change)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	c.recordTransitions(ctx, changes)
	if len(started) > 0 {
		if err := c.exe.StartInstances(ctx, executor.StartInstancesRequest{InstanceIDs: started}); err != nil {
			c.revert(ctx, changes)
			return nil, api.InfrastructureError(fmt.Errorf("starting instances: %w", err))
		}
		api.Logger(ctx).Info("starting instances", slog.Any("instance_ids", started))
	}
	return changes, nil
}

// Stop moves running instances to stopping. Every instance must be
// running, otherwise nothing changes.
func (c *Controller) Stop(ctx context.Context, ids []string, force bool) ([]StateChange, error) {
	ids = uniqueIDs(ids)
	var changes []StateChange
	_, err := c.registry.UpdateMany(ctx, ids, func(instances []*types.Instance) error {
		for _, instance := range instances {
			if instance.State != types.InstanceStateRunning {
				return api.IncorrectInstanceStateError(instance.ID, "stopped")
			}
		}
		now := c.now()
		changes = make([]StateChange, 0, len(instances))
		for _, instance := range instances {
			c.setState(instance, types.InstanceStateStopping)
			instance.StateTransitionReason = userInitiatedReason(now)
			instance.StateReason = &types.StateReason{
				Code:    "Client.UserInitiatedShutdown",
				Message: "Client.UserInitiatedShutdown: User initiated shutdown",
			}
			changes = append(changes, StateChange{
				InstanceID:    instance.ID,
				PreviousState: types.InstanceStateRunning,
				CurrentState:  types.InstanceStateStopping,
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	c.recordTransitions(ctx, changes)
	if err := c.exe.StopInstances(ctx, executor.StopInstancesRequest{InstanceIDs: ids, Force: force}); err != nil {
		c.revert(ctx, changes)
		return nil, api.InfrastructureError(fmt.Errorf("stopping instances: %w", err))
	}
	api.Logger(ctx).Info("stopping instances", slog.Any("instance_ids", ids), slog.Bool("force", force))
	return changes, nil
}

// Terminate moves every instance not already on its way out to
// shutting-down. If any instance is protected against termination the
// whole request fails and nothing changes.
func (c *Controller) Terminate(ctx context.Context, ids []string) ([]StateChange, error) {
	ids = uniqueIDs(ids)
	var changes []StateChange
	var terminating []string
	_, err := c.registry.UpdateMany(ctx, ids, func(instances []*types.Instance) error {
		for _, instance := range instances {
			if instance.DisableAPITermination && !leaving(instance.State) {
				return api.OperationNotPermittedError(instance.ID)
			}
		}
		now := c.now()
		changes = make([]StateChange, 0, len(instances))
		terminating = terminating[:0]
		for _, instance := range instances {
			change := StateChange{InstanceID: instance.ID, PreviousState: instance.State}
			if !leaving(instance.State) {
				c.setState(instance, types.InstanceStateShuttingDown)
				instance.StateTransitionReason = userInitiatedReason(now)
				instance.StateReason = &types.StateReason{
					Code:    "Client.UserInitiatedShutdown",
					Message: "Client.UserInitiatedShutdown: User initiated shutdown",
				}
				terminating = append(terminating, instance.ID)
			}
			change.CurrentState = instance.State
			changes = append(changes, change)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	c.recordTransitions(ctx, changes)
	if len(terminating) > 0 {
		if err := c.exe.TerminateInstances(ctx, executor.TerminateInstancesRequest{InstanceIDs: terminating}); err != nil {
			c.revert(ctx, changes)
			return nil, api.InfrastructureError(fmt.Errorf("terminating instances: %w", err))
		}
		api.Logger(ctx).Info("terminating instances", slog.Any("instance_ids", terminating))
	}
	return changes, nil
}

func leaving(state types.InstanceStateName) bool {
	return state == types.InstanceStateShuttingDown || state == types.InstanceStateTerminated
}

// revert puts back the previous state of instances whose transition the
// backend refused
func (c *Controller) revert(ctx context.Context, changes []StateChange) {
	ids := make([]string, 0, len(changes))
	byID := make(map[string]StateChange, len(changes))
	for _, change := range changes {
		if change.PreviousState != change.CurrentState {
			ids = append(ids, change.InstanceID)
			byID[change.InstanceID] = change
		}
	}
	if len(ids) == 0 {
		return
	}
	var reverted []StateChange
	_, err := c.registry.UpdateMany(context.WithoutCancel(ctx), ids, func(instances []*types.Instance) error {
		reverted = reverted[:0]
		for _, instance := range instances {
			change := byID[instance.ID]
			if instance.State != change.CurrentState {
				continue
			}
			c.setState(instance, change.PreviousState)
			instance.StateTransitionReason = ""
			instance.StateReason = nil
			reverted = append(reverted, StateChange{
				InstanceID:    instance.ID,
				PreviousState: change.CurrentState,
				CurrentState:  change.PreviousState,
			})
		}
		return nil
	})
	if err != nil {
		api.Logger(ctx).Error("reverting state after backend failure", slog.Any("instance_ids", ids), slog.Any("error", err))
		return
	}
	c.recordTransitions(ctx, reverted)
}
