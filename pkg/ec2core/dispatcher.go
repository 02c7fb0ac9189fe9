package ec2core

import (
	"context"
	"fmt"

	"github.com/fiam/ec2core/pkg/ec2core/api"
	"github.com/fiam/ec2core/pkg/ec2core/attributes"
	"github.com/fiam/ec2core/pkg/ec2core/config"
	"github.com/fiam/ec2core/pkg/ec2core/lifecycle"
	"github.com/fiam/ec2core/pkg/ec2core/query"
)

type dispatcher struct {
	cfg        *config.Config
	lifecycle  *lifecycle.Controller
	attributes *attributes.Manager
	query      *query.Engine
}

func newDispatcher(cfg *config.Config, controller *lifecycle.Controller, attrs *attributes.Manager, engine *query.Engine) *dispatcher {
	return &dispatcher{
		cfg:        cfg,
		lifecycle:  controller,
		attributes: attrs,
		query:      engine,
	}
}

func (d *dispatcher) Exec(ctx context.Context, req api.Request) (api.Response, error) {
	if api.IsDryRun(req) {
		return nil, api.DryRunError()
	}
	switch req.Action() {
	case api.ActionRunInstances:
		return d.dispatchRunInstances(ctx, req.(*api.RunInstancesRequest))
	case api.ActionDescribeInstances:
		return d.dispatchDescribeInstances(ctx, req.(*api.DescribeInstancesRequest))
	case api.ActionStopInstances:
		return d.dispatchStopInstances(ctx, req.(*api.StopInstancesRequest))
	case api.ActionStartInstances:
		return d.dispatchStartInstances(ctx, req.(*api.StartInstancesRequest))
	case api.ActionTerminateInstances:
		return d.dispatchTerminateInstances(ctx, req.(*api.TerminateInstancesRequest))
	case api.ActionDescribeInstanceAttribute:
		return d.dispatchDescribeInstanceAttribute(ctx, req.(*api.DescribeInstanceAttributeRequest))
	case api.ActionModifyInstanceAttribute:
		return d.dispatchModifyInstanceAttribute(ctx, req.(*api.ModifyInstanceAttributeRequest))
	case api.ActionResetInstanceAttribute:
		return d.dispatchResetInstanceAttribute(ctx, req.(*api.ResetInstanceAttributeRequest))
	case api.ActionGetPasswordData:
		return d.dispatchGetPasswordData(ctx, req.(*api.GetPasswordDataRequest))
	case api.ActionGetConsoleOutput:
		return d.dispatchGetConsoleOutput(ctx, req.(*api.GetConsoleOutputRequest))
	case api.ActionDescribeVolumes:
		return d.dispatchDescribeVolumes(ctx, req.(*api.DescribeVolumesRequest))
	}
	return nil, api.ErrWithCode(api.ErrorCodeInvalidAction, fmt.Errorf("unhandled action %s", req.Action()))
}
