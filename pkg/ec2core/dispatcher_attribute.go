package ec2core

import (
	"context"

	"github.com/fiam/ec2core/pkg/ec2core/api"
	"github.com/fiam/ec2core/pkg/ec2core/attributes"
	"github.com/fiam/ec2core/pkg/ec2core/types"
)

func (d *dispatcher) dispatchDescribeInstanceAttribute(ctx context.Context, req *api.DescribeInstanceAttributeRequest) (*api.DescribeInstanceAttributeResponse, error) {
	v, err := d.attributes.Describe(ctx, req.InstanceID, req.Attribute)
	if err != nil {
		return nil, err
	}
	resp := &api.DescribeInstanceAttributeResponse{InstanceID: req.InstanceID}
	str := func() *api.AttributeValue {
		if v.String == nil {
			return &api.AttributeValue{}
		}
		return &api.AttributeValue{Value: *v.String}
	}
	switch v.Name {
	case types.AttributeDisableAPITermination:
		resp.DisableAPITermination = &api.AttributeBooleanValue{Value: v.Bool != nil && *v.Bool}
	case types.AttributeInstanceType:
		resp.InstanceType = str()
	case types.AttributeKernel:
		resp.Kernel = str()
	case types.AttributeRamdisk:
		resp.Ramdisk = str()
	case types.AttributeRootDeviceName:
		resp.RootDeviceName = str()
	case types.AttributeUserData:
		resp.UserData = str()
	case types.AttributeBlockDeviceMapping:
		mappings := apiBlockDeviceMappings(v.BlockDeviceMappings)
		resp.BlockDeviceMappings = &mappings
	case types.AttributeGroupSet:
		groups := apiGroups(v.Groups)
		resp.GroupSet = &groups
	}
	return resp, nil
}

// modifyRequest splits the wire request into the named Attribute/Value
// form and the structured per-attribute arguments
func modifyRequest(req *api.ModifyInstanceAttributeRequest) attributes.ModifyRequest {
	out := attributes.ModifyRequest{
		Attribute: req.Attribute,
		Value:     req.Value,
	}
	scalar := []struct {
		name types.AttributeName
		arg  *api.AttributeValueArgument
	}{
		{name: types.AttributeDisableAPITermination, arg: req.DisableAPITermination},
		{name: types.AttributeInstanceType, arg: req.InstanceType},
		{name: types.AttributeKernel, arg: req.Kernel},
		{name: types.AttributeRamdisk, arg: req.Ramdisk},
		{name: types.AttributeUserData, arg: req.UserData},
	}
	for _, s := range scalar {
		if s.arg != nil {
			out.Structured = append(out.Structured, attributes.Argument{Name: s.name, Value: s.arg.Value})
		}
	}
	if len(req.GroupIDs) > 0 {
		out.Structured = append(out.Structured, attributes.Argument{Name: types.AttributeGroupSet, Values: req.GroupIDs})
	}
	if len(req.BlockDeviceMappings) > 0 {
		devices := make([]string, len(req.BlockDeviceMappings))
		for i, m := range req.BlockDeviceMappings {
			devices[i] = m.DeviceName
		}
		out.Structured = append(out.Structured, attributes.Argument{Name: types.AttributeBlockDeviceMapping, Values: devices})
	}
	return out
}

func (d *dispatcher) dispatchModifyInstanceAttribute(ctx context.Context, req *api.ModifyInstanceAttributeRequest) (*api.ModifyInstanceAttributeResponse, error) {
	if _, err := d.attributes.Modify(ctx, req.InstanceID, modifyRequest(req)); err != nil {
		return nil, err
	}
	return &api.ModifyInstanceAttributeResponse{Return: true}, nil
}

func (d *dispatcher) dispatchResetInstanceAttribute(ctx context.Context, req *api.ResetInstanceAttributeRequest) (*api.ResetInstanceAttributeResponse, error) {
	if err := d.attributes.Reset(ctx, req.InstanceID, req.Attribute); err != nil {
		return nil, err
	}
	return &api.ResetInstanceAttributeResponse{Return: true}, nil
}
