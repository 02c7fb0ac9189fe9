package ec2core

import (
	"context"

	"github.com/fiam/ec2core/pkg/ec2core/api"
	"github.com/fiam/ec2core/pkg/ec2core/lifecycle"
	"github.com/fiam/ec2core/pkg/ec2core/types"
)

const (
	tenancyDefault     = "default"
	monitoringDisabled = "disabled"
)

func (d *dispatcher) dispatchRunInstances(ctx context.Context, req *api.RunInstancesRequest) (*api.RunInstancesResponse, error) {
	create := lifecycle.CreateRequest{
		ClientToken:           req.ClientToken,
		ImageID:               req.ImageID,
		InstanceType:          req.InstanceType,
		KernelID:              req.KernelID,
		RamdiskID:             req.RamdiskID,
		KeyName:               req.KeyName,
		UserData:              req.UserData,
		MinCount:              req.MinCount,
		MaxCount:              req.MaxCount,
		DisableAPITermination: req.DisableAPITermination,
		SecurityGroupIDs:      req.SecurityGroupIDs,
		SecurityGroupNames:    req.SecurityGroups,
	}
	if req.Placement != nil {
		create.AvailabilityZone = req.Placement.AvailabilityZone
	}
	for _, m := range req.BlockDeviceMappings {
		bd := lifecycle.BlockDeviceRequest{DeviceName: m.DeviceName}
		if m.EBS != nil {
			bd.VolumeSize = m.EBS.VolumeSize
			bd.VolumeType = string(m.EBS.VolumeType)
			bd.DeleteOnTermination = m.EBS.DeleteOnTermination
		}
		create.BlockDeviceMappings = append(create.BlockDeviceMappings, bd)
	}
	res, err := d.lifecycle.Create(ctx, create)
	if err != nil {
		return nil, err
	}
	instances := apiInstances(res.Instances)
	return &api.RunInstancesResponse{
		ReservationID: res.Reservation.ID,
		OwnerID:       res.Reservation.OwnerID,
		GroupSet:      reservationGroups(res.Instances),
		InstancesSet:  instances,
	}, nil
}

func (d *dispatcher) dispatchDescribeInstances(ctx context.Context, req *api.DescribeInstancesRequest) (*api.DescribeInstancesResponse, error) {
	views, err := d.query.Describe(ctx, req.InstanceIDs, req.Filters)
	if err != nil {
		return nil, err
	}
	reservations := make([]api.Reservation, 0, len(views))
	for _, view := range views {
		reservations = append(reservations, api.Reservation{
			ReservationID: view.ReservationID,
			OwnerID:       view.OwnerID,
			GroupSet:      reservationGroups(view.Instances),
			InstancesSet:  apiInstances(view.Instances),
		})
	}
	return &api.DescribeInstancesResponse{
		ReservationSet: reservations,
	}, nil
}

func (d *dispatcher) dispatchStopInstances(ctx context.Context, req *api.StopInstancesRequest) (*api.StopInstancesResponse, error) {
	changes, err := d.lifecycle.Stop(ctx, req.InstanceIDs, req.Force)
	if err != nil {
		return nil, err
	}
	return &api.StopInstancesResponse{
		StoppingInstances: apiStateChanges(changes),
	}, nil
}

func (d *dispatcher) dispatchStartInstances(ctx context.Context, req *api.StartInstancesRequest) (*api.StartInstancesResponse, error) {
	changes, err := d.lifecycle.Start(ctx, req.InstanceIDs)
	if err != nil {
		return nil, err
	}
	return &api.StartInstancesResponse{
		StartingInstances: apiStateChanges(changes),
	}, nil
}

func (d *dispatcher) dispatchTerminateInstances(ctx context.Context, req *api.TerminateInstancesRequest) (*api.TerminateInstancesResponse, error) {
	changes, err := d.lifecycle.Terminate(ctx, req.InstanceIDs)
	if err != nil {
		return nil, err
	}
	return &api.TerminateInstancesResponse{
		TerminatingInstances: apiStateChanges(changes),
	}, nil
}

func (d *dispatcher) dispatchGetPasswordData(ctx context.Context, req *api.GetPasswordDataRequest) (*api.GetPasswordDataResponse, error) {
	data, err := d.lifecycle.PasswordData(ctx, req.InstanceID)
	if err != nil {
		return nil, err
	}
	return &api.GetPasswordDataResponse{
		InstanceID:   data.InstanceID,
		Timestamp:    data.Timestamp,
		PasswordData: data.PasswordData,
	}, nil
}

func (d *dispatcher) dispatchGetConsoleOutput(ctx context.Context, req *api.GetConsoleOutputRequest) (*api.GetConsoleOutputResponse, error) {
	output, err := d.lifecycle.ConsoleOutput(ctx, req.InstanceID)
	if err != nil {
		return nil, err
	}
	return &api.GetConsoleOutputResponse{
		InstanceID: output.InstanceID,
		Timestamp:  output.Timestamp,
		Output:     output.Output,
	}, nil
}

func apiInstanceState(state types.InstanceStateName) api.InstanceState {
	return api.InstanceState{
		Code: types.StateCode(state),
		Name: string(state),
	}
}

func apiStateChanges(changes []lifecycle.StateChange) []api.InstanceStateChange {
	out := make([]api.InstanceStateChange, len(changes))
	for i, change := range changes {
		out[i] = api.InstanceStateChange{
			InstanceID:    change.InstanceID,
			CurrentState:  apiInstanceState(change.CurrentState),
			PreviousState: apiInstanceState(change.PreviousState),
		}
	}
	return out
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func apiGroups(groups []types.SecurityGroup) []api.Group {
	out := make([]api.Group, len(groups))
	for i, g := range groups {
		out[i] = api.Group{GroupID: g.ID, GroupName: g.Name}
	}
	return out
}

// reservationGroups returns the groups of the first instance in a
// reservation, since every instance launched together shares them
func reservationGroups(instances []*types.Instance) []api.Group {
	if len(instances) == 0 {
		return nil
	}
	return apiGroups(instances[0].SecurityGroups)
}

func apiBlockDeviceMappings(mappings []types.BlockDeviceMapping) []api.BlockDeviceMapping {
	out := make([]api.BlockDeviceMapping, len(mappings))
	for i, m := range mappings {
		out[i] = api.BlockDeviceMapping{
			DeviceName: m.DeviceName,
			EBS: api.EBSDeviceInfo{
				VolumeID:            m.VolumeID,
				Status:              string(m.Status),
				AttachTime:          m.AttachTime,
				DeleteOnTermination: m.DeleteOnTermination,
			},
		}
	}
	return out
}

func apiInstance(instance *types.Instance) api.Instance {
	out := api.Instance{
		InstanceID:            instance.ID,
		ImageID:               instance.ImageID,
		InstanceState:         apiInstanceState(instance.State),
		StateTransitionReason: instance.StateTransitionReason,
		PrivateDNSName:        instance.PrivateDNSName,
		DNSName:               instance.PublicDNSName,
		KeyName:               optionalString(instance.KeyName),
		AmiLaunchIndex:        instance.AmiLaunchIndex,
		InstanceType:          instance.InstanceType,
		LaunchTime:            instance.LaunchTime,
		Placement: api.Placement{
			AvailabilityZone: instance.AvailabilityZone,
			Tenancy:          tenancyDefault,
		},
		KernelID:            optionalString(instance.KernelID),
		RamdiskID:           optionalString(instance.RamdiskID),
		Monitoring:          api.Monitoring{State: monitoringDisabled},
		PrivateIPAddress:    optionalString(instance.PrivateIP),
		PublicIPAddress:     optionalString(instance.PublicIP),
		SecurityGroups:      apiGroups(instance.SecurityGroups),
		Architecture:        instance.Architecture,
		RootDeviceType:      string(instance.RootDeviceType),
		RootDeviceName:      instance.RootDeviceName,
		BlockDeviceMappings: apiBlockDeviceMappings(instance.BlockDeviceMappings),
		ClientToken:         instance.ClientToken,
	}
	if instance.StateReason != nil {
		out.StateReason = &api.StateReason{
			Code:    instance.StateReason.Code,
			Message: instance.StateReason.Message,
		}
	}
	return out
}

func apiInstances(instances []*types.Instance) []api.Instance {
	out := make([]api.Instance, len(instances))
	for i, instance := range instances {
		out[i] = apiInstance(instance)
	}
	return out
}
