package api

import "github.com/fiam/ec2core/pkg/ec2core/types"

type RunInstancesRequest struct {
	CommonRequest
	DryRunnableRequest
	ImageID               string                           `url:"ImageId" validate:"required"`
	InstanceType          string                           `url:"InstanceType"`
	KernelID              string                           `url:"KernelId"`
	RamdiskID             string                           `url:"RamdiskId"`
	KeyName               string                           `url:"KeyName"`
	UserData              string                           `url:"UserData"`
	MinCount              int                              `url:"MinCount" validate:"required,gt=0"`
	MaxCount              int                              `url:"MaxCount" validate:"required,gt=0"`
	DisableAPITermination bool                             `url:"DisableApiTermination"`
	SecurityGroupIDs      []string                         `url:"SecurityGroupId"`
	SecurityGroups        []string                         `url:"SecurityGroup"`
	BlockDeviceMappings   []RunInstancesBlockDeviceMapping `url:"BlockDeviceMapping"`
	Placement             *Placement                       `url:"Placement"`
}

func (r RunInstancesRequest) Action() Action { return ActionRunInstances }

type RunInstancesBlockDeviceMapping struct {
	DeviceName string                      `url:"DeviceName"`
	EBS        *RunInstancesEBSBlockDevice `url:"Ebs"`
}

type RunInstancesEBSBlockDevice struct {
	DeleteOnTermination *bool            `url:"DeleteOnTermination"`
	Encrypted           bool             `url:"Encrypted"`
	SnapshotID          string           `url:"SnapshotId"`
	VolumeSize          *int             `url:"VolumeSize"`
	VolumeType          types.VolumeType `url:"VolumeType"`
}

type DescribeInstancesRequest struct {
	CommonRequest
	DryRunnableRequest
	Filters     []Filter `url:"Filter"`
	InstanceIDs []string `url:"InstanceId"`
}

func (r DescribeInstancesRequest) Action() Action { return ActionDescribeInstances }

type StopInstancesRequest struct {
	CommonRequest
	DryRunnableRequest
	InstanceIDs []string `url:"InstanceId" validate:"required"`
	Force       bool     `url:"Force"`
}

func (r StopInstancesRequest) Action() Action { return ActionStopInstances }

type StartInstancesRequest struct {
	CommonRequest
	DryRunnableRequest
	InstanceIDs []string `url:"InstanceId" validate:"required"`
}

func (r StartInstancesRequest) Action() Action { return ActionStartInstances }

type TerminateInstancesRequest struct {
	CommonRequest
	DryRunnableRequest
	InstanceIDs []string `url:"InstanceId" validate:"required"`
}

func (r TerminateInstancesRequest) Action() Action { return ActionTerminateInstances }

type GetPasswordDataRequest struct {
	CommonRequest
	DryRunnableRequest
	InstanceID string `url:"InstanceId" validate:"required"`
}

func (r GetPasswordDataRequest) Action() Action { return ActionGetPasswordData }

type GetConsoleOutputRequest struct {
	CommonRequest
	DryRunnableRequest
	InstanceID string `url:"InstanceId" validate:"required"`
	Latest     bool   `url:"Latest"`
}

func (r GetConsoleOutputRequest) Action() Action { return ActionGetConsoleOutput }
