package types

import (
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
)

type ResourceType = ec2types.ResourceType

const (
	ResourceTypeInstance    = ec2types.ResourceTypeInstance
	ResourceTypeReservation = ResourceType("reservation")
	ResourceTypeVolume      = ec2types.ResourceTypeVolume
)

type InstanceStateName = ec2types.InstanceStateName

const (
	InstanceStatePending      = ec2types.InstanceStateNamePending
	InstanceStateRunning      = ec2types.InstanceStateNameRunning
	InstanceStateShuttingDown = ec2types.InstanceStateNameShuttingDown
	InstanceStateTerminated   = ec2types.InstanceStateNameTerminated
	InstanceStateStopping     = ec2types.InstanceStateNameStopping
	InstanceStateStopped      = ec2types.InstanceStateNameStopped
)

// StateCode returns the numeric code EC2 reports alongside each state name.
func StateCode(state InstanceStateName) int {
	switch state {
	case InstanceStatePending:
		return 0
	case InstanceStateRunning:
		return 16
	case InstanceStateShuttingDown:
		return 32
	case InstanceStateTerminated:
		return 48
	case InstanceStateStopping:
		return 64
	case InstanceStateStopped:
		return 80
	}
	return -1
}

type AttributeName = ec2types.InstanceAttributeName

const (
	AttributeDisableAPITermination = ec2types.InstanceAttributeNameDisableApiTermination
	AttributeInstanceType          = ec2types.InstanceAttributeNameInstanceType
	AttributeKernel                = ec2types.InstanceAttributeNameKernel
	AttributeRamdisk               = ec2types.InstanceAttributeNameRamdisk
	AttributeRootDeviceName        = ec2types.InstanceAttributeNameRootDeviceName
	AttributeBlockDeviceMapping    = ec2types.InstanceAttributeNameBlockDeviceMapping
	AttributeGroupSet              = ec2types.InstanceAttributeNameGroupSet
	AttributeUserData              = ec2types.InstanceAttributeNameUserData
)

type VolumeType = ec2types.VolumeType

const (
	VolumeTypeStandard = ec2types.VolumeTypeStandard
	VolumeTypeGp2      = ec2types.VolumeTypeGp2
	VolumeTypeGp3      = ec2types.VolumeTypeGp3
)

type AttachmentStatus = ec2types.AttachmentStatus

const (
	AttachmentStatusAttached = ec2types.AttachmentStatusAttached
	AttachmentStatusDetached = ec2types.AttachmentStatusDetached
)

type DeviceType = ec2types.DeviceType

const (
	DeviceTypeEBS           = ec2types.DeviceTypeEbs
	DeviceTypeInstanceStore = ec2types.DeviceTypeInstanceStore
)
