package api

type DescribeInstanceAttributeRequest struct {
	CommonRequest
	DryRunnableRequest
	InstanceID string `url:"InstanceId" validate:"required"`
	Attribute  string `url:"Attribute" validate:"required"`
}

func (r DescribeInstanceAttributeRequest) Action() Action { return ActionDescribeInstanceAttribute }

// AttributeValueArgument is the structured form of a single attribute
// write, e.g. DisableApiTermination.Value=false.
type AttributeValueArgument struct {
	Value *string `url:"Value"`
}

type ModifyInstanceAttributeRequest struct {
	CommonRequest
	DryRunnableRequest
	InstanceID            string                                    `url:"InstanceId" validate:"required"`
	Attribute             string                                    `url:"Attribute"`
	Value                 *string                                   `url:"Value"`
	DisableAPITermination *AttributeValueArgument                   `url:"DisableApiTermination"`
	InstanceType          *AttributeValueArgument                   `url:"InstanceType"`
	Kernel                *AttributeValueArgument                   `url:"Kernel"`
	Ramdisk               *AttributeValueArgument                   `url:"Ramdisk"`
	UserData              *AttributeValueArgument                   `url:"UserData"`
	GroupIDs              []string                                  `url:"GroupId"`
	BlockDeviceMappings   []InstanceBlockDeviceMappingSpecification `url:"BlockDeviceMapping"`
}

func (r ModifyInstanceAttributeRequest) Action() Action { return ActionModifyInstanceAttribute }

type InstanceBlockDeviceMappingSpecification struct {
	DeviceName string                               `url:"DeviceName"`
	EBS        *EBSInstanceBlockDeviceSpecification `url:"Ebs"`
}

type EBSInstanceBlockDeviceSpecification struct {
	DeleteOnTermination *bool  `url:"DeleteOnTermination"`
	VolumeID            string `url:"VolumeId"`
}

type ResetInstanceAttributeRequest struct {
	CommonRequest
	DryRunnableRequest
	InstanceID string `url:"InstanceId" validate:"required"`
	Attribute  string `url:"Attribute" validate:"required"`
}

func (r ResetInstanceAttributeRequest) Action() Action { return ActionResetInstanceAttribute }
