package api

type AttributeBooleanValue struct {
	Value bool `xml:"value"`
}

type AttributeValue struct {
	Value string `xml:"value"`
}

// DescribeInstanceAttributeResponse carries exactly one populated
// attribute; unset pointers and nil slices are left out of the document.
type DescribeInstanceAttributeResponse struct {
	InstanceID            string                 `xml:"instanceId"`
	DisableAPITermination *AttributeBooleanValue `xml:"disableApiTermination"`
	InstanceType          *AttributeValue        `xml:"instanceType"`
	Kernel                *AttributeValue        `xml:"kernel"`
	Ramdisk               *AttributeValue        `xml:"ramdisk"`
	RootDeviceName        *AttributeValue        `xml:"rootDeviceName"`
	UserData              *AttributeValue        `xml:"userData"`
	BlockDeviceMappings   *[]BlockDeviceMapping  `xml:"blockDeviceMapping>item"`
	GroupSet              *[]Group               `xml:"groupSet>item"`
}

type ModifyInstanceAttributeResponse struct {
	Return bool `xml:"return"`
}

type ResetInstanceAttributeResponse struct {
	Return bool `xml:"return"`
}
