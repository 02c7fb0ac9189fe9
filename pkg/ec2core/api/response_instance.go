package api

import "time"

type RunInstancesResponse struct {
	ReservationID string     `xml:"reservationId"`
	OwnerID       string     `xml:"ownerId"`
	GroupSet      []Group    `xml:"groupSet>item"`
	InstancesSet  []Instance `xml:"instancesSet>item"`
}

type DescribeInstancesResponse struct {
	ReservationSet []Reservation `xml:"reservationSet>item"`
}

type StopInstancesResponse struct {
	StoppingInstances []InstanceStateChange `xml:"instancesSet>item"`
}

type StartInstancesResponse struct {
	StartingInstances []InstanceStateChange `xml:"instancesSet>item"`
}

type TerminateInstancesResponse struct {
	TerminatingInstances []InstanceStateChange `xml:"instancesSet>item"`
}

type GetPasswordDataResponse struct {
	InstanceID   string    `xml:"instanceId"`
	Timestamp    time.Time `xml:"timestamp"`
	PasswordData string    `xml:"passwordData"`
}

type GetConsoleOutputResponse struct {
	InstanceID string    `xml:"instanceId"`
	Timestamp  time.Time `xml:"timestamp"`
	Output     string    `xml:"output"`
}

type InstanceStateChange struct {
	InstanceID    string        `xml:"instanceId"`
	CurrentState  InstanceState `xml:"currentState"`
	PreviousState InstanceState `xml:"previousState"`
}

type Reservation struct {
	ReservationID string     `xml:"reservationId"`
	OwnerID       string     `xml:"ownerId"`
	GroupSet      []Group    `xml:"groupSet>item"`
	InstancesSet  []Instance `xml:"instancesSet>item"`
}

type Instance struct {
	InstanceID            string               `xml:"instanceId"`
	ImageID               string               `xml:"imageId"`
	InstanceState         InstanceState        `xml:"instanceState"`
	StateTransitionReason string               `xml:"reason"`
	StateReason           *StateReason         `xml:"stateReason"`
	PrivateDNSName        string               `xml:"privateDnsName"`
	DNSName               string               `xml:"dnsName"`
	KeyName               *string              `xml:"keyName"`
	AmiLaunchIndex        int                  `xml:"amiLaunchIndex"`
	InstanceType          string               `xml:"instanceType"`
	LaunchTime            time.Time            `xml:"launchTime"`
	Placement             Placement            `xml:"placement"`
	KernelID              *string              `xml:"kernelId"`
	RamdiskID             *string              `xml:"ramdiskId"`
	Monitoring            Monitoring           `xml:"monitoring"`
	PrivateIPAddress      *string              `xml:"privateIpAddress"`
	PublicIPAddress       *string              `xml:"ipAddress"`
	SecurityGroups        []Group              `xml:"groupSet>item"`
	Architecture          string               `xml:"architecture"`
	RootDeviceType        string               `xml:"rootDeviceType"`
	RootDeviceName        string               `xml:"rootDeviceName"`
	BlockDeviceMappings   []BlockDeviceMapping `xml:"blockDeviceMapping>item"`
	ClientToken           string               `xml:"clientToken"`
}

type StateReason struct {
	Code    string `xml:"code"`
	Message string `xml:"message"`
}

// InstanceState represents the state of an instance
type InstanceState struct {
	Code int    `xml:"code"`
	Name string `xml:"name"`
}

// Placement represents the placement details of an instance
type Placement struct {
	AvailabilityZone string `url:"AvailabilityZone" xml:"availabilityZone"`
	Tenancy          string `xml:"tenancy"`
}

// Monitoring represents monitoring information of an instance
type Monitoring struct {
	State string `xml:"state"`
}

// Group represents a security group
type Group struct {
	GroupID   string `xml:"groupId"`
	GroupName string `xml:"groupName"`
}

type BlockDeviceMapping struct {
	DeviceName string        `xml:"deviceName"`
	EBS        EBSDeviceInfo `xml:"ebs"`
}

type EBSDeviceInfo struct {
	VolumeID            string    `xml:"volumeId"`
	Status              string    `xml:"status"`
	AttachTime          time.Time `xml:"attachTime"`
	DeleteOnTermination bool      `xml:"deleteOnTermination"`
}
