package types

import (
	"slices"
	"time"
)

// Instance is the authoritative record the control plane keeps for a
// virtual machine. Creation parameters never change after launch;
// everything else is updated through the registry.
type Instance struct {
	ID             string `json:"id"`
	ReservationID  string `json:"reservation_id"`
	OwnerID        string `json:"owner_id"`
	ClientToken    string `json:"client_token,omitempty"`
	AmiLaunchIndex int    `json:"ami_launch_index"`

	ImageID          string     `json:"image_id"`
	InstanceType     string     `json:"instance_type"`
	AvailabilityZone string     `json:"availability_zone"`
	KernelID         string     `json:"kernel_id,omitempty"`
	RamdiskID        string     `json:"ramdisk_id,omitempty"`
	RootDeviceName   string     `json:"root_device_name,omitempty"`
	RootDeviceType   DeviceType `json:"root_device_type,omitempty"`
	Architecture     string     `json:"architecture,omitempty"`
	KeyName          string     `json:"key_name,omitempty"`
	UserData         string     `json:"user_data,omitempty"`

	State                 InstanceStateName `json:"state"`
	StateTransitionReason string            `json:"state_transition_reason,omitempty"`
	StateReason           *StateReason      `json:"state_reason,omitempty"`
	PrivateIP             string            `json:"private_ip,omitempty"`
	PublicIP              string            `json:"public_ip,omitempty"`
	PrivateDNSName        string            `json:"private_dns_name,omitempty"`
	PublicDNSName         string            `json:"public_dns_name,omitempty"`
	LaunchTime            time.Time         `json:"launch_time"`
	TerminatedAt          *time.Time        `json:"terminated_at,omitempty"`

	DisableAPITermination bool                 `json:"disable_api_termination"`
	BlockDeviceMappings   []BlockDeviceMapping `json:"block_device_mappings,omitempty"`
	SecurityGroups        []SecurityGroup      `json:"security_groups,omitempty"`

	// Revision increases by one on every committed update.
	Revision int64 `json:"revision"`
}

type StateReason struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type BlockDeviceMapping struct {
	DeviceName          string           `json:"device_name"`
	VolumeID            string           `json:"volume_id"`
	VolumeSize          int              `json:"volume_size"`
	VolumeType          VolumeType       `json:"volume_type"`
	DeleteOnTermination bool             `json:"delete_on_termination"`
	Status              AttachmentStatus `json:"status"`
	AttachTime          time.Time        `json:"attach_time"`
}

type SecurityGroup struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Clone returns a deep copy of the instance
func (i *Instance) Clone() *Instance {
	if i == nil {
		return nil
	}
	c := *i
	if i.StateReason != nil {
		reason := *i.StateReason
		c.StateReason = &reason
	}
	if i.TerminatedAt != nil {
		t := *i.TerminatedAt
		c.TerminatedAt = &t
	}
	c.BlockDeviceMappings = slices.Clone(i.BlockDeviceMappings)
	c.SecurityGroups = slices.Clone(i.SecurityGroups)
	return &c
}

// SecurityGroupIDs returns the ids of the groups the instance belongs to
func (i *Instance) SecurityGroupIDs() []string {
	ids := make([]string, len(i.SecurityGroups))
	for j, g := range i.SecurityGroups {
		ids[j] = g.ID
	}
	return ids
}

// LaunchParams are the create parameters a client token is bound to
type LaunchParams struct {
	ImageID          string `json:"image_id"`
	InstanceType     string `json:"instance_type"`
	AvailabilityZone string `json:"availability_zone"`
	MinCount         int    `json:"min_count"`
	MaxCount         int    `json:"max_count"`
}

// Reservation groups the instances launched by a single create request.
type Reservation struct {
	ID          string       `json:"id"`
	OwnerID     string       `json:"owner_id"`
	ClientToken string       `json:"client_token,omitempty"`
	Params      LaunchParams `json:"params"`
	InstanceIDs []string     `json:"instance_ids"`
	CreatedAt   time.Time    `json:"created_at"`
}

func (r *Reservation) Clone() *Reservation {
	if r == nil {
		return nil
	}
	c := *r
	c.InstanceIDs = slices.Clone(r.InstanceIDs)
	return &c
}
