package docker

import "github.com/docker/docker/api/types/container"

const (
	LabelEnabled      = "ec2core:enabled"
	LabelInstanceID   = "ec2core:instance-id"
	LabelImageID      = "ec2core:image-id"
	LabelInstanceType = "ec2core:instance-type"
	LabelKeyName      = "ec2core:key-name"
)

const containerNamePrefix = "ec2core-"

func containerName(instanceID string) string {
	return containerNamePrefix + instanceID
}

func isManagedContainer(info container.InspectResponse) bool {
	return info.Config != nil && info.Config.Labels[LabelEnabled] == "true"
}
