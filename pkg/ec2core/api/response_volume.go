package api

import "time"

type DescribeVolumesResponse struct {
	Volumes []Volume `xml:"volumeSet>item"`
}

type Volume struct {
	VolumeID           string             `xml:"volumeId"`
	Size               int                `xml:"size"`
	VolumeType         string             `xml:"volumeType"`
	State              string             `xml:"status"`
	AvailabilityZone   string             `xml:"availabilityZone"`
	CreateTime         time.Time          `xml:"createTime"`
	Encrypted          bool               `xml:"encrypted"`
	MultiAttachEnabled bool               `xml:"multiAttachEnabled"`
	Attachments        []VolumeAttachment `xml:"attachmentSet>item"`
}

type VolumeAttachment struct {
	VolumeID            string    `xml:"volumeId"`
	InstanceID          string    `xml:"instanceId"`
	Device              string    `xml:"device"`
	State               string    `xml:"status"`
	AttachTime          time.Time `xml:"attachTime"`
	DeleteOnTermination bool      `xml:"deleteOnTermination"`
}
