package ec2core

import (
	"context"

	"github.com/fiam/ec2core/pkg/ec2core/api"
	"github.com/fiam/ec2core/pkg/ec2core/query"
	"github.com/fiam/ec2core/pkg/ec2core/types"
)

func (d *dispatcher) dispatchDescribeVolumes(ctx context.Context, req *api.DescribeVolumesRequest) (*api.DescribeVolumesResponse, error) {
	views, err := d.query.Volumes(ctx, req.VolumeIDs, req.Filters)
	if err != nil {
		return nil, err
	}
	volumes := make([]api.Volume, 0, len(views))
	for _, v := range views {
		volumes = append(volumes, apiVolume(v))
	}
	return &api.DescribeVolumesResponse{
		Volumes: volumes,
	}, nil
}

func apiVolume(v query.VolumeView) api.Volume {
	out := api.Volume{
		VolumeID:         v.ID,
		Size:             v.Size,
		VolumeType:       string(v.Type),
		State:            v.State,
		AvailabilityZone: v.AvailabilityZone,
		CreateTime:       v.CreateTime,
	}
	if v.Attached {
		out.Attachments = []api.VolumeAttachment{{
			VolumeID:            v.ID,
			InstanceID:          v.InstanceID,
			Device:              v.Device,
			State:               string(types.AttachmentStatusAttached),
			AttachTime:          v.AttachTime,
			DeleteOnTermination: v.DeleteOnTermination,
		}}
	}
	return out
}
