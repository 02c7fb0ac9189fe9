package api

type DescribeVolumesRequest struct {
	CommonRequest
	DryRunnableRequest
	Filters   []Filter `url:"Filter"`
	VolumeIDs []string `url:"VolumeId"`
}

func (r DescribeVolumesRequest) Action() Action { return ActionDescribeVolumes }
