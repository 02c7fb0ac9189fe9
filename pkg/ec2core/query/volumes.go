package query

import (
	"context"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/fiam/ec2core/pkg/ec2core/api"
	"github.com/fiam/ec2core/pkg/ec2core/types"
)

const (
	VolumeStateInUse     = "in-use"
	VolumeStateAvailable = "available"
)

// VolumeView is a block device record seen from the volume side. Volumes
// only exist as part of an instance, so InstanceID always names the owner
// even when the volume is no longer attached.
type VolumeView struct {
	ID                  string
	Size                int
	Type                types.VolumeType
	State               string
	AvailabilityZone    string
	CreateTime          time.Time
	InstanceID          string
	Device              string
	Attached            bool
	AttachTime          time.Time
	DeleteOnTermination bool
}

type volumeField func(v *VolumeView) string

func attachedOnly(fn volumeField) volumeField {
	return func(v *VolumeView) string {
		if !v.Attached {
			return ""
		}
		return fn(v)
	}
}

var volumeFields = map[string]volumeField{
	"volume-id":                        func(v *VolumeView) string { return v.ID },
	"size":                             func(v *VolumeView) string { return strconv.Itoa(v.Size) },
	"volume-type":                      func(v *VolumeView) string { return string(v.Type) },
	"status":                           func(v *VolumeView) string { return v.State },
	"availability-zone":                func(v *VolumeView) string { return v.AvailabilityZone },
	"attachment.instance-id":           attachedOnly(func(v *VolumeView) string { return v.InstanceID }),
	"attachment.device":                attachedOnly(func(v *VolumeView) string { return v.Device }),
	"attachment.status":                attachedOnly(func(*VolumeView) string { return string(types.AttachmentStatusAttached) }),
	"attachment.delete-on-termination": attachedOnly(func(v *VolumeView) string { return strconv.FormatBool(v.DeleteOnTermination) }),
}

func volumeViews(instance *types.Instance) []VolumeView {
	out := make([]VolumeView, 0, len(instance.BlockDeviceMappings))
	for _, m := range instance.BlockDeviceMappings {
		attached := m.Status == types.AttachmentStatusAttached && instance.State != types.InstanceStateTerminated
		state := VolumeStateAvailable
		if attached {
			state = VolumeStateInUse
		}
		out = append(out, VolumeView{
			ID:                  m.VolumeID,
			Size:                m.VolumeSize,
			Type:                m.VolumeType,
			State:               state,
			AvailabilityZone:    instance.AvailabilityZone,
			CreateTime:          m.AttachTime,
			InstanceID:          instance.ID,
			Device:              m.DeviceName,
			Attached:            attached,
			AttachTime:          m.AttachTime,
			DeleteOnTermination: m.DeleteOnTermination,
		})
	}
	return out
}

// Volumes lists the volumes recorded in instance block device mappings,
// ordered by id. Like Describe, every requested id must exist before
// filters narrow the result.
func (e *Engine) Volumes(ctx context.Context, ids []string, filters []api.Filter) ([]VolumeView, error) {
	type compiledVolume struct {
		field  volumeField
		values []string
	}
	compiledFilters := make([]compiledVolume, 0, len(filters))
	for _, filter := range filters {
		if err := checkFilter(filter); err != nil {
			return nil, err
		}
		f, ok := volumeFields[*filter.Name]
		if !ok {
			return nil, api.InvalidParameterValueError("Filter.Name", *filter.Name)
		}
		compiledFilters = append(compiledFilters, compiledVolume{field: f, values: filter.Values})
	}

	instances, err := e.registry.List(ctx, nil)
	if err != nil {
		return nil, err
	}
	var all []VolumeView
	for _, instance := range instances {
		all = append(all, volumeViews(instance)...)
	}
	slices.SortFunc(all, func(a, b VolumeView) int { return strings.Compare(a.ID, b.ID) })

	if len(ids) > 0 {
		var missing []string
		for _, id := range ids {
			_, found := slices.BinarySearchFunc(all, id, func(v VolumeView, id string) int { return strings.Compare(v.ID, id) })
			if !found && !slices.Contains(missing, id) {
				missing = append(missing, id)
			}
		}
		if len(missing) > 0 {
			return nil, api.VolumeNotFoundError(missing...)
		}
	}

	out := make([]VolumeView, 0, len(all))
	for _, v := range all {
		if len(ids) > 0 && !slices.Contains(ids, v.ID) {
			continue
		}
		matched := true
		for _, f := range compiledFilters {
			if !matchAny(f.values, f.field(&v)) {
				matched = false
				break
			}
		}
		if matched {
			out = append(out, v)
		}
	}
	return out, nil
}
