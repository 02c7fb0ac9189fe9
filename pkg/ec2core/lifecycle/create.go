package lifecycle

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/fiam/ec2core/pkg/ec2core/api"
	"github.com/fiam/ec2core/pkg/ec2core/config"
	"github.com/fiam/ec2core/pkg/ec2core/executor"
	"github.com/fiam/ec2core/pkg/ec2core/idempotency"
	"github.com/fiam/ec2core/pkg/ec2core/idgen"
	"github.com/fiam/ec2core/pkg/ec2core/types"
)

const defaultVolumeSize = 8

type BlockDeviceRequest struct {
	DeviceName          string
	VolumeSize          *int
	VolumeType          string
	DeleteOnTermination *bool
}

type CreateRequest struct {
	ClientToken           string
	ImageID               string
	InstanceType          string
	AvailabilityZone      string
	KernelID              string
	RamdiskID             string
	KeyName               string
	UserData              string
	MinCount              int
	MaxCount              int
	DisableAPITermination bool
	SecurityGroupIDs      []string
	SecurityGroupNames    []string
	BlockDeviceMappings   []BlockDeviceRequest
}

type CreateResult struct {
	Reservation *types.Reservation
	Instances   []*types.Instance
	// Replayed is true when the result comes from an earlier request with
	// the same client token
	Replayed bool
}

// launch is a validated create request
type launch struct {
	req    CreateRequest
	image  config.Image
	groups []types.SecurityGroup
}

func (c *Controller) validate(req CreateRequest) (launch, error) {
	if req.MinCount < 1 {
		return launch{}, api.InvalidParameterValueError("MinCount", fmt.Sprint(req.MinCount))
	}
	if req.MaxCount < req.MinCount {
		return launch{}, api.InvalidParameterValueError("MaxCount", fmt.Sprint(req.MaxCount))
	}
	image, ok := c.catalog.Image(req.ImageID)
	if !ok {
		return launch{}, api.ImageNotFoundError(req.ImageID)
	}
	if req.InstanceType == "" {
		req.InstanceType = c.settings.DefaultInstanceType
	}
	if req.AvailabilityZone == "" {
		req.AvailabilityZone = c.settings.AvailabilityZones[0]
	} else if !slices.Contains(c.settings.AvailabilityZones, req.AvailabilityZone) {
		return launch{}, api.InvalidParameterValueError("Placement.AvailabilityZone", req.AvailabilityZone)
	}
	if req.KernelID == "" {
		req.KernelID = image.KernelID
	}
	if req.RamdiskID == "" {
		req.RamdiskID = image.RamdiskID
	}
	groups, err := c.resolveGroups(req.SecurityGroupIDs, req.SecurityGroupNames)
	if err != nil {
		return launch{}, err
	}
	if err := validateBlockDevices(req.BlockDeviceMappings); err != nil {
		return launch{}, err
	}
	return launch{req: req, image: image, groups: groups}, nil
}

func (c *Controller) resolveGroups(ids []string, names []string) ([]types.SecurityGroup, error) {
	var groups []types.SecurityGroup
	add := func(group types.SecurityGroup) {
		if !slices.ContainsFunc(groups, func(g types.SecurityGroup) bool { return g.ID == group.ID }) {
			groups = append(groups, group)
		}
	}
	for _, id := range ids {
		group, ok := c.catalog.SecurityGroup(id)
		if !ok {
			return nil, api.SecurityGroupNotFoundError(id)
		}
		add(group)
	}
	for _, name := range names {
		group, ok := c.catalog.SecurityGroupByName(name)
		if !ok {
			return nil, api.SecurityGroupNotFoundError(name)
		}
		add(group)
	}
	if len(groups) == 0 {
		if group, ok := c.catalog.SecurityGroupByName("default"); ok {
			groups = append(groups, group)
		}
	}
	return groups, nil
}

func validateBlockDevices(mappings []BlockDeviceRequest) error {
	seen := make(map[string]bool, len(mappings))
	for i, m := range mappings {
		param := fmt.Sprintf("BlockDeviceMapping.%d", i+1)
		name := strings.TrimSpace(m.DeviceName)
		if name == "" {
			return api.MissingParameterError(param + ".DeviceName")
		}
		if seen[name] {
			return api.InvalidParameterValueError(param+".DeviceName", name)
		}
		seen[name] = true
		if m.VolumeSize != nil && (*m.VolumeSize < 1 || *m.VolumeSize > 16384) {
			return api.InvalidParameterValueError(param+".Ebs.VolumeSize", fmt.Sprint(*m.VolumeSize))
		}
		if m.VolumeType != "" && !slices.Contains(types.VolumeType("").Values(), types.VolumeType(m.VolumeType)) {
			return api.InvalidParameterValueError(param+".Ebs.VolumeType", m.VolumeType)
		}
	}
	return nil
}

func (l launch) params() types.LaunchParams {
	return types.LaunchParams{
		ImageID:          l.req.ImageID,
		InstanceType:     l.req.InstanceType,
		AvailabilityZone: l.req.AvailabilityZone,
		MinCount:         l.req.MinCount,
		MaxCount:         l.req.MaxCount,
	}
}

// Create launches between MinCount and MaxCount instances. Requests with
// a client token already used return the outcome of the first request.
func (c *Controller) Create(ctx context.Context, req CreateRequest) (*CreateResult, error) {
	l, err := c.validate(req)
	if err != nil {
		return nil, err
	}
	res, err := c.tracker.Reserve(ctx, l.req.ClientToken, idempotency.Params(l.params()))
	if err != nil {
		return nil, err
	}
	if res.Existing {
		c.metrics.IdempotentReplay(ctx)
		return c.replay(ctx, res.Entry)
	}

	result, err := c.launch(ctx, l)
	if err != nil {
		c.tracker.Release(l.req.ClientToken)
		return nil, err
	}
	ids := make([]string, len(result.Instances))
	for i, instance := range result.Instances {
		ids[i] = instance.ID
	}
	c.tracker.Commit(l.req.ClientToken, result.Reservation.ID, ids)
	return result, nil
}

func (c *Controller) replay(ctx context.Context, entry idempotency.Entry) (*CreateResult, error) {
	reservation := &types.Reservation{
		ID:          entry.ReservationID,
		OwnerID:     c.settings.OwnerID,
		ClientToken: entry.Token,
		InstanceIDs: entry.InstanceIDs,
	}
	if stored, err := c.registry.Reservation(ctx, entry.ReservationID); err == nil {
		reservation = stored
	} else if api.IsInfrastructure(err) {
		return nil, err
	}
	wanted := make(map[string]bool, len(entry.InstanceIDs))
	for _, id := range entry.InstanceIDs {
		wanted[id] = true
	}
	instances, err := c.registry.List(ctx, func(instance *types.Instance) bool {
		return wanted[instance.ID]
	})
	if err != nil {
		return nil, err
	}
	slices.SortFunc(instances, func(a, b *types.Instance) int { return a.AmiLaunchIndex - b.AmiLaunchIndex })
	api.Logger(ctx).Debug("replaying create request", slog.String("client_token", entry.Token), slog.String("reservation_id", entry.ReservationID))
	return &CreateResult{Reservation: reservation, Instances: instances, Replayed: true}, nil
}

func (c *Controller) launch(ctx context.Context, l launch) (_ *CreateResult, err error) {
	req := l.req
	n, err := c.capacity.Acquire(req.InstanceType, req.MinCount, req.MaxCount)
	if err != nil {
		return nil, err
	}
	var rollback []func()
	defer func() {
		if err != nil {
			for i := len(rollback) - 1; i >= 0; i-- {
				rollback[i]()
			}
		}
	}()
	rollback = append(rollback, func() { c.capacity.Release(req.InstanceType, n) })

	addrs, err := c.private.AllocateN(n)
	if err != nil {
		api.Logger(ctx).Warn("private address pool exhausted", slog.Any("error", err))
		return nil, api.InsufficientInstanceCapacityError(req.InstanceType, n, 0)
	}
	rollback = append(rollback, func() { c.private.Release(addrs...) })

	reservationID, err := idgen.New(idgen.KindReservation)
	if err != nil {
		return nil, err
	}
	now := c.now().UTC()
	reservation := &types.Reservation{
		ID:          reservationID,
		OwnerID:     c.settings.OwnerID,
		ClientToken: req.ClientToken,
		Params:      l.params(),
		CreatedAt:   now,
	}
	instances := make([]*types.Instance, n)
	for i := range n {
		instance, err := c.newInstance(l, reservationID, i, addrs[i])
		if err != nil {
			return nil, err
		}
		instances[i] = instance
		reservation.InstanceIDs = append(reservation.InstanceIDs, instance.ID)
	}

	if err := c.registry.PutReservation(ctx, reservation); err != nil {
		return nil, err
	}
	rollback = append(rollback, func() {
		_ = c.registry.RemoveReservation(context.WithoutCancel(ctx), reservation.ID)
	})
	for _, instance := range instances {
		if err := c.registry.Put(ctx, instance); err != nil {
			return nil, err
		}
		rollback = append(rollback, func() {
			_ = c.registry.Remove(context.WithoutCancel(ctx), instance.ID)
		})
	}

	specs := make([]executor.InstanceSpec, n)
	for i, instance := range instances {
		specs[i] = instanceSpec(instance, l.image)
	}
	if err := c.exe.CreateInstances(ctx, executor.CreateInstancesRequest{Instances: specs}); err != nil {
		return nil, api.InfrastructureError(fmt.Errorf("creating instances: %w", err))
	}

	c.metrics.InstancesChanged(ctx, int64(n))
	for _, instance := range instances {
		c.metrics.Transition(ctx, "", string(instance.State))
	}
	api.Logger(ctx).Info("launched instances",
		slog.String("reservation_id", reservationID),
		slog.Int("count", n),
		slog.String("image_id", req.ImageID),
		slog.String("instance_type", req.InstanceType))
	return &CreateResult{Reservation: reservation, Instances: instances}, nil
}

func (c *Controller) newInstance(l launch, reservationID string, index int, privateIP string) (*types.Instance, error) {
	id, err := idgen.New(idgen.KindInstance)
	if err != nil {
		return nil, err
	}
	now := c.now().UTC()
	req := l.req
	instance := &types.Instance{
		ID:                    id,
		ReservationID:         reservationID,
		OwnerID:               c.settings.OwnerID,
		ClientToken:           req.ClientToken,
		AmiLaunchIndex:        index,
		ImageID:               req.ImageID,
		InstanceType:          req.InstanceType,
		AvailabilityZone:      req.AvailabilityZone,
		KernelID:              req.KernelID,
		RamdiskID:             req.RamdiskID,
		RootDeviceName:        l.image.RootDeviceName,
		RootDeviceType:        types.DeviceType(l.image.RootDeviceType),
		Architecture:          l.image.Architecture,
		KeyName:               req.KeyName,
		UserData:              req.UserData,
		State:                 types.InstanceStatePending,
		PrivateIP:             privateIP,
		PrivateDNSName:        privateDNSName(c.settings.Region, privateIP),
		LaunchTime:            now,
		DisableAPITermination: req.DisableAPITermination,
		SecurityGroups:        slices.Clone(l.groups),
	}
	if instance.RootDeviceType == "" {
		instance.RootDeviceType = types.DeviceTypeInstanceStore
	}
	mappings, err := blockDeviceMappings(l, now)
	if err != nil {
		return nil, err
	}
	instance.BlockDeviceMappings = mappings
	return instance, nil
}

func blockDeviceMappings(l launch, now time.Time) ([]types.BlockDeviceMapping, error) {
	var out []types.BlockDeviceMapping
	newVolume := func(device string, size int, volumeType string, deleteOnTermination bool) error {
		volumeID, err := idgen.New(idgen.KindVolume)
		if err != nil {
			return err
		}
		if volumeType == "" {
			volumeType = string(types.VolumeTypeGp3)
		}
		out = append(out, types.BlockDeviceMapping{
			DeviceName:          device,
			VolumeID:            volumeID,
			VolumeSize:          size,
			VolumeType:          types.VolumeType(volumeType),
			DeleteOnTermination: deleteOnTermination,
			Status:              types.AttachmentStatusAttached,
			AttachTime:          now,
		})
		return nil
	}
	requested := slices.ContainsFunc(l.req.BlockDeviceMappings, func(m BlockDeviceRequest) bool {
		return m.DeviceName == l.image.RootDeviceName
	})
	if types.DeviceType(l.image.RootDeviceType) == types.DeviceTypeEBS && !requested {
		size := l.image.RootVolumeSize
		if size == 0 {
			size = defaultVolumeSize
		}
		if err := newVolume(l.image.RootDeviceName, size, "", true); err != nil {
			return nil, err
		}
	}
	for _, m := range l.req.BlockDeviceMappings {
		size := defaultVolumeSize
		if m.VolumeSize != nil {
			size = *m.VolumeSize
		}
		deleteOnTermination := true
		if m.DeleteOnTermination != nil {
			deleteOnTermination = *m.DeleteOnTermination
		}
		if err := newVolume(strings.TrimSpace(m.DeviceName), size, m.VolumeType, deleteOnTermination); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func instanceSpec(instance *types.Instance, image config.Image) executor.InstanceSpec {
	return executor.InstanceSpec{
		InstanceID:   instance.ID,
		ImageID:      instance.ImageID,
		ImageRef:     image.DockerImage,
		InstanceType: instance.InstanceType,
		KeyName:      instance.KeyName,
		UserData:     instance.UserData,
		PrivateIP:    instance.PrivateIP,
	}
}
