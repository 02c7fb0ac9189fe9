package lifecycle

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fiam/ec2core/pkg/ec2core/api"
	"github.com/fiam/ec2core/pkg/ec2core/config"
	"github.com/fiam/ec2core/pkg/ec2core/executor"
	"github.com/fiam/ec2core/pkg/ec2core/idempotency"
	"github.com/fiam/ec2core/pkg/ec2core/registry"
	"github.com/fiam/ec2core/pkg/ec2core/storage"
	"github.com/fiam/ec2core/pkg/ec2core/types"
)

const (
	testImage    = "ami-0123456789abcdef0"
	testEBSImage = "ami-0123456789abcdef1"
)

type fakeExecutor struct {
	mu      sync.Mutex
	calls   map[string][][]string
	fail    map[string]error
	console map[string]string
	events  chan executor.Event
}

func newFakeExecutor() *fakeExecutor {
	return &fakeExecutor{
		calls:   make(map[string][][]string),
		fail:    make(map[string]error),
		console: make(map[string]string),
		events:  make(chan executor.Event, 64),
	}
}

func (f *fakeExecutor) record(op string, ids []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail[op]; err != nil {
		return err
	}
	f.calls[op] = append(f.calls[op], ids)
	return nil
}

func (f *fakeExecutor) Calls(op string) [][]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

func (f *fakeExecutor) Fail(op string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail[op] = err
}

func specIDs(specs []executor.InstanceSpec) []string {
	ids := make([]string, len(specs))
	for i, spec := range specs {
		ids[i] = spec.InstanceID
	}
	return ids
}

func (f *fakeExecutor) CreateInstances(_ context.Context, req executor.CreateInstancesRequest) error {
	return f.record("create", specIDs(req.Instances))
}

func (f *fakeExecutor) Adopt(_ context.Context, req executor.CreateInstancesRequest) error {
	return f.record("adopt", specIDs(req.Instances))
}

func (f *fakeExecutor) StartInstances(_ context.Context, req executor.StartInstancesRequest) error {
	return f.record("start", req.InstanceIDs)
}

func (f *fakeExecutor) StopInstances(_ context.Context, req executor.StopInstancesRequest) error {
	return f.record("stop", req.InstanceIDs)
}

func (f *fakeExecutor) TerminateInstances(_ context.Context, req executor.TerminateInstancesRequest) error {
	return f.record("terminate", req.InstanceIDs)
}

func (f *fakeExecutor) ConsoleOutput(_ context.Context, instanceID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	output, ok := f.console[instanceID]
	if !ok {
		return "", executor.ErrUnknownInstance
	}
	return output, nil
}

func (f *fakeExecutor) Events() <-chan executor.Event {
	return f.events
}

func (f *fakeExecutor) Close() error {
	return nil
}

type testCatalog struct{}

func (testCatalog) Image(id string) (config.Image, bool) {
	switch id {
	case testImage:
		return config.Image{ID: id, KernelID: "aki-1", RamdiskID: "ari-1", RootDeviceName: "/dev/sda1", RootDeviceType: "instance-store"}, true
	case testEBSImage:
		return config.Image{ID: id, RootDeviceName: "/dev/xvda", RootDeviceType: "ebs", RootVolumeSize: 10}, true
	}
	return config.Image{}, false
}

var testGroups = []types.SecurityGroup{
	{ID: "sg-default", Name: "default"},
	{ID: "sg-web", Name: "web"},
}

func (testCatalog) SecurityGroup(id string) (types.SecurityGroup, bool) {
	for _, g := range testGroups {
		if g.ID == id {
			return g, true
		}
	}
	return types.SecurityGroup{}, false
}

func (testCatalog) SecurityGroupByName(name string) (types.SecurityGroup, bool) {
	for _, g := range testGroups {
		if g.Name == name {
			return g, true
		}
	}
	return types.SecurityGroup{}, false
}

type testEnv struct {
	c       *Controller
	exe     *fakeExecutor
	reg     *registry.Registry
	tracker *idempotency.Tracker
}

func newTestEnv(t *testing.T, opts ...Option) *testEnv {
	t.Helper()
	return newTestEnvWithRegistry(t, registry.New(storage.NewMemoryStorage()), opts...)
}

func newTestEnvWithRegistry(t *testing.T, reg *registry.Registry, opts ...Option) *testEnv {
	t.Helper()
	tracker := idempotency.New()
	exe := newFakeExecutor()
	c, err := New(Settings{
		Region:              "us-east-1",
		OwnerID:             "123456789012",
		AvailabilityZones:   []string{"us-east-1a", "us-east-1b"},
		DefaultInstanceType: "t3.micro",
		Capacity:            config.Capacity{Total: 4, PerType: map[string]int{"m5.large": 1}},
		PrivateCIDR:         "10.0.0.0/24",
		PublicCIDR:          "198.51.100.0/28",
	}, reg, tracker, testCatalog{}, exe, opts...)
	require.NoError(t, err)
	return &testEnv{c: c, exe: exe, reg: reg, tracker: tracker}
}

func (env *testEnv) create(t *testing.T, req CreateRequest) *CreateResult {
	t.Helper()
	if req.ImageID == "" {
		req.ImageID = testImage
	}
	if req.MinCount == 0 {
		req.MinCount = 1
	}
	if req.MaxCount == 0 {
		req.MaxCount = req.MinCount
	}
	res, err := env.c.Create(t.Context(), req)
	require.NoError(t, err)
	return res
}

func (env *testEnv) running(t *testing.T, req CreateRequest) *types.Instance {
	t.Helper()
	res := env.create(t, req)
	id := res.Instances[0].ID
	env.c.HandleEvent(t.Context(), executor.Event{InstanceID: id, Kind: executor.EventRunning})
	return env.get(t, id)
}

func (env *testEnv) get(t *testing.T, id string) *types.Instance {
	t.Helper()
	instance, err := env.reg.Get(t.Context(), id)
	require.NoError(t, err)
	return instance
}

func (env *testEnv) count(t *testing.T) int {
	t.Helper()
	instances, err := env.reg.List(t.Context(), nil)
	require.NoError(t, err)
	return len(instances)
}

func TestCreate(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	res := env.create(t, CreateRequest{MinCount: 1, MaxCount: 3, KeyName: "deploy"})

	require.Len(t, res.Instances, 3)
	assert.False(t, res.Replayed)
	assert.Equal(t, "123456789012", res.Reservation.OwnerID)
	seen := make(map[string]bool)
	for i, instance := range res.Instances {
		assert.False(t, seen[instance.ID])
		seen[instance.ID] = true
		assert.Equal(t, i, instance.AmiLaunchIndex)
		assert.Equal(t, types.InstanceStatePending, instance.State)
		assert.Equal(t, "t3.micro", instance.InstanceType)
		assert.Equal(t, "us-east-1a", instance.AvailabilityZone)
		assert.Equal(t, "aki-1", instance.KernelID)
		assert.Equal(t, "/dev/sda1", instance.RootDeviceName)
		assert.Equal(t, []string{"sg-default"}, instance.SecurityGroupIDs())
		assert.NotEmpty(t, instance.PrivateIP)
		assert.Equal(t, "ip-"+dashed(instance.PrivateIP)+".ec2.internal", instance.PrivateDNSName)
		assert.Empty(t, instance.PublicIP)
	}
	assert.Len(t, env.exe.Calls("create"), 1)
	assert.Equal(t, 3, env.c.capacity.Used())

	reservation, err := env.reg.Reservation(t.Context(), res.Reservation.ID)
	require.NoError(t, err)
	assert.Len(t, reservation.InstanceIDs, 3)
}

func TestCreateTakesWhatCapacityAllows(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	res := env.create(t, CreateRequest{MinCount: 2, MaxCount: 10})
	assert.Len(t, res.Instances, 4)

	_, err := env.c.Create(t.Context(), CreateRequest{ImageID: testImage, MinCount: 1, MaxCount: 1})
	assert.True(t, api.IsCode(err, api.ErrorCodeInsufficientInstanceCapacity))
	assert.Equal(t, 4, env.count(t))
}

func TestCreatePerTypeCapacity(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	_, err := env.c.Create(t.Context(), CreateRequest{ImageID: testImage, InstanceType: "m5.large", MinCount: 2, MaxCount: 2})
	assert.True(t, api.IsCode(err, api.ErrorCodeInsufficientInstanceCapacity))
	assert.Zero(t, env.count(t))
	assert.Zero(t, env.c.capacity.Used())
}

func TestCreateValidation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		req  CreateRequest
		code string
	}{
		{name: "unknown image", req: CreateRequest{ImageID: "ami-nope", MinCount: 1, MaxCount: 1}, code: api.ErrorCodeImageNotFound},
		{name: "zero min", req: CreateRequest{ImageID: testImage, MaxCount: 1}, code: api.ErrorCodeInvalidParameterValue},
		{name: "max below min", req: CreateRequest{ImageID: testImage, MinCount: 2, MaxCount: 1}, code: api.ErrorCodeInvalidParameterValue},
		{name: "unknown zone", req: CreateRequest{ImageID: testImage, MinCount: 1, MaxCount: 1, AvailabilityZone: "eu-west-1a"}, code: api.ErrorCodeInvalidParameterValue},
		{name: "unknown group", req: CreateRequest{ImageID: testImage, MinCount: 1, MaxCount: 1, SecurityGroupIDs: []string{"sg-nope"}}, code: api.ErrorCodeSecurityGroupNotFound},
		{name: "unknown group name", req: CreateRequest{ImageID: testImage, MinCount: 1, MaxCount: 1, SecurityGroupNames: []string{"db"}}, code: api.ErrorCodeSecurityGroupNotFound},
		{name: "device without name", req: CreateRequest{ImageID: testImage, MinCount: 1, MaxCount: 1, BlockDeviceMappings: []BlockDeviceRequest{{}}}, code: api.ErrorCodeMissingParameter},
		{name: "bad volume size", req: CreateRequest{ImageID: testImage, MinCount: 1, MaxCount: 1, BlockDeviceMappings: []BlockDeviceRequest{{DeviceName: "/dev/xvdh", VolumeSize: aws.Int(0)}}}, code: api.ErrorCodeInvalidParameterValue},
		{name: "bad volume type", req: CreateRequest{ImageID: testImage, MinCount: 1, MaxCount: 1, BlockDeviceMappings: []BlockDeviceRequest{{DeviceName: "/dev/xvdh", VolumeType: "floppy"}}}, code: api.ErrorCodeInvalidParameterValue},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			env := newTestEnv(t)
			_, err := env.c.Create(t.Context(), tc.req)
			require.Error(t, err)
			assert.Equal(t, tc.code, api.ErrorCode(err), err.Error())
			assert.Zero(t, env.count(t))
			assert.Empty(t, env.exe.Calls("create"))
		})
	}
}

func TestCreateBlockDevices(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	res := env.create(t, CreateRequest{
		ImageID: testEBSImage,
		BlockDeviceMappings: []BlockDeviceRequest{
			{DeviceName: "/dev/xvdh", VolumeSize: aws.Int(1)},
			{DeviceName: "/dev/xvdi", DeleteOnTermination: aws.Bool(false), VolumeType: "gp2"},
		},
	})
	mappings := res.Instances[0].BlockDeviceMappings
	require.Len(t, mappings, 3)
	assert.Equal(t, "/dev/xvda", mappings[0].DeviceName)
	assert.Equal(t, 10, mappings[0].VolumeSize)
	assert.True(t, mappings[0].DeleteOnTermination)
	assert.Equal(t, 1, mappings[1].VolumeSize)
	assert.True(t, mappings[1].DeleteOnTermination)
	assert.NotEmpty(t, mappings[1].VolumeID)
	assert.False(t, mappings[2].DeleteOnTermination)
	assert.Equal(t, types.VolumeTypeGp2, mappings[2].VolumeType)
	assert.Equal(t, types.DeviceTypeEBS, res.Instances[0].RootDeviceType)
}

func TestCreateIdempotent(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	req := CreateRequest{ClientToken: "token", MinCount: 1, MaxCount: 2}
	first := env.create(t, req)
	second := env.create(t, req)

	assert.True(t, second.Replayed)
	assert.Equal(t, first.Reservation.ID, second.Reservation.ID)
	require.Len(t, second.Instances, 2)
	for i := range first.Instances {
		assert.Equal(t, first.Instances[i].ID, second.Instances[i].ID)
	}
	assert.Equal(t, 2, env.count(t))
	assert.Len(t, env.exe.Calls("create"), 1)

	_, err := env.c.Create(t.Context(), CreateRequest{ClientToken: "token", ImageID: testImage, InstanceType: "m5.large", MinCount: 1, MaxCount: 2})
	assert.True(t, api.IsCode(err, api.ErrorCodeIdempotentParameterMismatch))
	assert.Equal(t, 2, env.count(t))
}

func TestCreateRollsBackOnBackendFailure(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	env.exe.Fail("create", errors.New("daemon unreachable"))

	_, err := env.c.Create(t.Context(), CreateRequest{ClientToken: "token", ImageID: testImage, MinCount: 2, MaxCount: 2})
	require.Error(t, err)
	assert.True(t, api.IsInfrastructure(err))
	assert.Zero(t, env.count(t))
	assert.Zero(t, env.c.capacity.Used())
	assert.Zero(t, env.c.private.InUse())
	assert.Zero(t, env.tracker.Len())

	env.exe.Fail("create", nil)
	res := env.create(t, CreateRequest{ClientToken: "token", MinCount: 2, MaxCount: 2})
	assert.False(t, res.Replayed)
}

func TestRunningEvent(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	instance := env.running(t, CreateRequest{})
	assert.Equal(t, types.InstanceStateRunning, instance.State)
	assert.NotEmpty(t, instance.PublicIP)
	assert.Equal(t, "ec2-"+dashed(instance.PublicIP)+".compute-1.amazonaws.com", instance.PublicDNSName)
}

func TestRunningEventWithBackendAddress(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	res := env.create(t, CreateRequest{})
	env.c.HandleEvent(t.Context(), executor.Event{InstanceID: res.Instances[0].ID, Kind: executor.EventRunning, PrivateIP: "172.17.0.3"})
	instance := env.get(t, res.Instances[0].ID)
	assert.Equal(t, "172.17.0.3", instance.PrivateIP)
	assert.Equal(t, "ip-172-17-0-3.ec2.internal", instance.PrivateDNSName)
	assert.Zero(t, env.c.private.InUse())
}

func TestStaleEventsAreDropped(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	instance := env.running(t, CreateRequest{})

	_, err := env.c.Stop(t.Context(), []string{instance.ID}, false)
	require.NoError(t, err)
	env.c.HandleEvent(t.Context(), executor.Event{InstanceID: instance.ID, Kind: executor.EventStopped})

	// a duplicated running event must not revive a stopped instance
	env.c.HandleEvent(t.Context(), executor.Event{InstanceID: instance.ID, Kind: executor.EventRunning})
	env.c.HandleEvent(t.Context(), executor.Event{InstanceID: instance.ID, Kind: executor.EventTerminated})
	env.c.HandleEvent(t.Context(), executor.Event{InstanceID: "i-unknown", Kind: executor.EventRunning})
	assert.Equal(t, types.InstanceStateStopped, env.get(t, instance.ID).State)
}

func TestStop(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	instance := env.running(t, CreateRequest{})
	publicIP := instance.PublicIP

	changes, err := env.c.Stop(t.Context(), []string{instance.ID, instance.ID}, false)
	require.NoError(t, err)
	assert.Equal(t, []StateChange{{
		InstanceID:    instance.ID,
		PreviousState: types.InstanceStateRunning,
		CurrentState:  types.InstanceStateStopping,
	}}, changes)
	stopping := env.get(t, instance.ID)
	assert.Contains(t, stopping.StateTransitionReason, "User initiated")
	require.NotNil(t, stopping.StateReason)
	assert.Equal(t, "Client.UserInitiatedShutdown", stopping.StateReason.Code)

	env.c.HandleEvent(t.Context(), executor.Event{InstanceID: instance.ID, Kind: executor.EventStopped})
	stopped := env.get(t, instance.ID)
	assert.Equal(t, types.InstanceStateStopped, stopped.State)
	assert.Empty(t, stopped.PublicIP)
	assert.True(t, env.c.public.Reserve(publicIP))
}

func TestStopOutsideRunning(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	running := env.running(t, CreateRequest{})
	pending := env.create(t, CreateRequest{}).Instances[0]

	_, err := env.c.Stop(t.Context(), []string{running.ID, pending.ID}, false)
	assert.True(t, api.IsCode(err, api.ErrorCodeIncorrectInstanceState))
	assert.Equal(t, types.InstanceStateRunning, env.get(t, running.ID).State)
	assert.Empty(t, env.exe.Calls("stop"))

	_, err = env.c.Stop(t.Context(), []string{"i-missing"}, false)
	assert.True(t, api.IsCode(err, api.ErrorCodeInstanceNotFound))
}

func TestStopBackendFailureReverts(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	instance := env.running(t, CreateRequest{})
	env.exe.Fail("stop", errors.New("boom"))

	_, err := env.c.Stop(t.Context(), []string{instance.ID}, false)
	assert.True(t, api.IsInfrastructure(err))
	got := env.get(t, instance.ID)
	assert.Equal(t, types.InstanceStateRunning, got.State)
	assert.Nil(t, got.StateReason)
}

func TestStart(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	instance := env.running(t, CreateRequest{})
	_, err := env.c.Stop(t.Context(), []string{instance.ID}, true)
	require.NoError(t, err)

	_, err = env.c.Start(t.Context(), []string{instance.ID})
	assert.True(t, api.IsCode(err, api.ErrorCodeIncorrectInstanceState))

	env.c.HandleEvent(t.Context(), executor.Event{InstanceID: instance.ID, Kind: executor.EventStopped})
	changes, err := env.c.Start(t.Context(), []string{instance.ID})
	require.NoError(t, err)
	assert.Equal(t, types.InstanceStateStopped, changes[0].PreviousState)
	assert.Equal(t, types.InstanceStatePending, changes[0].CurrentState)
	assert.Equal(t, [][]string{{instance.ID}}, env.exe.Calls("start"))

	env.c.HandleEvent(t.Context(), executor.Event{InstanceID: instance.ID, Kind: executor.EventRunning})
	got := env.get(t, instance.ID)
	assert.Equal(t, types.InstanceStateRunning, got.State)
	assert.NotEmpty(t, got.PublicIP)

	changes, err = env.c.Start(t.Context(), []string{instance.ID})
	require.NoError(t, err)
	assert.Equal(t, types.InstanceStateRunning, changes[0].CurrentState)
	assert.Len(t, env.exe.Calls("start"), 1)
}

func TestTerminate(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	instance := env.running(t, CreateRequest{
		ImageID:             testEBSImage,
		BlockDeviceMappings: []BlockDeviceRequest{{DeviceName: "/dev/xvdh", DeleteOnTermination: aws.Bool(false)}},
	})

	changes, err := env.c.Terminate(t.Context(), []string{instance.ID})
	require.NoError(t, err)
	assert.Equal(t, types.InstanceStateRunning, changes[0].PreviousState)
	assert.Equal(t, types.InstanceStateShuttingDown, changes[0].CurrentState)

	changes, err = env.c.Terminate(t.Context(), []string{instance.ID})
	require.NoError(t, err)
	assert.Equal(t, types.InstanceStateShuttingDown, changes[0].PreviousState)
	assert.Equal(t, types.InstanceStateShuttingDown, changes[0].CurrentState)
	assert.Len(t, env.exe.Calls("terminate"), 1)

	env.c.HandleEvent(t.Context(), executor.Event{InstanceID: instance.ID, Kind: executor.EventTerminated})
	got := env.get(t, instance.ID)
	assert.Equal(t, types.InstanceStateTerminated, got.State)
	require.NotNil(t, got.TerminatedAt)
	assert.Empty(t, got.PrivateIP)
	assert.Empty(t, got.PublicIP)
	require.Len(t, got.BlockDeviceMappings, 1)
	assert.Equal(t, "/dev/xvdh", got.BlockDeviceMappings[0].DeviceName)
	assert.Equal(t, types.AttachmentStatusDetached, got.BlockDeviceMappings[0].Status)
	assert.Zero(t, env.c.capacity.Used())
	assert.Zero(t, env.c.private.InUse())
	assert.Zero(t, env.c.public.InUse())

	changes, err = env.c.Terminate(t.Context(), []string{instance.ID})
	require.NoError(t, err)
	assert.Equal(t, types.InstanceStateTerminated, changes[0].CurrentState)
	assert.Len(t, env.exe.Calls("terminate"), 1)
}

func TestTerminateProtected(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	protected := env.running(t, CreateRequest{DisableAPITermination: true})
	other := env.running(t, CreateRequest{})

	_, err := env.c.Terminate(t.Context(), []string{other.ID, protected.ID})
	assert.True(t, api.IsCode(err, api.ErrorCodeOperationNotPermitted))
	assert.Equal(t, types.InstanceStateRunning, env.get(t, other.ID).State)
	assert.Equal(t, types.InstanceStateRunning, env.get(t, protected.ID).State)
	assert.Empty(t, env.exe.Calls("terminate"))

	_, err = env.c.Terminate(t.Context(), []string{other.ID, "i-missing"})
	assert.True(t, api.IsCode(err, api.ErrorCodeInstanceNotFound))
	assert.Equal(t, types.InstanceStateRunning, env.get(t, other.ID).State)
}

func TestConcurrentTerminateCallsBackendOnce(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	instance := env.running(t, CreateRequest{})

	var wg sync.WaitGroup
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.c.Terminate(context.Background(), []string{instance.ID})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Len(t, env.exe.Calls("terminate"), 1)
}

func TestFailedBoot(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	res := env.create(t, CreateRequest{})
	id := res.Instances[0].ID
	env.c.HandleEvent(t.Context(), executor.Event{InstanceID: id, Kind: executor.EventFailed, Err: errors.New("no such image")})

	got := env.get(t, id)
	assert.Equal(t, types.InstanceStateTerminated, got.State)
	require.NotNil(t, got.StateReason)
	assert.Equal(t, "Server.InternalError", got.StateReason.Code)
	assert.Zero(t, env.c.capacity.Used())
}

type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestReapTerminated(t *testing.T) {
	t.Parallel()

	clock := &manualClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	env := newTestEnv(t, WithClock(clock.Now), WithTerminatedRetention(time.Hour))
	res := env.create(t, CreateRequest{MinCount: 2})
	first, second := res.Instances[0].ID, res.Instances[1].ID

	_, err := env.c.Terminate(t.Context(), []string{first})
	require.NoError(t, err)
	env.c.HandleEvent(t.Context(), executor.Event{InstanceID: first, Kind: executor.EventTerminated})

	clock.Advance(59 * time.Minute)
	assert.Zero(t, env.c.Reap(t.Context()))
	clock.Advance(time.Minute)
	assert.Equal(t, 1, env.c.Reap(t.Context()))

	_, err = env.reg.Get(t.Context(), first)
	assert.True(t, api.IsCode(err, api.ErrorCodeInstanceNotFound))
	_, err = env.reg.Reservation(t.Context(), res.Reservation.ID)
	require.NoError(t, err)

	_, err = env.c.Terminate(t.Context(), []string{second})
	require.NoError(t, err)
	env.c.HandleEvent(t.Context(), executor.Event{InstanceID: second, Kind: executor.EventTerminated})
	clock.Advance(time.Hour)
	assert.Equal(t, 1, env.c.Reap(t.Context()))
	_, err = env.reg.Reservation(t.Context(), res.Reservation.ID)
	assert.Error(t, err)
}

func TestZeroRetentionPurgesImmediately(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, WithTerminatedRetention(0))
	instance := env.running(t, CreateRequest{})
	_, err := env.c.Terminate(t.Context(), []string{instance.ID})
	require.NoError(t, err)
	env.c.HandleEvent(t.Context(), executor.Event{InstanceID: instance.ID, Kind: executor.EventTerminated})
	assert.Zero(t, env.count(t))
}

func TestRun(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)
	go func() { done <- env.c.Run(ctx) }()

	res := env.create(t, CreateRequest{})
	id := res.Instances[0].ID
	env.exe.events <- executor.Event{InstanceID: id, Kind: executor.EventRunning}
	require.Eventually(t, func() bool {
		instance, err := env.reg.Get(context.Background(), id)
		return err == nil && instance.State == types.InstanceStateRunning
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return")
	}
}

func TestOutputs(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	instance := env.running(t, CreateRequest{})
	env.exe.console[instance.ID] = "hello"

	output, err := env.c.ConsoleOutput(t.Context(), instance.ID)
	require.NoError(t, err)
	assert.Equal(t, "aGVsbG8=", output.Output)

	password, err := env.c.PasswordData(t.Context(), instance.ID)
	require.NoError(t, err)
	assert.Empty(t, password.PasswordData)
	assert.False(t, password.Timestamp.IsZero())

	_, err = env.c.ConsoleOutput(t.Context(), "i-missing")
	assert.True(t, api.IsCode(err, api.ErrorCodeInstanceNotFound))
	_, err = env.c.PasswordData(t.Context(), "i-missing")
	assert.True(t, api.IsCode(err, api.ErrorCodeInstanceNotFound))

	delete(env.exe.console, instance.ID)
	output, err = env.c.ConsoleOutput(t.Context(), instance.ID)
	require.NoError(t, err)
	assert.Empty(t, output.Output)
}

func TestRestore(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	pending := env.create(t, CreateRequest{}).Instances[0]
	running := env.running(t, CreateRequest{})

	restored := newTestEnvWithRegistry(t, env.reg)
	require.NoError(t, restored.c.Restore(t.Context()))

	assert.Equal(t, 2, restored.c.capacity.Used())
	assert.False(t, restored.c.private.Reserve(pending.PrivateIP))
	assert.False(t, restored.c.public.Reserve(running.PublicIP))
	require.Len(t, restored.exe.Calls("adopt"), 1)
	assert.ElementsMatch(t, []string{pending.ID, running.ID}, restored.exe.Calls("adopt")[0])
	assert.Equal(t, [][]string{{pending.ID}}, restored.exe.Calls("start"))
}

func TestRestoreClientTokens(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	first := env.create(t, CreateRequest{ClientToken: "token-1", MaxCount: 2})
	env.create(t, CreateRequest{})

	restored := newTestEnvWithRegistry(t, env.reg)
	require.NoError(t, restored.c.Restore(t.Context()))
	assert.Equal(t, 1, restored.tracker.Len())

	replay, err := restored.c.Create(t.Context(), CreateRequest{ImageID: testImage, MinCount: 1, MaxCount: 2, ClientToken: "token-1"})
	require.NoError(t, err)
	assert.True(t, replay.Replayed)
	assert.Equal(t, first.Reservation.ID, replay.Reservation.ID)
	require.Len(t, replay.Instances, len(first.Instances))
	for i := range first.Instances {
		assert.Equal(t, first.Instances[i].ID, replay.Instances[i].ID)
	}
	assert.Equal(t, 3, restored.count(t))

	_, err = restored.c.Create(t.Context(), CreateRequest{ImageID: testImage, MinCount: 1, MaxCount: 1, ClientToken: "token-1"})
	assert.True(t, api.IsCode(err, api.ErrorCodeIdempotentParameterMismatch))
	assert.Equal(t, 3, restored.count(t))
}
