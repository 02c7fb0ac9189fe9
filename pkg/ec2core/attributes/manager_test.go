package attributes

import (
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fiam/ec2core/pkg/ec2core/api"
	"github.com/fiam/ec2core/pkg/ec2core/registry"
	"github.com/fiam/ec2core/pkg/ec2core/storage"
	"github.com/fiam/ec2core/pkg/ec2core/types"
)

type groupMap map[string]types.SecurityGroup

func (g groupMap) SecurityGroup(id string) (types.SecurityGroup, bool) {
	group, ok := g[id]
	return group, ok
}

func newManager(t *testing.T) *Manager {
	t.Helper()
	reg := registry.New(storage.NewMemoryStorage())
	require.NoError(t, reg.Put(t.Context(), &types.Instance{
		ID:             "i-1",
		InstanceType:   "t3.micro",
		KernelID:       "aki-1",
		RamdiskID:      "ari-1",
		RootDeviceName: "/dev/sda1",
		State:          types.InstanceStateRunning,
		SecurityGroups: []types.SecurityGroup{{ID: "sg-default", Name: "default"}},
		BlockDeviceMappings: []types.BlockDeviceMapping{
			{DeviceName: "/dev/xvdh", VolumeID: "vol-1", VolumeSize: 1, DeleteOnTermination: true},
		},
	}))
	return NewManager(reg, groupMap{
		"sg-default": {ID: "sg-default", Name: "default"},
		"sg-web":     {ID: "sg-web", Name: "web"},
	})
}

func TestDescribe(t *testing.T) {
	t.Parallel()

	m := newManager(t)

	v, err := m.Describe(t.Context(), "i-1", "disableApiTermination")
	require.NoError(t, err)
	require.NotNil(t, v.Bool)
	assert.False(t, *v.Bool)

	for name, expected := range map[string]string{
		"instanceType":   "t3.micro",
		"kernel":         "aki-1",
		"ramdisk":        "ari-1",
		"rootDeviceName": "/dev/sda1",
	} {
		v, err := m.Describe(t.Context(), "i-1", name)
		require.NoError(t, err, name)
		require.NotNil(t, v.String, name)
		assert.Equal(t, expected, *v.String, name)
	}

	v, err = m.Describe(t.Context(), "i-1", "groupSet")
	require.NoError(t, err)
	assert.Equal(t, []types.SecurityGroup{{ID: "sg-default", Name: "default"}}, v.Groups)

	v, err = m.Describe(t.Context(), "i-1", "blockDeviceMapping")
	require.NoError(t, err)
	require.Len(t, v.BlockDeviceMappings, 1)
	assert.Equal(t, "/dev/xvdh", v.BlockDeviceMappings[0].DeviceName)
}

func TestInstanceCheckedBeforeAttributeName(t *testing.T) {
	t.Parallel()

	m := newManager(t)

	_, err := m.Describe(t.Context(), "i-0", "fake_attribute")
	assert.True(t, api.IsCode(err, api.ErrorCodeInstanceNotFound))

	_, err = m.Modify(t.Context(), "i-0", ModifyRequest{Attribute: "fake_attribute", Value: aws.String("x")})
	assert.True(t, api.IsCode(err, api.ErrorCodeInstanceNotFound))

	err = m.Reset(t.Context(), "i-0", "fake_attribute")
	assert.True(t, api.IsCode(err, api.ErrorCodeInstanceNotFound))
}

func TestUnknownAttributeName(t *testing.T) {
	t.Parallel()

	m := newManager(t)

	_, err := m.Describe(t.Context(), "i-1", "fake_attribute")
	assert.True(t, api.IsCode(err, api.ErrorCodeInvalidParameterValue))

	_, err = m.Modify(t.Context(), "i-1", ModifyRequest{Attribute: "fake_attribute", Value: aws.String("x")})
	assert.True(t, api.IsCode(err, api.ErrorCodeInvalidParameterValue))

	err = m.Reset(t.Context(), "i-1", "fake_attribute")
	assert.True(t, api.IsCode(err, api.ErrorCodeInvalidParameterValue))
}

func TestModifyArgumentForms(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		req  ModifyRequest
		code string
	}{
		{
			name: "attribute without value",
			req:  ModifyRequest{Attribute: "disableApiTermination"},
			code: api.ErrorCodeMissingParameter,
		},
		{
			name: "nothing",
			req:  ModifyRequest{},
			code: api.ErrorCodeInvalidParameterCombination,
		},
		{
			name: "named and structured",
			req: ModifyRequest{
				Attribute:  "disableApiTermination",
				Value:      aws.String("False"),
				Structured: []Argument{{Name: types.AttributeDisableAPITermination, Value: aws.String("false")}},
			},
			code: api.ErrorCodeInvalidParameterCombination,
		},
		{
			name: "two structured",
			req: ModifyRequest{
				Structured: []Argument{
					{Name: types.AttributeDisableAPITermination, Value: aws.String("false")},
					{Name: types.AttributeGroupSet, Values: []string{"sg-web"}},
				},
			},
			code: api.ErrorCodeInvalidParameterCombination,
		},
		{
			name: "immutable named",
			req:  ModifyRequest{Attribute: "instanceType", Value: aws.String("m5.large")},
			code: api.ErrorCodeUnsupportedOperation,
		},
		{
			name: "immutable structured",
			req:  ModifyRequest{Structured: []Argument{{Name: types.AttributeKernel, Value: aws.String("aki-2")}}},
			code: api.ErrorCodeUnsupportedOperation,
		},
		{
			name: "not a boolean",
			req:  ModifyRequest{Attribute: "disableApiTermination", Value: aws.String("maybe")},
			code: api.ErrorCodeInvalidParameterValue,
		},
		{
			name: "unknown group",
			req:  ModifyRequest{Structured: []Argument{{Name: types.AttributeGroupSet, Values: []string{"sg-nope"}}}},
			code: api.ErrorCodeSecurityGroupNotFound,
		},
		{
			name: "empty group set",
			req:  ModifyRequest{Structured: []Argument{{Name: types.AttributeGroupSet}}},
			code: api.ErrorCodeInvalidParameterValue,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			m := newManager(t)
			_, err := m.Modify(t.Context(), "i-1", tc.req)
			require.Error(t, err)
			assert.Equal(t, tc.code, api.ErrorCode(err), err.Error())

			got, err := m.registry.Get(t.Context(), "i-1")
			require.NoError(t, err)
			assert.Zero(t, got.Revision)
		})
	}
}

func TestModifyDisableAPITerminationRoundTrip(t *testing.T) {
	t.Parallel()

	m := newManager(t)

	_, err := m.Modify(t.Context(), "i-1", ModifyRequest{Attribute: "disableApiTermination", Value: aws.String("True")})
	require.NoError(t, err)
	v, err := m.Describe(t.Context(), "i-1", "disableApiTermination")
	require.NoError(t, err)
	assert.True(t, *v.Bool)

	_, err = m.Modify(t.Context(), "i-1", ModifyRequest{
		Structured: []Argument{{Name: types.AttributeDisableAPITermination, Value: aws.String("false")}},
	})
	require.NoError(t, err)
	v, err = m.Describe(t.Context(), "i-1", "disableApiTermination")
	require.NoError(t, err)
	assert.False(t, *v.Bool)
}

func TestModifyGroupSet(t *testing.T) {
	t.Parallel()

	m := newManager(t)
	updated, err := m.Modify(t.Context(), "i-1", ModifyRequest{
		Structured: []Argument{{Name: types.AttributeGroupSet, Values: []string{"sg-web", "sg-default", "sg-web"}}},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"sg-web", "sg-default"}, updated.SecurityGroupIDs())
}

func TestResetIsNotSupported(t *testing.T) {
	t.Parallel()

	m := newManager(t)
	for _, name := range Names() {
		err := m.Reset(t.Context(), "i-1", string(name))
		assert.True(t, api.IsCode(err, api.ErrorCodeInvalidParameterValue), name)
	}
}
