package attributes

import (
	"strconv"
	"strings"

	"github.com/fiam/ec2core/pkg/ec2core/api"
	"github.com/fiam/ec2core/pkg/ec2core/types"
)

// Value holds the current value of a single attribute. Exactly one of the
// fields besides Name is meaningful, depending on the attribute shape.
type Value struct {
	Name                types.AttributeName
	Bool                *bool
	String              *string
	Groups              []types.SecurityGroup
	BlockDeviceMappings []types.BlockDeviceMapping
}

// Argument is a single requested attribute write. Scalar attributes use
// Value; list attributes use Values.
type Argument struct {
	Name   types.AttributeName
	Value  *string
	Values []string
}

type setter func(m *Manager, instance *types.Instance, arg Argument) error

type descriptor struct {
	name types.AttributeName
	get  func(instance *types.Instance) Value
	// set is nil for attributes that cannot be written after launch
	set setter
	// reset is nil for attributes without a well-defined default
	reset func(instance *types.Instance)
}

func stringValue(name types.AttributeName, field func(*types.Instance) string) func(*types.Instance) Value {
	return func(instance *types.Instance) Value {
		s := field(instance)
		return Value{Name: name, String: &s}
	}
}

var descriptors = map[types.AttributeName]descriptor{
	types.AttributeDisableAPITermination: {
		name: types.AttributeDisableAPITermination,
		get: func(instance *types.Instance) Value {
			v := instance.DisableAPITermination
			return Value{Name: types.AttributeDisableAPITermination, Bool: &v}
		},
		set: setDisableAPITermination,
	},
	types.AttributeInstanceType: {
		name: types.AttributeInstanceType,
		get:  stringValue(types.AttributeInstanceType, func(i *types.Instance) string { return i.InstanceType }),
	},
	types.AttributeKernel: {
		name: types.AttributeKernel,
		get:  stringValue(types.AttributeKernel, func(i *types.Instance) string { return i.KernelID }),
	},
	types.AttributeRamdisk: {
		name: types.AttributeRamdisk,
		get:  stringValue(types.AttributeRamdisk, func(i *types.Instance) string { return i.RamdiskID }),
	},
	types.AttributeRootDeviceName: {
		name: types.AttributeRootDeviceName,
		get:  stringValue(types.AttributeRootDeviceName, func(i *types.Instance) string { return i.RootDeviceName }),
	},
	types.AttributeUserData: {
		name: types.AttributeUserData,
		get:  stringValue(types.AttributeUserData, func(i *types.Instance) string { return i.UserData }),
	},
	types.AttributeBlockDeviceMapping: {
		name: types.AttributeBlockDeviceMapping,
		get: func(instance *types.Instance) Value {
			return Value{Name: types.AttributeBlockDeviceMapping, BlockDeviceMappings: instance.BlockDeviceMappings}
		},
	},
	types.AttributeGroupSet: {
		name: types.AttributeGroupSet,
		get: func(instance *types.Instance) Value {
			return Value{Name: types.AttributeGroupSet, Groups: instance.SecurityGroups}
		},
		set: setGroupSet,
	},
}

func lookup(name string) (descriptor, bool) {
	d, ok := descriptors[types.AttributeName(name)]
	return d, ok
}

// Names returns the supported attribute names
func Names() []types.AttributeName {
	names := make([]types.AttributeName, 0, len(descriptors))
	for name := range descriptors {
		names = append(names, name)
	}
	return names
}

func setDisableAPITermination(_ *Manager, instance *types.Instance, arg Argument) error {
	if arg.Value == nil {
		return api.MissingParameterError("DisableApiTermination.Value")
	}
	v, err := strconv.ParseBool(strings.TrimSpace(*arg.Value))
	if err != nil {
		return api.InvalidParameterValueError(string(arg.Name), *arg.Value)
	}
	instance.DisableAPITermination = v
	return nil
}

func setGroupSet(m *Manager, instance *types.Instance, arg Argument) error {
	ids := arg.Values
	if len(ids) == 0 && arg.Value != nil {
		ids = []string{*arg.Value}
	}
	if len(ids) == 0 {
		return api.InvalidParameterValueError(string(arg.Name), "")
	}
	groups := make([]types.SecurityGroup, 0, len(ids))
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			return api.InvalidParameterValueError(string(arg.Name), id)
		}
		if seen[id] {
			continue
		}
		seen[id] = true
		group, ok := m.groups.SecurityGroup(id)
		if !ok {
			return api.SecurityGroupNotFoundError(id)
		}
		groups = append(groups, group)
	}
	instance.SecurityGroups = groups
	return nil
}
