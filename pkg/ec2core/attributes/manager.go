// Package attributes implements get, set and reset of the named instance
// attributes over the instance registry.
package attributes

import (
	"context"
	"log/slog"

	"github.com/fiam/ec2core/pkg/ec2core/api"
	"github.com/fiam/ec2core/pkg/ec2core/registry"
	"github.com/fiam/ec2core/pkg/ec2core/types"
)

// GroupCatalog resolves security group ids
type GroupCatalog interface {
	SecurityGroup(id string) (types.SecurityGroup, bool)
}

type Manager struct {
	registry *registry.Registry
	groups   GroupCatalog
}

func NewManager(reg *registry.Registry, groups GroupCatalog) *Manager {
	return &Manager{
		registry: reg,
		groups:   groups,
	}
}

// ModifyRequest carries the two mutually exclusive ways of writing an
// attribute: a named Attribute/Value pair or structured arguments.
type ModifyRequest struct {
	Attribute  string
	Value      *string
	Structured []Argument
}

// Describe returns the current value of the named attribute
func (m *Manager) Describe(ctx context.Context, instanceID string, name string) (Value, error) {
	instance, err := m.registry.Get(ctx, instanceID)
	if err != nil {
		return Value{}, err
	}
	d, ok := lookup(name)
	if !ok {
		return Value{}, api.InvalidAttributeNameError(name)
	}
	return d.get(instance), nil
}

// argument checks the request form and returns the single write it asks for
func (m *Manager) argument(req ModifyRequest) (descriptor, Argument, error) {
	if req.Attribute != "" {
		d, ok := lookup(req.Attribute)
		if !ok {
			return descriptor{}, Argument{}, api.InvalidAttributeNameError(req.Attribute)
		}
		if len(req.Structured) > 0 {
			return descriptor{}, Argument{}, api.InvalidParameterCombinationError(
				"Fields for multiple attribute types specified: " + req.Attribute + ", " + string(req.Structured[0].Name))
		}
		if req.Value == nil {
			return descriptor{}, Argument{}, api.MissingParameterError("Value")
		}
		return d, Argument{Name: d.name, Value: req.Value}, nil
	}
	switch len(req.Structured) {
	case 0:
		return descriptor{}, Argument{}, api.InvalidParameterCombinationError("No attributes specified.")
	case 1:
	default:
		return descriptor{}, Argument{}, api.InvalidParameterCombinationError(
			"Fields for multiple attribute types specified: " + string(req.Structured[0].Name) + ", " + string(req.Structured[1].Name))
	}
	arg := req.Structured[0]
	d, ok := lookup(string(arg.Name))
	if !ok {
		return descriptor{}, Argument{}, api.InvalidAttributeNameError(string(arg.Name))
	}
	return d, arg, nil
}

// Modify writes a single attribute. Instance existence is checked first,
// then the attribute name, the argument form, mutability and finally the
// value itself. Nothing is written unless every check passes.
func (m *Manager) Modify(ctx context.Context, instanceID string, req ModifyRequest) (*types.Instance, error) {
	if _, err := m.registry.Get(ctx, instanceID); err != nil {
		return nil, err
	}
	d, arg, err := m.argument(req)
	if err != nil {
		return nil, err
	}
	if d.set == nil {
		return nil, api.UnsupportedOperationError("The attribute '" + string(d.name) + "' cannot be modified.")
	}
	updated, err := m.registry.Update(ctx, instanceID, func(instance *types.Instance) error {
		return d.set(m, instance, arg)
	})
	if err != nil {
		return nil, err
	}
	api.Logger(ctx).Info("modified instance attribute",
		slog.String("instance_id", instanceID), slog.String("attribute", string(d.name)))
	return updated, nil
}

// Reset restores an attribute to its default
func (m *Manager) Reset(ctx context.Context, instanceID string, name string) error {
	if _, err := m.registry.Get(ctx, instanceID); err != nil {
		return err
	}
	d, ok := lookup(name)
	if !ok {
		return api.InvalidAttributeNameError(name)
	}
	if d.reset == nil {
		return api.InvalidParameterValueError("attribute", name)
	}
	_, err := m.registry.Update(ctx, instanceID, func(instance *types.Instance) error {
		d.reset(instance)
		return nil
	})
	return err
}
