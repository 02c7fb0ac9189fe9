// Package query answers describe requests over the instance registry.
package query

import (
	"cmp"
	"context"
	"maps"
	"slices"
	"sync"

	"github.com/fiam/ec2core/pkg/ec2core/api"
	"github.com/fiam/ec2core/pkg/ec2core/registry"
	"github.com/fiam/ec2core/pkg/ec2core/types"
)

// ReservationView groups the described instances launched by the same
// request.
type ReservationView struct {
	ReservationID string
	OwnerID       string
	Instances     []*types.Instance
}

type Engine struct {
	registry *registry.Registry

	mu     sync.RWMutex
	fields map[string]Field
}

func NewEngine(reg *registry.Registry) *Engine {
	return &Engine{
		registry: reg,
		fields:   maps.Clone(defaultFields),
	}
}

// Register adds or replaces the filter with the given name
func (e *Engine) Register(name string, f Field) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.fields[name] = f
}

type compiled struct {
	field  Field
	values []string
}

func (e *Engine) compile(filters []api.Filter) ([]compiled, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]compiled, 0, len(filters))
	for _, filter := range filters {
		if err := checkFilter(filter); err != nil {
			return nil, err
		}
		f, ok := e.fields[*filter.Name]
		if !ok {
			return nil, api.InvalidParameterValueError("Filter.Name", *filter.Name)
		}
		out = append(out, compiled{field: f, values: filter.Values})
	}
	return out, nil
}

func checkFilter(filter api.Filter) error {
	if filter.Name == nil {
		return api.InvalidParameterValueError("Filter.Name", "<missing>")
	}
	if *filter.Name == "" {
		return api.InvalidParameterValueError("Filter.Name", "<empty>")
	}
	if filter.Values == nil {
		return api.InvalidParameterValueError("Filter.Value", "<missing>")
	}
	return nil
}

// Describe resolves ids first (every id must exist) and then narrows the
// result with filters. With no ids every instance is a candidate.
func (e *Engine) Describe(ctx context.Context, ids []string, filters []api.Filter) ([]ReservationView, error) {
	compiledFilters, err := e.compile(filters)
	if err != nil {
		return nil, err
	}
	candidates, err := e.resolve(ctx, ids)
	if err != nil {
		return nil, err
	}
	matched := candidates[:0]
	for _, instance := range candidates {
		if matchesAll(instance, compiledFilters) {
			matched = append(matched, instance)
		}
	}
	return e.group(ctx, matched), nil
}

// Instances is Describe without the grouping
func (e *Engine) Instances(ctx context.Context, ids []string, filters []api.Filter) ([]*types.Instance, error) {
	views, err := e.Describe(ctx, ids, filters)
	if err != nil {
		return nil, err
	}
	var out []*types.Instance
	for _, v := range views {
		out = append(out, v.Instances...)
	}
	return out, nil
}

func (e *Engine) resolve(ctx context.Context, ids []string) ([]*types.Instance, error) {
	if len(ids) == 0 {
		return e.registry.List(ctx, nil)
	}
	unique := make(map[string]bool, len(ids))
	for _, id := range ids {
		unique[id] = true
	}
	instances, err := e.registry.List(ctx, func(instance *types.Instance) bool {
		return unique[instance.ID]
	})
	if err != nil {
		return nil, err
	}
	if len(instances) != len(unique) {
		found := make(map[string]bool, len(instances))
		for _, instance := range instances {
			found[instance.ID] = true
		}
		var missing []string
		for _, id := range ids {
			if !found[id] && !slices.Contains(missing, id) {
				missing = append(missing, id)
			}
		}
		return nil, api.InstanceNotFoundError(missing...)
	}
	return instances, nil
}

func matchesAll(instance *types.Instance, filters []compiled) bool {
	for _, f := range filters {
		if !matchAny(f.values, f.field(instance)) {
			return false
		}
	}
	return true
}

func (e *Engine) group(ctx context.Context, instances []*types.Instance) []ReservationView {
	byReservation := make(map[string]*ReservationView)
	for _, instance := range instances {
		view, ok := byReservation[instance.ReservationID]
		if !ok {
			view = &ReservationView{
				ReservationID: instance.ReservationID,
				OwnerID:       instance.OwnerID,
			}
			if reservation, err := e.registry.Reservation(ctx, instance.ReservationID); err == nil {
				view.OwnerID = reservation.OwnerID
			}
			byReservation[instance.ReservationID] = view
		}
		view.Instances = append(view.Instances, instance)
	}
	views := make([]ReservationView, 0, len(byReservation))
	for _, id := range slices.Sorted(maps.Keys(byReservation)) {
		view := byReservation[id]
		slices.SortFunc(view.Instances, func(a, b *types.Instance) int {
			return cmp.Or(cmp.Compare(a.AmiLaunchIndex, b.AmiLaunchIndex), cmp.Compare(a.ID, b.ID))
		})
		views = append(views, *view)
	}
	return views
}
