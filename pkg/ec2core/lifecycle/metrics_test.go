package lifecycle

import (
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/fiam/ec2core/pkg/ec2core/api"
	"github.com/fiam/ec2core/pkg/ec2core/metrics"
	"github.com/fiam/ec2core/pkg/ec2core/registry"
	"github.com/fiam/ec2core/pkg/ec2core/storage"
	"github.com/fiam/ec2core/pkg/ec2core/types"
)

// flakyStorage fails instance updates while failUpdates is set
type flakyStorage struct {
	storage.Storage
	failUpdates atomic.Bool
}

func (s *flakyStorage) UpdateInstances(instances []*types.Instance) error {
	if s.failUpdates.Load() {
		return errors.Join(storage.ErrUnavailable, errors.New("disk full"))
	}
	return s.Storage.UpdateInstances(instances)
}

func transitionCount(t *testing.T, reader *sdkmetric.ManualReader, from string, to string) int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(t.Context(), &rm))
	var total int64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != "ec2core_instance_transitions" {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			require.True(t, ok)
			for _, dp := range sum.DataPoints {
				gotFrom, _ := dp.Attributes.Value(attribute.Key("from"))
				gotTo, _ := dp.Attributes.Value(attribute.Key("to"))
				if gotFrom.AsString() == from && gotTo.AsString() == to {
					total += dp.Value
				}
			}
		}
	}
	return total
}

func TestTransitionsCountedOnCommit(t *testing.T) {
	t.Parallel()

	reader := sdkmetric.NewManualReader()
	m, err := metrics.NewWithReader(reader)
	require.NoError(t, err)
	store := &flakyStorage{Storage: storage.NewMemoryStorage()}
	env := newTestEnvWithRegistry(t, registry.New(store), WithMetrics(m))

	instance := env.running(t, CreateRequest{})
	assert.EqualValues(t, 1, transitionCount(t, reader, "pending", "running"))

	store.failUpdates.Store(true)
	_, err = env.c.Stop(t.Context(), []string{instance.ID}, false)
	assert.True(t, api.IsInfrastructure(err))
	_, err = env.c.Terminate(t.Context(), []string{instance.ID})
	assert.True(t, api.IsInfrastructure(err))
	assert.Zero(t, transitionCount(t, reader, "running", "stopping"))
	assert.Zero(t, transitionCount(t, reader, "running", "shutting-down"))

	store.failUpdates.Store(false)
	_, err = env.c.Stop(t.Context(), []string{instance.ID}, false)
	require.NoError(t, err)
	assert.EqualValues(t, 1, transitionCount(t, reader, "running", "stopping"))
	assert.Equal(t, types.InstanceStateStopping, env.get(t, instance.ID).State)
}
