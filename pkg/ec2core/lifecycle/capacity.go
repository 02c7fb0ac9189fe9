package lifecycle

import (
	"sync"

	"github.com/fiam/ec2core/pkg/ec2core/api"
)

// capacityPool tracks how many instance slots are in use, in total and
// per instance type
type capacityPool struct {
	mu         sync.Mutex
	total      int
	perType    map[string]int
	used       int
	usedByType map[string]int
}

func newCapacityPool(total int, perType map[string]int) *capacityPool {
	limits := make(map[string]int, len(perType))
	for instanceType, n := range perType {
		limits[instanceType] = n
	}
	return &capacityPool{
		total:      total,
		perType:    limits,
		usedByType: make(map[string]int),
	}
}

func (c *capacityPool) freeLocked(instanceType string) int {
	free := c.total - c.used
	if limit, ok := c.perType[instanceType]; ok {
		free = min(free, limit-c.usedByType[instanceType])
	}
	return max(free, 0)
}

// Acquire takes as many slots as possible between minCount and maxCount.
// It fails without taking anything when fewer than minCount are free.
func (c *capacityPool) Acquire(instanceType string, minCount int, maxCount int) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	free := c.freeLocked(instanceType)
	if free < minCount {
		return 0, api.InsufficientInstanceCapacityError(instanceType, minCount, free)
	}
	n := min(maxCount, free)
	c.used += n
	c.usedByType[instanceType] += n
	return n, nil
}

// Reserve takes n slots regardless of the limits, for instances that
// already exist
func (c *capacityPool) Reserve(instanceType string, n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.used += n
	c.usedByType[instanceType] += n
}

func (c *capacityPool) Release(instanceType string, n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.used = max(c.used-n, 0)
	c.usedByType[instanceType] = max(c.usedByType[instanceType]-n, 0)
}

func (c *capacityPool) Used() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.used
}
