package loadbalance

import (
	"errors"
	"sync/atomic"

	"hello-rpc/registry"
)

var ErrNoInstances = errors.New("no instances available")

// RoundRobinBalancer distributes requests evenly across all instances in
// order, using an atomic counter for lock-free goroutine safety. All greeter
// instances are equal, so this is the only strategy the client exposes.
type RoundRobinBalancer struct {
	counter atomic.Int64
}

// Pick selects the next instance in round-robin order.
func (b *RoundRobinBalancer) Pick(instances []registry.ServiceInstance) (*registry.ServiceInstance, error) {
	if len(instances) == 0 {
		return nil, ErrNoInstances
	}
	index := b.counter.Add(1) % int64(len(instances))
	return &instances[index], nil
}

func (b *RoundRobinBalancer) Name() string {
	return "RoundRobin"
}
