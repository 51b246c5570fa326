package loadbalancer

import (
	"context"

	"github.com/angeloszaimis/dispatcher/internal/registry"
)

// LoadBalancer picks nodes round robin from the shared registry. The cursor
// lives in the counter store, so every dispatcher reading the same store
// shares one rotation per service.
type LoadBalancer struct {
	nodes           registry.NodeRegistry
	counter         registry.AtomicCounterStore
	maxPolling      int64
	defaultTargetID int64
}

func NewLoadBalancer(nodes registry.NodeRegistry, counter registry.AtomicCounterStore, maxPolling, defaultTargetID int64) *LoadBalancer {
	return &LoadBalancer{
		nodes:           nodes,
		counter:         counter,
		maxPolling:      maxPolling,
		defaultTargetID: defaultTargetID,
	}
}

// GetNodes returns the live nodes of a service minus except. Unknown
// services and empty node lists yield an empty slice, never an error; only
// store failures are returned.
//
// The result follows store order, which may change between calls if the
// node set is modified concurrently.
func (lb *LoadBalancer) GetNodes(ctx context.Context, serviceName string, except map[string]struct{}) ([]string, error) {
	ok, err := lb.nodes.Exists(ctx, serviceName)
	if err != nil || !ok {
		return nil, err
	}

	all, err := lb.nodes.ListNodes(ctx, serviceName)
	if err != nil {
		return nil, err
	}

	nodes := make([]string, 0, len(all))
	for _, node := range all {
		if _, skip := except[node]; skip {
			continue
		}
		nodes = append(nodes, node)
	}

	return nodes, nil
}

// NextPolling advances the service's counter and returns the new value.
// The counter is reset to the default target id when it lands on
// ceiling+1, or when it has run past twice the ceiling, where the ceiling
// is max(maxPolling, nodeCount).
func (lb *LoadBalancer) NextPolling(ctx context.Context, serviceName string, nodeCount int) (int64, error) {
	polling, err := lb.counter.Increment(ctx, serviceName)
	if err != nil {
		return 0, err
	}

	ceiling := max(lb.maxPolling, int64(nodeCount))
	if polling == ceiling+1 || polling > 2*ceiling {
		if err := lb.counter.Set(ctx, serviceName, lb.defaultTargetID); err != nil {
			return 0, err
		}
		polling = lb.defaultTargetID
	}

	return polling, nil
}

// GetTarget returns the next node for a service, or "" when no candidate
// remains. Listing and counting are separate reads, so a membership change
// in between can shift which node a counter value maps to.
func (lb *LoadBalancer) GetTarget(ctx context.Context, serviceName string, except map[string]struct{}) (string, error) {
	nodes, err := lb.GetNodes(ctx, serviceName, except)
	if err != nil || len(nodes) == 0 {
		return "", err
	}

	polling, err := lb.NextPolling(ctx, serviceName, len(nodes))
	if err != nil {
		return "", err
	}

	index := polling % int64(len(nodes))
	if index < 0 {
		index += int64(len(nodes))
	}

	return nodes[index], nil
}
