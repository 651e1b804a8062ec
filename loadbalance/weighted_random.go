package loadbalance

import (
	"fmt"
	"math/rand"

	"github.com/tanpham/xrpc/registry"
)

// WeightedRandomBalancer picks an instance with probability proportional
// to its advertised weight (see the "weight=" registry data token).
type WeightedRandomBalancer struct{}

func (b *WeightedRandomBalancer) Pick(instances []registry.Instance) (*registry.Instance, error) {
	if len(instances) == 0 {
		return nil, fmt.Errorf("loadbalance: no instances available")
	}

	total := 0
	for _, inst := range instances {
		total += weight(inst)
	}

	r := rand.Intn(total)
	for i, inst := range instances {
		r -= weight(inst)
		if r < 0 {
			return &instances[i], nil
		}
	}

	return nil, fmt.Errorf("loadbalance: unexpected error in weighted random selection")
}

func (b *WeightedRandomBalancer) Name() string {
	return "WeightedRandom"
}
