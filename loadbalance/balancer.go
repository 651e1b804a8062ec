// Package loadbalance provides load balancing strategies for distributing
// RPC requests across multiple service instances.
//
// Three strategies are implemented:
//   - RoundRobin:      Stateless services, equal-capacity instances
//   - WeightedRandom:  Heterogeneous instances (different CPU/memory)
//   - ConsistentHash:  Stateful services requiring cache affinity
package loadbalance

import (
	"strconv"
	"strings"

	"github.com/tanpham/xrpc/registry"
)

// Balancer is the interface for load balancing strategies.
// The channel calls Pick() before each RPC to select a target instance.
type Balancer interface {
	// Pick selects one instance from the available list.
	// Called on every RPC call — must be goroutine-safe.
	Pick(instances []registry.Instance) (*registry.Instance, error)

	// Name returns the strategy name (for logging/debugging).
	Name() string
}

// addr extracts the dial address from an instance path, e.g.
// "/UserService/127.0.0.1:8080" -> "127.0.0.1:8080".
func addr(inst registry.Instance) string {
	idx := strings.LastIndex(inst.Path, "/")
	if idx < 0 {
		return inst.Path
	}
	return inst.Path[idx+1:]
}

// weight reads the "weight=" token out of an instance's data string,
// defaulting to 1 for instances that don't advertise one.
func weight(inst registry.Instance) int {
	for _, tok := range strings.Split(inst.Data, ",") {
		if v, ok := strings.CutPrefix(tok, "weight="); ok {
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				return n
			}
		}
	}
	return 1
}
