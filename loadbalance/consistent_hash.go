package loadbalance

import (
	"fmt"
	"hash/crc32"
	"sort"
	"sync"

	"github.com/tanpham/xrpc/registry"
)

// ConsistentHashBalancer maps keys to instances using a hash ring.
// The same key always maps to the same instance (until the ring changes),
// providing cache affinity — useful for stateful services or local caches.
//
// Virtual nodes: each real instance is mapped to N virtual nodes on the ring.
// Without virtual nodes, 3 instances might cluster together on the ring,
// causing uneven load distribution. 100 virtual nodes per instance ensures
// statistical uniformity.
type ConsistentHashBalancer struct {
	mu       sync.Mutex                // Serializes Pick's ring rebuild
	replicas int                       // Virtual nodes per real instance
	ring     []uint32                  // Sorted hash values on the ring
	nodes    map[uint32]registry.Instance // Hash value -> instance
}

// NewConsistentHashBalancer creates a hash ring with 100 virtual nodes per instance.
func NewConsistentHashBalancer() *ConsistentHashBalancer {
	return &ConsistentHashBalancer{
		replicas: 100,
		nodes:    make(map[uint32]registry.Instance),
	}
}

// Add places an instance onto the hash ring with N virtual nodes.
// Each virtual node is hashed from "{addr}#{i}" to spread evenly across the ring.
func (b *ConsistentHashBalancer) Add(inst registry.Instance) {
	for i := 0; i < b.replicas; i++ {
		key := fmt.Sprintf("%s#%d", addr(inst), i)
		hash := crc32.ChecksumIEEE([]byte(key))
		b.ring = append(b.ring, hash)
		b.nodes[hash] = inst
	}
	sort.Slice(b.ring, func(i, j int) bool {
		return b.ring[i] < b.ring[j]
	})
}

// Reset clears the ring so it can be rebuilt from a fresh instance list.
func (b *ConsistentHashBalancer) Reset() {
	b.ring = b.ring[:0]
	b.nodes = make(map[uint32]registry.Instance)
}

// PickByKey finds the instance responsible for key: hash it, then find
// the first node clockwise on the ring, wrapping around to the first
// node if the hash exceeds every entry.
func (b *ConsistentHashBalancer) PickByKey(key string) (*registry.Instance, error) {
	if len(b.ring) == 0 {
		return nil, fmt.Errorf("loadbalance: no instances available")
	}

	hash := crc32.ChecksumIEEE([]byte(key))
	idx := sort.Search(len(b.ring), func(i int) bool {
		return b.ring[i] >= hash
	})
	if idx == len(b.ring) {
		idx = 0
	}

	inst := b.nodes[b.ring[idx]]
	return &inst, nil
}

// Pick satisfies Balancer by rebuilding the ring from instances and
// keying on the first instance's path, so ConsistentHashBalancer
// remains a drop-in Balancer even though its natural API is key-based.
func (b *ConsistentHashBalancer) Pick(instances []registry.Instance) (*registry.Instance, error) {
	if len(instances) == 0 {
		return nil, fmt.Errorf("loadbalance: no instances available")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.Reset()
	for _, inst := range instances {
		b.Add(inst)
	}
	return b.PickByKey(instances[0].Path)
}

func (b *ConsistentHashBalancer) Name() string {
	return "ConsistentHash"
}
