package loadbalance

import (
	"fmt"
	"testing"

	"github.com/tanpham/xrpc/registry"
)

var testInstances = []registry.Instance{
	{Path: "/UserService/:8001", Data: "weight=10"},
	{Path: "/UserService/:8002", Data: "weight=5"},
	{Path: "/UserService/:8003", Data: "weight=10"},
}

func TestRoundRobin(t *testing.T) {
	b := &RoundRobinBalancer{}

	results := make([]string, 3)
	for i := 0; i < 3; i++ {
		inst, err := b.Pick(testInstances)
		if err != nil {
			t.Fatal(err)
		}
		results[i] = addr(*inst)
	}

	inst, _ := b.Pick(testInstances)
	if addr(*inst) != results[0] {
		t.Fatalf("expect wrap around to %s, got %s", results[0], addr(*inst))
	}
}

func TestRoundRobinEmpty(t *testing.T) {
	b := &RoundRobinBalancer{}
	_, err := b.Pick(nil)
	if err == nil {
		t.Fatal("expect error for empty instances")
	}
}

func TestWeightedRandom(t *testing.T) {
	b := &WeightedRandomBalancer{}

	counts := map[string]int{}
	n := 10000
	for i := 0; i < n; i++ {
		inst, err := b.Pick(testInstances)
		if err != nil {
			t.Fatal(err)
		}
		counts[addr(*inst)]++
	}

	ratio := float64(counts[":8001"]) / float64(counts[":8002"])
	if ratio < 1.5 || ratio > 2.5 {
		t.Fatalf("weight ratio :8001/:8002 = %.2f, expect ~2.0", ratio)
	}
}

func TestConsistentHash(t *testing.T) {
	b := NewConsistentHashBalancer()
	for _, inst := range testInstances {
		b.Add(inst)
	}

	inst1, _ := b.PickByKey("user-123")
	inst2, _ := b.PickByKey("user-123")
	if addr(*inst1) != addr(*inst2) {
		t.Fatalf("same key mapped to different instances: %s vs %s", addr(*inst1), addr(*inst2))
	}

	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		inst, _ := b.PickByKey(fmt.Sprintf("key-%d", i))
		seen[addr(*inst)] = true
	}

	if len(seen) < 2 {
		t.Fatalf("expect at least 2 different instances, got %d", len(seen))
	}
}
