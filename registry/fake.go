package registry

import (
	"context"
	"strings"
	"sync"
)

// fakeBackend is an in-memory Backend used by registry_test.go and by
// other packages' tests (channel, server) that need a registry without a
// live etcd, per SPEC_FULL.md §9 ("a real etcd is not assumed available
// in unit tests").
type fakeBackend struct {
	mu    sync.Mutex
	nodes map[string]string
	subs  map[string][]chan fakeEvent
	state SessionState
}

type fakeEvent struct {
	data    string
	deleted bool
}

// NewFakeBackend returns a connected, empty in-memory Backend.
func NewFakeBackend() Backend {
	return &fakeBackend{
		nodes: make(map[string]string),
		subs:  make(map[string][]chan fakeEvent),
		state: StateConnected,
	}
}

func (b *fakeBackend) EnsureParent(ctx context.Context, path string) error {
	return nil
}

func (b *fakeBackend) Create(ctx context.Context, path, data string, ephemeral bool) error {
	b.mu.Lock()
	if _, exists := b.nodes[path]; exists {
		b.mu.Unlock()
		return ErrAlreadyExists
	}
	b.nodes[path] = data
	b.mu.Unlock()
	b.publish(path, fakeEvent{data: data})
	return nil
}

func (b *fakeBackend) Set(ctx context.Context, path, data string) error {
	b.mu.Lock()
	b.nodes[path] = data
	b.mu.Unlock()
	b.publish(path, fakeEvent{data: data})
	return nil
}

func (b *fakeBackend) Get(ctx context.Context, path string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	data, ok := b.nodes[path]
	if !ok {
		return "", ErrNotFound
	}
	return data, nil
}

func (b *fakeBackend) Children(ctx context.Context, path string) ([]string, error) {
	prefix := strings.TrimSuffix(path, "/") + "/"
	b.mu.Lock()
	defer b.mu.Unlock()

	var out []string
	for p := range b.nodes {
		if strings.HasPrefix(p, prefix) {
			out = append(out, p)
		}
	}
	return out, nil
}

func (b *fakeBackend) Delete(ctx context.Context, path string) error {
	b.mu.Lock()
	delete(b.nodes, path)
	b.mu.Unlock()
	b.publish(path, fakeEvent{deleted: true})
	return nil
}

func (b *fakeBackend) WatchOnce(ctx context.Context, path string) (string, bool, error) {
	ch := make(chan fakeEvent, 1)
	b.mu.Lock()
	b.subs[path] = append(b.subs[path], ch)
	b.mu.Unlock()

	select {
	case ev := <-ch:
		return ev.data, ev.deleted, nil
	case <-ctx.Done():
		b.unsubscribe(path, ch)
		return "", false, ctx.Err()
	}
}

func (b *fakeBackend) unsubscribe(path string, ch chan fakeEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.subs[path]
	for i, c := range subs {
		if c == ch {
			b.subs[path] = append(subs[:i], subs[i+1:]...)
			return
		}
	}
}

func (b *fakeBackend) publish(path string, ev fakeEvent) {
	b.mu.Lock()
	subs := b.subs[path]
	delete(b.subs, path)
	b.mu.Unlock()

	for _, ch := range subs {
		ch <- ev
	}
}

func (b *fakeBackend) State() SessionState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// SetState lets tests simulate session expiry.
func (b *fakeBackend) SetState(s SessionState) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = s
}

func (b *fakeBackend) Close() error {
	return nil
}
