package registry

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/tanpham/xrpc/xlog"
)

// heartbeatMinInterval/Max bound the jittered sweep spec.md §4.D asks
// for ("every ~2-10 seconds").
const (
	heartbeatMinInterval = 2 * time.Second
	heartbeatMaxInterval = 10 * time.Second
)

// Client is the caching, watchable registry facade of spec.md §4.D. It
// is backend-agnostic (see Backend in registry.go) so the cache/watch/
// heartbeat logic here is exercised the same way whether the underlying
// coordination service is a live etcd cluster or the in-memory fake used
// by tests.
type Client struct {
	backend Backend
	log     xlog.Logger

	sessionMu sync.Mutex // serializes calls that touch the backend handle

	cacheMu  sync.Mutex
	cache    map[string][]Instance // service -> instances
	watchers map[string]WatchCallback

	stopCh chan struct{}
	wg     sync.WaitGroup

	// closeCtx is canceled by Stop so a watchLoop parked inside a
	// blocking backend.WatchOnce (which only observes its own ctx, never
	// stopCh) unblocks instead of deadlocking Stop's wg.Wait.
	closeCtx    context.Context
	closeCancel context.CancelFunc
}

// Start opens a session against backend and begins the heartbeat sweep.
// The retry-with-backoff requirement of spec.md §4.D lives in the
// concrete backend constructor (see DialEtcd in client_etcd.go); Start
// itself just wires the cache/heartbeat machinery around an
// already-connected Backend.
func Start(backend Backend, log xlog.Logger) *Client {
	closeCtx, closeCancel := context.WithCancel(context.Background())
	c := &Client{
		backend:     backend,
		log:         xlog.Or(log),
		cache:       make(map[string][]Instance),
		watchers:    make(map[string]WatchCallback),
		stopCh:      make(chan struct{}),
		closeCtx:    closeCtx,
		closeCancel: closeCancel,
	}
	c.wg.Add(1)
	go c.heartbeatLoop()
	return c
}

// Stop tears down in reverse of Start: stop the heartbeat, unblock any
// watchLoop parked in the backend, clear the watcher and cache tables,
// close the session. closeCancel runs before wg.Wait so a watch armed
// with a non-cancelable caller ctx cannot hang this call indefinitely.
func (c *Client) Stop() error {
	close(c.stopCh)
	c.closeCancel()
	c.wg.Wait()

	c.cacheMu.Lock()
	c.cache = make(map[string][]Instance)
	c.watchers = make(map[string]WatchCallback)
	c.cacheMu.Unlock()

	c.sessionMu.Lock()
	defer c.sessionMu.Unlock()
	return c.backend.Close()
}

func serviceOf(path string) string {
	trimmed := strings.TrimPrefix(path, "/")
	parts := strings.SplitN(trimmed, "/", 2)
	return parts[0]
}

func parentOf(path string) string {
	idx := strings.LastIndex(strings.TrimSuffix(path, "/"), "/")
	if idx <= 0 {
		return "/"
	}
	return path[:idx]
}

// Register implements spec.md §4.D's write path: ensure the parent
// exists, create-or-set the node, then update the cache.
func (c *Client) Register(ctx context.Context, path, data string, ephemeral bool) error {
	parent := parentOf(path)

	c.sessionMu.Lock()
	err := c.backend.EnsureParent(ctx, parent)
	if err == nil {
		if _, getErr := c.backend.Get(ctx, path); getErr == nil {
			err = c.backend.Set(ctx, path, data)
		} else {
			err = c.backend.Create(ctx, path, data, ephemeral)
		}
	}
	c.sessionMu.Unlock()
	if err != nil {
		return fmt.Errorf("registry: register %s: %w", path, err)
	}

	c.upsertCache(path, data)
	return nil
}

func (c *Client) upsertCache(path, data string) {
	service := serviceOf(path)
	c.cacheMu.Lock()
	defer c.cacheMu.Unlock()

	list := c.cache[service]
	for i, inst := range list {
		if inst.Path == path {
			list[i].Data = data
			return
		}
	}
	c.cache[service] = append(list, Instance{Path: path, Data: data})
}

func (c *Client) evictFromCache(path string) {
	service := serviceOf(path)
	c.cacheMu.Lock()
	defer c.cacheMu.Unlock()

	list := c.cache[service]
	for i, inst := range list {
		if inst.Path == path {
			list = append(list[:i], list[i+1:]...)
			break
		}
	}
	if len(list) == 0 {
		delete(c.cache, service)
	} else {
		c.cache[service] = list
	}
}

// Delete removes path from the coordination service and the cache.
func (c *Client) Delete(ctx context.Context, path string) error {
	c.sessionMu.Lock()
	err := c.backend.Delete(ctx, path)
	c.sessionMu.Unlock()
	if err != nil {
		return fmt.Errorf("registry: delete %s: %w", path, err)
	}
	c.evictFromCache(path)
	return nil
}

// Discover is a cache-first single-path lookup. Non-existence is an
// error the caller must handle.
func (c *Client) Discover(ctx context.Context, path string) (string, error) {
	service := serviceOf(path)

	c.cacheMu.Lock()
	for _, inst := range c.cache[service] {
		if inst.Path == path {
			c.cacheMu.Unlock()
			return inst.Data, nil
		}
	}
	c.cacheMu.Unlock()

	c.sessionMu.Lock()
	data, err := c.backend.Get(ctx, path)
	c.sessionMu.Unlock()
	if err != nil {
		return "", fmt.Errorf("registry: discover %s: %w", path, err)
	}

	c.upsertCache(path, data)
	return data, nil
}

// DiscoverService is a cache-first list of every instance registered
// under service.
func (c *Client) DiscoverService(ctx context.Context, service string) ([]Instance, error) {
	c.cacheMu.Lock()
	if cached, ok := c.cache[service]; ok {
		out := make([]Instance, len(cached))
		copy(out, cached)
		c.cacheMu.Unlock()
		return out, nil
	}
	c.cacheMu.Unlock()

	base := "/" + service
	c.sessionMu.Lock()
	children, err := c.backend.Children(ctx, base)
	c.sessionMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("registry: discover service %s: %w", service, err)
	}

	instances := make([]Instance, 0, len(children))
	for _, childPath := range children {
		c.sessionMu.Lock()
		data, err := c.backend.Get(ctx, childPath)
		c.sessionMu.Unlock()
		if err != nil {
			c.log.Warnf("registry: skipping unreadable child %s: %v", childPath, err)
			continue
		}
		instances = append(instances, Instance{Path: childPath, Data: data})
	}

	c.cacheMu.Lock()
	c.cache[service] = instances
	out := make([]Instance, len(instances))
	copy(out, instances)
	c.cacheMu.Unlock()

	return out, nil
}

// FindInstancesByMethod returns every instance of service whose
// "methods=" data lists method as one of its comma-delimited tokens.
// Matching is on exact tokens, never substrings.
func (c *Client) FindInstancesByMethod(ctx context.Context, service, method string) ([]Instance, error) {
	instances, err := c.DiscoverService(ctx, service)
	if err != nil {
		return nil, err
	}

	var out []Instance
	for _, inst := range instances {
		if hasMethod(inst.Data, method) {
			out = append(out, inst)
		}
	}
	return out, nil
}

func hasMethod(data, method string) bool {
	const prefix = "methods="
	if !strings.HasPrefix(data, prefix) {
		return false
	}
	for _, tok := range strings.Split(data[len(prefix):], ",") {
		if tok == method {
			return true
		}
	}
	return false
}

// Watch arms a one-shot watch on path: the previous callback for path
// (if any) is overwritten. When the underlying event fires, cb runs with
// the new data (or "" on delete), the cache is updated first, and the
// watch is re-armed for the same path so future events keep arriving.
func (c *Client) Watch(ctx context.Context, path string, cb WatchCallback) error {
	c.cacheMu.Lock()
	c.watchers[path] = cb
	c.cacheMu.Unlock()

	c.wg.Add(1)
	go c.watchLoop(ctx, path)
	return nil
}

func (c *Client) watchLoop(ctx context.Context, path string) {
	defer c.wg.Done()

	// watchCtx is what actually reaches the backend: it inherits ctx's
	// cancellation but is also canceled by Stop, so a blocking
	// WatchOnce(watchCtx, path) unblocks even when ctx itself never does
	// (e.g. a watch armed with context.Background()).
	watchCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-c.closeCtx.Done():
			cancel()
		case <-watchCtx.Done():
		}
	}()

	for {
		select {
		case <-c.stopCh:
			return
		case <-ctx.Done():
			return
		default:
		}

		newData, deleted, err := c.backend.WatchOnce(watchCtx, path)
		if err != nil {
			if watchCtx.Err() != nil {
				return // Stop or the caller's ctx fired; don't re-arm.
			}
			c.log.Warnf("registry: watch %s failed, re-arming: %v", path, err)
			select {
			case <-c.stopCh:
				return
			case <-time.After(time.Second):
			}
			continue
		}

		c.cacheMu.Lock()
		cb, armed := c.watchers[path]
		c.cacheMu.Unlock()
		if !armed {
			return // Watch was never re-registered after Stop cleared the table.
		}

		if deleted {
			c.evictFromCache(path)
			cb("")
		} else {
			c.upsertCache(path, newData)
			cb(newData)
		}
		// loop again: the watch is one-shot upstream, so re-arm it here.
	}
}

// heartbeatLoop is the mechanism by which clients notice ephemeral peers
// vanished without a delete event reaching them: every jittered
// 2-10s tick, walk every cached service and prune entries no longer
// present, per spec.md §4.D. It also polls session state so State
// transitions (connecting/connected/expired) are observed even between
// explicit calls.
func (c *Client) heartbeatLoop() {
	defer c.wg.Done()
	for {
		interval := heartbeatMinInterval + time.Duration(rand.Int63n(int64(heartbeatMaxInterval-heartbeatMinInterval)))
		select {
		case <-c.stopCh:
			return
		case <-time.After(interval):
		}

		if c.backend.State() == StateExpired {
			c.cacheMu.Lock()
			c.cache = make(map[string][]Instance)
			c.cacheMu.Unlock()
			continue
		}

		c.sweepCache()
	}
}

func (c *Client) sweepCache() {
	c.cacheMu.Lock()
	services := make([]string, 0, len(c.cache))
	for svc := range c.cache {
		services = append(services, svc)
	}
	c.cacheMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	for _, svc := range services {
		c.sessionMu.Lock()
		children, err := c.backend.Children(ctx, "/"+svc)
		c.sessionMu.Unlock()
		if err != nil {
			c.log.Warnf("registry: heartbeat sweep of %s failed: %v", svc, err)
			continue
		}

		alive := make(map[string]struct{}, len(children))
		for _, p := range children {
			alive[p] = struct{}{}
		}

		c.cacheMu.Lock()
		list := c.cache[svc]
		pruned := list[:0]
		for _, inst := range list {
			if _, ok := alive[inst.Path]; ok {
				pruned = append(pruned, inst)
			}
		}
		if len(pruned) == 0 {
			delete(c.cache, svc)
		} else {
			c.cache[svc] = pruned
		}
		c.cacheMu.Unlock()
	}
}

// State reports the session's current connectivity state.
func (c *Client) State() SessionState {
	return c.backend.State()
}
