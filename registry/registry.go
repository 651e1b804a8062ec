// Package registry is the caching, watchable facade over an external
// hierarchical coordination service described in spec.md §4.D. The
// concrete backend is etcd (client_etcd.go); Backend below is the seam that
// lets tests substitute an in-memory fake (fake.go) so the cache,
// watcher, and heartbeat logic can be exercised without a live etcd.
package registry

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Discover/Get when the path does not exist.
// Per spec.md §4.D, non-existence on discover is an error the caller
// must decide to retry or fail on; non-existence on Watch is not (the
// watch is armed for the future creation instead).
var ErrNotFound = errors.New("registry: path not found")

// ErrAlreadyExists is returned by Backend.Create when path is already
// occupied; callers that want create-or-update semantics (Client.Register
// does) should fall back to Set.
var ErrAlreadyExists = errors.New("registry: path already exists")

// Instance is one entry of a RegistryCache list: a full node path (e.g.
// "/UserService/127.0.0.1:8080") and its data string ("methods=Login").
type Instance struct {
	Path string
	Data string
}

// WatchCallback receives the new data on create/change, or "" on delete.
type WatchCallback func(data string)

// SessionState mirrors spec.md §4.D's connected/connecting/expired
// trio, delivered as the underlying session transitions.
type SessionState int

const (
	StateConnecting SessionState = iota
	StateConnected
	StateExpired
)

// Backend abstracts the operations spec.md §6 requires of the
// coordination service: create/set/delete/get/children plus a one-shot
// existence watch. etcdBackend (client_etcd.go) is the production
// implementation; fakeBackend (fake.go) is an in-memory stand-in used by
// tests that must not depend on a live etcd.
type Backend interface {
	// EnsureParent creates path persistently if absent; "already
	// exists" is not an error.
	EnsureParent(ctx context.Context, path string) error
	// Create writes path with data. If ephemeral, the backend removes
	// the node automatically when this client's session ends.
	Create(ctx context.Context, path, data string, ephemeral bool) error
	// Set overwrites an existing node's data (last-write-wins).
	Set(ctx context.Context, path, data string) error
	// Get returns a node's data, or ErrNotFound.
	Get(ctx context.Context, path string) (string, error)
	// Children lists the full paths of path's direct children.
	Children(ctx context.Context, path string) ([]string, error)
	// Delete removes path. Deleting an absent path is not an error.
	Delete(ctx context.Context, path string) error
	// WatchOnce blocks until exactly one create/change/delete event
	// fires for path (or ctx is cancelled), then returns. newData is
	// empty and deleted is true on a delete event.
	WatchOnce(ctx context.Context, path string) (newData string, deleted bool, err error)
	// State reports the backend's current session state.
	State() SessionState
	// Close releases the backend's underlying session/connection.
	Close() error
}
