package registry

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
	"google.golang.org/grpc/connectivity"
)

// leaseTTLSeconds bounds how long an ephemeral node outlives a session
// that dies without calling Delete/Close, playing the role the original
// ZooKeeper client's session timeout played (spec.md §4.D). It is a fixed
// constant; config.go's ZookeeperTimeoutMs does not change it.
const leaseTTLSeconds = 10

// etcdBackend is the production Backend, standing in for the spec's
// abstract hierarchical coordination service the way the original
// implementation stood ZooKeeper in: ephemeral nodes are etcd keys held
// alive by a leased KeepAlive stream, and one-shot watches are single
// events consumed off etcd's native streaming Watch API.
type etcdBackend struct {
	cli *clientv3.Client

	mu      sync.Mutex
	leaseID clientv3.LeaseID
	state   SessionState

	stopKeepAlive context.CancelFunc
}

// DialEtcd connects to the coordination service at endpoints and
// establishes the lease used for every ephemeral node this session
// creates, retrying the lease grant with exponential backoff until it
// succeeds or the caller-supplied ctx is done.
func DialEtcd(ctx context.Context, endpoints []string, dialTimeout time.Duration) (Backend, error) {
	cli, err := clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: dialTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("registry: dial etcd %v: %w", endpoints, err)
	}

	var lease *clientv3.LeaseGrantResponse
	backoff := 100 * time.Millisecond
	for {
		lease, err = cli.Grant(ctx, leaseTTLSeconds)
		if err == nil {
			break
		}
		select {
		case <-ctx.Done():
			cli.Close()
			return nil, fmt.Errorf("registry: grant lease: %w", err)
		case <-time.After(backoff):
		}
		backoff *= 2
	}

	keepAliveCtx, cancel := context.WithCancel(context.Background())
	ka, err := cli.KeepAlive(keepAliveCtx, lease.ID)
	if err != nil {
		cancel()
		cli.Close()
		return nil, fmt.Errorf("registry: keepalive: %w", err)
	}

	b := &etcdBackend{
		cli:           cli,
		leaseID:       lease.ID,
		state:         StateConnected,
		stopKeepAlive: cancel,
	}
	go b.drainKeepAlive(ka)
	return b, nil
}

// drainKeepAlive consumes lease renewal acks. If the channel closes
// (lease expired or session torn down), the session state flips to
// expired so heartbeatLoop can react per spec.md §4.D.
func (b *etcdBackend) drainKeepAlive(ka <-chan *clientv3.LeaseKeepAliveResponse) {
	for range ka {
		b.mu.Lock()
		b.state = StateConnected
		b.mu.Unlock()
	}
	b.mu.Lock()
	b.state = StateExpired
	b.mu.Unlock()
}

func (b *etcdBackend) EnsureParent(ctx context.Context, path string) error {
	if path == "" || path == "/" {
		return nil
	}
	marker := path + "/.keep"
	_, err := b.cli.Txn(ctx).
		If(clientv3.Compare(clientv3.CreateRevision(marker), "=", 0)).
		Then(clientv3.OpPut(marker, "")).
		Commit()
	if err != nil {
		return fmt.Errorf("registry: ensure parent %s: %w", path, err)
	}
	return nil
}

func (b *etcdBackend) Create(ctx context.Context, path, data string, ephemeral bool) error {
	var opts []clientv3.OpOption
	if ephemeral {
		b.mu.Lock()
		lease := b.leaseID
		b.mu.Unlock()
		opts = append(opts, clientv3.WithLease(lease))
	}

	resp, err := b.cli.Txn(ctx).
		If(clientv3.Compare(clientv3.CreateRevision(path), "=", 0)).
		Then(clientv3.OpPut(path, data, opts...)).
		Commit()
	if err != nil {
		return fmt.Errorf("registry: create %s: %w", path, err)
	}
	if !resp.Succeeded {
		return ErrAlreadyExists
	}
	return nil
}

func (b *etcdBackend) Set(ctx context.Context, path, data string) error {
	if _, err := b.cli.Put(ctx, path, data); err != nil {
		return fmt.Errorf("registry: set %s: %w", path, err)
	}
	return nil
}

func (b *etcdBackend) Get(ctx context.Context, path string) (string, error) {
	resp, err := b.cli.Get(ctx, path)
	if err != nil {
		return "", fmt.Errorf("registry: get %s: %w", path, err)
	}
	if len(resp.Kvs) == 0 {
		return "", ErrNotFound
	}
	return string(resp.Kvs[0].Value), nil
}

func (b *etcdBackend) Children(ctx context.Context, path string) ([]string, error) {
	prefix := strings.TrimSuffix(path, "/") + "/"
	resp, err := b.cli.Get(ctx, prefix, clientv3.WithPrefix())
	if err != nil {
		return nil, fmt.Errorf("registry: children %s: %w", path, err)
	}

	out := make([]string, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		key := string(kv.Key)
		if strings.HasSuffix(key, "/.keep") {
			continue
		}
		out = append(out, key)
	}
	return out, nil
}

func (b *etcdBackend) Delete(ctx context.Context, path string) error {
	if _, err := b.cli.Delete(ctx, path); err != nil {
		return fmt.Errorf("registry: delete %s: %w", path, err)
	}
	return nil
}

// WatchOnce consumes exactly one event off a fresh etcd watch stream and
// cancels it before returning, so the caller (Client.watchLoop) fully
// controls re-arming instead of etcd's naturally continuous stream
// silently buffering events between callback invocations.
func (b *etcdBackend) WatchOnce(ctx context.Context, path string) (string, bool, error) {
	watchCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	wch := b.cli.Watch(watchCtx, path)
	select {
	case resp, ok := <-wch:
		if !ok {
			return "", false, fmt.Errorf("registry: watch %s: channel closed", path)
		}
		if resp.Err() != nil {
			return "", false, fmt.Errorf("registry: watch %s: %w", path, resp.Err())
		}
		if len(resp.Events) == 0 {
			return "", false, fmt.Errorf("registry: watch %s: empty event batch", path)
		}
		ev := resp.Events[0]
		if ev.Type == clientv3.EventTypeDelete {
			return "", true, nil
		}
		return string(ev.Kv.Value), false, nil
	case <-ctx.Done():
		return "", false, ctx.Err()
	}
}

func (b *etcdBackend) State() SessionState {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateExpired {
		return StateExpired
	}
	switch b.cli.ActiveConnection().GetState() {
	case connectivity.Ready, connectivity.Idle:
		return StateConnected
	default:
		return StateConnecting
	}
}

func (b *etcdBackend) Close() error {
	b.stopKeepAlive()
	b.mu.Lock()
	lease := b.leaseID
	b.mu.Unlock()
	// Revoke releases every ephemeral node under this session's lease
	// immediately rather than waiting out leaseTTLSeconds.
	_, _ = b.cli.Revoke(context.Background(), lease)
	return b.cli.Close()
}
