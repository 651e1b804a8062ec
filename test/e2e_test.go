package test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/tanpham/xrpc/channel"
	"github.com/tanpham/xrpc/codec"
	"github.com/tanpham/xrpc/controller"
	"github.com/tanpham/xrpc/loadbalance"
	"github.com/tanpham/xrpc/registry"
	"github.com/tanpham/xrpc/server"
	"github.com/tanpham/xrpc/service"
	"github.com/tanpham/xrpc/xlog"
)

func startUserServiceServer(t *testing.T, port int) (*server.Server, *registry.Client) {
	t.Helper()
	reg := newSharedRegistry()
	svr := server.NewServer(xlog.Nop())
	if err := svr.Register(service.NewUserService()); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	addr := "127.0.0.1:" + itoaBench(port)
	go svr.Serve("127.0.0.1", port, addr, reg)
	time.Sleep(100 * time.Millisecond)
	return svr, reg
}

// Scenario 1: successful login (sync).
func TestE2ESuccessfulLogin(t *testing.T) {
	svr, reg := startUserServiceServer(t, 19710)
	defer svr.Shutdown(2 * time.Second)
	defer reg.Stop()

	ch := channel.New(reg, &loadbalance.RoundRobinBalancer{}, 2, xlog.Nop())
	defer ch.Close()

	ctrl := controller.New()
	var reply service.LoginReply
	err := ch.Call(context.Background(), "UserService.Login",
		&codec.JSONMessage{V: &service.LoginArgs{Username: "test_user", Password: "test_pass"}},
		&codec.JSONMessage{V: &reply}, ctrl)

	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	if ctrl.Failed() {
		t.Fatalf("expect controller not failed, error_text=%q", ctrl.ErrorText())
	}
	if reply.Token == "" {
		t.Fatal("expect a non-empty token")
	}
}

// Scenario 2: bad credentials.
func TestE2EBadCredentials(t *testing.T) {
	svr, reg := startUserServiceServer(t, 19711)
	defer svr.Shutdown(2 * time.Second)
	defer reg.Stop()

	ch := channel.New(reg, &loadbalance.RoundRobinBalancer{}, 2, xlog.Nop())
	defer ch.Close()

	ctrl := controller.New()
	var reply service.LoginReply
	err := ch.Call(context.Background(), "UserService.Login",
		&codec.JSONMessage{V: &service.LoginArgs{Username: "", Password: ""}},
		&codec.JSONMessage{V: &reply}, ctrl)

	if err == nil {
		t.Fatal("expect an error for empty credentials")
	}
	if !ctrl.Failed() {
		t.Fatal("expect controller.Failed()==true")
	}
	if reply.Token != "" {
		t.Fatalf("expect an empty token, got %q", reply.Token)
	}
}

// Scenario 3: no service running.
func TestE2ENoServiceInstance(t *testing.T) {
	reg := newSharedRegistry()
	defer reg.Stop()

	ch := channel.New(reg, &loadbalance.RoundRobinBalancer{}, 2, xlog.Nop())
	defer ch.Close()

	ctrl := controller.New()
	var reply service.LoginReply
	err := ch.Call(context.Background(), "UserService.Login",
		&codec.JSONMessage{V: &service.LoginArgs{Username: "x", Password: "y"}},
		&codec.JSONMessage{V: &reply}, ctrl)

	if err == nil {
		t.Fatal("expect an error when no service is registered")
	}
	if !ctrl.Failed() {
		t.Fatal("expect controller.Failed()==true")
	}
	if ctrl.ErrorText() != channel.ErrServiceInstanceNotFound.Error() {
		t.Fatalf("expect error_text %q, got %q", channel.ErrServiceInstanceNotFound.Error(), ctrl.ErrorText())
	}
}

// Scenario 4: async success — callback fires exactly once.
func TestE2EAsyncSuccess(t *testing.T) {
	svr, reg := startUserServiceServer(t, 19712)
	defer svr.Shutdown(2 * time.Second)
	defer reg.Stop()

	ch := channel.New(reg, &loadbalance.RoundRobinBalancer{}, 2, xlog.Nop())
	defer ch.Close()

	ctrl := controller.New()
	var reply service.LoginReply
	var calls int
	done := make(chan struct{})

	err := ch.CallAsync(context.Background(), "UserService.Login",
		&codec.JSONMessage{V: &service.LoginArgs{Username: "test_user", Password: "test_pass"}},
		&codec.JSONMessage{V: &reply}, ctrl, func(d channel.Done) {
			calls++
			close(done)
		})
	if err != nil {
		t.Fatalf("CallAsync failed: %v", err)
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("callback never fired")
	}

	if calls != 1 {
		t.Fatalf("expect the callback exactly once, got %d", calls)
	}
	if ctrl.Failed() {
		t.Fatalf("expect controller not failed, error_text=%q", ctrl.ErrorText())
	}
	if reply.Token == "" {
		t.Fatal("expect a non-empty token")
	}
}

// Scenario 5: cancel before send.
func TestE2ECancelBeforeSend(t *testing.T) {
	svr, reg := startUserServiceServer(t, 19713)
	defer svr.Shutdown(2 * time.Second)
	defer reg.Stop()

	ch := channel.New(reg, &loadbalance.RoundRobinBalancer{}, 2, xlog.Nop())
	defer ch.Close()

	ctrl := controller.New()
	var fired int
	ctrl.NotifyOnCancel(func() { fired++ })
	ctrl.StartCancel()

	var reply service.LoginReply
	err := ch.Call(context.Background(), "UserService.Login",
		&codec.JSONMessage{V: &service.LoginArgs{Username: "test_user", Password: "test_pass"}},
		&codec.JSONMessage{V: &reply}, ctrl)

	if err == nil {
		t.Fatal("expect an error for a call cancelled before it was sent")
	}
	if fired != 1 {
		t.Fatalf("expect the cancel callback exactly once, got %d", fired)
	}
	if ctrl.ErrorText() != channel.ErrCancelledBeforeSend.Error() {
		t.Fatalf("expect error_text %q, got %q", channel.ErrCancelledBeforeSend.Error(), ctrl.ErrorText())
	}
}

// Scenario 6: node-deletion event delivery order. Watch delivers changes
// from the point it is installed onward (it does not replay history), so
// the watch is armed first and the sequence of registers/delete against
// the watched path is driven afterward — the same shape
// registry_test.go's own watch property test uses.
func TestE2ENodeDeletionEventOrder(t *testing.T) {
	reg := newSharedRegistry()
	defer reg.Stop()

	path := "/UserService/127.0.0.1:8080"

	var mu sync.Mutex
	var received []string
	if err := reg.Watch(context.Background(), path, func(data string) {
		mu.Lock()
		received = append(received, data)
		mu.Unlock()
	}); err != nil {
		t.Fatalf("Watch failed: %v", err)
	}
	time.Sleep(50 * time.Millisecond)

	if err := reg.Register(context.Background(), path, "methods=Login", true); err != nil {
		t.Fatalf("first Register failed: %v", err)
	}
	time.Sleep(50 * time.Millisecond)

	if err := reg.Register(context.Background(), path, "methods=Login,Register", true); err != nil {
		t.Fatalf("second Register failed: %v", err)
	}
	time.Sleep(50 * time.Millisecond)

	if err := reg.Delete(context.Background(), path); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	want := []string{"methods=Login", "methods=Login,Register", ""}
	if len(received) != len(want) {
		t.Fatalf("expect %d watch deliveries, got %v", len(want), received)
	}
	for i, w := range want {
		if received[i] != w {
			t.Fatalf("delivery %d: expect %q, got %q (all: %v)", i, w, received[i], received)
		}
	}
	if received[len(received)-1] != "" {
		t.Fatalf("expect the last delivery to be the empty-string delete marker, got %v", received)
	}
}
