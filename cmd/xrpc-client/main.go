// Command xrpc-client drives the example UserService through a Login
// then Logout call, demonstrating channel.Channel end to end against a
// running xrpc-server.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/tanpham/xrpc/channel"
	"github.com/tanpham/xrpc/codec"
	"github.com/tanpham/xrpc/config"
	"github.com/tanpham/xrpc/loadbalance"
	"github.com/tanpham/xrpc/registry"
	"github.com/tanpham/xrpc/service"
	"github.com/tanpham/xrpc/xlog"
)

func main() {
	configPath := flag.String("config", "", "path to a key=value config file (defaults are used if omitted)")
	username := flag.String("username", "alice", "username to log in with")
	password := flag.String("password", "hunter2", "password to log in with")
	flag.Parse()

	cfg := config.New(nil)
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		cfg = loaded
	}

	log, err := xlog.NewZap(cfg.LogFile(), cfg.LogLevel())
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.ZookeeperTimeoutMs())*time.Millisecond)
	backend, err := registry.DialEtcd(ctx, cfg.EtcdEndpoints(), 5*time.Second)
	cancel()
	if err != nil {
		log.Errorf("xrpc-client: dial registry: %v", err)
		os.Exit(1)
	}
	reg := registry.Start(backend, log)
	defer reg.Stop()

	ch := channel.New(reg, &loadbalance.RoundRobinBalancer{}, 4, log)
	defer ch.Close()

	loginArgs := &codec.JSONMessage{V: &service.LoginArgs{Username: *username, Password: *password}}
	var loginReply service.LoginReply
	loginReplyMsg := &codec.JSONMessage{V: &loginReply}

	callCtx, cancelCall := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelCall()
	if err := ch.Call(callCtx, "UserService.Login", loginArgs, loginReplyMsg, nil); err != nil {
		log.Errorf("xrpc-client: Login failed: %v", err)
		os.Exit(1)
	}
	fmt.Printf("logged in, token=%s\n", loginReply.Token)

	logoutArgs := &codec.JSONMessage{V: &service.LogoutArgs{Token: loginReply.Token}}
	var logoutReply service.LogoutReply
	logoutReplyMsg := &codec.JSONMessage{V: &logoutReply}

	if err := ch.Call(callCtx, "UserService.Logout", logoutArgs, logoutReplyMsg, nil); err != nil {
		log.Errorf("xrpc-client: Logout failed: %v", err)
		os.Exit(1)
	}
	fmt.Printf("logged out, ok=%v\n", logoutReply.OK)
}
