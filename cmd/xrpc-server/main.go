// Command xrpc-server hosts the example UserService and advertises it
// through the coordination service, the way a real xrpc deployment wires
// config, logging, registry, and the dispatcher together.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tanpham/xrpc/config"
	"github.com/tanpham/xrpc/middleware"
	"github.com/tanpham/xrpc/registry"
	"github.com/tanpham/xrpc/server"
	"github.com/tanpham/xrpc/service"
	"github.com/tanpham/xrpc/xlog"
)

func main() {
	configPath := flag.String("config", "", "path to a key=value config file (defaults are used if omitted)")
	advertiseIP := flag.String("advertise-ip", "127.0.0.1", "routable IP advertised to the registry")
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
		log.Errorf("xrpc-server: dial registry: %v", err)
		os.Exit(1)
	}
	reg := registry.Start(backend, log)
	defer reg.Stop()

	svr := server.NewServer(log)
	svr.Use(middleware.LoggingMiddleware(log))
	svr.Use(middleware.RateLimitMiddleware(500, 100))
	svr.Use(middleware.TimeoutMiddleware(5 * time.Second))
	svr.Use(middleware.RetryMiddleware(log, 2, 100*time.Millisecond))

	if err := svr.Register(service.NewUserService()); err != nil {
		log.Errorf("xrpc-server: register UserService: %v", err)
		os.Exit(1)
	}

	advertiseAddr := fmt.Sprintf("%s:%d", *advertiseIP, cfg.ServerPort())

	go func() {
		if err := svr.Serve(cfg.ServerIP(), cfg.ServerPort(), advertiseAddr, reg); err != nil {
			log.Errorf("xrpc-server: serve: %v", err)
		}
	}()
	log.Infof("xrpc-server: listening on %s:%d, advertising %s", cfg.ServerIP(), cfg.ServerPort(), advertiseAddr)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig

	log.Infof("xrpc-server: shutting down")
	if err := svr.Shutdown(10 * time.Second); err != nil {
		log.Errorf("xrpc-server: shutdown: %v", err)
	}
}
