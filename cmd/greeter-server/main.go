// Command greeter-server serves the Greeter service on a TCP endpoint
// (default :50051) until interrupted, then drains in-flight calls.
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"hello-rpc/greeter"
	"hello-rpc/middleware"
	"hello-rpc/registry"
	"hello-rpc/server"
)

func main() {
	var (
		addr           = flag.String("addr", ":50051", "listen address")
		advertise      = flag.String("advertise", "127.0.0.1:50051", "address registered for discovery")
		etcdEndpoints  = flag.String("etcd", "", "comma-separated etcd endpoints; empty disables discovery")
		streamCount    = flag.Int("stream-count", greeter.DefaultStreamCount, "replies per SayHelloStream call")
		streamInterval = flag.Duration("stream-interval", 100*time.Millisecond, "pause between stream replies")
	)
	flag.Parse()

	log, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	svr := server.NewServer(log)
	svr.Use(middleware.RecoveryMiddleware(log))
	svr.Use(middleware.LoggingMiddleware(log))
	svr.Use(middleware.RateLimitMiddleware(100, 200))

	if err := svr.Register(&greeter.Greeter{
		StreamCount:    *streamCount,
		StreamInterval: *streamInterval,
	}); err != nil {
		log.Fatal("register greeter", zap.Error(err))
	}

	var reg registry.Registry
	if *etcdEndpoints != "" {
		reg, err = registry.NewEtcdRegistry(strings.Split(*etcdEndpoints, ","), log)
		if err != nil {
			log.Fatal("connect etcd", zap.Error(err))
		}
		defer reg.Close()
	}

	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		<-sig
		log.Info("shutting down")
		if err := svr.Shutdown(5 * time.Second); err != nil {
			log.Warn("shutdown incomplete", zap.Error(err))
		}
	}()

	if err := svr.Serve("tcp", *addr, *advertise, reg); err != nil {
		log.Fatal("serve", zap.Error(err))
	}
}
