// Package main provides the go-gsfd-swarm CLI entry point.
//
// go-gsfd-swarm launches one tracker and a swarm of nodes of the gsfd
// experiment artifact, locally or in containers.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/randomizedcoder/go-gsfd-swarm/internal/cli"
)

// version is set at build time via ldflags:
//
//	go build -ldflags "-X main.version=1.0.0" ./cmd/go-gsfd-swarm
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app := cli.NewApp(version, os.Stdout, os.Stderr)
	return app.Execute(ctx, os.Args[1:])
}
