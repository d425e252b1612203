// Command relayd runs the relay service standalone: one process a
// fleet of tabs/workers dial into over websocket to federate into
// shared channels. Grounded on cmd/orchestrator/main.go's shape:
// stdlib logging, a config path resolved from argv with a hardcoded
// fallback, and signal-driven graceful shutdown.
package main

import (
	"context"
	"log"
	"net"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/bridgerpc/bridgerpc/relay"
)

func main() {
	configPath := "config/relayd.yaml"
	if len(os.Args) > 1 {
		configPath = os.Args[1]
	}

	cfg, err := Load(configPath)
	if err != nil {
		log.Fatalf("relayd: %v", err)
	}

	ln, err := net.Listen("tcp", cfg.Listen)
	if err != nil {
		log.Fatalf("relayd: listen on %s: %v", cfg.Listen, err)
	}

	svc := relay.NewService()
	svc.Debug = cfg.Debug

	ctx, cancel := context.WithCancel(context.Background())

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := svc.Start(ctx, ln); err != nil {
			log.Printf("relayd: service stopped: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Printf("relayd: received %s, shutting down", sig)
	case <-ctx.Done():
	}

	cancel()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(10 * time.Second):
		log.Printf("relayd: shutdown timed out after 10s")
	}
}
