// Command vaultd runs the blockvault server: it opens an image rooted at
// a configured data directory and serves the query/read/write channels
// until interrupted.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/blockvault/blockvault/internal/engine"
	"github.com/blockvault/blockvault/internal/server"
	"github.com/blockvault/blockvault/pkg/logger"
	"github.com/blockvault/blockvault/pkg/options"
)

func main() {
	configFile := flag.String("config", "", "Path to a vaultd.yaml config file (defaults built in if omitted)")
	dataDir := flag.String("data-dir", "", "Override the image root directory")
	flag.Parse()

	opts := options.NewDefaultOptions()
	if *configFile != "" {
		loaded, err := options.Load(*configFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "vaultd: %v\n", err)
			os.Exit(1)
		}
		opts = loaded
	}
	if *dataDir != "" {
		opts.DataDir = *dataDir
	}

	log := logger.New("vaultd")
	defer log.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	img, err := engine.Open(ctx, &engine.Config{Options: &opts, Logger: log})
	if err != nil {
		log.Fatalw("failed to open image", "error", err)
	}

	srv := server.New(img, &opts, log)
	if err := srv.Serve(); err != nil {
		img.Close()
		log.Fatalw("failed to start server", "error", err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	log.Infow("vaultd running, press ctrl+c to stop", "dataDir", opts.DataDir)
	<-sigCh
	signal.Stop(sigCh)

	log.Infow("shutdown signal received, draining connections")
	srv.Shutdown()
	srv.Join()

	if err := img.Close(); err != nil {
		log.Errorw("error closing image", "error", err)
		os.Exit(1)
	}
	log.Infow("vaultd stopped")
}
