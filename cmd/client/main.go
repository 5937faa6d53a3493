package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/devicelink/devicelink/internal/client/api"
	"github.com/devicelink/devicelink/internal/client/cli"
	"github.com/devicelink/devicelink/internal/client/iocli"
	"github.com/devicelink/devicelink/internal/client/replica"
	"github.com/devicelink/devicelink/internal/client/storage/boltdb"
	"github.com/devicelink/devicelink/internal/client/sync"
)

var (
	// Version information set via ldflags during build
	Version   = "dev"
	BuildDate = "unknown"
	GitCommit = "unknown"
)

func main() {
	showVersion := flag.Bool("version", false, "Show version information")
	serverURL := flag.String("server", "http://localhost:8080", "Server URL")
	dbPath := flag.String("db", "devicelink-client.db", "Path to local database")
	verbose := flag.Bool("verbose", false, "Log client internals to stderr")

	flag.Parse()

	if *showVersion {
		printVersion()
		os.Exit(0)
	}

	args := flag.Args()
	if len(args) == 0 {
		cli.PrintUsage()
		os.Exit(1)
	}
	command := args[0]

	ctx := context.Background()

	var logWriter io.Writer = io.Discard
	if *verbose {
		logWriter = os.Stderr
	}
	logger := slog.New(slog.NewTextHandler(logWriter, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))

	boltStorage, err := boltdb.New(ctx, *dbPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open database: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		if err := boltStorage.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to close database: %v\n", err)
		}
	}()

	rep := replica.New(boltStorage, logger)
	if err := rep.Init(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load local replica: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		// Land any write still sitting in the debounce window.
		if err := rep.Flush(context.Background()); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to flush local replica: %v\n", err)
		}
	}()

	apiClient := api.NewClient(*serverURL)
	syncService := sync.NewService(apiClient, rep, boltStorage, logger)

	c := cli.New(iocli.NewStdio(), apiClient, boltStorage, boltStorage, rep, syncService)
	c.Run(ctx, command, args[1:])
}

func printVersion() {
	fmt.Printf("Devicelink Client\n")
	fmt.Printf("Version:    %s\n", Version)
	fmt.Printf("Build Date: %s\n", BuildDate)
	fmt.Printf("Git Commit: %s\n", GitCommit)
}
