// ABOUTME: CLI entrypoint for the stampede batch pipeline runner.
// ABOUTME: Wires the engine, model client, response cache, and event subscribers from flags.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/2389-research/stampede/batchio"
)

var version = "dev"

func main() {
	loadDotEnv(".env")

	args := os.Args[1:]
	if len(args) == 0 {
		printHelp(os.Stderr, version)
		os.Exit(0)
	}

	switch args[0] {
	case "generate":
		cfg, err := parseGenerateArgs(args[1:])
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(2)
		}
		os.Exit(runGenerate(cfg))
	case "version", "-version", "--version":
		fmt.Printf("stampede %s\n", version)
		os.Exit(0)
	case "help", "-h", "-help", "--help":
		printHelp(os.Stdout, version)
		os.Exit(0)
	default:
		fmt.Fprintf(os.Stderr, "error: unknown command %q\n", args[0])
		printHelp(os.Stderr, version)
		os.Exit(2)
	}
}

// runGenerate loads rows, builds the engine, runs the batch, and writes
// results. Exit code 0 covers completion even with partial row errors;
// non-zero means the run never started.
func runGenerate(cfg *generateConfig) int {
	logger := log.New(os.Stderr, "", log.LstdFlags)

	rows, err := batchio.LoadRows(cfg.dataFile)
	if err != nil {
		logger.Printf("error: %v", err)
		return 1
	}
	if len(rows) == 0 {
		logger.Printf("error: no input rows in %s", cfg.dataFile)
		return 1
	}

	runtime, err := cfg.buildRuntimeConfig()
	if err != nil {
		logger.Printf("error: %v", err)
		return 1
	}
	runtime.Rows = rows

	h, err := buildHost(cfg, logger)
	if err != nil {
		logger.Printf("error: %v", err)
		return 1
	}
	defer h.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Println("interrupted, shutting down...")
		cancel()
	}()

	logger.Printf("run %s: %d rows, %d steps", h.RunID, len(rows), len(runtime.Steps))
	start := time.Now()

	result, err := h.Engine.Run(ctx, runtime)
	if err != nil {
		logger.Printf("error: %v", err)
		return 1
	}
	h.DrainEvents()

	if err := batchio.WriteRows(cfg.outputPath, result.Results); err != nil {
		logger.Printf("error: %v", err)
		return 1
	}

	for _, rowErr := range result.Errors {
		logger.Printf("warning: %v", rowErr)
	}
	printSummary(os.Stderr, runSummary{
		RunID:    h.RunID,
		Rows:     len(rows),
		Results:  len(result.Results),
		Failures: len(result.Errors),
		Output:   cfg.outputPath,
		Elapsed:  time.Since(start),
	})
	return 0
}
