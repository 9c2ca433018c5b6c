package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/raaihank/doc-sentinel/internal/config"
	"github.com/raaihank/doc-sentinel/internal/engine"
	"github.com/raaihank/doc-sentinel/internal/logger"
	"github.com/raaihank/doc-sentinel/internal/redaction"
	"github.com/raaihank/doc-sentinel/internal/telemetry"
	"go.uber.org/zap"
)

func main() {
	var (
		configPath = flag.String("config", "", "Configuration file path")
		input      = flag.String("input", "", "Comma-separated files or directories to redact")
		rawText    = flag.String("text", "", "Raw text to redact alongside the inputs")
		pending    = flag.String("pending", policyFail, "Policy for entities awaiting review: fail, approve or reject")
		outDir     = flag.String("out", "", "Override the export directory (file sinks only)")
		withNER    = flag.Bool("ner", false, "Enable NER detection regardless of configuration")
		listOnly   = flag.Bool("list", false, "List detected entities and exit without exporting")
	)
	flag.Parse()

	if *input == "" && *rawText == "" {
		fmt.Fprintf(os.Stderr, "Usage: %s [options]\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "\nOptions:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  %s --input contracts/ --pending approve\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s --input notes.txt,table.csv --list\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s --text \"Titular: Joan Garcia\" --pending reject\n", os.Args[0])
		os.Exit(2)
	}
	if !validPolicy(*pending) {
		fmt.Fprintf(os.Stderr, "Invalid pending policy: %s\n", *pending)
		os.Exit(2)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if *outDir != "" {
		cfg.Export.Dir = *outDir
	}
	if *withNER {
		cfg.NER.Enabled = true
	}

	log, err := logger.New(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Info("Received shutdown signal, cancelling operations...")
		cancel()
	}()

	code := run(ctx, cfg, *input, *rawText, *pending, *listOnly, log)
	cancel()
	_ = log.Sync()
	os.Exit(code)
}

func run(ctx context.Context, cfg *config.Config, input, rawText, policy string, listOnly bool, log *logger.Logger) int {
	inputs, err := collectInputs(splitList(input), log)
	if err != nil {
		log.Error("Failed to read inputs", zap.Error(err))
		return 1
	}

	tel, err := telemetry.NewProvider(ctx, cfg.Telemetry, "cli")
	if err != nil {
		log.Warn("Telemetry disabled", zap.Error(err))
		tel = telemetry.NewNoop()
	}
	defer tel.Shutdown(context.Background())

	eng, cleanup, err := engine.Assemble(ctx, cfg, tel, nil, log)
	if err != nil {
		log.Error("Failed to assemble engine", zap.Error(err))
		return 1
	}
	defer cleanup()

	summary, err := eng.Process(ctx, inputs, rawText)
	if err != nil {
		log.Error("Detection failed", zap.Error(err))
		return 1
	}

	if listOnly {
		return printJSON(listing(eng, summary))
	}

	if err := applyPolicy(ctx, eng, policy); err != nil {
		log.Error("Review policy failed", zap.Error(err))
		return 1
	}

	res, err := eng.Export(ctx)
	var leakErr *redaction.LeakError
	switch {
	case errors.Is(err, redaction.ErrPendingEntities):
		log.Error("Export refused; rerun with --pending approve or --pending reject",
			zap.Int("pending", res.Pending))
		printJSON(res)
		return 3
	case errors.As(err, &leakErr):
		log.Error("Export blocked by residual PII", zap.Int("leaks", len(leakErr.Leaks)))
		printJSON(res)
		return 4
	case err != nil:
		log.Error("Export failed", zap.Error(err))
		return 1
	}
	return printJSON(res)
}

func printJSON(v interface{}) int {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to write output: %v\n", err)
		return 1
	}
	return 0
}
