package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
)

// Version information (set by build)
var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	configPath := flag.String("config", "", "Path to config file")
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("flowstack %s (built %s)\n", Version, BuildTime)
		os.Exit(ExitSuccess)
	}

	os.Exit(run(*configPath))
}

func run(configPath string) int {
	cfg, err := LoadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return ExitConfigError
	}

	logger := SetupLogger(cfg)
	logger.Info("starting flowstack",
		"version", Version,
		"config", configPath,
	)

	server, err := NewServer(cfg, logger)
	if err != nil {
		return exitCodeFor(logger, "failed to create server", err)
	}

	if err := server.Start(context.Background()); err != nil {
		return exitCodeFor(logger, "server stopped with error", err)
	}
	return ExitSuccess
}

// exitCodeFor logs err and resolves the process exit code, honoring the
// code a ServerError carries.
func exitCodeFor(logger *slog.Logger, msg string, err error) int {
	var sErr *ServerError
	if errors.As(err, &sErr) {
		logger.Error(msg,
			"operation", sErr.Op,
			"error", sErr.Err,
		)
		return sErr.ExitCode
	}
	logger.Error(msg, "error", err)
	return ExitConfigError
}
