// Command chunkflow runs the chunk-oriented steps defined in a configuration file.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"go.uber.org/fx"

	config "github.com/tigerroll/chunkflow/pkg/batch/core/config"
	"github.com/tigerroll/chunkflow/pkg/batch/support/util/logger"
)

func main() {
	configPath := flag.String("config", "application.yaml", "Path to the configuration file")
	envFile := flag.String("env", "", "Path to the .env file (defaults to ENV_FILE_PATH or .env)")
	stepList := flag.String("steps", "", "Comma separated step names to run (defaults to every configured step)")
	flag.Parse()

	envFilePath := *envFile
	if envFilePath == "" {
		envFilePath = os.Getenv("ENV_FILE_PATH")
	}
	if envFilePath == "" {
		envFilePath = ".env"
	}

	raw, err := os.ReadFile(*configPath)
	if err != nil {
		logger.Fatalf("Failed to read configuration file %s: %v", *configPath, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		logger.Warnf("Received signal '%v'. Stopping running steps...", sig)
		cancel()
	}()

	outcome := &runOutcome{}
	opts, err := GetApplicationOptions(ctx, envFilePath, config.EmbeddedConfig(raw), splitSteps(*stepList), outcome)
	if err != nil {
		logger.Fatalf("Failed to build application: %v", err)
	}

	fxApp := fx.New(opts...)
	fxApp.Run()
	if fxApp.Err() != nil {
		logger.Fatalf("Application run failed: %v", fxApp.Err())
	}
	os.Exit(outcome.ExitCode())
}

func splitSteps(list string) stepSelection {
	var names stepSelection
	for _, n := range strings.Split(list, ",") {
		if n = strings.TrimSpace(n); n != "" {
			names = append(names, n)
		}
	}
	return names
}
