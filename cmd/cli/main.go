package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/vk/modtool/internal/app"
	"github.com/vk/modtool/internal/cli"
	"github.com/vk/modtool/internal/config"
)

// main is the entrypoint for the modtool engine.
func main() {
	// Use a minimal logger until the full one is configured.
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})))

	// The real main function handles errors and exit codes.
	if err := run(os.Stdout, os.Args[1:]); err != nil {
		if exitErr, ok := err.(*cli.ExitError); ok {
			fmt.Fprintln(os.Stderr, exitErr.Message)
			os.Exit(exitErr.Code)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// run encapsulates the main application logic for easier testing and error
// handling. A startup pipeline that reaches ready returns nil even when
// checks carried warnings; only a fatal provisioning failure (or bad
// usage) becomes a non-zero exit.
func run(outW io.Writer, args []string) error {
	appConfig, shouldExit, err := cli.Parse(args, outW)
	if err != nil {
		return err
	}
	if shouldExit {
		return nil
	}

	// The app panics on critical config errors, so we recover here to
	// provide a clean exit message to the user.
	defer func() {
		if r := recover(); r != nil {
			fmt.Fprintf(outW, "A critical startup error occurred: %v\n", r)
			os.Exit(1)
		}
	}()

	loader := config.NewLoader()
	engine := app.New(outW, appConfig, loader)

	if err := engine.Run(context.Background()); err != nil {
		return err
	}

	if appConfig.NoMonitor {
		engine.Shutdown()
		return nil
	}

	// Stand in for the UI: drain the status stream until interrupted,
	// then shut the monitor down cleanly.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		engine.Shutdown()
	}()

	for event := range engine.Bus().Drain() {
		fmt.Fprintf(outW, "%d %s [%s] %s\n", event.Seq, event.Severity, event.Source, event.Message)
	}
	return nil
}
