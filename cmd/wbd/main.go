package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"workbench/internal/backend"
	"workbench/internal/config"
)

func main() {
	logLevel := flag.String("log-level", "info", "log level: debug|info|warn|error")
	logFile := flag.String("log-file", "", "log file path (default: stderr)")
	flag.Parse()

	logger, closer := config.NewLogger(*logLevel, *logFile)
	defer closer.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	s := backend.NewService(backend.Options{Logger: logger})
	go func() {
		// A blocked stdin read does not observe ctx; leave directly.
		<-ctx.Done()
		logger.Info("signal received, shutting down")
		s.Close()
		os.Exit(0)
	}()
	if err := s.Serve(ctx, os.Stdin, os.Stdout); err != nil {
		logger.Error("backend stopped", "err", err)
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
