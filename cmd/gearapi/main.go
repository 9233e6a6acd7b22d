package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gearbot/gearapi"
	"go.uber.org/zap"
)

const shutdownTimeout = 10 * time.Second

func main() {
	defaultPath := os.Getenv("CONFIG_FILE")
	if defaultPath == "" {
		defaultPath = "config.toml"
	}
	configPath := flag.String("config", defaultPath, "path to the TOML config file")
	flag.Parse()

	config, err := gearapi.LoadConfig(*configPath)
	if err != nil {
		log.Fatalln("config error", err.Error())
	}

	logger, err := gearapi.NewLogger(config.LogLevel, config.Development)
	if err != nil {
		log.Fatalln("logger error", err.Error())
	}
	defer func() { _ = logger.Sync() }()
	gearapi.SetLogger(logger)

	server, err := gearapi.NewServer(config)
	if err != nil {
		logger.Fatal("server error", zap.Error(err))
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Serve()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil {
			logger.Fatal("server stopped unexpectedly", zap.Error(err))
		}
	case sig := <-sigCh:
		logger.Info("shutting down", zap.String("signal", sig.String()))
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Error("shutdown error", zap.Error(err))
	}
}
