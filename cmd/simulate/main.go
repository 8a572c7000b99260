package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sshcollectorpro/netdev/pkg/logger"
	"github.com/sshcollectorpro/netdev/simulate"
)

func main() {
	path := flag.String("config", "configs/simulate.yaml", "simulator config file")
	level := flag.String("log-level", "info", "log level")
	flag.Parse()

	if err := logger.Init(logger.Config{Level: *level, Format: "text", Output: "console"}); err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	cfg, err := simulate.LoadConfig(*path)
	if err != nil {
		logger.With("path", *path, "error", err).Fatal("Failed to load simulate config")
	}
	srv, err := simulate.Start(cfg)
	if err != nil {
		logger.With("error", err).Fatal("Failed to start simulator")
	}
	logger.With("ssh", srv.Addr(), "telnet", srv.TelnetAddr(), "devices", len(cfg.Devices)).Info("Simulator running")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Simulator shutting down...")
	srv.Stop()
}
