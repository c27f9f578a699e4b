// Copyright 2025 James Ross
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/juanmitaboada/redismultiplexer/internal/config"
	"github.com/juanmitaboada/redismultiplexer/internal/link"
	"github.com/juanmitaboada/redismultiplexer/internal/obs"
	"github.com/juanmitaboada/redismultiplexer/internal/supervisor"
)

const progName = "redismultiplexer"

var version = "dev"
var buildDate = "unknown"

func main() {
	args := os.Args[1:]
	if len(args) == 0 {
		usage()
		os.Exit(2)
	}

	switch args[0] {
	case "version", "--version":
		fmt.Printf("%s %s (built %s)\n", progName, version, buildDate)
		return
	case "help", "--help", "-h":
		usage()
		return
	}

	configPath, statusOverride := resolvePaths(args)
	if configPath == "" {
		usage()
		os.Exit(2)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if statusOverride != nil {
		cfg.Pid = statusOverride.pid
		cfg.Status = statusOverride.status
	}

	logger, err := obs.NewLogger(cfg.Observability.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("signal received, shutting down", obs.String("signal", sig.String()))
		cancel()
		select {
		case sig2 := <-sigCh:
			logger.Warn("second signal received, exiting immediately", obs.String("signal", sig2.String()))
			os.Exit(1)
		case <-time.After(10 * time.Second):
		}
	}()

	readyLink := link.Dial("readyz", link.Coordinates{
		Hostname: cfg.Source.Hostname, Port: cfg.Source.Port,
		Password: cfg.Source.Password, SSL: cfg.Source.SSL, Channel: cfg.Source.Channel,
	})
	defer func() { _ = readyLink.Close() }()
	readyCheck := func(c context.Context) error { return readyLink.Ping(c) }
	httpSrv := obs.StartHTTPServer(cfg, readyCheck)
	defer func() { _ = httpSrv.Shutdown(context.Background()) }()

	sup := supervisor.New(cfg, logger)
	if err := sup.Run(ctx); err != nil {
		logger.Fatal("fatal error", obs.Err(err))
	}
}

type overridePaths struct {
	pid    string
	status string
}

// resolvePaths implements the two CLI forms from spec.md §6: a bare config
// path for normal mode, or "<prefix> systemd" which derives the YAML,
// pid and status paths from the systemd naming convention.
func resolvePaths(args []string) (configPath string, override *overridePaths) {
	if len(args) == 2 && args[1] == "systemd" {
		prefix := args[0]
		return filepath.Join("/etc", progName, prefix+".yaml"), &overridePaths{
			pid:    filepath.Join("/run", progName, prefix+".pid"),
			status: filepath.Join("/run", progName, prefix+".status"),
		}
	}
	if len(args) == 1 {
		return args[0], nil
	}
	return "", nil
}

func usage() {
	fmt.Printf(`%s - Redis list multiplexer

Usage:
  %s <config.yaml>        run with the given configuration file
  %s <prefix> systemd      run under systemd: reads /etc/%s/<prefix>.yaml,
                            writes /run/%s/<prefix>.pid and .status
  %s version | --version   print version and exit
  %s help | --help | -h    print this message

`, progName, progName, progName, progName, progName, progName, progName)
}
