// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/ffutop/modbus-dispenser/internal/config"
	"github.com/ffutop/modbus-dispenser/internal/dispenser"
	"github.com/ffutop/modbus-dispenser/internal/exporter"
	"github.com/ffutop/modbus-dispenser/internal/register"
	"github.com/ffutop/modbus-dispenser/internal/simulator"
	"github.com/ffutop/modbus-dispenser/transport"
	"github.com/ffutop/modbus-dispenser/transport/local"
	"github.com/ffutop/modbus-dispenser/transport/rtu"
	rtuovertcp "github.com/ffutop/modbus-dispenser/transport/rtu-over-tcp"
)

const usage = `Usage: dispenser [flags] <command> [args]

Commands:
  run                   connect and poll the device until interrupted
  start                 start dispensing
  stop                  stop dispensing
  set-volume-dose <v>   write the volume setpoint
  set-mass-dose <v>     write the mass setpoint
  simulate              serve a simulated device

Flags:
`

// Simulated flow: volume dispensed per tick.
const (
	simulatorTick = 100 * time.Millisecond
	simulatorStep = 0.05
)

type command struct {
	name  string
	value float64
}

func parseCommand(args []string) (command, error) {
	if len(args) == 0 {
		return command{name: "run"}, nil
	}
	cmd := command{name: args[0]}
	switch cmd.name {
	case "run", "start", "stop", "simulate":
		if len(args) != 1 {
			return cmd, fmt.Errorf("%s takes no arguments", cmd.name)
		}
	case "set-volume-dose", "set-mass-dose":
		if len(args) != 2 {
			return cmd, fmt.Errorf("%s needs exactly one value", cmd.name)
		}
		v, err := strconv.ParseFloat(args[1], 64)
		if err != nil {
			return cmd, fmt.Errorf("invalid dose %q: %w", args[1], err)
		}
		cmd.value = v
	default:
		return cmd, fmt.Errorf("unknown command %q", cmd.name)
	}
	return cmd, nil
}

func main() {
	fs := config.Flags()
	fs.Usage = func() {
		fmt.Fprint(os.Stderr, usage)
		fs.PrintDefaults()
	}
	if err := fs.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			os.Exit(0)
		}
		os.Exit(2)
	}

	cmd, err := parseCommand(fs.Args())
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		fs.Usage()
		os.Exit(2)
	}

	configFile, _ := fs.GetString("config")
	cfg, err := config.LoadConfig(configFile, fs)
	if err != nil {
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	setupLogger(cfg.Log)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	switch cmd.name {
	case "run":
		err = runPoll(ctx, cfg)
	case "simulate":
		err = runSimulator(ctx, cfg)
	default:
		err = runCommand(ctx, cfg, cmd)
	}
	if err != nil {
		slog.Error("Command failed", "command", cmd.name, "err", err)
		os.Exit(1)
	}
}

func setupLogger(cfg config.LogConfig) {
	opts := &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}
	switch cfg.Level {
	case "debug":
		opts.Level = slog.LevelDebug
	case "warn":
		opts.Level = slog.LevelWarn
	case "error":
		opts.Level = slog.LevelError
	}

	var handler slog.Handler
	if cfg.File != "" && cfg.File != "-" {
		f, err := os.OpenFile(cfg.File, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			fmt.Printf("Failed to open log file, falling back to stdout: %v\n", err)
			handler = slog.NewTextHandler(os.Stdout, opts)
		} else {
			handler = slog.NewTextHandler(f, opts)
		}
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}

// newDialer returns the configured transport. The closer releases resources
// owned by the dialer itself.
func newDialer(cfg *config.Config) (transport.Dialer, io.Closer, error) {
	switch cfg.Transport.Type {
	case "rtu":
		return rtu.NewDialer(cfg.Transport.Serial), io.NopCloser(nil), nil
	case "rtu-over-tcp":
		return rtuovertcp.NewDialer(cfg.Transport.Tcp.Address), io.NopCloser(nil), nil
	case "local":
		d := local.NewDialer(cfg.Device.Address, cfg.Transport.Local)
		return d, d, nil
	default:
		return nil, nil, fmt.Errorf("unknown transport type %q", cfg.Transport.Type)
	}
}

// logObserver writes session events to the default logger.
type logObserver struct{}

func (logObserver) OnDecodedValue(name string, v register.Value) {
	slog.Info("Register", "name", name, "value", v.String())
}

func (logObserver) OnLogMessage(text string) {
	slog.Info(text)
}

func (logObserver) OnConnectionStateChanged(s dispenser.State) {
	slog.Info("Connection state changed", "state", s)
}

func sessionOptions(cfg *config.Config) dispenser.Options {
	return dispenser.Options{
		Address:      cfg.Device.Address,
		Timeout:      cfg.Device.Timeout,
		PollInterval: cfg.Poll.Interval,
	}
}

func runPoll(ctx context.Context, cfg *config.Config) error {
	dialer, closer, err := newDialer(cfg)
	if err != nil {
		return err
	}
	defer closer.Close()

	observers := dispenser.Observers{logObserver{}}
	var wg sync.WaitGroup
	if cfg.Metrics.Address != "" {
		exp := exporter.New()
		observers = append(observers, exp)

		mux := http.NewServeMux()
		mux.Handle("/metrics", exp.Handler())
		srv := &http.Server{Addr: cfg.Metrics.Address, Handler: mux}
		wg.Add(1)
		go func() {
			defer wg.Done()
			slog.Info("Metrics endpoint listening", "addr", cfg.Metrics.Address)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("Metrics server failed", "err", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			srv.Shutdown(shutdownCtx)
			wg.Wait()
		}()
	}

	slog.Info("Starting Modbus dispenser master...", "transport", cfg.Transport.Type, "address", cfg.Device.Address)
	session := dispenser.NewSession(dialer, sessionOptions(cfg), observers)
	if err := session.Run(ctx); err != nil {
		return err
	}
	slog.Info("Goodbye.")
	return nil
}

func runCommand(ctx context.Context, cfg *config.Config, cmd command) error {
	dialer, closer, err := newDialer(cfg)
	if err != nil {
		return err
	}
	defer closer.Close()

	opts := sessionOptions(cfg)
	opts.DisablePolling = true
	session := dispenser.NewSession(dialer, opts, logObserver{})
	if err := session.Connect(ctx); err != nil {
		return err
	}
	defer session.Disconnect()

	switch cmd.name {
	case "start":
		return session.Start(ctx)
	case "stop":
		return session.Stop(ctx)
	case "set-volume-dose":
		return session.SetVolumeDose(ctx, cmd.value)
	case "set-mass-dose":
		return session.SetMassDose(ctx, cmd.value)
	}
	return fmt.Errorf("unknown command %q", cmd.name)
}

func runSimulator(ctx context.Context, cfg *config.Config) error {
	sim := simulator.Open(cfg.Simulator.Address, cfg.Simulator.Persistence)
	defer sim.Close()

	var srv transport.Server
	switch cfg.Simulator.Listen.Type {
	case "rtu":
		srv = rtu.NewServer(cfg.Simulator.Listen.Serial)
	case "rtu-over-tcp":
		srv = rtuovertcp.NewServer(cfg.Simulator.Listen.Tcp.Address)
	default:
		return fmt.Errorf("unknown simulator listen type %q", cfg.Simulator.Listen.Type)
	}

	go func() {
		ticker := time.NewTicker(simulatorTick)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				sim.Tick(simulatorStep)
			}
		}
	}()

	slog.Info("Starting dispenser simulator...", "listen", cfg.Simulator.Listen.Type, "address", cfg.Simulator.Address)
	if err := srv.Start(ctx, sim.Handle); err != nil {
		return err
	}
	slog.Info("Goodbye.")
	return nil
}
