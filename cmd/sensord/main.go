// cmd/sensord/main.go
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli"

	"github.com/tamzrod/camlink/internal/config"
	"github.com/tamzrod/camlink/internal/logging"
	"github.com/tamzrod/camlink/internal/monitor"
	"github.com/tamzrod/camlink/internal/rig"
	"github.com/tamzrod/camlink/internal/writer"
)

func main() {
	app := cli.NewApp()
	app.Name = "sensord"
	app.Usage = "bring up camera sensors and export their status"
	app.Version = "0.1.0"

	app.Commands = []cli.Command{
		{
			Name:      "check",
			Usage:     "validate a configuration and print what it builds",
			ArgsUsage: "<config.yaml>",
			Action:    check,
		},
		{
			Name:      "run",
			Usage:     "power the sensors, apply their modes and export status",
			ArgsUsage: "<config.yaml>",
			Flags: []cli.Flag{
				cli.BoolFlag{
					Name:  "stream, s",
					Usage: "start streaming once every sensor is configured",
				},
				cli.DurationFlag{
					Name:  "bus-timeout",
					Value: time.Second,
					Usage: "timeout of Modbus register gateways",
				},
			},
			Action: run,
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "sensord:", err)
		os.Exit(1)
	}
}

// loadConfig loads, validates and normalizes the file named by the first
// argument.
func loadConfig(c *cli.Context) (*config.Config, error) {
	if c.NArg() != 1 {
		return nil, fmt.Errorf("usage: sensord %s <config.yaml>", c.Command.Name)
	}
	cfg, err := config.Load(c.Args().First())
	if err != nil {
		return nil, fmt.Errorf("config load failed: %w", err)
	}
	if err := config.Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	config.Normalize(cfg)
	return cfg, nil
}

func check(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	summarize(c.App.Writer, cfg)
	return nil
}

func summarize(w io.Writer, cfg *config.Config) {
	for _, l := range cfg.Links {
		fmt.Fprintf(w, "link %s: %s@0x%02x csi=%s sources=%d\n", l.ID, l.Bus, l.Address, l.CSIMode, l.MaxSources)
	}
	for _, s := range cfg.Sensors {
		fmt.Fprintf(w, "sensor %s: %s %s %s@0x%02x lanes=%d bits=%d role=%s",
			s.ID, s.Model, s.Transport, s.Bus, s.Address, s.Lanes, s.BitDepth, s.Role)
		if s.Link != "" {
			fmt.Fprintf(w, " link=%s/%s port=%s", s.Link, s.CSILink, s.CSIPort)
		}
		if s.StatusSlot != nil {
			fmt.Fprintf(w, " slot=%d name=%q", *s.StatusSlot, s.DeviceName)
		}
		fmt.Fprintln(w)
	}
	if sm := cfg.StatusMemory; sm != nil {
		fmt.Fprintf(w, "status memory: %s unit=%d every %dms\n", sm.Endpoint, sm.UnitID, sm.IntervalMs)
	}
}

func run(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}

	logger := logging.NewAdapter(logging.New(cfg.Logging))

	r, err := rig.Build(cfg, rig.Options{
		Opener: &rig.HostOpener{Timeout: c.Duration("bus-timeout")},
		Logger: logger,
	})
	if err != nil {
		return fmt.Errorf("rig build failed: %w", err)
	}
	defer func() {
		if err := r.Close(); err != nil {
			logger.Warn("rig close incomplete", "err", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// a sensor that fails to start stays visible in the status block
	if err := r.Start(c.Bool("stream")); err != nil {
		logger.Error("not every sensor started", "err", err)
	}

	if cfg.StatusMemory != nil {
		if err := export(ctx, cfg, r, logger); err != nil {
			return err
		}
	} else {
		logger.Info("no status memory configured")
		<-ctx.Done()
	}

	logger.Info("shutting down")
	if err := r.Stop(); err != nil {
		logger.Warn("power off incomplete", "err", err)
	}
	return nil
}

// export samples the rig and mirrors every sensor with a status slot into
// status memory until ctx is done.
func export(ctx context.Context, cfg *config.Config, src monitor.Source, logger *logging.Adapter) error {
	sm := cfg.StatusMemory

	mon, err := monitor.New(monitor.Config{
		Interval: time.Duration(sm.IntervalMs) * time.Millisecond,
	}, src)
	if err != nil {
		return err
	}

	client, err := writer.BuildEndpointClient(*sm)
	if err != nil {
		return fmt.Errorf("status memory client failed: %w", err)
	}
	defer client.Close()

	exp := writer.New(writer.BuildPlan(cfg), client)
	exp.SetLogger(logger.With("component", "writer"))

	samples := make(chan monitor.Sample)
	done := make(chan struct{})
	go func() {
		defer close(done)
		exp.Run(ctx, samples)
	}()

	logger.Info("exporting status", "endpoint", sm.Endpoint, "interval_ms", sm.IntervalMs)
	mon.Run(ctx, samples)
	<-done
	return nil
}
