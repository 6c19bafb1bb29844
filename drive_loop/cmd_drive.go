package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

var driveFlags struct {
	iface    string
	canMap   string
	db       string
	duration time.Duration
}

var driveCmd = &cobra.Command{
	Use:   "drive",
	Short: "Run the live drive loop on the CAN bus",
	Args:  cobra.NoArgs,
	RunE:  runDrive,
}

func init() {
	f := driveCmd.Flags()
	f.StringVar(&driveFlags.iface, "iface", "", "SocketCAN interface (overrides can.interface)")
	f.StringVar(&driveFlags.canMap, "map", "", "Path to can_map.csv (overrides can.map)")
	f.StringVar(&driveFlags.db, "db", "", "Telemetry SQLite file (overrides telemetry.db_path)")
	f.DurationVar(&driveFlags.duration, "duration", 0, "Stop after this long; 0 runs until interrupted")
}

func runDrive(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if driveFlags.iface != "" {
		cfg.CAN.Interface = driveFlags.iface
	}
	if driveFlags.canMap != "" {
		cfg.CAN.Map = driveFlags.canMap
	}
	if driveFlags.db != "" {
		cfg.Telemetry.DBPath = driveFlags.db
	}

	log, err := openFileLogger(cfg)
	if err != nil {
		return err
	}
	defer log.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if driveFlags.duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, driveFlags.duration)
		defer cancel()
	}

	runner, err := NewRunner(ctx, cfg, log)
	if err != nil {
		log.Critical("Startup failed: %v", err)
		return err
	}
	defer runner.Close()

	if err := runner.Run(ctx); err != nil {
		log.Critical("Run failed: %v", err)
		return err
	}
	return nil
}
