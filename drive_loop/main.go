// kartdrive runs the go-kart drive loop: it arbitrates between the driver, the
// steering model and the safety overrides, and talks to the kart over CAN.
//
// Usage:
//
//	kartdrive drive  [--config config/vehicle.yaml] [--iface can0] [--duration 0]
//	kartdrive replay [--db telemetry.db] [--trace] config/scenarios/exit_stop.yaml
//	kartdrive runs   [--db telemetry.db] [--run <id>]
package main

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"

	"github.com/spf13/cobra"

	"kart-drive-core/utils"
)

// version is set at build time via -ldflags.
var version = "dev"

const defaultConfigPath = "config/vehicle.yaml"

var rootFlags struct {
	config  string
	level   string
	logFile string
}

var rootCmd = &cobra.Command{
	Use:   "kartdrive",
	Short: "Go-kart drive loop and mode arbiter",
	Long: "kartdrive decides each control tick whether the human, the steering model\n" +
		"or a safety override drives the kart, and sends the result on CAN.",
	SilenceUsage: true,
	CompletionOptions: cobra.CompletionOptions{
		HiddenDefaultCmd: true,
	},
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&rootFlags.config, "config", defaultConfigPath, "Path to vehicle.yaml")
	pf.StringVar(&rootFlags.level, "log", "", "trace|debug|info|warn|error|critical (overrides log.level)")
	pf.StringVar(&rootFlags.logFile, "log-file", "", "Log file (overrides log.file)")

	rootCmd.AddCommand(driveCmd)
	rootCmd.AddCommand(replayCmd)
	rootCmd.AddCommand(runsCmd)
	rootCmd.Version = version
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig reads --config. The default path may be absent, in which case
// the built-in defaults apply.
func loadConfig(cmd *cobra.Command) (AppConfig, error) {
	cfg, err := LoadAppConfig(rootFlags.config)
	if err == nil {
		return cfg, nil
	}
	if !cmd.Flags().Changed("config") && errors.Is(err, fs.ErrNotExist) {
		return DefaultAppConfig(), nil
	}
	return AppConfig{}, err
}

func logLevel(cfg AppConfig) utils.LogLevel {
	if rootFlags.level != "" {
		return utils.ParseLevel(rootFlags.level)
	}
	return utils.ParseLevel(cfg.Log.Level)
}

// openFileLogger is the drive command's logger: file plus stdout.
func openFileLogger(cfg AppConfig) (*utils.Logger, error) {
	path := cfg.Log.File
	if rootFlags.logFile != "" {
		path = rootFlags.logFile
	}
	log, err := utils.NewFileLogger(path, logLevel(cfg), true)
	if err != nil {
		return nil, fmt.Errorf("cannot open %s: %w", path, err)
	}
	return log, nil
}

// writerLogger is used by the offline commands, which keep stdout for results.
func writerLogger(w io.Writer, fallback utils.LogLevel) *utils.Logger {
	level := fallback
	if rootFlags.level != "" {
		level = utils.ParseLevel(rootFlags.level)
	}
	return utils.NewWriterLogger(w, level)
}
