package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"santecal/internal/config"
	"santecal/internal/layout"
	appLog "santecal/internal/log"
)

const version = "0.1.0"

var (
	configPath string

	// Populated by the root PersistentPreRunE for every subcommand.
	conf *config.Config
	loc  *time.Location
)

var rootCmd = &cobra.Command{
	Use:   "santecal",
	Short: "Clinic appointment calendar with overlap-aware day layout",
	Long: `santecal merges clinic ICS feeds and directly booked appointments into
one appointment book and lays out each day as side-by-side columns,
so overlapping appointments never cover each other.`,
	SilenceUsage:      true,
	PersistentPreRunE: loadConfig,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "/etc/santecal/config.yaml", "Path to config file")

	rootCmd.AddCommand(serveCmd, layoutCmd, snapshotCmd)
}

func loadConfig(cmd *cobra.Command, _ []string) error {
	c, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config %s: %w", configPath, err)
	}
	conf = c
	appLog.SetLevel(appLog.ParseLevel(conf.LogLevel))

	loc, err = time.LoadLocation(conf.Timezone)
	if err != nil {
		appLog.Error("unknown timezone, falling back to local", err, "timezone", conf.Timezone)
		loc = time.Local
	}

	appLog.Debug("effective config",
		"command", cmd.Name(),
		"listen", conf.Listen,
		"timezone", loc.String(),
		"week_start", conf.WeekStart,
		"row_height", conf.RowHeight,
		"refresh", conf.RefreshCron,
		"horizon_days", conf.HorizonDays,
		"ics_count", len(conf.ICS),
	)
	return nil
}

func newEngine() *layout.Engine {
	return layout.New(float64(conf.RowHeight), loc)
}
