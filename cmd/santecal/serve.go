package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"santecal/internal/ics"
	appLog "santecal/internal/log"
	"santecal/internal/refresh"
	"santecal/internal/store"
	"santecal/internal/web"
)

var serveListen string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP server and the scheduled feed refresh",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveListen, "listen", "", "HTTP listen address (overrides config if set)")
}

func runServe(cmd *cobra.Command, _ []string) error {
	// CLI --listen overrides config file listen if provided.
	if serveListen != "" {
		conf.Listen = serveListen
	}
	appLog.Info("santecal starting", "version", version, "listen", conf.Listen, "ics_count", len(conf.ICS))

	// Root context with cancellation on SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	book := store.NewBook()
	refresher := refresh.New(conf, loc, ics.NewFetcher(conf.CacheDir), book)
	if err := refresher.Start(ctx); err != nil {
		return err
	}

	srv := web.NewServer(conf, newEngine(), book)
	if err := srv.Run(ctx); err != nil {
		return err
	}

	appLog.Info("santecal exiting")
	return nil
}
