package main

import (
	"strings"
	"time"

	"github.com/spf13/cobra"

	"santecal/internal/capture"
	appLog "santecal/internal/log"
)

var (
	snapshotURL  string
	snapshotDate string
	snapshotOut  string
)

var snapshotCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "Capture the day view of a running server as PNG",
	Long: `Loads /calendar of a running santecal server in headless Chromium and
writes a PNG, served afterwards at /preview.png.`,
	RunE: runSnapshot,
}

func init() {
	snapshotCmd.Flags().StringVar(&snapshotURL, "url", "", "Server base URL (default http://<listen>)")
	snapshotCmd.Flags().StringVarP(&snapshotDate, "date", "d", "", "Day to capture as YYYY-MM-DD (default today)")
	snapshotCmd.Flags().StringVarP(&snapshotOut, "out", "o", "", "Output PNG path (default preview_path from config)")
}

func runSnapshot(cmd *cobra.Command, _ []string) error {
	target := calendarURL(snapshotURL, conf.Listen, snapshotDate)
	out := snapshotOut
	if out == "" {
		out = conf.PreviewPath
	}

	start := time.Now()
	err := capture.CaptureCalendarPNG(cmd.Context(), capture.CaptureOptions{
		URL:        target,
		OutputPath: out,
		Height:     24*conf.RowHeight + 64,
	})
	if err != nil {
		return err
	}
	appLog.Info("snapshot written", "url", target, "out", out, "elapsed", time.Since(start).String())
	return nil
}

// calendarURL builds the day view URL from an explicit base or the listen
// address.
func calendarURL(base, listen, date string) string {
	if base == "" {
		base = "http://" + listen
	}
	u := strings.TrimRight(base, "/") + "/calendar"
	if date != "" {
		u += "?date=" + date
	}
	return u
}
