package main

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"santecal/internal/ics"
	"santecal/internal/layout"
	appLog "santecal/internal/log"
	"santecal/internal/store"
)

var (
	layoutDate  string
	layoutFeeds []string
	layoutCSS   bool
)

var layoutCmd = &cobra.Command{
	Use:   "layout",
	Short: "Print the computed day layout for one date",
	Long: `Fetches the given ICS files (or the configured feeds when none are given),
expands them for one day and prints every appointment with its column
position and pixel offsets.`,
	RunE: runLayout,
}

func init() {
	layoutCmd.Flags().StringVarP(&layoutDate, "date", "d", "", "Day to lay out as YYYY-MM-DD (default today)")
	layoutCmd.Flags().StringSliceVar(&layoutFeeds, "ics", nil, "ICS file, file:// or http(s) URL; repeatable")
	layoutCmd.Flags().BoolVar(&layoutCSS, "css", false, "Print placements as CSS declarations only")
}

func runLayout(cmd *cobra.Command, _ []string) error {
	engine := newEngine()

	day := engine.StartOfDay(time.Now().In(loc))
	if layoutDate != "" {
		d, err := time.ParseInLocation(time.DateOnly, layoutDate, loc)
		if err != nil {
			return fmt.Errorf("invalid --date %q: want YYYY-MM-DD", layoutDate)
		}
		day = d
	}

	sources := feedSources(layoutFeeds)
	if len(sources) == 0 {
		return fmt.Errorf("no feeds: pass --ics or configure ics in %s", configPath)
	}

	results, errs := ics.NewFetcher(conf.CacheDir).FetchAll(cmd.Context(), sources)
	if len(results) == 0 && len(errs) > 0 {
		return errs[0]
	}

	placements, err := dayLayout(engine, results, day, time.Duration(conf.DefaultDurationMinutes)*time.Minute)
	if err != nil {
		return err
	}
	return printPlacements(cmd.OutOrStdout(), placements, loc, layoutCSS)
}

// feedSources turns --ics arguments into sources, falling back to the
// configured feeds.
func feedSources(args []string) []ics.Source {
	var sources []ics.Source
	for _, a := range args {
		id := strings.TrimSuffix(filepath.Base(a), filepath.Ext(a))
		sources = append(sources, ics.Source{ID: id, URL: a})
	}
	if len(sources) > 0 {
		return sources
	}
	for _, c := range conf.ICS {
		if c.URL != "" {
			sources = append(sources, ics.Source{ID: c.SourceID(), URL: c.URL})
		}
	}
	return sources
}

// dayLayout expands the fetched feeds over day and lays the day out. A
// feed that fails to parse is logged and skipped.
func dayLayout(engine *layout.Engine, results []ics.FetchResult, day time.Time, defDuration time.Duration) ([]layout.Placement, error) {
	start := engine.StartOfDay(day)
	cfg := ics.ExpandConfig{
		DisplayLocation: engine.Location(),
		RangeStart:      start,
		RangeEnd:        start.AddDate(0, 0, 1),
		DefaultDuration: defDuration,
	}

	book := store.NewBook()
	for _, res := range results {
		parsed, err := ics.ParseICS(res.Source, res.Body)
		if err != nil {
			appLog.Error("skipping unparsable feed", err, "id", res.Source.ID)
			continue
		}
		expanded, err := ics.ExpandEvents(parsed, cfg)
		if err != nil {
			return nil, err
		}
		book.ReplaceSource(res.Source.ID, expanded.Events)
	}

	return engine.LayoutDay(book.List(cfg.RangeStart, cfg.RangeEnd), day), nil
}

func printPlacements(w io.Writer, placements []layout.Placement, loc *time.Location, cssOnly bool) error {
	if len(placements) == 0 {
		_, err := fmt.Fprintln(w, "no appointments")
		return err
	}
	for _, p := range placements {
		var err error
		if cssOnly {
			_, err = fmt.Fprintf(w, "%s\t%s\n", p.Event.ID, p.Position.CSS())
		} else {
			_, err = fmt.Fprintf(w, "%s-%s  %-12s  left=%6.2f%%  width=%6.2f%%  top=%7.1fpx  height=%6.1fpx  %s\n",
				p.Event.Start.In(loc).Format("15:04"),
				p.Event.End.In(loc).Format("15:04"),
				p.Event.Status,
				p.Position.Left, p.Position.Width, p.Position.Top, p.Position.Height,
				p.Event.Title,
			)
		}
		if err != nil {
			return err
		}
	}
	return nil
}
