package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/titanmap/tracker/internal/author"
	"github.com/titanmap/tracker/internal/collection"
	"github.com/titanmap/tracker/internal/config"
	"github.com/titanmap/tracker/internal/feed"
	"github.com/titanmap/tracker/internal/filter"
	"github.com/titanmap/tracker/internal/index"
	"github.com/titanmap/tracker/internal/logging"
	"github.com/titanmap/tracker/internal/nav"
	intotel "github.com/titanmap/tracker/internal/otel"
	"github.com/titanmap/tracker/internal/pref"
	"github.com/titanmap/tracker/internal/statedb"
	"github.com/titanmap/tracker/internal/urlstate"
	"github.com/titanmap/tracker/internal/view"

	"github.com/rs/zerolog"
)

// module defs - BuildDate can be set at build time via ldflags
var (
	CurrentVersion string = "0.0.1"
	BuildDate      string = "unknown"

	AppName string = "tracker"
)

// global variables
var (
	// DB is the persisted key/value state store
	DB *statedb.Manager

	// SlogManager handles all slog-based logging
	SlogManager *logging.Manager

	// Logger is the slog logger (convenience reference)
	Logger *slog.Logger

	LogFilePath string
	LogFile     *os.File

	// OTelProvider handles OpenTelemetry
	OTelProvider *intotel.Provider

	SessionStartTime time.Time = time.Now()
)

func init() {
	// Initialize slog manager with initial config
	SlogManager = logging.NewManager()
	SlogManager.Setup(nil, "info")
	Logger = SlogManager.Logger()

	// load config
	if err := config.Load("."); err != nil {
		Logger.Warn("Failed to load config, using defaults!", "error", err)
	} else {
		Logger.Info("Loaded config")
	}

	// create logs dir if it doesn't exist
	logsDir := config.GetString("logsDir")
	if _, err := os.Stat(logsDir); os.IsNotExist(err) {
		os.Mkdir(logsDir, 0755)
	}

	LogFilePath = logging.LogFilePath(logsDir, SessionStartTime)
	var err error
	LogFile, err = os.OpenFile(LogFilePath, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
	if err != nil {
		Logger.Error("Failed to create/open log file!", "error", err, "path", LogFilePath)
	} else {
		SlogManager.Setup(LogFile, config.GetString("logLevel"))
		Logger = SlogManager.Logger()
	}
}

func initStorage() (err error) {
	zl := zerolog.New(os.Stderr).With().Timestamp().Logger()
	DB = statedb.NewManager(zl)
	err = DB.Connect()
	if err != nil {
		return err
	}
	return DB.Setup()
}

// engine bundles the runtime services shared by the state-backed commands.
type engine struct {
	filters     *filter.Manager
	collections *collection.Registry
	fetcher     *feed.FileFetcher
	index       *index.Index
}

func buildEngine(ctx context.Context) (*engine, error) {
	var err error
	OTelProvider, err = intotel.New(intotel.Config{
		Enabled:      config.GetBool("otel.enabled"),
		ServiceName:  AppName,
		Interval:     time.Duration(config.GetInt("otel.intervalSeconds")) * time.Second,
		MetricWriter: LogFile,
	})
	if err != nil {
		Logger.Warn("Failed to set up OTel, metrics disabled", "error", err)
	}

	if err := initStorage(); err != nil {
		return nil, err
	}

	e := &engine{
		filters:     filter.NewManager(DB, Logger),
		collections: collection.NewRegistry(DB, Logger),
		fetcher:     feed.NewFileFetcher(config.GetString("dataDir"), Logger),
	}

	idx, err := index.New(index.Dependencies{
		Fetcher:       e.fetcher,
		Filters:       e.filters,
		Collected:     e.collections.IsCollected,
		HideCollected: func() bool { return pref.LoadHideCollected(DB, Logger) },
		Logger:        Logger,
		MaxResults:    config.GetInt("search.maxResults"),
	})
	if err != nil {
		return nil, err
	}
	e.index = idx

	if err := idx.Build(ctx, config.KnownMaps()); err != nil {
		return nil, err
	}
	return e, nil
}

func closeStorage() {
	if DB != nil {
		if err := DB.Close(); err != nil {
			Logger.Warn("Failed to close state store", "error", err)
		}
	}
	if OTelProvider != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := OTelProvider.Shutdown(ctx); err != nil {
			Logger.Warn("Failed to shut down OTel", "error", err)
		}
	}
}

func main() {
	args := os.Args[1:]
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	var err error
	switch strings.ToLower(args[0]) {
	case "version":
		fmt.Printf("%s %s (built %s)\n", AppName, CurrentVersion, BuildDate)
	case "categories":
		fmt.Println("Valid marker categories:")
		for _, c := range author.ValidCategories {
			fmt.Printf("  - %s\n", c)
		}
	case "addmarker":
		err = runAddMarker(args[1:])
	case "batchadd":
		err = runBatchAdd(args[1:])
	case "search":
		err = runSearch(args[1:])
	case "collect":
		err = runCollect(args[1:])
	case "hidecollected":
		err = runHideCollected(args[1:])
	case "session":
		err = runSession(args[1:])
	default:
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		Logger.Error("Command failed", "command", args[0], "error", err)
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `Usage: %s <command> [args]

Commands:
  addmarker <map> <category> <name> <x> <y> [description] [--dry-run]
  batchadd <file> [--dry-run]
  categories
  search <query>
  collect <map> <marker>
  hidecollected <on|off>
  session [map] [marker] [zoom]
  version
`, AppName)
}

func runAddMarker(args []string) error {
	dryRun := false
	var rest []string
	for _, a := range args {
		if a == "--dry-run" {
			dryRun = true
			continue
		}
		rest = append(rest, a)
	}
	if len(rest) < 5 {
		return fmt.Errorf("usage: addmarker <map> <category> <name> <x> <y> [description] [--dry-run]")
	}

	x, err := strconv.ParseFloat(rest[3], 64)
	if err != nil {
		return fmt.Errorf("invalid x coordinate %q", rest[3])
	}
	y, err := strconv.ParseFloat(rest[4], 64)
	if err != nil {
		return fmt.Errorf("invalid y coordinate %q", rest[4])
	}
	description := ""
	if len(rest) > 5 {
		description = rest[5]
	}

	a := author.New(config.GetString("dataDir"), Logger)
	res, err := a.AddMarker(author.AddRequest{
		MapID:       rest[0],
		Category:    rest[1],
		Name:        rest[2],
		Description: description,
		X:           x,
		Y:           y,
		DryRun:      dryRun,
	})
	if err != nil {
		return err
	}

	fmt.Printf("Marker %s (%s) at (%v, %v) -> %s\n",
		res.Marker.ID, res.Marker.Name, x, y, res.Path)
	if !res.Applied {
		fmt.Println("Dry run: no file was modified.")
	}
	return nil
}

func runBatchAdd(args []string) error {
	dryRun := false
	file := ""
	for _, a := range args {
		if a == "--dry-run" {
			dryRun = true
			continue
		}
		file = a
	}
	if file == "" {
		return fmt.Errorf("usage: batchadd <file> [--dry-run]")
	}

	f, err := os.Open(file)
	if err != nil {
		return err
	}
	defer f.Close()

	a := author.New(config.GetString("dataDir"), Logger)
	out, err := a.BatchAdd(f, dryRun)
	if err != nil {
		return err
	}

	for _, res := range out.Added {
		fmt.Printf("Added %s (%s)\n", res.Marker.ID, res.Marker.Name)
	}
	fmt.Printf("Done: %d added, %d skipped.\n", len(out.Added), out.Skipped)
	return nil
}

func runSearch(args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: search <query>")
	}
	query := strings.Join(args, " ")

	ctx := context.Background()
	e, err := buildEngine(ctx)
	if err != nil {
		return err
	}
	defer closeStorage()

	results := e.index.Query(query)
	if len(results) == 0 {
		fmt.Println("No markers found.")
		return nil
	}
	for _, r := range results {
		fmt.Printf("%-14s %-10s %-8s %s\n", r.MarkerID, r.MapID, r.Category, r.Name)
	}
	return nil
}

func runCollect(args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: collect <map> <marker>")
	}
	mapID, markerID := args[0], args[1]

	if err := initStorage(); err != nil {
		return err
	}
	defer closeStorage()

	registry := collection.NewRegistry(DB, Logger)
	collected := registry.ForMap(mapID).ToggleCollection(markerID)
	if collected {
		fmt.Printf("Marker %s on %s marked as collected.\n", markerID, mapID)
	} else {
		fmt.Printf("Marker %s on %s marked as not collected.\n", markerID, mapID)
	}
	return nil
}

func runHideCollected(args []string) error {
	if len(args) == 0 || (args[0] != "on" && args[0] != "off") {
		return fmt.Errorf("usage: hidecollected <on|off>")
	}

	if err := initStorage(); err != nil {
		return err
	}
	defer closeStorage()

	v := args[0] == "on"
	if !pref.SaveHideCollected(DB, v, Logger) {
		return fmt.Errorf("failed to persist hide-collected preference")
	}
	fmt.Printf("Hide collected markers: %s\n", args[0])
	return nil
}

// runSession drives a full navigation round: restore (or switch), resolve
// visibility, then print the visible markers and the shareable link.
func runSession(args []string) error {
	ctx := context.Background()
	e, err := buildEngine(ctx)
	if err != nil {
		return err
	}
	defer closeStorage()

	layer := newConsoleLayer()
	v, err := view.New(view.Dependencies{
		Layer:         layer,
		Fetcher:       e.fetcher,
		Filters:       e.filters,
		Collections:   e.collections,
		HideCollected: func() bool { return pref.LoadHideCollected(DB, Logger) },
		Logger:        Logger,
	})
	if err != nil {
		return err
	}

	sink := &consoleURL{}
	codec := urlstate.NewCodec(config.KnownMaps())
	coord := nav.NewCoordinator(nav.Dependencies{
		View:       v,
		Codec:      codec,
		DB:         DB,
		URL:        sink,
		Notifier:   &consoleNotifier{},
		DefaultMap: config.KnownMaps()[0],
		Logger:     Logger,
	})

	// filter changes re-resolve visibility for the whole map
	unsubscribe := e.filters.Subscribe(func([]string) { v.Refresh() })
	defer unsubscribe()

	if len(args) == 0 {
		if err := coord.RestoreFromURL(ctx); err != nil {
			return err
		}
	} else {
		opts := nav.SwitchOptions{ForceVisibility: true}
		if len(args) > 1 {
			opts.FocusMarkerID = args[1]
		}
		if len(args) > 2 {
			zoom, err := strconv.ParseFloat(args[2], 64)
			if err != nil {
				return fmt.Errorf("invalid zoom %q", args[2])
			}
			opts.Zoom = zoom
			opts.HasZoom = true
		}
		if err := coord.SwitchToMap(ctx, args[0], opts); err != nil {
			return err
		}
	}

	layer.printSummary(v.MapID())
	if link := sink.link(); link != "" {
		fmt.Printf("Share link: %s\n", link)
	}
	return nil
}
