package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/lotas/tabharvest/internal/applog"
	"github.com/lotas/tabharvest/internal/cdptabs"
	"github.com/lotas/tabharvest/internal/collect"
	"github.com/lotas/tabharvest/internal/config"
	"github.com/lotas/tabharvest/internal/firefox"
	"github.com/lotas/tabharvest/internal/localdl"
	"github.com/lotas/tabharvest/internal/pathrule"
	"github.com/lotas/tabharvest/internal/run"
	"github.com/lotas/tabharvest/internal/server"
	"github.com/lotas/tabharvest/internal/storage"
	"github.com/lotas/tabharvest/internal/tui"
	"github.com/lotas/tabharvest/internal/types"
)

const (
	defaultPort     = 19292
	defaultDevtools = "http://127.0.0.1:9222"
)

func main() {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "serve":
			runServe(os.Args[2:])
			return
		case "cdp":
			os.Exit(runCDP(os.Args[2:]))
		case "preview":
			runPreview(os.Args[2:])
			return
		case "history":
			runHistory(os.Args[2:])
			return
		case "profiles":
			runProfiles()
			return
		case "help", "--help", "-h":
			printHelp()
			return
		}
	}
	runServe(os.Args[1:])
}

func printHelp() {
	fmt.Print(`tabharvest - download the images of a window's tabs

Usage:
  tabharvest [serve]                                   Serve the browser extension (default)
    --port <n>             WebSocket port (env: TABHARVEST_PORT, default: 19292)
    --config <file>        Options file (env: TABHARVEST_CONFIG)
    --db <file>            Run history database (env: TABHARVEST_DB)
    --tui                  Show the live window monitor
    --verbose              Log to stderr as well, including debug events

  tabharvest cdp                                       Harvest one window over DevTools
    --window <n>           Browser window id (default: first window with pages)
    --devtools <url>       DevTools endpoint (env: TABHARVEST_DEVTOOLS, default: http://127.0.0.1:9222)
    --out <dir>            Download directory (default: .)
    --timeout <d>          Give up and cancel after this long (default: 10m)
    --config <file>        Options file
    --db <file>            Run history database

  tabharvest preview                                   Show which tabs a run would take
    --profile <name>       Firefox profile name (env: TABHARVEST_PROFILE)
    --scope <scope>        Override the configured scope: right, left, all, active
    --config <file>        Options file

  tabharvest history                                   List finished runs
    --limit <n>            Number of runs to show (default: 20)
    --prune <days>         Delete runs older than this many days first
    --db <file>            Run history database

  tabharvest profiles                                  List Firefox profiles

Environment:
  TABHARVEST_LOG_DIR     Log directory (default: ~/.local/share/tabharvest/logs)
`)
}

// --- environment helpers ---

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}

func initLogging(console bool) {
	dir := os.Getenv("TABHARVEST_LOG_DIR")
	if dir == "" {
		home, _ := os.UserHomeDir()
		dir = filepath.Join(home, ".local", "share", "tabharvest", "logs")
	}
	if err := applog.Init(dir, console); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: logging disabled: %v\n", err)
	}
}

func loadOptions(path string) config.Options {
	if path == "" {
		path = config.DefaultPath()
	}
	opts, err := config.Load(path)
	if err != nil {
		fatalf("%v", err)
	}
	return opts
}

// openDB opens the history database. Runs still work without one.
func openDB(path string) *sql.DB {
	if path == "" {
		path = os.Getenv("TABHARVEST_DB")
	}
	if path == "" {
		p, err := storage.DefaultDBPath()
		if err != nil {
			applog.Error("db.path", err)
			return nil
		}
		path = p
	}
	db, err := storage.OpenDB(path)
	if err != nil {
		applog.Error("db.open", err, "path", path)
		fmt.Fprintf(os.Stderr, "Warning: run history disabled: %v\n", err)
		return nil
	}
	return db
}

func recordRun(db *sql.DB, r run.Report) {
	if db == nil {
		return
	}
	if _, err := storage.RecordRun(db, storage.RecordFromReport(r)); err != nil {
		applog.Error("db.record", err, "window", r.Window)
	}
}

// --- serve ---

func runServe(args []string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	port := fs.Int("port", envInt("TABHARVEST_PORT", defaultPort), "WebSocket port")
	configPath := fs.String("config", "", "Options file")
	dbPath := fs.String("db", "", "Run history database")
	withTUI := fs.Bool("tui", false, "Show the live window monitor")
	verbose := fs.Bool("verbose", false, "Log to stderr")
	fs.Parse(args)

	initLogging(*verbose && !*withTUI)
	defer applog.Close()

	store := config.NewStore(loadOptions(*configPath))
	db := openDB(*dbPath)
	if db != nil {
		defer db.Close()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := server.New(*port)
	bridge := server.NewBridge(srv, store)

	var (
		progress types.Progress = bridge
		program  *tea.Program
		monitor  *tui.Progress
	)
	if *withTUI {
		program = tea.NewProgram(tui.NewModel(*port, srv.Connected), tea.WithAltScreen())
		monitor = tui.NewProgress(program)
		progress = run.Fanout{bridge, monitor}
	}

	orch := run.New(run.Deps{
		Tabs:      bridge,
		Downloads: bridge,
		Paths:     pathrule.New(pathrule.NewHTTPProber()),
		Options:   store,
		Progress:  progress,
		Notifier:  bridge,
		OnFinish: func(r run.Report) {
			recordRun(db, r)
			if monitor != nil {
				monitor.Report(r)
			}
		},
	})
	defer orch.Close()
	bridge.SetToggler(orch)

	go bridge.Run(ctx)
	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe(ctx) }()

	if program != nil {
		go func() {
			if err := <-errc; err != nil {
				applog.Error("server.listen", err)
				program.Quit()
			}
		}()
		if _, err := program.Run(); err != nil {
			fatalf("%v", err)
		}
		return
	}

	fmt.Fprintf(os.Stderr, "Listening for the extension on 127.0.0.1:%d\n", *port)
	select {
	case <-ctx.Done():
	case err := <-errc:
		if err != nil {
			fatalf("%v", err)
		}
	}
}

// --- cdp ---

// runCDP harvests one window and returns the process exit code, so the
// deferred cleanup runs before the caller exits.
func runCDP(args []string) int {
	fs := flag.NewFlagSet("cdp", flag.ExitOnError)
	window := fs.Int("window", 0, "Browser window id")
	devtools := fs.String("devtools", envOr("TABHARVEST_DEVTOOLS", defaultDevtools), "DevTools endpoint")
	outDir := fs.String("out", ".", "Download directory")
	timeout := fs.Duration("timeout", 10*time.Minute, "Cancel the run after this long")
	configPath := fs.String("config", "", "Options file")
	dbPath := fs.String("db", "", "Run history database")
	verbose := fs.Bool("verbose", false, "Log to stderr")
	fs.Parse(args)

	initLogging(*verbose)
	defer applog.Close()

	store := config.NewStore(loadOptions(*configPath))
	db := openDB(*dbPath)
	if db != nil {
		defer db.Close()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tabs := cdptabs.New(*devtools)
	win := types.WindowID(*window)
	if win == 0 {
		wins, err := tabs.Windows(ctx)
		if err != nil {
			applog.Error("cdp.windows", err, "devtools", *devtools)
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
		if len(wins) == 0 {
			fmt.Fprintf(os.Stderr, "Error: no browser window with pages at %s\n", *devtools)
			return 1
		}
		win = wins[0]
	}

	dl := localdl.New(*outDir)
	reports := make(chan run.Report, 1)
	orch := run.New(run.Deps{
		Tabs:      tabs,
		Downloads: dl,
		Paths:     pathrule.New(pathrule.NewHTTPProber()),
		Options:   store,
		OnFinish:  func(r run.Report) { reports <- r },
	})
	defer orch.Close()

	fmt.Fprintf(os.Stderr, "Harvesting window %d from %s\n", win, *devtools)
	runCtx, cancel := context.WithTimeout(ctx, *timeout)
	defer cancel()
	if err := orch.Start(runCtx, win); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	var r run.Report
	select {
	case r = <-reports:
	case <-runCtx.Done():
		orch.Cancel(context.Background(), win)
		r = <-reports
	}
	dl.Wait()

	recordRun(db, r)
	fmt.Println(r.Title)
	fmt.Println(r.Body)
	if r.HadErrors() || r.Outcome == run.OutcomeCancelled {
		return 1
	}
	return 0
}

// --- preview ---

func runPreview(args []string) {
	fs := flag.NewFlagSet("preview", flag.ExitOnError)
	profileName := fs.String("profile", os.Getenv("TABHARVEST_PROFILE"), "Firefox profile name")
	scopeFlag := fs.String("scope", "", "Override the configured scope")
	configPath := fs.String("config", "", "Options file")
	fs.Parse(args)

	opts := loadOptions(*configPath)
	if *scopeFlag != "" {
		s, err := types.ParseScope(*scopeFlag)
		if err != nil {
			fatalf("%v", err)
		}
		opts.Scope = s
	}

	profiles, err := firefox.DiscoverProfiles()
	if err != nil {
		fatalf("discover profiles: %v", err)
	}
	profile, err := firefox.PickProfile(profiles, *profileName)
	if err != nil {
		fatalf("%v", err)
	}
	windows, err := firefox.ReadSessionFile(profile.Path)
	if err != nil {
		fatalf("%v", err)
	}

	fmt.Printf("Profile %s, scope %s\n", profile.Name, opts.Scope.Label())
	for _, w := range windows {
		selected := collect.SelectTabs(w.Tabs, opts.Scope, opts.IncludeActive)
		fmt.Printf("\nWindow %d: %d of %d tabs\n", w.ID, len(selected), len(w.Tabs))
		for _, t := range selected {
			mark := " "
			switch {
			case t.Active:
				mark = "*"
			case t.Discarded && opts.IgnoreDiscardedTabs:
				mark = "-"
			case t.Discarded:
				mark = "r"
			}
			fmt.Printf("  %s %3d  %s\n", mark, t.Index+1, t.URL)
		}
	}
	fmt.Println("\n* active  r reloaded before harvest  - skipped (unloaded)")
}

// --- history ---

func runHistory(args []string) {
	fs := flag.NewFlagSet("history", flag.ExitOnError)
	limit := fs.Int("limit", 20, "Number of runs to show")
	pruneDays := fs.Int("prune", 0, "Delete runs older than this many days")
	dbPath := fs.String("db", "", "Run history database")
	fs.Parse(args)

	db := openDB(*dbPath)
	if db == nil {
		os.Exit(1)
	}
	defer db.Close()

	if *pruneDays > 0 {
		n, err := storage.PruneRuns(db, time.Now().AddDate(0, 0, -*pruneDays))
		if err != nil {
			fatalf("%v", err)
		}
		fmt.Printf("Pruned %d runs.\n", n)
	}

	runs, err := storage.ListRuns(db, *limit)
	if err != nil {
		fatalf("listing runs: %v", err)
	}
	if len(runs) == 0 {
		fmt.Println("No runs found.")
		return
	}

	fmt.Printf("%-16s %6s  %-6s %-10s %5s %6s %5s  %s\n", "FINISHED", "WINDOW", "SCOPE", "OUTCOME", "SAVED", "FAILED", "PATHS", "DURATION")
	for _, r := range runs {
		fmt.Printf("%-16s %6d  %-6s %-10s %5d %6d %5d  %s\n",
			r.FinishedAt.Local().Format("2006-01-02 15:04"),
			r.Window,
			r.Scope,
			r.Outcome,
			r.ImagesSaved,
			r.ImagesFailed,
			r.PathsFailed,
			r.Duration().Round(time.Second),
		)
	}
}

// --- profiles ---

func runProfiles() {
	profiles, err := firefox.DiscoverProfiles()
	if err != nil {
		fatalf("discovering Firefox profiles: %v", err)
	}
	if len(profiles) == 0 {
		fatalf("%v", firefox.ErrNoProfile)
	}
	for _, p := range profiles {
		suffix := ""
		if p.IsDefault {
			suffix = " [default]"
		}
		fmt.Printf("%s (%s)%s\n", p.Name, p.Path, suffix)
	}
}

