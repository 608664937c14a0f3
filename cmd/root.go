package cmd

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/ftahirops/xconn/config"
	"github.com/ftahirops/xconn/engine"
	"github.com/ftahirops/xconn/model"
	"github.com/ftahirops/xconn/source"
	"github.com/ftahirops/xconn/ui"
	"github.com/mattn/go-isatty"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
	"golang.org/x/text/language"
)

// Version is set at build time via ldflags.
var Version = "0.3.0"

// envPrefix namespaces environment overrides: -controller => XCONN_CONTROLLER.
const envPrefix = "XCONN_"

// Config holds CLI configuration.
type Config struct {
	ConfigPath    string
	ControllerURL string
	Secret        string
	KeepClosed    bool
	SortColumn    string
	SortDir       string
	Locale        string
	MetricsAddr   string
	LogFile       string

	JSONMode       bool
	WatchMode      bool
	WatchCount     int
	RecordPath     string
	ReplayPath     string
	ReplayInterval time.Duration
	ReplayLoop     bool
	ShowVersion    bool
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `xconn v%s - live connection table for a rule-based proxy controller

Usage:
  xconn [OPTIONS]

Modes:
  (default)         Interactive TUI (bubbletea, fullscreen)
  -watch            Print the table after every batch
  -json             Print one snapshot as JSON rows, then exit
  -record FILE      Run the TUI while recording batches to FILE
  -replay FILE      Replay a recording instead of connecting
  -version          Print version and exit

Options:
  -controller URL   Controller base URL (default: http://127.0.0.1:9090)
  -secret TOKEN     Controller secret
  -keep-closed      Keep closed connections in the table
  -sort COLUMN      Initial sort column (host, type, chains, rule, time,
                    upload, download, source, destination)
  -order DIR        Initial sort direction: asc or desc (default: asc)
  -locale TAG       Collation locale for text columns (default: en)
  -metrics-addr A   Serve Prometheus metrics on A (e.g. 127.0.0.1:9188)
  -log FILE         Log file (TUI mode discards logs when unset)
  -count N          Batches to print in -watch mode (0 = infinite)
  -interval D       Replay interval (default: 1s)
  -loop             Restart the replay when it ends
  -config FILE      Config file (default: %s)

Every option can also be set with XCONN_<NAME>, e.g. XCONN_SECRET.

Examples:
  xconn -controller http://127.0.0.1:9090 -secret s3cret
  xconn -watch -count 5 -sort upload -order desc
  xconn -json | jq '.rows[].host'
  xconn -record /tmp/conns.jsonl
  xconn -replay /tmp/conns.jsonl -interval 500ms -loop
`, Version, config.Path())
}

// newFlagSet binds flags to cfg with defaults from def.
func newFlagSet(cfg *Config, def config.Config) *flag.FlagSet {
	fs := flag.NewFlagSet("xconn", flag.ContinueOnError)
	fs.StringVar(&cfg.ConfigPath, "config", config.Path(), "Config file")
	fs.StringVar(&cfg.ControllerURL, "controller", def.Controller.URL, "Controller base URL")
	fs.StringVar(&cfg.Secret, "secret", def.Controller.Secret, "Controller secret")
	fs.BoolVar(&cfg.KeepClosed, "keep-closed", def.KeepClosed, "Keep closed connections")
	fs.StringVar(&cfg.SortColumn, "sort", def.Sort.Column, "Initial sort column")
	fs.StringVar(&cfg.SortDir, "order", def.Sort.Direction, "Initial sort direction (asc, desc)")
	fs.StringVar(&cfg.Locale, "locale", def.Locale, "Collation locale")
	fs.StringVar(&cfg.MetricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address")
	fs.StringVar(&cfg.LogFile, "log", def.LogFile, "Log file")
	fs.BoolVar(&cfg.JSONMode, "json", false, "Print one snapshot as JSON and exit")
	fs.BoolVar(&cfg.WatchMode, "watch", false, "Print the table after every batch")
	fs.IntVar(&cfg.WatchCount, "count", 0, "Batches to print in -watch mode (0=infinite)")
	fs.StringVar(&cfg.RecordPath, "record", "", "Record batches to file")
	fs.StringVar(&cfg.ReplayPath, "replay", "", "Replay batches from a recorded file")
	fs.DurationVar(&cfg.ReplayInterval, "interval", time.Second, "Replay interval")
	fs.BoolVar(&cfg.ReplayLoop, "loop", false, "Loop the replay")
	fs.BoolVar(&cfg.ShowVersion, "version", false, "Print version and exit")
	return fs
}

// loadFlagsFromEnv applies XCONN_<FLAG> variables over parsed flags.
func loadFlagsFromEnv(fs *flag.FlagSet, lookup func(string) (string, bool)) error {
	replacer := strings.NewReplacer(".", "_", "-", "_")
	var errs []error
	fs.VisitAll(func(f *flag.Flag) {
		name := envPrefix + strings.ToUpper(replacer.Replace(f.Name))
		if value, ok := lookup(name); ok {
			if err := fs.Set(f.Name, value); err != nil {
				errs = append(errs, fmt.Errorf("%s=%q: %w", name, value, err))
			}
		}
	})
	return errors.Join(errs...)
}

// parseConfig resolves settings: config file < flags < environment.
// Settings the user did not set on the command line or in the environment
// come from the config file named by -config.
func parseConfig(args []string, lookup func(string) (string, bool)) (Config, error) {
	var cfg Config
	fs := newFlagSet(&cfg, config.Default())
	fs.Usage = printUsage
	if err := fs.Parse(args); err != nil {
		return cfg, err
	}
	if err := loadFlagsFromEnv(fs, lookup); err != nil {
		return cfg, err
	}

	set := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { set[f.Name] = true })

	file, err := config.LoadFile(cfg.ConfigPath)
	if err != nil && !os.IsNotExist(err) {
		log.Printf("xconn: warning: config: %v", err)
	}
	if !set["controller"] {
		cfg.ControllerURL = file.Controller.URL
	}
	if !set["secret"] {
		cfg.Secret = file.Controller.Secret
	}
	if !set["keep-closed"] {
		cfg.KeepClosed = file.KeepClosed
	}
	if !set["sort"] {
		cfg.SortColumn = file.Sort.Column
	}
	if !set["order"] {
		cfg.SortDir = file.Sort.Direction
	}
	if !set["locale"] {
		cfg.Locale = file.Locale
	}
	if !set["metrics-addr"] && file.Prometheus.Enabled {
		cfg.MetricsAddr = file.Prometheus.Addr
	}
	if !set["log"] {
		cfg.LogFile = file.LogFile
	}

	if cfg.WatchCount < 0 {
		return cfg, fmt.Errorf("-count must be >= 0")
	}
	if cfg.ReplayPath != "" && cfg.RecordPath != "" {
		return cfg, fmt.Errorf("-record and -replay are mutually exclusive")
	}
	if _, err := sortState(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// sortState converts the configured column and direction.
func sortState(cfg Config) (engine.SortState, error) {
	if cfg.SortColumn == "" {
		return engine.SortState{}, nil
	}
	col, ok := engine.ParseColumn(cfg.SortColumn)
	if !ok || !col.Sortable() {
		return engine.SortState{}, fmt.Errorf("unknown or unsortable column %q", cfg.SortColumn)
	}
	dir := engine.ParseDirection(cfg.SortDir)
	if dir == engine.SortNone {
		dir = engine.SortAsc
	}
	return engine.SortState{Column: col, Dir: dir}, nil
}

// localeTag parses the configured locale, falling back to LANG and then English.
func localeTag(locale string) language.Tag {
	if locale == "" {
		locale = os.Getenv("LANG")
		if i := strings.IndexAny(locale, ".@"); i >= 0 {
			locale = locale[:i]
		}
		locale = strings.ReplaceAll(locale, "_", "-")
	}
	if locale == "" || locale == "C" || locale == "POSIX" {
		return language.English
	}
	tag, err := language.Parse(locale)
	if err != nil {
		log.Printf("xconn: warning: locale %q: %v, using en", locale, err)
		return language.English
	}
	return tag
}

// Run parses flags and starts the application.
func Run() error {
	cfg, err := parseConfig(os.Args[1:], os.LookupEnv)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil
		}
		return err
	}

	if cfg.ShowVersion {
		fmt.Printf("xconn v%s\n", Version)
		return nil
	}

	// the TUI needs a terminal; fall back to the plain table otherwise
	tui := !cfg.JSONMode && !cfg.WatchMode
	if tui && !isatty.IsTerminal(os.Stdout.Fd()) && !isatty.IsCygwinTerminal(os.Stdout.Fd()) {
		log.Printf("xconn: stdout is not a terminal, using -watch")
		cfg.WatchMode, tui = true, false
	}

	closeLog, err := setupLogging(cfg.LogFile, tui)
	if err != nil {
		return err
	}
	defer closeLog()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return run(ctx, cfg, tui, os.Stdout)
}

// setupLogging sends logs to file, or discards them in TUI mode so the
// alt-screen is not corrupted.
func setupLogging(path string, tui bool) (func(), error) {
	if path == "" {
		if tui {
			log.SetOutput(io.Discard)
		}
		return func() {}, nil
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return nil, fmt.Errorf("cannot open log file: %w", err)
	}
	log.SetOutput(f)
	return func() { f.Close() }, nil
}

func newEngine(cfg Config) *engine.Engine {
	st, _ := sortState(cfg)
	return engine.NewEngine(engine.Options{
		RetainClosed: cfg.KeepClosed,
		Sort:         st,
		Locale:       localeTag(cfg.Locale),
	})
}

// sourceFactory picks the replay file or the live controller stream.
func sourceFactory(cfg Config, onState source.StateFunc) source.Factory {
	if cfg.ReplayPath != "" {
		return source.ReplayFactory(cfg.ReplayPath, cfg.ReplayInterval, cfg.ReplayLoop, onState)
	}
	return source.WebSocketFactory(source.WebSocketOptions{
		URL:     cfg.ControllerURL,
		Secret:  cfg.Secret,
		OnState: onState,
	})
}

// run wires the engine, source, metrics server and config watcher, then
// runs the selected front end until it exits or ctx is done.
func run(ctx context.Context, cfg Config, tui bool, out io.Writer) error {
	eng := newEngine(cfg)
	var feeder engine.Feeder = eng
	if cfg.RecordPath != "" {
		f, err := os.Create(cfg.RecordPath)
		if err != nil {
			return fmt.Errorf("cannot create record file: %w", err)
		}
		defer f.Close()
		feeder = engine.NewRecorder(eng, f)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	if cfg.MetricsAddr != "" {
		serveMetrics(gctx, g, eng, cfg.MetricsAddr)
	}

	switch {
	case tui:
		runTUI(gctx, cancel, g, cfg, feeder)
	default:
		configs := make(chan config.Config, 1)
		watchConfig(gctx, g, cfg.ConfigPath, func(c config.Config) {
			select {
			case configs <- c:
			case <-gctx.Done():
			}
		})
		if cfg.JSONMode && cfg.ReplayPath == "" {
			g.Go(func() error {
				defer cancel()
				c, err := source.NewController(cfg.ControllerURL, cfg.Secret)
				if err != nil {
					return err
				}
				return runJSONOnce(gctx, feeder, c, out)
			})
			break
		}
		g.Go(func() error {
			defer cancel()
			factory := sourceFactory(cfg, func(s source.State, err error) {
				if err != nil {
					log.Printf("xconn: stream %s: %v", s, err)
				}
			})
			src, err := factory(gctx)
			if err != nil {
				return fmt.Errorf("cannot open stream: %w", err)
			}
			defer closeSource(cancel, src)
			if cfg.JSONMode {
				return runJSON(gctx, feeder, src, out)
			}
			return runWatch(gctx, feeder, src, configs, out, watchOptions{
				Count: cfg.WatchCount,
				Clear: isTerminal(out),
			})
		})
	}
	return g.Wait()
}

// closeSource stops delivery before closing so a handler blocked on a
// canceled context can return and Close does not wait on it forever.
func closeSource(cancel context.CancelFunc, src source.Source) {
	cancel()
	if err := src.Close(); err != nil {
		log.Printf("xconn: closing stream: %v", err)
	}
}

func runTUI(ctx context.Context, cancel context.CancelFunc, g *errgroup.Group, cfg Config, feeder engine.Feeder) {
	var term ui.Terminator
	if cfg.ReplayPath == "" {
		c, err := source.NewController(cfg.ControllerURL, cfg.Secret)
		if err != nil {
			log.Printf("xconn: controller: %v", err)
		} else {
			term = c
		}
	}
	p := tea.NewProgram(ui.NewModel(feeder, term), tea.WithAltScreen(), tea.WithContext(ctx))

	if c, ok := term.(*source.Controller); ok {
		g.Go(func() error {
			vctx, vcancel := context.WithTimeout(ctx, 5*time.Second)
			defer vcancel()
			v, err := c.Version(vctx)
			if err != nil {
				log.Printf("xconn: controller version: %v", err)
				return nil
			}
			p.Send(ui.ControllerMsg(v))
			return nil
		})
	}

	g.Go(func() error {
		defer cancel()
		_, err := p.Run()
		if errors.Is(err, tea.ErrProgramKilled) {
			return nil
		}
		return err
	})

	g.Go(func() error {
		factory := sourceFactory(cfg, func(s source.State, err error) {
			p.Send(ui.StreamStateMsg{State: s, Err: err})
		})
		src, err := factory(ctx)
		if err != nil {
			log.Printf("xconn: cannot open stream: %v", err)
			p.Send(ui.StreamStateMsg{State: source.StateClosed, Err: err})
			<-ctx.Done()
			return nil
		}
		unsubscribe := src.Subscribe(func(batch []model.Snapshot) {
			p.Send(ui.BatchMsg(batch))
		})
		<-ctx.Done()
		unsubscribe()
		closeSource(cancel, src)
		return nil
	})

	watchConfig(ctx, g, cfg.ConfigPath, func(c config.Config) {
		p.Send(ui.ConfigMsg(c))
	})
}

// watchConfig reloads the config file on change. A missing file is not watched.
func watchConfig(ctx context.Context, g *errgroup.Group, path string, fn func(config.Config)) {
	if path == "" {
		return
	}
	if _, err := os.Stat(path); err != nil {
		return
	}
	g.Go(func() error {
		if err := config.Watch(ctx, path, fn); err != nil {
			log.Printf("xconn: %v", err)
		}
		return nil
	})
}

func serveMetrics(ctx context.Context, g *errgroup.Group, eng *engine.Engine, addr string) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(engine.NewCollector(eng, "xconn"))
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	g.Go(func() error {
		log.Printf("xconn: serving metrics on %s", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("metrics server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && isatty.IsTerminal(f.Fd())
}
