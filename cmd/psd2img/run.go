package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/alnah/go-psd2img"
	"github.com/alnah/go-psd2img/internal/config"
	"github.com/alnah/go-psd2img/internal/fileutil"
	"github.com/alnah/go-psd2img/internal/logging"
	"github.com/alnah/go-psd2img/internal/manifest"
	"github.com/alnah/go-psd2img/internal/notify"
	"github.com/alnah/go-psd2img/internal/store"
	"github.com/alnah/go-psd2img/internal/yamlutil"
)

// shutdownTimeout bounds the progress server shutdown.
const shutdownTimeout = 5 * time.Second

// runMain parses args, runs the export and returns the process exit code.
func runMain(args []string, env *Environment) int {
	flags, positional, err := parseFlags(args)
	if err != nil {
		fmt.Fprintln(env.Stderr, err)
		printUsage(env.Stderr)
		return ExitUsage
	}
	if flags.common.help {
		printUsage(env.Stdout)
		return ExitSuccess
	}
	if flags.common.version {
		fmt.Fprintf(env.Stdout, "psd2img %s\n", Version)
		return ExitSuccess
	}

	ctx, stop := notifyContext(context.Background())
	defer stop()

	if err := runExport(ctx, positional, flags, env); err != nil {
		fmt.Fprintf(env.Stderr, "error: %v\n", err)
		return exitCodeFor(err)
	}
	return ExitSuccess
}

// runExport exports one document.
func runExport(ctx context.Context, positional []string, flags *cliFlags, env *Environment) error {
	warnUnknownEnvVars(env.Stderr)
	cfg, err := resolveConfig(flags)
	if err != nil {
		return err
	}
	env.Config = cfg

	if flags.common.printConfig {
		return printConfig(env, cfg)
	}

	docPath, err := documentArg(positional)
	if err != nil {
		return err
	}

	initLogging(cfg, flags.common, env)
	log := logging.New("cli")

	st, err := store.Open(cfg.Store.Path)
	if err != nil {
		return fmt.Errorf("opening catalog: %w", err)
	}
	defer func() {
		if cerr := st.Close(); cerr != nil {
			log.Warn("closing catalog", slog.Any("error", cerr))
		}
	}()

	sinks := notify.Multi{notify.NewLog(logging.New("events"))}
	if cfg.Notify.Listen != "" {
		hub, shutdown, err := serveProgress(cfg.Notify.Listen, log)
		if err != nil {
			return err
		}
		defer shutdown()
		sinks = append(sinks, hub)
	}

	proc := psd2img.NewProcessor(
		psd2img.WithOpener(manifest.Opener{}),
		psd2img.WithCatalog(st),
		psd2img.WithNotifier(sinks),
		psd2img.WithLogger(logging.New("processor")),
		psd2img.WithSettings(settingsFrom(cfg)),
	)

	project := &psd2img.Project{
		ID:         projectID(flags.processing.project, docPath),
		Name:       documentName(docPath),
		SourcePath: docPath,
		OutputDir:  cfg.Output.Dir,
		Scales:     cfg.Processing.Scales,
		Mode:       psd2img.Mode(cfg.Processing.Mode),
		Cores:      cfg.Processing.Cores,
	}

	// A signal cancels every registered run and waits for it to unwind.
	reg := psd2img.NewRegistry()
	stopRuns := context.AfterFunc(ctx, reg.StopAll)
	defer stopRuns()

	start := env.Now()
	sum, err := reg.Process(ctx, proc, project)
	if sum != nil && !flags.common.quiet {
		printSummary(env, project, sum, env.Now().Sub(start))
	}
	return err
}

// documentArg returns the single positional argument.
func documentArg(positional []string) (string, error) {
	switch len(positional) {
	case 0:
		return "", ErrNoDocument
	case 1:
		return positional[0], nil
	default:
		return "", fmt.Errorf("%w: expected one document, got %d arguments", errUsage, len(positional))
	}
}

// resolveConfig layers env vars and flags over the config file and
// validates the result.
func resolveConfig(flags *cliFlags) (*config.Config, error) {
	envCfg := loadEnvConfig()
	cfg, err := loadConfig(flags.common.config, envCfg)
	if err != nil {
		return nil, err
	}
	applyEnvConfig(envCfg, cfg)
	mergeFlags(flags, cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// printConfig writes cfg as YAML.
func printConfig(env *Environment, cfg *config.Config) error {
	data, err := yamlutil.Marshal(cfg)
	if err != nil {
		return err
	}
	_, err = env.Stdout.Write(data)
	return err
}

// loadConfig loads the file named by the flag, then PSD2IMG_CONFIG, or
// returns the defaults when neither is set.
func loadConfig(flagPath string, env *envConfig) (*config.Config, error) {
	path := flagPath
	if path == "" {
		path = env.ConfigPath
	}
	if path == "" {
		return config.DefaultConfig(), nil
	}
	cfg, err := config.LoadConfig(path)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return cfg, nil
}

// mergeFlags merges CLI flags into config. CLI values override config values.
func mergeFlags(flags *cliFlags, cfg *config.Config) {
	p := flags.processing
	if p.output != "" {
		cfg.Output.Dir = p.output
	}
	if len(p.scales) > 0 {
		cfg.Processing.Scales = p.scales
	}
	if p.mode != "" {
		cfg.Processing.Mode = p.mode
	}
	if flags.set["cores"] {
		cfg.Processing.Cores = p.cores
	}

	s := flags.service
	if s.db != "" {
		cfg.Store.Path = s.db
	}
	if s.listen != "" {
		cfg.Notify.Listen = s.listen
	}
	if s.logLevel != "" {
		cfg.Log.Level = s.logLevel
	}
	if s.logFormat != "" {
		cfg.Log.Format = s.logFormat
	}
}

// initLogging installs the default logger. --verbose and --quiet take
// precedence over the configured level.
func initLogging(cfg *config.Config, common commonFlags, env *Environment) {
	// Level already checked by cfg.Validate.
	level, _ := logging.ParseLevel(cfg.Log.Level)
	switch {
	case common.verbose:
		level = slog.LevelDebug
	case common.quiet:
		level = slog.LevelError
	}
	logging.Init(level, cfg.Log.Format, env.Stderr)
}

// settingsFrom maps the config file sections onto pipeline settings.
func settingsFrom(cfg *config.Config) psd2img.Settings {
	s := psd2img.DefaultSettings()
	s.QueueCapacity = cfg.Queue.Capacity
	s.FullWait = cfg.Queue.FullWait.Std()
	s.TaskTimeout = cfg.Queue.TaskTimeout.Std()
	s.ZombieInterval = cfg.Queue.ZombieInterval.Std()
	s.CheckInterval = cfg.Memory.CheckInterval.Std()
	s.RecoveryTimeout = cfg.Memory.RecoveryTimeout.Std()
	s.Thresholds = psd2img.Thresholds{
		Medium:   cfg.Memory.Medium,
		High:     cfg.Memory.High,
		Critical: cfg.Memory.Critical,
	}
	s.SequentialLanes = !cfg.Processing.LanesEnabled()
	s.KeepBaseInMemory = !cfg.Processing.ReloadEnabled()
	return s
}

// serveProgress starts the WebSocket hub at addr/ws. The returned func
// closes the hub and shuts the server down.
func serveProgress(addr string, log *slog.Logger) (*notify.Hub, func(), error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, nil, fmt.Errorf("listening on %s: %w", addr, err)
	}

	hub := notify.NewHub(notify.WithHubLogger(logging.New("hub")))
	mux := http.NewServeMux()
	mux.Handle("/ws", hub)
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("progress server", slog.Any("error", err))
		}
	}()
	log.Info("serving progress events", slog.String("addr", "ws://"+ln.Addr().String()+"/ws"))

	shutdown := func() {
		_ = hub.Close()
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			log.Warn("progress server shutdown", slog.Any("error", err))
		}
	}
	return hub, shutdown, nil
}

// projectID returns the explicit id, or one derived from the document name.
func projectID(explicit, docPath string) string {
	if explicit != "" {
		return explicit
	}
	return fileutil.SanitizeName(documentName(docPath))
}

// documentName returns the file name of docPath without its extension.
func documentName(docPath string) string {
	base := filepath.Base(docPath)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// printSummary prints the one-line run summary, then one line per recent
// failed task.
func printSummary(env *Environment, project *psd2img.Project, sum *psd2img.Summary, elapsed time.Duration) {
	fmt.Fprintf(env.Stdout, "%s: %s, %d assets, %d failed, %d rejected, %d timed out in %s -> %s\n",
		project.ID, project.Status, len(sum.Records), sum.Failed, sum.Rejected, sum.TimedOut,
		elapsed.Round(time.Millisecond), project.AssetDir())
	for _, r := range sum.TaskResults {
		if r.Error != "" {
			fmt.Fprintf(env.Stdout, "  %s %q: %s\n", r.Kind, r.Name, r.Error)
		}
	}
}
