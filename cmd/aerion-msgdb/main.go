// Command aerion-msgdb runs the message-metadata daemon: the folder
// registry, the per-folder summary databases, and the periodic purge
// scheduler, all against a single profile directory.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/hkdb/aerion/internal/config"
	"github.com/hkdb/aerion/internal/dbservice"
	"github.com/hkdb/aerion/internal/logging"
	"github.com/hkdb/aerion/internal/msgdb"
	"github.com/hkdb/aerion/internal/registry"
	"github.com/hkdb/aerion/internal/retention"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var (
	cfgFile  string
	newsMode bool
	cfg      *config.Config
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "aerion-msgdb",
	Short: "Message summary database, folder registry and live-view daemon",
	Long: `aerion-msgdb owns the message-metadata subsystem for a single mail
profile: the per-folder summary databases, the folder-tree registry, and
the background purge scheduler that enforces retention and offline
policy.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "help" || cmd.Name() == "version" {
			return nil
		}
		var err error
		cfg, err = config.Load(cfgFile)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		return nil
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		if newsMode {
			return runNewsMode()
		}
		return cmd.Help()
	},
}

// runNewsMode corresponds to the historical -news flag, which opened the
// mail client's main window. Windowing is out of scope here, so this
// brings up the same collaborators a window would need — the DB service
// and the folder registry, against the profile directory — and exits.
func runNewsMode() error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	log := logging.WithComponent("news")

	regPath := filepath.Join(cfg.Profile.Dir, registry.DefaultFileName)
	reg, err := registry.Open(regPath)
	if err != nil {
		return fmt.Errorf("open folder registry: %w", err)
	}
	defer reg.Close()

	roots, _, err := reg.LoadFolders()
	if err != nil {
		return fmt.Errorf("load folder tree: %w", err)
	}
	log.Info().Int("accounts", len(roots)).Str("profile", cfg.Profile.Dir).Msg("folder tree loaded")

	dbs := dbservice.New(filepath.Join(cfg.Profile.Dir, "Mail"))
	defer func() {
		for _, root := range roots {
			walkFolders(root, func(f *registry.Folder) {
				_ = dbs.ForceClose(f.ID)
			})
		}
	}()

	for _, root := range roots {
		walkFolders(root, func(f *registry.Folder) {
			if f.IsRoot() {
				return
			}
			if _, err := dbs.Open(f.ID, f.Name, true); err != nil {
				log.Warn().Err(err).Int64("folderId", f.ID).Str("folder", f.Name).Msg("failed to open folder summary")
			}
		})
	}

	log.Info().Int("openSummaries", dbs.OpenCount()).Msg("profile initialized")
	return nil
}

func walkFolders(f *registry.Folder, visit func(*registry.Folder)) {
	visit(f)
	for _, child := range f.Children {
		walkFolders(child, visit)
	}
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the daemon: registry, summary databases and purge scheduler",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe()
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Println("aerion-msgdb (development build)")
		return nil
	},
}

// resourceTracker collects every collaborator runServe brings up so
// cleanup can tear them down in reverse order of initialization,
// regardless of which step failed.
type resourceTracker struct {
	log       zerolog.Logger
	registry  *registry.DB
	dbs       *dbservice.Service
	scheduler *retention.Scheduler
	coord     *retention.Coordinator
	metrics   *http.Server
	cancel    context.CancelFunc
}

func runServe() error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	level, err := zerolog.ParseLevel(cfg.Logging.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	logging.Configure(level, nil)
	log := logging.WithComponent("daemon")

	res := &resourceTracker{log: log, coord: retention.NewCoordinator()}

	cleanup := func() {
		log.Info().Msg("shutdown starting")

		if res.metrics != nil {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := res.metrics.Shutdown(shutdownCtx); err != nil {
				log.Error().Err(err).Msg("metrics server shutdown error")
			}
			shutdownCancel()
		}
		if res.scheduler != nil {
			res.scheduler.Stop()
		}
		if res.cancel != nil {
			res.cancel()
		}
		res.coord.Run(func(p retention.ShutdownProgress) {
			log.Info().Int("completed", p.Completed).Int("total", p.Total).Str("task", p.Task).Msg("shutdown task finished")
		})
		if res.registry != nil {
			if err := res.registry.Close(); err != nil {
				log.Error().Err(err).Msg("registry close error")
			}
		}
		log.Info().Msg("shutdown complete")
	}

	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("panic during daemon operation")
			cleanup()
			panic(r)
		}
	}()

	regPath := filepath.Join(cfg.Profile.Dir, registry.DefaultFileName)
	reg, err := registry.Open(regPath)
	if err != nil {
		cleanup()
		return fmt.Errorf("open folder registry: %w", err)
	}
	res.registry = reg
	log.Info().Str("path", regPath).Msg("folder registry opened")

	ctx, cancel := context.WithCancel(context.Background())
	res.cancel = cancel
	go reg.StartCheckpointRoutine(ctx)

	dbs := dbservice.New(filepath.Join(cfg.Profile.Dir, "Mail"))
	res.dbs = dbs

	roots, byID, err := reg.LoadFolders()
	if err != nil {
		cleanup()
		return fmt.Errorf("load folder tree: %w", err)
	}
	log.Info().Int("folders", len(byID)).Msg("folder tree loaded")

	res.coord.Register(retention.ShutdownTask{
		Name: "close folder summaries",
		Run: func() error {
			for id := range byID {
				if err := dbs.ForceClose(id); err != nil {
					return err
				}
			}
			return nil
		},
	})

	minDelay, _ := time.ParseDuration(cfg.Purge.MinFolderDelay)
	if minDelay <= 0 {
		minDelay = retention.DefaultMinFolderDelay
	}
	wallBudget, _ := time.ParseDuration(cfg.Purge.WallClockBudget)
	if wallBudget <= 0 {
		wallBudget = retention.DefaultWallBudget
	}
	tickInterval, _ := time.ParseDuration(cfg.Purge.Interval)
	if tickInterval <= 0 {
		tickInterval = retention.DefaultTickInterval
	}

	defaultRetention := retentionDefaults(cfg.Retention)
	scheduler := retention.NewScheduler(
		func() []retention.FolderScope { return folderScopes(byID, dbs, defaultRetention) },
		func() []retention.JunkScope { return nil },
	)
	scheduler.TickInterval = tickInterval
	scheduler.MinFolderDelay = minDelay
	scheduler.WallBudget = wallBudget
	res.scheduler = scheduler
	scheduler.Start(ctx)
	log.Info().Dur("tickInterval", tickInterval).Dur("minFolderDelay", minDelay).Msg("purge scheduler started")

	if cfg.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		srv := &http.Server{Addr: cfg.Metrics.Listen, Handler: mux}
		res.metrics = srv
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Error().Err(err).Msg("metrics server error")
			}
		}()
		log.Info().Str("listen", cfg.Metrics.Listen).Msg("metrics server started")
	}

	log.Info().Msg("daemon ready")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	sig := <-sigCh
	log.Info().Str("signal", sig.String()).Msg("received shutdown signal")

	cleanup()
	return nil
}

// folderScopes builds the purge scheduler's folder list from the
// currently-open summary databases; folders that have never been opened
// this run are skipped rather than opened just to be swept. Every folder
// inherits the profile's default retention policy until a folder-level
// override exists.
func folderScopes(byID map[int64]*registry.Folder, dbs *dbservice.Service, defaults msgdb.RetentionSettings) []retention.FolderScope {
	var scopes []retention.FolderScope
	for id, f := range byID {
		db, ok := dbs.Lookup(id)
		if !ok {
			continue
		}
		scopes = append(scopes, retention.FolderScope{
			FolderID:        id,
			Flags:           f.Flags,
			DB:              db,
			Settings:        defaults,
			DeleteViaFolder: false,
			Deleter:         nil,
		})
	}
	return scopes
}

func retentionDefaults(c config.RetentionConfig) msgdb.RetentionSettings {
	mode := msgdb.RetentionAll
	switch c.Mode {
	case "by_age":
		mode = msgdb.RetentionByAge
	case "by_count":
		mode = msgdb.RetentionByCount
	}
	return msgdb.RetentionSettings{
		Mode:              mode,
		DaysToKeepBodies:  c.DaysToKeepBodies,
		UseServerDefaults: c.UseServerDefaults,
		ApplyToFlagged:    c.ApplyToFlagged,
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "config.yaml", "config file path")
	rootCmd.PersistentFlags().BoolVar(&newsMode, "news", false, "initialize the profile's folder registry and summary databases, then exit")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)
}
