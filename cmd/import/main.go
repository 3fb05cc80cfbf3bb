package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/kelsos/media-import/internal/backup"
	"github.com/kelsos/media-import/internal/config"
	"github.com/kelsos/media-import/internal/history"
	"github.com/kelsos/media-import/internal/logger"
	"github.com/kelsos/media-import/internal/services"
	"github.com/kelsos/media-import/internal/storage"
	"github.com/kelsos/media-import/internal/tui"
	"github.com/kelsos/media-import/internal/utils"
)

type flags struct {
	configPath  string
	dataDir     string
	destDir     string
	batchSize   int
	hashWorkers int
	maxRate     int64
	tui         bool
	watch       bool
	full        bool
}

// loadConfig merges defaults, the config file, the environment and changed flags, in that order
func loadConfig(cmd *cobra.Command, f *flags) (*config.Config, error) {
	cfg := config.NewConfig()
	cfg.LoadFromEnvironment()
	if cmd.Flags().Changed("data-dir") {
		cfg.DataDir = f.dataDir
	}
	cfg.DataDir = utils.ExpandHome(cfg.DataDir)

	configPath, optional := f.configPath, false
	if configPath == "" {
		configPath, optional = cfg.FilePath(), true
	}
	if err := cfg.LoadFile(configPath, optional); err != nil {
		return nil, err
	}
	cfg.LoadFromEnvironment()

	if cmd.Flags().Changed("data-dir") {
		cfg.DataDir = f.dataDir
	}
	if cmd.Flags().Changed("dest") {
		cfg.DestDir = f.destDir
	}
	if cmd.Flags().Changed("batch-size") {
		cfg.BatchSize = f.batchSize
	}
	if cmd.Flags().Changed("hash-workers") {
		cfg.HashWorkers = f.hashWorkers
	}
	if cmd.Flags().Changed("max-rate") {
		cfg.MaxBytesPerSecond = f.maxRate
	}

	cfg.ExpandPaths()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	dataDir, err := storage.GetAppDataDir(cfg.DataDir)
	if err != nil {
		return nil, err
	}
	cfg.DataDir = dataDir
	return cfg, nil
}

// applyLogLevel sets the configured level unless DEBUG forces debug output
func applyLogLevel(cfg *config.Config) {
	if _, debug := os.LookupEnv("DEBUG"); debug {
		return
	}
	if err := logger.SetLevel(cfg.LogLevel); err != nil {
		logger.Warn("Ignoring log level: %v", err)
	}
}

func runImport(ctx context.Context, cfg *config.Config, f *flags, sources []string) error {
	store, err := history.Open(cfg.HistoryPath())
	if err != nil {
		return err
	}
	defer store.Close()

	service := services.NewImportService(cfg, store)
	service.FullScan = f.full

	work := func(ctx context.Context) error {
		var (
			summary services.Summary
			err     error
		)
		if f.watch {
			summary, err = service.Watch(ctx, sources)
		} else {
			summary, err = service.ImportSources(ctx, sources)
		}
		logSummary(summary)
		return err
	}

	if f.tui {
		monitor := tui.NewImportMonitor()
		service.SetMonitor(monitor)
		return monitor.Run(ctx, work)
	}
	return work(ctx)
}

func logSummary(summary services.Summary) {
	logger.Info("Scanned %d sources (%d failed), found %d files, ran %d tasks (%d canceled)",
		summary.Sources, summary.ScanErrors, summary.Files, summary.Tasks, summary.Canceled)
	logger.Info("Imported %d files (%s), skipped %d duplicates, %d failed",
		summary.Stats.Imported, humanize.Bytes(uint64(summary.Stats.BytesImported)),
		summary.Stats.Duplicates, summary.Stats.Failed)
}

func printHistory(ctx context.Context, cfg *config.Config, limit int) error {
	store, err := history.Open(cfg.HistoryPath())
	if err != nil {
		return err
	}
	defer store.Close()

	total, err := store.Count(ctx)
	if err != nil {
		return err
	}
	records, err := store.Recent(ctx, limit)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "IMPORTED\tSIZE\tSOURCE\tDESTINATION")
	for _, rec := range records {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
			humanize.Time(rec.ImportedAt), humanize.Bytes(uint64(rec.Size)),
			filepath.Base(rec.SourcePath), rec.DestPath)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	fmt.Printf("\nShowing %d of %d imported files\n", len(records), total)
	return nil
}

func main() {
	utils.LoadEnvironment()
	logger.Init()

	var f flags

	rootCmd := &cobra.Command{
		Use:   "media-import [sources...]",
		Short: "Import photos and videos from cards and folders",
		Long: `media-import copies new media from one or more source directories into a
dated library, one import task at a time, skipping files it imported before.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, &f)
			if err != nil {
				return err
			}

			if f.tui {
				// The terminal belongs to the monitor
				if err := logger.InitFileOnly(cfg.LogDir()); err != nil {
					logger.Warn("Falling back to console logging: %v", err)
				} else {
					defer func() {
						logger.Close()
						logger.Init()
					}()
				}
			}
			applyLogLevel(cfg)

			sources := args
			if len(sources) == 0 {
				sources = cfg.Sources
			}
			if len(sources) == 0 {
				return fmt.Errorf("no sources given and none configured")
			}
			for i, source := range sources {
				sources[i] = utils.ExpandHome(source)
			}
			if err := cfg.ValidateSources(sources); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if err := runImport(ctx, cfg, &f, sources); err != nil {
				if services.IsTaskQueueError(err) {
					return fmt.Errorf("import aborted by a task queue failure: %w", err)
				}
				if ctx.Err() != nil {
					logger.Warn("Import interrupted")
					return nil
				}
				return err
			}
			return nil
		},
	}

	var limit int
	historyCmd := &cobra.Command{
		Use:   "history",
		Short: "Show recently imported files",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, &f)
			if err != nil {
				return err
			}
			applyLogLevel(cfg)
			return printHistory(cmd.Context(), cfg, limit)
		},
	}
	historyCmd.Flags().IntVarP(&limit, "limit", "n", 20, "Number of records to show")

	var backupDir string
	backupCmd := &cobra.Command{
		Use:   "backup",
		Short: "Create a backup of the import history and state",
		Long:  `Create a zip backup of the data directory: the import history, source watermarks and config file.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, &f)
			if err != nil {
				return err
			}
			applyLogLevel(cfg)
			if backupDir == "" {
				backupDir = cfg.BackupDir
			}
			backupFile, err := backup.CreateBackup(cfg.DataDir, utils.ExpandHome(backupDir))
			if err != nil {
				return fmt.Errorf("failed to create backup: %w", err)
			}
			fmt.Println(backupFile)
			return nil
		},
	}
	backupCmd.Flags().StringVarP(&backupDir, "backup-dir", "", "", "Directory where the backup will be stored (default: ~/backups)")

	rootCmd.PersistentFlags().StringVarP(&f.configPath, "config", "c", "", "Config file (default: <data-dir>/config.toml)")
	rootCmd.PersistentFlags().StringVarP(&f.dataDir, "data-dir", "", "~/.media-import", "Directory holding the import history and state")
	rootCmd.Flags().StringVarP(&f.destDir, "dest", "d", "", "Library directory imports are copied into")
	rootCmd.Flags().IntVarP(&f.batchSize, "batch-size", "b", 50, "Maximum number of files per import task")
	rootCmd.Flags().IntVarP(&f.hashWorkers, "hash-workers", "w", 4, "Number of files hashed in parallel while scanning")
	rootCmd.Flags().Int64VarP(&f.maxRate, "max-rate", "r", 0, "Maximum copy rate in bytes per second (0 = unlimited)")
	rootCmd.Flags().BoolVarP(&f.tui, "tui", "", false, "Show the terminal monitor (logs go to <data-dir>/logs)")
	rootCmd.Flags().BoolVarP(&f.watch, "watch", "", false, "Keep running and import new media as it appears")
	rootCmd.Flags().BoolVarP(&f.full, "full", "", false, "Ignore source watermarks and rescan every file")

	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(backupCmd)

	if err := rootCmd.Execute(); err != nil {
		logger.Fatal("Failed to execute command: %v", err)
	}
}
