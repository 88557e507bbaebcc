package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/dukerupert/photobackup/internal/backup"
	"github.com/dukerupert/photobackup/internal/config"
	"github.com/dukerupert/photobackup/internal/database"
	"github.com/dukerupert/photobackup/internal/logging"
	"github.com/dukerupert/photobackup/internal/model"
	"github.com/dukerupert/photobackup/internal/scan"
	"github.com/dukerupert/photobackup/internal/server"
	"github.com/dukerupert/photobackup/internal/store"
)

const shutdownTimeout = 30 * time.Second

func main() {
	cfg := config.Load()
	var logger *slog.Logger

	rootCmd := &cobra.Command{
		Use:           "photobackup",
		Short:         "index a photo directory and back it up to local disk or S3",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			logger = logging.Setup(cfg.LogLevel, cfg.LogFormat)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context(), cfg, logger)
		},
	}
	rootCmd.PersistentFlags().StringVar(&cfg.DBPath, "db", cfg.DBPath, "sqlite database path")
	rootCmd.PersistentFlags().StringVar(&cfg.PhotosDir, "photos-dir", cfg.PhotosDir, "photo source directory")
	rootCmd.PersistentFlags().StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "debug, info, warn or error")
	rootCmd.PersistentFlags().StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, "text or json")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context(), cfg, logger)
		},
	}
	serveCmd.Flags().StringVar(&cfg.Port, "port", cfg.Port, "HTTP listen port")
	rootCmd.AddCommand(serveCmd)

	scanCmd := &cobra.Command{
		Use:   "scan [dir]",
		Short: "rebuild the photo index",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := cfg.PhotosDir
			if len(args) == 1 {
				dir = args[0]
			}
			return runScan(cmd.Context(), cfg, dir, logger)
		},
	}
	rootCmd.AddCommand(scanCmd)

	var destination, destPath string
	backupCmd := &cobra.Command{
		Use:   "backup",
		Short: "back up the photo directory in the foreground, Ctrl-C stops it",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBackup(cmd.Context(), cfg, model.Destination(destination), destPath, logger)
		},
	}
	backupCmd.Flags().StringVar(&destination, "destination", string(model.DestinationLocal), "local or s3")
	backupCmd.Flags().StringVar(&destPath, "path", "", "local directory or S3 key prefix")
	rootCmd.AddCommand(backupCmd)

	var limit int
	historyCmd := &cobra.Command{
		Use:   "history",
		Short: "list recent backup sessions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return printHistory(cmd.Context(), cfg, limit)
		},
	}
	historyCmd.Flags().IntVar(&limit, "limit", store.DefaultHistoryLimit, "number of sessions")
	rootCmd.AddCommand(historyCmd)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		stop()
		os.Exit(1)
	}
}

func openDB(cfg *config.Config) (*sql.DB, error) {
	db, err := database.Open(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	return db, nil
}

func serve(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	db, err := openDB(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	open, err := backup.NewOpener(ctx, cfg.Backup)
	if err != nil {
		return err
	}

	srv := server.New(db, cfg, open, logger)
	if err := srv.Pipeline().Recover(ctx); err != nil {
		return fmt.Errorf("recover backup sessions: %w", err)
	}

	cleanupCtx, cancelCleanup := context.WithCancel(context.Background())
	defer cancelCleanup()
	go srv.RateLimiter().Run(cleanupCtx, 5*time.Minute)

	// No write timeout: scans answer when they finish and /ws is long-lived.
	httpServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		logger.Info("photobackup listening", "addr", httpServer.Addr, "photos", cfg.PhotosDir)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown", "error", err)
	}
	if err := srv.Pipeline().Shutdown(shutdownCtx); err != nil {
		logger.Error("backup shutdown", "error", err)
	}
	return nil
}

func runScan(ctx context.Context, cfg *config.Config, dir string, logger *slog.Logger) error {
	db, err := openDB(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	scanner := scan.NewScanner(store.NewPhotoStore(db), func(p model.ScanProgress) {
		if p.CurrentDirectory != "" {
			logger.Debug("scanning", "dir", p.CurrentDirectory, "done", p.ScannedDirectories, "total", p.TotalDirectories)
		}
	}, logger.With("component", "scan"))

	stats, err := scanner.Scan(ctx, dir)
	if err != nil {
		return err
	}
	fmt.Printf("indexed %d photos in %d directories\n", stats.TotalPhotos, stats.TotalDirectories)
	return nil
}

func runBackup(ctx context.Context, cfg *config.Config, dest model.Destination, destPath string, logger *slog.Logger) error {
	db, err := openDB(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	open, err := backup.NewOpener(ctx, cfg.Backup)
	if err != nil {
		return err
	}

	pipeline := backup.NewPipeline(store.NewBackupStore(db), open, func(s backup.Status) {
		if s.CurrentFile != "" {
			logger.Debug("backing up", "file", s.CurrentFile, "completed", s.CompletedFiles, "failed", s.FailedFiles, "total", s.TotalFiles)
		}
	}, logger.With("component", "backup"))
	if err := pipeline.Recover(ctx); err != nil {
		return err
	}

	status, err := pipeline.Start(ctx, cfg.PhotosDir, dest, destPath)
	if err != nil {
		return err
	}

	done := make(chan struct{})
	go func() {
		pipeline.Wait(context.Background()) //nolint:errcheck
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		logger.Info("stopping backup after the current file")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := pipeline.Shutdown(shutdownCtx); err != nil {
			return err
		}
	}

	session, err := pipeline.SessionDetails(context.Background(), status.SessionID)
	if err != nil {
		return err
	}
	if session == nil {
		return fmt.Errorf("backup session %d not found", status.SessionID)
	}
	fmt.Printf("session %d %s: %d completed, %d failed, %d total\n",
		session.ID, session.Status, session.CompletedFiles, session.FailedFiles, session.TotalFiles)
	return nil
}

func printHistory(ctx context.Context, cfg *config.Config, limit int) error {
	db, err := openDB(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	sessions, err := store.NewBackupStore(db).ListSessions(ctx, limit)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTARTED\tSTATUS\tDESTINATION\tCOMPLETED\tFAILED\tTOTAL")
	for _, s := range sessions {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%d\t%d\t%d\n",
			s.ID, s.StartTime.Local().Format(time.DateTime), s.Status, s.Destination,
			s.CompletedFiles, s.FailedFiles, s.TotalFiles)
	}
	return tw.Flush()
}
