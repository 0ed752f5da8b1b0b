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

	"github.com/spf13/cobra"

	"github.com/fieldvault/fieldsync/internal/config"
	"github.com/fieldvault/fieldsync/internal/crypto"
	"github.com/fieldvault/fieldsync/internal/db"
	"github.com/fieldvault/fieldsync/internal/logging"
	"github.com/fieldvault/fieldsync/internal/models"
	"github.com/fieldvault/fieldsync/internal/remote"
	syncpkg "github.com/fieldvault/fieldsync/internal/sync"
	"github.com/fieldvault/fieldsync/internal/sync/conflict"
	"github.com/fieldvault/fieldsync/internal/sync/media"
	"github.com/fieldvault/fieldsync/internal/sync/scheduler"
	"github.com/fieldvault/fieldsync/internal/sync/storage"
)

// app bundles the wired components for one daemon process. Everything is
// constructed once at startup and passed by reference; there are no
// package-level singletons.
type app struct {
	cfg    *config.Config
	repo   *db.Repository
	engine *syncpkg.Engine
}

func buildApp() (*app, error) {
	dir, err := resolveConfigDir()
	if err != nil {
		return nil, err
	}

	cfg, err := config.Load(dir)
	if err != nil {
		return nil, err
	}
	logging.Init(os.Stdout, logging.ParseLevel(cfg.LogLevel))

	// A token stored via `syncd login` backs an empty server_token.
	if cfg.ServerToken == "" {
		if token, err := crypto.NewTokenStore(dir, "").Load(); err == nil {
			cfg.ServerToken = token
		}
	}

	database, err := db.Open(cfg.DataDir)
	if err != nil {
		return nil, err
	}
	repo := db.NewRepository(database)

	client := remote.NewClient(&remote.Config{
		BaseURL:   cfg.ServerURL,
		AuthToken: cfg.ServerToken,
		Timeout:   cfg.ServerTimeout,
	})

	blobs := storage.NewBlobStore(filepath.Join(cfg.DataDir, "media"))
	pipeline := media.NewPipeline(repo, blobs, client)

	var policy conflict.Policy
	if cfg.ConflictPolicy == config.PolicyLWW {
		policy = conflict.LastWriterWinsPolicy{}
	}

	engine := syncpkg.NewEngine(repo, client, pipeline, syncpkg.Config{
		Owner:  cfg.Owner,
		Policy: policy,
	})

	return &app{cfg: cfg, repo: repo, engine: engine}, nil
}

func (a *app) close() {
	if err := a.repo.Close(); err != nil {
		logging.Error("Failed to close local store", err)
	}
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the sync daemon",
	Long: `Run the daemon: periodic and triggered sync passes, plus a local
WebSocket endpoint streaming sync progress to UI clients.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := buildApp()
		if err != nil {
			return err
		}
		defer a.close()

		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()

		hub := newHub()
		go hub.run(ctx)
		subID := a.engine.Subscribe(hub.broadcastProgress)
		defer a.engine.Unsubscribe(subID)

		sched := scheduler.NewScheduler(a.engine, &scheduler.Config{
			Interval: a.cfg.SyncInterval,
		})
		sched.Start(ctx)
		defer sched.Stop()

		mux := http.NewServeMux()
		mux.HandleFunc("/ws", hub.handleWS)
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			fmt.Fprintf(w, `{"status":%q,"pending":%d}`, a.engine.Status(), a.engine.PendingChanges())
		})

		srv := &http.Server{Addr: a.cfg.ListenAddr, Handler: mux}
		errCh := make(chan error, 1)
		go func() {
			logging.Info("Progress endpoint listening",
				map[string]interface{}{"addr": a.cfg.ListenAddr})
			errCh <- srv.ListenAndServe()
		}()

		// Sync once at startup rather than waiting for the first tick.
		sched.TriggerSync()

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		select {
		case sig := <-sigCh:
			logging.Info("Shutting down", map[string]interface{}{"signal": sig.String()})
		case err := <-errCh:
			if err != http.ErrServerClosed {
				return err
			}
		}

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		return srv.Shutdown(shutdownCtx)
	},
}

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run one sync pass and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := buildApp()
		if err != nil {
			return err
		}
		defer a.close()

		result, err := a.engine.Sync(cmd.Context())
		if err != nil {
			return err
		}
		if result.Offline {
			fmt.Println("offline: nothing synced")
			return nil
		}
		fmt.Printf("uploaded %d media, pushed %d, pulled %d, failed %d, conflicts %d (%s)\n",
			result.Uploaded, result.Pushed, result.Pulled, result.Failed,
			result.Conflicts, result.Duration.Round(time.Millisecond))
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show local store and queue state",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := buildApp()
		if err != nil {
			return err
		}
		defer a.close()

		records, err := a.repo.ListRecords(a.cfg.Owner)
		if err != nil {
			return err
		}
		tombstoned, err := a.repo.ListTombstonedRecords(a.cfg.Owner)
		if err != nil {
			return err
		}
		queued, err := a.repo.QueueSize()
		if err != nil {
			return err
		}

		pending, conflicts := 0, 0
		for _, rec := range records {
			switch rec.SyncStatus {
			case models.SyncStatusPending:
				pending++
			case models.SyncStatusConflict:
				conflicts++
			}
		}

		fmt.Printf("records:          %d (%d pending, %d in conflict)\n", len(records), pending, conflicts)
		fmt.Printf("pending deletes:  %d\n", len(tombstoned))
		fmt.Printf("queued ops:       %d\n", queued)
		return nil
	},
}
