package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/rankwatch/rankwatch/internal/config"
	"github.com/rankwatch/rankwatch/internal/utils"
	"github.com/rankwatch/rankwatch/pkg/events"
	"github.com/rankwatch/rankwatch/pkg/polling"
	"github.com/rankwatch/rankwatch/pkg/scheduler"
	"github.com/rankwatch/rankwatch/pkg/storage"
	"github.com/rankwatch/rankwatch/pkg/tracker"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run the scheduled sync jobs until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		once, _ := cmd.Flags().GetBool("once")
		wait, _ := cmd.Flags().GetBool("wait")

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		reg, err := buildRegistry(cfg)
		if err != nil {
			return err
		}
		modes, err := cfg.ParsedModes()
		if err != nil {
			return err
		}

		dbPath, err := utils.GetAbsDBPath(cfg.Database)
		if err != nil {
			return err
		}
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return err
		}
		lock, err := utils.NewDBLock(dbPath)
		if err != nil {
			return err
		}
		if err := lock.Lock(wait); err != nil {
			if errors.Is(err, utils.ErrLocked) {
				return fmt.Errorf("another sync is using %s (lock file %s)", dbPath, lock.Path())
			}
			return err
		}
		defer lock.Unlock()

		db, err := storage.Open(dbPath)
		if err != nil {
			return err
		}
		defer db.Close()

		sigCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		// Tasks run to completion once started; a signal only stops the
		// scheduler between tasks.
		ctx := context.WithoutCancel(cmd.Context())

		dispatcher := events.NewDispatcher(utils.Component("events"))
		dispatcher.SubscribeAll(logEvent)

		syncer := &polling.Syncer{
			Registry: reg,
			DB:       db,
			Tracker:  tracker.New(),
			Events:   dispatcher,
			Log:      utils.Component("polling"),
			Modes:    modes,
		}
		sched := scheduler.New(db,
			scheduler.WithLogger(utils.Component("scheduler")),
			scheduler.WithDispatcher(dispatcher),
		)
		if err := registerJobs(sched, syncer, cfg); err != nil {
			return err
		}

		if cfg.MetricsAddr != "" {
			srv := serveMetrics(cfg.MetricsAddr)
			defer srv.Shutdown(context.Background())
		}

		finished := make(chan struct{})
		defer close(finished)
		go func() {
			select {
			case <-sigCtx.Done():
				utils.Log.Info("Stopping after the running task, interrupt again to abort")
				sched.Stop()
				// Restore the default handlers so a second signal kills the process.
				stop()
			case <-finished:
			}
		}()

		if once {
			n := sched.Sweep(ctx)
			utils.Log.Infof("Ran %d task(s)", n)
			return nil
		}
		utils.Log.Infof("Syncing %s into %s", strings.Join(cfg.EnabledServers(), ", "), dbPath)
		if err := sched.Run(ctx); err != nil {
			return err
		}
		utils.Log.Info("Sync stopped")
		return nil
	},
}

// registerJobs adds every enabled job to the scheduler with its policy.
func registerJobs(sched *scheduler.Service, syncer *polling.Syncer, cfg *config.Config) error {
	jobs := map[string]scheduler.Task{
		"leaderboard": &polling.LeaderboardJob{
			Syncer:   syncer,
			Pages:    cfg.Tasks["leaderboard"].Pages,
			PageSize: cfg.Tasks["leaderboard"].PageSize,
		},
		"profiles": &polling.ProfileJob{
			Syncer:     syncer,
			Tracked:    cfg.Tracked,
			ScorePages: cfg.Tasks["profiles"].Pages,
		},
		"clans": &polling.ClanJob{
			Syncer:   syncer,
			Pages:    cfg.Tasks["clans"].Pages,
			PageSize: cfg.Tasks["clans"].PageSize,
			Tracked:  cfg.TrackedClans,
		},
		"beatmaps": &polling.BeatmapStatusJob{
			Syncer: syncer,
			Batch:  cfg.Tasks["beatmaps"].PageSize,
		},
	}
	for _, name := range config.TaskNames {
		tc := cfg.Tasks[name]
		if !tc.Enabled {
			utils.Log.Debugf("Task %s is disabled", name)
			continue
		}
		policy, err := tc.Policy()
		if err != nil {
			return fmt.Errorf("task %s: %w", name, err)
		}
		sched.Register(jobs[name], policy)
		utils.Log.Debugf("Task %s scheduled %s", name, policy)
	}
	return nil
}

func logEvent(e events.Event) {
	msg := strings.ReplaceAll(e.String(), "\n", " | ")
	entry := utils.Component("events").WithField("kind", e.Kind().String())
	switch e.(type) {
	case events.TaskFailed, events.UserBanned:
		entry.Warn(msg)
	case events.LeaderboardSynced:
		entry.Debug(msg)
	default:
		entry.Info(msg)
	}
}

func serveMetrics(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			utils.Log.Errorf("Metrics server: %v", err)
		}
	}()
	utils.Log.Infof("Serving metrics on %s/metrics", addr)
	return srv
}

func init() {
	rootCmd.AddCommand(syncCmd)
	syncCmd.Flags().Bool("once", false, "Run every due task once and exit")
	syncCmd.Flags().Bool("wait", false, "Wait for the database lock instead of failing")
}
