package cmd

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/rankwatch/rankwatch/internal/config"
	"github.com/rankwatch/rankwatch/internal/utils"
	"github.com/rankwatch/rankwatch/pkg/model"
	"github.com/rankwatch/rankwatch/pkg/storage"
)

// dbCmd represents the db command
var dbCmd = &cobra.Command{
	Use:   "db",
	Short: "Inspect the rankwatch database",
}

// openDB opens the configured database. With lock set it also takes the
// writer lock, failing fast when a sync already holds it.
func openDB(cmd *cobra.Command, cfg *config.Config, lock bool) (*storage.DB, func(), error) {
	dbPath, _ := cmd.Flags().GetString("dbpath")
	if dbPath == "" {
		dbPath = cfg.Database
	}
	dbPath, err := utils.GetAbsDBPath(dbPath)
	if err != nil {
		return nil, nil, err
	}

	release := func() {}
	if lock {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, nil, err
		}
		l, err := utils.NewDBLock(dbPath)
		if err != nil {
			return nil, nil, err
		}
		if err := l.Lock(false); err != nil {
			if errors.Is(err, utils.ErrLocked) {
				return nil, nil, fmt.Errorf("database %s is in use by a running sync", dbPath)
			}
			return nil, nil, err
		}
		release = func() { l.Unlock() }
	} else if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		return nil, nil, fmt.Errorf("database file not found: %s", dbPath)
	}

	db, err := storage.Open(dbPath)
	if err != nil {
		release()
		return nil, nil, err
	}
	return db, func() {
		db.Close()
		release()
	}, nil
}

// statsCmd represents the stats command
var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Prints row counts per server.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		db, closeDB, err := openDB(cmd, cfg, false)
		if err != nil {
			return err
		}
		defer closeDB()

		stats, err := db.GetStats(cmd.Context())
		if err != nil {
			return err
		}
		if len(stats) == 0 {
			fmt.Println("No data in the database to generate stats.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.AlignRight)
		fmt.Fprintln(w, "SERVER\tUSERS\tSCORES\tSNAPSHOTS\tCLANS\t")

		var total storage.ServerStats
		for _, s := range stats {
			fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%d\t\n", s.Server, s.Users, s.Scores, s.Snapshots, s.Clans)
			total.Users += s.Users
			total.Scores += s.Scores
			total.Snapshots += s.Snapshots
			total.Clans += s.Clans
		}

		fmt.Fprintln(w, " \t \t \t \t \t")
		fmt.Fprintf(w, "TOTAL\t%d\t%d\t%d\t%d\t\n", total.Users, total.Scores, total.Snapshots, total.Clans)

		return w.Flush()
	},
}

var tasksCmd = &cobra.Command{
	Use:   "tasks",
	Short: "Prints when each scheduled task last completed.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		db, closeDB, err := openDB(cmd, cfg, false)
		if err != nil {
			return err
		}
		defer closeDB()

		cps, err := db.Checkpoints(cmd.Context())
		if err != nil {
			return err
		}
		if len(cps) == 0 {
			fmt.Println("No task has completed yet.")
			return nil
		}

		now := time.Now()
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
		fmt.Fprintln(w, "TASK\tLAST RUN\tAGO\t")
		for _, cp := range cps {
			fmt.Fprintf(w, "%s\t%s\t%s\t\n", cp.Name, cp.LastRun.Local().Format(time.RFC3339), now.Sub(cp.LastRun).Round(time.Second))
		}
		return w.Flush()
	},
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Prints the daily snapshots stored for a user.",
	RunE: func(cmd *cobra.Command, args []string) error {
		server, _ := cmd.Flags().GetString("server")
		userID, _ := cmd.Flags().GetInt64("id")
		limit, _ := cmd.Flags().GetInt("limit")
		mode, rx, err := modeFlags(cmd)
		if err != nil {
			return err
		}

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		db, closeDB, err := openDB(cmd, cfg, false)
		if err != nil {
			return err
		}
		defer closeDB()

		var history []model.Stats
		err = db.View(cmd.Context(), func(tx *storage.Tx) (err error) {
			history, err = tx.StatsHistory(cmd.Context(), server, userID, mode, rx, limit)
			return err
		})
		if err != nil {
			return err
		}
		if len(history) == 0 {
			fmt.Printf("No snapshots for %s user %d (%s, %s).\n", server, userID, mode, rx)
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.AlignRight)
		fmt.Fprintln(w, "DATE\tPP\tRANK\tCOUNTRY\tSCORE RANK\tRANKED SCORE\tACC\tPLAYS\t")
		for _, st := range history {
			fmt.Fprintf(w, "%s\t%.2f\t%s\t%s\t%s\t%d\t%.2f%%\t%d\t\n",
				st.Date.Format("2006-01-02"), st.PP, rank(st.GlobalRank), rank(st.CountryRank),
				rank(st.GlobalScoreRank), st.RankedScore, st.Accuracy, st.PlayCount)
		}
		return w.Flush()
	},
}

func rank(r int) string {
	if r <= 0 {
		return "-"
	}
	return fmt.Sprintf("#%d", r)
}

// modeFlags reads the --mode and --relax flags.
func modeFlags(cmd *cobra.Command) (model.Mode, model.Relax, error) {
	modeName, _ := cmd.Flags().GetString("mode")
	rxName, _ := cmd.Flags().GetString("relax")
	mode, err := model.ParseMode(modeName)
	if err != nil {
		return 0, 0, err
	}
	rx, err := model.ParseRelax(rxName)
	if err != nil {
		return 0, 0, err
	}
	if !rx.Supports(mode) {
		return 0, 0, fmt.Errorf("%s has no %s variant", mode, rx)
	}
	return mode, rx, nil
}

func addModeFlags(cmd *cobra.Command) {
	cmd.Flags().StringP("mode", "m", "osu", "Game mode: osu, taiko, fruits, mania")
	cmd.Flags().StringP("relax", "r", "vanilla", "Variant: vanilla, relax, autopilot")
}

func init() {
	rootCmd.AddCommand(dbCmd)
	dbCmd.AddCommand(statsCmd)
	dbCmd.AddCommand(tasksCmd)
	dbCmd.AddCommand(historyCmd)
	dbCmd.PersistentFlags().String("dbpath", "", "Path to SQLite DB file (default from config)")

	historyCmd.Flags().String("server", "", "Server name")
	historyCmd.Flags().Int64("id", 0, "User id")
	historyCmd.Flags().Int("limit", 30, "Number of days to show")
	addModeFlags(historyCmd)
	historyCmd.MarkFlagRequired("server")
	historyCmd.MarkFlagRequired("id")
}
