package cmd

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/rankwatch/rankwatch/internal/utils"
	"github.com/rankwatch/rankwatch/pkg/events"
	"github.com/rankwatch/rankwatch/pkg/polling"
	"github.com/rankwatch/rankwatch/pkg/tracker"
)

var lookupCmd = &cobra.Command{
	Use:   "lookup",
	Short: "Fetch a user profile from a server",
	Example: `  rankwatch lookup --server akatsuki --name cookiezi
  rankwatch lookup --server titanic --id 2 --mode taiko --save`,
	RunE: func(cmd *cobra.Command, args []string) error {
		serverName, _ := cmd.Flags().GetString("server")
		name, _ := cmd.Flags().GetString("name")
		userID, _ := cmd.Flags().GetInt64("id")
		save, _ := cmd.Flags().GetBool("save")
		mode, rx, err := modeFlags(cmd)
		if err != nil {
			return err
		}
		if (name == "") == (userID == 0) {
			return fmt.Errorf("exactly one of --name and --id is required")
		}

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		reg, err := buildRegistry(cfg)
		if err != nil {
			return err
		}
		srv, err := reg.ByName(serverName)
		if err != nil {
			return err
		}
		if !srv.Capabilities().SupportsRelax(rx) {
			return fmt.Errorf("%s has no %s leaderboards", srv.Name(), rx)
		}

		ctx := cmd.Context()
		if name != "" {
			if userID, err = srv.ResolveUsername(ctx, name); err != nil {
				return fmt.Errorf("resolve %q: %w", name, err)
			}
		}

		profile, err := srv.FetchUserProfile(ctx, userID)
		if err != nil {
			return err
		}
		u := profile.User

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintf(w, "User:\t%s (%d)\n", u.Username, u.ID)
		if len(u.UsernameHistory) > 1 {
			fmt.Fprintf(w, "Previously:\t%s\n", strings.Join(u.UsernameHistory[:len(u.UsernameHistory)-1], ", "))
		}
		fmt.Fprintf(w, "Country:\t%s\n", u.Country)
		if !u.RegisteredOn.IsZero() {
			fmt.Fprintf(w, "Registered:\t%s\n", u.RegisteredOn.Format(time.DateOnly))
		}
		if u.Banned {
			fmt.Fprintln(w, "Status:\trestricted")
		}

		st, ok := profile.StatsFor(mode, rx)
		if !ok {
			fmt.Fprintf(w, "Stats:\tnone for %s (%s)\n", mode, rx)
		} else {
			fmt.Fprintf(w, "Stats:\t%s (%s)\n", mode, rx)
			fmt.Fprintf(w, "  PP:\t%.2f\n", st.PP)
			fmt.Fprintf(w, "  Rank:\t%s (country %s)\n", rank(st.GlobalRank), rank(st.CountryRank))
			fmt.Fprintf(w, "  Score rank:\t%s (country %s)\n", rank(st.GlobalScoreRank), rank(st.CountryScoreRank))
			fmt.Fprintf(w, "  Ranked score:\t%d\n", st.RankedScore)
			fmt.Fprintf(w, "  Accuracy:\t%.2f%%\n", st.Accuracy)
			fmt.Fprintf(w, "  Play count:\t%d\n", st.PlayCount)
			fmt.Fprintf(w, "  Level:\t%.2f\n", st.Level)
			g := st.Grades
			fmt.Fprintf(w, "  Grades:\tSSH %d  SS %d  SH %d  S %d  A %d\n", g.XH, g.X, g.SH, g.S, g.A)
		}
		if err := w.Flush(); err != nil {
			return err
		}

		if !save {
			return nil
		}
		db, closeDB, err := openDB(cmd, cfg, true)
		if err != nil {
			return err
		}
		defer closeDB()

		modes, err := cfg.ParsedModes()
		if err != nil {
			return err
		}
		dispatcher := events.NewDispatcher(utils.Component("events"))
		dispatcher.SubscribeAll(logEvent)
		job := &polling.ProfileJob{
			Syncer: &polling.Syncer{
				Registry: reg,
				DB:       db,
				Tracker:  tracker.New(),
				Events:   dispatcher,
				Log:      utils.Component("polling"),
				Modes:    modes,
			},
			ScorePages: cfg.Tasks["profiles"].Pages,
		}
		if err := job.SyncUser(ctx, srv, userID); err != nil {
			return err
		}
		utils.Log.Infof("Saved %s user %d", srv.Name(), userID)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(lookupCmd)
	lookupCmd.Flags().String("server", "", "Server name")
	lookupCmd.Flags().String("name", "", "Username (case-insensitive)")
	lookupCmd.Flags().Int64("id", 0, "User id")
	lookupCmd.Flags().Bool("save", false, "Store the profile, scores and a snapshot in the database")
	addModeFlags(lookupCmd)
	lookupCmd.MarkFlagRequired("server")
}
