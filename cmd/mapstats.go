package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"

	homedir "github.com/mitchellh/go-homedir"
	"github.com/spf13/cobra"

	"github.com/rankwatch/rankwatch/internal/utils"
	"github.com/rankwatch/rankwatch/pkg/difficulty"
	"github.com/rankwatch/rankwatch/pkg/model"
	"github.com/rankwatch/rankwatch/pkg/performance"
	"github.com/rankwatch/rankwatch/pkg/whttp"
)

var mapstatsCmd = &cobra.Command{
	Use:   "mapstats",
	Short: "Show beatmap difficulty settings with mods applied",
	Example: `  rankwatch mapstats --ar 9 --od 8 --cs 4 --hp 6 --bpm 180 --mods HDDTHR
  rankwatch mapstats --beatmap 129891 --mods DT`,
	RunE: func(cmd *cobra.Command, args []string) error {
		beatmapID, _ := cmd.Flags().GetInt64("beatmap")
		modString, _ := cmd.Flags().GetString("mods")
		mods := model.ParseModString(modString)

		var base model.Attributes
		if beatmapID > 0 {
			src, err := beatmapSource()
			if err != nil {
				return err
			}
			b, err := src.Beatmap(cmd.Context(), beatmapID, "")
			if err != nil {
				return err
			}
			if base, err = performance.ParseAttributes(b); err != nil {
				return fmt.Errorf("beatmap %d: %w", beatmapID, err)
			}
		} else {
			base.AR, _ = cmd.Flags().GetFloat64("ar")
			base.OD, _ = cmd.Flags().GetFloat64("od")
			base.CS, _ = cmd.Flags().GetFloat64("cs")
			base.HP, _ = cmd.Flags().GetFloat64("hp")
			base.BPM, _ = cmd.Flags().GetFloat64("bpm")
		}

		eff := difficulty.Apply(base, mods)
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.AlignRight)
		fmt.Fprintf(w, "\tBASE\t+%s\t\n", mods)
		fmt.Fprintf(w, "AR\t%.2f\t%.2f\t\n", base.AR, eff.AR)
		fmt.Fprintf(w, "OD\t%.2f\t%.2f\t\n", base.OD, eff.OD)
		fmt.Fprintf(w, "CS\t%.2f\t%.2f\t\n", base.CS, eff.CS)
		fmt.Fprintf(w, "HP\t%.2f\t%.2f\t\n", base.HP, eff.HP)
		fmt.Fprintf(w, "BPM\t%.0f\t%.0f\t\n", base.BPM, eff.BPM)
		return w.Flush()
	},
}

// beatmapSource returns the mirror-backed .osu source with its on-disk cache.
func beatmapSource() (*performance.MirrorSource, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	dir := cfg.BeatmapCache
	if dir == "" {
		home, err := homedir.Dir()
		if err != nil {
			return nil, err
		}
		dir = filepath.Join(home, ".cache", "rankwatch", "beatmaps")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	log := utils.Component("beatmaps")
	return &performance.MirrorSource{
		Fetcher:  whttp.NewClient(whttp.Options{Retries: 1, Log: log}),
		CacheDir: dir,
		Log:      log,
	}, nil
}

func init() {
	rootCmd.AddCommand(mapstatsCmd)
	mapstatsCmd.Flags().Int64("beatmap", 0, "Beatmap id to download instead of passing the settings")
	mapstatsCmd.Flags().String("mods", "", "Mod acronyms, e.g. HDDTHR")
	mapstatsCmd.Flags().Float64("ar", 0, "Approach rate")
	mapstatsCmd.Flags().Float64("od", 0, "Overall difficulty")
	mapstatsCmd.Flags().Float64("cs", 0, "Circle size")
	mapstatsCmd.Flags().Float64("hp", 0, "HP drain")
	mapstatsCmd.Flags().Float64("bpm", 0, "Beats per minute")
}
