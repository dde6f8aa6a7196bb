package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/rankwatch/rankwatch/pkg/servers"
)

var serversCmd = &cobra.Command{
	Use:   "servers",
	Short: "List the enabled servers, their capabilities and health",
	RunE: func(cmd *cobra.Command, args []string) error {
		timeout, _ := cmd.Flags().GetDuration("timeout")

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		reg, err := buildRegistry(cfg)
		if err != nil {
			return err
		}
		if len(reg.All()) == 0 {
			fmt.Println("No servers enabled.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
		fmt.Fprintln(w, "SERVER\tCAPABILITIES\tVARIANTS\tPAGE SIZE\tINTERVAL\tHEALTH\tLATENCY\t")
		for _, srv := range reg.All() {
			caps := srv.Capabilities()
			status, latency := checkHealth(cmd.Context(), srv, timeout)
			fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\t%s\t\n",
				srv.Name(), caps.Flags, variants(caps), caps.MaxPageSize, caps.RequestInterval, status, latency)
		}
		return w.Flush()
	},
}

func checkHealth(ctx context.Context, srv servers.Server, timeout time.Duration) (string, string) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	h, err := srv.HealthCheck(ctx)
	if err != nil {
		return "error: " + err.Error(), "-"
	}
	latency := h.Latency.Round(time.Millisecond).String()
	if !h.OK {
		return "down: " + h.Detail, latency
	}
	return "ok", latency
}

func variants(caps servers.Capabilities) string {
	var names []string
	for _, rx := range caps.Variants() {
		names = append(names, rx.String())
	}
	return strings.Join(names, ",")
}

func init() {
	rootCmd.AddCommand(serversCmd)
	serversCmd.Flags().Duration("timeout", 15*time.Second, "Timeout of each health check")
}
