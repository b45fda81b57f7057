package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/steveyegge/autoprog/internal/api"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the coordinator over HTTP",
	Long: `Serve exposes status, reports, history, runs and rollback as a JSON API,
plus Prometheus metrics on /metrics. Only one batch runs at a time.

Examples:
  autoprog serve
  autoprog serve --addr 127.0.0.1:9100
  curl -X POST localhost:9017/runs?wait=true`,
	Run: func(cmd *cobra.Command, args []string) {
		addr, _ := cmd.Flags().GetString("addr")

		ctx, stop := signalContext()
		defer stop()

		c := openCoordinator(ctx)
		defer func() { _ = c.Close() }()

		fmt.Printf("%s Serving %s on http://%s\n", green("✓"), c.Root(), addr)
		srv := api.NewServer(c, logger)
		if err := srv.ListenAndServe(ctx, addr); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("%s Stopped\n", gray("○"))
	},
}

func init() {
	serveCmd.Flags().String("addr", api.DefaultAddr, "Listen address")
	rootCmd.AddCommand(serveCmd)
}
