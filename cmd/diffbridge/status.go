package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/codefionn/diffbridge/internal/bridge"
	"github.com/codefionn/diffbridge/internal/config"
	"github.com/codefionn/diffbridge/internal/consts"
	"github.com/codefionn/diffbridge/internal/lockfile"
	"github.com/codefionn/diffbridge/internal/socketclient"
	"github.com/fatih/color"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
)

func newStatusCmd() *cobra.Command {
	var (
		host   string
		port   int
		runDir string
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the connections of a running server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if port == 0 {
				info, err := lockfile.Find(afero.NewOsFs(), runDir)
				if err != nil {
					return fmt.Errorf("cannot locate server: %w", err)
				}
				host, port = info.Host, info.Port
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), consts.Timeout5Seconds)
			defer cancel()

			status, err := socketclient.FetchStatus(ctx, &http.Client{}, host, port)
			if err != nil {
				return err
			}

			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(status)
			}
			printStatus(cmd.OutOrStdout(), status)
			return nil
		},
	}

	cmd.Flags().StringVar(&host, "host", "127.0.0.1", "Server address")
	cmd.Flags().IntVar(&port, "port", 0, "Server port (0 looks it up in the run directory)")
	cmd.Flags().StringVar(&runDir, "run-dir", config.DefaultConfig().RunDir, "Directory with the lock files of running servers")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the raw JSON status")
	return cmd
}

func printStatus(w io.Writer, status *bridge.Status) {
	bound := func(ok bool) string {
		if ok {
			return color.GreenString("bound")
		}
		return color.YellowString("unbound")
	}

	fmt.Fprintf(w, "editor:    %s\n", bound(status.EditorBound))
	fmt.Fprintf(w, "assistant: %s\n", bound(status.AssistantBound))
	fmt.Fprintf(w, "open diffs: %d\n", len(status.OpenDiffs))
	fmt.Fprintf(w, "connections: %d\n", status.Registry.Total)

	for _, conn := range status.Registry.Connections {
		state := color.GreenString(conn.State)
		if !conn.IsAlive {
			state = color.RedString(conn.State)
		}
		fmt.Fprintf(w, "  %s  %-9s %s  since %s\n", conn.ID, conn.Role, state, conn.ConnectedAt.Format("15:04:05"))
	}
}
