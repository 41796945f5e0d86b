package main

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/ChadFarrow/stablekraft-app-sub011/internal/ingest"
	"github.com/ChadFarrow/stablekraft-app-sub011/internal/worker"
)

func newSyncCommand(ctx *commandContext) *cobra.Command {
	var (
		feedID   string
		addURL   string
		temporal bool
	)

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Fetch feeds and refresh their tracks",
		Long: `Without flags every feed with a url is synced. --feed syncs one feed,
--add registers a new feed url and syncs it.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if feedID != "" && addURL != "" {
				return errors.New("--feed and --add are mutually exclusive")
			}
			if temporal && feedID == "" {
				return errors.New("--temporal needs --feed")
			}

			a, err := ctx.ensureApp(cmd.Context())
			if err != nil {
				return err
			}

			var results []ingest.Result
			switch {
			case temporal:
				if ctx.config.TemporalHostPort == "" {
					return errors.New("TEMPORAL_HOST_PORT is required with --temporal")
				}
				c, err := worker.Dial(cmd.Context(), ctx.config.TemporalHostPort, ctx.config.TemporalNamespace)
				if err != nil {
					return fmt.Errorf("dial temporal: %w", err)
				}
				defer c.Close()

				res, err := worker.TriggerSyncFeed(cmd.Context(), c, feedID)
				if err != nil {
					return err
				}
				results = append(results, res)
			case feedID != "":
				res, err := a.Ingest.SyncFeed(cmd.Context(), feedID)
				if err != nil && res.FeedID == "" {
					return err
				}
				if err != nil {
					res.Error = err.Error()
				}
				results = append(results, res)
			case addURL != "":
				res, err := a.Ingest.AddFeed(cmd.Context(), addURL)
				if err != nil && res.FeedID == "" {
					return err
				}
				if err != nil {
					res.Error = err.Error()
				}
				results = append(results, res)
			default:
				report, err := a.Ingest.SyncAll(cmd.Context())
				if err != nil {
					return err
				}
				if ctx.json() {
					return writeJSON(cmd, report)
				}
				printSyncResults(cmd, report.Results)
				fmt.Fprintf(cmd.OutOrStdout(), "%d synced, %d failed, %d skipped\n", report.OK, report.Failed, report.Skipped)
				return nil
			}

			if ctx.json() {
				return writeJSON(cmd, results)
			}
			printSyncResults(cmd, results)
			return nil
		},
	}

	cmd.Flags().StringVar(&feedID, "feed", "", "Sync a single feed by ID")
	cmd.Flags().StringVar(&addURL, "add", "", "Add a feed by url and sync it")
	cmd.Flags().BoolVar(&temporal, "temporal", false, "Run the sync on the worker instead of in-process")

	return cmd
}

func printSyncResults(cmd *cobra.Command, results []ingest.Result) {
	rows := make([][]string, 0, len(results))
	for _, r := range results {
		playlist := r.PlaylistID
		if r.PlaylistChanged {
			playlist += " (changed)"
		}
		rows = append(rows, []string{
			r.FeedID,
			r.Title,
			string(r.Status),
			strconv.Itoa(r.Items),
			strconv.Itoa(r.NewTracks),
			playlist,
			r.Error,
		})
	}

	fmt.Fprintln(cmd.OutOrStdout(), renderTable(
		[]string{"Feed", "Title", "Status", "Items", "New", "Playlist", "Error"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignRight},
	))
}
