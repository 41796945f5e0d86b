package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/ChadFarrow/stablekraft-app-sub011/internal/playlist"
)

func newPlaylistCommand(ctx *commandContext) *cobra.Command {
	var raw bool

	cmd := &cobra.Command{
		Use:   "playlist <playlist-id>",
		Short: "Build a playlist and print its tracks in order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := ctx.ensureApp(cmd.Context())
			if err != nil {
				return err
			}

			p, err := a.Assembler.Build(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if !raw {
				p.Items = nil
			}

			if ctx.json() {
				return writeJSON(cmd, p)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s (%d of %d playable)\n", p.Title, p.ResolvedTracks, p.TotalTracks)
			if raw {
				fmt.Fprintln(out, renderItems(p.Items))
				return nil
			}
			fmt.Fprintln(out, renderTracks(p.Tracks))
			return nil
		},
	}

	cmd.Flags().BoolVar(&raw, "raw", false, "Show every declared item, including unresolved ones")

	return cmd
}

func renderTracks(tracks []playlist.Track) string {
	rows := make([][]string, 0, len(tracks))
	for _, t := range tracks {
		pay := ""
		if t.HasV4V() {
			pay = "⚡"
		}
		rows = append(rows, []string{
			strconv.Itoa(t.Position),
			t.Title,
			t.Artist,
			(time.Duration(t.Duration) * time.Second).String(),
			pay,
		})
	}

	return renderTable(
		[]string{"#", "Title", "Artist", "Duration", "V4V"},
		rows,
		[]columnAlignment{alignRight, alignLeft, alignLeft, alignRight},
	)
}

func renderItems(items []playlist.Item) string {
	rows := make([][]string, 0, len(items))
	for _, it := range items {
		rows = append(rows, []string{
			strconv.Itoa(it.Position),
			it.FeedGUID,
			it.ItemGUID,
			it.Status,
			it.Reason,
		})
	}

	return renderTable(
		[]string{"#", "Feed GUID", "Item GUID", "Status", "Reason"},
		rows,
		[]columnAlignment{alignRight},
	)
}
