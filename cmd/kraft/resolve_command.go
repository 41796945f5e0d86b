package main

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/ChadFarrow/stablekraft-app-sub011/internal/playlist"
	"github.com/ChadFarrow/stablekraft-app-sub011/internal/resolve"
)

func newResolveCommand(ctx *commandContext) *cobra.Command {
	var (
		retryFailed bool
		all         bool
	)

	cmd := &cobra.Command{
		Use:   "resolve [playlist-id...]",
		Short: "Resolve playlist items against the index and rebuild the cached payload",
		RunE: func(cmd *cobra.Command, args []string) error {
			if all == (len(args) > 0) {
				return errors.New("give playlist IDs or --all")
			}

			a, err := ctx.ensureApp(cmd.Context())
			if err != nil {
				return err
			}

			ids := args
			if all {
				pls, err := a.Repo.Playlists(cmd.Context())
				if err != nil {
					return err
				}
				ids = nil
				for _, p := range pls {
					ids = append(ids, p.ID)
				}
			}

			opts := resolve.Options{Force: retryFailed}
			var built []playlist.Playlist
			for _, id := range ids {
				p, err := a.Assembler.BuildWith(cmd.Context(), id, opts)
				if err != nil {
					return fmt.Errorf("resolve %s: %w", id, err)
				}
				built = append(built, p)
			}

			if ctx.json() {
				return writeJSON(cmd, built)
			}

			rows := make([][]string, 0, len(built))
			for _, p := range built {
				rows = append(rows, []string{
					p.ID,
					p.Title,
					strconv.Itoa(p.TotalTracks),
					strconv.Itoa(p.ResolvedTracks),
					strconv.Itoa(p.TotalTracks - p.ResolvedTracks),
				})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"Playlist", "Title", "Items", "Playable", "Missing"},
				rows,
				[]columnAlignment{alignLeft, alignLeft, alignRight, alignRight, alignRight},
			))
			return nil
		},
	}

	cmd.Flags().BoolVar(&retryFailed, "retry-failed", false, "Ask the index again about items it recently didn't have")
	cmd.Flags().BoolVar(&all, "all", false, "Resolve every playlist")

	return cmd
}
