package main

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/ChadFarrow/stablekraft-app-sub011/internal/dedup"
)

func newDedupCommand(ctx *commandContext) *cobra.Command {
	var (
		dryRun    bool
		repoint   bool
		favorites string
	)

	cmd := &cobra.Command{
		Use:   "dedup",
		Short: "Merge duplicate tracks in the catalog",
		Long: `Tracks sharing an audio url and title are merged into one survivor:
the one with payment info, else the one on an active feed, else the oldest.

Duplicates still referenced by playlists, favorites, posts or boosts block the
run unless --repoint moves those references onto the survivor.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := ctx.ensureApp(cmd.Context())
			if err != nil {
				return err
			}

			if favorites != "" {
				actions, err := a.Dedup.MatchFavorites(cmd.Context(), favorites, dryRun)
				if err != nil {
					return err
				}
				if ctx.json() {
					return writeJSON(cmd, actions)
				}
				rows := make([][]string, 0, len(actions))
				for _, act := range actions {
					rows = append(rows, []string{act.FavoriteID, act.Key, act.Action, act.FromTrackID, act.ToTrackID})
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderTable(
					[]string{"Favorite", "Key", "Action", "From", "To"}, rows, nil,
				))
				return nil
			}

			report, err := a.Dedup.Run(cmd.Context(), dedup.Options{DryRun: dryRun, Repoint: repoint})
			var blocked *dedup.ReferentialIntegrityError
			if err != nil && !errors.As(err, &blocked) {
				return err
			}

			if ctx.json() {
				if jerr := writeJSON(cmd, report); jerr != nil {
					return jerr
				}
				return err
			}

			rows := make([][]string, 0, len(report.Removals))
			for _, r := range report.Removals {
				rows = append(rows, []string{
					r.Track.ID,
					r.KeepID,
					r.Track.Title,
					strconv.Itoa(r.Dependents.PlaylistTracks),
					strconv.Itoa(r.Dependents.Favorites),
					strconv.Itoa(r.Dependents.SocialPosts),
					strconv.Itoa(r.Dependents.BoostEvents),
				})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"Remove", "Keep", "Title", "Playlists", "Favorites", "Posts", "Boosts"},
				rows,
				[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignRight, alignRight, alignRight},
			))

			switch {
			case blocked != nil:
				fmt.Fprintln(cmd.OutOrStdout(), "Nothing removed; rerun with --repoint to move references.")
				return err
			case report.DryRun:
				fmt.Fprintf(cmd.OutOrStdout(), "Dry run: %d duplicates in %d groups.\n", len(report.Removals), len(report.Groups))
			default:
				fmt.Fprintf(cmd.OutOrStdout(), "Removed %d duplicates.\n", report.Removed)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Report without changing anything")
	cmd.Flags().BoolVar(&repoint, "repoint", false, "Move references from duplicates onto the surviving track")
	cmd.Flags().StringVar(&favorites, "favorites", "", "Match a session's favorites to catalog tracks instead")

	return cmd
}
