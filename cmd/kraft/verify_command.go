package main

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/ChadFarrow/stablekraft-app-sub011/internal/feed"
	"github.com/ChadFarrow/stablekraft-app-sub011/internal/playlist"
)

var errOrderMismatch = errors.New("playlist order does not match its source feed")

func newVerifyOrderCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "verify-order <playlist-id>",
		Short: "Rebuild a playlist and check its track order against the live source feed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := ctx.ensureApp(cmd.Context())
			if err != nil {
				return err
			}

			p, err := a.Repo.Playlist(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if p.SourceURL == "" {
				return fmt.Errorf("playlist %s has no source url", p.ID)
			}

			data, err := a.Fetcher.Fetch(cmd.Context(), p.SourceURL)
			if err != nil {
				return err
			}
			parsed, err := feed.Parse(data)
			if err != nil {
				return err
			}

			payload, err := a.Assembler.Build(cmd.Context(), p.ID)
			if err != nil {
				return err
			}

			mismatches := playlist.VerifyOrder(parsed.Channel.RemoteItems, payload)
			if ctx.json() {
				if err := writeJSON(cmd, mismatches); err != nil {
					return err
				}
			} else if len(mismatches) > 0 {
				rows := make([][]string, 0, len(mismatches))
				for _, m := range mismatches {
					rows = append(rows, []string{
						strconv.Itoa(m.Index), m.FeedGUID, m.ItemGUID, strconv.Itoa(m.Want), strconv.Itoa(m.Got),
					})
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderTable(
					[]string{"Index", "Feed GUID", "Item GUID", "Declared", "Got"},
					rows,
					[]columnAlignment{alignRight, alignLeft, alignLeft, alignRight, alignRight},
				))
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "%d of %d declared items playable, all in order.\n",
					payload.ResolvedTracks, len(parsed.Channel.RemoteItems))
			}

			if len(mismatches) > 0 {
				return errOrderMismatch
			}
			return nil
		},
	}
}
