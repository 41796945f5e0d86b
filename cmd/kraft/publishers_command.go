package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/ChadFarrow/stablekraft-app-sub011/internal/publisher"
)

func newPublishersCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "publishers",
		Short: "List music publishers known to the catalog",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := ctx.ensureApp(cmd.Context())
			if err != nil {
				return err
			}

			feeds, err := a.Repo.AllFeeds(cmd.Context())
			if err != nil {
				return err
			}
			pubs := publisher.Extract(feeds)

			if ctx.json() {
				return writeJSON(cmd, pubs)
			}

			rows := make([][]string, 0, len(pubs))
			for _, p := range pubs {
				source := "feed"
				if p.Referenced {
					source = "referenced"
				}
				rows = append(rows, []string{p.DisplayName, p.Slug, p.GUID, strconv.Itoa(p.Albums), source})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"Name", "Slug", "GUID", "Albums", "Source"},
				rows,
				[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight},
			))
			return nil
		},
	}
}
