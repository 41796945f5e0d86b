package worker

import (
	"context"
	"fmt"
	"time"

	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	krafterrs "github.com/ChadFarrow/stablekraft-app-sub011/internal/errors"
	"github.com/ChadFarrow/stablekraft-app-sub011/internal/ingest"
)

type workflows struct{}

var retryPolicy = &temporal.RetryPolicy{
	InitialInterval:    time.Second,
	BackoffCoefficient: 2.0,
	MaximumAttempts:    3, // 0 is unlimited retries
}

func syncOptions(ctx workflow.Context) workflow.Context {
	return workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 2 * time.Minute,
		RetryPolicy:         retryPolicy,
	})
}

// Resolution waits on the index's rate limit, so a big playlist takes a while.
func resolveOptions(ctx workflow.Context) workflow.Context {
	return workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 15 * time.Minute,
		RetryPolicy:         retryPolicy,
	})
}

// SyncReport is the outcome of a SyncAllFeeds run.
type SyncReport struct {
	Synced    int               `json:"synced"`
	Failed    int               `json:"failed"`
	Playlists []PlaylistSummary `json:"playlists"`
}

func (workflows) SyncFeed(ctx workflow.Context, feedID string) (ingest.Result, error) {
	ctx = syncOptions(ctx)

	var res ingest.Result
	err := workflow.ExecuteActivity(ctx, acts.SyncFeed, feedID).Get(ctx, &res)
	return res, err
}

// SyncAllFeeds syncs every feed in parallel, then rebuilds the playlists
// whose item lists changed. A failing feed is counted, never fatal.
func (workflows) SyncAllFeeds(ctx workflow.Context) (SyncReport, error) {
	var (
		l      = workflow.GetLogger(ctx)
		report SyncReport
	)
	ctx = syncOptions(ctx)

	var feedIDs []string
	if err := workflow.ExecuteActivity(ctx, acts.AllFeeds).Get(ctx, &feedIDs); err != nil {
		l.Error("failed to list feeds", "error", err)
		return report, err
	}

	var changed []string
	wg := workflow.NewWaitGroup(ctx)
	wg.Add(len(feedIDs))
	for _, feedID := range feedIDs {
		workflow.Go(ctx, func(ctx workflow.Context) {
			defer wg.Done()

			var res ingest.Result
			if err := workflow.ExecuteActivity(ctx, acts.SyncFeed, feedID).Get(ctx, &res); err != nil {
				l.Warn("failed to sync feed", "feed_id", feedID, "error", err)
				report.Failed++
				return
			}

			report.Synced++
			if res.PlaylistChanged {
				changed = append(changed, res.PlaylistID)
			}
		})
	}
	wg.Wait(ctx)

	report.Playlists = resolveEach(resolveOptions(ctx), changed)
	return report, nil
}

// ResolveAllPlaylists rebuilds every playlist in turn.
func (workflows) ResolveAllPlaylists(ctx workflow.Context) ([]PlaylistSummary, error) {
	ctx = syncOptions(ctx)

	var ids []string
	if err := workflow.ExecuteActivity(ctx, acts.AllPlaylists).Get(ctx, &ids); err != nil {
		return nil, err
	}

	return resolveEach(resolveOptions(ctx), ids), nil
}

func (workflows) ResolvePlaylist(ctx workflow.Context, playlistID string) (PlaylistSummary, error) {
	ctx = resolveOptions(ctx)

	var sum PlaylistSummary
	err := workflow.ExecuteActivity(ctx, acts.ResolvePlaylist, playlistID).Get(ctx, &sum)
	return sum, err
}

// One at a time; the resolver's rate limit is shared anyway.
func resolveEach(ctx workflow.Context, ids []string) []PlaylistSummary {
	l := workflow.GetLogger(ctx)

	var out []PlaylistSummary
	for _, id := range ids {
		var sum PlaylistSummary
		if err := workflow.ExecuteActivity(ctx, acts.ResolvePlaylist, id).Get(ctx, &sum); err != nil {
			l.Warn("failed to resolve playlist", "playlist_id", id, "error", err)
			continue
		}
		out = append(out, sum)
	}
	return out
}

// TriggerSyncFeed runs a single feed sync on the worker and waits for it.
func TriggerSyncFeed(ctx context.Context, c client.Client, feedID string) (ingest.Result, error) {
	options := client.StartWorkflowOptions{
		ID:        "sync_feed_" + feedID,
		TaskQueue: TaskQueue,
	}
	we, err := c.ExecuteWorkflow(ctx, options, workflows{}.SyncFeed, feedID)
	if err != nil {
		return ingest.Result{}, fmt.Errorf("unable to execute workflow: %w", err)
	}

	var res ingest.Result
	err = we.Get(ctx, &res)
	sErr := &krafterrs.Error{}
	if asKrafterr(err, &sErr) {
		return ingest.Result{}, sErr
	}
	if err != nil {
		return ingest.Result{}, fmt.Errorf("error executing workflow: %w", err)
	}

	return res, nil
}
