// Package worker runs the pipeline on temporal: scheduled feed syncs and
// playlist resolution.
package worker

import (
	"context"
	"fmt"
	"time"

	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
)

const TaskQueue = "shared"

const (
	syncAllScheduleID      = "sync_all"
	resolveAllScheduleID   = "resolve_playlists"
	defaultSyncInterval    = 15 * time.Minute
	defaultResolveInterval = 6 * time.Hour
)

type Config struct {
	SyncInterval    time.Duration
	ResolveInterval time.Duration
}

// NewWorker sets up the worker with registration of workflows, activities, and schedules.
func NewWorker(ctx context.Context, cli client.Client, syncer Syncer, store Store, builder Builder, cfg Config) (worker.Worker, error) {
	if cfg.SyncInterval <= 0 {
		cfg.SyncInterval = defaultSyncInterval
	}
	if cfg.ResolveInterval <= 0 {
		cfg.ResolveInterval = defaultResolveInterval
	}

	a := activities{
		ingest:    syncer,
		store:     store,
		playlists: builder,
	}

	w := worker.New(cli, TaskQueue, worker.Options{})

	if err := registerEverything(ctx, w, a, cli, cfg); err != nil {
		return nil, fmt.Errorf("error registering workflows and activities: %T, %v", err, err)
	}

	return w, nil
}

func registerEverything(ctx context.Context, w worker.Worker, a activities, cli client.Client, cfg Config) error {
	// Workflows
	wfs := workflows{}
	w.RegisterWorkflow(wfs.SyncAllFeeds)
	w.RegisterWorkflow(wfs.SyncFeed)
	w.RegisterWorkflow(wfs.ResolvePlaylist)
	w.RegisterWorkflow(wfs.ResolveAllPlaylists)

	// Activities
	w.RegisterActivity(&a)

	// Schedules:
	// Sync every feed, rebuilding the playlists that changed
	if err := ensureSchedule(ctx, cli, syncAllScheduleID, cfg.SyncInterval, wfs.SyncAllFeeds, true); err != nil {
		return err
	}
	// Re-resolve playlists so expired not_found items get another try
	if err := ensureSchedule(ctx, cli, resolveAllScheduleID, cfg.ResolveInterval, wfs.ResolveAllPlaylists, false); err != nil {
		return err
	}

	return nil
}

// Creates the schedule if it doesn't exist, otherwise brings its interval up
// to date.
func ensureSchedule(ctx context.Context, cli client.Client, id string, every time.Duration, wf any, immediately bool) error {
	spec := client.ScheduleSpec{
		Intervals: []client.ScheduleIntervalSpec{{Every: every}},
	}

	handle := cli.ScheduleClient().GetHandle(ctx, id)
	if _, err := handle.Describe(ctx); err != nil {
		_, err = cli.ScheduleClient().Create(ctx, client.ScheduleOptions{
			ID:   id,
			Spec: spec,
			Action: &client.ScheduleWorkflowAction{
				ID:        id,
				Workflow:  wf,
				TaskQueue: TaskQueue,
			},
			TriggerImmediately: immediately,
		})
		if err != nil {
			return fmt.Errorf("error creating schedule %s: %w", id, err)
		}
		return nil
	}

	err := handle.Update(ctx, client.ScheduleUpdateOptions{
		DoUpdate: func(input client.ScheduleUpdateInput) (*client.ScheduleUpdate, error) {
			sched := input.Description.Schedule
			sched.Spec = &spec
			return &client.ScheduleUpdate{
				Schedule: &sched,
			}, nil
		},
	})
	if err != nil {
		return fmt.Errorf("error updating schedule %s: %w", id, err)
	}

	return nil
}

// Error types
//
// These are error types in the temporal sense, not the general "go" error types sense.
// They are used since between activities error types are marshaled and type information is lost.
const (
	errTypeFeed     = "feed"
	errTypePlaylist = "playlist"
)
