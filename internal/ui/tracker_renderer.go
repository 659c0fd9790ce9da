package ui

import (
	"context"

	"github.com/codesearch-engine/codesearch/internal/async"
)

// stageMap translates a runner Stage into the background tracker's
// coarser IndexingStage vocabulary (the tracker has no "contextual" phase
// distinct from chunking, since it is consumer-facing, not diagnostic).
var stageMap = map[Stage]async.IndexingStage{
	StageScanning:   async.StageScanning,
	StageChunking:   async.StageChunking,
	StageContextual: async.StageChunking,
	StageEmbedding:  async.StageEmbedding,
	StageIndexing:   async.StageIndexing,
}

// TrackerRenderer adapts Runner progress events onto a shared IndexProgress,
// so MCP's index_status tool observes live indexing progress without any
// terminal-output side effect.
type TrackerRenderer struct {
	tracker *async.IndexProgress
}

// NewTrackerRenderer creates a Renderer backed by an existing tracker.
func NewTrackerRenderer(tracker *async.IndexProgress) *TrackerRenderer {
	return &TrackerRenderer{tracker: tracker}
}

// Start implements Renderer.
func (r *TrackerRenderer) Start(ctx context.Context) error {
	return nil
}

// UpdateProgress implements Renderer.
func (r *TrackerRenderer) UpdateProgress(event ProgressEvent) {
	if stage, ok := stageMap[event.Stage]; ok {
		r.tracker.SetStage(stage, event.Total)
	}
	if event.Stage == StageEmbedding || event.Stage == StageIndexing {
		r.tracker.UpdateChunks(event.Current)
	} else {
		r.tracker.UpdateFiles(event.Current)
	}
}

// AddError implements Renderer. Individual file errors are non-fatal to the
// overall run and are not surfaced on the tracker, which only reports a
// terminal failure via Complete/SetError.
func (r *TrackerRenderer) AddError(event ErrorEvent) {}

// Complete implements Renderer.
func (r *TrackerRenderer) Complete(stats CompletionStats) {
	r.tracker.SetReady()
}

// Stop implements Renderer.
func (r *TrackerRenderer) Stop() error {
	return nil
}

// Verify interface implementation.
var _ Renderer = (*TrackerRenderer)(nil)
