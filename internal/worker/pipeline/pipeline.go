package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/pitchlane/guidance-video-service/internal/config"
	"github.com/pitchlane/guidance-video-service/internal/worker/transcoder"
)

// processedExtension is the container extension of finished clips
const processedExtension = ".webm"

// Result describes a finished artifact. Duration and size are derived from
// probing the output, never estimated up front.
type Result struct {
	ProcessedPath   string
	DurationSeconds float64
	FileSizeBytes   int64
}

// Pipeline turns a raw screen recording into a small transparent-background
// clip. It supports two variants: a single-pass filter graph (default) and a
// multi-stage extract/key/reassemble flow with a per-job workspace.
type Pipeline struct {
	cfg          *config.PipelineConfig
	trans        transcoder.Transcoder
	workspaces   *WorkspaceManager
	processedDir string
	logger       *slog.Logger
}

// New creates a pipeline writing finished clips to processedDir
func New(cfg *config.PipelineConfig, trans transcoder.Transcoder, workspaces *WorkspaceManager, processedDir string, logger *slog.Logger) *Pipeline {
	return &Pipeline{
		cfg:          cfg,
		trans:        trans,
		workspaces:   workspaces,
		processedDir: processedDir,
		logger:       logger,
	}
}

// OutputPath returns the deterministic artifact location for a challenge.
// Two jobs for the same challenge race to this path; the last writer wins.
func (p *Pipeline) OutputPath(challengeID string) string {
	return filepath.Join(p.processedDir, challengeID+processedExtension)
}

// Process runs the configured variant to completion and returns the artifact
// metadata, or an error for the caller to record on the job. There is no
// partial success: on error no playable artifact remains at the output path.
func (p *Pipeline) Process(ctx context.Context, jobID, rawPath, challengeID string) (*Result, error) {
	if err := os.MkdirAll(p.processedDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create processed dir: %w", err)
	}

	outputPath := p.OutputPath(challengeID)

	var (
		result *Result
		err    error
	)

	switch p.cfg.Mode {
	case config.ModeMultiStage:
		result, err = p.processMultiStage(ctx, jobID, rawPath, outputPath)
	default:
		result, err = p.processSinglePass(ctx, rawPath, outputPath)
	}

	if err != nil {
		p.logger.Error("Pipeline failed",
			slog.String("job_id", jobID),
			slog.String("mode", p.cfg.Mode),
			slog.Any("error", err),
		)
		return nil, err
	}

	p.logger.Info("Pipeline completed",
		slog.String("job_id", jobID),
		slog.String("mode", p.cfg.Mode),
		slog.String("processed_path", result.ProcessedPath),
		slog.Float64("duration_seconds", result.DurationSeconds),
		slog.Int64("file_size_bytes", result.FileSizeBytes),
	)

	return result, nil
}

// processSinglePass runs one filter graph with the raw input serving as both
// video and audio source. The raw file is deleted only on success; a failed
// job deliberately leaves it in place for manual inspection.
func (p *Pipeline) processSinglePass(ctx context.Context, rawPath, outputPath string) (*Result, error) {
	if err := p.trans.SinglePass(ctx, rawPath, outputPath); err != nil {
		return nil, err
	}

	result, err := p.finalize(ctx, outputPath)
	if err != nil {
		return nil, err
	}

	p.removeFile(rawPath, "raw input")

	return result, nil
}

// processMultiStage extracts frames, keys each one, reassembles the clean
// sequence with the original audio and probes the result. The workspace and
// the raw input are removed on every exit path.
func (p *Pipeline) processMultiStage(ctx context.Context, jobID, rawPath, outputPath string) (*Result, error) {
	ws, err := p.workspaces.Create(jobID)
	if err != nil {
		return nil, err
	}
	defer ws.Remove()
	defer p.removeFile(rawPath, "raw input")

	if err := p.trans.ExtractFrames(ctx, rawPath, ws.FramesDir, p.cfg.OutputFPS, p.cfg.OutputWidth, p.cfg.OutputHeight); err != nil {
		return nil, err
	}

	if err := p.keyFrames(ctx, ws); err != nil {
		return nil, err
	}

	if err := p.trans.Reassemble(ctx, ws.CleanDir, p.cfg.OutputFPS, rawPath, outputPath); err != nil {
		return nil, err
	}

	return p.finalize(ctx, outputPath)
}

// keyFrames applies the chroma-key filter to every extracted frame. Frames
// are independent, so the fan-out is bounded only by KeyConcurrency; output
// ordering is preserved by keeping each frame's filename.
func (p *Pipeline) keyFrames(ctx context.Context, ws *Workspace) error {
	frames, err := listFrames(ws.FramesDir)
	if err != nil {
		return err
	}
	if len(frames) == 0 {
		return fmt.Errorf("no frames extracted from input")
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.KeyConcurrency)

	for _, name := range frames {
		name := name
		g.Go(func() error {
			return p.trans.KeyFrame(ctx,
				filepath.Join(ws.FramesDir, name),
				filepath.Join(ws.CleanDir, name),
				p.cfg.ColorKey.Color,
				p.cfg.ColorKey.Similarity,
				p.cfg.ColorKey.Blend,
			)
		})
	}

	return g.Wait()
}

// finalize probes the artifact and stats its size. A probe or stat failure
// discards the just-written output so no broken artifact is left behind.
func (p *Pipeline) finalize(ctx context.Context, outputPath string) (*Result, error) {
	duration, err := p.trans.Probe(ctx, outputPath)
	if err != nil {
		p.removeFile(outputPath, "unplayable output")
		return nil, err
	}

	info, err := os.Stat(outputPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat output: %w", err)
	}
	if info.Size() == 0 {
		p.removeFile(outputPath, "empty output")
		return nil, fmt.Errorf("output file is empty")
	}

	return &Result{
		ProcessedPath:   outputPath,
		DurationSeconds: duration,
		FileSizeBytes:   info.Size(),
	}, nil
}

// removeFile is best-effort: failures are logged and swallowed
func (p *Pipeline) removeFile(path, what string) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		p.logger.Warn("Failed to remove "+what,
			slog.String("path", path),
			slog.Any("error", err),
		)
	}
}

// listFrames returns extracted frame filenames in sequence order
func listFrames(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list frames: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)

	return names, nil
}
