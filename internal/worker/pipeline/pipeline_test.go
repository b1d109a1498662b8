package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pitchlane/guidance-video-service/internal/config"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeTranscoder simulates the external tools on the real filesystem:
// extraction writes numbered frames, keying copies them, encoding writes
// the output file. Each stage can be forced to fail.
type fakeTranscoder struct {
	mu sync.Mutex

	frameCount int
	output     []byte

	extractErr    error
	keyErr        error
	reassembleErr error
	singlePassErr error
	probeErr      error

	probeDuration float64

	keyedFrames     []string
	audioSource     string
	singlePassInput string
}

func newFakeTranscoder() *fakeTranscoder {
	return &fakeTranscoder{
		frameCount:    3,
		output:        []byte("webm bytes"),
		probeDuration: 9.5,
	}
}

func (f *fakeTranscoder) ExtractFrames(ctx context.Context, input, outDir string, fps, width, height int) error {
	if f.extractErr != nil {
		return f.extractErr
	}
	for i := 1; i <= f.frameCount; i++ {
		name := fmt.Sprintf("frame_%05d.png", i)
		if err := os.WriteFile(filepath.Join(outDir, name), []byte("png"), 0o644); err != nil {
			return err
		}
	}
	return nil
}

func (f *fakeTranscoder) KeyFrame(ctx context.Context, inputFrame, outputFrame, colorHex string, similarity, blend float64) error {
	if f.keyErr != nil {
		return f.keyErr
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := os.ReadFile(inputFrame)
	if err != nil {
		return err
	}
	if err := os.WriteFile(outputFrame, data, 0o644); err != nil {
		return err
	}

	f.mu.Lock()
	f.keyedFrames = append(f.keyedFrames, filepath.Base(outputFrame))
	f.mu.Unlock()
	return nil
}

func (f *fakeTranscoder) Reassemble(ctx context.Context, frameDir string, fps int, audioSource, outputPath string) error {
	if f.reassembleErr != nil {
		return f.reassembleErr
	}
	f.mu.Lock()
	f.audioSource = audioSource
	f.mu.Unlock()
	return os.WriteFile(outputPath, f.output, 0o644)
}

func (f *fakeTranscoder) SinglePass(ctx context.Context, input, outputPath string) error {
	if f.singlePassErr != nil {
		return f.singlePassErr
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	f.singlePassInput = input
	f.mu.Unlock()
	return os.WriteFile(outputPath, f.output, 0o644)
}

func (f *fakeTranscoder) Probe(ctx context.Context, path string) (float64, error) {
	if f.probeErr != nil {
		return 0, f.probeErr
	}
	return f.probeDuration, nil
}

type pipelineFixture struct {
	pipeline *Pipeline
	trans    *fakeTranscoder
	rawPath  string
	baseDir  string
}

func newFixture(t *testing.T, mode string) *pipelineFixture {
	t.Helper()

	baseDir := t.TempDir()

	rawDir := filepath.Join(baseDir, "raw")
	require.NoError(t, os.MkdirAll(rawDir, 0o755))

	rawPath := filepath.Join(rawDir, "job.mp4")
	require.NoError(t, os.WriteFile(rawPath, []byte("mp4 bytes"), 0o644))

	cfg := &config.PipelineConfig{
		Mode:           mode,
		OutputWidth:    200,
		OutputHeight:   130,
		OutputFPS:      12,
		VideoQuality:   30,
		AudioBitrate:   "96k",
		ColorKey:       config.ColorKeyConfig{Color: "0x00FF00", Similarity: 0.3, Blend: 0.1},
		KeyConcurrency: 2,
	}

	trans := newFakeTranscoder()
	workspaces := NewWorkspaceManager(filepath.Join(baseDir, "frames"), discardLogger())

	return &pipelineFixture{
		pipeline: New(cfg, trans, workspaces, filepath.Join(baseDir, "processed"), discardLogger()),
		trans:    trans,
		rawPath:  rawPath,
		baseDir:  baseDir,
	}
}

func (fx *pipelineFixture) workspaceDir(jobID string) string {
	return filepath.Join(fx.baseDir, "frames", "job_"+jobID)
}

func TestOutputPath(t *testing.T) {
	fx := newFixture(t, config.ModeSinglePass)

	path := fx.pipeline.OutputPath("challenge-7")
	assert.Equal(t, filepath.Join(fx.baseDir, "processed", "challenge-7.webm"), path)

	// distinct challenges never share an artifact
	assert.NotEqual(t, path, fx.pipeline.OutputPath("challenge-8"))
}

func TestProcess_SinglePassSuccess(t *testing.T) {
	fx := newFixture(t, config.ModeSinglePass)

	result, err := fx.pipeline.Process(context.Background(), "job-1", fx.rawPath, "challenge-1")
	require.NoError(t, err)

	assert.Equal(t, fx.pipeline.OutputPath("challenge-1"), result.ProcessedPath)
	assert.InDelta(t, 9.5, result.DurationSeconds, 1e-9)
	assert.Equal(t, int64(len("webm bytes")), result.FileSizeBytes)
	assert.Equal(t, fx.rawPath, fx.trans.singlePassInput)

	assert.FileExists(t, result.ProcessedPath)

	// raw input is deleted once the artifact is confirmed playable
	assert.NoFileExists(t, fx.rawPath)
}

func TestProcess_SinglePassEncodeFailureKeepsRaw(t *testing.T) {
	fx := newFixture(t, config.ModeSinglePass)
	fx.trans.singlePassErr = errors.New("single-pass encode failed: Conversion failed!")

	result, err := fx.pipeline.Process(context.Background(), "job-1", fx.rawPath, "challenge-1")
	require.Error(t, err)
	assert.Nil(t, result)

	// the raw recording stays for inspection, no artifact is published
	assert.FileExists(t, fx.rawPath)
	assert.NoFileExists(t, fx.pipeline.OutputPath("challenge-1"))
}

func TestProcess_SinglePassProbeFailureDiscardsOutput(t *testing.T) {
	fx := newFixture(t, config.ModeSinglePass)
	fx.trans.probeErr = errors.New("probe failed: moov atom not found")

	_, err := fx.pipeline.Process(context.Background(), "job-1", fx.rawPath, "challenge-1")
	require.Error(t, err)

	// the unplayable output is removed, the raw input survives
	assert.NoFileExists(t, fx.pipeline.OutputPath("challenge-1"))
	assert.FileExists(t, fx.rawPath)
}

func TestProcess_EmptyOutputIsFailure(t *testing.T) {
	fx := newFixture(t, config.ModeSinglePass)
	fx.trans.output = nil

	_, err := fx.pipeline.Process(context.Background(), "job-1", fx.rawPath, "challenge-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "empty")

	assert.NoFileExists(t, fx.pipeline.OutputPath("challenge-1"))
}

func TestProcess_CanceledContext(t *testing.T) {
	fx := newFixture(t, config.ModeSinglePass)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := fx.pipeline.Process(ctx, "job-1", fx.rawPath, "challenge-1")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestProcess_MultiStageSuccess(t *testing.T) {
	fx := newFixture(t, config.ModeMultiStage)

	result, err := fx.pipeline.Process(context.Background(), "job-1", fx.rawPath, "challenge-1")
	require.NoError(t, err)

	assert.FileExists(t, result.ProcessedPath)
	assert.InDelta(t, 9.5, result.DurationSeconds, 1e-9)

	// every extracted frame was keyed under its original name
	assert.ElementsMatch(t, []string{
		"frame_00001.png", "frame_00002.png", "frame_00003.png",
	}, fx.trans.keyedFrames)

	// the audio track comes from the original recording
	assert.Equal(t, fx.rawPath, fx.trans.audioSource)

	// raw input and workspace are both gone
	assert.NoFileExists(t, fx.rawPath)
	assert.NoDirExists(t, fx.workspaceDir("job-1"))
}

func TestProcess_MultiStageFailureCleansUp(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*fakeTranscoder)
	}{
		{
			name:   "extract fails",
			mutate: func(f *fakeTranscoder) { f.extractErr = errors.New("extract frames failed") },
		},
		{
			name:   "keying fails",
			mutate: func(f *fakeTranscoder) { f.keyErr = errors.New("key frame failed") },
		},
		{
			name:   "reassemble fails",
			mutate: func(f *fakeTranscoder) { f.reassembleErr = errors.New("reassemble failed") },
		},
		{
			name:   "no frames extracted",
			mutate: func(f *fakeTranscoder) { f.frameCount = 0 },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fx := newFixture(t, config.ModeMultiStage)
			tt.mutate(fx.trans)

			_, err := fx.pipeline.Process(context.Background(), "job-1", fx.rawPath, "challenge-1")
			require.Error(t, err)

			// multi-stage removes the raw input and workspace on every exit path
			assert.NoFileExists(t, fx.rawPath)
			assert.NoDirExists(t, fx.workspaceDir("job-1"))
			assert.NoFileExists(t, fx.pipeline.OutputPath("challenge-1"))
		})
	}
}

func TestProcess_ConcurrentChallengesProduceDistinctArtifacts(t *testing.T) {
	fx := newFixture(t, config.ModeSinglePass)

	rawDir := filepath.Join(fx.baseDir, "raw")
	var wg sync.WaitGroup
	errs := make([]error, 4)

	for i := 0; i < 4; i++ {
		raw := filepath.Join(rawDir, fmt.Sprintf("job-%d.mp4", i))
		require.NoError(t, os.WriteFile(raw, []byte("mp4 bytes"), 0o644))

		wg.Add(1)
		go func(i int, raw string) {
			defer wg.Done()
			_, errs[i] = fx.pipeline.Process(context.Background(),
				fmt.Sprintf("job-%d", i), raw, fmt.Sprintf("challenge-%d", i))
		}(i, raw)
	}
	wg.Wait()

	for i := 0; i < 4; i++ {
		require.NoError(t, errs[i])
		assert.FileExists(t, fx.pipeline.OutputPath(fmt.Sprintf("challenge-%d", i)))
	}
}

func TestWorkspaceManager_CreateAndRemove(t *testing.T) {
	root := t.TempDir()
	m := NewWorkspaceManager(root, discardLogger())

	ws, err := m.Create("abc")
	require.NoError(t, err)

	assert.DirExists(t, ws.FramesDir)
	assert.DirExists(t, ws.CleanDir)
	assert.Equal(t, filepath.Join(root, "job_abc"), ws.Dir)

	ws.Remove()
	assert.NoDirExists(t, ws.Dir)
}

func TestWorkspaceManager_DistinctJobsDistinctWorkspaces(t *testing.T) {
	m := NewWorkspaceManager(t.TempDir(), discardLogger())

	a, err := m.Create("job-a")
	require.NoError(t, err)
	b, err := m.Create("job-b")
	require.NoError(t, err)

	assert.NotEqual(t, a.Dir, b.Dir)
}

func TestWorkspaceManager_Reap(t *testing.T) {
	root := t.TempDir()
	m := NewWorkspaceManager(root, discardLogger())

	stale, err := m.Create("stale")
	require.NoError(t, err)
	fresh, err := m.Create("fresh")
	require.NoError(t, err)

	// unrelated entries are never touched
	other := filepath.Join(root, "keep.txt")
	require.NoError(t, os.WriteFile(other, []byte("x"), 0o644))

	// age the stale workspace past the cutoff
	old := time.Now().Add(-2 * time.Hour)
	require.NoError(t, os.Chtimes(stale.Dir, old, old))

	removed, err := m.Reap(time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	assert.NoDirExists(t, stale.Dir)
	assert.DirExists(t, fresh.Dir)
	assert.FileExists(t, other)
}

func TestWorkspaceManager_ReapMissingRoot(t *testing.T) {
	m := NewWorkspaceManager(filepath.Join(t.TempDir(), "never-created"), discardLogger())

	removed, err := m.Reap(time.Hour)
	require.NoError(t, err)
	assert.Zero(t, removed)
}
