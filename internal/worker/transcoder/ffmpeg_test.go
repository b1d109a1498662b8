package transcoder

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pitchlane/guidance-video-service/internal/config"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testPipelineConfig() *config.PipelineConfig {
	return &config.PipelineConfig{
		Mode:         config.ModeSinglePass,
		FFmpegPath:   "ffmpeg",
		FFprobePath:  "ffprobe",
		OutputWidth:  200,
		OutputHeight: 130,
		OutputFPS:    12,
		VideoQuality: 30,
		AudioBitrate: "96k",
		ColorKey: config.ColorKeyConfig{
			Color:      "0x00FF00",
			Similarity: 0.3,
			Blend:      0.1,
		},
		Timeouts: config.TimeoutsConfig{
			Extract:    2 * time.Minute,
			KeyFrame:   30 * time.Second,
			Reassemble: 5 * time.Minute,
			Probe:      15 * time.Second,
		},
		KeyConcurrency: 4,
	}
}

func TestBuildExtractArgs(t *testing.T) {
	args := buildExtractArgs("/data/raw/abc.mp4", "/tmp/job_1/frames", 12, 200, 130)

	assert.Equal(t, []string{
		"-i", "/data/raw/abc.mp4",
		"-vf", "scale=200:130",
		"-r", "12",
		"-y",
		"/tmp/job_1/frames/frame_%05d.png",
	}, args)
}

func TestBuildKeyFrameArgs(t *testing.T) {
	args := buildKeyFrameArgs("in.png", "out.png", "0x00FF00", 0.3, 0.1)

	assert.Equal(t, []string{
		"-i", "in.png",
		"-vf", "colorkey=0x00FF00:0.3:0.1",
		"-y",
		"out.png",
	}, args)
}

func TestBuildReassembleArgs(t *testing.T) {
	f := NewFFmpeg(testPipelineConfig(), discardLogger())

	args := f.buildReassembleArgs("/tmp/job_1/clean", 12, "/data/raw/abc.mp4", "/data/processed/ch-1.webm")

	joined := strings.Join(args, " ")
	assert.True(t, strings.HasPrefix(joined, "-framerate 12 -i /tmp/job_1/clean/frame_%05d.png -i /data/raw/abc.mp4"))
	assert.Contains(t, joined, "-map 0:v -map 1:a?")
	assert.Contains(t, joined, "-c:v libvpx-vp9")
	assert.Contains(t, joined, "-pix_fmt yuva420p")
	assert.Contains(t, joined, "-crf 30 -b:v 0")
	assert.Contains(t, joined, "-auto-alt-ref 0")
	assert.Contains(t, joined, "-c:a libopus -b:a 96k")
	assert.True(t, strings.HasSuffix(joined, "-shortest -y /data/processed/ch-1.webm"))
}

func TestBuildSinglePassArgs(t *testing.T) {
	f := NewFFmpeg(testPipelineConfig(), discardLogger())

	args := f.buildSinglePassArgs("/data/raw/abc.mp4", "/data/processed/ch-1.webm")

	joined := strings.Join(args, " ")
	assert.True(t, strings.HasPrefix(joined, "-i /data/raw/abc.mp4 -vf scale=200:130,colorkey=0x00FF00:0.3:0.1 -r 12"))
	assert.Contains(t, joined, "-c:v libvpx-vp9")
	assert.Contains(t, joined, "-pix_fmt yuva420p")
	assert.True(t, strings.HasSuffix(joined, "-y /data/processed/ch-1.webm"))
}

func TestExtractFrames_RejectsInvalidGeometry(t *testing.T) {
	f := NewFFmpeg(testPipelineConfig(), discardLogger())

	err := f.ExtractFrames(context.Background(), "in.mp4", "/tmp", 0, 200, 130)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "must be positive")

	err = f.ExtractFrames(context.Background(), "in.mp4", "/tmp", 12, -1, 130)
	require.Error(t, err)
}

func TestKeyFrame_RejectsOutOfRangeTolerances(t *testing.T) {
	f := NewFFmpeg(testPipelineConfig(), discardLogger())

	err := f.KeyFrame(context.Background(), "in.png", "out.png", "0x00FF00", 1.5, 0.1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "must be in [0,1]")

	err = f.KeyFrame(context.Background(), "in.png", "out.png", "0x00FF00", 0.3, -0.2)
	require.Error(t, err)
}

// hangingScript stands in for a wrapped binary that never returns: the shell
// forks a long sleep, so killing the shell alone would leave an orphan
// holding the stderr pipe.
func hangingScript(t *testing.T) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "hang.sh")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\nsleep 30\nexit 0\n"), 0o755))
	return path
}

func TestRun_TimeoutKillsHangingInvocation(t *testing.T) {
	cfg := testPipelineConfig()
	cfg.FFmpegPath = hangingScript(t)
	cfg.Timeouts.Reassemble = 200 * time.Millisecond

	f := NewFFmpeg(cfg, discardLogger())

	start := time.Now()
	err := f.SinglePass(context.Background(), "in.mp4", "out.webm")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "timed out after 200ms")
	// the forked sleep must not hold the slot past the timeout
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestProbe_TimeoutKillsHangingInvocation(t *testing.T) {
	cfg := testPipelineConfig()
	cfg.FFprobePath = hangingScript(t)
	cfg.Timeouts.Probe = 200 * time.Millisecond

	f := NewFFmpeg(cfg, discardLogger())

	start := time.Now()
	_, err := f.Probe(context.Background(), "clip.webm")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "probe timed out after 200ms")
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestParseProbeDuration(t *testing.T) {
	tests := []struct {
		name    string
		out     string
		want    float64
		wantErr bool
	}{
		{name: "plain value", out: "12.48\n", want: 12.48},
		{name: "integer seconds", out: "7", want: 7},
		{name: "padded output", out: "  3.5  \n", want: 3.5},
		{name: "empty output", out: "", wantErr: true},
		{name: "garbage", out: "N/A", wantErr: true},
		{name: "zero duration", out: "0.0", wantErr: true},
		{name: "negative duration", out: "-2", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseProbeDuration(tt.out)

			if tt.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
				assert.InDelta(t, tt.want, got, 1e-9)
			}
		})
	}
}

func TestFormatTolerance(t *testing.T) {
	assert.Equal(t, "0.3", formatTolerance(0.3))
	assert.Equal(t, "0.05", formatTolerance(0.05))
	assert.Equal(t, "0", formatTolerance(0))
	assert.Equal(t, "1", formatTolerance(1))
}

func TestSummarizeStderr(t *testing.T) {
	tests := []struct {
		name   string
		stderr string
		want   string
	}{
		{
			name:   "last non-empty line wins",
			stderr: "frame=  10\nframe=  20\nConversion failed!\n\n",
			want:   "Conversion failed!",
		},
		{
			name:   "empty stderr falls back to exec error",
			stderr: "",
			want:   "exit status 1",
		},
		{
			name:   "whitespace only falls back",
			stderr: "  \n\t\n",
			want:   "exit status 1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := summarizeStderr(tt.stderr, errFake("exit status 1"))
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestTailWriter(t *testing.T) {
	w := newTailWriter(8)

	n, err := w.Write([]byte("abcd"))
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.Equal(t, "abcd", w.String())

	_, err = w.Write([]byte("efghijkl"))
	require.NoError(t, err)

	// only the trailing 8 bytes survive
	assert.Equal(t, "efghijkl", w.String())
}

type errFake string

func (e errFake) Error() string { return string(e) }
