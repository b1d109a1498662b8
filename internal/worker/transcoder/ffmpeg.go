package transcoder

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/pitchlane/guidance-video-service/internal/config"
)

// framePattern is the printf-style name shared by extraction and reassembly
// so the frame order survives the round trip through the filesystem.
const framePattern = "frame_%05d.png"

// waitDelay bounds how long a canceled invocation may keep its output pipes
// open before Run stops waiting on them.
const waitDelay = 3 * time.Second

// newCommand builds a command whose cancellation kills the whole process
// group. The configured binary may be a wrapper that forks the real encoder;
// killing only the direct child would leave an orphan holding the stderr
// pipe open past the stage timeout.
func newCommand(ctx context.Context, bin string, args ...string) *exec.Cmd {
	cmd := exec.CommandContext(ctx, bin, args...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
	cmd.WaitDelay = waitDelay
	return cmd
}

// FFmpeg implements Transcoder by invoking the ffmpeg and ffprobe binaries.
type FFmpeg struct {
	cfg    *config.PipelineConfig
	logger *slog.Logger
}

// NewFFmpeg creates an FFmpeg transcoder from pipeline configuration
func NewFFmpeg(cfg *config.PipelineConfig, logger *slog.Logger) *FFmpeg {
	return &FFmpeg{cfg: cfg, logger: logger}
}

// ExtractFrames writes a numbered PNG sequence scaled to width x height
func (f *FFmpeg) ExtractFrames(ctx context.Context, input, outDir string, fps, width, height int) error {
	if fps <= 0 || width <= 0 || height <= 0 {
		return fmt.Errorf("extract frames: fps, width and height must be positive (fps=%d width=%d height=%d)", fps, width, height)
	}

	args := buildExtractArgs(input, outDir, fps, width, height)
	return f.run(ctx, f.cfg.Timeouts.Extract, "extract frames", f.cfg.FFmpegPath, args)
}

// KeyFrame turns pixels near colorHex transparent in a single frame
func (f *FFmpeg) KeyFrame(ctx context.Context, inputFrame, outputFrame, colorHex string, similarity, blend float64) error {
	if similarity < 0 || similarity > 1 || blend < 0 || blend > 1 {
		return fmt.Errorf("key frame: similarity and blend must be in [0,1] (similarity=%v blend=%v)", similarity, blend)
	}

	args := buildKeyFrameArgs(inputFrame, outputFrame, colorHex, similarity, blend)
	return f.run(ctx, f.cfg.Timeouts.KeyFrame, "key frame", f.cfg.FFmpegPath, args)
}

// Reassemble muxes the keyed frames with the audio track of audioSource into
// an alpha-channel WebM. The frame sequence itself is silent, so the audio
// must come from the original recording.
func (f *FFmpeg) Reassemble(ctx context.Context, frameDir string, fps int, audioSource, outputPath string) error {
	if fps <= 0 {
		return fmt.Errorf("reassemble: fps must be positive (fps=%d)", fps)
	}

	args := f.buildReassembleArgs(frameDir, fps, audioSource, outputPath)
	return f.run(ctx, f.cfg.Timeouts.Reassemble, "reassemble", f.cfg.FFmpegPath, args)
}

// SinglePass chains scale, chroma-key and encode in one invocation
func (f *FFmpeg) SinglePass(ctx context.Context, input, outputPath string) error {
	args := f.buildSinglePassArgs(input, outputPath)
	return f.run(ctx, f.cfg.Timeouts.Reassemble, "single-pass encode", f.cfg.FFmpegPath, args)
}

// Probe returns the container duration in seconds
func (f *FFmpeg) Probe(ctx context.Context, path string) (float64, error) {
	ctx, cancel := context.WithTimeout(ctx, f.cfg.Timeouts.Probe)
	defer cancel()

	cmd := newCommand(ctx, f.cfg.FFprobePath,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	out, err := cmd.Output()
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return 0, fmt.Errorf("probe timed out after %s", f.cfg.Timeouts.Probe)
		}
		return 0, fmt.Errorf("probe failed: %s", summarizeStderr(stderr.String(), err))
	}

	return parseProbeDuration(string(out))
}

// run executes a single external invocation under op's timeout, mapping
// failures to an error carrying a stderr summary
func (f *FFmpeg) run(ctx context.Context, timeout time.Duration, op, bin string, args []string) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := newCommand(ctx, bin, args...)

	stderr := newTailWriter(8 * 1024)
	cmd.Stderr = stderr

	f.logger.Debug("Running external transcoder",
		slog.String("op", op),
		slog.String("command", bin+" "+strings.Join(args, " ")),
	)

	start := time.Now()
	err := cmd.Run()
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("%s timed out after %s", op, timeout)
		}
		return fmt.Errorf("%s failed: %s", op, summarizeStderr(stderr.String(), err))
	}

	f.logger.Debug("External transcoder finished",
		slog.String("op", op),
		slog.Duration("elapsed", time.Since(start)),
	)

	return nil
}

func buildExtractArgs(input, outDir string, fps, width, height int) []string {
	return []string{
		"-i", input,
		"-vf", fmt.Sprintf("scale=%d:%d", width, height),
		"-r", strconv.Itoa(fps),
		"-y",
		filepath.Join(outDir, framePattern),
	}
}

func buildKeyFrameArgs(inputFrame, outputFrame, colorHex string, similarity, blend float64) []string {
	return []string{
		"-i", inputFrame,
		"-vf", fmt.Sprintf("colorkey=%s:%s:%s", colorHex, formatTolerance(similarity), formatTolerance(blend)),
		"-y",
		outputFrame,
	}
}

func (f *FFmpeg) buildReassembleArgs(frameDir string, fps int, audioSource, outputPath string) []string {
	args := []string{
		"-framerate", strconv.Itoa(fps),
		"-i", filepath.Join(frameDir, framePattern),
		"-i", audioSource,
		"-map", "0:v",
		"-map", "1:a?",
	}
	args = append(args, f.encodeArgs()...)
	args = append(args, "-shortest", "-y", outputPath)
	return args
}

func (f *FFmpeg) buildSinglePassArgs(input, outputPath string) []string {
	filter := fmt.Sprintf("scale=%d:%d,colorkey=%s:%s:%s",
		f.cfg.OutputWidth, f.cfg.OutputHeight,
		f.cfg.ColorKey.Color,
		formatTolerance(f.cfg.ColorKey.Similarity),
		formatTolerance(f.cfg.ColorKey.Blend),
	)

	args := []string{
		"-i", input,
		"-vf", filter,
		"-r", strconv.Itoa(f.cfg.OutputFPS),
	}
	args = append(args, f.encodeArgs()...)
	args = append(args, "-y", outputPath)
	return args
}

// encodeArgs is the shared alpha-capable encoding target: VP9 with an alpha
// pixel format at constant quality, Opus audio at a fixed bitrate.
func (f *FFmpeg) encodeArgs() []string {
	return []string{
		"-c:v", "libvpx-vp9",
		"-pix_fmt", "yuva420p",
		"-crf", strconv.Itoa(f.cfg.VideoQuality),
		"-b:v", "0",
		"-auto-alt-ref", "0",
		"-c:a", "libopus",
		"-b:a", f.cfg.AudioBitrate,
	}
}

// parseProbeDuration parses ffprobe's single-value duration output
func parseProbeDuration(out string) (float64, error) {
	val, err := strconv.ParseFloat(strings.TrimSpace(out), 64)
	if err != nil {
		return 0, fmt.Errorf("probe returned unparsable duration %q: %w", strings.TrimSpace(out), err)
	}
	if val <= 0 {
		return 0, fmt.Errorf("probe returned non-positive duration %v", val)
	}
	return val, nil
}

// formatTolerance renders a [0,1] tolerance without scientific notation
func formatTolerance(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// summarizeStderr prefers the tool's stderr tail over the bare exec error
func summarizeStderr(stderr string, err error) string {
	lines := strings.Split(strings.TrimSpace(stderr), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(lines[i])
		if line != "" {
			return line
		}
	}
	return err.Error()
}

// tailWriter keeps only the trailing max bytes written to it, so a chatty
// encoder cannot grow the error summary without bound
type tailWriter struct {
	max int
	buf []byte
}

func newTailWriter(max int) *tailWriter {
	return &tailWriter{max: max}
}

func (w *tailWriter) Write(p []byte) (int, error) {
	w.buf = append(w.buf, p...)
	if len(w.buf) > w.max {
		w.buf = w.buf[len(w.buf)-w.max:]
	}
	return len(p), nil
}

func (w *tailWriter) String() string {
	return string(w.buf)
}
