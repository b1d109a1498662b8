package transcoder

import "context"

// Transcoder is the narrow surface the pipeline needs from the external media
// tool. Every operation is a pure function of its inputs, bounded by the
// caller's context plus an internal per-operation timeout, which keeps the
// pipeline testable with a fake implementation.
type Transcoder interface {
	// ExtractFrames decodes the input into a numbered PNG sequence
	// (frame_%05d.png) in outDir at the given frame rate and dimensions.
	ExtractFrames(ctx context.Context, input, outDir string, fps, width, height int) error

	// KeyFrame applies the chroma-key filter to a single frame, writing the
	// transparent result to outputFrame. similarity and blend are tolerances
	// in [0,1].
	KeyFrame(ctx context.Context, inputFrame, outputFrame, colorHex string, similarity, blend float64) error

	// Reassemble muxes the keyed frame sequence in frameDir with the audio
	// track of audioSource into a single alpha-capable container.
	Reassemble(ctx context.Context, frameDir string, fps int, audioSource, outputPath string) error

	// SinglePass runs the whole scale + chroma-key + encode chain as one
	// filter graph, with input serving as both video and audio source.
	SinglePass(ctx context.Context, input, outputPath string) error

	// Probe returns the container duration of path in seconds.
	Probe(ctx context.Context, path string) (float64, error)
}
