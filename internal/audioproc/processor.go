package audioproc

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
)

// ErrTranscode marks post-processing failures, including corrupt output.
var ErrTranscode = errors.New("audio post-processing failed")

// Outputs smaller than this are treated as corrupt rather than valid audio.
const minOutputBytes = 1024

var execCommandContext = exec.CommandContext

// Processor loudness-normalizes raw synthesized audio and transcodes it to
// mono 44.1kHz MP3 at a fixed bitrate. Single-pass loudnorm keeps the
// operation deterministic for identical input bytes.
type Processor struct {
	ffmpegPath string
}

func NewProcessor() *Processor {
	return &Processor{ffmpegPath: "ffmpeg"}
}

func (p *Processor) Process(ctx context.Context, raw []byte) ([]byte, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: empty input", ErrTranscode)
	}

	cmd := execCommandContext(ctx, p.ffmpegPath,
		"-hide_banner", "-loglevel", "error",
		"-i", "pipe:0",
		"-af", "loudnorm=I=-16:TP=-1.5:LRA=11",
		"-ac", "1",
		"-ar", "44100",
		"-b:a", "128k",
		"-f", "mp3",
		"pipe:1",
	)

	var out, errBuf bytes.Buffer
	cmd.Stdin = bytes.NewReader(raw)
	cmd.Stdout = &out
	cmd.Stderr = &errBuf

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("%w: ffmpeg: %v: %s", ErrTranscode, err, errBuf.String())
	}

	if out.Len() < minOutputBytes {
		return nil, fmt.Errorf("%w: output is %d bytes, likely corrupt", ErrTranscode, out.Len())
	}
	return out.Bytes(), nil
}

// EstimateDurationSeconds derives playback length from the fixed 128kbps
// CBR encoding the processor emits.
func EstimateDurationSeconds(audio []byte) int {
	return len(audio) * 8 / 128000
}
