package audioproc

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mockFFmpeg(t *testing.T, mode string) {
	original := execCommandContext
	execCommandContext = func(ctx context.Context, name string, arg ...string) *exec.Cmd {
		cs := []string{"-test.run=TestHelperProcess", "--", name}
		cs = append(cs, arg...)
		cmd := exec.Command(os.Args[0], cs...)
		cmd.Env = []string{"GO_WANT_HELPER_PROCESS=1", "FFMPEG_MODE=" + mode}
		return cmd
	}
	t.Cleanup(func() { execCommandContext = original })
}

func TestProcessReturnsTranscodedAudio(t *testing.T) {
	mockFFmpeg(t, "ok")

	p := NewProcessor()
	out, err := p.Process(context.Background(), []byte("raw audio bytes"))
	require.NoError(t, err)
	assert.GreaterOrEqual(t, len(out), minOutputBytes)
}

func TestProcessIsDeterministic(t *testing.T) {
	mockFFmpeg(t, "ok")

	p := NewProcessor()
	first, err := p.Process(context.Background(), []byte("raw audio bytes"))
	require.NoError(t, err)
	second, err := p.Process(context.Background(), []byte("raw audio bytes"))
	require.NoError(t, err)
	assert.True(t, bytes.Equal(first, second))
}

func TestProcessRejectsUndersizedOutput(t *testing.T) {
	mockFFmpeg(t, "small")

	p := NewProcessor()
	_, err := p.Process(context.Background(), []byte("raw audio bytes"))
	assert.ErrorIs(t, err, ErrTranscode)
	assert.Contains(t, err.Error(), "corrupt")
}

func TestProcessRejectsFFmpegFailure(t *testing.T) {
	mockFFmpeg(t, "fail")

	p := NewProcessor()
	_, err := p.Process(context.Background(), []byte("raw audio bytes"))
	assert.ErrorIs(t, err, ErrTranscode)
}

func TestProcessRejectsEmptyInput(t *testing.T) {
	p := NewProcessor()
	_, err := p.Process(context.Background(), nil)
	assert.ErrorIs(t, err, ErrTranscode)
}

func TestEstimateDurationSeconds(t *testing.T) {
	// 128kbps CBR: one second is 16000 bytes.
	assert.Equal(t, 10, EstimateDurationSeconds(make([]byte, 160000)))
	assert.Equal(t, 0, EstimateDurationSeconds(make([]byte, 100)))
}

// TestHelperProcess isn't a real test. It's used as a helper for tests that
// need to mock exec.CommandContext.
func TestHelperProcess(t *testing.T) {
	if os.Getenv("GO_WANT_HELPER_PROCESS") != "1" {
		return
	}
	switch os.Getenv("FFMPEG_MODE") {
	case "ok":
		os.Stdout.Write(bytes.Repeat([]byte("mp3"), 2048))
		os.Exit(0)
	case "small":
		os.Stdout.Write([]byte("tiny"))
		os.Exit(0)
	default:
		fmt.Fprintln(os.Stderr, "boom")
		os.Exit(1)
	}
}
