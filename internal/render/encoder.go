package render

import (
	"context"
	"fmt"
	"image"
	"io"
	"os/exec"
	"strconv"
	"strings"
	"sync"
)

// Encoder consumes frames of a fixed size in order.
type Encoder interface {
	WriteFrame(img *image.RGBA) error
	// Close flushes and finalizes the output.
	Close() error
	// Abort stops the encoder without finalizing; the output is unusable.
	Abort()
}

type EncoderFactory func(ctx context.Context, path string, width, height int, fps float64) (Encoder, error)

// FFmpeg returns a factory that pipes raw RGBA frames to an ffmpeg binary and
// encodes them as H.264.
func FFmpeg(bin string) EncoderFactory {
	return func(ctx context.Context, path string, width, height int, fps float64) (Encoder, error) {
		return StartFFmpeg(ctx, bin, path, width, height, fps)
	}
}

type FFmpegEncoder struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stderr *tailBuffer
	width  int
	height int
	done   bool
}

func ffmpegArgs(path string, width, height int, fps float64) []string {
	return []string{
		"-y", "-loglevel", "error",
		"-f", "rawvideo",
		"-pix_fmt", "rgba",
		"-s", fmt.Sprintf("%dx%d", width, height),
		"-r", strconv.FormatFloat(fps, 'f', -1, 64),
		"-i", "-",
		"-vf", "pad=ceil(iw/2)*2:ceil(ih/2)*2",
		"-c:v", "libx264",
		"-pix_fmt", "yuv420p",
		path,
	}
}

func StartFFmpeg(ctx context.Context, bin, path string, width, height int, fps float64) (*FFmpegEncoder, error) {
	if bin == "" {
		bin = "ffmpeg"
	}
	cmd := exec.CommandContext(ctx, bin, ffmpegArgs(path, width, height, fps)...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: ffmpeg stdin: %v", ErrEncoding, err)
	}
	stderr := &tailBuffer{max: 4096}
	cmd.Stderr = stderr
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: start %s: %v", ErrEncoding, bin, err)
	}
	return &FFmpegEncoder{cmd: cmd, stdin: stdin, stderr: stderr, width: width, height: height}, nil
}

func (e *FFmpegEncoder) WriteFrame(img *image.RGBA) error {
	b := img.Bounds()
	if b.Dx() != e.width || b.Dy() != e.height {
		return fmt.Errorf("%w: frame is %dx%d, encoder expects %dx%d", ErrEncoding, b.Dx(), b.Dy(), e.width, e.height)
	}
	rowLen := 4 * e.width
	if img.Stride == rowLen {
		start := img.PixOffset(b.Min.X, b.Min.Y)
		if _, err := e.stdin.Write(img.Pix[start : start+rowLen*e.height]); err != nil {
			return e.failed("write frame", err)
		}
		return nil
	}
	for y := b.Min.Y; y < b.Max.Y; y++ {
		off := img.PixOffset(b.Min.X, y)
		if _, err := e.stdin.Write(img.Pix[off : off+rowLen]); err != nil {
			return e.failed("write frame", err)
		}
	}
	return nil
}

func (e *FFmpegEncoder) Close() error {
	if e.done {
		return fmt.Errorf("%w: encoder already closed", ErrEncoding)
	}
	if err := e.stdin.Close(); err != nil {
		e.Abort()
		return e.failed("close stdin", err)
	}
	e.done = true
	if err := e.cmd.Wait(); err != nil {
		return e.failed("ffmpeg", err)
	}
	return nil
}

// Abort kills ffmpeg and reaps it. Calls after Close or Abort are no-ops.
func (e *FFmpegEncoder) Abort() {
	if e.done {
		return
	}
	e.done = true
	e.stdin.Close()
	if e.cmd.Process != nil {
		e.cmd.Process.Kill()
	}
	e.cmd.Wait()
}

func (e *FFmpegEncoder) failed(op string, err error) error {
	if tail := strings.TrimSpace(e.stderr.String()); tail != "" {
		return fmt.Errorf("%w: %s: %v: %s", ErrEncoding, op, err, tail)
	}
	return fmt.Errorf("%w: %s: %v", ErrEncoding, op, err)
}

// tailBuffer keeps the last max bytes written to it.
type tailBuffer struct {
	mu  sync.Mutex
	max int
	buf []byte
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf = append(t.buf, p...)
	if over := len(t.buf) - t.max; over > 0 {
		t.buf = t.buf[over:]
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return string(t.buf)
}
