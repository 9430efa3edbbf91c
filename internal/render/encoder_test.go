package render

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

// startTestBinary runs the test binary in place of ffmpeg. It rejects the
// ffmpeg flags and exits right away.
func startTestBinary(t *testing.T) *FFmpegEncoder {
	t.Helper()
	exe, err := os.Executable()
	if err != nil {
		t.Skipf("no test executable: %v", err)
	}
	enc, err := StartFFmpeg(context.Background(), exe, filepath.Join(t.TempDir(), "v.mp4"), 4, 4, 30)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	return enc
}

func TestFFmpegEncoderAbortTwice(t *testing.T) {
	enc := startTestBinary(t)
	enc.Abort()
	enc.Abort()
	if !enc.done {
		t.Fatal("encoder not marked done")
	}
	if err := enc.Close(); !errors.Is(err, ErrEncoding) {
		t.Fatalf("close after abort: expected ErrEncoding, got %v", err)
	}
}

func TestFFmpegEncoderAbortAfterClose(t *testing.T) {
	enc := startTestBinary(t)
	err := enc.Close()
	if !errors.Is(err, ErrEncoding) {
		t.Fatalf("expected ErrEncoding from a failing encoder, got %v", err)
	}
	enc.Abort()
	if !enc.done {
		t.Fatal("encoder not marked done")
	}
}
