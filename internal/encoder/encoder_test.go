package encoder

import (
	"context"
	"os/exec"
	"strings"
	"testing"
)

func TestEncodeCommand(t *testing.T) {
	var gotName string
	var gotArgs []string

	orig := commandContext
	commandContext = func(ctx context.Context, name string, args ...string) *exec.Cmd {
		gotName = name
		gotArgs = args
		return exec.CommandContext(ctx, "true")
	}
	t.Cleanup(func() { commandContext = orig })

	enc := NewFFmpeg(WithBinary("/opt/ffmpeg/bin/ffmpeg"))
	if err := enc.Encode(context.Background(), t.TempDir(), "%04d.png", "output.mp4"); err != nil {
		t.Fatalf("Encode: %v", err)
	}

	if gotName != "/opt/ffmpeg/bin/ffmpeg" {
		t.Errorf("binary = %q", gotName)
	}

	joined := strings.Join(gotArgs, " ")
	for _, want := range []string{
		"-framerate 1",
		"-i %04d.png",
		"-c:v libx264",
		"-tune stillimage",
		"-g 1",
		"-pix_fmt yuv420p",
		"-vf colorspace=bt709:iall=bt601-6-625:fast=1",
		"-movflags faststart",
	} {
		if !strings.Contains(joined, want) {
			t.Errorf("args missing %q in %q", want, joined)
		}
	}
	if gotArgs[len(gotArgs)-1] != "output.mp4" {
		t.Errorf("last arg = %q, want output file", gotArgs[len(gotArgs)-1])
	}
}

func TestEncodeFailureIncludesStderr(t *testing.T) {
	orig := commandContext
	commandContext = func(ctx context.Context, _ string, _ ...string) *exec.Cmd {
		return exec.CommandContext(ctx, "sh", "-c", "echo frame error >&2; exit 1")
	}
	t.Cleanup(func() { commandContext = orig })

	enc := NewFFmpeg()
	err := enc.Encode(context.Background(), t.TempDir(), "%04d.png", "output.mp4")
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "frame error") {
		t.Errorf("error does not carry stderr: %v", err)
	}
}

func TestWithBinaryEmptyKeepsDefault(t *testing.T) {
	enc := NewFFmpeg(WithBinary(""))
	if enc.binary != "ffmpeg" {
		t.Errorf("binary = %q, want ffmpeg", enc.binary)
	}
}
