package ocr

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"strings"
	"testing"

	"pdf-audiobook/internal/execx"
)

// fakeRunner records invocations and plays back canned results.
type fakeRunner struct {
	lastName string
	lastArgs []string
	result   execx.Result
	err      error
}

func (r *fakeRunner) Run(ctx context.Context, name string, args ...string) (execx.Result, error) {
	r.lastName = name
	r.lastArgs = args
	return r.result, r.err
}

// hasArgPair reports whether flag is directly followed by value.
func hasArgPair(args []string, flag, value string) bool {
	for i := 0; i+1 < len(args); i++ {
		if args[i] == flag && args[i+1] == value {
			return true
		}
	}
	return false
}

// newTestEngine wires a command engine with in-memory filesystem fakes.
func newTestEngine(runner *fakeRunner, written map[string][]byte, languages ...string) *CommandEngine {
	return NewCommandEngineForTests(
		"/usr/bin/tesseract",
		runner,
		func(dir, pattern string) (string, error) { return "/tmp/ocr-test", nil },
		func(path string) error { return nil },
		func(name string, data []byte, perm os.FileMode) error {
			written[name] = data
			return nil
		},
		languages...,
	)
}

// TestCommandEngineRecognize checks argument construction and output.
func TestCommandEngineRecognize(t *testing.T) {
	runner := &fakeRunner{result: execx.Result{Stdout: "  Recognized page text.\n"}}
	written := map[string][]byte{}
	engine := newTestEngine(runner, written, "eng", "deu")

	text, err := engine.Recognize(context.Background(), []byte("png-bytes"))
	if err != nil {
		t.Fatalf("Recognize: %v", err)
	}
	if text != "Recognized page text." {
		t.Fatalf("text = %q", text)
	}
	if runner.lastName != "/usr/bin/tesseract" {
		t.Fatalf("binary = %q", runner.lastName)
	}
	if len(runner.lastArgs) == 0 || runner.lastArgs[1] != "stdout" {
		t.Fatalf("args = %v, want image then stdout", runner.lastArgs)
	}
	if !hasArgPair(runner.lastArgs, "-l", "eng+deu") {
		t.Fatalf("args = %v, want -l eng+deu", runner.lastArgs)
	}
	if got := written["/tmp/ocr-test/page.png"]; string(got) != "png-bytes" {
		t.Fatalf("page image not written, files = %v", written)
	}
}

// TestCommandEngineMissingBinary maps lookup failures to the sentinel.
func TestCommandEngineMissingBinary(t *testing.T) {
	runner := &fakeRunner{err: &exec.Error{Name: "tesseract", Err: exec.ErrNotFound}}
	engine := newTestEngine(runner, map[string][]byte{})

	_, err := engine.Recognize(context.Background(), []byte("png"))
	if !errors.Is(err, ErrEngineUnavailable) {
		t.Fatalf("err = %v, want ErrEngineUnavailable", err)
	}
}

// TestCommandEngineFailureIncludesStderr surfaces the engine complaint.
func TestCommandEngineFailureIncludesStderr(t *testing.T) {
	runner := &fakeRunner{
		result: execx.Result{ExitCode: 1, Stderr: "Error: bad image\n"},
		err:    errors.New("exit status 1"),
	}
	engine := newTestEngine(runner, map[string][]byte{})

	_, err := engine.Recognize(context.Background(), []byte("png"))
	if err == nil || !strings.Contains(err.Error(), "bad image") {
		t.Fatalf("err = %v, want stderr detail", err)
	}
}

// TestCommandEngineCancelledContext returns the context error as-is.
func TestCommandEngineCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	engine := newTestEngine(&fakeRunner{}, map[string][]byte{})
	if _, err := engine.Recognize(ctx, []byte("png")); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

// TestTesseractEngineCancelledContext covers the bindings engine's
// early context check, which runs before any client is created.
func TestTesseractEngineCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	engine := NewTesseractEngine("eng")
	if _, err := engine.Recognize(ctx, []byte("png")); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}
