//go:build unix

package engine

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sys/unix"
)

var (
	fakeOnce sync.Once
	fakeDir  string
	fakeBin  string
	fakeErr  error
	fakeOut  []byte
)

func TestMain(m *testing.M) {
	code := m.Run()
	if fakeDir != "" {
		_ = os.RemoveAll(fakeDir)
	}
	os.Exit(code)
}

// buildFakeCLI builds the fake llama-cli once per test binary and returns its path.
func buildFakeCLI(t *testing.T) string {
	t.Helper()
	if testing.Short() {
		t.Skip("short mode")
	}
	fakeOnce.Do(func() {
		fakeDir, fakeErr = os.MkdirTemp("", "fake-llama-cli")
		if fakeErr != nil {
			return
		}
		fakeBin = filepath.Join(fakeDir, "llama-cli")
		cmd := exec.Command("go", "build", "-o", fakeBin, "./testdata/fake_llama_cli.go")
		cmd.Dir = "." // package dir internal/engine
		cmd.Env = append(os.Environ(), "CGO_ENABLED=0")
		fakeOut, fakeErr = cmd.CombinedOutput()
	})
	if fakeErr != nil {
		t.Fatalf("build fake cli: %v: %s", fakeErr, string(fakeOut))
	}
	return fakeBin
}

func newTestEngine(t *testing.T, mode string, tweak func(*SubprocessConfig)) (*SubprocessEngine, *MemoryPublisher) {
	t.Helper()
	bin := buildFakeCLI(t)
	model := filepath.Join(t.TempDir(), "cadmonkey-1b.gguf")
	if err := os.WriteFile(model, []byte("gguf"), 0o644); err != nil {
		t.Fatalf("write model: %v", err)
	}
	cfg := SubprocessConfig{
		Launch:       LaunchConfig{Bin: bin, ModelPath: model, Threads: 2, Env: []string{"FAKE_LLAMA_MODE=" + mode}},
		Filter:       DefaultFilterConfig(),
		StreamWall:   10 * time.Second,
		IdleTimeout:  2 * time.Second,
		PollInterval: 20 * time.Millisecond,
		KillGrace:    2 * time.Second,
		BatchTimeout: 5 * time.Second,
	}
	if tweak != nil {
		tweak(&cfg)
	}
	pub := NewMemoryPublisher()
	return NewSubprocessEngine(cfg, zerolog.Nop(), pub), pub
}

func testRequest(maxUnits int) InferenceRequest {
	prompt, stop := DefaultPromptTemplate().Build("make me a cube")
	return InferenceRequest{SessionID: "test", Prompt: prompt, MaxUnits: maxUnits, Temperature: 0.7, Stop: stop}
}

func streamAll(t *testing.T, e *SubprocessEngine, ctx context.Context, req InferenceRequest) ([]string, StreamResult, error) {
	t.Helper()
	var tokens []string
	res, err := e.Stream(ctx, req, func(s string) error {
		tokens = append(tokens, s)
		return nil
	})
	return tokens, res, err
}

func assertGone(t *testing.T, pid int) {
	t.Helper()
	if pid <= 0 {
		t.Fatalf("no pid recorded")
	}
	if err := unix.Kill(pid, 0); err == nil {
		t.Fatalf("process %d still running", pid)
	}
}

func TestStream_NormalCompletion(t *testing.T) {
	e, pub := newTestEngine(t, "normal", nil)
	tokens, res, err := streamAll(t, e, context.Background(), testRequest(50))
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	want := []string{
		"cube([10, 10, 10]);",
		"if (value > 5 and < 10) sphere(r = 3);",
		"translate([0, 0, 5]) cylinder(h = 4, r = 1);",
	}
	if !reflect.DeepEqual(tokens, want) {
		t.Fatalf("tokens = %q\nwant     %q", tokens, want)
	}
	if res.Reason != ReasonEOF || res.Units != 3 {
		t.Fatalf("result = %+v", res)
	}
	for _, tok := range tokens {
		if strings.Contains(tok, "Assistant:") {
			t.Fatalf("assistant marker leaked: %q", tok)
		}
	}
	if _, ok := pub.Find("spawn_start"); !ok {
		t.Fatalf("missing spawn_start event")
	}
	if _, ok := pub.Find("spawn_exit"); !ok {
		t.Fatalf("missing spawn_exit event: %+v", pub.Events())
	}
	assertGone(t, res.PID)
}

func TestStream_UnitCapKillsProcess(t *testing.T) {
	e, pub := newTestEngine(t, "endless", nil)
	tokens, res, err := streamAll(t, e, context.Background(), testRequest(5))
	if err != nil {
		t.Fatalf("unit cap must complete normally, got %v", err)
	}
	if len(tokens) != 5 || tokens[0] != "line 0" || tokens[4] != "line 4" {
		t.Fatalf("tokens = %q", tokens)
	}
	if res.Reason != ReasonUnitCap || !res.Killed {
		t.Fatalf("result = %+v", res)
	}
	if _, ok := pub.Find("spawn_kill"); !ok {
		t.Fatalf("missing spawn_kill event")
	}
	assertGone(t, res.PID)
}

func TestStream_IdleTimeout(t *testing.T) {
	e, _ := newTestEngine(t, "stall", func(c *SubprocessConfig) { c.IdleTimeout = 300 * time.Millisecond })
	start := time.Now()
	tokens, res, err := streamAll(t, e, context.Background(), testRequest(50))
	if !errors.Is(err, ErrIdleTimeout) {
		t.Fatalf("expected idle timeout, got %v", err)
	}
	if !reflect.DeepEqual(tokens, []string{"cube(1);"}) {
		t.Fatalf("tokens = %q", tokens)
	}
	if res.Reason != ReasonIdleTimeout || !res.Killed {
		t.Fatalf("result = %+v", res)
	}
	if time.Since(start) > 5*time.Second {
		t.Fatalf("idle timeout took %v", time.Since(start))
	}
	assertGone(t, res.PID)
}

func TestStream_WallTimeout(t *testing.T) {
	e, _ := newTestEngine(t, "endless", func(c *SubprocessConfig) { c.StreamWall = 300 * time.Millisecond })
	tokens, res, err := streamAll(t, e, context.Background(), testRequest(1_000_000))
	if !errors.Is(err, ErrWallTimeout) || !IsTimeout(err) {
		t.Fatalf("expected wall timeout, got %v", err)
	}
	if len(tokens) == 0 || res.Reason != ReasonWallTimeout {
		t.Fatalf("tokens=%d result=%+v", len(tokens), res)
	}
	assertGone(t, res.PID)
}

func TestStream_StopSequence(t *testing.T) {
	e, _ := newTestEngine(t, "stop", nil)
	tokens, res, err := streamAll(t, e, context.Background(), testRequest(50))
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	want := []string{"sphere(r = 2);", "translate([1, 0, 0]) cube(2);"}
	if !reflect.DeepEqual(tokens, want) {
		t.Fatalf("tokens = %q", tokens)
	}
	if res.Reason != ReasonStopSequence || !res.Killed {
		t.Fatalf("result = %+v", res)
	}
}

func TestStream_PartialLineAndSplitRune(t *testing.T) {
	e, _ := newTestEngine(t, "partial", nil)
	tokens, res, err := streamAll(t, e, context.Background(), testRequest(50))
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	want := []string{"café", "last line without newline"}
	if !reflect.DeepEqual(tokens, want) {
		t.Fatalf("tokens = %q", tokens)
	}
	if res.Reason != ReasonEOF {
		t.Fatalf("result = %+v", res)
	}
}

func TestStream_ExitWithoutOutput(t *testing.T) {
	e, _ := newTestEngine(t, "fail", func(c *SubprocessConfig) { c.Launch.Stderr = StderrDiscard })
	tokens, res, err := streamAll(t, e, context.Background(), testRequest(50))
	if err == nil || !strings.Contains(err.Error(), "engine exited with error") {
		t.Fatalf("expected exit error, got %v", err)
	}
	if len(tokens) != 0 || res.Reason != ReasonEngineFailed {
		t.Fatalf("tokens=%q result=%+v", tokens, res)
	}
}

func TestStream_FailWithMergedStderr(t *testing.T) {
	e, _ := newTestEngine(t, "fail", nil)
	_, res, err := streamAll(t, e, context.Background(), testRequest(50))
	if err == nil || !strings.Contains(err.Error(), "failed to load model") {
		t.Fatalf("expected exit error quoting stderr, got %v", err)
	}
	if res.Reason != ReasonEngineFailed {
		t.Fatalf("result = %+v", res)
	}
}

func TestStream_CrashAfterContent(t *testing.T) {
	e, _ := newTestEngine(t, "crash", nil)
	tokens, res, err := streamAll(t, e, context.Background(), testRequest(50))
	if err == nil || !strings.Contains(err.Error(), "GGML_ASSERT") {
		t.Fatalf("expected exit error, got %v", err)
	}
	if len(tokens) == 0 || tokens[0] != "cube(1);" || res.Reason != ReasonEngineFailed {
		t.Fatalf("tokens=%q result=%+v", tokens, res)
	}
	assertGone(t, res.PID)
}

func TestStream_StopSequenceOnFirstContentLine(t *testing.T) {
	e, _ := newTestEngine(t, "nextturn", nil)
	tokens, res, err := streamAll(t, e, context.Background(), testRequest(50))
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	if !reflect.DeepEqual(tokens, []string{"cube(1);"}) {
		t.Fatalf("tokens = %q", tokens)
	}
	if res.Reason != ReasonStopSequence {
		t.Fatalf("result = %+v", res)
	}
}

func TestStream_ContextCancel(t *testing.T) {
	e, _ := newTestEngine(t, "endless", nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	n := 0
	res, err := e.Stream(ctx, testRequest(1_000_000), func(string) error {
		n++
		if n == 3 {
			cancel()
		}
		return nil
	})
	if !errors.Is(err, context.Canceled) || res.Reason != ReasonCanceled {
		t.Fatalf("err=%v result=%+v", err, res)
	}
	assertGone(t, res.PID)
}

func TestStream_SinkErrorStops(t *testing.T) {
	e, _ := newTestEngine(t, "endless", nil)
	boom := errors.New("broken pipe")
	n := 0
	res, err := e.Stream(context.Background(), testRequest(1_000_000), func(string) error {
		n++
		if n == 2 {
			return boom
		}
		return nil
	})
	if !errors.Is(err, boom) || res.Reason != ReasonEmitError {
		t.Fatalf("err=%v result=%+v", err, res)
	}
	if n != 2 || res.Units != 1 {
		t.Fatalf("sink calls=%d units=%d", n, res.Units)
	}
	assertGone(t, res.PID)
}

func TestStream_LaunchError(t *testing.T) {
	e, pub := newTestEngine(t, "normal", func(c *SubprocessConfig) { c.Launch.Bin = "/nonexistent/llama-cli" })
	_, _, err := streamAll(t, e, context.Background(), testRequest(50))
	if !IsLaunchError(err) || IsTimeout(err) {
		t.Fatalf("expected launch error, got %v", err)
	}
	if _, ok := pub.Find("launch_failed"); !ok {
		t.Fatalf("missing launch_failed event")
	}
}

func TestStream_EmptyPromptNoLaunch(t *testing.T) {
	e, pub := newTestEngine(t, "normal", nil)
	req := testRequest(50)
	req.Prompt = ""
	_, _, err := streamAll(t, e, context.Background(), req)
	if !errors.Is(err, ErrEmptyPrompt) {
		t.Fatalf("expected ErrEmptyPrompt, got %v", err)
	}
	if len(pub.Events()) != 0 {
		t.Fatalf("no process should start: %+v", pub.Events())
	}
}

func TestComplete_CleansTranscript(t *testing.T) {
	e, _ := newTestEngine(t, "normal", nil)
	text, err := e.Complete(context.Background(), testRequest(50))
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	want := "cube([10, 10, 10]);\nif (value > 5 and < 10) sphere(r = 3);\ntranslate([0, 0, 5]) cylinder(h = 4, r = 1);"
	if text != want {
		t.Fatalf("text = %q\nwant   %q", text, want)
	}
}

func TestComplete_TimeoutNoPartialOutput(t *testing.T) {
	e, _ := newTestEngine(t, "slow", func(c *SubprocessConfig) { c.BatchTimeout = 300 * time.Millisecond })
	start := time.Now()
	text, err := e.Complete(context.Background(), testRequest(50))
	if !errors.Is(err, ErrBatchTimeout) || text != "" {
		t.Fatalf("text=%q err=%v", text, err)
	}
	if err.Error() != "Request timeout" {
		t.Fatalf("message = %q", err.Error())
	}
	if time.Since(start) > 5*time.Second {
		t.Fatalf("batch timeout took %v", time.Since(start))
	}
}

func TestComplete_ExitWithoutOutput(t *testing.T) {
	e, _ := newTestEngine(t, "fail", func(c *SubprocessConfig) { c.Launch.Stderr = StderrDiscard })
	if _, err := e.Complete(context.Background(), testRequest(50)); err == nil {
		t.Fatalf("expected error")
	}
}

func TestComplete_FailuresAreErrors(t *testing.T) {
	for mode, want := range map[string]string{"fail": "failed to load model", "crash": "GGML_ASSERT"} {
		e, _ := newTestEngine(t, mode, nil)
		text, err := e.Complete(context.Background(), testRequest(50))
		if err == nil || !strings.Contains(err.Error(), want) {
			t.Fatalf("%s: expected exit error, got text=%q err=%v", mode, text, err)
		}
		if text != "" {
			t.Fatalf("%s: partial text returned: %q", mode, text)
		}
	}
}

func TestLaunch_PassesArguments(t *testing.T) {
	argsFile := filepath.Join(t.TempDir(), "args")
	e, _ := newTestEngine(t, "normal", func(c *SubprocessConfig) {
		c.Launch.Env = append(c.Launch.Env, "FAKE_LLAMA_ARGS_FILE="+argsFile)
	})
	if _, err := e.Complete(context.Background(), testRequest(50)); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	b, err := os.ReadFile(argsFile)
	if err != nil {
		t.Fatalf("read args: %v", err)
	}
	args := string(b)
	for _, want := range []string{"-n\n50", "--temp\n0.7", "--no-display-prompt", "-t\n2"} {
		if !strings.Contains(args, want) {
			t.Fatalf("args missing %q:\n%s", want, args)
		}
	}
}

func TestSubprocessEngine_Ready(t *testing.T) {
	e, _ := newTestEngine(t, "normal", nil)
	if err := e.Ready(); err != nil {
		t.Fatalf("Ready: %v", err)
	}
	missing, _ := newTestEngine(t, "normal", func(c *SubprocessConfig) { c.Launch.ModelPath = "/nonexistent/model.gguf" })
	if err := missing.Ready(); !IsDependencyUnavailable(err) {
		t.Fatalf("expected dependency error, got %v", err)
	}
	nobin, _ := newTestEngine(t, "normal", func(c *SubprocessConfig) { c.Launch.Bin = "/nonexistent/llama-cli" })
	if err := nobin.Ready(); !IsDependencyUnavailable(err) {
		t.Fatalf("expected dependency error, got %v", err)
	}
}
