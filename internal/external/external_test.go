package external

import (
	"context"
	"errors"
	"log/slog"
	"reflect"
	"sync"
	"testing"
	"time"
)

// recordingHandler captures log records so tests can assert on classified
// stderr output.
type recordingHandler struct {
	mu      sync.Mutex
	level   slog.Level
	records []recorded
}

type recorded struct {
	Level slog.Level
	Msg   string
}

func (h *recordingHandler) Enabled(_ context.Context, l slog.Level) bool {
	return l >= h.level
}

func (h *recordingHandler) Handle(_ context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.records = append(h.records, recorded{Level: r.Level, Msg: r.Message})
	return nil
}

func (h *recordingHandler) WithAttrs([]slog.Attr) slog.Handler { return h }
func (h *recordingHandler) WithGroup(string) slog.Handler      { return h }

func (h *recordingHandler) messages(level slog.Level) []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []string
	for _, r := range h.records {
		if r.Level == level {
			out = append(out, r.Msg)
		}
	}
	return out
}

func newRecorder(level slog.Level) (*recordingHandler, *slog.Logger) {
	h := &recordingHandler{level: level}
	return h, slog.New(h)
}

func TestResults_Lines(t *testing.T) {
	p, err := Start([]string{"sh", "-c", "echo TEST1; echo TEST2"}, Options{})
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if code := p.Wait(); code != 0 {
		t.Fatalf("external unexpectedly failed with code %d", code)
	}
	results, err := p.Results()
	if err != nil {
		t.Fatalf("Results failed: %v", err)
	}
	want := []string{"TEST1", "TEST2"}
	if !reflect.DeepEqual(results, want) {
		t.Errorf("expected %v, got %v", want, results)
	}
}

func TestResults_JSON(t *testing.T) {
	p, err := Start([]string{"sh", "-c", `echo '{"irmsd": 1.5, "dockq": 0.8}'`}, Options{})
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	results, err := p.Results()
	if err != nil {
		t.Fatalf("Results failed: %v", err)
	}
	parsed, ok := results.(map[string]any)
	if !ok {
		t.Fatalf("expected JSON object, got %T", results)
	}
	if parsed["irmsd"] != 1.5 {
		t.Errorf("expected irmsd 1.5, got %v", parsed["irmsd"])
	}
}

func TestResults_NonZeroExit(t *testing.T) {
	p, err := Start([]string{"sh", "-c", "exit 3"}, Options{})
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	_, err = p.Results()
	if err == nil {
		t.Fatal("expected error for non-zero exit")
	}
	var exitErr *ExitError
	if !errors.As(err, &exitErr) {
		t.Fatalf("expected *ExitError, got %T: %v", err, err)
	}
	if exitErr.Code != 3 {
		t.Errorf("expected exit code 3, got %d", exitErr.Code)
	}
	if exitErr.Command == "" {
		t.Error("expected truncated command in error")
	}
}

func TestResults_Idempotent(t *testing.T) {
	p, err := Start([]string{"sh", "-c", "echo TEST"}, Options{})
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	first, err1 := p.Results()
	second, err2 := p.Results()
	if err1 != nil || err2 != nil {
		t.Fatalf("Results failed: %v, %v", err1, err2)
	}
	if !reflect.DeepEqual(first, second) {
		t.Errorf("Results not idempotent: %v vs %v", first, second)
	}
}

func TestRead_YieldsBeforeExit(t *testing.T) {
	p, err := Start([]string{"sh", "-c", "echo TEST; sleep 10"}, Options{})
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer p.Terminate()

	var got string
	for line := range p.Read() {
		got = line
		break
	}
	if got != "TEST" {
		t.Errorf("expected TEST, got %q", got)
	}
}

func TestRead_EndsAtExit(t *testing.T) {
	p, err := Start([]string{"sh", "-c", "echo A; echo B"}, Options{})
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	var got []string
	for line := range p.Read() {
		got = append(got, line)
	}
	if !reflect.DeepEqual(got, []string{"A", "B"}) {
		t.Errorf("expected [A B], got %v", got)
	}
}

func TestClassify_ErrorLevel(t *testing.T) {
	h, logger := newRecorder(slog.LevelDebug)
	p, err := Start([]string{"sh", "-c", `echo "TypeError: TEST" 1>&2`}, Options{Logger: logger, Raw: true})
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	p.Wait()

	msgs := h.messages(slog.LevelError)
	if len(msgs) != 1 || msgs[0] != "TypeError: TEST" {
		t.Errorf("expected [TypeError: TEST] at ERROR, got %v", msgs)
	}
}

func TestClassify_ContinuationInheritsLevel(t *testing.T) {
	h, logger := newRecorder(slog.LevelDebug)
	script := `printf 'error: boom\n  detail line\ninfo: hello\n' 1>&2`
	p, err := Start([]string{"sh", "-c", script}, Options{Logger: logger, Raw: true})
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	p.Wait()

	errs := h.messages(slog.LevelError)
	if !reflect.DeepEqual(errs, []string{"error: boom", "  detail line"}) {
		t.Errorf("unexpected ERROR messages: %v", errs)
	}
	infos := h.messages(slog.LevelInfo)
	if !reflect.DeepEqual(infos, []string{"hello"}) {
		t.Errorf("expected capture group only at INFO, got %v", infos)
	}
}

func TestClassify_TracebackAtDebug(t *testing.T) {
	h, logger := newRecorder(slog.LevelDebug)
	script := `printf 'Traceback (most recent call last):\n  File "x.py", line 1\nNameError: name is not defined\n' 1>&2`
	p, err := Start([]string{"sh", "-c", script + "; exit 1"}, Options{Logger: logger, Raw: true})
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if code := p.Wait(); code != 1 {
		t.Fatalf("expected exit code 1, got %d", code)
	}

	debugs := h.messages(slog.LevelDebug)
	tb := -1
	for i, msg := range debugs {
		if msg == "Traceback (most recent call last):" {
			tb = i
			break
		}
	}
	if tb < 0 || tb+1 >= len(debugs) || debugs[tb+1] != `  File "x.py", line 1` {
		t.Errorf("expected traceback and continuation at DEBUG, got %v", debugs)
	}
	errs := h.messages(slog.LevelError)
	if len(errs) != 1 || errs[0] != "NameError: name is not defined" {
		t.Errorf("expected summary line at ERROR, got %v", errs)
	}
	if _, err := p.Results(); err == nil {
		t.Error("expected Results to fail after non-zero exit")
	}
}

func TestClassify_FiltersDropLines(t *testing.T) {
	h, logger := newRecorder(slog.LevelDebug)
	p, err := Start([]string{"sh", "-c", `printf 'host file noise\nkept\n' 1>&2`},
		Options{Logger: logger, Raw: true, Filters: []string{"host file"}})
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	p.Wait()

	infos := h.messages(slog.LevelInfo)
	if !reflect.DeepEqual(infos, []string{"kept"}) {
		t.Errorf("expected filtered output [kept], got %v", infos)
	}
}

func TestClassify_MinLevelGate(t *testing.T) {
	h, logger := newRecorder(slog.LevelDebug)
	p, err := Start([]string{"sh", "-c", `printf 'plain line\nerror: kept\n' 1>&2`},
		Options{Logger: logger, Raw: true, Level: slog.LevelError})
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	p.Wait()

	if infos := h.messages(slog.LevelInfo); len(infos) != 0 {
		t.Errorf("expected INFO lines gated out, got %v", infos)
	}
	if errs := h.messages(slog.LevelError); len(errs) != 1 {
		t.Errorf("expected ERROR line kept, got %v", errs)
	}
}

func TestPrefix_AddedUnlessRaw(t *testing.T) {
	h, logger := newRecorder(slog.LevelInfo)
	p, err := Start([]string{"sh", "-c", `echo "info: ready" 1>&2`},
		Options{Logger: logger, Desc: "sdk"})
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	p.Wait()

	infos := h.messages(slog.LevelInfo)
	if len(infos) != 1 || infos[0] != "[sdk] ready" {
		t.Errorf("expected prefixed message, got %v", infos)
	}
}

func TestPrefix_IncludesPidAtDebug(t *testing.T) {
	h, logger := newRecorder(slog.LevelDebug)
	p, err := Start([]string{"sh", "-c", `echo "info: ready" 1>&2`},
		Options{Logger: logger, Desc: "sdk"})
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	p.Wait()

	infos := h.messages(slog.LevelInfo)
	if len(infos) != 1 {
		t.Fatalf("expected one INFO message, got %v", infos)
	}
	want := "[sdk-"
	if len(infos[0]) < len(want) || infos[0][:len(want)] != want {
		t.Errorf("expected pid-suffixed prefix, got %q", infos[0])
	}
}

func TestStart_EmptyCommand(t *testing.T) {
	if _, err := Start(nil, Options{}); err == nil {
		t.Fatal("expected error for empty command")
	}
}

func TestStart_CommandNotFound(t *testing.T) {
	if _, err := Start([]string{"nonexistent-binary-xyz"}, Options{}); err == nil {
		t.Fatal("expected error for non-existent command")
	}
}

func TestStop_GracefulTermination(t *testing.T) {
	p, err := Start([]string{"sleep", "30"}, Options{})
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := p.Stop(ctx); err != nil {
		t.Errorf("Stop failed: %v", err)
	}
	if code := p.Wait(); code == 0 {
		t.Errorf("expected non-zero exit after termination, got %d", code)
	}
}

func TestUsage_WhileRunning(t *testing.T) {
	p, err := Start([]string{"sleep", "5"}, Options{})
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer p.Terminate()

	usage, err := p.Usage(context.Background())
	if err != nil {
		t.Fatalf("Usage failed: %v", err)
	}
	if usage == nil {
		t.Fatal("expected usage sample")
	}
}

func TestUsage_AfterExit(t *testing.T) {
	p, err := Start([]string{"true"}, Options{})
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	p.Wait()
	if _, err := p.Usage(context.Background()); err == nil {
		t.Error("expected error sampling an exited process")
	}
}

func TestEnv_ReplacesEnvironment(t *testing.T) {
	p, err := Start([]string{"sh", "-c", "echo $PYTCM_TEST_VAR"},
		Options{Env: map[string]string{"PYTCM_TEST_VAR": "custom-value"}})
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	results, err := p.Results()
	if err != nil {
		t.Fatalf("Results failed: %v", err)
	}
	if !reflect.DeepEqual(results, []string{"custom-value"}) {
		t.Errorf("expected [custom-value], got %v", results)
	}
}
