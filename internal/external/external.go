// Package external runs SDK and tool commands as child processes. Stdout is
// accumulated as an ordered result stream that can be read lazily or parsed
// as JSON once the process exits; stderr is classified line by line through
// ordered regex rules and forwarded to a leveled logger.
package external

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// pollInterval is how often Read checks for a newly arrived stdout line.
const pollInterval = 10 * time.Millisecond

var (
	meter        = otel.Meter("github.com/jackzzs-lab/pyTCM/internal/external")
	spawnCounter metric.Int64Counter
	failCounter  metric.Int64Counter
)

func init() {
	spawnCounter, _ = meter.Int64Counter("external.spawned",
		metric.WithDescription("Number of external processes spawned."))
	failCounter, _ = meter.Int64Counter("external.failed",
		metric.WithDescription("Number of external processes that exited non-zero."))
}

// ExitError reports a process that exited with a non-zero code.
type ExitError struct {
	Code    int
	Command string
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("exit code %d when running %s", e.Code, e.Command)
}

// Options controls how an external process is spawned and how its stderr is
// routed to the logger. The zero value is usable.
type Options struct {
	// Desc labels every forwarded stderr line. Defaults to the base name of
	// the executable.
	Desc string

	// Logger receives classified stderr lines. Defaults to slog.Default().
	Logger *slog.Logger

	// Level drops classified lines below the given severity. Nil means no
	// gate beyond what the logger itself enables.
	Level slog.Leveler

	// Raw suppresses the "[desc]" prefix on forwarded lines.
	Raw bool

	// Filters drops stderr lines matching any of the regexes before
	// classification.
	Filters []string

	// Rules overrides the default classification table.
	Rules []Rule

	// OutputStdout routes stdout through the classifier instead of the
	// result stream.
	OutputStdout bool

	// Dir is the working directory of the child.
	Dir string

	// Env replaces the child's environment entirely when non-nil. A nil map
	// inherits the parent environment.
	Env map[string]string
}

// External is a spawned child process plus its output-handling state. Results
// must not be read before Wait (or Results) has returned.
type External struct {
	// ID identifies this run in logs and scratch paths.
	ID string

	argv     []string
	desc     string
	cmd      *exec.Cmd
	logger   *slog.Logger
	minLevel slog.Leveler
	raw      bool
	filters  []*regexp.Regexp
	rules    []Rule

	mu      sync.Mutex
	results []string

	readers  sync.WaitGroup
	done     chan struct{}
	exitCode int
}

// Start spawns argv as a child process and begins consuming both output
// streams on background goroutines.
func Start(argv []string, opts Options) (*External, error) {
	if len(argv) == 0 {
		return nil, errors.New("external: command is required")
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	filters, err := compileFilters(opts.Filters)
	if err != nil {
		return nil, err
	}

	rules := opts.Rules
	if rules == nil {
		rules = DefaultRules()
	}

	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Dir = opts.Dir
	if opts.Env != nil {
		cmd.Env = flattenEnv(opts.Env)
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("external: creating stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("external: creating stderr pipe: %w", err)
	}

	e := &External{
		ID:       uuid.New().String(),
		argv:     argv,
		desc:     opts.Desc,
		cmd:      cmd,
		logger:   logger,
		minLevel: opts.Level,
		raw:      opts.Raw,
		filters:  filters,
		rules:    rules,
		done:     make(chan struct{}),
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("external: starting %q: %w", argv[0], err)
	}
	spawnCounter.Add(context.Background(), 1,
		metric.WithAttributes(attribute.String("command", filepath.Base(argv[0]))))

	e.readers.Add(2)
	if opts.OutputStdout {
		go e.consumeClassified(stdout)
	} else {
		go e.consumeResults(stdout)
	}
	go e.consumeClassified(stderr)
	go e.finalize()

	logger.Debug("started external", "command", e.Command(60), "pid", e.Pid())
	return e, nil
}

// Pid returns the OS process id of the child.
func (e *External) Pid() int {
	return e.cmd.Process.Pid
}

// Command returns the shell-quoted command line, truncated to at most
// truncate characters when truncate is positive.
func (e *External) Command(truncate int) string {
	return truncateStr(QuoteCommand(e.argv), truncate)
}

// consumeResults appends stdout lines, in arrival order, to the result list.
func (e *External) consumeResults(r io.Reader) {
	defer e.readers.Done()
	for sc := newLineScanner(r); sc.Scan(); {
		e.mu.Lock()
		e.results = append(e.results, sc.Text())
		e.mu.Unlock()
	}
}

// consumeClassified filters and classifies lines, forwarding survivors to
// the logger. A line starting with whitespace continues the previous
// message and inherits its severity.
func (e *External) consumeClassified(r io.Reader) {
	defer e.readers.Done()
	var last *slog.Level
	for sc := newLineScanner(r); sc.Scan(); {
		last = e.classify(sc.Text(), last)
	}
}

func (e *External) classify(line string, last *slog.Level) *slog.Level {
	for _, f := range e.filters {
		if f.MatchString(line) {
			return nil
		}
	}
	if last != nil && continuation.MatchString(line) {
		e.emit(*last, line)
		return last
	}
	for _, rule := range e.rules {
		m := rule.Pattern.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		msg := m[0]
		if len(m) > 1 {
			msg = m[1]
		}
		e.emit(rule.Level, msg)
		lvl := rule.Level
		return &lvl
	}
	return nil
}

func (e *External) emit(level slog.Level, msg string) {
	if e.minLevel != nil && level < e.minLevel.Level() {
		return
	}
	e.logger.Log(context.Background(), level, e.addPrefix(msg))
}

func (e *External) addPrefix(line string) string {
	if e.raw {
		return line
	}
	desc := e.desc
	if desc == "" {
		desc = filepath.Base(e.argv[0])
	}
	if e.logger.Enabled(context.Background(), slog.LevelDebug) {
		desc = fmt.Sprintf("%s-%d", desc, e.Pid())
	}
	return fmt.Sprintf("[%s] %s", desc, line)
}

// finalize reaps the process once both pipes have drained. Wait on the
// command must not happen before the readers are done with the pipes.
func (e *External) finalize() {
	e.readers.Wait()
	err := e.cmd.Wait()
	e.exitCode = e.cmd.ProcessState.ExitCode()
	if err != nil {
		failCounter.Add(context.Background(), 1,
			metric.WithAttributes(attribute.String("command", filepath.Base(e.argv[0]))))
	}
	close(e.done)
}

// Wait blocks until the process has exited and both output streams are
// drained, then returns the exit code.
func (e *External) Wait() int {
	<-e.done
	return e.exitCode
}

// Done returns a channel closed once the process has been reaped.
func (e *External) Done() <-chan struct{} {
	return e.done
}

func (e *External) lineCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.results)
}

func (e *External) line(i int) string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.results[i]
}

// Read returns a lazy sequence of stdout lines in emission order. It blocks
// waiting for each next line, polling at a short interval, and ends once the
// process has exited and every recorded line was yielded.
func (e *External) Read() iter.Seq[string] {
	return func(yield func(string) bool) {
		for i := 0; ; i++ {
			for e.lineCount() <= i {
				select {
				case <-e.done:
					if e.lineCount() <= i {
						return
					}
				case <-time.After(pollInterval):
				}
			}
			if !yield(e.line(i)) {
				return
			}
		}
	}
}

// Lines returns a snapshot of the stdout lines accumulated so far. The
// snapshot is only complete once Wait has returned.
func (e *External) Lines() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.results...)
}

// Results waits for the process to finish and returns the accumulated stdout
// either parsed as a single JSON document or, failing that, as the raw list
// of lines. A non-zero exit is reported as *ExitError. Safe to call more
// than once.
func (e *External) Results() (any, error) {
	if code := e.Wait(); code != 0 {
		return nil, &ExitError{Code: code, Command: e.Command(20)}
	}
	e.mu.Lock()
	lines := e.results
	e.mu.Unlock()
	var parsed any
	if err := json.Unmarshal([]byte(strings.Join(lines, "\n")), &parsed); err == nil {
		return parsed, nil
	}
	return lines, nil
}

// Terminate sends SIGTERM to the child.
func (e *External) Terminate() error {
	return e.cmd.Process.Signal(syscall.SIGTERM)
}

// Stop terminates the child gracefully, escalating to SIGKILL when it has
// not exited before ctx is done.
func (e *External) Stop(ctx context.Context) error {
	select {
	case <-e.done:
		return nil
	default:
	}
	if err := e.Terminate(); err != nil {
		return e.cmd.Process.Kill()
	}
	select {
	case <-e.done:
		return nil
	case <-ctx.Done():
		return e.cmd.Process.Kill()
	}
}

func flattenEnv(env map[string]string) []string {
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	return out
}
