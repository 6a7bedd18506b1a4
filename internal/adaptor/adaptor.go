// Package adaptor runs the Schrodinger contrib sub-package, which must
// execute under the SDK's own interpreter, and manages the nested virtual
// environment it lives in.
package adaptor

import (
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/jackzzs-lab/pyTCM/internal/config"
	"github.com/jackzzs-lab/pyTCM/internal/envmgr"
	"github.com/jackzzs-lab/pyTCM/internal/external"
)

// subModule is the entry point of the sub-package inside the venv.
const subModule = "protactmsub.cli"

// Adapter holds the sub-package venv state: the venv is created and sourced
// on first use, then cached for the lifetime of the adapter.
type Adapter struct {
	cfg    *config.Config
	logger *slog.Logger

	venvPath string
	pkgPath  string

	mu   sync.Mutex
	venv *envmgr.Venv
}

// New builds an adapter from the configuration. The venv location comes from
// the "contrib.schrodinger.venv" key, defaulting to
// ~/.virtualenvs/schrodinger.ve; the sub-package sources from
// "contrib.schrodinger.package".
func New(cfg *config.Config, logger *slog.Logger) *Adapter {
	venvPath := cfg.Get("contrib.schrodinger.venv")
	if venvPath == "" {
		if home, err := os.UserHomeDir(); err == nil {
			venvPath = filepath.Join(home, ".virtualenvs", "schrodinger.ve")
		}
	}
	return &Adapter{
		cfg:      cfg,
		logger:   logger,
		venvPath: venvPath,
		pkgPath:  cfg.Get("contrib.schrodinger.package"),
	}
}

// Venv returns the sub-package virtualenv, bootstrapping it on first use.
func (a *Adapter) Venv() (*envmgr.Venv, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.venv != nil {
		return a.venv, nil
	}

	if info, err := os.Stat(a.venvPath); err != nil || !info.IsDir() {
		a.logger.Warn("creating schrodinger venv", "path", a.venvPath)
		if err := a.createVenv(); err != nil {
			return nil, fmt.Errorf("adaptor: failed to create a schrodinger venv: %w", err)
		}
		v, err := envmgr.NewVenv(filepath.Join(a.venvPath, "bin", "activate"), a.options())
		if err != nil {
			return nil, err
		}
		a.venv = v
		a.logger.Warn("installing requirements for the schrodinger venv, may be slow at first time")
		if err := a.installRequirements(); err != nil {
			a.venv = nil
			return nil, fmt.Errorf("adaptor: failed to install requirements for the schrodinger venv: %w", err)
		}
		return a.venv, nil
	}

	a.logger.Debug("initializing schrodinger venv", "path", a.venvPath)
	v, err := envmgr.NewVenv(filepath.Join(a.venvPath, "bin", "activate"), a.options())
	if err != nil {
		return nil, err
	}
	a.venv = v
	return v, nil
}

// createVenv bootstraps the venv with the SDK's own virtualenv script, run
// through $SCHRODINGER/run outside any venv.
func (a *Adapter) createVenv() error {
	proc, err := a.Run([]string{"schrodinger_virtualenv.py", a.venvPath}, nil, false, a.options())
	if err != nil {
		return err
	}
	if code := proc.Wait(); code != 0 {
		return &external.ExitError{Code: code, Command: proc.Command(20)}
	}
	return nil
}

// installRequirements upgrades packaging tools and installs the
// sub-package's pinned requirements into the venv.
func (a *Adapter) installRequirements() error {
	if err := a.venv.Pip(nil, []string{"pip", "setuptools", "wheel"}, a.options()); err != nil {
		return err
	}
	if a.pkgPath == "" {
		return fmt.Errorf("adaptor: contrib.schrodinger.package is not configured")
	}
	opts := a.options()
	opts.Dir = a.pkgPath
	return a.venv.Pip(nil, []string{"-r", "requirements.txt"}, opts)
}

// Run executes args with the auto-detected runner: the venv python by
// default, or $SCHRODINGER/run when the venv is disabled.
func (a *Adapter) Run(args, runner []string, useVenv bool, opts external.Options) (*external.External, error) {
	if runner == nil {
		if useVenv {
			runner = []string{"python"}
		} else {
			root, err := a.cfg.Path("schrodinger")
			if err != nil {
				return nil, err
			}
			runner = []string{filepath.Join(root, "run")}
		}
	}
	argv := append(append([]string{}, runner...), args...)
	if useVenv {
		v, err := a.Venv()
		if err != nil {
			return nil, err
		}
		return v.Command(argv, opts)
	}
	return external.Start(argv, opts)
}

// PackageOptions tunes one sub-package invocation.
type PackageOptions struct {
	// Path runs a script at this path instead of the packaged CLI module.
	Path string

	// Debugpy hooks a debugpy server listening on DebugpyAddress before the
	// sub-package starts.
	Debugpy        bool
	DebugpyAddress string

	// NoVenv runs through $SCHRODINGER/run instead of the venv python.
	NoVenv bool

	// Env adds extra environment variables to the invocation.
	Env map[string]string
}

// Package invokes the sub-package CLI with args. Multiprocessing is
// whitelisted for the SDK, and its host-file chatter is filtered out of the
// forwarded stderr.
func (a *Adapter) Package(args []string, pkgOpts PackageOptions, opts external.Options) (*external.External, error) {
	var cmd []string
	if pkgOpts.Path != "" {
		cmd = append([]string{pkgOpts.Path}, args...)
	} else {
		cmd = append([]string{"-m", subModule}, args...)
	}

	env := map[string]string{"SCHRODINGER_ALLOW_UNSAFE_MULTIPROCESSING": "1"}
	for k, v := range pkgOpts.Env {
		env[k] = v
	}
	for k, v := range opts.Env {
		if _, ok := env[k]; !ok {
			env[k] = v
		}
	}
	opts.Env = env
	opts.Filters = append(opts.Filters, "user specific host file")

	var runner []string
	if pkgOpts.Debugpy {
		addr := pkgOpts.DebugpyAddress
		if addr == "" {
			addr = "localhost:5678"
		}
		runner = []string{"python", "-m", "debugpy", "--listen", addr, "--wait-for-client"}
	}
	return a.Run(cmd, runner, !pkgOpts.NoVenv, opts)
}

// Shell runs an interactive shell inside the venv, wired to the caller's
// terminal, and returns its exit code.
func (a *Adapter) Shell(shell string, args []string) (int, error) {
	if shell == "" {
		shell = "bash"
	}
	v, err := a.Venv()
	if err != nil {
		return -1, err
	}
	cmd := exec.Command(shell, args...)
	cmd.Env = envList(v.Env())
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		if cmd.ProcessState != nil {
			return cmd.ProcessState.ExitCode(), nil
		}
		return -1, err
	}
	return 0, nil
}

// JupyterLab starts a jupyter lab instance inside the venv, reclassifying
// its log format so server addresses surface at INFO.
func (a *Adapter) JupyterLab(ip string, port int, args []string, opts external.Options) (*external.External, error) {
	if !hasFlag(args, "--ip=") {
		args = append(args, "--ip="+ip)
	}
	if !hasFlag(args, "--port=") {
		args = append(args, "--port="+strconv.Itoa(port))
	}
	opts.Rules = []external.Rule{
		external.MustRule(`.*(Jupyter Notebook .* is running at:)`, slog.LevelInfo),
		external.MustRule(`.*(https?://\S+)`, slog.LevelInfo),
		external.MustRule(`\[.*\] ERROR \| (.*)`, slog.LevelError),
		external.MustRule(`\[.*\] WARNING \| (.*)`, slog.LevelWarn),
		external.MustRule(`\[.*\] (.*)`, slog.LevelDebug),
	}
	if opts.Env == nil {
		opts.Env = map[string]string{}
	}
	opts.Env["SCHRODINGER_ALLOW_UNSAFE_MULTIPROCESSING"] = "1"

	v, err := a.Venv()
	if err != nil {
		return nil, err
	}
	argv := append([]string{"jupyter", "lab", "-y", "--no-browser"}, args...)
	return v.Command(argv, opts)
}

// Update installs the given specs into the venv, or refreshes the
// pre-defined requirements when no specs are given.
func (a *Adapter) Update(specs []string) error {
	v, err := a.Venv()
	if err != nil {
		return err
	}
	if len(specs) > 0 {
		return v.Pip(nil, specs, a.options())
	}
	return a.installRequirements()
}

func (a *Adapter) options() external.Options {
	return external.Options{Logger: a.logger}
}

func hasFlag(args []string, prefix string) bool {
	for _, a := range args {
		if len(a) >= len(prefix) && a[:len(prefix)] == prefix {
			return true
		}
	}
	return false
}

func envList(env map[string]string) []string {
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	return out
}
