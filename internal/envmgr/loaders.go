package envmgr

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/jackzzs-lab/pyTCM/internal/external"
)

// Config supplies optional initializer-script locations for the named
// loaders. A nil Config skips that discovery step.
type Config interface {
	Get(key string) string
}

// Spack manages the environment of a spack package-manager profile.
type Spack struct {
	*Manager
}

// NewSpack sources the spack initialization script and caches the resulting
// environment. The script is discovered from initScript, the
// "envmgr.spack.init" config key, or $SPACK_ROOT, in that order.
func NewSpack(cfg Config, initScript string, opts external.Options) (*Spack, error) {
	m := New(false, nil)
	initScript = discoverInit(cfg, initScript, "envmgr.spack.init", "SPACK_ROOT", "share/spack/setup-env.sh")
	if initScript == "" {
		return nil, &ConfigError{Msg: "envmgr: spack can not be found automatically, and no init script was provided"}
	}
	if err := m.Update("source "+external.Quote(initScript)+" >/dev/null", true, opts); err != nil {
		return nil, &ConfigError{Msg: "envmgr: failed to load spack init script", Err: err}
	}
	return &Spack{m}, nil
}

// Load applies "spack load" for the given specs to the cached environment.
func (s *Spack) Load(specs []string, opts external.Options) error {
	specStr := external.QuoteCommand(specs)
	if err := s.Update("spack load "+specStr, false, opts); err != nil {
		return &ConfigError{Msg: fmt.Sprintf("envmgr: failed to load spack specs %q", strings.Join(specs, " ")), Err: err}
	}
	return nil
}

// Module manages the environment of an environment-modules system.
type Module struct {
	*Manager
}

// NewModule sources the module system initialization script, discovered from
// initScript, the "envmgr.module.init" config key, or $MODULESHOME.
func NewModule(cfg Config, initScript string, opts external.Options) (*Module, error) {
	m := New(false, nil)
	initScript = discoverInit(cfg, initScript, "envmgr.module.init", "MODULESHOME", "init/profile")
	if initScript == "" {
		return nil, &ConfigError{Msg: "envmgr: module can not be found automatically, and no init script was provided"}
	}
	if err := m.Update("source "+external.Quote(initScript)+" >/dev/null", true, opts); err != nil {
		return nil, &ConfigError{Msg: "envmgr: failed to load module init script", Err: err}
	}
	return &Module{m}, nil
}

// Load applies "module load" for the given specs to the cached environment.
func (m *Module) Load(specs []string, opts external.Options) error {
	specStr := external.QuoteCommand(specs)
	if err := m.Update("module load "+specStr, false, opts); err != nil {
		return &ConfigError{Msg: fmt.Sprintf("envmgr: failed to load module specs %q", strings.Join(specs, " ")), Err: err}
	}
	return nil
}

// Venv manages the environment of a python virtualenv.
type Venv struct {
	*Manager
}

// NewVenv sources the virtualenv activation script at activate, inheriting
// the ambient environment first as "source bin/activate" itself would.
func NewVenv(activate string, opts external.Options) (*Venv, error) {
	if info, err := os.Stat(activate); err != nil || info.IsDir() {
		return nil, &ConfigError{Msg: fmt.Sprintf("envmgr: venv init shell script %q is not found", activate)}
	}
	m := New(true, nil)
	if err := m.Update("source "+external.Quote(activate)+" >/dev/null", false, opts); err != nil {
		return nil, &ConfigError{Msg: "envmgr: failed to load venv init script", Err: err}
	}
	return &Venv{m}, nil
}

// Pip runs a pip operation (default "install -U") with the given arguments
// inside the virtualenv, reporting whether it succeeded.
func (v *Venv) Pip(operation, args []string, opts external.Options) error {
	if operation == nil {
		operation = []string{"install", "-U"}
	}
	argv := append([]string{"pip", "--disable-pip-version-check"}, operation...)
	argv = append(argv, args...)
	proc, err := v.Command(argv, opts)
	if err != nil {
		return err
	}
	if code := proc.Wait(); code != 0 {
		return &external.ExitError{Code: code, Command: proc.Command(20)}
	}
	return nil
}

// discoverInit resolves an initializer script from the explicit argument,
// a config key, then a well-known environment variable joined with a
// conventional relative path.
func discoverInit(cfg Config, explicit, key, envVar, rel string) string {
	if explicit != "" {
		return explicit
	}
	if cfg != nil {
		if v := cfg.Get(key); v != "" {
			return v
		}
	}
	if root := os.Getenv(envVar); root != "" {
		return filepath.Join(root, rel)
	}
	return ""
}
