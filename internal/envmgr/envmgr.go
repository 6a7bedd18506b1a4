// Package envmgr caches sets of environment variables harvested from shell
// initialization scripts, so that environments normally visible only inside a
// sub-shell (spack profiles, module systems, virtualenvs) can be applied to
// subsequently spawned externals.
package envmgr

import (
	"encoding/json"
	"fmt"
	"maps"
	"os"
	"os/exec"
	"strings"

	"github.com/jackzzs-lab/pyTCM/internal/external"
)

// dumpEnvCommand prints the interpreter environment as one trailing JSON
// object; it runs after the sourcing command inside the same shell.
const dumpEnvCommand = `python3 -c 'import os, json; print(json.dumps(dict(os.environ)))'`

// ConfigError reports an environment manager that could not be configured:
// a missing initializer script, a failed sourcing command, or a harvested
// environment that did not parse.
type ConfigError struct {
	Msg string
	Err error
}

func (e *ConfigError) Error() string {
	if e.Err != nil {
		return e.Msg + ": " + e.Err.Error()
	}
	return e.Msg
}

func (e *ConfigError) Unwrap() error { return e.Err }

// Manager holds a cached environment-variable set and spawns externals with
// it applied. Methods mutating the set are not safe for concurrent use;
// callers serialize configuration of a given manager.
type Manager struct {
	// Shell is the executable used for shell-mode commands. Defaults to
	// "bash".
	Shell string

	// DumpCommand overrides the helper printing the environment as JSON
	// after a sourcing command. Defaults to a python one-liner.
	DumpCommand string

	env map[string]string
}

// New returns a manager seeded from seed, optionally inheriting the ambient
// process environment first.
func New(inherit bool, seed map[string]string) *Manager {
	env := make(map[string]string)
	if inherit {
		maps.Copy(env, environMap())
	}
	maps.Copy(env, seed)
	return &Manager{env: env}
}

// Env returns a copy of the cached environment set.
func (m *Manager) Env() map[string]string {
	out := make(map[string]string, len(m.env))
	maps.Copy(out, m.env)
	return out
}

// Command spawns argv through the process runner with the cached set merged
// over the caller-supplied environment; cached values win on conflicts. An
// empty cache falls back to the ambient process environment.
func (m *Manager) Command(argv []string, opts external.Options) (*external.External, error) {
	merged := make(map[string]string, len(opts.Env)+len(m.env))
	maps.Copy(merged, opts.Env)
	if len(m.env) > 0 {
		maps.Copy(merged, m.env)
	} else {
		maps.Copy(merged, environMap())
	}
	opts.Env = merged
	return external.Start(argv, opts)
}

// ShellCommand runs cmd in shell mode: through the shell with interactive rc
// files disabled, from a fully clean environment when clean is set. It fails
// when the shell executable is absent from the search path.
func (m *Manager) ShellCommand(cmd string, clean bool, opts external.Options) (*external.External, error) {
	shell := m.Shell
	if shell == "" {
		shell = "bash"
	}
	if _, err := exec.LookPath(shell); err != nil {
		return nil, fmt.Errorf("envmgr: %q is not found in PATH, note this toolbox is for linux only: %w", shell, err)
	}
	var argv []string
	if clean {
		argv = append(argv, "env", "-i")
	}
	argv = append(argv, shell, "--norc", "--noprofile", "-c", cmd)
	return m.Command(argv, opts)
}

// Update runs cmd in shell mode followed by an environment dump and merges
// the harvested variables into the cached set: new keys are added, existing
// keys overwritten. The cache is untouched unless the command exits zero and
// the dump parses as JSON.
func (m *Manager) Update(cmd string, clean bool, opts external.Options) error {
	dump := m.DumpCommand
	if dump == "" {
		dump = dumpEnvCommand
	}
	proc, err := m.ShellCommand(cmd+" && "+dump, clean, opts)
	if err != nil {
		return err
	}
	if code := proc.Wait(); code != 0 {
		return &ConfigError{Msg: fmt.Sprintf("envmgr: failed to update env from script (exit code %d)", code)}
	}
	harvested, err := parseTrailingJSON(proc.Lines())
	if err != nil {
		return &ConfigError{Msg: "envmgr: failed to update env from script, invalid env", Err: err}
	}
	maps.Copy(m.env, harvested)
	return nil
}

// parseTrailingJSON decodes the last non-empty stdout line, which the dump
// helper prints after the sourcing command succeeded.
func parseTrailingJSON(lines []string) (map[string]string, error) {
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(lines[i])
		if line == "" {
			continue
		}
		var env map[string]string
		if err := json.Unmarshal([]byte(line), &env); err != nil {
			return nil, err
		}
		return env, nil
	}
	return nil, fmt.Errorf("no environment dump in command output")
}

func environMap() map[string]string {
	out := make(map[string]string)
	for _, kv := range os.Environ() {
		if k, v, ok := strings.Cut(kv, "="); ok {
			out[k] = v
		}
	}
	return out
}
