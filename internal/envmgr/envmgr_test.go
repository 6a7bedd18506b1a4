package envmgr

import (
	"errors"
	"reflect"
	"testing"

	"github.com/jackzzs-lab/pyTCM/internal/external"
)

func TestUpdate_HarvestsSourcedVariables(t *testing.T) {
	m := New(false, nil)
	m.DumpCommand = `printf '{"FOO": "%s"}' "$FOO"`

	if err := m.Update("export FOO=bar", false, external.Options{}); err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if got := m.Env()["FOO"]; got != "bar" {
		t.Errorf("expected FOO=bar in cached env, got %q", got)
	}
}

func TestUpdate_FailingCommand(t *testing.T) {
	m := New(false, map[string]string{"KEEP": "1"})
	m.DumpCommand = `echo '{"KEEP": "2"}'`

	err := m.Update("false", false, external.Options{})
	if err == nil {
		t.Fatal("expected error for failing sourcing command")
	}
	var cfgErr *ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected *ConfigError, got %T: %v", err, err)
	}
	if got := m.Env()["KEEP"]; got != "1" {
		t.Errorf("cached env mutated by failed update: KEEP=%q", got)
	}
}

func TestUpdate_InvalidDump(t *testing.T) {
	m := New(false, nil)
	m.DumpCommand = `echo not-json`

	err := m.Update("true", false, external.Options{})
	var cfgErr *ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected *ConfigError for invalid dump, got %v", err)
	}
}

func TestUpdate_CleanEnvironment(t *testing.T) {
	t.Setenv("PYTCM_LEAK", "leaked")
	m := New(false, nil)
	m.DumpCommand = `printf '{"PYTCM_LEAK": "%s"}' "${PYTCM_LEAK:-}"`

	if err := m.Update("true", true, external.Options{}); err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if got := m.Env()["PYTCM_LEAK"]; got != "" {
		t.Errorf("expected clean environment, leaked %q", got)
	}
}

func TestShellCommand_ShellNotFound(t *testing.T) {
	m := New(false, nil)
	m.Shell = "definitely-missing-shell-xyz"

	if _, err := m.ShellCommand("true", false, external.Options{}); err == nil {
		t.Fatal("expected error for missing shell executable")
	}
}

func TestCommand_CachedSetWins(t *testing.T) {
	m := New(false, map[string]string{"PYTCM_TEST": "cached"})

	proc, err := m.Command([]string{"sh", "-c", "echo $PYTCM_TEST"},
		external.Options{Env: map[string]string{"PYTCM_TEST": "caller"}})
	if err != nil {
		t.Fatalf("Command failed: %v", err)
	}
	results, err := proc.Results()
	if err != nil {
		t.Fatalf("Results failed: %v", err)
	}
	if !reflect.DeepEqual(results, []string{"cached"}) {
		t.Errorf("expected cached value to win, got %v", results)
	}
}

func TestCommand_EmptyCacheInheritsAmbient(t *testing.T) {
	t.Setenv("PYTCM_AMBIENT", "from-parent")
	m := New(false, nil)

	proc, err := m.Command([]string{"sh", "-c", "echo $PYTCM_AMBIENT"}, external.Options{})
	if err != nil {
		t.Fatalf("Command failed: %v", err)
	}
	results, err := proc.Results()
	if err != nil {
		t.Fatalf("Results failed: %v", err)
	}
	if !reflect.DeepEqual(results, []string{"from-parent"}) {
		t.Errorf("expected ambient fallback, got %v", results)
	}
}

func TestNew_Inherit(t *testing.T) {
	t.Setenv("PYTCM_INHERITED", "yes")
	m := New(true, nil)
	if got := m.Env()["PYTCM_INHERITED"]; got != "yes" {
		t.Errorf("expected inherited variable, got %q", got)
	}
}

func TestNewSpack_NotDiscoverable(t *testing.T) {
	t.Setenv("SPACK_ROOT", "")
	_, err := NewSpack(nil, "", external.Options{})
	var cfgErr *ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected *ConfigError, got %v", err)
	}
}

func TestNewModule_NotDiscoverable(t *testing.T) {
	t.Setenv("MODULESHOME", "")
	_, err := NewModule(nil, "", external.Options{})
	var cfgErr *ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected *ConfigError, got %v", err)
	}
}

func TestNewSpack_BadInitScript(t *testing.T) {
	_, err := NewSpack(nil, "/nonexistent/setup-env.sh", external.Options{})
	var cfgErr *ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected *ConfigError for failing init script, got %v", err)
	}
}

func TestNewVenv_MissingActivateScript(t *testing.T) {
	_, err := NewVenv("/nonexistent/bin/activate", external.Options{})
	var cfgErr *ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected *ConfigError, got %v", err)
	}
}

type fakeConfig map[string]string

func (f fakeConfig) Get(key string) string { return f[key] }

func TestDiscoverInit_Order(t *testing.T) {
	t.Setenv("SPACK_ROOT", "/from/env")
	cfg := fakeConfig{"envmgr.spack.init": "/from/config.sh"}

	if got := discoverInit(cfg, "/explicit.sh", "envmgr.spack.init", "SPACK_ROOT", "share/spack/setup-env.sh"); got != "/explicit.sh" {
		t.Errorf("explicit script should win, got %q", got)
	}
	if got := discoverInit(cfg, "", "envmgr.spack.init", "SPACK_ROOT", "share/spack/setup-env.sh"); got != "/from/config.sh" {
		t.Errorf("config key should come before envvar, got %q", got)
	}
	if got := discoverInit(nil, "", "envmgr.spack.init", "SPACK_ROOT", "share/spack/setup-env.sh"); got != "/from/env/share/spack/setup-env.sh" {
		t.Errorf("envvar fallback not used, got %q", got)
	}
}
