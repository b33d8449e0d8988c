package commands

import (
	"bytes"
	"strings"
	"testing"
)

func TestNewRootCommand(t *testing.T) {
	cmd := NewRootCommand()

	if cmd.Use != "persist" {
		t.Errorf("expected Use to be 'persist', got %s", cmd.Use)
	}

	if cmd.Short == "" {
		t.Error("expected Short description to be set")
	}

	if cmd.Long == "" {
		t.Error("expected Long description to be set")
	}

	expectedCommands := []string{
		"version",
		"mapping",
		"query",
	}

	for _, expected := range expectedCommands {
		found := false
		for _, cmd := range cmd.Commands() {
			if cmd.Name() == expected {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("expected command %s to be registered", expected)
		}
	}

	for _, flag := range []string{"config", "verbose", "no-color"} {
		if cmd.PersistentFlags().Lookup(flag) == nil {
			t.Errorf("expected persistent flag --%s", flag)
		}
	}
}

func TestVersionCommand(t *testing.T) {
	Version = "1.0.0-test"
	GitCommit = "abc123"
	BuildDate = "2025-01-01"
	GoVersion = "go1.23"

	stdout, _, err := runCLI(t, "version")
	if err != nil {
		t.Fatalf("version failed: %v", err)
	}

	for _, want := range []string{"persist version: 1.0.0-test", "Git commit: abc123", "Build date: 2025-01-01", "Go version: go1.23"} {
		if !strings.Contains(stdout, want) {
			t.Errorf("expected output to contain %q, got:\n%s", want, stdout)
		}
	}
}

func TestLoadEnvironment(t *testing.T) {
	configPath := testProject(t, testMapping, "")
	cfgFile = configPath
	verbose = false
	defer func() { cfgFile = "" }()

	env, err := loadEnvironment(NewRootCommand())
	if err != nil {
		t.Fatalf("loadEnvironment failed: %v", err)
	}
	if env.config.Unit.Name != "test" {
		t.Errorf("expected unit name 'test', got %s", env.config.Unit.Name)
	}
	if env.registry.Count() != 3 {
		t.Errorf("expected 3 entities, got %d", env.registry.Count())
	}
	if !env.registry.Sealed() {
		t.Error("expected a sealed registry")
	}
}

func TestLoadEnvironmentMissingMapping(t *testing.T) {
	configPath := testProject(t, testMapping, "")
	cfgFile = configPath + ".missing"
	defer func() { cfgFile = "" }()

	cmd := NewRootCommand()
	var stderr bytes.Buffer
	cmd.SetErr(&stderr)
	if _, err := loadEnvironment(cmd); err == nil {
		t.Error("expected an error for a missing configuration file")
	}
	if !strings.Contains(stderr.String(), "CONFIGURATION ERROR") {
		t.Errorf("expected a configuration error report, got %q", stderr.String())
	}
}

func TestNewLogger(t *testing.T) {
	verbose = false
	if newLogger().Core().Enabled(-1) {
		t.Error("expected a no-op logger without --verbose")
	}

	verbose = true
	defer func() { verbose = false }()
	if !newLogger().Core().Enabled(-1) {
		t.Error("expected debug logging with --verbose")
	}
}
