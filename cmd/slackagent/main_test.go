package main

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestBuildRootCmdIncludesSubcommands(t *testing.T) {
	cmd := buildRootCmd()
	names := map[string]bool{}
	for _, sub := range cmd.Commands() {
		names[sub.Name()] = true
	}

	for _, name := range []string{"serve", "tools", "config", "version"} {
		if !names[name] {
			t.Fatalf("expected subcommand %q to be registered", name)
		}
	}
}

func TestToolsCommandListsWeather(t *testing.T) {
	cmd := buildRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"tools"})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if !strings.Contains(out.String(), "get_current_weather") {
		t.Fatalf("output = %q", out.String())
	}
}

func TestConfigSchemaCommand(t *testing.T) {
	cmd := buildRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"config", "schema"})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if !json.Valid(out.Bytes()) {
		t.Fatalf("schema is not valid JSON: %q", out.String())
	}
}

func TestResolveConfigPath(t *testing.T) {
	t.Setenv("SLACKAGENT_CONFIG", "/etc/slackagent.yaml")
	if got := resolveConfigPath("local.yaml"); got != "local.yaml" {
		t.Fatalf("flag should win, got %q", got)
	}
	if got := resolveConfigPath(""); got != "/etc/slackagent.yaml" {
		t.Fatalf("env fallback = %q", got)
	}
}
