// cmd/scholarnav/main_test.go
package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	apperrors "github.com/valpere/ScholarNav/internal/errors"
)

func TestCLIVersion(t *testing.T) {
	version = "test-version"
	buildTime = "2025-06-23"
	gitCommit = "abc123"

	var stdout, stderr bytes.Buffer
	if code := execute(context.Background(), []string{"version"}, &stdout, &stderr); code != 0 {
		t.Fatalf("expected exit 0, got %d: %s", code, stderr.String())
	}

	for _, want := range []string{"test-version", "2025-06-23", "abc123"} {
		if !strings.Contains(stdout.String(), want) {
			t.Errorf("version output should contain %q, got: %s", want, stdout.String())
		}
	}
}

func TestCLIHelp(t *testing.T) {
	var stdout, stderr bytes.Buffer
	if code := execute(context.Background(), []string{"--help"}, &stdout, &stderr); code != 0 {
		t.Fatalf("expected exit 0, got %d", code)
	}

	for _, cmd := range []string{"fetch", "check-proxy", "serve", "version", "--embedded-tor", "--config"} {
		if !strings.Contains(stdout.String(), cmd) {
			t.Errorf("help output should contain %q, got: %s", cmd, stdout.String())
		}
	}
}

func TestCLIExitCodes(t *testing.T) {
	dir := t.TempDir()
	broken := filepath.Join(dir, "broken.yaml")
	if err := os.WriteFile(broken, []byte("max_retries: [1, 2\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	invalid := filepath.Join(dir, "invalid.yaml")
	if err := os.WriteFile(invalid, []byte("primary:\n  mode: carrier_pigeon\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name     string
		args     []string
		wantCode int
		wantText string
	}{
		{"missing config file", []string{"fetch", "--config", filepath.Join(dir, "nope.yaml"), "http://scholar.test/"}, apperrors.ExitConfiguration, "Configuration Error"},
		{"yaml syntax", []string{"fetch", "-c", broken, "http://scholar.test/"}, apperrors.ExitConfiguration, "invalid YAML"},
		{"unknown mode", []string{"check-proxy", "-c", invalid}, apperrors.ExitConfiguration, "Configuration Error"},
		{"invalid url", []string{"fetch", "not a url"}, apperrors.ExitConfiguration, "Configuration Error"},
		{"missing argument", []string{"fetch"}, apperrors.ExitGeneral, "Unexpected Error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var stdout, stderr bytes.Buffer
			code := execute(context.Background(), tt.args, &stdout, &stderr)
			if code != tt.wantCode {
				t.Errorf("expected exit %d, got %d (stderr: %s)", tt.wantCode, code, stderr.String())
			}
			if !strings.Contains(stderr.String(), tt.wantText) {
				t.Errorf("expected %q in stderr, got: %s", tt.wantText, stderr.String())
			}
		})
	}
}
