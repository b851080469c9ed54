package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestResolveSecretFromEnv(t *testing.T) {
	t.Setenv("FLUME_TEST_SECRET", "plain-value")
	t.Setenv("FLUME_TEST_SECRET_FILE", "")

	got, err := ResolveSecret("FLUME_TEST_SECRET")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "plain-value" {
		t.Errorf("expected plain-value, got %q", got)
	}
}

func TestResolveSecretFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "secret")
	if err := os.WriteFile(path, []byte("  file-value\n"), 0o600); err != nil {
		t.Fatalf("write secret file: %v", err)
	}
	t.Setenv("FLUME_TEST_SECRET", "ignored")
	t.Setenv("FLUME_TEST_SECRET_FILE", path)

	got, err := ResolveSecret("FLUME_TEST_SECRET")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "file-value" {
		t.Errorf("expected trimmed file content to win over env, got %q", got)
	}
}

func TestResolveSecretMissingFile(t *testing.T) {
	t.Setenv("FLUME_TEST_SECRET", "")
	t.Setenv("FLUME_TEST_SECRET_FILE", filepath.Join(t.TempDir(), "does-not-exist"))

	if _, err := ResolveSecret("FLUME_TEST_SECRET"); err == nil {
		t.Error("expected error for unreadable secret file")
	}
}

func TestResolveSecretUnset(t *testing.T) {
	t.Setenv("FLUME_TEST_SECRET", "")
	t.Setenv("FLUME_TEST_SECRET_FILE", "")

	got, err := ResolveSecret("FLUME_TEST_SECRET")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "" {
		t.Errorf("expected empty string for unset secret, got %q", got)
	}
}

func TestResolveSecretEmptyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "secret")
	if err := os.WriteFile(path, []byte("\n"), 0o600); err != nil {
		t.Fatalf("write secret file: %v", err)
	}
	t.Setenv("FLUME_TEST_SECRET", "")
	t.Setenv("FLUME_TEST_SECRET_FILE", path)

	got, err := ResolveSecret("FLUME_TEST_SECRET")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "" {
		t.Errorf("expected empty string for whitespace-only file, got %q", got)
	}
}
